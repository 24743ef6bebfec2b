// Package merge 实现多过滤配置结果的合并去重。
// 多预设模式下各预设并行请求后端，结果按复合 key
// eventId:player:market:line:side 去重，冲突时保留 edge 更高的一条，
// 输出按 edge 降序排列。纯函数，无 I/O。
package merge

import (
	"sort"

	"odds-feed-reconciler/internal/core/model"
)

// TaggedList 一个过滤配置的请求结果
type TaggedList struct {
	// Source 来源过滤配置元数据（id、名称、颜色）
	Source model.FilterSource
	// Rows 该配置返回的机会行
	Rows []model.Opportunity
}

// Merge 合并多个过滤配置的结果为单一去重列表
// 参数 lists: 各配置的结果，顺序即先后次序
// 返回: 按 EdgePct 降序的去重列表
//
// 保证:
// - 输出不含两条复合 key 相同的行
// - key 冲突保留 EdgePct 更高的一条，相等保留先见的一条
// - 输出长度 <= 输入长度之和，无重复 key 时取等号
// - 幂等: Merge(x, x) 与 Merge(x) 结果一致
func Merge(lists ...TaggedList) []model.Opportunity {
	// byKey 记录每个复合 key 当前胜出的行下标
	byKey := make(map[string]int)
	out := make([]model.Opportunity, 0)

	for _, list := range lists {
		for _, opp := range list.Rows {
			opp.Source = list.Source
			key := opp.DedupKey()

			idx, seen := byKey[key]
			if !seen {
				byKey[key] = len(out)
				out = append(out, opp)
				continue
			}
			// 冲突：仅在 edge 严格更高时替换，相等保留先见
			if opp.EdgePct > out[idx].EdgePct {
				out[idx] = opp
			}
		}
	}

	// 按 edge 降序；SliceStable 保证相等 edge 保持先见次序
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EdgePct > out[j].EdgePct
	})

	return out
}
