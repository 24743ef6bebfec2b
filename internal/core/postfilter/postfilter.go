// Package postfilter 实现机会行的客户端二次过滤。
// 预设模式下大部分谓词在客户端执行（开关即时响应）；
// 自定义 blend 模式下大部分谓词已由后端应用，客户端只跑残余谓词，
// 避免重复过滤。模式通过显式标签变体传入，在此处做穷尽分支。
package postfilter

import (
	"strings"

	"odds-feed-reconciler/internal/core/model"
)

// Criteria 客户端过滤条件
type Criteria struct {
	// Sports 允许的运动集合，空表示不限
	Sports []string
	// Markets 允许的盘口集合，空表示不限
	Markets []string
	// MinEdgePct 最小 edge 百分比阈值
	MinEdgePct float64
	// OddsMin 允许的最小价格（American odds）
	OddsMin float64
	// OddsMax 允许的最大价格（American odds），0 表示不限
	OddsMax float64
	// Search 自由文本搜索（球员名/比赛，大小写不敏感）
	Search string
	// ExcludedBooks 排除的 sportsbook 集合
	ExcludedBooks []string
	// ExcludeCollege 是否排除大学球员盘口
	ExcludeCollege bool
	// HiddenKeys 用户手动隐藏的复合 key 集合
	HiddenKeys map[string]bool
}

// Apply 对机会行列表应用过滤条件
// 参数 mode: 过滤模式（preset 或 custom_blend）
// 参数 c: 过滤条件
// 参数 rows: 待过滤的机会行
// 返回: 通过全部谓词的行；逐行短路于第一个失败的谓词
func Apply(mode model.FilterMode, c Criteria, rows []model.Opportunity) []model.Opportunity {
	if len(rows) == 0 {
		return nil
	}

	out := make([]model.Opportunity, 0, len(rows))
	for _, opp := range rows {
		if keep(mode, c, &opp) {
			out = append(out, opp)
		}
	}
	return out
}

// keep 判断单行是否通过过滤
// 对模式做穷尽分支：这里是唯一消费 Kind 的位置。
func keep(mode model.FilterMode, c Criteria, opp *model.Opportunity) bool {
	switch mode.Kind {
	case model.ModePreset:
		// 预设模式：全量谓词级联，逐个短路
		if !sportAllowed(c, opp) {
			return false
		}
		if opp.EdgePct < c.MinEdgePct {
			return false
		}
		if !oddsInRange(c, opp) {
			return false
		}
		if !marketAllowed(c, opp) {
			return false
		}
		if !searchMatches(c, opp) {
			return false
		}
		if bookExcluded(c, opp) {
			return false
		}
		if c.ExcludeCollege && opp.IsCollege {
			return false
		}
		return !hidden(c, opp)

	case model.ModeCustomBlend:
		// blend 模式：运动/edge/价格区间/盘口由后端已过滤，
		// 客户端只跑搜索、book 排除与隐藏标记
		if !searchMatches(c, opp) {
			return false
		}
		if bookExcluded(c, opp) {
			return false
		}
		return !hidden(c, opp)

	default:
		// 未知模式按最保守处理：不展示任何行
		return false
	}
}

func sportAllowed(c Criteria, opp *model.Opportunity) bool {
	if len(c.Sports) == 0 {
		return true
	}
	for _, s := range c.Sports {
		if s == opp.Sport {
			return true
		}
	}
	return false
}

func marketAllowed(c Criteria, opp *model.Opportunity) bool {
	if len(c.Markets) == 0 {
		return true
	}
	for _, m := range c.Markets {
		if m == opp.Market {
			return true
		}
	}
	return false
}

func oddsInRange(c Criteria, opp *model.Opportunity) bool {
	if c.OddsMin != 0 && opp.Price < c.OddsMin {
		return false
	}
	if c.OddsMax != 0 && opp.Price > c.OddsMax {
		return false
	}
	return true
}

func searchMatches(c Criteria, opp *model.Opportunity) bool {
	if c.Search == "" {
		return true
	}
	needle := strings.ToLower(c.Search)
	return strings.Contains(strings.ToLower(opp.Player), needle) ||
		strings.Contains(strings.ToLower(opp.EventID), needle)
}

func bookExcluded(c Criteria, opp *model.Opportunity) bool {
	for _, b := range c.ExcludedBooks {
		if b == opp.Book {
			return true
		}
	}
	return false
}

func hidden(c Criteria, opp *model.Opportunity) bool {
	if len(c.HiddenKeys) == 0 {
		return false
	}
	return c.HiddenKeys[opp.DedupKey()]
}
