// Package relevance 实现更新通知的相关性过滤。
// 判断一批推送 key 是否影响当前展示的任何一行：
// 将更新 key 去掉 book 段后，与订阅 base key 集合比较。
package relevance

import (
	"odds-feed-reconciler/internal/core/keys"
	"odds-feed-reconciler/internal/core/model"
)

// SubscriptionSet 订阅 base key 集合
// 始终由当前展示的行列表整体重建（Rebuild），不做增量增删，避免漂移累积。
type SubscriptionSet struct {
	// bases base key 字符串 -> 存在标记
	bases map[string]struct{}
}

// NewSubscriptionSet 创建空订阅集合
func NewSubscriptionSet() *SubscriptionSet {
	return &SubscriptionSet{bases: make(map[string]struct{})}
}

// Rebuild 由当前行列表整体重建订阅集合
// 参数 rows: 当前展示的赔率行（来自收藏列表或可见表格行）
// 行列表变化（导航、过滤条件变化）时必须调用。
func (s *SubscriptionSet) Rebuild(rows []*model.OddsRow) {
	bases := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if row == nil || row.Sport == "" || row.EventID == "" || row.Market == "" {
			continue
		}
		bases[keys.BaseOf(row.Sport, row.EventID, row.Market).String()] = struct{}{}
	}
	s.bases = bases
}

// Contains 判断 base key 是否被订阅
func (s *SubscriptionSet) Contains(base keys.BaseKey) bool {
	_, ok := s.bases[base.String()]
	return ok
}

// Len 获取订阅数量
func (s *SubscriptionSet) Len() int {
	return len(s.bases)
}

// Relevant 过滤出影响当前订阅的更新 key
// 参数 rawKeys: 通知中的原始 key 列表
// 返回: 解析成功且 base key 被订阅的 key 子集
// 段数不足的 key 按不匹配处理（防御性拒绝，不算错误）。
// 空通知或空订阅集合直接短路返回 nil。
func (s *SubscriptionSet) Relevant(rawKeys []string) []keys.UpdateKey {
	if len(rawKeys) == 0 || len(s.bases) == 0 {
		return nil
	}

	var matched []keys.UpdateKey
	for _, raw := range rawKeys {
		k, err := keys.Parse(raw)
		if err != nil {
			continue
		}
		if s.Contains(k.Base()) {
			matched = append(matched, k)
		}
	}
	return matched
}
