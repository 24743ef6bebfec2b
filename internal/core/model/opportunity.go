// Package model 定义 reconciler 中使用的核心数据结构。
package model

import (
	"strings"

	"odds-feed-reconciler/internal/util/fastparse"
)

// ModeKind 过滤模式类别
type ModeKind string

const (
	// ModePreset 预设模式：大部分谓词在客户端执行，保证开关即时响应
	ModePreset ModeKind = "preset"
	// ModeCustomBlend 自定义 blend 模式：大部分谓词已由后端应用，客户端跳过
	ModeCustomBlend ModeKind = "custom_blend"
)

// BlendConfig 自定义 blend 配置
// 以加权 sportsbook 组合作为 EV 计算的参考价格，整体发给后端。
type BlendConfig struct {
	// BookWeights book -> 权重（0-1），权重和应为 1
	BookWeights map[string]float64 `yaml:"book_weights" json:"book_weights"`
}

// FilterMode 过滤模式（显式标签变体）
// 过滤逻辑必须对 Kind 做穷尽分支，避免散落的布尔开关导致重复过滤或漏过滤。
type FilterMode struct {
	// Kind 模式类别: preset 或 custom_blend
	Kind ModeKind
	// Blend 自定义 blend 配置，仅 Kind 为 custom_blend 时非 nil
	Blend *BlendConfig
}

// PresetMode 构造预设模式
func PresetMode() FilterMode {
	return FilterMode{Kind: ModePreset}
}

// CustomBlendMode 构造自定义 blend 模式
// 参数 blend: blend 配置，不得为 nil
func CustomBlendMode(blend *BlendConfig) FilterMode {
	return FilterMode{Kind: ModeCustomBlend, Blend: blend}
}

// FilterSource 机会行来源的过滤配置元数据
// 多预设模式下用于在 UI 中标识该行来自哪个预设。
type FilterSource struct {
	// ID 过滤配置标识
	ID string `json:"id"`
	// Name 过滤配置显示名
	Name string `json:"name"`
	// Color 过滤配置显示颜色
	Color string `json:"color"`
}

// Opportunity 一条 EV 机会行
// EdgePct 由后端计算，本层只做排序与过滤，从不重新计算。
type Opportunity struct {
	// EventID 比赛标识
	EventID string `json:"event_id"`
	// Sport 运动标识
	Sport string `json:"sport"`
	// Player 球员名
	Player string `json:"player"`
	// Market 盘口标识
	Market string `json:"market"`
	// Line 盘口线值
	Line float64 `json:"line"`
	// Side 方向: over 或 under
	Side string `json:"side"`
	// Price 最优价格（American odds）
	Price float64 `json:"price"`
	// Book 提供最优价格的 sportsbook
	Book string `json:"book"`
	// EdgePct 后端计算的 edge 百分比
	EdgePct float64 `json:"edge_pct"`
	// IsCollege 是否为大学球员盘口
	IsCollege bool `json:"is_college,omitempty"`
	// Source 来源过滤配置元数据
	Source FilterSource `json:"source"`
}

// DedupKey 跨过滤配置去重使用的复合 key
// 格式: eventId:player:market:line:side
func (o *Opportunity) DedupKey() string {
	var b strings.Builder
	b.WriteString(o.EventID)
	b.WriteByte(':')
	b.WriteString(o.Player)
	b.WriteByte(':')
	b.WriteString(o.Market)
	b.WriteByte(':')
	b.WriteString(fastparse.FormatFloat(o.Line, -1))
	b.WriteByte(':')
	b.WriteString(o.Side)
	return b.String()
}
