// Package api 定义后端 REST 接口的请求与响应结构。
// 后端是外部黑盒，本层只按文档化的 HTTP 契约取数，
// 不做任何赔率/EV 计算。
package api

import (
	"odds-feed-reconciler/internal/core/model"
)

// PropsQuery props 表格查询参数
// GET /api/v2/props/table
type PropsQuery struct {
	// Sport 运动标识
	Sport string
	// Market 盘口标识，可为空
	Market string
	// Scope 比赛状态分区: pregame 或 live
	Scope string
	// Limit 单页行数上限
	Limit int
	// Cursor 翻页游标，首页为空
	Cursor string
}

// PropsTableItem props 表格中的一个批次项
// Row 可能缺失（后端部分数据缺损），缺失项单独跳过，不中断整批。
type PropsTableItem struct {
	// Row 赔率行，可能为 nil
	Row *model.OddsRow `json:"row"`
}

// PropsMeta props 表格响应元信息
type PropsMeta struct {
	// DurationMs 后端处理耗时（毫秒）
	DurationMs float64 `json:"duration_ms"`
}

// PropsTableResponse props 表格响应
type PropsTableResponse struct {
	// Rows 批次项列表
	Rows []PropsTableItem `json:"rows"`
	// NextCursor 下一页游标，空表示无更多
	NextCursor string `json:"nextCursor"`
	// Meta 元信息
	Meta PropsMeta `json:"meta"`
}

// OppQuery 机会查询参数
// GET /api/v2/opportunities
type OppQuery struct {
	// Sports 运动列表
	Sports []string
	// Markets 盘口列表
	Markets []string
	// PresetID 预设标识（preset 模式下非空）
	PresetID string
	// Blend 自定义 blend 配置（custom_blend 模式下非 nil，序列化进 blend 参数）
	Blend *model.BlendConfig
	// MinEdgePct 最小 edge 百分比
	MinEdgePct float64
	// OddsMin 最小价格（American odds），0 表示不限
	OddsMin float64
	// OddsMax 最大价格（American odds），0 表示不限
	OddsMax float64
	// Scope 比赛状态分区
	Scope string
	// Limit 行数上限
	Limit int
}

// OpportunitiesResponse 机会查询响应
type OpportunitiesResponse struct {
	// Opportunities 机会行列表
	Opportunities []model.Opportunity `json:"opportunities"`
	// TotalScanned 后端扫描总数
	TotalScanned int `json:"total_scanned"`
	// TotalAfterFilters 后端过滤后总数
	TotalAfterFilters int `json:"total_after_filters"`
	// TimingMs 后端处理耗时（毫秒）
	TimingMs float64 `json:"timing_ms"`
}

// Selection 赔率批量查询的一个选择项
// POST /api/{sport}/hit-rates/odds 的请求体元素
type Selection struct {
	// StableKey 稳定标识
	StableKey string `json:"stableKey"`
	// Line 盘口线值
	Line float64 `json:"line"`
}

// LineOdds 一个选择项的最新赔率
type LineOdds struct {
	// Line 盘口线值
	Line float64 `json:"line"`
	// BestPrice 最优价格（American odds）
	BestPrice float64 `json:"best_price"`
	// BestBook 最优价格的 sportsbook
	BestBook string `json:"best_book"`
	// Books 各 sportsbook 的价格
	Books map[string]float64 `json:"books,omitempty"`
	// UpdatedAtUnixMs 后端更新时间（毫秒）
	UpdatedAtUnixMs int64 `json:"updated_at_unix_ms"`
}

// HitRateOddsRequest 赔率批量查询请求体
type HitRateOddsRequest struct {
	// Selections 选择项列表
	Selections []Selection `json:"selections"`
}

// HitRateOddsResponse 赔率批量查询响应
type HitRateOddsResponse struct {
	// Odds stableKey -> 最新赔率
	Odds map[string]LineOdds `json:"odds"`
}
