// Package model 定义 reconciler 中使用的核心数据结构。
// 包含赔率行、实时更新通知、变化记录、机会行等核心类型。
package model

import (
	"time"
)

// Scope 赔率 feed 的比赛状态分区（由后端定义）
const (
	// ScopePregame 赛前
	ScopePregame = "pregame"
	// ScopeLive 滚球
	ScopeLive = "live"
)

// ConnState 实时连接状态
type ConnState string

const (
	// StateConnecting 首次连接中
	StateConnecting ConnState = "connecting"
	// StateConnected 已连接
	StateConnected ConnState = "connected"
	// StateReconnecting 断线重连中
	StateReconnecting ConnState = "reconnecting"
	// StateFailed 重连次数耗尽，终态；需要上层提示用户手动刷新
	StateFailed ConnState = "failed"
)

// UpdateNotification SSE 推送的更新通知
// 形如 {"type":"update","keys":[...],"count":2,"timestamp":1700000000000}
// 通知本身不携带赔率数据，仅告知哪些 key 发生了变化。
type UpdateNotification struct {
	// Type 消息类型，目前仅处理 "update"
	Type string `json:"type"`
	// Keys 变化的更新 key 列表，格式 odds:{sport}:{eventId}:{market}:{book}
	Keys []string `json:"keys"`
	// Count 本批变化数量
	Count int `json:"count"`
	// Timestamp 后端生成通知的时间戳（毫秒）
	Timestamp int64 `json:"timestamp"`
	// ArrivedAtUnixNs 本机收到通知的时间戳（纳秒），用于刷新时延统计
	ArrivedAtUnixNs int64 `json:"-"`
}

// OddsRow 一条展示实体的最新赔率快照
// 对应表格中的一个格子或收藏列表中的一个选项。
// StableKey 是稳定标识：展示的 line 数值变化时 StableKey 不变（key 与 value 分离）。
type OddsRow struct {
	// StableKey 稳定标识，如 nba:evt123:Jayson Tatum:player_points:over
	StableKey string `json:"stable_key"`
	// Sport 运动标识，如 nba
	Sport string `json:"sport"`
	// EventID 比赛标识
	EventID string `json:"event_id"`
	// Player 球员名
	Player string `json:"player"`
	// Market 盘口标识，如 player_points
	Market string `json:"market"`
	// Line 盘口线值
	Line float64 `json:"line"`
	// Side 方向: over 或 under
	Side string `json:"side"`
	// BestPrice 全场最优价格（American odds，如 -110、+120）
	BestPrice float64 `json:"best_price"`
	// BestBook 提供最优价格的 sportsbook
	BestBook string `json:"best_book"`
	// Books 所有 sportsbook 的价格（book -> American odds）
	Books map[string]float64 `json:"books,omitempty"`
	// UpdatedAtUnixMs 后端最后更新时间（毫秒）
	UpdatedAtUnixMs int64 `json:"updated_at_unix_ms"`
}

// IsValid 检查赔率行是否有效
// 有效条件: StableKey 非空且 BestPrice 非 0（American odds 不存在 0）
func (r *OddsRow) IsValid() bool {
	return r.StableKey != "" && r.BestPrice != 0
}

// UpdatedAt 获取后端更新时间的 time.Time 表示
// 若 UpdatedAtUnixMs 为 0，返回零值
func (r *OddsRow) UpdatedAt() time.Time {
	if r.UpdatedAtUnixMs == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.UpdatedAtUnixMs)
}

// Clone 创建 OddsRow 的深拷贝
// 缓存写入时使用，避免调用方后续修改污染缓存。
func (r *OddsRow) Clone() *OddsRow {
	clone := *r
	if r.Books != nil {
		clone.Books = make(map[string]float64, len(r.Books))
		for book, px := range r.Books {
			clone.Books[book] = px
		}
	}
	return &clone
}
