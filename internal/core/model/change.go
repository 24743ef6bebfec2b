// Package model 定义 reconciler 中使用的核心数据结构。
package model

import (
	"time"
)

// Direction 价格变化方向
type Direction string

const (
	// DirectionUp 价格上行（curr > prev）
	DirectionUp Direction = "up"
	// DirectionDown 价格下行（curr < prev）
	DirectionDown Direction = "down"
)

// ChangeRecord 一次检测到的价格变化
// 仅用于 UI 闪烁反馈，超过 flash 窗口后自动删除，不会持久存在。
type ChangeRecord struct {
	// StableKey 变化所属实体的稳定标识
	StableKey string `json:"stable_key"`
	// PrevPrice 变化前价格（American odds）
	PrevPrice float64 `json:"prev_price"`
	// CurrPrice 变化后价格（American odds）
	CurrPrice float64 `json:"curr_price"`
	// PrevBook 变化前最优价格的 sportsbook
	PrevBook string `json:"prev_book"`
	// CurrBook 变化后最优价格的 sportsbook
	CurrBook string `json:"curr_book"`
	// Direction 方向: up 或 down
	// 比较使用原始 price 字段（American odds），不做归一化和容差
	Direction Direction `json:"direction"`
	// DetectedAtUnixNs 检测时间（纳秒）
	DetectedAtUnixNs int64 `json:"detected_at_unix_ns"`
	// ExpiresAtUnixNs 过期时间（纳秒）= DetectedAtUnixNs + flash 窗口
	ExpiresAtUnixNs int64 `json:"expires_at_unix_ns"`
}

// Expired 判断变化记录在指定时间是否已过期
// 参数 nowNs: 当前时间（纳秒）
func (c *ChangeRecord) Expired(nowNs int64) bool {
	return nowNs >= c.ExpiresAtUnixNs
}

// DetectedAt 获取检测时间的 time.Time 表示
func (c *ChangeRecord) DetectedAt() time.Time {
	return time.Unix(0, c.DetectedAtUnixNs)
}

// IsUp 判断是否为上行变化
func (c *ChangeRecord) IsUp() bool {
	return c.Direction == DirectionUp
}

// IsDown 判断是否为下行变化
func (c *ChangeRecord) IsDown() bool {
	return c.Direction == DirectionDown
}
