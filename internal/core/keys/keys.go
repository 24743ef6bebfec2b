// Package keys 实现更新通知 key 的解析与格式化。
// 更新 key 格式: odds:{sport}:{eventId}:{market}:{book}
// 订阅 base key 格式: {sport}:{eventId}:{market}（去掉 book 段）
// 这里用显式的 Parse/String 对替代各处 ad hoc 的 split(":") 取下标，
// key 结构一旦新增段位，编译器和 round-trip 测试会立刻暴露问题。
package keys

import (
	"fmt"
	"strings"
)

// Prefix 更新 key 的固定前缀
const Prefix = "odds"

// UpdateKey 解析后的更新通知 key
// 五段冒号分隔: odds:{sport}:{eventId}:{market}:{book}
type UpdateKey struct {
	// Sport 运动标识，如 nba
	Sport string
	// EventID 比赛标识
	EventID string
	// Market 盘口标识，如 player_points
	Market string
	// Book sportsbook 标识，如 draftkings
	Book string
}

// BaseKey 订阅用 base key（不含 book 段）
// 相关性匹配时，更新 key 去掉 book 后与订阅集合比较。
type BaseKey struct {
	// Sport 运动标识
	Sport string
	// EventID 比赛标识
	EventID string
	// Market 盘口标识
	Market string
}

// Parse 解析更新通知 key
// 参数 raw: 原始 key 字符串，如 odds:nba:evt123:player_points:draftkings
// 返回: 解析后的 UpdateKey；段数不足 5、前缀错误或存在空段时返回错误
func Parse(raw string) (UpdateKey, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 5 {
		return UpdateKey{}, fmt.Errorf("key 段数错误: 期望 5 段，实际 %d 段: %q", len(parts), raw)
	}
	if parts[0] != Prefix {
		return UpdateKey{}, fmt.Errorf("key 前缀错误: 期望 %q，实际 %q", Prefix, parts[0])
	}
	for i := 1; i < 5; i++ {
		if parts[i] == "" {
			return UpdateKey{}, fmt.Errorf("key 第 %d 段为空: %q", i, raw)
		}
	}

	return UpdateKey{
		Sport:   parts[1],
		EventID: parts[2],
		Market:  parts[3],
		Book:    parts[4],
	}, nil
}

// String 格式化为原始 key 字符串
// 与 Parse 构成 round-trip: Parse(k.String()) == k
func (k UpdateKey) String() string {
	return Prefix + ":" + k.Sport + ":" + k.EventID + ":" + k.Market + ":" + k.Book
}

// Base 去掉 book 段得到订阅 base key
// 1-book-dropped 的对应关系是相关性过滤正确性的前提，必须严格保持。
func (k UpdateKey) Base() BaseKey {
	return BaseKey{Sport: k.Sport, EventID: k.EventID, Market: k.Market}
}

// String 格式化 base key
// 格式: {sport}:{eventId}:{market}
func (b BaseKey) String() string {
	return b.Sport + ":" + b.EventID + ":" + b.Market
}

// BaseOf 由赔率行的维度字段构造 base key
// 订阅集合只能从当前展示的行列表整体重建，不做增量维护。
func BaseOf(sport, eventID, market string) BaseKey {
	return BaseKey{Sport: sport, EventID: eventID, Market: market}
}
