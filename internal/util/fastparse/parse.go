// Package fastparse 提供热路径上的数值解析与格式化函数。
// 避免在通知处理和查询参数拼接中使用 fmt.Sprintf，统一走 strconv。
// 主要用于 stableKey 中 line 段的解析与查询参数的格式化。
package fastparse

import (
	"strconv"
)

// ParseFloat 解析浮点数字符串
// 参数 s: 待解析的字符串，如 "27.5"
// 返回: 解析后的浮点数和可能的错误
func ParseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// MustParseFloat 解析浮点数，失败时返回 0
// 用于已知格式正确的场景，简化错误处理
func MustParseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// ParseInt 解析整数字符串
// 用于解析通知时间戳等整数字段
func ParseInt(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// FormatFloat 格式化浮点数为字符串
// 参数 prec: 小数位数，-1 表示最短表示
// line 值（如 27.5）在复合 key 与查询参数中统一用最短表示。
func FormatFloat(f float64, prec int) string {
	return strconv.FormatFloat(f, 'f', prec, 64)
}

// FormatInt 格式化整数为字符串
func FormatInt(i int64) string {
	return strconv.FormatInt(i, 10)
}
