// Package backoff 实现带上限的指数退避。
// 用于 SSE 断线重连与 REST 请求重试的延迟计算，
// 避免后端故障时的重试风暴。基础间隔 1s，最大间隔 30s，抖动 ±20%。
package backoff

import (
	"math/rand"
	"time"
)

// Backoff 指数退避计算器
// 每次调用 Next() 返回下一次重试的等待时间，按指数增长直到最大值。
// 可选的尝试次数上限用于 SSE 的 failed 终态判定。
type Backoff struct {
	// base 基础等待时间
	base time.Duration
	// max 最大等待时间
	max time.Duration
	// jitter 抖动比例（0-1），例如 0.2 表示 ±20%
	jitter float64
	// maxAttempts 尝试次数上限，0 表示不限
	maxAttempts int
	// attempt 当前重试次数
	attempt int
}

// New 创建退避计算器
// 参数 base: 基础等待时间（建议 1s）
// 参数 max: 最大等待时间（建议 30s）
// 参数 jitter: 抖动比例（建议 0.2，即 ±20%）
func New(base, max time.Duration, jitter float64) *Backoff {
	return &Backoff{
		base:   base,
		max:    max,
		jitter: jitter,
	}
}

// NewDefault 创建默认配置的退避计算器
// 基础间隔 1s，最大间隔 30s，抖动 ±20%
func NewDefault() *Backoff {
	return New(time.Second, 30*time.Second, 0.2)
}

// WithMaxAttempts 设置尝试次数上限
// 达到上限后 Exhausted() 返回 true，调用方应转入终态而不是继续重试。
func (b *Backoff) WithMaxAttempts(n int) *Backoff {
	b.maxAttempts = n
	return b
}

// Next 获取下次重试的等待时间
// 计算公式: base * 2^attempt，应用抖动后返回，不超过 max。
func (b *Backoff) Next() time.Duration {
	// 位移实现 2^attempt，移位上限防止溢出
	shift := b.attempt
	if shift > 30 {
		shift = 30
	}
	delay := b.base * time.Duration(int64(1)<<shift)
	if delay > b.max {
		delay = b.max
	}

	// 抖动范围: [delay * (1 - jitter), delay * (1 + jitter)]
	if b.jitter > 0 {
		jitterFactor := 1.0 + (rand.Float64()*2-1)*b.jitter
		delay = time.Duration(float64(delay) * jitterFactor)
	}

	b.attempt++
	return delay
}

// Exhausted 判断尝试次数是否已耗尽
// 未设置上限时永远返回 false。
func (b *Backoff) Exhausted() bool {
	return b.maxAttempts > 0 && b.attempt >= b.maxAttempts
}

// Reset 重置退避计算器
// 连接/请求成功后调用，重置重试次数。
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt 获取当前重试次数
func (b *Backoff) Attempt() int {
	return b.attempt
}
