// Package debounce 实现防抖刷新调度。
// 将一阵相关更新通知合并为一次延迟刷新，避免请求风暴：
// 窗口内每次 Schedule 都重置计时器，只有最后一次会真正触发刷新。
package debounce

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultWindow 默认防抖窗口
const DefaultWindow = 1500 * time.Millisecond

// Scheduler 防抖刷新调度器
// 触发回调在计时器 goroutine 中执行；每代（generation）计数充当取消令牌，
// 保证并发取消下每窗口至多执行一次回调。
type Scheduler struct {
	mu sync.Mutex

	// window 防抖窗口时长
	window time.Duration
	// fn 刷新回调；返回的错误只记录日志，不影响后续调度
	fn func() error
	// logger 日志记录器
	logger *zap.Logger

	// timer 当前挂起的计时器，nil 表示无挂起
	timer *time.Timer
	// gen 调度代数；回调执行前校验代数，过期的计时器直接放弃
	gen uint64
	// stopped 是否已停止
	stopped bool

	// fireCount 实际触发次数（用于指标）
	fireCount int64
	// scheduleCount 收到的调度请求次数（用于指标）
	scheduleCount int64
}

// NewScheduler 创建防抖调度器
// 参数 window: 防抖窗口，<=0 时使用默认 1500ms
// 参数 logger: 日志记录器
// 参数 fn: 刷新回调
func NewScheduler(window time.Duration, logger *zap.Logger, fn func() error) *Scheduler {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		window: window,
		fn:     fn,
		logger: logger.Named("debounce"),
	}
}

// Schedule 请求一次刷新
// 若已有挂起的计时器则重置；窗口内的突发调用合并为最后一次的触发。
func (s *Scheduler) Schedule() {
	atomic.AddInt64(&s.scheduleCount, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	// 换代：已挂起的计时器即便已经在路上，也会因代数不符而放弃
	s.gen++
	gen := s.gen

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.window, func() {
		s.fire(gen)
	})
}

// Stop 停止调度器并取消挂起的计时器
// 会话卸载时调用，防止悬挂回调触碰已卸载的状态。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// FireCount 获取实际触发次数
func (s *Scheduler) FireCount() int64 {
	return atomic.LoadInt64(&s.fireCount)
}

// ScheduleCount 获取调度请求次数
func (s *Scheduler) ScheduleCount() int64 {
	return atomic.LoadInt64(&s.scheduleCount)
}

// fire 计时器到期回调
// 校验代数后执行刷新；刷新错误只记录，不得让调度器失效。
func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	atomic.AddInt64(&s.fireCount, 1)

	if s.fn == nil {
		return
	}
	if err := s.fn(); err != nil {
		s.logger.Warn("刷新回调失败", zap.Error(err))
	}
}
