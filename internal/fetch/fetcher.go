// Package fetch 实现渐进式批量加载。
// 一次刷新拆成首批快速加载 + 若干后台固定大小批次：
// 首批让视图尽快拿到最热门的行，剩余批次在后台按速率限制顺序补齐。
// 一次刷新对应一个 Session（uuid 标识），取消后在途结果全部丢弃。
package fetch

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"odds-feed-reconciler/internal/core/cache"
	"odds-feed-reconciler/internal/core/model"
	"odds-feed-reconciler/internal/util/timeutil"
)

// State 加载状态机
type State string

const (
	// StateIdle 空闲，尚未开始或上次刷新已结束
	StateIdle State = "idle"
	// StateInitialLoading 首批加载中
	StateInitialLoading State = "initial-loading"
	// StateBackgroundLoading 后台批次加载中
	StateBackgroundLoading State = "background-loading"
	// StateFullyLoaded 全部批次加载完成
	StateFullyLoaded State = "fully-loaded"
)

// FetchFunc 按标识列表拉取赔率行
// 由调用方注入（生产环境是 REST 客户端的 PropsTable/HitRateOdds 包装）。
type FetchFunc func(ctx context.Context, identifiers []string) ([]*model.OddsRow, error)

// BatchObserver 每个批次写入缓存后的回调
// 参数: 批次耗时（纳秒）、写入的行数。用于刷新时延统计。
type BatchObserver func(durationNs int64, applied int)

// Result 一次刷新的汇总结果
type Result struct {
	// SessionID 本次刷新的会话标识
	SessionID string
	// Applied 写入缓存的总行数
	Applied int
	// Batches 执行的批次数（含首批）
	Batches int
	// DurationMs 全程耗时（毫秒）
	DurationMs float64
}

// Fetcher 渐进式批量加载器
// 同一个 Fetcher 的刷新互斥：新刷新开始前取消上一次的在途批次。
type Fetcher struct {
	// fn 批量拉取函数
	fn FetchFunc
	// cache 共享赔率缓存
	cache *cache.Cache
	// initialBatch 首批标识数量
	initialBatch int
	// chunkSize 后台批次大小
	chunkSize int
	// limiter 后台批次速率限制
	limiter *rate.Limiter
	// observer 批次完成回调，可为 nil
	observer BatchObserver
	// logger 日志记录器
	logger *zap.Logger

	// mu 保护 state 与 sessionID
	mu sync.RWMutex
	// state 当前加载状态
	state State
	// sessionID 当前会话标识
	sessionID string
}

// New 创建加载器
// 参数 fn: 批量拉取函数
// 参数 c: 共享缓存
// 参数 initialBatch: 首批数量（<=0 取 10）
// 参数 chunkSize: 后台批次大小（<=0 取 25）
// 参数 chunksPerSec: 后台批次速率上限（<=0 取 4）
func New(fn FetchFunc, c *cache.Cache, initialBatch, chunkSize int, chunksPerSec float64, logger *zap.Logger) *Fetcher {
	if initialBatch <= 0 {
		initialBatch = 10
	}
	if chunkSize <= 0 {
		chunkSize = 25
	}
	if chunksPerSec <= 0 {
		chunksPerSec = 4
	}
	return &Fetcher{
		fn:           fn,
		cache:        c,
		initialBatch: initialBatch,
		chunkSize:    chunkSize,
		limiter:      rate.NewLimiter(rate.Limit(chunksPerSec), 1),
		logger:       logger.Named("fetch"),
		state:        StateIdle,
	}
}

// WithObserver 设置批次完成回调
func (f *Fetcher) WithObserver(ob BatchObserver) *Fetcher {
	f.observer = ob
	return f
}

// Refresh 执行一次完整刷新
// 阻塞直到全部批次完成或 ctx 取消。首批同步执行，
// 剩余标识按 chunkSize 切分后顺序执行，每批前等待速率令牌。
// ctx 取消后在途结果丢弃，不写缓存，状态回到 idle。
func (f *Fetcher) Refresh(ctx context.Context, identifiers []string) (*Result, error) {
	if len(identifiers) == 0 {
		return &Result{SessionID: f.beginSession()}, f.finish(nil)
	}

	sessionID := f.beginSession()
	startNs := timeutil.NowNano()

	res := &Result{SessionID: sessionID}
	log := f.logger.With(zap.String("session", sessionID))

	// 首批
	f.setState(StateInitialLoading)
	first := identifiers
	if len(first) > f.initialBatch {
		first = identifiers[:f.initialBatch]
	}
	applied, err := f.runBatch(ctx, first)
	if err != nil {
		return res, f.finish(fmt.Errorf("首批加载失败: %w", err))
	}
	res.Applied += applied
	res.Batches++

	// 剩余标识切分为后台批次；一批装得下时直接完成
	rest := identifiers[len(first):]
	if len(rest) == 0 {
		f.setState(StateFullyLoaded)
		res.DurationMs = timeutil.DurationMs(startNs, timeutil.NowNano())
		log.Debug("刷新完成（单批）", zap.Int("applied", res.Applied))
		return res, f.finish(nil)
	}

	f.setState(StateBackgroundLoading)
	for start := 0; start < len(rest); start += f.chunkSize {
		end := start + f.chunkSize
		if end > len(rest) {
			end = len(rest)
		}

		if err := f.limiter.Wait(ctx); err != nil {
			return res, f.finish(err)
		}

		applied, err := f.runBatch(ctx, rest[start:end])
		if err != nil {
			return res, f.finish(fmt.Errorf("后台批次加载失败: %w", err))
		}
		res.Applied += applied
		res.Batches++
	}

	f.setState(StateFullyLoaded)
	res.DurationMs = timeutil.DurationMs(startNs, timeutil.NowNano())
	log.Debug("刷新完成",
		zap.Int("applied", res.Applied),
		zap.Int("batches", res.Batches),
		zap.Float64("duration_ms", res.DurationMs))
	return res, f.finish(nil)
}

// runBatch 拉取一个批次并写入缓存
// fn 返回后再次检查 ctx：取消后的在途结果不写缓存。
func (f *Fetcher) runBatch(ctx context.Context, identifiers []string) (int, error) {
	batchStartNs := timeutil.NowNano()

	rows, err := f.fn(ctx, identifiers)
	if err != nil {
		return 0, err
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	applied := f.cache.SetBatch(rows)
	if f.observer != nil {
		f.observer(timeutil.NowNano()-batchStartNs, applied)
	}
	return applied, nil
}

// State 获取当前加载状态
func (f *Fetcher) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// SessionID 获取当前会话标识
func (f *Fetcher) SessionID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sessionID
}

// beginSession 生成新会话标识
func (f *Fetcher) beginSession() string {
	id := uuid.NewString()
	f.mu.Lock()
	f.sessionID = id
	f.mu.Unlock()
	return id
}

// setState 更新加载状态
func (f *Fetcher) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// finish 刷新收尾
// 出错或取消时状态回到 idle；fully-loaded 保留供外部观察。
func (f *Fetcher) finish(err error) error {
	if err != nil {
		f.setState(StateIdle)
	}
	return err
}
