// Package reconciler 把整条刷新链路串起来：
// SSE 通知 → key 解析与相关性过滤 → 防抖 → 渐进式批量拉取 →
// 变化检测 → 缓存写入 → 合并去重 → 客户端过滤。
// 后端永远是赔率数据的唯一权威，本层只负责"何时重新拉取"与展示整形。
package reconciler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"odds-feed-reconciler/internal/api"
	"odds-feed-reconciler/internal/config"
	"odds-feed-reconciler/internal/core/cache"
	"odds-feed-reconciler/internal/core/change"
	"odds-feed-reconciler/internal/core/debounce"
	"odds-feed-reconciler/internal/core/merge"
	"odds-feed-reconciler/internal/core/model"
	"odds-feed-reconciler/internal/core/postfilter"
	"odds-feed-reconciler/internal/core/relevance"
	"odds-feed-reconciler/internal/fetch"
	"odds-feed-reconciler/internal/favorites"
	"odds-feed-reconciler/internal/output/jsonl"
	"odds-feed-reconciler/internal/stats/refresh"
	"odds-feed-reconciler/internal/util/timeutil"
)

// Backend reconciler 依赖的后端操作
// 生产实现是 api.Client；测试里用桩替换。
type Backend interface {
	PropsTable(ctx context.Context, q api.PropsQuery) ([]*model.OddsRow, string, error)
	Opportunities(ctx context.Context, q api.OppQuery) (*api.OpportunitiesResponse, error)
	HitRateOdds(ctx context.Context, sport string, selections []api.Selection) (map[string]api.LineOdds, error)
}

// Reconciler 刷新编排器
// 一个 Reconciler 对应一个"视图会话"：一组展示中的赔率行
// 加上一套过滤配置。Close 后丢弃所有在途结果。
type Reconciler struct {
	// cfg 应用配置
	cfg *config.Config
	// backend 后端操作
	backend Backend
	// cache 共享赔率缓存
	cache *cache.Cache
	// subs 订阅集合（展示行的 base key）
	subs *relevance.SubscriptionSet
	// detector 变化检测器
	detector *change.Detector
	// fetcher 渐进式批量加载器
	fetcher *fetch.Fetcher
	// scheduler 防抖调度器
	scheduler *debounce.Scheduler
	// tracker 刷新时延统计
	tracker *refresh.Tracker
	// favStore 收藏存储，可为 nil
	favStore *favorites.Store
	// changesW 变化记录日志写入器，可为 nil
	changesW *jsonl.Writer
	// logger 日志记录器
	logger *zap.Logger

	// ctx 生命周期上下文，Close 时取消
	ctx    context.Context
	cancel context.CancelFunc

	// pendingArrivedNs 当前防抖窗口内最早一条相关通知的到达时间
	pendingArrivedNs int64
	// refreshCount 已完成的刷新次数
	refreshCount int64
	// closed 是否已关闭
	closed int32
}

// New 创建刷新编排器
func New(cfg *config.Config, backend Backend, favStore *favorites.Store, changesW *jsonl.Writer, logger *zap.Logger) *Reconciler {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Reconciler{
		cfg:      cfg,
		backend:  backend,
		cache:    cache.New(),
		subs:     relevance.NewSubscriptionSet(),
		detector: change.NewDetector(time.Duration(cfg.Refresh.FlashMs) * time.Millisecond),
		tracker:  refresh.NewTracker(10000),
		favStore: favStore,
		changesW: changesW,
		logger:   logger.Named("reconciler"),
		ctx:      ctx,
		cancel:   cancel,
	}

	r.fetcher = fetch.New(
		r.fetchByStableKeys,
		r.cache,
		cfg.Refresh.InitialBatch,
		cfg.Refresh.ChunkSize,
		cfg.Refresh.ChunkRatePerSec,
		logger,
	).WithObserver(func(durationNs int64, applied int) {
		r.tracker.AddFetch(durationNs)
	})

	r.scheduler = debounce.NewScheduler(
		time.Duration(cfg.Refresh.DebounceMs)*time.Millisecond,
		logger,
		r.doRefresh,
	)

	return r
}

// LoadTable 初始加载 props 表格
// 翻页拉全后端的当前行，填充缓存并重建订阅集合。
func (r *Reconciler) LoadTable(ctx context.Context, sports []string) error {
	var all []*model.OddsRow
	for _, sport := range sports {
		cursor := ""
		for {
			rows, next, err := r.backend.PropsTable(ctx, api.PropsQuery{
				Sport:  sport,
				Limit:  500,
				Cursor: cursor,
			})
			if err != nil {
				return fmt.Errorf("加载 %s 表格失败: %w", sport, err)
			}
			all = append(all, rows...)
			if next == "" {
				break
			}
			cursor = next
		}
	}

	r.cache.SetBatch(all)
	r.rebuildSubscriptions()
	r.logger.Info("表格已加载",
		zap.Strings("sports", sports),
		zap.Int("rows", len(all)))
	return nil
}

// LoadFavorites 加载收藏行的最新赔率
// 收藏的 line 锁定在添加时刻，按锁定的 line 查询。
func (r *Reconciler) LoadFavorites(ctx context.Context) error {
	if r.favStore == nil || r.favStore.Len() == 0 {
		return nil
	}

	// 收藏按 sport 分组（stableKey 首段即 sport）
	bySport := make(map[string][]api.Selection)
	for _, sel := range r.favStore.Selections() {
		sport := sportOf(sel.StableKey)
		if sport == "" {
			continue
		}
		bySport[sport] = append(bySport[sport], sel)
	}

	var rows []*model.OddsRow
	for sport, sels := range bySport {
		odds, err := r.backend.HitRateOdds(ctx, sport, sels)
		if err != nil {
			return fmt.Errorf("加载收藏赔率失败: %w", err)
		}
		for key, lo := range odds {
			rows = append(rows, rowFromLineOdds(key, lo))
		}
	}

	r.cache.SetBatch(rows)
	r.rebuildSubscriptions()
	r.logger.Info("收藏已加载", zap.Int("rows", len(rows)))
	return nil
}

// HandleNotification 处理一条 SSE 更新通知
// 相关性过滤后调度防抖刷新；不相关的通知直接丢弃。
func (r *Reconciler) HandleNotification(n *model.UpdateNotification) {
	if atomic.LoadInt32(&r.closed) == 1 || n == nil {
		return
	}

	relevant := r.subs.Relevant(n.Keys)
	if len(relevant) == 0 {
		return
	}

	// 记录窗口内最早一条相关通知的到达时间，用于端到端时延
	if n.ArrivedAtUnixNs > 0 {
		atomic.CompareAndSwapInt64(&r.pendingArrivedNs, 0, n.ArrivedAtUnixNs)
	}

	r.logger.Debug("相关通知",
		zap.Int("total_keys", len(n.Keys)),
		zap.Int("relevant", len(relevant)))
	r.scheduler.Schedule()
}

// Run 消费 SSE 通知直到 ctx 取消或通道关闭
func (r *Reconciler) Run(ctx context.Context, notifyCh <-chan *model.UpdateNotification) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.ctx.Done():
			return
		case n, ok := <-notifyCh:
			if !ok {
				return
			}
			r.HandleNotification(n)
		}
	}
}

// doRefresh 防抖窗口到期后执行一次完整刷新
// 刷新对象是当前缓存中的全部行（即展示中的行）。
func (r *Reconciler) doRefresh() error {
	if atomic.LoadInt32(&r.closed) == 1 {
		return nil
	}

	snapshot := r.cache.Snapshot()
	identifiers := make([]string, 0, len(snapshot))
	for _, row := range snapshot {
		identifiers = append(identifiers, row.StableKey)
	}

	res, err := r.fetcher.Refresh(r.ctx, identifiers)
	if err != nil {
		if r.ctx.Err() != nil {
			// 已关闭，静默丢弃
			return nil
		}
		return fmt.Errorf("刷新失败: %w", err)
	}

	atomic.AddInt64(&r.refreshCount, 1)

	// 端到端时延：窗口最早通知到达 → 刷新完成
	arrived := atomic.SwapInt64(&r.pendingArrivedNs, 0)
	if arrived > 0 {
		r.tracker.AddNotify(arrived, timeutil.NowNano())
	}

	r.logger.Debug("刷新完成",
		zap.String("session", res.SessionID),
		zap.Int("applied", res.Applied),
		zap.Int("batches", res.Batches))
	return nil
}

// fetchByStableKeys 批量拉取一组稳定标识的最新赔率
// 按 sport 分组走批量赔率端点；返回前做变化检测，
// 缓存中不存在的标识跳过（行已被移出视图）。
func (r *Reconciler) fetchByStableKeys(ctx context.Context, identifiers []string) ([]*model.OddsRow, error) {
	bySport := make(map[string][]api.Selection)
	for _, key := range identifiers {
		prev := r.cache.Get(key)
		if prev == nil {
			continue
		}
		bySport[prev.Sport] = append(bySport[prev.Sport], api.Selection{
			StableKey: key,
			Line:      prev.Line,
		})
	}

	var out []*model.OddsRow
	for sport, sels := range bySport {
		odds, err := r.backend.HitRateOdds(ctx, sport, sels)
		if err != nil {
			return nil, err
		}
		for key, lo := range odds {
			prev := r.cache.Get(key)
			curr := rowFromLineOdds(key, lo)
			if prev != nil {
				// 保留批量端点不返回的标识字段
				curr.Sport = prev.Sport
				curr.EventID = prev.EventID
				curr.Player = prev.Player
				curr.Market = prev.Market
				curr.Side = prev.Side
			}
			r.observeChange(prev, curr)
			out = append(out, curr)
		}
	}
	return out, nil
}

// observeChange 变化检测与留档
func (r *Reconciler) observeChange(prev, curr *model.OddsRow) {
	rec := r.detector.Observe(timeutil.NowNano(), prev, curr)
	if rec == nil || r.changesW == nil {
		return
	}
	if err := r.changesW.Write(&jsonl.ChangeEntry{TsUnixMs: timeutil.NowMs(), Change: rec}); err != nil {
		r.logger.Warn("写变化记录失败", zap.Error(err))
	}
}

// Opportunities 获取合并去重后的机会列表
// preset 模式对每个预设并行请求后端并套用完整的客户端过滤级联；
// custom_blend 模式单次请求，客户端只做残余过滤。
// 参数 search: 球员名搜索词，可为空
func (r *Reconciler) Opportunities(ctx context.Context, search string) ([]model.Opportunity, error) {
	mode := r.cfg.FilterMode()

	switch mode.Kind {
	case model.ModePreset:
		return r.presetOpportunities(ctx, search)
	case model.ModeCustomBlend:
		return r.blendOpportunities(ctx, mode, search)
	default:
		return nil, fmt.Errorf("未知过滤模式: %s", mode.Kind)
	}
}

// presetOpportunities 多预设扇出请求 + 扇入合并
// 单个预设失败只记日志并在结果中缺席，不拖垮整体；
// 合并等全部预设请求落定后进行。
func (r *Reconciler) presetOpportunities(ctx context.Context, search string) ([]model.Opportunity, error) {
	presets := r.cfg.Presets
	lists := make([]merge.TaggedList, len(presets))
	errs := make([]error, len(presets))

	var wg sync.WaitGroup
	for i, preset := range presets {
		wg.Add(1)
		go func(i int, preset config.PresetConfig) {
			defer wg.Done()

			resp, err := r.backend.Opportunities(ctx, api.OppQuery{
				Sports:     preset.Sports,
				Markets:    preset.Markets,
				PresetID:   preset.ID,
				MinEdgePct: preset.MinEdgePct,
				OddsMin:    preset.OddsMin,
				OddsMax:    preset.OddsMax,
			})
			if err != nil {
				errs[i] = err
				return
			}

			rows := postfilter.Apply(model.PresetMode(), r.criteriaFor(&preset, search), resp.Opportunities)
			lists[i] = merge.TaggedList{Source: preset.FilterSource(), Rows: rows}
		}(i, preset)
	}
	wg.Wait()

	var ok []merge.TaggedList
	failed := 0
	for i := range lists {
		if errs[i] != nil {
			failed++
			r.logger.Warn("预设请求失败，结果中缺席",
				zap.String("preset", presets[i].ID),
				zap.Error(errs[i]))
			continue
		}
		ok = append(ok, lists[i])
	}
	if failed == len(presets) && len(presets) > 0 {
		return nil, fmt.Errorf("全部 %d 个预设请求失败", failed)
	}

	return merge.Merge(ok...), nil
}

// blendOpportunities custom_blend 模式单次请求
func (r *Reconciler) blendOpportunities(ctx context.Context, mode model.FilterMode, search string) ([]model.Opportunity, error) {
	resp, err := r.backend.Opportunities(ctx, api.OppQuery{Blend: mode.Blend})
	if err != nil {
		return nil, fmt.Errorf("blend 请求失败: %w", err)
	}

	// 服务端已套用 blend 的数值过滤，客户端只做残余过滤
	c := postfilter.Criteria{Search: search, HiddenKeys: r.hiddenKeys()}
	return postfilter.Apply(mode, c, resp.Opportunities), nil
}

// criteriaFor 由预设配置构建客户端过滤条件
func (r *Reconciler) criteriaFor(p *config.PresetConfig, search string) postfilter.Criteria {
	return postfilter.Criteria{
		Sports:         p.Sports,
		Markets:        p.Markets,
		MinEdgePct:     p.MinEdgePct,
		OddsMin:        p.OddsMin,
		OddsMax:        p.OddsMax,
		Search:         search,
		ExcludedBooks:  p.ExcludedBooks,
		ExcludeCollege: !p.IncludeCollege,
		HiddenKeys:     r.hiddenKeys(),
	}
}

// hiddenKeys 当前隐藏集合（转成过滤层使用的形式）
func (r *Reconciler) hiddenKeys() map[string]bool {
	if r.favStore == nil {
		return nil
	}
	src := r.favStore.HiddenKeys()
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]bool, len(src))
	for k := range src {
		out[k] = true
	}
	return out
}

// rebuildSubscriptions 由缓存快照整体重建订阅集合
func (r *Reconciler) rebuildSubscriptions() {
	r.subs.Rebuild(r.cache.Snapshot())
}

// Rows 当前缓存的行快照
func (r *Reconciler) Rows() []*model.OddsRow {
	return r.cache.Snapshot()
}

// ActiveChanges 当前仍在 flash 窗口内的变化记录
func (r *Reconciler) ActiveChanges() map[string]*model.ChangeRecord {
	return r.detector.Active(timeutil.NowNano())
}

// Snapshot 指标快照（供 metrics.jsonl 周期输出）
func (r *Reconciler) Snapshot() (cacheLen int, cacheVersion uint64, refreshCount int64, latency refresh.LatencyStats) {
	return r.cache.Len(), r.cache.Version(), atomic.LoadInt64(&r.refreshCount), r.tracker.Stats()
}

// FetchState 当前加载状态
func (r *Reconciler) FetchState() fetch.State {
	return r.fetcher.State()
}

// Close 关闭编排器
// 取消在途拉取并停掉防抖定时器；关闭后到达的通知与结果全部丢弃。
func (r *Reconciler) Close() error {
	if !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		return nil
	}
	r.cancel()
	r.scheduler.Stop()
	r.detector.Reset()
	r.logger.Info("reconciler 已关闭")
	return nil
}

// sportOf 从稳定标识中取 sport 段
// 稳定标识格式: {sport}:{eventId}:{player}:{market}:{side}
func sportOf(stableKey string) string {
	for i := 0; i < len(stableKey); i++ {
		if stableKey[i] == ':' {
			return stableKey[:i]
		}
	}
	return ""
}

// rowFromLineOdds 把批量赔率端点的返回项转成赔率行
// 标识字段从稳定标识本身拆出（5 段），价格字段来自端点返回。
func rowFromLineOdds(stableKey string, lo api.LineOdds) *model.OddsRow {
	books := lo.Books
	if books != nil {
		copied := make(map[string]float64, len(books))
		for k, v := range books {
			copied[k] = v
		}
		books = copied
	}

	row := &model.OddsRow{
		StableKey:       stableKey,
		Line:            lo.Line,
		BestPrice:       lo.BestPrice,
		BestBook:        lo.BestBook,
		Books:           books,
		UpdatedAtUnixMs: lo.UpdatedAtUnixMs,
	}

	parts := strings.SplitN(stableKey, ":", 5)
	if len(parts) == 5 {
		row.Sport = parts[0]
		row.EventID = parts[1]
		row.Player = parts[2]
		row.Market = parts[3]
		row.Side = parts[4]
	} else {
		row.Sport = sportOf(stableKey)
	}
	return row
}
