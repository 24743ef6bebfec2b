// Package refresh 实现刷新链路的时延测量和统计。
// 两条链路独立统计：通知到达→缓存写入（端到端时延）与单个批次的拉取耗时。
package refresh

import (
	"sort"
	"sync"
)

// LatencyStats 时延统计快照（滚动窗口）
// 单位：毫秒。
type LatencyStats struct {
	// Count 样本总数（累计）
	Count int64 `json:"count"`

	// NotifyP50Ms 通知到达→缓存写入 的 P50 时延（毫秒）
	NotifyP50Ms float64 `json:"notify_p50_ms"`
	// NotifyP90Ms 通知到达→缓存写入 的 P90 时延（毫秒）
	NotifyP90Ms float64 `json:"notify_p90_ms"`
	// NotifyP99Ms 通知到达→缓存写入 的 P99 时延（毫秒）
	NotifyP99Ms float64 `json:"notify_p99_ms"`

	// FetchP50Ms 单批次拉取耗时的 P50（毫秒）
	FetchP50Ms float64 `json:"fetch_p50_ms"`
	// FetchP90Ms 单批次拉取耗时的 P90（毫秒）
	FetchP90Ms float64 `json:"fetch_p90_ms"`
	// FetchP99Ms 单批次拉取耗时的 P99（毫秒）
	FetchP99Ms float64 `json:"fetch_p99_ms"`
}

type rollingWindow struct {
	size  int
	buf   []int64
	pos   int
	count int64
	full  bool

	mu sync.Mutex
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{size: size, buf: make([]int64, 0, size)}
}

func (w *rollingWindow) add(v int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count++
	if w.size <= 0 {
		return
	}

	if !w.full {
		w.buf = append(w.buf, v)
		if len(w.buf) == w.size {
			w.full = true
			w.pos = 0
		}
		return
	}

	w.buf[w.pos] = v
	w.pos++
	if w.pos >= w.size {
		w.pos = 0
	}
}

func (w *rollingWindow) snapshotQuantiles(qs ...float64) (count int64, values []int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	count = w.count
	if len(w.buf) == 0 {
		return count, make([]int64, len(qs))
	}

	tmp := make([]int64, len(w.buf))
	copy(tmp, w.buf)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })

	values = make([]int64, len(qs))
	n := len(tmp)
	for i, q := range qs {
		if q <= 0 {
			values[i] = tmp[0]
			continue
		}
		if q >= 1 {
			values[i] = tmp[n-1]
			continue
		}
		idx := int(float64(n-1) * q)
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		values[i] = tmp[idx]
	}
	return count, values
}

// Tracker 刷新时延追踪器
// 通知链路与批次拉取链路各自维护一个滚动窗口。
type Tracker struct {
	// notify 通知到达→缓存写入 链路统计
	notify *rollingWindow
	// fetch 批次拉取耗时统计
	fetch *rollingWindow
}

// NewTracker 创建时延追踪器
// 参数 windowSize: 滚动窗口大小（建议 10000），用于 P50/P90/P99。
func NewTracker(windowSize int) *Tracker {
	return &Tracker{
		notify: newRollingWindow(windowSize),
		fetch:  newRollingWindow(windowSize),
	}
}

// AddNotify 记录一次端到端刷新时延
// 参数: 通知到达本机的时间与对应行写入缓存的时间（纳秒）。
// appliedNs 早于 arrivedNs 的样本（时钟异常）不记录。
func (t *Tracker) AddNotify(arrivedNs, appliedNs int64) {
	if arrivedNs <= 0 || appliedNs < arrivedNs {
		return
	}
	t.notify.add(appliedNs - arrivedNs)
}

// AddFetch 记录一次批次拉取耗时
// 参数 durationNs: 批次从发起到写入缓存的耗时（纳秒）
func (t *Tracker) AddFetch(durationNs int64) {
	if durationNs < 0 {
		return
	}
	t.fetch.add(durationNs)
}

// Stats 获取统计快照
func (t *Tracker) Stats() LatencyStats {
	notifyCount, notifyQs := t.notify.snapshotQuantiles(0.50, 0.90, 0.99)
	_, fetchQs := t.fetch.snapshotQuantiles(0.50, 0.90, 0.99)

	return LatencyStats{
		Count:       notifyCount,
		NotifyP50Ms: float64(notifyQs[0]) / 1_000_000.0,
		NotifyP90Ms: float64(notifyQs[1]) / 1_000_000.0,
		NotifyP99Ms: float64(notifyQs[2]) / 1_000_000.0,
		FetchP50Ms:  float64(fetchQs[0]) / 1_000_000.0,
		FetchP90Ms:  float64(fetchQs[1]) / 1_000_000.0,
		FetchP99Ms:  float64(fetchQs[2]) / 1_000_000.0,
	}
}
