// Package change 实现赔率价格变化检测与 flash 窗口过期。
// 每次刷新后将新值与缓存中的旧值比较，产生带方向的变化记录，
// 供 UI 做上行/下行闪烁反馈；记录在 flash 窗口（默认 5s）后自动消失。
package change

import (
	"sync"
	"time"

	"odds-feed-reconciler/internal/core/model"
)

// DefaultFlashWindow 默认 flash 窗口时长
const DefaultFlashWindow = 5 * time.Second

// Detector 价格变化检测器
// 过期按标识独立计时：同一标识的新变化只重置自己的时钟，
// 不影响其它并发变化的存续。时间以纳秒参数注入，便于确定性测试。
type Detector struct {
	mu sync.Mutex

	// flashNs flash 窗口时长（纳秒）
	flashNs int64
	// records StableKey -> 未过期的变化记录
	records map[string]*model.ChangeRecord
}

// NewDetector 创建变化检测器
// 参数 flash: flash 窗口时长，<=0 时使用默认 5s
func NewDetector(flash time.Duration) *Detector {
	if flash <= 0 {
		flash = DefaultFlashWindow
	}
	return &Detector{
		flashNs: int64(flash),
		records: make(map[string]*model.ChangeRecord),
	}
}

// Observe 比较同一标识的新旧赔率行，必要时产生变化记录
// 参数 nowNs: 当前时间（纳秒）
// 参数 prev: 缓存中的旧行，可为 nil（首次出现）
// 参数 curr: 新获取的行
// 返回: 产生的变化记录；新旧价格缺失或相等时返回 nil
// 比较使用原始 price 字段，不做归一化、舍入或容差。
func (d *Detector) Observe(nowNs int64, prev, curr *model.OddsRow) *model.ChangeRecord {
	if prev == nil || curr == nil {
		return nil
	}
	if prev.StableKey == "" || prev.StableKey != curr.StableKey {
		return nil
	}
	if prev.BestPrice == 0 || curr.BestPrice == 0 {
		return nil
	}
	if prev.BestPrice == curr.BestPrice {
		return nil
	}

	direction := model.DirectionUp
	if curr.BestPrice < prev.BestPrice {
		direction = model.DirectionDown
	}

	rec := &model.ChangeRecord{
		StableKey:        curr.StableKey,
		PrevPrice:        prev.BestPrice,
		CurrPrice:        curr.BestPrice,
		PrevBook:         prev.BestBook,
		CurrBook:         curr.BestBook,
		Direction:        direction,
		DetectedAtUnixNs: nowNs,
		ExpiresAtUnixNs:  nowNs + d.flashNs,
	}

	d.mu.Lock()
	d.records[rec.StableKey] = rec
	d.mu.Unlock()

	return rec
}

// Active 获取指定时间点未过期的变化记录
// 参数 nowNs: 当前时间（纳秒）
// 同时清理已过期的记录（变化记录绝不超过 flash 窗口存活）。
func (d *Detector) Active(nowNs int64) map[string]*model.ChangeRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]*model.ChangeRecord, len(d.records))
	for key, rec := range d.records {
		if rec.Expired(nowNs) {
			delete(d.records, key)
			continue
		}
		out[key] = rec
	}
	return out
}

// Get 获取指定标识在指定时间点的变化记录
// 已过期时返回 nil 并顺带删除。
func (d *Detector) Get(nowNs int64, stableKey string) *model.ChangeRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[stableKey]
	if !ok {
		return nil
	}
	if rec.Expired(nowNs) {
		delete(d.records, stableKey)
		return nil
	}
	return rec
}

// Reset 清空全部变化记录
// 会话卸载时调用。
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = make(map[string]*model.ChangeRecord)
}
