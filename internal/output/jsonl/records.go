package jsonl

import (
	"odds-feed-reconciler/internal/core/model"
	"odds-feed-reconciler/internal/sse"
	"odds-feed-reconciler/internal/stats/refresh"
)

// ChangeEntry changes.jsonl 中的一行
// 变化记录在内存中只活一个 flash 窗口，这里落盘留档。
type ChangeEntry struct {
	// TsUnixMs 写入时间（毫秒）
	TsUnixMs int64 `json:"ts_unix_ms"`
	// Change 检测到的价格变化
	Change *model.ChangeRecord `json:"change"`
}

// MetricsSnapshot metrics.jsonl 中的一行
// 周期性快照：连接、缓存、刷新时延。
type MetricsSnapshot struct {
	// TsUnixMs 快照时间（毫秒）
	TsUnixMs int64 `json:"ts_unix_ms"`
	// Connection SSE 连接指标
	Connection sse.ConnectionMetrics `json:"connection"`
	// CacheLen 缓存中的赔率行数
	CacheLen int `json:"cache_len"`
	// CacheVersion 缓存版本号（每次批量写入递增）
	CacheVersion uint64 `json:"cache_version"`
	// Latency 刷新时延统计
	Latency refresh.LatencyStats `json:"latency"`
	// RefreshCount 已完成的刷新次数
	RefreshCount int64 `json:"refresh_count"`
	// SkippedRows REST 响应中被跳过的缺损行数
	SkippedRows uint64 `json:"skipped_rows"`
}
