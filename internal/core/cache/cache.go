// Package cache 维护按稳定标识缓存的最新赔率行。
// 缓存对象显式创建并注入（而不是包级全局变量），便于测试隔离；
// 跨 reconciler 会话共享同一实例，实现"导航离开再返回"时的状态保留。
package cache

import (
	"sync"

	"odds-feed-reconciler/internal/core/model"
)

// Cache 赔率行缓存
// 写者：仅 fetch 完成回调批量写入；读者：任意活跃会话。
// 每个写入批次结束后 version 加一，读者通过 version 变化感知更新，
// 不依赖对象身份比较。
type Cache struct {
	mu sync.RWMutex

	// rows StableKey -> 最新赔率行
	rows map[string]*model.OddsRow
	// version 变更版本号，每个写入批次加一
	version uint64
}

// New 创建空缓存
func New() *Cache {
	return &Cache{rows: make(map[string]*model.OddsRow)}
}

// Get 获取指定稳定标识的最新赔率行
// 返回的指针应视为只读；不存在时返回 nil
func (c *Cache) Get(stableKey string) *model.OddsRow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rows[stableKey]
}

// SetBatch 批量写入一组赔率行，整批结束后 version 加一
// 无效行（StableKey 为空）单独跳过，不影响批内其它行。
// 返回: 实际写入的行数
func (c *Cache) SetBatch(rows []*model.OddsRow) int {
	if len(rows) == 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	written := 0
	for _, row := range rows {
		if row == nil || row.StableKey == "" {
			continue
		}
		c.rows[row.StableKey] = row.Clone()
		written++
	}
	if written > 0 {
		c.version++
	}
	return written
}

// Len 获取缓存的标识数量
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}

// Version 获取当前版本号
func (c *Cache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Snapshot 获取全部缓存行的拷贝
// 返回的行是深拷贝，调用方可安全持有。
func (c *Cache) Snapshot() []*model.OddsRow {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*model.OddsRow, 0, len(c.rows))
	for _, row := range c.rows {
		out = append(out, row.Clone())
	}
	return out
}

// Clear 清空缓存并重置版本号
// 仅在完全重置（相当于整页 reload）时调用。
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = make(map[string]*model.OddsRow)
	c.version = 0
}
