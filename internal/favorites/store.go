// Package favorites 实现收藏选择项的本地持久化。
// 收藏（stableKey + line）与隐藏条目存在一个 JSON 文件里，
// 启动时加载，修改后原子落盘（临时文件 + rename）。
package favorites

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"odds-feed-reconciler/internal/api"
	"odds-feed-reconciler/internal/util/timeutil"
)

// Favorite 一条收藏的选择项
// Line 单独存一份：收藏锁定的是添加时刻的 line，后端的当前 line 变了也不跟着动。
type Favorite struct {
	// StableKey 选择项稳定标识
	StableKey string `json:"stable_key"`
	// Line 收藏时刻的盘口线值
	Line float64 `json:"line"`
	// AddedAtUnixMs 收藏时间（毫秒）
	AddedAtUnixMs int64 `json:"added_at_unix_ms"`
}

// fileSchema 落盘格式
type fileSchema struct {
	// Favorites 收藏列表
	Favorites []Favorite `json:"favorites"`
	// HiddenKeys 被隐藏的 stableKey 列表
	HiddenKeys []string `json:"hidden_keys"`
}

// Store 收藏存储
// 内存态加文件持久化；所有修改操作成功后立即落盘。
type Store struct {
	// path 持久化文件路径
	path string
	// logger 日志记录器
	logger *zap.Logger

	// mu 保护下面两个 map
	mu sync.RWMutex
	// favorites stableKey -> 收藏项
	favorites map[string]Favorite
	// hidden 被隐藏的 stableKey 集合
	hidden map[string]struct{}
}

// Open 打开收藏存储
// 文件不存在时从空状态开始；文件损坏视为错误（不静默清空用户数据）。
func Open(path string, logger *zap.Logger) (*Store, error) {
	s := &Store{
		path:      path,
		logger:    logger.Named("favorites"),
		favorites: make(map[string]Favorite),
		hidden:    make(map[string]struct{}),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取收藏文件失败: %w", err)
	}

	var schema fileSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("解析收藏文件失败: %w", err)
	}

	for _, f := range schema.Favorites {
		if f.StableKey == "" {
			continue
		}
		s.favorites[f.StableKey] = f
	}
	for _, k := range schema.HiddenKeys {
		if k != "" {
			s.hidden[k] = struct{}{}
		}
	}

	s.logger.Info("收藏已加载",
		zap.Int("favorites", len(s.favorites)),
		zap.Int("hidden", len(s.hidden)))
	return s, nil
}

// Add 添加收藏
// 已存在时更新为新的 line 与时间。
func (s *Store) Add(stableKey string, line float64) error {
	if stableKey == "" {
		return fmt.Errorf("stableKey 为空")
	}

	s.mu.Lock()
	s.favorites[stableKey] = Favorite{
		StableKey:     stableKey,
		Line:          line,
		AddedAtUnixMs: timeutil.NowMs(),
	}
	s.mu.Unlock()

	return s.save()
}

// Remove 移除收藏
// 不存在时是 no-op（仍会落盘）。
func (s *Store) Remove(stableKey string) error {
	s.mu.Lock()
	delete(s.favorites, stableKey)
	s.mu.Unlock()

	return s.save()
}

// Contains 判断是否已收藏
func (s *Store) Contains(stableKey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.favorites[stableKey]
	return ok
}

// List 列出全部收藏，按收藏时间升序
func (s *Store) List() []Favorite {
	s.mu.RLock()
	out := make([]Favorite, 0, len(s.favorites))
	for _, f := range s.favorites {
		out = append(out, f)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAtUnixMs != out[j].AddedAtUnixMs {
			return out[i].AddedAtUnixMs < out[j].AddedAtUnixMs
		}
		return out[i].StableKey < out[j].StableKey
	})
	return out
}

// Selections 导出为批量赔率查询的选择项列表
func (s *Store) Selections() []api.Selection {
	favs := s.List()
	out := make([]api.Selection, 0, len(favs))
	for _, f := range favs {
		out = append(out, api.Selection{StableKey: f.StableKey, Line: f.Line})
	}
	return out
}

// Hide 隐藏一个条目
func (s *Store) Hide(stableKey string) error {
	if stableKey == "" {
		return fmt.Errorf("stableKey 为空")
	}

	s.mu.Lock()
	s.hidden[stableKey] = struct{}{}
	s.mu.Unlock()

	return s.save()
}

// Unhide 取消隐藏
func (s *Store) Unhide(stableKey string) error {
	s.mu.Lock()
	delete(s.hidden, stableKey)
	s.mu.Unlock()

	return s.save()
}

// HiddenKeys 导出隐藏集合（拷贝）
func (s *Store) HiddenKeys() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.hidden))
	for k := range s.hidden {
		out[k] = struct{}{}
	}
	return out
}

// Len 收藏数量
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.favorites)
}

// save 原子落盘
// 写临时文件后 rename，崩溃时旧文件保持完整。
func (s *Store) save() error {
	s.mu.RLock()
	schema := fileSchema{
		Favorites:  make([]Favorite, 0, len(s.favorites)),
		HiddenKeys: make([]string, 0, len(s.hidden)),
	}
	for _, f := range s.favorites {
		schema.Favorites = append(schema.Favorites, f)
	}
	for k := range s.hidden {
		schema.HiddenKeys = append(schema.HiddenKeys, k)
	}
	s.mu.RUnlock()

	sort.Slice(schema.Favorites, func(i, j int) bool {
		return schema.Favorites[i].StableKey < schema.Favorites[j].StableKey
	})
	sort.Strings(schema.HiddenKeys)

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化收藏失败: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("创建收藏目录失败: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("写收藏临时文件失败: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("替换收藏文件失败: %w", err)
	}
	return nil
}
