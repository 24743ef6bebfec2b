// Package config 负责加载和验证 YAML 配置文件。
// 提供应用程序所需的所有配置项，包括后端连接、SSE 订阅、
// 刷新参数、过滤预设、输出设置等。
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"odds-feed-reconciler/internal/core/model"
)

// Config 应用配置根结构
// 包含所有子模块的配置项
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Backend 后端 REST API 配置
	Backend BackendConfig `yaml:"backend"`
	// SSE 实时更新流配置
	SSE SSEConfig `yaml:"sse"`
	// Refresh 防抖刷新与批量加载配置
	Refresh RefreshConfig `yaml:"refresh"`
	// Mode 过滤模式: preset 或 custom_blend
	Mode string `yaml:"mode"`
	// Presets 过滤预设列表（preset 模式）
	Presets []PresetConfig `yaml:"presets"`
	// Blend 自定义 blend 配置（custom_blend 模式）
	Blend BlendConfig `yaml:"blend"`
	// Favorites 收藏存储配置
	Favorites FavoritesConfig `yaml:"favorites"`
	// Output 输出配置
	Output OutputConfig `yaml:"output"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
	// LogFile 日志文件路径；为空时输出到 stdout
	// 配置后启用滚动切割（lumberjack）
	LogFile string `yaml:"log_file"`
}

// BackendConfig 后端 REST API 配置
type BackendConfig struct {
	// BaseURL 后端基础地址，如 https://api.example.com
	// 可用环境变量 ODDSWATCH_BACKEND_URL 覆盖
	BaseURL string `yaml:"base_url"`
	// TimeoutMs 单次 HTTP 请求超时时间（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
	// Retry 重试配置
	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig 请求重试配置
type RetryConfig struct {
	// MaxAttempts 最大尝试次数（含首次），默认 3
	MaxAttempts int `yaml:"max_attempts"`
	// BaseMs 退避基础间隔（毫秒）
	BaseMs int `yaml:"base_ms"`
	// MaxMs 退避最大间隔（毫秒）
	MaxMs int `yaml:"max_ms"`
}

// SSEConfig 实时更新流配置
type SSEConfig struct {
	// Path SSE 端点路径
	Path string `yaml:"path"`
	// Sports 订阅的运动列表，如 [nba, nfl]
	Sports []string `yaml:"sports"`
	// MaxAttempts 重连次数上限；耗尽后进入 failed 终态
	MaxAttempts int `yaml:"max_attempts"`
	// BufferSize 通知通道缓冲区大小
	BufferSize int `yaml:"buffer_size"`
}

// RefreshConfig 防抖刷新与批量加载配置
type RefreshConfig struct {
	// DebounceMs 防抖窗口时长（毫秒）
	DebounceMs int `yaml:"debounce_ms"`
	// FlashMs 变化记录 flash 窗口时长（毫秒）
	FlashMs int `yaml:"flash_ms"`
	// InitialBatch 首批快速加载的标识数量
	InitialBatch int `yaml:"initial_batch"`
	// ChunkSize 后台批次的固定大小
	ChunkSize int `yaml:"chunk_size"`
	// ChunkRatePerSec 后台批次的速率上限（每秒批次数）
	ChunkRatePerSec float64 `yaml:"chunk_rate_per_sec"`
}

// PresetConfig 一个过滤预设
type PresetConfig struct {
	// ID 预设标识
	ID string `yaml:"id"`
	// Name 预设显示名
	Name string `yaml:"name"`
	// Color 预设显示颜色，如 #22c55e
	Color string `yaml:"color"`
	// Sports 允许的运动集合
	Sports []string `yaml:"sports"`
	// Markets 允许的盘口集合
	Markets []string `yaml:"markets"`
	// MinEdgePct 最小 edge 百分比阈值
	MinEdgePct float64 `yaml:"min_edge_pct"`
	// OddsMin 允许的最小价格（American odds）
	OddsMin float64 `yaml:"odds_min"`
	// OddsMax 允许的最大价格（American odds）
	OddsMax float64 `yaml:"odds_max"`
	// ExcludedBooks 排除的 sportsbook 集合
	ExcludedBooks []string `yaml:"excluded_books"`
	// IncludeCollege 是否包含大学球员盘口
	IncludeCollege bool `yaml:"include_college"`
}

// BlendConfig 自定义 blend 配置
type BlendConfig struct {
	// BookWeights book -> 权重（0-1），权重和应为 1
	BookWeights map[string]float64 `yaml:"book_weights"`
}

// FavoritesConfig 收藏存储配置
type FavoritesConfig struct {
	// Path 收藏文件路径（JSON）
	Path string `yaml:"path"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// ChangesEnabled 是否输出变化记录文件
	ChangesEnabled bool `yaml:"changes_enabled"`
	// MetricsEnabled 是否输出指标文件
	MetricsEnabled bool `yaml:"metrics_enabled"`
	// MetricsIntervalMs 指标输出间隔（毫秒）
	MetricsIntervalMs int `yaml:"metrics_interval_ms"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
}

// Load 从文件加载配置并验证
// 参数 path: 配置文件路径
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	// 读取配置文件
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析 YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 环境变量覆盖（便于不把后端地址写进仓库）
	if v := os.Getenv("ODDSWATCH_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}

	// 设置默认值
	cfg.setDefaults()

	// 验证配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() {
	// 应用默认值
	if c.App.Name == "" {
		c.App.Name = "odds-feed-reconciler"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	// 后端默认值
	if c.Backend.TimeoutMs == 0 {
		c.Backend.TimeoutMs = 10000 // 10 秒
	}
	if c.Backend.Retry.MaxAttempts == 0 {
		c.Backend.Retry.MaxAttempts = 3
	}
	if c.Backend.Retry.BaseMs == 0 {
		c.Backend.Retry.BaseMs = 500 // 0.5 秒
	}
	if c.Backend.Retry.MaxMs == 0 {
		c.Backend.Retry.MaxMs = 5000 // 5 秒
	}

	// SSE 默认值
	if c.SSE.Path == "" {
		c.SSE.Path = "/api/v2/sse/props"
	}
	if c.SSE.MaxAttempts == 0 {
		c.SSE.MaxAttempts = 10
	}
	if c.SSE.BufferSize == 0 {
		c.SSE.BufferSize = 1000
	}

	// 刷新默认值
	if c.Refresh.DebounceMs == 0 {
		c.Refresh.DebounceMs = 1500 // 1.5 秒
	}
	if c.Refresh.FlashMs == 0 {
		c.Refresh.FlashMs = 5000 // 5 秒
	}
	if c.Refresh.InitialBatch == 0 {
		c.Refresh.InitialBatch = 10
	}
	if c.Refresh.ChunkSize == 0 {
		c.Refresh.ChunkSize = 25
	}
	if c.Refresh.ChunkRatePerSec == 0 {
		c.Refresh.ChunkRatePerSec = 4 // 每秒 4 个后台批次
	}

	// 模式默认值
	if c.Mode == "" {
		c.Mode = string(model.ModePreset)
	}

	// 收藏默认值
	if c.Favorites.Path == "" {
		c.Favorites.Path = "./favorites.json"
	}

	// 输出默认值
	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.MetricsIntervalMs == 0 {
		c.Output.MetricsIntervalMs = 10000 // 10 秒
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}
}

// Validate 验证配置合法性
// 检查所有必填项和数值范围
// 返回: 若配置无效则返回描述性错误
func (c *Config) Validate() error {
	var errs []string

	// 验证后端配置
	if c.Backend.BaseURL == "" {
		errs = append(errs, "backend.base_url: 后端地址不能为空")
	}
	if c.Backend.TimeoutMs <= 0 {
		errs = append(errs, "backend.timeout_ms: 请求超时必须为正数")
	}
	if c.Backend.Retry.MaxAttempts <= 0 {
		errs = append(errs, "backend.retry.max_attempts: 最大尝试次数必须为正数")
	}

	// 验证 SSE 配置
	if len(c.SSE.Sports) == 0 {
		errs = append(errs, "sse.sports: 至少需要订阅一个运动")
	}
	for i, sport := range c.SSE.Sports {
		if sport == "" {
			errs = append(errs, fmt.Sprintf("sse.sports[%d]: 运动标识不能为空", i))
		}
	}
	if c.SSE.MaxAttempts <= 0 {
		errs = append(errs, "sse.max_attempts: 重连次数上限必须为正数")
	}

	// 验证刷新配置
	if c.Refresh.DebounceMs <= 0 {
		errs = append(errs, "refresh.debounce_ms: 防抖窗口必须为正数")
	}
	if c.Refresh.FlashMs <= 0 {
		errs = append(errs, "refresh.flash_ms: flash 窗口必须为正数")
	}
	if c.Refresh.InitialBatch <= 0 {
		errs = append(errs, "refresh.initial_batch: 首批数量必须为正数")
	}
	if c.Refresh.ChunkSize <= 0 {
		errs = append(errs, "refresh.chunk_size: 批次大小必须为正数")
	}
	if c.Refresh.ChunkRatePerSec <= 0 {
		errs = append(errs, "refresh.chunk_rate_per_sec: 批次速率必须为正数")
	}

	// 验证模式配置
	switch c.Mode {
	case string(model.ModePreset):
		if len(c.Presets) == 0 {
			errs = append(errs, "presets: preset 模式至少需要一个预设")
		}
		seen := make(map[string]bool, len(c.Presets))
		for i, p := range c.Presets {
			if p.ID == "" {
				errs = append(errs, fmt.Sprintf("presets[%d].id: 预设标识不能为空", i))
			} else if seen[p.ID] {
				errs = append(errs, fmt.Sprintf("presets[%d].id: 预设标识重复 '%s'", i, p.ID))
			}
			seen[p.ID] = true
			if p.Name == "" {
				errs = append(errs, fmt.Sprintf("presets[%d].name: 预设名称不能为空", i))
			}
			if p.MinEdgePct < 0 {
				errs = append(errs, fmt.Sprintf("presets[%d].min_edge_pct: edge 阈值不能为负数", i))
			}
			if p.OddsMin != 0 && p.OddsMax != 0 && p.OddsMin > p.OddsMax {
				errs = append(errs, fmt.Sprintf("presets[%d]: odds_min 不能大于 odds_max", i))
			}
		}
	case string(model.ModeCustomBlend):
		if len(c.Blend.BookWeights) == 0 {
			errs = append(errs, "blend.book_weights: custom_blend 模式至少需要一个 book 权重")
		}
		var sum float64
		for book, w := range c.Blend.BookWeights {
			if w < 0 || w > 1 {
				errs = append(errs, fmt.Sprintf("blend.book_weights.%s: 权重必须在 0-1 之间，当前值: %f", book, w))
			}
			sum += w
		}
		if len(c.Blend.BookWeights) > 0 && (sum < 0.999 || sum > 1.001) {
			errs = append(errs, fmt.Sprintf("blend.book_weights: 权重和必须为 1，当前值: %f", sum))
		}
	default:
		errs = append(errs, fmt.Sprintf("mode: 无效的过滤模式 '%s'，有效值: preset, custom_blend", c.Mode))
	}

	// 验证输出配置
	if c.Output.MetricsIntervalMs <= 0 {
		errs = append(errs, "output.metrics_interval_ms: 指标输出间隔必须为正数")
	}

	// 验证日志级别
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// FilterMode 获取配置对应的过滤模式变体
// custom_blend 模式下携带 blend 配置
func (c *Config) FilterMode() model.FilterMode {
	if c.Mode == string(model.ModeCustomBlend) {
		return model.CustomBlendMode(&model.BlendConfig{BookWeights: c.Blend.BookWeights})
	}
	return model.PresetMode()
}

// FilterSource 获取预设对应的来源元数据
func (p *PresetConfig) FilterSource() model.FilterSource {
	return model.FilterSource{ID: p.ID, Name: p.Name, Color: p.Color}
}
