// Package config 配置加载测试
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"odds-feed-reconciler/internal/core/model"
)

// writeTempConfig 写入临时配置文件并返回路径
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

const validYAML = `
app:
  name: oddswatch-test
  log_level: debug
backend:
  base_url: https://api.example.com
sse:
  sports: [nba, nfl]
mode: preset
presets:
  - id: main
    name: 主预设
    color: "#22c55e"
    sports: [nba]
    markets: [player_points]
    min_edge_pct: 2.0
`

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}

	if cfg.App.Name != "oddswatch-test" {
		t.Fatalf("App.Name=%s", cfg.App.Name)
	}
	if cfg.Backend.BaseURL != "https://api.example.com" {
		t.Fatalf("Backend.BaseURL=%s", cfg.Backend.BaseURL)
	}
	if len(cfg.Presets) != 1 || cfg.Presets[0].ID != "main" {
		t.Fatalf("Presets=%+v", cfg.Presets)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}

	if cfg.Backend.TimeoutMs != 10000 {
		t.Fatalf("Backend.TimeoutMs=%d, want 10000", cfg.Backend.TimeoutMs)
	}
	if cfg.Backend.Retry.MaxAttempts != 3 {
		t.Fatalf("Retry.MaxAttempts=%d, want 3", cfg.Backend.Retry.MaxAttempts)
	}
	if cfg.SSE.Path != "/api/v2/sse/props" {
		t.Fatalf("SSE.Path=%s", cfg.SSE.Path)
	}
	if cfg.SSE.MaxAttempts != 10 {
		t.Fatalf("SSE.MaxAttempts=%d, want 10", cfg.SSE.MaxAttempts)
	}
	if cfg.Refresh.DebounceMs != 1500 {
		t.Fatalf("Refresh.DebounceMs=%d, want 1500", cfg.Refresh.DebounceMs)
	}
	if cfg.Refresh.FlashMs != 5000 {
		t.Fatalf("Refresh.FlashMs=%d, want 5000", cfg.Refresh.FlashMs)
	}
	if cfg.Refresh.InitialBatch != 10 || cfg.Refresh.ChunkSize != 25 {
		t.Fatalf("批量默认值错误: %+v", cfg.Refresh)
	}
	if cfg.Output.MetricsIntervalMs != 10000 {
		t.Fatalf("Output.MetricsIntervalMs=%d", cfg.Output.MetricsIntervalMs)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ODDSWATCH_BACKEND_URL", "https://override.example.com")

	cfg, err := Load(writeTempConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}
	if cfg.Backend.BaseURL != "https://override.example.com" {
		t.Fatalf("环境变量覆盖未生效: %s", cfg.Backend.BaseURL)
	}
}

func TestLoad_FileMissing(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatalf("不存在的文件应返回错误")
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"缺少后端地址",
			`
sse:
  sports: [nba]
mode: preset
presets:
  - {id: p1, name: a}
`,
			"backend.base_url",
		},
		{
			"缺少运动订阅",
			`
backend: {base_url: https://api.example.com}
mode: preset
presets:
  - {id: p1, name: a}
`,
			"sse.sports",
		},
		{
			"无效模式",
			`
backend: {base_url: https://api.example.com}
sse: {sports: [nba]}
mode: something_else
`,
			"mode:",
		},
		{
			"preset 模式缺预设",
			`
backend: {base_url: https://api.example.com}
sse: {sports: [nba]}
mode: preset
`,
			"presets:",
		},
		{
			"预设标识重复",
			`
backend: {base_url: https://api.example.com}
sse: {sports: [nba]}
mode: preset
presets:
  - {id: p1, name: a}
  - {id: p1, name: b}
`,
			"预设标识重复",
		},
		{
			"blend 权重和错误",
			`
backend: {base_url: https://api.example.com}
sse: {sports: [nba]}
mode: custom_blend
blend:
  book_weights:
    pinnacle: 0.5
    circa: 0.2
`,
			"权重和必须为 1",
		},
		{
			"无效日志级别",
			`
app: {log_level: verbose}
backend: {base_url: https://api.example.com}
sse: {sports: [nba]}
mode: preset
presets:
  - {id: p1, name: a}
`,
			"app.log_level",
		},
	}

	// 防止外部环境变量干扰 base_url 相关用例
	t.Setenv("ODDSWATCH_BACKEND_URL", "")

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.yaml))
			if err == nil {
				t.Fatalf("应返回验证错误")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("错误信息 %q 不包含 %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestFilterMode(t *testing.T) {
	preset := &Config{Mode: string(model.ModePreset)}
	if m := preset.FilterMode(); m.Kind != model.ModePreset || m.Blend != nil {
		t.Fatalf("preset FilterMode=%+v", m)
	}

	blend := &Config{
		Mode:  string(model.ModeCustomBlend),
		Blend: BlendConfig{BookWeights: map[string]float64{"pinnacle": 1}},
	}
	m := blend.FilterMode()
	if m.Kind != model.ModeCustomBlend || m.Blend == nil || m.Blend.BookWeights["pinnacle"] != 1 {
		t.Fatalf("custom_blend FilterMode=%+v", m)
	}
}
