// Package api 后端 API 客户端测试
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"odds-feed-reconciler/internal/core/model"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Base: time.Millisecond, Max: 5 * time.Millisecond}
}

func TestPropsTable_SkipsMalformedItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/props/table" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if got := r.URL.Query().Get("sport"); got != "nba" {
			t.Errorf("sport=%s", got)
		}
		_ = json.NewEncoder(w).Encode(PropsTableResponse{
			Rows: []PropsTableItem{
				{Row: &model.OddsRow{StableKey: "k1", Sport: "nba", EventID: "e1", Market: "m", BestPrice: -110}},
				{Row: nil}, // 缺损项：缺 row
				{Row: &model.OddsRow{StableKey: "", BestPrice: -110}}, // 缺损项：无效行
				{Row: &model.OddsRow{StableKey: "k2", Sport: "nba", EventID: "e1", Market: "m", BestPrice: 120}},
			},
			NextCursor: "cursor-2",
			Meta:       PropsMeta{DurationMs: 12.5},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, fastRetry(), nil)
	rows, cursor, err := c.PropsTable(context.Background(), PropsQuery{Sport: "nba", Limit: 50})
	if err != nil {
		t.Fatalf("PropsTable 失败: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("有效行 %d, want 2（缺损项逐个跳过，不中断整批）", len(rows))
	}
	if cursor != "cursor-2" {
		t.Fatalf("cursor=%s", cursor)
	}
	if c.SkippedCount() != 2 {
		t.Fatalf("SkippedCount=%d, want 2", c.SkippedCount())
	}
}

func TestDoJSON_RetriesOn5xx(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(OpportunitiesResponse{TotalScanned: 10})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, fastRetry(), nil)
	resp, err := c.Opportunities(context.Background(), OppQuery{Sports: []string{"nba"}, PresetID: "p1"})
	if err != nil {
		t.Fatalf("重试后仍失败: %v", err)
	}
	if resp.TotalScanned != 10 {
		t.Fatalf("resp=%+v", resp)
	}
	if got := atomic.LoadInt64(&calls); got != 3 {
		t.Fatalf("请求 %d 次，want 3", got)
	}
}

func TestDoJSON_NoRetryOn4xx(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, fastRetry(), nil)
	_, err := c.Opportunities(context.Background(), OppQuery{PresetID: "p1"})
	if err == nil {
		t.Fatalf("4xx 应返回错误")
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("4xx 不应重试，请求了 %d 次", got)
	}
}

func TestDoJSON_ExhaustsAttempts(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, fastRetry(), nil)
	_, err := c.Opportunities(context.Background(), OppQuery{PresetID: "p1"})
	if err == nil {
		t.Fatalf("重试耗尽应返回错误")
	}
	if got := atomic.LoadInt64(&calls); got != 3 {
		t.Fatalf("请求 %d 次，want 3（尝试上限）", got)
	}
}

func TestDoJSON_ContextCancelStopsRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(srv.URL, time.Second, RetryPolicy{MaxAttempts: 5, Base: 100 * time.Millisecond, Max: time.Second}, nil)
	start := time.Now()
	_, err := c.Opportunities(ctx, OppQuery{PresetID: "p1"})
	if err == nil {
		t.Fatalf("取消的 ctx 应返回错误")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("取消后不应继续等待退避: %v", elapsed)
	}
}

func TestHitRateOdds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/nba/hit-rates/odds" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method=%s", r.Method)
		}
		var req HitRateOddsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		if len(req.Selections) != 2 || req.Selections[0].StableKey != "k1" {
			t.Errorf("selections=%+v", req.Selections)
		}
		_ = json.NewEncoder(w).Encode(HitRateOddsResponse{
			Odds: map[string]LineOdds{
				"k1": {Line: 27.5, BestPrice: -110, BestBook: "draftkings"},
				"k2": {Line: 8.5, BestPrice: 105, BestBook: "fanduel"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, fastRetry(), nil)
	odds, err := c.HitRateOdds(context.Background(), "nba", []Selection{
		{StableKey: "k1", Line: 27.5},
		{StableKey: "k2", Line: 8.5},
	})
	if err != nil {
		t.Fatalf("HitRateOdds 失败: %v", err)
	}
	if len(odds) != 2 || odds["k1"].BestPrice != -110 {
		t.Fatalf("odds=%+v", odds)
	}
}

func TestHitRateOdds_EmptySelections(t *testing.T) {
	// 空选择项不应发起请求
	c := NewClient("http://127.0.0.1:1", time.Second, fastRetry(), nil)
	odds, err := c.HitRateOdds(context.Background(), "nba", nil)
	if err != nil {
		t.Fatalf("空选择项不应报错: %v", err)
	}
	if len(odds) != 0 {
		t.Fatalf("odds=%+v", odds)
	}
}

func TestOpportunities_BlendParam(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		blend := r.URL.Query().Get("blend")
		var cfg model.BlendConfig
		if err := json.Unmarshal([]byte(blend), &cfg); err != nil {
			t.Errorf("blend 参数不是合法 JSON: %q", blend)
		}
		if cfg.BookWeights["pinnacle"] != 0.7 {
			t.Errorf("blend=%+v", cfg)
		}
		_ = json.NewEncoder(w).Encode(OpportunitiesResponse{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, fastRetry(), nil)
	_, err := c.Opportunities(context.Background(), OppQuery{
		Blend: &model.BlendConfig{BookWeights: map[string]float64{"pinnacle": 0.7, "circa": 0.3}},
	})
	if err != nil {
		t.Fatalf("Opportunities 失败: %v", err)
	}
}
