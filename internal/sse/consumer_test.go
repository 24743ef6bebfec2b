// Package sse SSE 消费端测试
package sse

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"odds-feed-reconciler/internal/config"
	"odds-feed-reconciler/internal/core/model"
	"odds-feed-reconciler/internal/util/backoff"
)

func testSSEConfig() *config.SSEConfig {
	return &config.SSEConfig{
		Path:        "/api/v2/sse/props",
		Sports:      []string{"nba"},
		MaxAttempts: 3,
		BufferSize:  100,
	}
}

func newTestConsumer(baseURL string, cfg *config.SSEConfig) *Consumer {
	c := NewConsumer(baseURL, cfg, zap.NewNop())
	// 测试用缩短退避，避免拖慢用例
	c.backoff = backoff.New(time.Millisecond, 5*time.Millisecond, 0).WithMaxAttempts(cfg.MaxAttempts)
	return c
}

// sseHandler 按事件块输出并立即 flush
func writeEvent(w http.ResponseWriter, payload string) {
	fmt.Fprintf(w, "data: %s\n\n", payload)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestConsumer_ParsesUpdateNotifications(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("sports"); got != "nba" {
			t.Errorf("sports=%s", got)
		}
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept=%s", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")

		// keepalive 注释行应被跳过
		fmt.Fprint(w, ": keepalive\n\n")
		// 非 update 类型应被跳过
		writeEvent(w, `{"type":"heartbeat","timestamp":1700000000000}`)
		// 正常更新通知
		writeEvent(w, `{"type":"update","keys":["odds:nba:evt1:player_points:draftkings","odds:nba:evt2:player_assists:fanduel"],"count":2,"timestamp":1700000000000}`)
		// 解析失败的载荷单独跳过，不影响后续
		writeEvent(w, `{not-json`)
		writeEvent(w, `{"type":"update","keys":["odds:nfl:evt3:passing_yards:mgm"],"count":1,"timestamp":1700000001000}`)

		// 挂起直到客户端断开
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := newTestConsumer(srv.URL, testSSEConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go c.Run(ctx)

	var got []*model.UpdateNotification
	for len(got) < 2 {
		select {
		case n := <-c.NotifyCh():
			got = append(got, n)
		case <-ctx.Done():
			t.Fatalf("超时，只收到 %d 条通知", len(got))
		}
	}

	if len(got[0].Keys) != 2 || got[0].Keys[0] != "odds:nba:evt1:player_points:draftkings" {
		t.Fatalf("first=%+v", got[0])
	}
	if got[0].ArrivedAtUnixNs == 0 {
		t.Fatalf("ArrivedAtUnixNs 未填充")
	}
	if got[1].Count != 1 {
		t.Fatalf("second=%+v", got[1])
	}
	if st := c.State(); st != model.StateConnected {
		t.Fatalf("state=%s, want connected", st)
	}
	if m := c.Metrics(); m.ParseErrorCount != 1 {
		t.Fatalf("ParseErrorCount=%d, want 1", m.ParseErrorCount)
	}
}

func TestConsumer_ReconnectsAfterStreamClose(t *testing.T) {
	var conns int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&conns, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, fmt.Sprintf(`{"type":"update","keys":["odds:nba:evt%d:player_points:draftkings"],"count":1,"timestamp":1700000000000}`, n))
		if n == 1 {
			// 第一次连接：发完即关闭，触发重连
			return
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := newTestConsumer(srv.URL, testSSEConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go c.Run(ctx)

	var got []*model.UpdateNotification
	for len(got) < 2 {
		select {
		case n := <-c.NotifyCh():
			got = append(got, n)
		case <-ctx.Done():
			t.Fatalf("超时，只收到 %d 条通知", len(got))
		}
	}

	if atomic.LoadInt64(&conns) < 2 {
		t.Fatalf("conns=%d, want >=2", conns)
	}
	if m := c.Metrics(); m.ReconnectCount < 1 {
		t.Fatalf("ReconnectCount=%d, want >=1", m.ReconnectCount)
	}
	if st := c.State(); st != model.StateConnected {
		t.Fatalf("重连成功后 state=%s, want connected", st)
	}
}

func TestConsumer_FailedIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testSSEConfig()
	cfg.MaxAttempts = 2
	c := newTestConsumer(srv.URL, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := c.Run(ctx)
	if err == nil {
		t.Fatalf("重连耗尽应返回错误")
	}
	if ctx.Err() != nil {
		t.Fatalf("不应因超时退出: %v", ctx.Err())
	}
	if st := c.State(); st != model.StateFailed {
		t.Fatalf("state=%s, want failed", st)
	}

	// failed 终态不会被后续状态迁移覆盖
	c.setState(model.StateConnected)
	if st := c.State(); st != model.StateFailed {
		t.Fatalf("failed 应为终态，实际被覆盖为 %s", st)
	}
}

func TestConsumer_DropsWhenChannelFull(t *testing.T) {
	const total = 10
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < total; i++ {
			writeEvent(w, fmt.Sprintf(`{"type":"update","keys":["odds:nba:evt%d:player_points:draftkings"],"count":1,"timestamp":1700000000000}`, i))
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := testSSEConfig()
	cfg.BufferSize = 2
	c := newTestConsumer(srv.URL, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go c.Run(ctx)

	// 不消费通道，等待丢弃发生
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Metrics().DroppedCount > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	m := c.Metrics()
	if m.DroppedCount == 0 {
		t.Fatalf("通道满时应丢弃通知")
	}
	if got := len(c.NotifyCh()); got != cfg.BufferSize {
		t.Fatalf("缓冲区应保持满: buffered=%d, want %d", got, cfg.BufferSize)
	}
}

func TestSplitField(t *testing.T) {
	tests := []struct {
		line  string
		field string
		value string
	}{
		{"data: {\"a\":1}", "data", "{\"a\":1}"},
		{"data:{\"a\":1}", "data", "{\"a\":1}"},
		{"event: update", "event", "update"},
		{"retry: 3000", "retry", "3000"},
		{"nocolons", "nocolons", ""},
	}
	for _, tt := range tests {
		field, value := splitField([]byte(tt.line))
		if field != tt.field || string(value) != tt.value {
			t.Errorf("splitField(%q) = (%q, %q), want (%q, %q)", tt.line, field, value, tt.field, tt.value)
		}
	}
}
