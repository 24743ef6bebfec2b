// Package sse 实现后端实时更新流的 SSE 消费端。
// 连接地址: GET {base_url}/api/v2/sse/props?sports=nba,nfl
// 消息格式: text/event-stream，data 行为 JSON 更新通知
// 重连机制: 指数退避，次数耗尽后进入 failed 终态
package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"odds-feed-reconciler/internal/config"
	"odds-feed-reconciler/internal/core/model"
	"odds-feed-reconciler/internal/util/backoff"
	"odds-feed-reconciler/internal/util/timeutil"
)

// ConnectionMetrics SSE 连接指标
type ConnectionMetrics struct {
	// State 当前连接状态
	State model.ConnState `json:"state"`
	// ReconnectCount 重连总次数
	ReconnectCount int64 `json:"reconnect_count"`
	// NotificationsPerSec 最近一秒收到的通知数
	NotificationsPerSec float64 `json:"notifications_per_sec"`
	// LastEventAgeMs 距上次收到任意事件（含 keepalive）的毫秒数
	LastEventAgeMs int64 `json:"last_event_age_ms"`
	// ParseErrorCount 解析错误总数
	ParseErrorCount int64 `json:"parse_error_count"`
	// DroppedCount 通道满被丢弃的通知总数
	DroppedCount int64 `json:"dropped_count"`
}

// Consumer SSE 消费端
// 将后端推送的更新通知解析后写入缓冲通道；通道满时丢弃并告警。
type Consumer struct {
	// baseURL 后端基础地址
	baseURL string
	// cfg SSE 配置
	cfg *config.SSEConfig
	// httpClient HTTP 客户端（流式读取，不设整体超时）
	httpClient *http.Client
	// logger 日志记录器
	logger *zap.Logger
	// notifyCh 更新通知输出通道
	notifyCh chan *model.UpdateNotification
	// backoff 重连退避
	backoff *backoff.Backoff
	// state 当前连接状态
	state model.ConnState
	// stateMu 状态锁
	stateMu sync.RWMutex
	// metrics 连接指标
	metrics ConnectionMetrics
	// metricsMu 指标锁
	metricsMu sync.RWMutex
	// lastEventNs 最后事件时间（纳秒）
	lastEventNs int64
	// notifyCount 通知计数（用于计算每秒通知数）
	notifyCount int64
	// closed 是否已关闭
	closed int32
	// closeOnce 保证 notifyCh 只关闭一次
	closeOnce sync.Once

	// parseErrSampleCount 解析错误计数（用于采样日志）
	parseErrSampleCount uint64
	// lastParseErrLogNs 上次解析错误日志时间（纳秒）
	lastParseErrLogNs int64
}

// NewConsumer 创建 SSE 消费端
// 参数 baseURL: 后端基础地址
// 参数 cfg: SSE 配置
// 参数 logger: 日志记录器
func NewConsumer(baseURL string, cfg *config.SSEConfig, logger *zap.Logger) *Consumer {
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 1000
	}
	return &Consumer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger.Named("sse"),
		notifyCh:   make(chan *model.UpdateNotification, bufSize),
		backoff:    backoff.NewDefault().WithMaxAttempts(cfg.MaxAttempts),
		state:      model.StateConnecting,
	}
}

// Run 启动消费主循环
// 阻塞直到 ctx 取消、Close 被调用或重连次数耗尽。
// 重连耗尽返回错误并进入 failed 终态，由上层决定如何提示。
func (c *Consumer) Run(ctx context.Context) error {
	go c.metricsLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if atomic.LoadInt32(&c.closed) == 1 {
			return nil
		}

		err := c.consumeStream(ctx)
		if err == nil || ctx.Err() != nil {
			// 正常结束或上层取消
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}

		c.incrementReconnectCount()
		c.setState(model.StateReconnecting)

		if c.backoff.Exhausted() {
			c.setState(model.StateFailed)
			c.logger.Error("SSE 重连次数耗尽，停止重连",
				zap.Int("attempts", c.backoff.Attempt()),
				zap.Error(err))
			return fmt.Errorf("SSE 连接失败（已重试 %d 次）: %w", c.backoff.Attempt(), err)
		}

		delay := c.backoff.Next()
		c.logger.Warn("SSE 连接断开，准备重连",
			zap.Duration("delay", delay),
			zap.Int("attempt", c.backoff.Attempt()),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// streamURL 构建订阅地址
func (c *Consumer) streamURL() string {
	u := c.baseURL + c.cfg.Path
	if len(c.cfg.Sports) > 0 {
		q := url.Values{}
		q.Set("sports", strings.Join(c.cfg.Sports, ","))
		u += "?" + q.Encode()
	}
	return u
}

// consumeStream 建立一次连接并持续读取事件流
// 返回 nil 表示已关闭；返回错误表示需要重连。
func (c *Consumer) consumeStream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("构建 SSE 请求失败: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", "odds-feed-reconciler/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("建立 SSE 连接失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("SSE 连接返回非 200 状态: %d", resp.StatusCode)
	}

	c.backoff.Reset()
	c.setState(model.StateConnected)
	c.logger.Info("SSE 连接成功",
		zap.String("path", c.cfg.Path),
		zap.Strings("sports", c.cfg.Sports))

	return c.readEvents(ctx, resp.Body)
}

// readEvents 逐行解析 event-stream
// 协议: 事件由空行分隔；data: 行携带载荷，多行 data 以换行拼接；
// 以 ":" 开头的行是注释（后端用作 keepalive）；event/id/retry 字段
// 对本端无额外语义，跳过即可。
func (c *Consumer) readEvents(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var dataLines [][]byte

	for scanner.Scan() {
		if atomic.LoadInt32(&c.closed) == 1 {
			return nil
		}

		line := scanner.Bytes()
		atomic.StoreInt64(&c.lastEventNs, timeutil.NowNano())

		// 空行 = 事件结束，派发累积的 data
		if len(line) == 0 {
			if len(dataLines) > 0 {
				c.dispatch(bytes.Join(dataLines, []byte("\n")))
				dataLines = dataLines[:0]
			}
			continue
		}

		// 注释行（keepalive）
		if line[0] == ':' {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "data":
			// value 需要复制：scanner 会复用底层缓冲
			dataLines = append(dataLines, append([]byte(nil), value...))
		case "event", "id", "retry":
			// 本端不区分事件名，也不做断点续传
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("读取 SSE 流失败: %w", err)
	}
	// 服务端正常关闭流，同样视为断开触发重连
	return fmt.Errorf("SSE 流被服务端关闭")
}

// splitField 拆分 "field: value" 行
// 规范允许冒号后跟一个可选空格。
func splitField(line []byte) (string, []byte) {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return string(line), nil
	}
	value := line[idx+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return string(line[:idx]), value
}

// dispatch 解析一条事件载荷并写入通知通道
func (c *Consumer) dispatch(data []byte) {
	var n model.UpdateNotification
	if err := json.Unmarshal(data, &n); err != nil {
		c.incrementParseErrorCount()
		c.maybeLogParseError(err, data)
		return
	}

	// 仅处理 update 类型；其他类型（如心跳）静默跳过
	if n.Type != "update" || len(n.Keys) == 0 {
		return
	}

	n.ArrivedAtUnixNs = timeutil.NowNano()
	atomic.AddInt64(&c.notifyCount, 1)

	select {
	case c.notifyCh <- &n:
	default:
		c.incrementDroppedCount()
		c.logger.Warn("SSE 通知通道已满，丢弃通知", zap.Int("keys", len(n.Keys)))
	}
}

// metricsLoop 指标统计循环
// 每秒计算通知速率与最后事件距今时间
func (c *Consumer) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastCount int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}

			count := atomic.LoadInt64(&c.notifyCount)
			rate := float64(count - lastCount)
			lastCount = count

			lastEvent := atomic.LoadInt64(&c.lastEventNs)
			var ageMs int64
			if lastEvent > 0 {
				ageMs = timeutil.NanoToMs(timeutil.NowNano() - lastEvent)
			}

			c.metricsMu.Lock()
			c.metrics.NotificationsPerSec = rate
			c.metrics.LastEventAgeMs = ageMs
			c.metricsMu.Unlock()
		}
	}
}

// NotifyCh 获取更新通知通道
func (c *Consumer) NotifyCh() <-chan *model.UpdateNotification {
	return c.notifyCh
}

// State 获取当前连接状态
func (c *Consumer) State() model.ConnState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Metrics 获取连接指标快照
func (c *Consumer) Metrics() ConnectionMetrics {
	c.metricsMu.RLock()
	m := c.metrics
	c.metricsMu.RUnlock()
	m.State = c.State()
	return m
}

// Close 关闭消费端
// failed 终态不会被 Close 覆盖，方便上层读取失败原因。
func (c *Consumer) Close() error {
	atomic.StoreInt32(&c.closed, 1)
	c.closeOnce.Do(func() {
		close(c.notifyCh)
	})
	c.logger.Info("SSE 消费端已关闭")
	return nil
}

// setState 更新连接状态
// failed 是终态，不允许再迁移到其他状态。
func (c *Consumer) setState(s model.ConnState) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state == model.StateFailed {
		return
	}
	c.state = s
}

// incrementReconnectCount 增加重连计数
func (c *Consumer) incrementReconnectCount() {
	c.metricsMu.Lock()
	c.metrics.ReconnectCount++
	c.metricsMu.Unlock()
}

// incrementParseErrorCount 增加解析错误计数
func (c *Consumer) incrementParseErrorCount() {
	c.metricsMu.Lock()
	c.metrics.ParseErrorCount++
	c.metricsMu.Unlock()
}

// incrementDroppedCount 增加丢弃计数
func (c *Consumer) incrementDroppedCount() {
	c.metricsMu.Lock()
	c.metrics.DroppedCount++
	c.metricsMu.Unlock()
}

// maybeLogParseError 采样记录解析错误原始消息，避免刷盘
// 采样策略：每 100 次错误记录 1 条，且同一类日志至少间隔 1 分钟。
func (c *Consumer) maybeLogParseError(err error, data []byte) {
	count := atomic.AddUint64(&c.parseErrSampleCount, 1)
	if count%100 != 1 {
		return
	}

	nowNs := timeutil.NowNano()
	last := atomic.LoadInt64(&c.lastParseErrLogNs)
	if last > 0 && nowNs-last < int64(time.Minute) {
		return
	}
	atomic.StoreInt64(&c.lastParseErrLogNs, nowNs)

	sample := data
	if len(sample) > 200 {
		sample = sample[:200]
	}
	c.logger.Warn("解析 SSE 通知失败（采样）", zap.Error(err), zap.ByteString("data", sample))
}
