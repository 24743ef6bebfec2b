// Package api 实现后端 REST API 客户端。
// 统一处理重试（指数退避、固定尝试上限）、超时与缺损批次项的防御性跳过。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"odds-feed-reconciler/internal/core/model"
	"odds-feed-reconciler/internal/util/backoff"
	"odds-feed-reconciler/internal/util/fastparse"
	"odds-feed-reconciler/internal/util/timeutil"
)

// userAgent 请求标识
const userAgent = "odds-feed-reconciler/1.0"

// RetryPolicy 请求重试策略
type RetryPolicy struct {
	// MaxAttempts 最大尝试次数（含首次）
	MaxAttempts int
	// Base 退避基础间隔
	Base time.Duration
	// Max 退避最大间隔
	Max time.Duration
}

// DefaultRetryPolicy 默认重试策略: 3 次尝试，0.5s 基础间隔，5s 上限
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Base: 500 * time.Millisecond, Max: 5 * time.Second}
}

// StatusError 非 2xx 响应错误
type StatusError struct {
	// Code HTTP 状态码
	Code int
}

// Error 实现 error 接口
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP 状态码错误: %d", e.Code)
}

// retryable 判断状态码是否可重试
// 5xx 与 429 可重试；4xx（除 429）为调用方错误，重试无意义。
func (e *StatusError) retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Client 后端 REST API 客户端
type Client struct {
	// baseURL 后端基础地址
	baseURL string
	// httpClient HTTP 客户端（带整体超时）
	httpClient *http.Client
	// retry 重试策略
	retry RetryPolicy
	// logger 日志记录器
	logger *zap.Logger

	// skipCount 缺损批次项计数（用于采样日志）
	skipCount uint64
	// lastSkipLogNs 上次缺损日志时间（纳秒）
	lastSkipLogNs int64
}

// NewClient 创建后端 API 客户端
// 参数 baseURL: 后端基础地址
// 参数 timeout: 单次请求超时
// 参数 retry: 重试策略
// 参数 logger: 日志记录器
func NewClient(baseURL string, timeout time.Duration, retry RetryPolicy, logger *zap.Logger) *Client {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry,
		logger:     logger.Named("api"),
	}
}

// PropsTable 获取 props 表格一页数据
// 缺损批次项（Row 缺失或无效）单独跳过并采样告警，不中断整批。
// 返回: 有效赔率行、下一页游标
func (c *Client) PropsTable(ctx context.Context, q PropsQuery) ([]*model.OddsRow, string, error) {
	params := url.Values{}
	params.Set("sport", q.Sport)
	if q.Market != "" {
		params.Set("market", q.Market)
	}
	if q.Scope != "" {
		params.Set("scope", q.Scope)
	}
	if q.Limit > 0 {
		params.Set("limit", fastparse.FormatInt(int64(q.Limit)))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}

	var resp PropsTableResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v2/props/table", params, nil, &resp); err != nil {
		return nil, "", fmt.Errorf("请求 props 表格失败: %w", err)
	}

	rows := make([]*model.OddsRow, 0, len(resp.Rows))
	for _, item := range resp.Rows {
		if item.Row == nil || !item.Row.IsValid() {
			c.maybeLogSkipped()
			continue
		}
		rows = append(rows, item.Row)
	}
	return rows, resp.NextCursor, nil
}

// Opportunities 获取机会列表
// preset 模式传 PresetID；custom_blend 模式传 Blend（JSON 序列化进 blend 参数）。
func (c *Client) Opportunities(ctx context.Context, q OppQuery) (*OpportunitiesResponse, error) {
	params := url.Values{}
	if len(q.Sports) > 0 {
		params.Set("sports", strings.Join(q.Sports, ","))
	}
	if len(q.Markets) > 0 {
		params.Set("markets", strings.Join(q.Markets, ","))
	}
	if q.PresetID != "" {
		params.Set("preset", q.PresetID)
	}
	if q.Blend != nil {
		blend, err := json.Marshal(q.Blend)
		if err != nil {
			return nil, fmt.Errorf("序列化 blend 配置失败: %w", err)
		}
		params.Set("blend", string(blend))
	}
	if q.MinEdgePct > 0 {
		params.Set("minEdge", fastparse.FormatFloat(q.MinEdgePct, -1))
	}
	if q.OddsMin != 0 {
		params.Set("oddsMin", fastparse.FormatFloat(q.OddsMin, -1))
	}
	if q.OddsMax != 0 {
		params.Set("oddsMax", fastparse.FormatFloat(q.OddsMax, -1))
	}
	if q.Scope != "" {
		params.Set("scope", q.Scope)
	}
	if q.Limit > 0 {
		params.Set("limit", fastparse.FormatInt(int64(q.Limit)))
	}

	var resp OpportunitiesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v2/opportunities", params, nil, &resp); err != nil {
		return nil, fmt.Errorf("请求机会列表失败: %w", err)
	}
	return &resp, nil
}

// HitRateOdds 批量查询选择项的最新赔率
// 参数 sport: 运动标识（路径参数）
// 参数 selections: 选择项列表
// 返回: stableKey -> 最新赔率
func (c *Client) HitRateOdds(ctx context.Context, sport string, selections []Selection) (map[string]LineOdds, error) {
	if len(selections) == 0 {
		return map[string]LineOdds{}, nil
	}

	path := fmt.Sprintf("/api/%s/hit-rates/odds", sport)
	var resp HitRateOddsResponse
	if err := c.doJSON(ctx, http.MethodPost, path, nil, HitRateOddsRequest{Selections: selections}, &resp); err != nil {
		return nil, fmt.Errorf("批量查询赔率失败: %w", err)
	}
	if resp.Odds == nil {
		return map[string]LineOdds{}, nil
	}
	return resp.Odds, nil
}

// doJSON 执行带重试的 JSON 请求
// 网络错误与 5xx/429 按退避重试，直到尝试上限；4xx 不重试。
// ctx 取消立即终止，不再等待退避。
func (c *Client) doJSON(ctx context.Context, method, path string, params url.Values, body any, out any) error {
	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
	}

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	bo := backoff.New(c.retry.Base, c.retry.Max, 0.2)

	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(bo.Next()):
			}
		}

		lastErr = c.doOnce(ctx, method, fullURL, reqBody, out)
		if lastErr == nil {
			return nil
		}

		// ctx 取消/超时不重试
		if ctx.Err() != nil {
			return lastErr
		}
		// 4xx 不重试
		if se, ok := lastErr.(*StatusError); ok && !se.retryable() {
			return lastErr
		}

		c.logger.Warn("请求失败，准备重试",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}

	return fmt.Errorf("重试 %d 次后仍失败: %w", c.retry.MaxAttempts, lastErr)
}

// doOnce 执行单次请求并解析 JSON 响应
func (c *Client) doOnce(ctx context.Context, method, fullURL string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// 读掉响应体以便连接复用
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

// maybeLogSkipped 采样记录缺损批次项，避免刷日志
// 采样策略：每 100 个缺损项记录 1 条，且同一类日志至少间隔 1 分钟。
func (c *Client) maybeLogSkipped() {
	count := atomic.AddUint64(&c.skipCount, 1)
	if count%100 != 1 {
		return
	}

	nowNs := timeutil.NowNano()
	last := atomic.LoadInt64(&c.lastSkipLogNs)
	if last > 0 && nowNs-last < int64(time.Minute) {
		return
	}
	atomic.StoreInt64(&c.lastSkipLogNs, nowNs)

	c.logger.Warn("跳过缺损批次项（采样）", zap.Uint64("total_skipped", count))
}

// SkippedCount 获取累计跳过的缺损批次项数量
func (c *Client) SkippedCount() uint64 {
	return atomic.LoadUint64(&c.skipCount)
}
