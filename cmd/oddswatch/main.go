// Package main 是赔率 feed 对账器的入口点。
// 对账器订阅后端的 SSE 更新通知，对展示中的赔率行做防抖刷新、
// 渐进式批量拉取与变化检测，并把变化记录与运行指标落盘 JSONL。
// 后端永远是赔率数据的唯一权威，本程序从不在本地推算赔率。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"odds-feed-reconciler/internal/api"
	"odds-feed-reconciler/internal/config"
	"odds-feed-reconciler/internal/core/model"
	"odds-feed-reconciler/internal/favorites"
	"odds-feed-reconciler/internal/output/jsonl"
	"odds-feed-reconciler/internal/reconciler"
	"odds-feed-reconciler/internal/sse"
	"odds-feed-reconciler/internal/util/timeutil"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.Parse()

	// .env 存在时加载（ODDSWATCH_BACKEND_URL 等敏感项不写进配置文件）
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel, cfg.App.LogFile)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	// 收藏存储（可选）
	var favStore *favorites.Store
	if cfg.Favorites.Path != "" {
		favStore, err = favorites.Open(cfg.Favorites.Path, logger)
		if err != nil {
			logger.Error("打开收藏存储失败", zap.Error(err))
			os.Exit(1)
		}
	}

	// JSONL 输出
	var changesWriter *jsonl.Writer
	var metricsWriter *jsonl.Writer
	if cfg.Output.ChangesEnabled {
		changesWriter, err = jsonl.NewWriter(fmt.Sprintf("%s/changes.jsonl", cfg.Output.Dir), cfg.Output.BufferSize)
		if err != nil {
			logger.Error("创建 changes writer 失败", zap.Error(err))
			os.Exit(1)
		}
	}
	if cfg.Output.MetricsEnabled {
		metricsWriter, err = jsonl.NewWriter(fmt.Sprintf("%s/metrics.jsonl", cfg.Output.Dir), cfg.Output.BufferSize)
		if err != nil {
			logger.Error("创建 metrics writer 失败", zap.Error(err))
			os.Exit(1)
		}
	}

	client := api.NewClient(
		cfg.Backend.BaseURL,
		time.Duration(cfg.Backend.TimeoutMs)*time.Millisecond,
		api.RetryPolicy{
			MaxAttempts: cfg.Backend.Retry.MaxAttempts,
			Base:        time.Duration(cfg.Backend.Retry.BaseMs) * time.Millisecond,
			Max:         time.Duration(cfg.Backend.Retry.MaxMs) * time.Millisecond,
		},
		logger,
	)

	rec := reconciler.New(cfg, client, favStore, changesWriter, logger)

	// 初始加载：表格 + 收藏
	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	defer startCancel()
	if err := rec.LoadTable(startCtx, cfg.SSE.Sports); err != nil {
		logger.Error("初始加载失败", zap.Error(err))
		os.Exit(1)
	}
	if err := rec.LoadFavorites(startCtx); err != nil {
		// 收藏加载失败不挡启动，只是收藏行不在本轮视图里
		logger.Warn("收藏加载失败", zap.Error(err))
	}

	consumer := sse.NewConsumer(cfg.Backend.BaseURL, &cfg.SSE, logger)
	go rec.Run(ctx, consumer.NotifyCh())

	sseErrCh := make(chan error, 1)
	go func() {
		sseErrCh <- consumer.Run(ctx)
	}()

	runMetricsLoop(ctx, logger, cfg, rec, consumer, client, metricsWriter, sseErrCh)

	// 最后一条指标快照（便于离线复盘）
	if metricsWriter != nil {
		_ = metricsWriter.Write(buildSnapshot(rec, consumer, client))
		_ = metricsWriter.Flush()
	}

	// 优雅关闭（10s 超时）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rec.Close()
		_ = consumer.Close()
		if changesWriter != nil {
			_ = changesWriter.Close()
		}
		if metricsWriter != nil {
			_ = metricsWriter.Close()
		}
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("关闭超时，强制退出")
	case <-done:
		logger.Info("关闭完成")
	}
}

// runMetricsLoop 主循环：周期输出指标，监控 SSE 终态
// SSE 进入 failed 终态时整个进程退出（由进程管理器决定是否重启）。
func runMetricsLoop(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	rec *reconciler.Reconciler,
	consumer *sse.Consumer,
	client *api.Client,
	metricsWriter *jsonl.Writer,
	sseErrCh <-chan error,
) {
	intervalMs := cfg.Output.MetricsIntervalMs
	if intervalMs <= 0 {
		intervalMs = 10000
	}
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-sseErrCh:
			if err != nil && ctx.Err() == nil {
				if consumer.State() == model.StateFailed {
					logger.Error("SSE 进入 failed 终态，退出", zap.Error(err))
				} else {
					logger.Error("SSE 消费退出", zap.Error(err))
				}
			}
			return

		case <-ticker.C:
			if metricsWriter == nil {
				continue
			}
			_ = metricsWriter.Write(buildSnapshot(rec, consumer, client))
			_ = metricsWriter.Flush()
		}
	}
}

// buildSnapshot 采集一条指标快照
func buildSnapshot(rec *reconciler.Reconciler, consumer *sse.Consumer, client *api.Client) *jsonl.MetricsSnapshot {
	cacheLen, cacheVersion, refreshCount, latency := rec.Snapshot()
	return &jsonl.MetricsSnapshot{
		TsUnixMs:     timeutil.NowMs(),
		Connection:   consumer.Metrics(),
		CacheLen:     cacheLen,
		CacheVersion: cacheVersion,
		Latency:      latency,
		RefreshCount: refreshCount,
		SkippedRows:  client.SkippedCount(),
	}
}

// newLogger 构建日志记录器
// log_file 配置了就写滚动日志文件，否则走标准输出。
func newLogger(level, logFile string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	if logFile == "" {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

		logger, err := cfg.Build()
		if err != nil {
			return zap.NewNop()
		}
		return logger
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.AddSync(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}),
		lvl,
	)
	return zap.New(core)
}
