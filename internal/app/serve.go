package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/colonygate/internal/bot"
	"github.com/hitoshi/colonygate/internal/config"
	"github.com/hitoshi/colonygate/internal/handler"
	"github.com/hitoshi/colonygate/internal/metrics"
	"github.com/hitoshi/colonygate/internal/middleware"
	"github.com/hitoshi/colonygate/internal/worker/cleanup"
	"github.com/hitoshi/colonygate/internal/worker/enforce"
)

const (
	// shutdownTimeout はHTTPサーバーのグレースフルシャットダウンの上限。
	shutdownTimeout = 30 * time.Second
	// guildCleanupInterval は退出済みギルドの削除ジョブの実行間隔。
	guildCleanupInterval = time.Hour
)

// serveOptions はserveコマンドのフラグ。
type serveOptions struct {
	// webOnly がtrueの場合、Discordボットとワーカーを起動しない。
	webOnly bool
}

// runServe はHTTPサーバー、Discordボット、ワーカーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts serveOptions) error {
	if !opts.webOnly {
		if err := cfg.RequireDiscord(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. ストレージ
	store, db, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		logger.Info("database connection established", slog.String("storage", cfg.StorageType))
	}

	// 3. ゲート評価器
	ev, closeChain, err := newEvaluator(ctx, cfg, logger, collector)
	if err != nil {
		return err
	}
	defer closeChain()

	// 4. コントローラ。シグナル受信後も残りの要求を処理できるよう、ctxとは独立して止める
	rc, err := startController(context.WithoutCancel(ctx), store, ev, cfg, logger, collector)
	if err != nil {
		return err
	}
	collector.RegisterQueue(rc.sender.Len, rc.sender.Cap())
	collector.RegisterCache(ev.CacheStats)

	// 5. HTTPサーバー
	web := rc.sender.FailFast()
	deps := handler.RouterDeps{
		Logger:        logger,
		Registrar:     web,
		Sessions:      rc.codec,
		SessionConfig: handler.SessionHandlerConfig{RequireSignature: cfg.RequireSignature},
		AboutHTML:     cfg.ServerAboutHTML,
		InviteURL:     cfg.DiscordInviteURL,
		RateLimit:     middleware.RateLimiterConfigPerMinute(cfg.RateLimitPages),
		CookieSecure:  cfg.CookieSecure,
		Metrics:       collector,
		Gatherer:      reg,
	}
	if db != nil {
		deps.Pinger = db
	}
	router, err := handler.NewRouter(&deps)
	if err != nil {
		web.Close()
		rc.stop()
		return fmt.Errorf("failed to build router: %w", err)
	}

	server := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// 6. Discordボットとワーカー
	var workers sync.WaitGroup
	var runErr error
	if !opts.webOnly {
		if err := startBot(ctx, cfg, rc, logger, collector, &workers); err != nil {
			runErr = err
			stop()
		}
	}

	if runErr == nil {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
		case err := <-serverErr:
			runErr = fmt.Errorf("server listen error: %w", err)
			stop()
		}
	}

	// シャットダウン: HTTP、ボットとワーカー、コントローラの順に止める
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", slog.String("error", err.Error()))
	}
	router.Close()
	web.Close()
	workers.Wait()

	if err := rc.stop(); err != nil {
		logger.Error("コントローラの停止に失敗しました", slog.String("error", err.Error()))
	}

	logger.Info("stopped gracefully")
	return runErr
}

// startBot はDiscordボットを接続し、定期実行のワーカーを起動する。
// ボットとワーカーはctxのキャンセルで停止し、workersで終了を待てる。
func startBot(
	ctx context.Context,
	cfg *config.Config,
	rc *runningController,
	logger *slog.Logger,
	collector *metrics.Collector,
	workers *sync.WaitGroup,
) error {
	gk := rc.sender.Clone()
	discord, err := bot.New(bot.Config{Token: cfg.DiscordToken, GuildID: cfg.DiscordGuildID}, gk, logger, collector)
	if err != nil {
		gk.Close()
		return err
	}
	if err := discord.Start(ctx); err != nil {
		gk.Close()
		return err
	}

	// ボットのハンドルはボットの切断後に解放する
	workers.Add(1)
	go func() {
		defer workers.Done()
		<-ctx.Done()
		if err := discord.Close(); err != nil {
			logger.Error("Discordセッションの切断に失敗しました", slog.String("error", err.Error()))
		}
		gk.Close()
	}()

	if cfg.EnforceInterval > 0 {
		lister := rc.sender.Clone()
		scheduler := enforce.NewScheduler(lister, discord.Enforcer(), logger, collector, cfg.EnforceMaxConcurrent)
		workers.Add(1)
		go func() {
			defer workers.Done()
			defer lister.Close()
			scheduler.Start(ctx, cfg.EnforceInterval)
		}()
	}

	guilds := rc.sender.Clone()
	job := cleanup.NewCleanupJob(guilds, discord.Guild(), logger)
	workers.Add(1)
	go func() {
		defer workers.Done()
		defer guilds.Close()
		job.Start(ctx, guildCleanupInterval)
	}()

	return nil
}
