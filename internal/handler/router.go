package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/colonygate/internal/metrics"
	"github.com/hitoshi/colonygate/internal/middleware"
	"github.com/hitoshi/colonygate/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// セッションページ
	Registrar     Registrar
	Sessions      SessionDecoder
	SessionConfig SessionHandlerConfig

	// トップページ。AboutHTMLはサニタイズしてから埋め込む。
	AboutHTML string
	InviteURL string

	// ヘルスチェック。nilの場合はDBを確認しない。
	Pinger Pinger

	// ミドルウェア
	RateLimit    middleware.RateLimiterConfig
	CookieSecure bool

	// メトリクス。nilの場合は記録も /metrics の公開もしない。
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
}

// Router はミドルウェアチェーンを構成したHTTPハンドラー。
// Closeでレートリミッターのバックグラウンド処理を停止する。
type Router struct {
	http.Handler
	limiter *middleware.RateLimiter
}

// Close はレートリミッターのクリーンアップを停止する。
func (rt *Router) Close() {
	rt.limiter.Stop()
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したRouterを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → RateLimit(Page) → RateLimit(Submit) → CSRF
//
// /health と /metrics はレート制限とCSRFの外に配置する。
func NewRouter(deps *RouterDeps) (*Router, error) {
	if deps.Registrar == nil || deps.Sessions == nil {
		return nil, errors.New("router requires a registrar and a session decoder")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pages, err := newRenderer(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	var statusRecorder middleware.StatusRecorder
	limiterOpts := []middleware.RateLimiterOption{middleware.WithRateLimitErrorWriter(pages.renderError)}
	if deps.Metrics != nil {
		statusRecorder = deps.Metrics
		limiterOpts = append(limiterOpts, middleware.WithRateLimitRecorder(deps.Metrics))
	}
	limiter := middleware.NewRateLimiter(deps.RateLimit, logger, limiterOpts...)

	about := security.NewPageSanitizer().SanitizeHTML(deps.AboutHTML)
	pageHandler := newPageHandler(about, deps.InviteURL, deps.Pinger, pages, logger)
	sessionHandler := newSessionHandler(deps.Registrar, deps.Sessions, deps.SessionConfig, pages, logger)

	r := chi.NewRouter()
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, statusRecorder))
	r.Use(middleware.NewRecoveryMiddleware(logger, pages.renderError))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	r.NotFound(pageHandler.NotFound)

	// --- 制限なしのルート ---
	r.Get("/health", pageHandler.Health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- ブラウザ向けページ ---
	r.Group(func(r chi.Router) {
		r.Use(limiter.PageMiddleware())

		r.Get("/", pageHandler.Index)

		r.Group(func(r chi.Router) {
			r.Use(limiter.SubmitMiddleware())
			r.Use(middleware.NewCSRFMiddleware(middleware.CSRFConfig{
				CookieSecure: deps.CookieSecure,
				OnReject:     pages.renderError,
				Logger:       logger,
			}))

			r.Get("/session/{token}", sessionHandler.RegistrationPage)
			r.Post("/session/{token}", sessionHandler.Register)
			r.Get("/unregister/{token}", sessionHandler.UnregistrationPage)
			r.Post("/unregister/{token}", sessionHandler.Unregister)
		})
	})

	return &Router{Handler: r, limiter: limiter}, nil
}
