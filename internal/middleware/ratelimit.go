package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/colonygate/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	PageRate        rate.Limit    // ページ閲覧のレート（req/sec）。60/60 = 1 req/sec
	PageBurst       int           // ページ閲覧のバーストサイズ
	SubmitRate      rate.Limit    // フォーム送信のレート（req/sec）。10/60
	SubmitBurst     int           // フォーム送信のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// ページ閲覧 60 req/min/IP、フォーム送信 10 req/min/IP。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfigPerMinute(60)
}

// RateLimiterConfigPerMinute は1分あたりのページ閲覧数からレート制限設定を作る。
func RateLimiterConfigPerMinute(pages int) RateLimiterConfig {
	if pages < 1 {
		pages = 1
	}
	return RateLimiterConfig{
		PageRate:        rate.Limit(float64(pages) / 60.0),
		PageBurst:       pages,
		SubmitRate:      rate.Limit(10.0 / 60.0), // ~0.167 req/sec
		SubmitBurst:     10,
		CleanupInterval: 5 * time.Minute,
	}
}

// RateLimitRecorder はレート制限による拒否を記録する。
type RateLimitRecorder interface {
	RecordRateLimited()
}

// clientLimiter はクライアントごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet はクライアントIPをキーとするリミッターの集合。
type limiterSet struct {
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

func newLimiterSet(r rate.Limit, burst int) *limiterSet {
	return &limiterSet{rate: r, burst: burst, limiters: make(map[string]*clientLimiter)}
}

// get はクライアントのリミッターを取得または作成し、最終アクセス時刻を更新する。
func (s *limiterSet) get(client string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	cl, ok := s.limiters[client]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(s.rate, s.burst)}
		s.limiters[client] = cl
	}
	cl.lastAccess = now
	return cl.limiter
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// expire は最終アクセス時刻がttlを超えたエントリを削除する。
func (s *limiterSet) expire(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client, cl := range s.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(s.limiters, client)
		}
	}
}

// RateLimiter はクライアントIPごとのレート制限を管理する。
// ページ閲覧とフォーム送信の2種類を独立に制限する。
type RateLimiter struct {
	config   RateLimiterConfig
	logger   *slog.Logger
	recorder RateLimitRecorder
	onReject ErrorWriter

	pages   *limiterSet
	submits *limiterSet

	stopOnce sync.Once
	stopCh   chan struct{}
}

// RateLimiterOption はRateLimiterのオプション。
type RateLimiterOption func(*RateLimiter)

// WithRateLimitRecorder は拒否を記録するRecorderを設定する。
func WithRateLimitRecorder(recorder RateLimitRecorder) RateLimiterOption {
	return func(rl *RateLimiter) { rl.recorder = recorder }
}

// WithRateLimitErrorWriter は429レスポンスの書き込み方法を設定する。
func WithRateLimitErrorWriter(write ErrorWriter) RateLimiterOption {
	return func(rl *RateLimiter) { rl.onReject = write }
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig, logger *slog.Logger, opts ...RateLimiterOption) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	rl := &RateLimiter{
		config:  config,
		logger:  logger,
		pages:   newLimiterSet(config.PageRate, config.PageBurst),
		submits: newLimiterSet(config.SubmitRate, config.SubmitBurst),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}
	rl.onReject = orJSON(rl.onReject)

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// PageMiddleware はページ閲覧のレート制限ミドルウェアを返す。
func (rl *RateLimiter) PageMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.pages, rl.config.PageRate, "page")
}

// SubmitMiddleware はフォーム送信専用のレート制限ミドルウェアを返す。
// 安全なメソッドには適用しない。
func (rl *RateLimiter) SubmitMiddleware() func(next http.Handler) http.Handler {
	limit := rl.middleware(rl.submits, rl.config.SubmitRate, "submit")
	return func(next http.Handler) http.Handler {
		limited := limit(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) middleware(set *limiterSet, limit rate.Limit, limitType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientIP(r)
			if !set.get(client, time.Now()).Allow() {
				rl.logger.Warn("rate limit exceeded",
					slog.String("client_ip", client),
					slog.String("limit_type", limitType),
				)
				if rl.recorder != nil {
					rl.recorder.RecordRateLimited()
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limit)))
				rl.onReject(w, r, model.NewRateLimitError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PageLimiterCount は現在管理されているページ閲覧リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) PageLimiterCount() int {
	return rl.pages.len()
}

// SubmitLimiterCount は現在管理されているフォーム送信リミッターのエントリ数を返す。
func (rl *RateLimiter) SubmitLimiterCount() int {
	return rl.submits.len()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	rl.pages.expire(now, ttl)
	rl.submits.expire(now, ttl)
}

// retryAfterSeconds は1トークンが補充されるまでの秒数を返す。
func retryAfterSeconds(r rate.Limit) int {
	sec := int(math.Ceil(1.0 / float64(r)))
	if sec < 1 {
		sec = 1
	}
	return sec
}

// clientIP はRemoteAddrからポートを除いたクライアントIPを返す。
// プロキシ配下ではchiのRealIPミドルウェアで事前にRemoteAddrを書き換える。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
