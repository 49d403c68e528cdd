// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/colonygate/internal/evalcache"
)

const namespace = "colonygate"

// Collector はPrometheusメトリクスを収集する実装。
// gate.Observer、controller.Observer、enforce.Recorderを満たす。
type Collector struct {
	reg prometheus.Registerer

	checks         *prometheus.CounterVec
	remoteFailures *prometheus.CounterVec
	admissions     *prometheus.CounterVec
	admissionWaits prometheus.Histogram
	messages       *prometheus.CounterVec
	messageWait    prometheus.Histogram
	messageLatency *prometheus.HistogramVec
	droppedReplies *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	rateLimited    prometheus.Counter
	roleChanges    *prometheus.CounterVec
	enforceRuns    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reg: reg,
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_checks_total",
			Help:      "ゲート評価の合計数（種類・結果別）",
		}, []string{"kind", "result"}),
		remoteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_failures_total",
			Help:      "チェーン・オラクル呼び出し失敗の合計数",
		}, []string{"operation"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reputation_admissions_total",
			Help:      "レピュテーション評価の許可数（キャッシュ・レートリミッタ別）",
		}, []string{"source"}),
		admissionWaits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reputation_admission_waits",
			Help:      "許可までのポーリング回数",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_messages_total",
			Help:      "コントローラが処理したメッセージ数",
		}, []string{"kind"}),
		messageWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "controller_queue_wait_seconds",
			Help:      "メッセージがキューで待機した時間（秒）",
			Buckets:   prometheus.DefBuckets,
		}),
		messageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "controller_handle_seconds",
			Help:      "メッセージの処理時間（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		droppedReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_dropped_replies_total",
			Help:      "受信者がいないため破棄された応答数",
		}, []string{"kind"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_status_total",
			Help:      "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "レートリミットで拒否したリクエスト数",
		}),
		roleChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "role_changes_total",
			Help:      "付与・剥奪したロール数",
		}, []string{"action"}),
		enforceRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enforce_runs_total",
			Help:      "ギルド単位の強制評価の実行数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.checks,
		c.remoteFailures,
		c.admissions,
		c.admissionWaits,
		c.messages,
		c.messageWait,
		c.messageLatency,
		c.droppedReplies,
		c.httpStatus,
		c.rateLimited,
		c.roleChanges,
		c.enforceRuns,
	)

	return c
}

// ObserveCheck はゲート評価の結果を記録する。
func (c *Collector) ObserveCheck(kind string, passed bool) {
	result := "fail"
	if passed {
		result = "pass"
	}
	c.checks.WithLabelValues(kind, result).Inc()
}

// ObserveRemoteFailure はリモート呼び出しの失敗を記録する。
func (c *Collector) ObserveRemoteFailure(operation string) {
	c.remoteFailures.WithLabelValues(operation).Inc()
}

// ObserveAdmission はレピュテーション評価の許可を記録する。
func (c *Collector) ObserveAdmission(source string, waits int) {
	c.admissions.WithLabelValues(source).Inc()
	c.admissionWaits.Observe(float64(waits))
}

// ObserveMessage はコントローラのメッセージ処理を記録する。
func (c *Collector) ObserveMessage(kind string, wait, handle time.Duration) {
	c.messages.WithLabelValues(kind).Inc()
	c.messageWait.Observe(wait.Seconds())
	c.messageLatency.WithLabelValues(kind).Observe(handle.Seconds())
}

// ObserveDroppedReply は破棄された応答を記録する。
func (c *Collector) ObserveDroppedReply(kind string) {
	c.droppedReplies.WithLabelValues(kind).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRateLimited はレートリミットによる拒否を記録する。
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// RecordRoleChanges は付与・剥奪したロール数を記録する。
func (c *Collector) RecordRoleChanges(granted, revoked int) {
	c.roleChanges.WithLabelValues("grant").Add(float64(granted))
	c.roleChanges.WithLabelValues("revoke").Add(float64(revoked))
}

// RecordEnforceRun はギルド単位の強制評価の結果を記録する。
func (c *Collector) RecordEnforceRun(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.enforceRuns.WithLabelValues(result).Inc()
}

// RegisterQueue はコントローラキューの滞留数と容量を公開する。
func (c *Collector) RegisterQueue(length func() int, capacity int) {
	c.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_queue_length",
			Help:      "コントローラキューの滞留メッセージ数",
		}, func() float64 { return float64(length()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_queue_capacity",
			Help:      "コントローラキューの容量",
		}, func() float64 { return float64(capacity) }),
	)
}

// RegisterCache はレピュテーションキャッシュの統計を公開する。
func (c *Collector) RegisterCache(stats func() evalcache.Stats) {
	c.reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reputation_cache_hits_total",
			Help:      "レピュテーションキャッシュのヒット数",
		}, func() float64 { return float64(stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reputation_cache_misses_total",
			Help:      "レピュテーションキャッシュのミス数",
		}, func() float64 { return float64(stats().Misses) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reputation_cache_entries",
			Help:      "レピュテーションキャッシュのエントリ数",
		}, func() float64 { return float64(stats().Size) }),
	)
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
