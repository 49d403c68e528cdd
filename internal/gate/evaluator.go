package gate

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hitoshi/colonygate/internal/evalcache"
)

// ReputationSource はColonyのドメイン内レピュテーションを取得するインターフェース。
// 戻り値は10進数文字列。
type ReputationSource interface {
	ReputationInDomain(ctx context.Context, colony, wallet common.Address, domain uint64) (string, error)
}

// TokenSource はERC20トークンの情報を取得するインターフェース。
type TokenSource interface {
	BalanceOf(ctx context.Context, token, wallet common.Address) (*big.Int, error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	TokenSymbol(ctx context.Context, token common.Address) (string, error)
}

// Observer は評価結果を記録するインターフェース。metrics.Collectorが実装する。
type Observer interface {
	ObserveCheck(kind string, passed bool)
	ObserveRemoteFailure(operation string)
	ObserveAdmission(source string, waits int)
}

type noopObserver struct{}

func (noopObserver) ObserveCheck(string, bool)    {}
func (noopObserver) ObserveRemoteFailure(string)  {}
func (noopObserver) ObserveAdmission(string, int) {}

// EvaluatorConfig はEvaluatorの設定。
type EvaluatorConfig struct {
	// Precision はレピュテーション閾値の小数点以下の桁数。
	Precision uint8
	// RatePerSecond はレピュテーション取得のトークン補充レート。
	RatePerSecond float64
	// PollInterval はアドミッション待機時の再確認間隔。
	PollInterval time.Duration
	// CacheTTL はレピュテーションキャッシュの有効期限。
	CacheTTL time.Duration
	// CacheSize はレピュテーションキャッシュの最大エントリ数。
	CacheSize int
}

// DefaultEvaluatorConfig はデフォルト設定を返す。
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		Precision:     DefaultPrecision,
		RatePerSecond: evalcache.DefaultRatePerSecond,
		PollInterval:  evalcache.DefaultPollInterval,
		CacheTTL:      time.Hour,
		CacheSize:     10000,
	}
}

// ReputationKey はレピュテーションキャッシュのキー。
type ReputationKey struct {
	Colony common.Address
	Wallet common.Address
	Domain uint64
}

// String はsingleflight用のキー文字列を返す。
func (k ReputationKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Colony.Hex(), k.Wallet.Hex(), k.Domain)
}

// Evaluator はゲート条件の構築と評価に必要な依存をまとめる。
// 起動時に1回生成し、コントローラやコマンドに渡す。
type Evaluator struct {
	reputation  ReputationSource
	tokens      TokenSource
	admission   *evalcache.Admission
	reputations *evalcache.Fetcher[ReputationKey, string]
	precision   uint8
	logger      *slog.Logger
	observer    Observer
}

// NewEvaluator はEvaluatorを生成する。observerがnilの場合は記録しない。
// loggerがnilの場合はslog.Default()を使用する。
func NewEvaluator(
	reputation ReputationSource,
	tokens TokenSource,
	cfg EvaluatorConfig,
	logger *slog.Logger,
	observer Observer,
) *Evaluator {
	if observer == nil {
		observer = noopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Precision > MaxPrecision {
		cfg.Precision = MaxPrecision
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Evaluator{
		reputation:  reputation,
		tokens:      tokens,
		admission:   evalcache.NewAdmission(cfg.RatePerSecond, cfg.PollInterval),
		reputations: evalcache.NewFetcher[ReputationKey, string](cfg.CacheSize, cfg.CacheTTL),
		precision:   cfg.Precision,
		logger:      logger,
		observer:    observer,
	}
}

// Precision はレピュテーション閾値の桁数を返す。
func (e *Evaluator) Precision() uint8 {
	return e.precision
}

// CacheStats はレピュテーションキャッシュの統計情報を返す。
func (e *Evaluator) CacheStats() evalcache.Stats {
	return e.reputations.Stats()
}
