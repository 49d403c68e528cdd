package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hitoshi/colonygate/internal/chain"
	"github.com/hitoshi/colonygate/internal/config"
	"github.com/hitoshi/colonygate/internal/controller"
	"github.com/hitoshi/colonygate/internal/database"
	"github.com/hitoshi/colonygate/internal/gate"
	"github.com/hitoshi/colonygate/internal/security"
	"github.com/hitoshi/colonygate/internal/session"
	"github.com/hitoshi/colonygate/internal/storage"
)

// openStorage は設定に応じたストレージを開く。
// メモリ以外の場合は接続を確認し、*sql.DBも返す（メモリの場合はnil）。
func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, *sql.DB, error) {
	if cfg.StorageType == config.StorageMemory {
		return storage.NewMemory(), nil, nil
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.StorageType == config.StoragePostgres {
		return storage.NewPostgres(db), db, nil
	}

	key, err := storage.ParseEncryptionKey(cfg.EncryptionKey)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	store, err := storage.NewEncrypted(db, key)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

// newEvaluator はRPCとレピュテーションオラクルに接続するEvaluatorを生成する。
// 戻り値の関数でRPC接続を閉じる。
func newEvaluator(ctx context.Context, cfg *config.Config, logger *slog.Logger, observer gate.Observer) (*gate.Evaluator, func(), error) {
	eth, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, err
	}

	guard := security.NewOutboundGuard(cfg.OracleAllowPrivate)
	if err := guard.ValidateURL(cfg.ReputationOracleURL); err != nil {
		eth.Close()
		return nil, nil, fmt.Errorf("invalid REPUTATION_ORACLE_URL: %w", err)
	}
	oracle := chain.NewOracleClient(guard.Client(cfg.ChainTimeout), cfg.ReputationOracleURL, logger)
	client := chain.NewClient(eth, oracle, cfg.ChainTimeout, logger)

	ev := gate.NewEvaluator(client, client, evaluatorConfig(cfg), logger, observer)
	return ev, eth.Close, nil
}

func evaluatorConfig(cfg *config.Config) gate.EvaluatorConfig {
	return gate.EvaluatorConfig{
		Precision:     cfg.ReputationPrecision,
		RatePerSecond: cfg.ReputationRate,
		PollInterval:  cfg.AdmissionPollInterval,
		CacheTTL:      cfg.ReputationCacheTTL,
		CacheSize:     cfg.ReputationCacheSize,
	}
}

// runningController は起動済みのコントローラ。
type runningController struct {
	sender *controller.Sender
	// codec は登録リンクのトークンを発行したコーデック。HTTP側の復号に使う。
	codec *session.Codec
	done  chan error
}

// startController はコントローラのメッセージループを起動する。
// 最初のSenderを含む全てのハンドルをCloseするとループが終了し、doneに結果が送られる。
func startController(
	ctx context.Context,
	store storage.Storage,
	ev *gate.Evaluator,
	cfg *config.Config,
	logger *slog.Logger,
	observer controller.Observer,
) (*runningController, error) {
	codec, err := session.NewCodec()
	if err != nil {
		return nil, fmt.Errorf("failed to create session codec: %w", err)
	}

	ctrl, sender := controller.New(store, ev, codec, controller.Config{ServerURL: cfg.ServerURL}, logger, observer)
	done := make(chan error, 1)
	go func() {
		done <- ctrl.Run(ctx)
	}()
	return &runningController{sender: sender, codec: codec, done: done}, nil
}

// stop は最初のSenderを解放し、ループの終了を待つ。
func (rc *runningController) stop() error {
	rc.sender.Close()
	return <-rc.done
}
