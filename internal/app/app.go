// Package app はコマンドラインの起動処理と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hitoshi/colonygate/internal/config"
	"github.com/hitoshi/colonygate/internal/database"
	"github.com/hitoshi/colonygate/internal/logger"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを作り直す
	return cfg, logger.SetupDefault(w, cfg.LogLevel), nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析して実行する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, logger *slog.Logger) error {
	if err := requireDatabase(cfg); err != nil {
		return err
	}

	logger.Info("running database migrations",
		slog.String("database_url", config.MaskDatabaseURL(cfg.DatabaseURL)),
	)

	before, after, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	logger.Info("database migrations completed successfully",
		slog.Uint64("from_version", uint64(before.Version)),
		slog.Uint64("to_version", uint64(after.Version)),
	)
	return nil
}

// runMigrateStatus は現在のスキーマバージョンを出力する。
func runMigrateStatus(cfg *config.Config, out io.Writer) error {
	if err := requireDatabase(cfg); err != nil {
		return err
	}
	v, err := database.Status(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	switch {
	case v.Version == 0:
		fmt.Fprintln(out, "no migrations applied")
	case v.Dirty:
		fmt.Fprintf(out, "version %d (dirty)\n", v.Version)
	default:
		fmt.Fprintf(out, "version %d\n", v.Version)
	}
	return nil
}

func requireDatabase(cfg *config.Config) error {
	if cfg.StorageType == config.StorageMemory {
		return fmt.Errorf("migrate requires STORAGE_TYPE postgres or encrypted")
	}
	return nil
}

// healthcheckPort はヘルスチェックの接続先ポートを返す。
func healthcheckPort() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return "8080"
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
