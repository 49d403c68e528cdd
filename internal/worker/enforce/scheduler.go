// Package enforce はゲートの定期適用ワーカーを提供する。
// ゲートを持つ全ギルドについて、全メンバーのロールを定期的に再評価する。
package enforce

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/colonygate/internal/bot"
)

// GuildLister はゲートを持つギルドの一覧を返す。
type GuildLister interface {
	Guilds(ctx context.Context) ([]uint64, error)
}

// GuildEnforcer は1つのギルドにゲートを適用する。
type GuildEnforcer interface {
	Enforce(ctx context.Context, guildID uint64) (bot.Report, error)
}

// RunRecorder はギルドごとの適用結果を記録する。
type RunRecorder interface {
	RecordEnforceRun(success bool)
}

type noopRecorder struct{}

func (noopRecorder) RecordEnforceRun(bool) {}

// Scheduler はゲート適用のスケジューリングと並列制御を行う。
// 失敗したギルドは指数バックオフの間スキップする。
type Scheduler struct {
	guilds         GuildLister
	enforcer       GuildEnforcer
	logger         *slog.Logger
	recorder       RunRecorder
	maxConcurrency int
	now            func() time.Time

	mu    sync.Mutex
	state map[uint64]*guildState
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値2を使用する。
func NewScheduler(
	guilds GuildLister,
	enforcer GuildEnforcer,
	logger *slog.Logger,
	recorder RunRecorder,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Scheduler{
		guilds:         guilds,
		enforcer:       enforcer,
		logger:         logger,
		recorder:       recorder,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
		state:          make(map[uint64]*guildState),
	}
}

// Start はinterval間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("ゲート適用スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("ゲート適用サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ゲート適用スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("ゲート適用サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はゲートを持つギルドを取得し、並列でゲートを適用する。
// 個別ギルドの失敗はRunOnceのエラーにならない。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := s.now()

	guilds, err := s.guilds.Guilds(ctx)
	if err != nil {
		return err
	}

	due := s.due(guilds, start)
	if len(due) == 0 {
		s.logger.Info("ゲート適用の対象ギルドはありません",
			slog.Int("guild_count", len(guilds)),
		)
		return nil
	}

	s.logger.Info("ゲート適用サイクルを開始します",
		slog.Int("guild_count", len(due)),
		slog.Int("skipped_count", len(guilds)-len(due)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, guildID := range due {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}

		go func(id uint64) {
			defer wg.Done()
			defer func() { <-sem }()

			_, err := s.enforcer.Enforce(ctx, id)
			s.recorder.RecordEnforceRun(err == nil)
			if err != nil {
				delay := s.fail(id)
				s.logger.Error("ゲートの適用に失敗しました",
					slog.Uint64("guild_id", id),
					slog.Duration("retry_after", delay),
					slog.String("error", err.Error()),
				)
				return
			}
			s.succeed(id)
		}(guildID)
	}

	wg.Wait()

	s.logger.Info("ゲート適用サイクルが完了しました",
		slog.Int("guild_count", len(due)),
		slog.Float64("duration_ms", float64(s.now().Sub(start).Milliseconds())),
	)
	return nil
}
