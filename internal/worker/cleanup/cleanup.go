// Package cleanup は退出済みギルドのデータ削除ジョブを提供する。
// ボットが参加していないギルドのゲートをストレージから削除する。
// ボットの停止中に退出したギルドはGuildDeleteイベントを受け取れないため、
// 起動後に定期的に突き合わせる。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/colonygate/internal/bot"
)

// GuildStore はゲートを持つギルドの一覧と削除を提供する。
type GuildStore interface {
	Guilds(ctx context.Context) ([]uint64, error)
	RemoveGuild(ctx context.Context, guildID uint64) error
}

// JoinedLister はボットが参加しているギルドの一覧を返す。
type JoinedLister interface {
	Joined(ctx context.Context) ([]uint64, error)
}

// CleanupJob は退出済みギルドのゲートを削除するジョブ。
// 冪等: 削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	store  GuildStore
	joined JoinedLister
	logger *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(store GuildStore, joined JoinedLister, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{store: store, joined: joined, logger: logger}
}

// Run は参加していないギルドのゲートを削除し、削除したギルド数を返す。
// ボットがまだReadyでない場合は何もしない。
func (j *CleanupJob) Run(ctx context.Context) (int, error) {
	start := time.Now()

	joined, err := j.joined.Joined(ctx)
	if errors.Is(err, bot.ErrNotReady) {
		j.logger.Info("ボットの接続前のためギルドクリーンアップをスキップしました")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list joined guilds: %w", err)
	}

	stored, err := j.store.Guilds(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list gated guilds: %w", err)
	}

	member := make(map[uint64]struct{}, len(joined))
	for _, id := range joined {
		member[id] = struct{}{}
	}

	deleted := 0
	for _, id := range stored {
		if _, ok := member[id]; ok {
			continue
		}
		if err := j.store.RemoveGuild(ctx, id); err != nil {
			j.logger.Error("ギルドの削除に失敗しました",
				slog.Uint64("guild_id", id),
				slog.String("error", err.Error()),
			)
			return deleted, fmt.Errorf("failed to remove guild %d: %w", id, err)
		}
		deleted++
	}

	j.logger.Info("ギルドクリーンアップジョブが完了しました",
		slog.Int("deleted_count", deleted),
		slog.Int("joined_count", len(joined)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}

// Start はinterval間隔でジョブを実行する。
// 起動直後はボットの接続が完了していないため、最初の実行はinterval経過後となる。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil {
				j.logger.Error("ギルドクリーンアップジョブの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
