// Package bot はDiscordのスラッシュコマンドを処理し、ロールの付与と剥奪を行う。
// 状態の変更はすべてコントローラに依頼し、このパッケージはDiscordとの入出力のみを扱う。
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/hitoshi/colonygate/internal/controller"
	"github.com/hitoshi/colonygate/internal/gate"
)

// Gatekeeper はボットから呼び出すコントローラの操作。*controller.Senderが実装する。
type Gatekeeper interface {
	Check(ctx context.Context, guildID, userID uint64) (controller.CheckResponse, error)
	AddGate(ctx context.Context, guildID, roleID uint64, kind string, options []gate.OptionValue) error
	ListGates(ctx context.Context, guildID uint64) ([]gate.Gate, error)
	Roles(ctx context.Context, guildID uint64) ([]uint64, error)
	RemoveGate(ctx context.Context, guildID uint64, id gate.Identity) error
	RemoveGuild(ctx context.Context, guildID uint64) error
	Batch(ctx context.Context, guildID uint64, userIDs []uint64) ([]controller.Grant, error)
	Unregister(ctx context.Context, userID uint64) (controller.UnregisterResponse, error)
}

var _ Gatekeeper = (*controller.Sender)(nil)

// RoleChangeRecorder はロールの付与・剥奪数を記録する。*metrics.Collectorが実装する。
type RoleChangeRecorder interface {
	RecordRoleChanges(granted, revoked int)
}

// ErrNotReady はDiscordへの接続が完了していないことを示す。
var ErrNotReady = errors.New("discord session is not ready")

// Config はボットの設定。
type Config struct {
	Token string
	// GuildID が0以外の場合、コマンドをそのギルドのみに登録する（開発用）。
	GuildID uint64
	// RequestTimeout は1つのインタラクションの処理でコントローラを待つ上限。
	RequestTimeout time.Duration
}

// Bot はDiscordセッションとコマンド処理をまとめる。
type Bot struct {
	config   Config
	session  *discordgo.Session
	gk       Gatekeeper
	guild    *sessionAPI
	enforcer *Enforcer
	logger   *slog.Logger
	recorder RoleChangeRecorder

	ready    atomic.Bool
	handlers sync.WaitGroup
	removers []func()
}

// New はBotを生成する。接続はStartで行う。
func New(config Config, gk Gatekeeper, logger *slog.Logger, recorder RoleChangeRecorder) (*Bot, error) {
	if config.Token == "" {
		return nil, errors.New("discord token is required")
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}

	s, err := discordgo.New("Bot " + config.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	b := &Bot{
		config:   config,
		session:  s,
		gk:       gk,
		logger:   logger,
		recorder: recorder,
	}
	b.guild = &sessionAPI{session: s, ready: &b.ready}
	b.enforcer = NewEnforcer(gk, b.guild, logger, recorder)
	return b, nil
}

// Guild はワーカーから使うギルド操作を返す。
func (b *Bot) Guild() GuildAPI {
	return b.guild
}

// Enforcer はゲートの一括適用を返す。
func (b *Bot) Enforcer() *Enforcer {
	return b.enforcer
}

// Start はDiscordに接続し、イベントの処理を開始する。
// コマンドはReady受信時に登録する。
func (b *Bot) Start(ctx context.Context) error {
	b.removers = append(b.removers,
		b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
			b.onReady(ctx, s, r)
		}),
		b.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			b.handlers.Add(1)
			defer b.handlers.Done()
			b.onInteraction(ctx, s, i)
		}),
		b.session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildDelete) {
			b.onGuildDelete(ctx, g)
		}),
	)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	return nil
}

// Close はイベントの受信を止め、処理中のインタラクションを待ってから切断する。
func (b *Bot) Close() error {
	for _, remove := range b.removers {
		remove()
	}
	b.handlers.Wait()
	b.ready.Store(false)
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

func (b *Bot) onReady(ctx context.Context, s *discordgo.Session, r *discordgo.Ready) {
	appID := r.User.ID
	if r.Application != nil && r.Application.ID != "" {
		appID = r.Application.ID
	}

	guildID := ""
	if b.config.GuildID != 0 {
		guildID = formatID(b.config.GuildID)
	}
	if _, err := s.ApplicationCommandBulkOverwrite(appID, guildID, Commands(), discordgo.WithContext(ctx)); err != nil {
		b.logger.Error("スラッシュコマンドの登録に失敗しました",
			slog.String("guild_id", guildID),
			slog.String("error", err.Error()),
		)
	}

	b.ready.Store(true)
	b.logger.Info("Discordに接続しました",
		slog.String("user", r.User.Username),
		slog.String("user_id", r.User.ID),
		slog.Int("guild_count", len(r.Guilds)),
	)
}

// onGuildDelete はボットがギルドから削除された場合にそのギルドのゲートを削除する。
// 障害による一時的な利用不可（Unavailable）では削除しない。
func (b *Bot) onGuildDelete(ctx context.Context, g *discordgo.GuildDelete) {
	if g.Guild == nil || g.Unavailable {
		return
	}
	guildID, err := parseID(g.ID)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.config.RequestTimeout)
	defer cancel()

	if err := b.gk.RemoveGuild(ctx, guildID); err != nil {
		b.logger.Error("退出したギルドのゲート削除に失敗しました",
			slog.Uint64("guild_id", guildID),
			slog.String("error", err.Error()),
		)
		return
	}
	b.logger.Info("退出したギルドのゲートを削除しました", slog.Uint64("guild_id", guildID))
}

func (b *Bot) onInteraction(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(ctx, b.config.RequestTimeout)
	defer cancel()

	r := &interactionResponder{session: s, interaction: i.Interaction, ctx: ctx}
	h := &commandHandler{gk: b.gk, guild: b.guild, enforcer: b.enforcer, recorder: b.recorder, logger: b.logger}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		cmd, err := parseCommand(i.Interaction)
		if err != nil {
			b.logger.Warn("不正なコマンドを受信しました", slog.String("error", err.Error()))
			_ = r.Respond(errorText(err), true)
			return
		}
		h.handle(ctx, cmd, r)
	case discordgo.InteractionMessageComponent:
		press, err := parseButton(i.Interaction)
		if err != nil {
			b.logger.Debug("未知のボタン操作を無視しました", slog.String("error", err.Error()))
			return
		}
		h.handleButton(ctx, press, r)
	}
}

type noopRecorder struct{}

func (noopRecorder) RecordRoleChanges(int, int) {}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snowflake %q: %w", s, err)
	}
	return id, nil
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
