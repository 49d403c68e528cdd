package bot

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// Change は1メンバーのロールの変化。
type Change struct {
	UserID        uint64
	Granted       []uint64
	Revoked       []uint64
	FailedGrants  []uint64
	FailedRevokes []uint64
}

// Report はギルド1つへのゲート適用結果。
type Report struct {
	GuildID uint64
	// Roles はゲート管理されているロール。
	Roles []uint64
	// Members は評価の対象としたメンバー数（ボットを除く）。
	Members int
	// Changes はロールが変化したメンバー。
	Changes []Change
}

// Totals は付与と剥奪に成功したロール数の合計を返す。
func (r Report) Totals() (granted, revoked int) {
	for _, c := range r.Changes {
		granted += len(c.Granted)
		revoked += len(c.Revoked)
	}
	return granted, revoked
}

// Enforcer はギルドの全メンバーについてゲートを再評価し、ロールを付与・剥奪する。
// /gate enforce と定期実行ワーカーの両方から使う。
type Enforcer struct {
	gk       Gatekeeper
	guild    GuildAPI
	logger   *slog.Logger
	recorder RoleChangeRecorder
	// Notify がtrueの場合、ロールが変化したメンバーにDMを送る。
	Notify bool
}

// NewEnforcer はEnforcerを生成する。通知は有効。
func NewEnforcer(gk Gatekeeper, guild GuildAPI, logger *slog.Logger, recorder RoleChangeRecorder) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Enforcer{gk: gk, guild: guild, logger: logger, recorder: recorder, Notify: true}
}

// Enforce はギルドの全メンバーにゲートを適用する。
// 未登録のメンバーは評価されず、ロールも変更しない。
// 管理対象外のロールには触れない。
func (e *Enforcer) Enforce(ctx context.Context, guildID uint64) (Report, error) {
	start := time.Now()
	report := Report{GuildID: guildID}

	managed, err := e.gk.Roles(ctx, guildID)
	if err != nil {
		return report, fmt.Errorf("failed to list gated roles: %w", err)
	}
	report.Roles = managed
	if len(managed) == 0 {
		return report, nil
	}

	members, err := e.guild.Members(ctx, guildID)
	if err != nil {
		return report, err
	}

	held := make(map[uint64][]uint64, len(members))
	userIDs := make([]uint64, 0, len(members))
	for _, m := range members {
		if m.Bot {
			continue
		}
		held[m.UserID] = intersect(m.Roles, managed)
		userIDs = append(userIDs, m.UserID)
	}
	report.Members = len(userIDs)

	grants, err := e.gk.Batch(ctx, guildID, userIDs)
	if err != nil {
		return report, fmt.Errorf("failed to evaluate members: %w", err)
	}

	for _, g := range grants {
		current, ok := held[g.UserID]
		if !ok {
			continue
		}
		gained := difference(g.Roles, current)
		lost := difference(current, g.Roles)
		if len(gained) == 0 && len(lost) == 0 {
			continue
		}
		report.Changes = append(report.Changes, e.apply(ctx, guildID, g.UserID, gained, lost))
	}

	granted, revoked := report.Totals()
	e.recorder.RecordRoleChanges(granted, revoked)
	e.logger.Info("ゲートの適用が完了しました",
		slog.Uint64("guild_id", guildID),
		slog.Int("member_count", report.Members),
		slog.Int("changed_count", len(report.Changes)),
		slog.Int("granted", granted),
		slog.Int("revoked", revoked),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return report, nil
}

// apply は1メンバーのロールを変更し、必要ならDMで通知する。
func (e *Enforcer) apply(ctx context.Context, guildID, userID uint64, gained, lost []uint64) Change {
	c := Change{UserID: userID}
	for _, role := range gained {
		if err := e.guild.AddRole(ctx, guildID, userID, role); err != nil {
			e.logger.Warn("ロールの付与に失敗しました",
				slog.Uint64("guild_id", guildID),
				slog.Uint64("user_id", userID),
				slog.Uint64("role_id", role),
				slog.String("error", err.Error()),
			)
			c.FailedGrants = append(c.FailedGrants, role)
			continue
		}
		c.Granted = append(c.Granted, role)
	}
	for _, role := range lost {
		if err := e.guild.RemoveRole(ctx, guildID, userID, role); err != nil {
			e.logger.Warn("ロールの剥奪に失敗しました",
				slog.Uint64("guild_id", guildID),
				slog.Uint64("user_id", userID),
				slog.Uint64("role_id", role),
				slog.String("error", err.Error()),
			)
			c.FailedRevokes = append(c.FailedRevokes, role)
			continue
		}
		c.Revoked = append(c.Revoked, role)
	}

	if e.Notify {
		if err := e.guild.SendDM(ctx, userID, changeText(guildID, c)); err != nil {
			// DMの失敗はロールの変更結果に影響しない
			e.logger.Debug("ロール変更の通知に失敗しました",
				slog.Uint64("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}
	return c
}

// intersect はrolesのうちmanagedに含まれるものを返す。
func intersect(roles, managed []uint64) []uint64 {
	var out []uint64
	for _, r := range roles {
		if slices.Contains(managed, r) {
			out = append(out, r)
		}
	}
	return out
}

// difference はaのうちbに含まれないものを返す。
func difference(a, b []uint64) []uint64 {
	var out []uint64
	for _, v := range a {
		if !slices.Contains(b, v) {
			out = append(out, v)
		}
	}
	return out
}
