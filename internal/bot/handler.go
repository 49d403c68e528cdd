package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/hitoshi/colonygate/internal/controller"
	"github.com/hitoshi/colonygate/internal/gate"
)

// commandHandler はコマンドごとの処理を行う。Discordとの入出力はresponderとGuildAPIに委ねる。
type commandHandler struct {
	gk       Gatekeeper
	guild    GuildAPI
	enforcer *Enforcer
	recorder RoleChangeRecorder
	logger   *slog.Logger
}

func (h *commandHandler) handle(ctx context.Context, cmd command, r responder) {
	h.logger.Debug("コマンドを受信しました",
		slog.String("command", cmd.Name),
		slog.String("subcommand", cmd.Sub),
		slog.Uint64("guild_id", cmd.GuildID),
		slog.Uint64("user_id", cmd.UserID),
	)

	var err error
	switch cmd.Name + " " + cmd.Sub {
	case commandGate + " " + subAdd:
		err = h.gateAdd(ctx, cmd, r)
	case commandGate + " " + subList:
		err = h.gateList(ctx, cmd, r)
	case commandGate + " " + subRemove:
		err = h.gateRemove(ctx, cmd, r)
	case commandGate + " " + subEnforce:
		err = h.gateEnforce(ctx, cmd, r)
	case commandGet + " " + subIn:
		err = h.getIn(ctx, cmd, r)
	case commandGet + " " + subOut:
		err = h.getOut(ctx, cmd, r)
	default:
		err = errUnknownCommand
	}
	if err != nil {
		h.logger.Warn("コマンドへの応答に失敗しました",
			slog.String("command", cmd.Name),
			slog.String("subcommand", cmd.Sub),
			slog.String("error", err.Error()),
		)
	}
}

// gateAdd はゲートを追加し、ボットのロールが対象より下位の場合は警告を添える。
func (h *commandHandler) gateAdd(ctx context.Context, cmd command, r responder) error {
	if err := r.Defer(true); err != nil {
		return err
	}
	if err := h.gk.AddGate(ctx, cmd.GuildID, cmd.RoleID, cmd.Kind, cmd.Options); err != nil {
		return r.FollowUp(reply{Content: errorText(err), Ephemeral: true})
	}

	content := fmt.Sprintf("Your role %s is now being gated!", roleMention(cmd.RoleID))
	top, err := h.guild.BotTopRolePosition(ctx, cmd.GuildID)
	if err != nil {
		h.logger.Warn("ボットのロール位置を取得できませんでした",
			slog.Uint64("guild_id", cmd.GuildID),
			slog.String("error", err.Error()),
		)
	} else if cmd.RolePosition >= top {
		content += "\n" + hierarchyWarning
	}

	h.logger.Info("ゲートを追加しました",
		slog.Uint64("guild_id", cmd.GuildID),
		slog.Uint64("role_id", cmd.RoleID),
		slog.String("kind", cmd.Kind),
	)
	return r.FollowUp(reply{Content: content, Ephemeral: true})
}

// gateList はゲートを1件ずつ条件の埋め込みと削除ボタン付きで表示する。
func (h *commandHandler) gateList(ctx context.Context, cmd command, r responder) error {
	if err := r.Defer(true); err != nil {
		return err
	}
	gates, err := h.gk.ListGates(ctx, cmd.GuildID)
	if err != nil {
		return r.FollowUp(reply{Content: errorText(err), Ephemeral: true})
	}
	if len(gates) == 0 {
		return r.FollowUp(reply{Content: "No gates found on this server.", Ephemeral: true})
	}

	if err := r.FollowUp(reply{Content: "Here are the gates on the server:", Ephemeral: true}); err != nil {
		return err
	}
	for _, g := range gates {
		if err := r.FollowUp(gateReply(g)); err != nil {
			return err
		}
	}
	return nil
}

func (h *commandHandler) gateRemove(ctx context.Context, cmd command, r responder) error {
	id, err := gate.ParseIdentity(cmd.GateID)
	if err != nil {
		return r.Respond(errorText(err), true)
	}
	if err := r.Defer(true); err != nil {
		return err
	}
	return r.FollowUp(reply{Content: h.removeGate(ctx, cmd.GuildID, id), Ephemeral: true})
}

// handleButton はゲート削除ボタンを処理する。サーバー管理権限がない場合は何もしない。
func (h *commandHandler) handleButton(ctx context.Context, press buttonPress, r responder) {
	if !press.CanManage {
		_ = r.Respond("You need the Manage Server permission to delete gates.", true)
		return
	}
	if err := r.Defer(true); err != nil {
		h.logger.Warn("ボタン操作への応答に失敗しました", slog.String("error", err.Error()))
		return
	}
	if err := r.FollowUp(reply{Content: h.removeGate(ctx, press.GuildID, press.Identity), Ephemeral: true}); err != nil {
		h.logger.Warn("ボタン操作への応答に失敗しました", slog.String("error", err.Error()))
	}
}

func (h *commandHandler) removeGate(ctx context.Context, guildID uint64, id gate.Identity) string {
	if err := h.gk.RemoveGate(ctx, guildID, id); err != nil {
		return errorText(err)
	}
	h.logger.Info("ゲートを削除しました",
		slog.Uint64("guild_id", guildID),
		slog.String("gate", id.String()),
	)
	return fmt.Sprintf("❌ The gate %s for the role %s has been deleted.", "`"+id.String()+"`", roleMention(id.Hi))
}

// gateEnforce は全メンバーにゲートを適用し、変更があったメンバーにはDMで通知する。
func (h *commandHandler) gateEnforce(ctx context.Context, cmd command, r responder) error {
	if err := r.Defer(true); err != nil {
		return err
	}
	report, err := h.enforcer.Enforce(ctx, cmd.GuildID)
	if err != nil {
		return r.FollowUp(reply{Content: errorText(err), Ephemeral: true})
	}
	return r.FollowUp(reply{Content: enforceSummary(report), Ephemeral: true})
}

// getIn はユーザーのウォレットを評価し、獲得したロールを付与する。
// 未登録の場合は登録ページのURLを返す。
func (h *commandHandler) getIn(ctx context.Context, cmd command, r responder) error {
	if err := r.Defer(true); err != nil {
		return err
	}
	if err := r.FollowUp(reply{Content: "Checking your wallet against the gates, this might take a while...", Ephemeral: true}); err != nil {
		return err
	}

	resp, err := h.gk.Check(ctx, cmd.GuildID, cmd.UserID)
	if err != nil {
		return r.FollowUp(reply{Content: errorText(err), Ephemeral: true})
	}

	switch resp.Kind {
	case controller.CheckRegister:
		return r.FollowUp(reply{Content: registerText(resp.URL), Ephemeral: true})
	case controller.CheckNoGates:
		return r.FollowUp(reply{Content: "There are no gated roles on this server yet.", Ephemeral: true})
	case controller.CheckGrant:
		return r.FollowUp(h.grant(ctx, cmd, resp.Roles))
	default:
		return r.FollowUp(reply{Content: errorText(resp.Err), Ephemeral: true})
	}
}

// grant はロールを付与し、結果のメッセージを作る。
// 1つでもロールを付与した場合や失敗があった場合はチャンネルに公開する。
func (h *commandHandler) grant(ctx context.Context, cmd command, roles []uint64) reply {
	var granted, failed []uint64
	for _, role := range roles {
		if err := h.guild.AddRole(ctx, cmd.GuildID, cmd.UserID, role); err != nil {
			h.logger.Warn("ロールの付与に失敗しました",
				slog.Uint64("guild_id", cmd.GuildID),
				slog.Uint64("user_id", cmd.UserID),
				slog.Uint64("role_id", role),
				slog.String("error", err.Error()),
			)
			failed = append(failed, role)
			continue
		}
		granted = append(granted, role)
	}
	h.recorder.RecordRoleChanges(len(granted), 0)

	return reply{
		Content:   grantText(cmd.UserID, granted, failed),
		Ephemeral: len(granted) == 0 && len(failed) == 0,
	}
}

func (h *commandHandler) getOut(ctx context.Context, cmd command, r responder) error {
	if err := r.Defer(true); err != nil {
		return err
	}
	resp, err := h.gk.Unregister(ctx, cmd.UserID)
	switch {
	case err != nil:
		return r.FollowUp(reply{Content: errorText(err), Ephemeral: true})
	case resp.Err != nil:
		return r.FollowUp(reply{Content: errorText(resp.Err), Ephemeral: true})
	case !resp.Registered:
		return r.FollowUp(reply{Content: "You are not registered.", Ephemeral: true})
	default:
		return r.FollowUp(reply{Content: unregisterText(resp.URL), Ephemeral: true})
	}
}

// gateReply はゲート1件の表示。条件のフィールドを埋め込みに並べ、削除ボタンを付ける。
func gateReply(g gate.Gate) reply {
	fields := make([]*discordgo.MessageEmbedField, 0, len(g.Condition.Fields()))
	for _, f := range g.Condition.Fields() {
		fields = append(fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Display(), Inline: true})
	}
	id := g.Identity().String()
	return reply{
		Content:   fmt.Sprintf("The role %s is gated by the following %s criteria", roleMention(g.RoleID), g.Condition.Kind()),
		Ephemeral: true,
		Embeds: []*discordgo.MessageEmbed{{
			Title:  g.Condition.Kind(),
			Fields: fields,
			Footer: &discordgo.MessageEmbedFooter{Text: "gate " + id},
		}},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Delete gate", Style: discordgo.DangerButton, CustomID: deleteButtonPrefix + id},
			}},
		},
	}
}

// errorText は利用者向けのエラーメッセージを返す。
// キューの混雑と停止は内部の詳細を出さずに再試行を促す。
func errorText(err error) string {
	switch {
	case err == nil:
		return "⚠️ An unknown error happened while processing your command."
	case errors.Is(err, controller.ErrQueueFull), errors.Is(err, controller.ErrClosed), errors.Is(err, context.DeadlineExceeded):
		return "⚠️ The bot is busy right now, please try again in a moment."
	default:
		return "⚠️ An error happened while processing your command: `" + err.Error() + "`"
	}
}
