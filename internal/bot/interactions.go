package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/hitoshi/colonygate/internal/gate"
)

// deleteButtonPrefix は /gate list のゲート削除ボタンのカスタムIDの接頭辞。
const deleteButtonPrefix = "delete_gate:"

var (
	errNotInGuild      = errors.New("this command can only be used inside a server")
	errUnknownCommand  = errors.New("unknown command")
	errMissingRole     = errors.New("role option is missing")
	errEveryoneRole    = errors.New("the @everyone role cannot be gated")
	errMissingArgument = errors.New("missing command argument")
)

// command はスラッシュコマンドの入力を解析した結果。
type command struct {
	Name    string
	Sub     string
	GuildID uint64
	UserID  uint64

	// /gate add
	Kind         string
	RoleID       uint64
	RolePosition int
	Options      []gate.OptionValue

	// /gate remove
	GateID string
}

// buttonPress はゲート削除ボタンの操作。
type buttonPress struct {
	GuildID  uint64
	UserID   uint64
	Identity gate.Identity
	// CanManage は操作したメンバーがサーバー管理権限を持つかを示す。
	CanManage bool
}

func interactionUser(i *discordgo.Interaction) (string, error) {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.ID, nil
	case i.User != nil:
		return i.User.ID, nil
	default:
		return "", errors.New("interaction has no user")
	}
}

// parseCommand はスラッシュコマンドのインタラクションを解析する。
func parseCommand(i *discordgo.Interaction) (command, error) {
	if i.GuildID == "" {
		return command{}, errNotInGuild
	}
	guildID, err := parseID(i.GuildID)
	if err != nil {
		return command{}, err
	}
	rawUser, err := interactionUser(i)
	if err != nil {
		return command{}, err
	}
	userID, err := parseID(rawUser)
	if err != nil {
		return command{}, err
	}

	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return command{}, fmt.Errorf("%w: /%s needs a subcommand", errMissingArgument, data.Name)
	}
	sub := data.Options[0]
	cmd := command{Name: data.Name, Sub: sub.Name, GuildID: guildID, UserID: userID}

	switch {
	case cmd.Name == commandGate && cmd.Sub == subAdd:
		if len(sub.Options) == 0 {
			return command{}, fmt.Errorf("%w: gate type", errMissingArgument)
		}
		if err := parseAdd(&cmd, sub.Options[0], data.Resolved); err != nil {
			return command{}, err
		}
	case cmd.Name == commandGate && cmd.Sub == subRemove:
		for _, o := range sub.Options {
			if o.Name == optionGate {
				cmd.GateID = strings.TrimSpace(o.StringValue())
			}
		}
		if cmd.GateID == "" {
			return command{}, fmt.Errorf("%w: gate", errMissingArgument)
		}
	case cmd.Name == commandGate && (cmd.Sub == subList || cmd.Sub == subEnforce):
	case cmd.Name == commandGet && (cmd.Sub == subIn || cmd.Sub == subOut):
	default:
		return command{}, fmt.Errorf("%w: /%s %s", errUnknownCommand, cmd.Name, cmd.Sub)
	}
	return cmd, nil
}

// parseAdd は /gate add <kind> の引数をゲート種類のスキーマ順に並べて取り出す。
func parseAdd(cmd *command, sub *discordgo.ApplicationCommandInteractionDataOption, resolved *discordgo.ApplicationCommandInteractionDataResolved) error {
	kind, ok := gate.LookupKind(sub.Name)
	if !ok {
		return fmt.Errorf("%w: %q", gate.ErrUnknownKind, sub.Name)
	}
	cmd.Kind = kind.Name

	given := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(sub.Options))
	for _, o := range sub.Options {
		given[o.Name] = o
	}

	role, ok := given[optionRole]
	if !ok {
		return errMissingRole
	}
	roleID, err := parseID(fmt.Sprint(role.Value))
	if err != nil {
		return err
	}
	if roleID == cmd.GuildID {
		return errEveryoneRole
	}
	cmd.RoleID = roleID
	if resolved != nil {
		if r, ok := resolved.Roles[formatID(roleID)]; ok {
			cmd.RolePosition = r.Position
		}
	}

	for _, o := range kind.Options {
		v, ok := given[o.Name]
		if !ok {
			continue
		}
		switch o.Type {
		case gate.OptionInteger:
			cmd.Options = append(cmd.Options, gate.IntegerValue(o.Name, v.IntValue()))
		case gate.OptionNumber:
			cmd.Options = append(cmd.Options, gate.NumberValue(o.Name, v.FloatValue()))
		default:
			cmd.Options = append(cmd.Options, gate.StringValue(o.Name, strings.TrimSpace(v.StringValue())))
		}
	}
	return nil
}

// parseButton はゲート削除ボタンの操作を解析する。
func parseButton(i *discordgo.Interaction) (buttonPress, error) {
	data := i.MessageComponentData()
	raw, ok := strings.CutPrefix(data.CustomID, deleteButtonPrefix)
	if !ok {
		return buttonPress{}, fmt.Errorf("unknown component %q", data.CustomID)
	}
	id, err := gate.ParseIdentity(raw)
	if err != nil {
		return buttonPress{}, err
	}
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		return buttonPress{}, errNotInGuild
	}
	guildID, err := parseID(i.GuildID)
	if err != nil {
		return buttonPress{}, err
	}
	userID, err := parseID(i.Member.User.ID)
	if err != nil {
		return buttonPress{}, err
	}
	return buttonPress{
		GuildID:   guildID,
		UserID:    userID,
		Identity:  id,
		CanManage: i.Member.Permissions&discordgo.PermissionManageServer != 0,
	}, nil
}

// reply はフォローアップで送るメッセージ。
type reply struct {
	Content    string
	Ephemeral  bool
	Embeds     []*discordgo.MessageEmbed
	Components []discordgo.MessageComponent
}

// responder は1つのインタラクションへの応答を送る。
type responder interface {
	// Respond は即時に応答する。Deferの後には使わない。
	Respond(content string, ephemeral bool) error
	// Defer は処理中であることを通知する。以降の応答はFollowUpで送る。
	Defer(ephemeral bool) error
	FollowUp(msg reply) error
}

// interactionResponder はdiscordgo.Sessionでresponderを実装する。
type interactionResponder struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
	ctx         context.Context
}

func flags(ephemeral bool) discordgo.MessageFlags {
	if ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}

func (r *interactionResponder) Respond(content string, ephemeral bool) error {
	return r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: flags(ephemeral)},
	}, discordgo.WithContext(r.ctx))
}

func (r *interactionResponder) Defer(ephemeral bool) error {
	return r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags(ephemeral)},
	}, discordgo.WithContext(r.ctx))
}

func (r *interactionResponder) FollowUp(msg reply) error {
	_, err := r.session.FollowupMessageCreate(r.interaction, true, &discordgo.WebhookParams{
		Content:    msg.Content,
		Flags:      flags(msg.Ephemeral),
		Embeds:     msg.Embeds,
		Components: msg.Components,
	}, discordgo.WithContext(r.ctx))
	return err
}
