package bot

import (
	"github.com/bwmarrin/discordgo"

	"github.com/hitoshi/colonygate/internal/gate"
)

// コマンド名
const (
	commandGate = "gate"
	commandGet  = "get"

	subAdd     = "add"
	subList    = "list"
	subRemove  = "remove"
	subEnforce = "enforce"
	subIn      = "in"
	subOut     = "out"

	optionRole = "role"
	optionGate = "gate"
)

// Commands は登録するスラッシュコマンドを返す。
// /gate add のサブコマンドはゲート種類の登録情報から生成する。
func Commands() []*discordgo.ApplicationCommand {
	manageGuild := int64(discordgo.PermissionManageServer)
	dm := false

	return []*discordgo.ApplicationCommand{
		{
			Name:                     commandGate,
			Description:              "Manage gated roles on this server",
			DefaultMemberPermissions: &manageGuild,
			DMPermission:             &dm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
					Name:        subAdd,
					Description: "Add a new gate to protect a role on the server",
					Options:     addSubcommands(),
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subList,
					Description: "List the gates that are active on this server",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subRemove,
					Description: "Remove a gate by its identifier",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        optionGate,
							Description: "The gate identifier shown by /gate list",
							Required:    true,
							MinLength:   intPtr(32),
							MaxLength:   32,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subEnforce,
					Description: "Enforce the active gates on all members of the server",
				},
			},
		},
		{
			Name:         commandGet,
			Description:  "Get in or out of gated roles",
			DMPermission: &dm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subIn,
					Description: "Get the gated roles your wallet qualifies for",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subOut,
					Description: "Disconnect your wallet from your Discord account",
				},
			},
		},
	}
}

func addSubcommands() []*discordgo.ApplicationCommandOption {
	kinds := gate.Kinds()
	subs := make([]*discordgo.ApplicationCommandOption, 0, len(kinds))
	for _, k := range kinds {
		options := make([]*discordgo.ApplicationCommandOption, 0, len(k.Options)+1)
		for _, o := range k.Options {
			options = append(options, commandOption(o))
		}
		options = append(options, &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionRole,
			Name:        optionRole,
			Description: "The role to be gated",
			Required:    true,
		})
		subs = append(subs, &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        k.Name,
			Description: k.Description,
			Options:     options,
		})
	}
	return subs
}

// commandOption はゲートのオプション宣言をDiscordのコマンドオプションに変換する。
func commandOption(o gate.Option) *discordgo.ApplicationCommandOption {
	opt := &discordgo.ApplicationCommandOption{
		Name:        o.Name,
		Description: o.Description,
		Required:    o.Required,
	}
	switch o.Type {
	case gate.OptionInteger:
		opt.Type = discordgo.ApplicationCommandOptionInteger
	case gate.OptionNumber:
		opt.Type = discordgo.ApplicationCommandOptionNumber
	default:
		opt.Type = discordgo.ApplicationCommandOptionString
		if o.Length > 0 {
			opt.MinLength = intPtr(o.Length)
			opt.MaxLength = o.Length
		}
	}
	if o.Type != gate.OptionString {
		if o.Min != nil {
			opt.MinValue = float64Ptr(*o.Min)
		}
		if o.Max != nil {
			opt.MaxValue = *o.Max
		}
	}
	return opt
}

func intPtr(v int) *int { return &v }

func float64Ptr(v float64) *float64 { return &v }
