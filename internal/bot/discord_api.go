package bot

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
)

// membersPageSize はGuildMembersの1回あたりの最大取得数。
const membersPageSize = 1000

// Member はギルドメンバーのうちゲート評価に必要な情報。
type Member struct {
	UserID uint64
	Roles  []uint64
	Bot    bool
}

// GuildAPI はDiscordのギルド操作。
type GuildAPI interface {
	// Members はギルドの全メンバーを返す。
	Members(ctx context.Context, guildID uint64) ([]Member, error)
	AddRole(ctx context.Context, guildID, userID, roleID uint64) error
	RemoveRole(ctx context.Context, guildID, userID, roleID uint64) error
	// SendDM はユーザーにダイレクトメッセージを送る。
	SendDM(ctx context.Context, userID uint64, content string) error
	// BotTopRolePosition はギルド内でボットが持つロールの最上位の位置を返す。
	BotTopRolePosition(ctx context.Context, guildID uint64) (int, error)
	// Joined はボットが参加しているギルドIDを返す。
	// 接続が完了していない場合はErrNotReadyを返す。
	Joined(ctx context.Context) ([]uint64, error)
}

// sessionAPI はdiscordgo.SessionでGuildAPIを実装する。
type sessionAPI struct {
	session *discordgo.Session
	ready   *atomic.Bool
}

var _ GuildAPI = (*sessionAPI)(nil)

func (a *sessionAPI) Members(ctx context.Context, guildID uint64) ([]Member, error) {
	var (
		members []Member
		after   string
	)
	for {
		page, err := a.session.GuildMembers(formatID(guildID), after, membersPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to list guild members: %w", err)
		}
		for _, m := range page {
			if m.User == nil {
				continue
			}
			member, err := toMember(m)
			if err != nil {
				return nil, err
			}
			members = append(members, member)
			after = m.User.ID
		}
		if len(page) < membersPageSize {
			return members, nil
		}
	}
}

func (a *sessionAPI) AddRole(ctx context.Context, guildID, userID, roleID uint64) error {
	if err := a.session.GuildMemberRoleAdd(formatID(guildID), formatID(userID), formatID(roleID), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to add role %d: %w", roleID, err)
	}
	return nil
}

func (a *sessionAPI) RemoveRole(ctx context.Context, guildID, userID, roleID uint64) error {
	if err := a.session.GuildMemberRoleRemove(formatID(guildID), formatID(userID), formatID(roleID), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to remove role %d: %w", roleID, err)
	}
	return nil
}

func (a *sessionAPI) SendDM(ctx context.Context, userID uint64, content string) error {
	ch, err := a.session.UserChannelCreate(formatID(userID), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to open dm channel: %w", err)
	}
	if _, err := a.session.ChannelMessageSend(ch.ID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send dm: %w", err)
	}
	return nil
}

func (a *sessionAPI) BotTopRolePosition(ctx context.Context, guildID uint64) (int, error) {
	if !a.ready.Load() || a.session.State.User == nil {
		return 0, ErrNotReady
	}
	member, err := a.session.GuildMember(formatID(guildID), a.session.State.User.ID, discordgo.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("failed to get bot member: %w", err)
	}
	roles, err := a.session.GuildRoles(formatID(guildID), discordgo.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("failed to list guild roles: %w", err)
	}
	return topPosition(member.Roles, roles), nil
}

func (a *sessionAPI) Joined(_ context.Context) ([]uint64, error) {
	if !a.ready.Load() {
		return nil, ErrNotReady
	}
	a.session.State.RLock()
	defer a.session.State.RUnlock()

	ids := make([]uint64, 0, len(a.session.State.Guilds))
	for _, g := range a.session.State.Guilds {
		id, err := parseID(g.ID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func toMember(m *discordgo.Member) (Member, error) {
	userID, err := parseID(m.User.ID)
	if err != nil {
		return Member{}, err
	}
	roles := make([]uint64, 0, len(m.Roles))
	for _, r := range m.Roles {
		id, err := parseID(r)
		if err != nil {
			return Member{}, err
		}
		roles = append(roles, id)
	}
	return Member{UserID: userID, Roles: roles, Bot: m.User.Bot}, nil
}

// topPosition はmemberRolesのうち最も高いロールの位置を返す。該当がなければ0。
func topPosition(memberRoles []string, guildRoles []*discordgo.Role) int {
	held := make(map[string]struct{}, len(memberRoles))
	for _, id := range memberRoles {
		held[id] = struct{}{}
	}
	top := 0
	for _, r := range guildRoles {
		if _, ok := held[r.ID]; ok && r.Position > top {
			top = r.Position
		}
	}
	return top
}
