package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hitoshi/colonygate/internal/config"
	"github.com/hitoshi/colonygate/internal/controller"
	"github.com/hitoshi/colonygate/internal/gate"
	"github.com/hitoshi/colonygate/internal/storage"
)

// adminEnv はオフライン管理コマンドの依存。
// 書き込みはサーバーと同じくコントローラを経由して行う。
type adminEnv struct {
	sender *controller.Sender
	store  storage.Storage
	close  func() error
}

// openAdmin はストレージ、ゲート評価器、コントローラを起動する。
func openAdmin(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*adminEnv, error) {
	store, db, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	closeDB := func() {
		if db != nil {
			db.Close()
		}
	}

	ev, closeChain, err := newEvaluator(ctx, cfg, logger, nil)
	if err != nil {
		closeDB()
		return nil, err
	}

	rc, err := startController(context.WithoutCancel(ctx), store, ev, cfg, logger, nil)
	if err != nil {
		closeChain()
		closeDB()
		return nil, err
	}

	return &adminEnv{
		sender: rc.sender,
		store:  store,
		close: func() error {
			err := rc.stop()
			closeChain()
			closeDB()
			return err
		},
	}, nil
}

func parseUint(name, s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a decimal id", name, s)
	}
	return v, nil
}

func listGuilds(ctx context.Context, env *adminEnv, out io.Writer) error {
	guilds, err := env.sender.Guilds(ctx)
	if err != nil {
		return fmt.Errorf("failed to list guilds: %w", err)
	}
	if len(guilds) == 0 {
		fmt.Fprintln(out, "no guilds with gates")
		return nil
	}
	for _, id := range guilds {
		fmt.Fprintln(out, id)
	}
	return nil
}

func removeGuild(ctx context.Context, env *adminEnv, out io.Writer, guildID uint64) error {
	if err := env.sender.RemoveGuild(ctx, guildID); err != nil {
		return fmt.Errorf("failed to remove guild: %w", err)
	}
	fmt.Fprintf(out, "removed all gates of guild %d\n", guildID)
	return nil
}

func listUsers(ctx context.Context, env *adminEnv, out io.Writer) error {
	users, err := env.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	if len(users) == 0 {
		fmt.Fprintln(out, "no registered users")
		return nil
	}
	for _, u := range users {
		fmt.Fprintf(out, "%d\t%s\n", u.ID, u.Wallet)
	}
	return nil
}

func addUser(ctx context.Context, env *adminEnv, out io.Writer, userID uint64, wallet string) error {
	resp, err := env.sender.Register(ctx, userID, wallet)
	if err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}
	switch resp.Result {
	case controller.RegisterSuccess:
		fmt.Fprintf(out, "registered user %d\n", userID)
		return nil
	case controller.RegisterAlreadyRegistered:
		return fmt.Errorf("user %d is already registered", userID)
	default:
		return fmt.Errorf("failed to register user: %w", resp.Err)
	}
}

func removeUser(ctx context.Context, env *adminEnv, out io.Writer, userID uint64) error {
	err := env.sender.RemoveUser(ctx, userID)
	if errors.Is(err, storage.ErrUserNotFound) {
		return fmt.Errorf("user %d is not registered", userID)
	}
	if err != nil {
		return fmt.Errorf("failed to remove user: %w", err)
	}
	fmt.Fprintf(out, "removed user %d\n", userID)
	return nil
}

func listGates(ctx context.Context, env *adminEnv, out io.Writer, guildID uint64) error {
	gates, err := env.sender.ListGates(ctx, guildID)
	if err != nil {
		return fmt.Errorf("failed to list gates: %w", err)
	}
	if len(gates) == 0 {
		fmt.Fprintf(out, "no gates in guild %d\n", guildID)
		return nil
	}
	for _, g := range gates {
		fields := make([]string, 0, len(g.Condition.Fields()))
		for _, f := range g.Condition.Fields() {
			fields = append(fields, f.Name+"="+f.Display())
		}
		fmt.Fprintf(out, "%s\trole=%d\t%s\t%s\n", g.Identity(), g.RoleID, g.Condition.Kind(), strings.Join(fields, " "))
	}
	return nil
}

// parseGateOptions はコマンドライン引数をゲート種類のスキーマ順に型付きの値へ変換する。
func parseGateOptions(kindName string, raw []string) (string, []gate.OptionValue, error) {
	kind, ok := gate.LookupKind(kindName)
	if !ok {
		names := make([]string, 0, len(gate.Kinds()))
		for _, k := range gate.Kinds() {
			names = append(names, k.Name)
		}
		return "", nil, fmt.Errorf("%w: %q (available: %s)", gate.ErrUnknownKind, kindName, strings.Join(names, ", "))
	}
	if len(raw) != len(kind.Options) {
		names := make([]string, 0, len(kind.Options))
		for _, o := range kind.Options {
			names = append(names, "<"+o.Name+">")
		}
		return "", nil, fmt.Errorf("%w: %s gate needs %s", gate.ErrOptionCount, kind.Name, strings.Join(names, " "))
	}

	values := make([]gate.OptionValue, 0, len(raw))
	for i, o := range kind.Options {
		v, err := gate.ParseOptionValue(o, raw[i])
		if err != nil {
			return "", nil, err
		}
		values = append(values, v)
	}
	return kind.Name, values, nil
}

func addGate(ctx context.Context, env *adminEnv, out io.Writer, guildID, roleID uint64, kind string, raw []string) error {
	name, values, err := parseGateOptions(kind, raw)
	if err != nil {
		return err
	}
	if err := env.sender.AddGate(ctx, guildID, roleID, name, values); err != nil {
		return fmt.Errorf("failed to add gate: %w", err)
	}
	fmt.Fprintf(out, "added %s gate for role %d in guild %d\n", name, roleID, guildID)
	return nil
}

func removeGate(ctx context.Context, env *adminEnv, out io.Writer, guildID uint64, rawID string) error {
	id, err := gate.ParseIdentity(rawID)
	if err != nil {
		return err
	}
	if err := env.sender.RemoveGate(ctx, guildID, id); err != nil {
		return fmt.Errorf("failed to remove gate: %w", err)
	}
	fmt.Fprintf(out, "removed gate %s\n", id)
	return nil
}

func checkUser(ctx context.Context, env *adminEnv, out io.Writer, guildID, userID uint64) error {
	resp, err := env.sender.Check(ctx, guildID, userID)
	if err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	switch resp.Kind {
	case controller.CheckRegister:
		fmt.Fprintf(out, "user %d is not registered, registration link: %s\n", userID, resp.URL)
	case controller.CheckNoGates:
		fmt.Fprintf(out, "guild %d has no gates\n", guildID)
	case controller.CheckGrant:
		if len(resp.Roles) == 0 {
			fmt.Fprintln(out, "no roles earned")
			return nil
		}
		for _, r := range resp.Roles {
			fmt.Fprintln(out, r)
		}
	default:
		return fmt.Errorf("failed to check user: %w", resp.Err)
	}
	return nil
}
