// Package controller はストレージを唯一更新するメッセージループを提供する。
// 要求は単一の有界キューで直列化され、応答は要求ごとの応答チャネルで返される。
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/colonygate/internal/gate"
	"github.com/hitoshi/colonygate/internal/session"
	"github.com/hitoshi/colonygate/internal/storage"
)

const (
	// DefaultQueueSize はキューの容量。
	DefaultQueueSize = 1024
	// DefaultMaxConcurrentChecks は1回のCheckでゲートを並列評価する最大数。
	DefaultMaxConcurrentChecks = 8
)

// ErrInvalidWallet はウォレットアドレスの形式が不正であることを示す。
var ErrInvalidWallet = errors.New("invalid wallet address")

// Observer はメッセージ処理の計測を受け取る。
type Observer interface {
	ObserveMessage(kind string, wait, handle time.Duration)
	ObserveDroppedReply(kind string)
}

type noopObserver struct{}

func (noopObserver) ObserveMessage(string, time.Duration, time.Duration) {}
func (noopObserver) ObserveDroppedReply(string)                          {}

// Config はコントローラの設定。
type Config struct {
	// ServerURL は登録・登録解除リンクのベースURL。
	ServerURL           string
	QueueSize           int
	MaxConcurrentChecks int
}

// Controller はストレージ、ゲート評価器、セッションコーデックを所有するメッセージループ。
type Controller struct {
	store     storage.Storage
	ev        *gate.Evaluator
	codec     *session.Codec
	serverURL string
	workers   int
	logger    *slog.Logger
	observer  Observer
	now       func() time.Time

	q *queue
}

// New はControllerと最初のSenderを生成する。
// 全てのSenderがCloseされるとRunが終了する。
func New(
	store storage.Storage,
	ev *gate.Evaluator,
	codec *session.Codec,
	cfg Config,
	logger *slog.Logger,
	observer Observer,
) (*Controller, *Sender) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.MaxConcurrentChecks <= 0 {
		cfg.MaxConcurrentChecks = DefaultMaxConcurrentChecks
	}
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = noopObserver{}
	}

	q := newQueue(cfg.QueueSize)
	c := &Controller{
		store:     store,
		ev:        ev,
		codec:     codec,
		serverURL: strings.TrimRight(cfg.ServerURL, "/"),
		workers:   cfg.MaxConcurrentChecks,
		logger:    logger,
		observer:  observer,
		now:       time.Now,
		q:         q,
	}
	return c, &Sender{q: q}
}

// Run はキューが閉じるかctxがキャンセルされるまでメッセージを1件ずつ処理する。
// 1件の処理が完了するまで次のメッセージは取り出さない。
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("コントローラを開始しました", slog.Int("queue_size", cap(c.q.ch)))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("コントローラを停止しました", slog.Int("pending", len(c.q.ch)))
			return ctx.Err()
		case env, ok := <-c.q.ch:
			if !ok {
				c.logger.Info("全てのハンドルが解放されたためコントローラを終了しました")
				return nil
			}
			c.dispatch(ctx, env)
		}
	}
}

func (c *Controller) dispatch(ctx context.Context, env envelope) {
	start := time.Now()
	kind := env.msg.kind()

	switch m := env.msg.(type) {
	case AddGate:
		c.done(kind, m.Done, c.addGate(ctx, m))
	case Check:
		reply(c, kind, m.Reply, c.check(ctx, m.GuildID, m.UserID))
	case Register:
		reply(c, kind, m.Reply, c.register(ctx, m))
	case List:
		gates, err := c.store.ListGates(ctx, m.GuildID)
		reply(c, kind, m.Reply, GatesResponse{Gates: gates, Err: err})
	case Roles:
		roles, err := c.roles(ctx, m.GuildID)
		reply(c, kind, m.Reply, RolesResponse{Roles: roles, Err: err})
	case RemoveGate:
		c.done(kind, m.Done, c.store.RemoveGate(ctx, m.GuildID, m.Identity))
	case RemoveGuild:
		c.done(kind, m.Done, c.store.RemoveGuild(ctx, m.GuildID))
	case Guilds:
		guilds, err := c.store.ListGuilds(ctx)
		reply(c, kind, m.Reply, GuildsResponse{Guilds: guilds, Err: err})
	case Batch:
		grants, err := c.batch(ctx, m)
		reply(c, kind, m.Reply, BatchResponse{Grants: grants, Err: err})
	case Unregister:
		reply(c, kind, m.Reply, c.unregister(ctx, m.UserID))
	case RemoveUser:
		c.done(kind, m.Done, c.store.RemoveUser(ctx, m.UserID))
	}

	handled := time.Now()
	c.observer.ObserveMessage(kind, start.Sub(env.enqueued), handled.Sub(start))
	c.logger.Debug("メッセージを処理しました",
		slog.String("message_id", env.id.String()),
		slog.String("kind", kind),
		slog.Duration("duration", handled.Sub(start)),
	)
}

// reply は応答を書き込む。受信側が読まない応答は破棄する。
func reply[T any](c *Controller, kind string, ch chan<- T, v T) {
	if ch == nil {
		return
	}
	select {
	case ch <- v:
	default:
		c.observer.ObserveDroppedReply(kind)
		c.logger.Debug("応答の受信者がいないため破棄しました", slog.String("kind", kind))
	}
}

func (c *Controller) done(kind string, ch chan<- error, err error) {
	if err != nil {
		c.logger.Error("メッセージの処理に失敗しました",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
	reply(c, kind, ch, err)
}

func (c *Controller) addGate(ctx context.Context, m AddGate) error {
	g, err := gate.New(ctx, c.ev, m.RoleID, m.Kind, m.Options)
	if err != nil {
		return err
	}
	if err := c.store.AddGate(ctx, m.GuildID, g); err != nil {
		return err
	}
	c.logger.Info("ゲートを追加しました",
		slog.Uint64("guild_id", m.GuildID),
		slog.Uint64("role_id", m.RoleID),
		slog.String("kind", m.Kind),
		slog.String("gate", g.Identity().String()),
	)
	return nil
}

// check はユーザーのウォレットに対してギルドの全ゲートを評価する。
func (c *Controller) check(ctx context.Context, guildID, userID uint64) CheckResponse {
	wallet, err := c.store.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrUserNotFound) {
		url, err := c.sessionURL("session", userID)
		if err != nil {
			return CheckResponse{Kind: CheckError, Err: err}
		}
		return CheckResponse{Kind: CheckRegister, URL: url}
	}
	if err != nil {
		return CheckResponse{Kind: CheckError, Err: err}
	}

	gates, err := c.store.ListGates(ctx, guildID)
	if err != nil {
		return CheckResponse{Kind: CheckError, Err: err}
	}
	if len(gates) == 0 {
		return CheckResponse{Kind: CheckNoGates}
	}

	roles := c.evaluate(ctx, gates, common.HexToAddress(wallet))
	return CheckResponse{Kind: CheckGrant, Roles: roles}
}

// evaluate はゲートを並列に評価し、条件を満たしたロールIDを昇順・重複なしで返す。
func (c *Controller) evaluate(ctx context.Context, gates []gate.Gate, wallet common.Address) []uint64 {
	passed := make([]bool, len(gates))

	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, gt := range gates {
		g.Go(func() error {
			passed[i] = gt.Condition.Check(ctx, c.ev, wallet)
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[uint64]struct{})
	roles := make([]uint64, 0, len(gates))
	for i, ok := range passed {
		if !ok {
			continue
		}
		if _, dup := seen[gates[i].RoleID]; dup {
			continue
		}
		seen[gates[i].RoleID] = struct{}{}
		roles = append(roles, gates[i].RoleID)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

func (c *Controller) register(ctx context.Context, m Register) RegisterResponse {
	if !common.IsHexAddress(m.Wallet) {
		return RegisterResponse{Result: RegisterError, Err: fmt.Errorf("%w: %q", ErrInvalidWallet, m.Wallet)}
	}
	exists, err := c.store.ContainsUser(ctx, m.UserID)
	if err != nil {
		return RegisterResponse{Result: RegisterError, Err: err}
	}
	if exists {
		return RegisterResponse{Result: RegisterAlreadyRegistered}
	}

	err = c.store.AddUser(ctx, m.UserID, common.HexToAddress(m.Wallet).Hex())
	if errors.Is(err, storage.ErrUserExists) {
		return RegisterResponse{Result: RegisterAlreadyRegistered}
	}
	if err != nil {
		return RegisterResponse{Result: RegisterError, Err: err}
	}
	c.logger.Info("ユーザーを登録しました", slog.Uint64("user_id", m.UserID))
	return RegisterResponse{Result: RegisterSuccess}
}

func (c *Controller) roles(ctx context.Context, guildID uint64) ([]uint64, error) {
	gates, err := c.store.ListGates(ctx, guildID)
	if err != nil {
		return nil, err
	}
	seen := make(map[uint64]struct{}, len(gates))
	roles := make([]uint64, 0, len(gates))
	for _, g := range gates {
		if _, dup := seen[g.RoleID]; dup {
			continue
		}
		seen[g.RoleID] = struct{}{}
		roles = append(roles, g.RoleID)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles, nil
}

// batch は登録済みユーザーごとに獲得ロールを評価する。ゲート一覧は1回だけ読み込む。
func (c *Controller) batch(ctx context.Context, m Batch) ([]Grant, error) {
	gates, err := c.store.ListGates(ctx, m.GuildID)
	if err != nil {
		return nil, err
	}

	grants := make([]Grant, 0, len(m.UserIDs))
	for _, userID := range m.UserIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		wallet, err := c.store.GetUser(ctx, userID)
		if errors.Is(err, storage.ErrUserNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var roles []uint64
		if len(gates) > 0 {
			roles = c.evaluate(ctx, gates, common.HexToAddress(wallet))
		}
		grants = append(grants, Grant{UserID: userID, Roles: roles})
	}
	return grants, nil
}

func (c *Controller) unregister(ctx context.Context, userID uint64) UnregisterResponse {
	exists, err := c.store.ContainsUser(ctx, userID)
	if err != nil {
		return UnregisterResponse{Err: err}
	}
	if !exists {
		return UnregisterResponse{}
	}
	url, err := c.sessionURL("unregister", userID)
	if err != nil {
		return UnregisterResponse{Err: err}
	}
	return UnregisterResponse{Registered: true, URL: url}
}

// sessionURL は現在時刻のセッションを発行し、{server_url}/{path}/{token} を返す。
func (c *Controller) sessionURL(path string, userID uint64) (string, error) {
	token, err := c.codec.Encode(session.New(userID, c.now()))
	if err != nil {
		return "", err
	}
	return c.serverURL + "/" + path + "/" + token, nil
}
