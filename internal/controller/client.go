package controller

import (
	"context"

	"github.com/hitoshi/colonygate/internal/gate"
)

// request は応答チャネルを作成して要求を送り、応答を待つ。
func request[T any](ctx context.Context, s *Sender, build func(reply chan<- T) Message) (T, error) {
	var zero T
	ch := make(chan T, 1)
	if err := s.Send(ctx, build(ch)); err != nil {
		return zero, err
	}
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// await は完了通知を待つ要求を送り、処理結果のエラーを返す。
func await(ctx context.Context, s *Sender, build func(done chan<- error) Message) error {
	err, sendErr := request(ctx, s, build)
	if sendErr != nil {
		return sendErr
	}
	return err
}

// Check はユーザーがギルドで獲得するロールを評価する。
func (s *Sender) Check(ctx context.Context, guildID, userID uint64) (CheckResponse, error) {
	return request(ctx, s, func(reply chan<- CheckResponse) Message {
		return Check{UserID: userID, GuildID: guildID, Reply: reply}
	})
}

// Register はウォレットを登録する。
func (s *Sender) Register(ctx context.Context, userID uint64, wallet string) (RegisterResponse, error) {
	return request(ctx, s, func(reply chan<- RegisterResponse) Message {
		return Register{UserID: userID, Wallet: wallet, Reply: reply}
	})
}

// AddGate はゲートを追加し、構築または保存のエラーを返す。
func (s *Sender) AddGate(ctx context.Context, guildID, roleID uint64, kind string, options []gate.OptionValue) error {
	return await(ctx, s, func(done chan<- error) Message {
		return AddGate{GuildID: guildID, RoleID: roleID, Kind: kind, Options: options, Done: done}
	})
}

// ListGates はギルドのゲートを返す。
func (s *Sender) ListGates(ctx context.Context, guildID uint64) ([]gate.Gate, error) {
	resp, err := request(ctx, s, func(reply chan<- GatesResponse) Message {
		return List{GuildID: guildID, Reply: reply}
	})
	if err != nil {
		return nil, err
	}
	return resp.Gates, resp.Err
}

// Roles はギルドでゲート管理されているロールIDを返す。
func (s *Sender) Roles(ctx context.Context, guildID uint64) ([]uint64, error) {
	resp, err := request(ctx, s, func(reply chan<- RolesResponse) Message {
		return Roles{GuildID: guildID, Reply: reply}
	})
	if err != nil {
		return nil, err
	}
	return resp.Roles, resp.Err
}

// RemoveGate はゲートを削除する。
func (s *Sender) RemoveGate(ctx context.Context, guildID uint64, id gate.Identity) error {
	return await(ctx, s, func(done chan<- error) Message {
		return RemoveGate{GuildID: guildID, Identity: id, Done: done}
	})
}

// RemoveGuild はギルドの全ゲートを削除する。
func (s *Sender) RemoveGuild(ctx context.Context, guildID uint64) error {
	return await(ctx, s, func(done chan<- error) Message {
		return RemoveGuild{GuildID: guildID, Done: done}
	})
}

// Guilds はゲートのあるギルドIDを返す。
func (s *Sender) Guilds(ctx context.Context) ([]uint64, error) {
	resp, err := request(ctx, s, func(reply chan<- GuildsResponse) Message {
		return Guilds{Reply: reply}
	})
	if err != nil {
		return nil, err
	}
	return resp.Guilds, resp.Err
}

// Batch は複数ユーザーの獲得ロールを評価する。
func (s *Sender) Batch(ctx context.Context, guildID uint64, userIDs []uint64) ([]Grant, error) {
	resp, err := request(ctx, s, func(reply chan<- BatchResponse) Message {
		return Batch{GuildID: guildID, UserIDs: userIDs, Reply: reply}
	})
	if err != nil {
		return nil, err
	}
	return resp.Grants, resp.Err
}

// Unregister は登録解除URLを発行する。
func (s *Sender) Unregister(ctx context.Context, userID uint64) (UnregisterResponse, error) {
	return request(ctx, s, func(reply chan<- UnregisterResponse) Message {
		return Unregister{UserID: userID, Reply: reply}
	})
}

// RemoveUser はユーザーの登録を削除する。
func (s *Sender) RemoveUser(ctx context.Context, userID uint64) error {
	return await(ctx, s, func(done chan<- error) Message {
		return RemoveUser{UserID: userID, Done: done}
	})
}
