package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/colonygate/internal/gate"
)

// walletCodec はウォレットアドレスと保存用バイト列を相互に変換する。
type walletCodec interface {
	seal(wallet string) ([]byte, error)
	open(data []byte) (string, error)
}

type plainWallets struct{}

func (plainWallets) seal(wallet string) ([]byte, error) { return []byte(wallet), nil }
func (plainWallets) open(data []byte) (string, error)   { return string(data), nil }

// Postgres はPostgreSQLを使用したStorageの実装。ウォレットは平文で保存する。
type Postgres struct {
	db      *sql.DB
	wallets walletCodec
}

var _ Storage = (*Postgres)(nil)

// NewPostgres はPostgresを生成する。
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, wallets: plainWallets{}}
}

func (p *Postgres) ListGuilds(ctx context.Context) ([]uint64, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT DISTINCT guild_key FROM gates ORDER BY guild_key`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list guilds: %w", err)
	}
	defer rows.Close()

	var guilds []uint64
	for rows.Next() {
		var key []byte
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan guild: %w", err)
		}
		id, err := ParseKey(key)
		if err != nil {
			return nil, err
		}
		guilds = append(guilds, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate guilds: %w", err)
	}
	return guilds, nil
}

func (p *Postgres) RemoveGuild(ctx context.Context, guildID uint64) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM gates WHERE guild_key = $1`,
		Key(guildID),
	)
	if err != nil {
		return fmt.Errorf("failed to remove guild: %w", err)
	}
	return nil
}

func (p *Postgres) AddGate(ctx context.Context, guildID uint64, g gate.Gate) error {
	rec, err := gate.Marshal(g)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO gates (guild_key, gate_key, record)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (guild_key, gate_key) DO UPDATE SET record = EXCLUDED.record, updated_at = now()`,
		Key(guildID), g.Identity().Bytes(), rec,
	)
	if err != nil {
		return fmt.Errorf("failed to add gate: %w", err)
	}
	return nil
}

// ListGates はギルドのゲートをキー順に返す。
// レコードから再計算したIdentityが保存キーと一致しない場合はErrCorruptRecordを返す。
func (p *Postgres) ListGates(ctx context.Context, guildID uint64) ([]gate.Gate, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT gate_key, record FROM gates WHERE guild_key = $1 ORDER BY gate_key`,
		Key(guildID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list gates: %w", err)
	}
	defer rows.Close()

	var gates []gate.Gate
	for rows.Next() {
		var key, rec []byte
		if err := rows.Scan(&key, &rec); err != nil {
			return nil, fmt.Errorf("failed to scan gate: %w", err)
		}
		g, err := decodeGate(key, rec)
		if err != nil {
			return nil, err
		}
		gates = append(gates, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate gates: %w", err)
	}
	return gates, nil
}

func decodeGate(key, rec []byte) (gate.Gate, error) {
	g, err := gate.Unmarshal(rec)
	if err != nil {
		return gate.Gate{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if !bytes.Equal(g.Identity().Bytes(), key) {
		return gate.Gate{}, fmt.Errorf("%w: gate key %x does not match record", ErrCorruptRecord, key)
	}
	return g, nil
}

func (p *Postgres) RemoveGate(ctx context.Context, guildID uint64, id gate.Identity) error {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM gates WHERE guild_key = $1 AND gate_key = $2`,
		Key(guildID), id.Bytes(),
	)
	if err != nil {
		return fmt.Errorf("failed to remove gate: %w", err)
	}
	return requireAffected(res, ErrGateNotFound)
}

func (p *Postgres) GetUser(ctx context.Context, userID uint64) (string, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT wallet FROM users WHERE user_key = $1`,
		Key(userID),
	).Scan(&data)
	if err == sql.ErrNoRows {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	return p.wallets.open(data)
}

func (p *Postgres) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT user_key, wallet FROM users ORDER BY user_key`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var key, data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		id, err := ParseKey(key)
		if err != nil {
			return nil, err
		}
		wallet, err := p.wallets.open(data)
		if err != nil {
			return nil, err
		}
		users = append(users, User{ID: id, Wallet: wallet})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func (p *Postgres) AddUser(ctx context.Context, userID uint64, wallet string) error {
	data, err := p.wallets.seal(wallet)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO users (user_key, wallet) VALUES ($1, $2)
		 ON CONFLICT (user_key) DO NOTHING`,
		Key(userID), data,
	)
	if err != nil {
		return fmt.Errorf("failed to add user: %w", err)
	}
	return requireAffected(res, ErrUserExists)
}

func (p *Postgres) ContainsUser(ctx context.Context, userID uint64) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE user_key = $1)`,
		Key(userID),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return exists, nil
}

func (p *Postgres) RemoveUser(ctx context.Context, userID uint64) error {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM users WHERE user_key = $1`,
		Key(userID),
	)
	if err != nil {
		return fmt.Errorf("failed to remove user: %w", err)
	}
	return requireAffected(res, ErrUserNotFound)
}

// requireAffected は影響行数が0の場合にnotFoundを返す。
func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// IsNotFound はerrがユーザーまたはゲートの不在を示すかを返す。
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrGateNotFound)
}
