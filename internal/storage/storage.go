// Package storage はギルドごとのゲートとユーザーのウォレットを永続化する。
// 書き込みはコントローラのメッセージループからのみ行われる前提で、
// バックエンドはメモリ、PostgreSQL（平文）、PostgreSQL（暗号化）の3種類。
package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hitoshi/colonygate/internal/gate"
)

var (
	// ErrUserNotFound はユーザーが登録されていないことを示す。
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists はユーザーが登録済みであることを示す。登録済みのウォレットは上書きしない。
	ErrUserExists = errors.New("user already registered")
	// ErrGateNotFound はゲートが存在しないことを示す。
	ErrGateNotFound = errors.New("gate not found")
	// ErrCorruptRecord は保存されたレコードを復元できないことを示す。復旧は試みない。
	ErrCorruptRecord = errors.New("corrupt record")
)

// User は登録済みユーザー。
type User struct {
	ID     uint64
	Wallet string
}

// Storage はゲートとユーザーの永続化インターフェース。
type Storage interface {
	// ListGuilds はゲートが1つ以上あるギルドIDを昇順で返す。
	ListGuilds(ctx context.Context) ([]uint64, error)
	// RemoveGuild はギルドの全ゲートを削除する。
	RemoveGuild(ctx context.Context, guildID uint64) error
	// AddGate はゲートを保存する。同じIdentityのゲートは同一レコードとして上書きされる。
	AddGate(ctx context.Context, guildID uint64, g gate.Gate) error
	// ListGates はギルドのゲートを返す。
	ListGates(ctx context.Context, guildID uint64) ([]gate.Gate, error)
	// RemoveGate はゲートを削除する。存在しない場合はErrGateNotFoundを返す。
	RemoveGate(ctx context.Context, guildID uint64, id gate.Identity) error

	// GetUser はユーザーのウォレットを返す。未登録の場合はErrUserNotFoundを返す。
	GetUser(ctx context.Context, userID uint64) (string, error)
	// ListUsers は全ユーザーをID昇順で返す。
	ListUsers(ctx context.Context) ([]User, error)
	// AddUser はユーザーを登録する。登録済みの場合はErrUserExistsを返す。
	AddUser(ctx context.Context, userID uint64, wallet string) error
	// ContainsUser はユーザーが登録済みかを返す。
	ContainsUser(ctx context.Context, userID uint64) (bool, error)
	// RemoveUser はユーザーを削除する。未登録の場合はErrUserNotFoundを返す。
	RemoveUser(ctx context.Context, userID uint64) error
}

// Key はIDのビッグエンディアン8バイト表現を返す。ギルドとユーザーのキーに使用する。
func Key(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// ParseKey はビッグエンディアン8バイトのキーをIDに戻す。
func ParseKey(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: key must be 8 bytes, got %d", ErrCorruptRecord, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
