// Package session はウォレット登録用の短命なセッショントークンを提供する。
// トークンはプロセス内の鍵で暗号化され、サーバー側には保存しない。
package session

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// Lifetime はセッションの有効期間。
const Lifetime = 60 * time.Second

// ErrInvalidSession はトークンの形式不正・改ざん・復号失敗を示す。
var ErrInvalidSession = errors.New("invalid session")

// Session は登録待ちのユーザーを表す。永続化しない。
type Session struct {
	UserID    uint64
	Timestamp uint64
}

// New は現在時刻のSessionを生成する。
func New(userID uint64, now time.Time) Session {
	return Session{UserID: userID, Timestamp: uint64(now.Unix())}
}

// Expired は作成から60秒を超えて経過しているかを返す。
func (s Session) Expired(now time.Time) bool {
	return now.Unix()-int64(s.Timestamp) > int64(Lifetime/time.Second)
}

// Codec はセッションの暗号化と復号を行う。鍵は起動時に1回だけ生成し、永続化しない。
// 複数のゴルーチンから同時に使用できる。
type Codec struct {
	aead cipher.AEAD
}

// NewCodec はランダムな鍵でCodecを生成する。
func NewCodec() (*Codec, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	return NewCodecWithKey(key)
}

// NewCodecWithKey は指定した32バイトの鍵でCodecを生成する。
func NewCodecWithKey(key []byte) (*Codec, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cipher: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encode は"{user_id}:{timestamp}"を暗号化し、hex(nonce)+"."+hex(ciphertext)を返す。
// ノンスはエンコードごとにランダムに生成する。
func (c *Codec) Encode(s Session) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	plaintext := []byte(strconv.FormatUint(s.UserID, 10) + ":" + strconv.FormatUint(s.Timestamp, 10))
	ciphertext := c.aead.Seal(nil, nonce, plaintext, nil)
	return hex.EncodeToString(nonce) + "." + hex.EncodeToString(ciphertext), nil
}

// Decode はトークンを復号してSessionを返す。有効期限は検証しない。
func (c *Codec) Decode(token string) (Session, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return Session{}, fmt.Errorf("%w: expected 2 parts, got %d", ErrInvalidSession, len(parts))
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return Session{}, fmt.Errorf("%w: nonce: %v", ErrInvalidSession, err)
	}
	if len(nonce) != c.aead.NonceSize() {
		return Session{}, fmt.Errorf("%w: nonce must be %d bytes", ErrInvalidSession, c.aead.NonceSize())
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return Session{}, fmt.Errorf("%w: ciphertext: %v", ErrInvalidSession, err)
	}

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	userStr, tsStr, ok := strings.Cut(string(plaintext), ":")
	if !ok {
		return Session{}, fmt.Errorf("%w: malformed payload", ErrInvalidSession)
	}
	userID, err := strconv.ParseUint(userStr, 10, 64)
	if err != nil {
		return Session{}, fmt.Errorf("%w: user id: %v", ErrInvalidSession, err)
	}
	ts, err := strconv.ParseUint(tsStr, 10, 64)
	if err != nil {
		return Session{}, fmt.Errorf("%w: timestamp: %v", ErrInvalidSession, err)
	}
	return Session{UserID: userID, Timestamp: ts}, nil
}
