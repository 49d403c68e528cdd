package storage

import (
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize は暗号化キーのバイト数。
const KeySize = chacha20poly1305.KeySize

// sealedWallets はウォレットを nonce || ciphertext の形式で保存する。
type sealedWallets struct {
	aead cipher.AEAD
}

func (s sealedWallets) seal(wallet string) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(wallet)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, []byte(wallet), nil), nil
}

func (s sealedWallets) open(data []byte) (string, error) {
	n := s.aead.NonceSize()
	if len(data) < n+s.aead.Overhead() {
		return "", fmt.Errorf("%w: sealed wallet too short", ErrCorruptRecord)
	}
	plain, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return string(plain), nil
}

// NewEncrypted はウォレットを暗号化して保存するPostgresを生成する。
// ゲートのレコードは公開情報のため平文のまま保存する。
func NewEncrypted(db *sql.DB, key []byte) (*Postgres, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet cipher: %w", err)
	}
	return &Postgres{db: db, wallets: sealedWallets{aead: aead}}, nil
}

// ParseEncryptionKey は64文字の16進文字列を暗号化キーに変換する。
func ParseEncryptionKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("encryption key must be hex: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// GenerateEncryptionKey はランダムな暗号化キーを16進文字列で返す。
func GenerateEncryptionKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
