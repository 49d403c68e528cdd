package storage

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/hitoshi/colonygate/internal/database"
)

// testDB はTEST_DATABASE_URLのデータベースをマイグレーション済みの空の状態で返す。
// 未設定または接続できない場合はスキップする。
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}
	db, err := database.Connect(context.Background(), url)
	if err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(url); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE gates, users`); err != nil {
		t.Fatalf("クリーンアップに失敗: %v", err)
	}
	return db
}

func TestPostgresRepo_ImplementsInterface(t *testing.T) {
	var _ Storage = (*Postgres)(nil)
}

func TestNewPostgres(t *testing.T) {
	if NewPostgres(nil) == nil {
		t.Fatal("expected non-nil Postgres")
	}
}

func TestPostgres(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage { return NewPostgres(testDB(t)) })
}

func TestEncrypted(t *testing.T) {
	key := bytes.Repeat([]byte{1}, KeySize)
	runStorageContract(t, func(t *testing.T) Storage {
		s, err := NewEncrypted(testDB(t), key)
		if err != nil {
			t.Fatalf("NewEncrypted: %v", err)
		}
		return s
	})
}

func TestEncrypted_WalletNotStoredInPlaintext(t *testing.T) {
	db := testDB(t)
	s, err := NewEncrypted(db, bytes.Repeat([]byte{1}, KeySize))
	if err != nil {
		t.Fatalf("NewEncrypted: %v", err)
	}
	const wallet = "0xcB313f361847e245954FD338Cb21b5F4225b17d1"
	if err := s.AddUser(context.Background(), 1, wallet); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	var raw []byte
	if err := db.QueryRow(`SELECT wallet FROM users WHERE user_key = $1`, Key(1)).Scan(&raw); err != nil {
		t.Fatalf("select: %v", err)
	}
	if bytes.Contains(raw, []byte(wallet)) {
		t.Error("encrypted backend stored the wallet in plaintext")
	}

	// 別のキーでは復号できない
	other, _ := NewEncrypted(db, bytes.Repeat([]byte{2}, KeySize))
	if _, err := other.GetUser(context.Background(), 1); err == nil {
		t.Error("GetUser with a different key succeeded")
	}
}
