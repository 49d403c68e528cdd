package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/hitoshi/colonygate/internal/bot"
)

// mockStore はGuildStoreのテスト用モック。
type mockStore struct {
	guilds    []uint64
	listErr   error
	removeErr error
	removed   []uint64
}

func (m *mockStore) Guilds(context.Context) ([]uint64, error) {
	return m.guilds, m.listErr
}

func (m *mockStore) RemoveGuild(_ context.Context, guildID uint64) error {
	if m.removeErr != nil {
		return m.removeErr
	}
	m.removed = append(m.removed, guildID)
	return nil
}

type mockJoined struct {
	ids []uint64
	err error
}

func (m *mockJoined) Joined(context.Context) ([]uint64, error) {
	return m.ids, m.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestCleanupJob_Run_RemovesLeftGuilds(t *testing.T) {
	var buf bytes.Buffer
	store := &mockStore{guilds: []uint64{1, 2, 3}}
	job := NewCleanupJob(store, &mockJoined{ids: []uint64{2, 9}}, newTestLogger(&buf))

	deleted, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	if !slices.Equal(store.removed, []uint64{1, 3}) {
		t.Errorf("removed = %v, want [1 3]", store.removed)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ログのパースに失敗: %v", err)
	}
	if entry["deleted_count"] != float64(2) {
		t.Errorf("deleted_count = %v, want 2", entry["deleted_count"])
	}
}

func TestCleanupJob_Run_NothingToDelete(t *testing.T) {
	store := &mockStore{guilds: []uint64{1}}
	job := NewCleanupJob(store, &mockJoined{ids: []uint64{1}}, nil)

	deleted, err := job.Run(context.Background())
	if err != nil || deleted != 0 {
		t.Errorf("Run() = (%d, %v), want (0, nil)", deleted, err)
	}
}

func TestCleanupJob_Run_SkipsBeforeReady(t *testing.T) {
	var buf bytes.Buffer
	store := &mockStore{guilds: []uint64{1}}
	job := NewCleanupJob(store, &mockJoined{err: bot.ErrNotReady}, newTestLogger(&buf))

	deleted, err := job.Run(context.Background())
	if err != nil || deleted != 0 {
		t.Errorf("Run() = (%d, %v), want (0, nil)", deleted, err)
	}
	if len(store.removed) != 0 {
		t.Error("接続前はギルドを削除してはならない")
	}
	if !strings.Contains(buf.String(), "スキップ") {
		t.Errorf("スキップのログが出力されていない: %s", buf.String())
	}
}

func TestCleanupJob_Run_Errors(t *testing.T) {
	tests := []struct {
		name   string
		store  *mockStore
		joined *mockJoined
	}{
		{"joined error", &mockStore{}, &mockJoined{err: errors.New("gateway closed")}},
		{"list error", &mockStore{listErr: errors.New("controller closed")}, &mockJoined{}},
		{"remove error", &mockStore{guilds: []uint64{1}, removeErr: errors.New("db down")}, &mockJoined{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewCleanupJob(tt.store, tt.joined, nil)
			if _, err := job.Run(context.Background()); err == nil {
				t.Error("Run() はエラーを返すべき")
			}
		})
	}
}
