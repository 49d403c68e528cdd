package storage

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/hitoshi/colonygate/internal/gate"
)

// Memory はプロセス内のみで保持するStorage。テストと一時的な運用に使用する。
type Memory struct {
	mu    sync.RWMutex
	gates map[uint64]map[gate.Identity]gate.Gate
	users map[uint64]string
}

var _ Storage = (*Memory)(nil)

// NewMemory は空のMemoryを生成する。
func NewMemory() *Memory {
	return &Memory{
		gates: make(map[uint64]map[gate.Identity]gate.Gate),
		users: make(map[uint64]string),
	}
}

func (m *Memory) ListGuilds(_ context.Context) ([]uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	guilds := make([]uint64, 0, len(m.gates))
	for id := range m.gates {
		guilds = append(guilds, id)
	}
	sort.Slice(guilds, func(i, j int) bool { return guilds[i] < guilds[j] })
	return guilds, nil
}

func (m *Memory) RemoveGuild(_ context.Context, guildID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.gates, guildID)
	return nil
}

func (m *Memory) AddGate(_ context.Context, guildID uint64, g gate.Gate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.gates[guildID]
	if !ok {
		set = make(map[gate.Identity]gate.Gate)
		m.gates[guildID] = set
	}
	set[g.Identity()] = g
	return nil
}

// ListGates はIdentityのバイト順に並べたゲートを返す。
func (m *Memory) ListGates(_ context.Context, guildID uint64) ([]gate.Gate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.gates[guildID]
	gates := make([]gate.Gate, 0, len(set))
	for _, g := range set {
		gates = append(gates, g)
	}
	sort.Slice(gates, func(i, j int) bool {
		return bytes.Compare(gates[i].Identity().Bytes(), gates[j].Identity().Bytes()) < 0
	})
	return gates, nil
}

func (m *Memory) RemoveGate(_ context.Context, guildID uint64, id gate.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.gates[guildID]
	if !ok {
		return ErrGateNotFound
	}
	if _, ok := set[id]; !ok {
		return ErrGateNotFound
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m.gates, guildID)
	}
	return nil
}

func (m *Memory) GetUser(_ context.Context, userID uint64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wallet, ok := m.users[userID]
	if !ok {
		return "", ErrUserNotFound
	}
	return wallet, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]User, 0, len(m.users))
	for id, wallet := range m.users {
		users = append(users, User{ID: id, Wallet: wallet})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m *Memory) AddUser(_ context.Context, userID uint64, wallet string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; ok {
		return ErrUserExists
	}
	m.users[userID] = wallet
	return nil
}

func (m *Memory) ContainsUser(_ context.Context, userID uint64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[userID]
	return ok, nil
}

func (m *Memory) RemoveUser(_ context.Context, userID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; !ok {
		return ErrUserNotFound
	}
	delete(m.users, userID)
	return nil
}
