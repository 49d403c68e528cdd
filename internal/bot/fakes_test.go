package bot

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/hitoshi/colonygate/internal/controller"
	"github.com/hitoshi/colonygate/internal/gate"
)

// fakeGatekeeper はGatekeeperのテスト用実装。
type fakeGatekeeper struct {
	mu sync.Mutex

	checkResp  controller.CheckResponse
	checkErr   error
	addErr     error
	gates      []gate.Gate
	roles      []uint64
	grants     []controller.Grant
	unregister controller.UnregisterResponse

	added        []controller.AddGate
	removed      []gate.Identity
	removedGuild []uint64
	batched      [][]uint64
}

func (f *fakeGatekeeper) Check(context.Context, uint64, uint64) (controller.CheckResponse, error) {
	return f.checkResp, f.checkErr
}

func (f *fakeGatekeeper) AddGate(_ context.Context, guildID, roleID uint64, kind string, options []gate.OptionValue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, controller.AddGate{GuildID: guildID, RoleID: roleID, Kind: kind, Options: options})
	return f.addErr
}

func (f *fakeGatekeeper) ListGates(context.Context, uint64) ([]gate.Gate, error) {
	return f.gates, nil
}

func (f *fakeGatekeeper) Roles(context.Context, uint64) ([]uint64, error) {
	return f.roles, nil
}

func (f *fakeGatekeeper) RemoveGate(_ context.Context, _ uint64, id gate.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeGatekeeper) RemoveGuild(_ context.Context, guildID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedGuild = append(f.removedGuild, guildID)
	return nil
}

func (f *fakeGatekeeper) Batch(_ context.Context, _ uint64, userIDs []uint64) ([]controller.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batched = append(f.batched, userIDs)
	return f.grants, nil
}

func (f *fakeGatekeeper) Unregister(context.Context, uint64) (controller.UnregisterResponse, error) {
	return f.unregister, nil
}

type roleOp struct {
	userID uint64
	roleID uint64
}

// fakeGuild はGuildAPIのテスト用実装。
type fakeGuild struct {
	mu sync.Mutex

	members   []Member
	topRole   int
	failRoles []uint64
	joined    []uint64
	joinedErr error

	added   []roleOp
	removed []roleOp
	dms     map[uint64]string
}

func (f *fakeGuild) Members(context.Context, uint64) ([]Member, error) {
	return f.members, nil
}

func (f *fakeGuild) AddRole(_ context.Context, _, userID, roleID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if slices.Contains(f.failRoles, roleID) {
		return errors.New("missing permissions")
	}
	f.added = append(f.added, roleOp{userID, roleID})
	return nil
}

func (f *fakeGuild) RemoveRole(_ context.Context, _, userID, roleID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if slices.Contains(f.failRoles, roleID) {
		return errors.New("missing permissions")
	}
	f.removed = append(f.removed, roleOp{userID, roleID})
	return nil
}

func (f *fakeGuild) SendDM(_ context.Context, userID uint64, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dms == nil {
		f.dms = make(map[uint64]string)
	}
	f.dms[userID] = content
	return nil
}

func (f *fakeGuild) BotTopRolePosition(context.Context, uint64) (int, error) {
	return f.topRole, nil
}

func (f *fakeGuild) Joined(context.Context) ([]uint64, error) {
	return f.joined, f.joinedErr
}

// fakeResponder はresponderのテスト用実装。送信内容を記録する。
type fakeResponder struct {
	responded []string
	deferred  bool
	followUps []reply
}

func (f *fakeResponder) Respond(content string, _ bool) error {
	f.responded = append(f.responded, content)
	return nil
}

func (f *fakeResponder) Defer(bool) error {
	f.deferred = true
	return nil
}

func (f *fakeResponder) FollowUp(msg reply) error {
	f.followUps = append(f.followUps, msg)
	return nil
}

func (f *fakeResponder) last() reply {
	if len(f.followUps) == 0 {
		return reply{}
	}
	return f.followUps[len(f.followUps)-1]
}

// countingRecorder はRoleChangeRecorderのテスト用実装。
type countingRecorder struct {
	granted, revoked int
}

func (c *countingRecorder) RecordRoleChanges(granted, revoked int) {
	c.granted += granted
	c.revoked += revoked
}
