package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/ethereum/go-ethereum/common"

	"github.com/hitoshi/colonygate/internal/controller"
	"github.com/hitoshi/colonygate/internal/gate"
	"github.com/hitoshi/colonygate/internal/logger"
)

func newTestHandler(gk *fakeGatekeeper, guild *fakeGuild) (*commandHandler, *countingRecorder) {
	rec := &countingRecorder{}
	return &commandHandler{
		gk:       gk,
		guild:    guild,
		enforcer: NewEnforcer(gk, guild, logger.Discard(), rec),
		recorder: rec,
		logger:   logger.Discard(),
	}, rec
}

func TestGetIn(t *testing.T) {
	tests := []struct {
		name          string
		resp          controller.CheckResponse
		err           error
		failRoles     []uint64
		wantText      string
		wantEphemeral bool
		wantGranted   int
	}{
		{
			name:          "unregistered user gets a link",
			resp:          controller.CheckResponse{Kind: controller.CheckRegister, URL: "https://gate.example.com/session/abc"},
			wantText:      "https://gate.example.com/session/abc",
			wantEphemeral: true,
		},
		{
			name:          "no gates",
			resp:          controller.CheckResponse{Kind: controller.CheckNoGates},
			wantText:      "no gated roles",
			wantEphemeral: true,
		},
		{
			name:          "roles granted publicly",
			resp:          controller.CheckResponse{Kind: controller.CheckGrant, Roles: []uint64{roleGold, roleSilv}},
			wantText:      "<@&201> <@&202> 🎉",
			wantEphemeral: false,
			wantGranted:   2,
		},
		{
			name:          "nothing earned stays private",
			resp:          controller.CheckResponse{Kind: controller.CheckGrant},
			wantText:      "didn't give you any roles",
			wantEphemeral: true,
		},
		{
			name:          "hierarchy problem is reported",
			resp:          controller.CheckResponse{Kind: controller.CheckGrant, Roles: []uint64{roleGold}},
			failRoles:     []uint64{roleGold},
			wantText:      "check the role hierarchy",
			wantEphemeral: false,
		},
		{
			name:          "controller busy",
			err:           controller.ErrQueueFull,
			wantText:      "busy",
			wantEphemeral: true,
		},
		{
			name:          "storage error",
			resp:          controller.CheckResponse{Kind: controller.CheckError, Err: errors.New("disk on fire")},
			wantText:      "disk on fire",
			wantEphemeral: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gk := &fakeGatekeeper{checkResp: tt.resp, checkErr: tt.err}
			guild := &fakeGuild{failRoles: tt.failRoles}
			h, rec := newTestHandler(gk, guild)
			r := &fakeResponder{}

			h.handle(context.Background(), command{Name: commandGet, Sub: subIn, GuildID: guildID, UserID: 7}, r)

			if !r.deferred {
				t.Error("/get in should defer before contacting the controller")
			}
			got := r.last()
			if !strings.Contains(got.Content, tt.wantText) {
				t.Errorf("content = %q, want it to contain %q", got.Content, tt.wantText)
			}
			if got.Ephemeral != tt.wantEphemeral {
				t.Errorf("ephemeral = %v, want %v", got.Ephemeral, tt.wantEphemeral)
			}
			if rec.granted != tt.wantGranted {
				t.Errorf("recorded grants = %d, want %d", rec.granted, tt.wantGranted)
			}
		})
	}
}

func TestGetOut(t *testing.T) {
	tests := []struct {
		name     string
		resp     controller.UnregisterResponse
		wantText string
	}{
		{"not registered", controller.UnregisterResponse{}, "You are not registered."},
		{"registered", controller.UnregisterResponse{Registered: true, URL: "https://gate.example.com/unregister/x"}, "https://gate.example.com/unregister/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(&fakeGatekeeper{unregister: tt.resp}, &fakeGuild{})
			r := &fakeResponder{}

			h.handle(context.Background(), command{Name: commandGet, Sub: subOut, GuildID: guildID, UserID: 7}, r)

			if got := r.last(); !strings.Contains(got.Content, tt.wantText) || !got.Ephemeral {
				t.Errorf("reply = %+v, want ephemeral containing %q", got, tt.wantText)
			}
		})
	}
}

func TestGateAdd(t *testing.T) {
	options := []gate.OptionValue{gate.StringValue("token_address", "0xc9B6218AffE8Aba68a13899Cbf7cF7f14DDd304C"), gate.IntegerValue("amount", 5)}

	tests := []struct {
		name        string
		rolePos     int
		botTop      int
		addErr      error
		wantText    string
		wantWarning bool
	}{
		{name: "role below bot", rolePos: 1, botTop: 3, wantText: "is now being gated"},
		{name: "role above bot", rolePos: 5, botTop: 3, wantText: "is now being gated", wantWarning: true},
		{name: "construction error", addErr: fmt.Errorf("%w: amount", gate.ErrOptionRange), wantText: "option out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gk := &fakeGatekeeper{addErr: tt.addErr}
			h, _ := newTestHandler(gk, &fakeGuild{topRole: tt.botTop})
			r := &fakeResponder{}

			h.handle(context.Background(), command{
				Name: commandGate, Sub: subAdd, GuildID: guildID, UserID: 7,
				Kind: gate.TokenKind, RoleID: roleGold, RolePosition: tt.rolePos, Options: options,
			}, r)

			if len(gk.added) != 1 || gk.added[0].RoleID != roleGold || gk.added[0].Kind != gate.TokenKind {
				t.Fatalf("AddGate calls = %+v", gk.added)
			}
			got := r.last().Content
			if !strings.Contains(got, tt.wantText) {
				t.Errorf("content = %q, want it to contain %q", got, tt.wantText)
			}
			if strings.Contains(got, "role hierarchy") != tt.wantWarning {
				t.Errorf("hierarchy warning shown = %v, want %v", !tt.wantWarning, tt.wantWarning)
			}
		})
	}
}

func testGate(roleID uint64) gate.Gate {
	return gate.Gate{RoleID: roleID, Condition: gate.TokenGate{
		ChainID:       100,
		TokenAddress:  common.HexToAddress("0xc9B6218AffE8Aba68a13899Cbf7cF7f14DDd304C"),
		TokenSymbol:   "CLNY",
		TokenDecimals: 18,
		Amount:        5,
	}}
}

func TestGateList(t *testing.T) {
	g := testGate(roleGold)
	gk := &fakeGatekeeper{gates: []gate.Gate{g, testGate(roleSilv)}}
	h, _ := newTestHandler(gk, &fakeGuild{})
	r := &fakeResponder{}

	h.handle(context.Background(), command{Name: commandGate, Sub: subList, GuildID: guildID, UserID: 7}, r)

	if len(r.followUps) != 3 {
		t.Fatalf("follow-ups = %d, want header plus one per gate", len(r.followUps))
	}
	first := r.followUps[1]
	if !strings.Contains(first.Content, "<@&201>") || len(first.Embeds) != 1 {
		t.Errorf("gate reply = %+v", first)
	}
	row, ok := first.Components[0].(discordgo.ActionsRow)
	if !ok {
		t.Fatalf("component = %T, want ActionsRow", first.Components[0])
	}
	button := row.Components[0].(discordgo.Button)
	if button.CustomID != deleteButtonPrefix+g.Identity().String() {
		t.Errorf("button id = %q", button.CustomID)
	}
}

func TestGateList_Empty(t *testing.T) {
	h, _ := newTestHandler(&fakeGatekeeper{}, &fakeGuild{})
	r := &fakeResponder{}

	h.handle(context.Background(), command{Name: commandGate, Sub: subList, GuildID: guildID, UserID: 7}, r)

	if len(r.followUps) != 1 || !strings.Contains(r.followUps[0].Content, "No gates found") {
		t.Errorf("follow-ups = %+v", r.followUps)
	}
}

func TestGateRemove(t *testing.T) {
	id := testGate(roleGold).Identity()
	gk := &fakeGatekeeper{}
	h, _ := newTestHandler(gk, &fakeGuild{})

	r := &fakeResponder{}
	h.handle(context.Background(), command{Name: commandGate, Sub: subRemove, GuildID: guildID, GateID: id.String()}, r)
	if len(gk.removed) != 1 || gk.removed[0] != id {
		t.Fatalf("RemoveGate calls = %v, want [%v]", gk.removed, id)
	}
	if !strings.Contains(r.last().Content, "has been deleted") {
		t.Errorf("content = %q", r.last().Content)
	}

	r = &fakeResponder{}
	h.handle(context.Background(), command{Name: commandGate, Sub: subRemove, GuildID: guildID, GateID: "nothex"}, r)
	if len(r.responded) != 1 || len(gk.removed) != 1 {
		t.Errorf("invalid identifier should be rejected without removing, responded = %v", r.responded)
	}
}

func TestHandleButton_RequiresManagePermission(t *testing.T) {
	id := testGate(roleGold).Identity()
	gk := &fakeGatekeeper{}
	h, _ := newTestHandler(gk, &fakeGuild{})

	r := &fakeResponder{}
	h.handleButton(context.Background(), buttonPress{GuildID: guildID, UserID: 7, Identity: id}, r)
	if len(gk.removed) != 0 {
		t.Error("member without permission must not delete gates")
	}

	h.handleButton(context.Background(), buttonPress{GuildID: guildID, UserID: 7, Identity: id, CanManage: true}, r)
	if len(gk.removed) != 1 {
		t.Error("manager should delete the gate")
	}
}

func TestGateEnforce_ReportsSummary(t *testing.T) {
	gk := &fakeGatekeeper{
		roles:  []uint64{roleGold},
		grants: []controller.Grant{{UserID: 1, Roles: []uint64{roleGold}}},
	}
	guild := &fakeGuild{members: []Member{{UserID: 1}}}
	h, _ := newTestHandler(gk, guild)
	r := &fakeResponder{}

	h.handle(context.Background(), command{Name: commandGate, Sub: subEnforce, GuildID: guildID, UserID: 7}, r)

	if got := r.last().Content; !strings.Contains(got, "1 members updated, 1 roles granted") {
		t.Errorf("summary = %q", got)
	}
	if _, ok := guild.dms[1]; !ok {
		t.Error("updated member should be notified by DM")
	}
}

func TestErrorText(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{controller.ErrClosed, "busy"},
		{context.DeadlineExceeded, "busy"},
		{gate.ErrInvalidAddress, "`invalid address`"},
		{nil, "unknown error"},
	}
	for _, tt := range tests {
		if got := errorText(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("errorText(%v) = %q, want it to contain %q", tt.err, got, tt.want)
		}
	}
}
