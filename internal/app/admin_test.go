package app

import (
	"bytes"
	"context"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hitoshi/colonygate/internal/config"
	"github.com/hitoshi/colonygate/internal/gate"
	"github.com/hitoshi/colonygate/internal/storage"
)

const (
	testToken  = "0xc9B6218AffE8Aba68a13899Cbf7cF7f14DDd304C"
	testWallet = "0xcB313f361847e245954FD338Cb21b5F4225b17d1"
)

// fakeChain は全ウォレットに同じトークン残高を返すテスト用チェーンクライアント。
type fakeChain struct {
	balance int64
}

func (f *fakeChain) ReputationInDomain(context.Context, common.Address, common.Address, uint64) (string, error) {
	return "0", nil
}

func (f *fakeChain) BalanceOf(context.Context, common.Address, common.Address) (*big.Int, error) {
	return big.NewInt(f.balance), nil
}

func (f *fakeChain) TokenDecimals(context.Context, common.Address) (uint8, error) { return 0, nil }
func (f *fakeChain) TokenSymbol(context.Context, common.Address) (string, error)  { return "TKN", nil }

// adminHarness はメモリストレージを共有する管理コマンドの実行環境。
// コマンドごとにコントローラを起動し直すため、実際のCLIと同じく呼び出しをまたいで状態が残る。
type adminHarness struct {
	t     *testing.T
	store *storage.Memory
	chain *fakeChain
}

func newAdminHarness(t *testing.T) *adminHarness {
	t.Helper()
	t.Setenv("STORAGE_TYPE", "memory")
	t.Setenv("SERVER_URL", "https://gate.example.com")
	return &adminHarness{t: t, store: storage.NewMemory(), chain: &fakeChain{}}
}

func (h *adminHarness) open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*adminEnv, error) {
	ev := gate.NewEvaluator(h.chain, h.chain, evaluatorConfig(cfg), logger, nil)
	rc, err := startController(ctx, h.store, ev, cfg, logger, nil)
	if err != nil {
		return nil, err
	}
	return &adminEnv{sender: rc.sender, store: h.store, close: rc.stop}, nil
}

// run はコマンドを実行し、標準出力とエラーを返す。
func (h *adminHarness) run(args ...string) (string, error) {
	h.t.Helper()
	var out bytes.Buffer
	root := newRootCommand(&rootOptions{logOutput: &bytes.Buffer{}, openAdmin: h.open})
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func (h *adminHarness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	if err != nil {
		h.t.Fatalf("%s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestAdmin_UserLifecycle(t *testing.T) {
	h := newAdminHarness(t)

	if out := h.mustRun("user", "list"); !strings.Contains(out, "no registered users") {
		t.Errorf("user list = %q", out)
	}

	h.mustRun("user", "add", "42", testWallet)
	if out := h.mustRun("user", "list"); !strings.Contains(out, "42\t"+testWallet) {
		t.Errorf("user list = %q, want registered wallet", out)
	}

	// 登録済みのウォレットは上書きしない
	if _, err := h.run("user", "add", "42", "0x00000000000000000000000000000000000000aa"); err == nil {
		t.Error("second registration should fail")
	}
	if wallet, _ := h.store.GetUser(context.Background(), 42); wallet != testWallet {
		t.Errorf("stored wallet = %q, want unchanged %q", wallet, testWallet)
	}

	if _, err := h.run("user", "add", "43", "not-a-wallet"); err == nil {
		t.Error("invalid wallet should be rejected")
	}

	h.mustRun("user", "remove", "42")
	if _, err := h.run("user", "remove", "42"); err == nil || !strings.Contains(err.Error(), "not registered") {
		t.Errorf("removing unknown user error = %v", err)
	}
}

func TestAdmin_GateLifecycle(t *testing.T) {
	h := newAdminHarness(t)

	out := h.mustRun("gate", "add", "100", "201", gate.TokenKind, testToken, "5")
	if !strings.Contains(out, "added token gate") {
		t.Errorf("gate add = %q", out)
	}

	if out := h.mustRun("guild", "list"); strings.TrimSpace(out) != "100" {
		t.Errorf("guild list = %q, want 100", out)
	}

	out = h.mustRun("gate", "list", "100")
	if !strings.Contains(out, "role=201") || !strings.Contains(out, "amount=5") {
		t.Errorf("gate list = %q", out)
	}
	id := strings.Fields(out)[0]

	h.mustRun("gate", "remove", "100", id)
	if out := h.mustRun("gate", "list", "100"); !strings.Contains(out, "no gates") {
		t.Errorf("gate list after remove = %q", out)
	}
}

func TestAdmin_GuildRemove(t *testing.T) {
	h := newAdminHarness(t)
	h.mustRun("gate", "add", "100", "201", gate.TokenKind, testToken, "5")
	h.mustRun("gate", "add", "100", "202", gate.TokenKind, testToken, "50")

	h.mustRun("guild", "remove", "100")
	if out := h.mustRun("guild", "list"); !strings.Contains(out, "no guilds") {
		t.Errorf("guild list = %q", out)
	}
}

func TestAdmin_GateAddValidation(t *testing.T) {
	h := newAdminHarness(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"unknown kind", []string{"gate", "add", "100", "201", "nft", "x"}, "available: "},
		{"wrong option count", []string{"gate", "add", "100", "201", gate.TokenKind, testToken}, "<token_address> <amount>"},
		{"not an integer", []string{"gate", "add", "100", "201", gate.TokenKind, testToken, "five"}, "amount"},
		{"out of range", []string{"gate", "add", "100", "201", gate.TokenKind, testToken, "0"}, "amount"},
		{"bad guild id", []string{"gate", "add", "guild", "201", gate.TokenKind, testToken, "5"}, "invalid guild id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.run(tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}

	if guilds, _ := h.store.ListGuilds(context.Background()); len(guilds) != 0 {
		t.Errorf("invalid gates must not be stored, guilds = %v", guilds)
	}
}

func TestAdmin_Check(t *testing.T) {
	h := newAdminHarness(t)

	if out := h.mustRun("check", "100", "42"); !strings.Contains(out, "https://gate.example.com/session/") {
		t.Errorf("check unregistered = %q, want registration link", out)
	}

	h.mustRun("user", "add", "42", testWallet)
	if out := h.mustRun("check", "100", "42"); !strings.Contains(out, "has no gates") {
		t.Errorf("check without gates = %q", out)
	}

	h.mustRun("gate", "add", "100", "201", gate.TokenKind, testToken, "5")
	h.mustRun("gate", "add", "100", "202", gate.TokenKind, testToken, "50")

	h.chain.balance = 10
	if out := h.mustRun("check", "100", "42"); strings.TrimSpace(out) != "201" {
		t.Errorf("check = %q, want only role 201", out)
	}

	h.chain.balance = 0
	if out := h.mustRun("check", "100", "42"); !strings.Contains(out, "no roles earned") {
		t.Errorf("check = %q, want no roles", out)
	}
}
