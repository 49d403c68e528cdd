package gate

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestMeetsThreshold_Examples(t *testing.T) {
	factor := PrecisionFactor(2)
	threshold := big.NewInt(5000) // 50.00%

	tests := []struct {
		name string
		base int64
		user int64
		want bool
	}{
		{name: "exactly at threshold", base: 100, user: 50, want: true},
		{name: "just below threshold", base: 100, user: 49, want: false},
		{name: "above threshold", base: 100, user: 100, want: true},
		{name: "no user reputation", base: 100, user: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MeetsThreshold(threshold, factor, big.NewInt(tt.base), big.NewInt(tt.user))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("MeetsThreshold(50%%, %d, %d) = %v, want %v", tt.base, tt.user, got, tt.want)
			}
		})
	}
}

// TestMeetsThreshold_MonotonicInUser はユーザーレピュテーションの増加で合格から不合格に変わらないことを検証する。
func TestMeetsThreshold_MonotonicInUser(t *testing.T) {
	factor := PrecisionFactor(2)
	base := new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)

	for _, th := range []int64{0, 1, 2500, 9999, 10000} {
		threshold := big.NewInt(th)
		passed := false
		for i := int64(0); i <= 100; i++ {
			user := new(big.Int).Mul(base, big.NewInt(i))
			user.Div(user, big.NewInt(100))
			got, err := MeetsThreshold(threshold, factor, base, user)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if passed && !got {
				t.Fatalf("threshold %d: pass flipped to fail at user %d%%", th, i)
			}
			passed = passed || got
		}
		if !passed {
			t.Errorf("threshold %d: full reputation never passed", th)
		}
	}
}

func TestMeetsThreshold_Overflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 400)

	_, err := MeetsThreshold(huge, PrecisionFactor(2), huge, big.NewInt(1))
	if !errors.Is(err, ErrOverflow) {
		t.Errorf("err = %v, want %v", err, ErrOverflow)
	}
}

func TestMeetsThreshold_ZeroBase(t *testing.T) {
	_, err := MeetsThreshold(big.NewInt(0), PrecisionFactor(2), big.NewInt(0), big.NewInt(0))
	if !errors.Is(err, ErrNoReputation) {
		t.Errorf("err = %v, want %v", err, ErrNoReputation)
	}
}

func TestScaleThreshold_RoundsToPrecision(t *testing.T) {
	tests := []struct {
		pct       float64
		precision uint8
		want      int64
	}{
		{pct: 0.29, precision: 2, want: 29},
		{pct: 50, precision: 0, want: 50},
		{pct: 100, precision: 9, want: 100_000_000_000},
		{pct: 12.345, precision: 3, want: 12345},
	}
	for _, tt := range tests {
		got, err := ScaleThreshold(tt.pct, tt.precision)
		if err != nil {
			t.Fatalf("ScaleThreshold(%v, %d): %v", tt.pct, tt.precision, err)
		}
		if got.Int64() != tt.want {
			t.Errorf("ScaleThreshold(%v, %d) = %s, want %d", tt.pct, tt.precision, got, tt.want)
		}
	}
}

func newReputationGate(t *testing.T, ev *Evaluator, pct float64) ReputationGate {
	t.Helper()
	c, err := Construct(context.Background(), ev, ReputationKind, reputationValues(testColony, 1, pct))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c.(ReputationGate)
}

func TestReputationGate_Check(t *testing.T) {
	wallet := common.HexToAddress(testWallet)

	tests := []struct {
		name  string
		chain *fakeChain
		pct   float64
		want  bool
	}{
		{
			name:  "user at threshold passes",
			chain: &fakeChain{reputation: map[common.Address]string{{}: "100", wallet: "50"}},
			pct:   50,
			want:  true,
		},
		{
			name:  "user below threshold fails",
			chain: &fakeChain{reputation: map[common.Address]string{{}: "100", wallet: "49"}},
			pct:   50,
			want:  false,
		},
		{
			name:  "base failure fails closed",
			chain: &fakeChain{reputation: map[common.Address]string{wallet: "100"}, baseErr: errors.New("oracle down")},
			pct:   0,
			want:  false,
		},
		{
			name:  "user failure counts as zero reputation",
			chain: &fakeChain{reputation: map[common.Address]string{{}: "100"}, userErr: errors.New("not found")},
			pct:   0,
			want:  true,
		},
		{
			name:  "user failure fails a positive threshold",
			chain: &fakeChain{reputation: map[common.Address]string{{}: "100"}, userErr: errors.New("not found")},
			pct:   0.01,
			want:  false,
		},
		{
			name:  "unparsable base fails closed",
			chain: &fakeChain{reputation: map[common.Address]string{{}: "lots", wallet: "50"}},
			pct:   1,
			want:  false,
		},
		{
			name:  "large on-chain values",
			chain: &fakeChain{reputation: map[common.Address]string{{}: "115792089237316195423570985008687907853269984665640564039457584007913129639935", wallet: "57896044618658097711785492504343953926634992332820282019728792003956564819968"}},
			pct:   50,
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := newTestEvaluator(tt.chain)
			g := newReputationGate(t, ev, tt.pct)

			if got := g.Check(context.Background(), ev, wallet); got != tt.want {
				t.Errorf("Check() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReputationGate_CheckUsesCache(t *testing.T) {
	wallet := common.HexToAddress(testWallet)
	chain := &fakeChain{reputation: map[common.Address]string{{}: "100", wallet: "80"}}
	ev := newTestEvaluator(chain)
	g := newReputationGate(t, ev, 50)

	for i := 0; i < 3; i++ {
		if !g.Check(context.Background(), ev, wallet) {
			t.Fatalf("check %d: expected pass", i)
		}
	}

	if got := chain.calls(); got != 2 {
		t.Errorf("remote calls = %d, want 2 (base and user once)", got)
	}
	if stats := ev.CacheStats(); stats.Hits < 4 {
		t.Errorf("cache hits = %d, want at least 4", stats.Hits)
	}
}

func TestReputationGate_CheckCancelledContext(t *testing.T) {
	wallet := common.HexToAddress(testWallet)
	chain := &fakeChain{reputation: map[common.Address]string{{}: "100", wallet: "80"}}
	cfg := DefaultEvaluatorConfig()
	cfg.RatePerSecond = 1
	ev := NewEvaluator(chain, chain, cfg, nil, nil)
	g := newReputationGate(t, ev, 50)

	// バースト1では2トークンを取得できず、キャンセル済みのコンテキストで打ち切られる
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if g.Check(ctx, ev, wallet) {
		t.Error("expected check to fail when admission is cancelled")
	}
	if got := chain.calls(); got != 0 {
		t.Errorf("remote calls = %d, want 0", got)
	}
}
