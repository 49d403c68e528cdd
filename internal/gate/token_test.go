package gate

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func tokenValues(addr string, amount int64) []OptionValue {
	return []OptionValue{
		StringValue("token_address", addr),
		IntegerValue("amount", amount),
	}
}

func TestConstructToken_LooksUpDecimalsAndSymbol(t *testing.T) {
	chain := &fakeChain{decimals: 18, symbol: "CLNY"}
	ev := newTestEvaluator(chain)

	c, err := Construct(context.Background(), ev, TokenKind, tokenValues(testToken, 5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g := c.(TokenGate)
	if g.ChainID != GnosisChainID {
		t.Errorf("ChainID = %d, want %d", g.ChainID, GnosisChainID)
	}
	if g.TokenDecimals != 18 {
		t.Errorf("TokenDecimals = %d, want 18", g.TokenDecimals)
	}
	if g.TokenSymbol != "CLNY" {
		t.Errorf("TokenSymbol = %q, want %q", g.TokenSymbol, "CLNY")
	}

	fields := g.Fields()
	if fields[0].String != "0x64" {
		t.Errorf("chain_id = %q, want %q", fields[0].String, "0x64")
	}
	if fields[3].Integer != 5 {
		t.Errorf("amount = %d, want 5", fields[3].Integer)
	}
}

func TestConstructToken_DecimalsFailureIsConstructionError(t *testing.T) {
	chain := &fakeChain{decimalsErr: errors.New("execution reverted")}
	ev := newTestEvaluator(chain)

	if _, err := Construct(context.Background(), ev, TokenKind, tokenValues(testToken, 5)); err == nil {
		t.Error("expected error when decimals are unavailable")
	}
}

func TestConstructToken_SymbolFailureIsTolerated(t *testing.T) {
	chain := &fakeChain{decimals: 6, symbolErr: errors.New("no symbol")}
	ev := newTestEvaluator(chain)

	c, err := Construct(context.Background(), ev, TokenKind, tokenValues(testToken, 5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sym := c.(TokenGate).TokenSymbol; sym != "" {
		t.Errorf("TokenSymbol = %q, want empty", sym)
	}
}

func TestConstructToken_Validation(t *testing.T) {
	ev := newTestEvaluator(&fakeChain{decimals: 18})

	tests := []struct {
		name   string
		values []OptionValue
		want   error
	}{
		{name: "amount zero", values: tokenValues(testToken, 0), want: ErrOptionRange},
		{name: "missing amount", values: tokenValues(testToken, 1)[:1], want: ErrOptionCount},
		{name: "swapped options", values: []OptionValue{IntegerValue("amount", 1), StringValue("token_address", testToken)}, want: ErrOptionOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Construct(context.Background(), ev, TokenKind, tt.values)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTokenGate_Check(t *testing.T) {
	wallet := common.HexToAddress(testWallet)
	oneToken := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	tests := []struct {
		name    string
		balance *big.Int
		err     error
		want    bool
	}{
		{name: "exact balance passes", balance: new(big.Int).Mul(oneToken, big.NewInt(10)), want: true},
		{name: "one wei short fails", balance: new(big.Int).Sub(new(big.Int).Mul(oneToken, big.NewInt(10)), big.NewInt(1)), want: false},
		{name: "zero balance fails", balance: big.NewInt(0), want: false},
		{name: "lookup error fails closed", err: errors.New("rpc timeout"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := &fakeChain{decimals: 18, balance: tt.balance, balanceErr: tt.err}
			ev := newTestEvaluator(chain)
			c, err := Construct(context.Background(), ev, TokenKind, tokenValues(testToken, 10))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got := c.Check(context.Background(), ev, wallet); got != tt.want {
				t.Errorf("Check() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTokenGate_HashChangesWithAmount(t *testing.T) {
	ev := newTestEvaluator(&fakeChain{decimals: 18})
	a, _ := Construct(context.Background(), ev, TokenKind, tokenValues(testToken, 10))
	b, _ := Construct(context.Background(), ev, TokenKind, tokenValues(testToken, 11))
	c, _ := Construct(context.Background(), ev, TokenKind, tokenValues(testToken, 10))

	if a.Hash() == b.Hash() {
		t.Error("different amounts produced the same hash")
	}
	if a.Hash() != c.Hash() {
		t.Error("identical token gates produced different hashes")
	}
}
