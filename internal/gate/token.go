package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// TokenKind はトークンゲートの種類名。
	TokenKind = "token"
	// GnosisChainID はGnosis ChainのチェーンID。
	GnosisChainID uint64 = 100
)

var tokenOptions = []Option{
	{
		Name:        "token_address",
		Description: "The address of the ERC20 token on Gnosis Chain",
		Type:        OptionString,
		Required:    true,
		Length:      42,
	},
	{
		Name:        "amount",
		Description: "The amount of whole tokens a member must hold",
		Type:        OptionInteger,
		Required:    true,
		Min:         bound(1),
	},
}

// TokenGate は一定量以上のERC20トークンを保有することを条件とする。
// Amountは小数点を含まないトークン単位の量で、比較時にTokenDecimals桁だけスケールする。
type TokenGate struct {
	ChainID       uint64
	TokenAddress  common.Address
	TokenSymbol   string
	TokenDecimals uint8
	Amount        uint64
}

// constructToken はトークンの桁数を取得して条件を生成する。
// 桁数の取得失敗は構築エラーとなり、シンボルの取得失敗は空文字として扱う。
func constructToken(ctx context.Context, ev *Evaluator, values []OptionValue) (Condition, error) {
	if err := validateOptions(tokenOptions, values); err != nil {
		return nil, err
	}
	token, err := parseAddress("token_address", values[0].String)
	if err != nil {
		return nil, err
	}

	decimals, err := ev.tokens.TokenDecimals(ctx, token)
	if err != nil {
		ev.observer.ObserveRemoteFailure("token_decimals")
		return nil, fmt.Errorf("failed to get token decimals for %s: %w", token.Hex(), err)
	}
	symbol, err := ev.tokens.TokenSymbol(ctx, token)
	if err != nil {
		ev.observer.ObserveRemoteFailure("token_symbol")
		ev.logger.Info("token symbol unavailable",
			slog.String("token", token.Hex()),
			slog.String("error", err.Error()),
		)
		symbol = ""
	}

	return TokenGate{
		ChainID:       GnosisChainID,
		TokenAddress:  token,
		TokenSymbol:   symbol,
		TokenDecimals: decimals,
		Amount:        uint64(values[1].Integer),
	}, nil
}

// Kind は種類名を返す。
func (g TokenGate) Kind() string { return TokenKind }

func (TokenGate) sealed() {}

// Hash は全フィールドから計算したハッシュ値を返す。
func (g TokenGate) Hash() uint64 {
	h := newHasher(TokenKind)
	h.uint64(g.ChainID)
	h.bytes(g.TokenAddress.Bytes())
	h.bytes([]byte(g.TokenSymbol))
	h.uint64(uint64(g.TokenDecimals))
	h.uint64(g.Amount)
	return h.sum()
}

// Fields はchain_id、token_address、token_symbol、amountを返す。
func (g TokenGate) Fields() []OptionValue {
	return []OptionValue{
		StringValue("chain_id", "0x"+strconv.FormatUint(g.ChainID, 16)),
		StringValue("token_address", g.TokenAddress.Hex()),
		StringValue("token_symbol", g.TokenSymbol),
		IntegerValue("amount", int64(g.Amount)),
	}
}

// RequiredBalance はAmount*10^TokenDecimalsを返す。
func (g TokenGate) RequiredBalance() *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(g.TokenDecimals)), nil)
	return scale.Mul(scale, new(big.Int).SetUint64(g.Amount))
}

// Check は残高がRequiredBalance以上かを評価する。取得に失敗した場合はfalseを返す。
func (g TokenGate) Check(ctx context.Context, ev *Evaluator, wallet common.Address) bool {
	balance, err := ev.tokens.BalanceOf(ctx, g.TokenAddress, wallet)
	if err != nil {
		ev.observer.ObserveRemoteFailure("balance_of")
		ev.logger.Warn("token balance lookup failed",
			slog.String("token", g.TokenAddress.Hex()),
			slog.String("wallet", wallet.Hex()),
			slog.String("error", err.Error()),
		)
		ev.observer.ObserveCheck(TokenKind, false)
		return false
	}
	passed := balance != nil && g.RequiredBalance().Cmp(balance) <= 0
	ev.observer.ObserveCheck(TokenKind, passed)
	return passed
}

type tokenJSON struct {
	ChainID       uint64 `json:"chain_id"`
	TokenAddress  string `json:"token_address"`
	TokenSymbol   string `json:"token_symbol"`
	TokenDecimals uint8  `json:"token_decimals"`
	Amount        uint64 `json:"amount,string"`
}

// MarshalJSON はトークンゲートをJSONに変換する。
func (g TokenGate) MarshalJSON() ([]byte, error) {
	return json.Marshal(tokenJSON{
		ChainID:       g.ChainID,
		TokenAddress:  g.TokenAddress.Hex(),
		TokenSymbol:   g.TokenSymbol,
		TokenDecimals: g.TokenDecimals,
		Amount:        g.Amount,
	})
}

func decodeToken(data []byte) (Condition, error) {
	var j tokenJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token gate: %w", err)
	}
	token, err := parseAddress("token_address", j.TokenAddress)
	if err != nil {
		return nil, err
	}
	if j.Amount < 1 {
		return nil, fmt.Errorf("invalid token gate record: amount %d", j.Amount)
	}
	return TokenGate{
		ChainID:       j.ChainID,
		TokenAddress:  token,
		TokenSymbol:   j.TokenSymbol,
		TokenDecimals: j.TokenDecimals,
		Amount:        j.Amount,
	}, nil
}
