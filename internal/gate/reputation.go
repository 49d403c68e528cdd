package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ReputationKind はレピュテーションゲートの種類名。
const ReputationKind = "reputation"

// admissionTokens はレピュテーション評価1回あたりのリモート読み出し数（ドメイン全体とウォレット）。
const admissionTokens = 2

var reputationOptions = []Option{
	{
		Name:        "colony",
		Description: "The address of the colony",
		Type:        OptionString,
		Required:    true,
		Length:      42,
	},
	{
		Name:        "domain",
		Description: "The domain id inside the colony, 1 is the root domain",
		Type:        OptionInteger,
		Required:    true,
		Min:         bound(1),
	},
	{
		Name:        "reputation",
		Description: "The share of the domain reputation in percent",
		Type:        OptionNumber,
		Required:    true,
		Min:         bound(0),
		Max:         bound(100),
	},
}

// ReputationGate はColonyのドメイン内で一定割合以上のレピュテーションを持つことを条件とする。
// ThresholdScaledはパーセンテージを10^Precision倍した値。
type ReputationGate struct {
	Colony          common.Address
	Domain          uint64
	Precision       uint8
	ThresholdScaled *big.Int
}

func constructReputation(_ context.Context, ev *Evaluator, values []OptionValue) (Condition, error) {
	if err := validateOptions(reputationOptions, values); err != nil {
		return nil, err
	}
	colony, err := parseAddress("colony", values[0].String)
	if err != nil {
		return nil, err
	}
	threshold, err := ScaleThreshold(values[2].Number, ev.precision)
	if err != nil {
		return nil, err
	}
	return ReputationGate{
		Colony:          colony,
		Domain:          uint64(values[1].Integer),
		Precision:       ev.precision,
		ThresholdScaled: threshold,
	}, nil
}

// Kind は種類名を返す。
func (g ReputationGate) Kind() string { return ReputationKind }

func (ReputationGate) sealed() {}

// Hash は全フィールドから計算したハッシュ値を返す。
func (g ReputationGate) Hash() uint64 {
	h := newHasher(ReputationKind)
	h.bytes(g.Colony.Bytes())
	h.uint64(g.Domain)
	h.uint64(uint64(g.Precision))
	h.bigInt(g.ThresholdScaled)
	return h.sum()
}

// Fields はcolony、domain、reputation（パーセンテージ）を返す。
func (g ReputationGate) Fields() []OptionValue {
	return []OptionValue{
		StringValue("colony", g.Colony.Hex()),
		IntegerValue("domain", int64(g.Domain)),
		NumberValue("reputation", UnscaleThreshold(g.ThresholdScaled, g.Precision)),
	}
}

// Check はウォレットのレピュテーションがドメイン全体の閾値以上かを評価する。
// ドメイン全体のレピュテーション取得に失敗した場合はfalseを返し、
// ウォレットのレピュテーション取得に失敗した場合は0として扱う。
func (g ReputationGate) Check(ctx context.Context, ev *Evaluator, wallet common.Address) bool {
	passed, err := g.evaluate(ctx, ev, wallet)
	if err != nil {
		ev.logger.Warn("reputation check failed",
			slog.String("colony", g.Colony.Hex()),
			slog.Uint64("domain", g.Domain),
			slog.String("wallet", wallet.Hex()),
			slog.String("error", err.Error()),
		)
		passed = false
	}
	ev.observer.ObserveCheck(ReputationKind, passed)
	return passed
}

func (g ReputationGate) evaluate(ctx context.Context, ev *Evaluator, wallet common.Address) (bool, error) {
	userKey := ReputationKey{Colony: g.Colony, Wallet: wallet, Domain: g.Domain}
	baseKey := ReputationKey{Colony: g.Colony, Domain: g.Domain}

	src, waits, err := ev.admission.Acquire(ctx, admissionTokens, func() bool {
		return ev.reputations.Cached(userKey)
	})
	if err != nil {
		return false, fmt.Errorf("failed to acquire admission: %w", err)
	}
	ev.observer.ObserveAdmission(string(src), waits)

	var (
		wg               sync.WaitGroup
		baseStr, userStr string
		baseErr, userErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		baseStr, baseErr = ev.fetchReputation(ctx, baseKey)
	}()
	go func() {
		defer wg.Done()
		userStr, userErr = ev.fetchReputation(ctx, userKey)
	}()
	wg.Wait()

	if baseErr != nil {
		return false, fmt.Errorf("failed to fetch domain reputation: %w", baseErr)
	}
	base, err := parseReputation(baseStr)
	if err != nil {
		return false, err
	}

	user := new(big.Int)
	if userErr != nil {
		ev.logger.Debug("wallet reputation unavailable, treating as zero",
			slog.String("wallet", wallet.Hex()),
			slog.String("error", userErr.Error()),
		)
	} else if user, err = parseReputation(userStr); err != nil {
		return false, err
	}

	return MeetsThreshold(g.ThresholdScaled, PrecisionFactor(g.Precision), base, user)
}

func (e *Evaluator) fetchReputation(ctx context.Context, key ReputationKey) (string, error) {
	return e.reputations.Get(ctx, key, func(ctx context.Context) (string, error) {
		v, err := e.reputation.ReputationInDomain(ctx, key.Colony, key.Wallet, key.Domain)
		if err != nil {
			e.observer.ObserveRemoteFailure("reputation")
			return "", err
		}
		return v, nil
	})
}

type reputationJSON struct {
	Colony          string `json:"colony"`
	Domain          uint64 `json:"domain"`
	Precision       uint8  `json:"precision"`
	ThresholdScaled string `json:"threshold_scaled"`
}

// MarshalJSON は閾値を10進数文字列として出力する。
func (g ReputationGate) MarshalJSON() ([]byte, error) {
	return json.Marshal(reputationJSON{
		Colony:          g.Colony.Hex(),
		Domain:          g.Domain,
		Precision:       g.Precision,
		ThresholdScaled: g.ThresholdScaled.String(),
	})
}

func decodeReputation(data []byte) (Condition, error) {
	var j reputationJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reputation gate: %w", err)
	}
	colony, err := parseAddress("colony", j.Colony)
	if err != nil {
		return nil, err
	}
	threshold, ok := new(big.Int).SetString(j.ThresholdScaled, 10)
	if !ok || threshold.Sign() < 0 || threshold.BitLen() > thresholdBits {
		return nil, fmt.Errorf("invalid reputation threshold %q", j.ThresholdScaled)
	}
	if j.Domain < 1 || j.Precision > MaxPrecision {
		return nil, fmt.Errorf("invalid reputation gate record: domain %d precision %d", j.Domain, j.Precision)
	}
	return ReputationGate{
		Colony:          colony,
		Domain:          j.Domain,
		Precision:       j.Precision,
		ThresholdScaled: threshold,
	}, nil
}
