package gate

import (
	"errors"
	"fmt"
	"math"
	"math/big"
)

const (
	// DefaultPrecision はレピュテーション閾値の小数点以下のデフォルト桁数。
	DefaultPrecision uint8 = 2
	// MaxPrecision は許容する最大桁数。100*10^9は64ビットに収まる。
	MaxPrecision uint8 = 9

	wideBits      = 512
	thresholdBits = 256
)

var (
	// ErrOverflow は512ビットを超える乗算結果。
	ErrOverflow = errors.New("reputation comparison overflows 512 bits")
	// ErrNoReputation はドメインの総レピュテーションが0であることを示す。
	ErrNoReputation = errors.New("domain has no reputation")
)

var hundred = big.NewInt(100)

// PrecisionFactor は10^precisionを返す。
func PrecisionFactor(precision uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(precision)), nil)
}

// ScaleThreshold はパーセンテージ（0〜100）をPrecisionFactor倍した整数に変換する。
func ScaleThreshold(percent float64, precision uint8) (*big.Int, error) {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return nil, fmt.Errorf("%w: reputation must be between 0 and 100", ErrOptionRange)
	}
	factor := math.Pow10(int(precision))
	scaled := new(big.Int).SetUint64(uint64(math.Round(percent * factor)))

	limit := new(big.Int).Mul(PrecisionFactor(precision), hundred)
	if scaled.Cmp(limit) > 0 {
		return nil, fmt.Errorf("%w: reputation must be 100 or less", ErrOptionRange)
	}
	return scaled, nil
}

// UnscaleThreshold はスケール済みの閾値をパーセンテージに戻す。
func UnscaleThreshold(scaled *big.Int, precision uint8) float64 {
	f, _ := new(big.Rat).SetFrac(scaled, PrecisionFactor(precision)).Float64()
	return f
}

// MeetsThreshold はuser/baseがthresholdScaled/(factor*100)以上かを判定する。
// 除算を避けて thresholdScaled*base <= factor*100*user で比較する。
// いずれかの積が512ビットを超える場合はErrOverflowを返す。
func MeetsThreshold(thresholdScaled, factor, base, user *big.Int) (bool, error) {
	if base.Sign() == 0 {
		return false, ErrNoReputation
	}
	if thresholdScaled.Sign() < 0 || base.Sign() < 0 || user.Sign() < 0 {
		return false, errors.New("reputation values must not be negative")
	}

	left := new(big.Int).Mul(thresholdScaled, base)
	if left.BitLen() > wideBits {
		return false, ErrOverflow
	}
	right := new(big.Int).Mul(factor, hundred)
	right.Mul(right, user)
	if right.BitLen() > wideBits {
		return false, ErrOverflow
	}
	return left.Cmp(right) <= 0, nil
}

// parseReputation は10進数文字列のレピュテーションを解釈する。
func parseReputation(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid reputation amount %q", s)
	}
	if v.BitLen() > thresholdBits {
		return nil, fmt.Errorf("reputation amount %q exceeds 256 bits", s)
	}
	return v, nil
}
