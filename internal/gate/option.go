package gate

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// 構築時のエラー。呼び出し側はerrors.Isで判定する。
var (
	ErrUnknownKind    = errors.New("unknown gate type")
	ErrOptionCount    = errors.New("wrong number of options")
	ErrOptionOrder    = errors.New("unexpected option")
	ErrOptionType     = errors.New("invalid option type")
	ErrOptionRange    = errors.New("option out of range")
	ErrInvalidAddress = errors.New("invalid address")
)

// OptionType はオプション値の型。
type OptionType int

const (
	// OptionString は文字列オプション。
	OptionString OptionType = iota
	// OptionInteger は整数オプション。
	OptionInteger
	// OptionNumber は浮動小数点数オプション。
	OptionNumber
)

// String はOptionTypeの表示名を返す。
func (t OptionType) String() string {
	switch t {
	case OptionString:
		return "string"
	case OptionInteger:
		return "integer"
	case OptionNumber:
		return "number"
	default:
		return "unknown"
	}
}

// Option はゲート種別ごとの構築パラメータの宣言。
// Lengthは文字列の固定長（0は制限なし）、Min/Maxは数値の範囲（nilは制限なし）。
type Option struct {
	Name        string
	Description string
	Type        OptionType
	Required    bool
	Length      int
	Min         *float64
	Max         *float64
}

// OptionValue は型付きのオプション値。Typeに対応するフィールドのみ有効。
type OptionValue struct {
	Name    string
	Type    OptionType
	String  string
	Integer int64
	Number  float64
}

// StringValue は文字列オプション値を生成する。
func StringValue(name, v string) OptionValue {
	return OptionValue{Name: name, Type: OptionString, String: v}
}

// IntegerValue は整数オプション値を生成する。
func IntegerValue(name string, v int64) OptionValue {
	return OptionValue{Name: name, Type: OptionInteger, Integer: v}
}

// NumberValue は浮動小数点数オプション値を生成する。
func NumberValue(name string, v float64) OptionValue {
	return OptionValue{Name: name, Type: OptionNumber, Number: v}
}

// Display は表示用の文字列を返す。
func (v OptionValue) Display() string {
	switch v.Type {
	case OptionInteger:
		return strconv.FormatInt(v.Integer, 10)
	case OptionNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	default:
		return v.String
	}
}

// ParseOptionValue は文字列表現をスキーマの型に従ってOptionValueへ変換する。
// CLIのように型情報を持たない入力から構築する場合に使用する。
func ParseOptionValue(o Option, raw string) (OptionValue, error) {
	switch o.Type {
	case OptionInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return OptionValue{}, fmt.Errorf("%w: %s must be an integer", ErrOptionType, o.Name)
		}
		return IntegerValue(o.Name, n), nil
	case OptionNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return OptionValue{}, fmt.Errorf("%w: %s must be a number", ErrOptionType, o.Name)
		}
		return NumberValue(o.Name, f), nil
	default:
		return StringValue(o.Name, raw), nil
	}
}

func bound(v float64) *float64 { return &v }

// validateOptions は値の個数・順序・型・範囲をスキーマに対して位置ごとに検証する。
func validateOptions(schema []Option, values []OptionValue) error {
	if len(values) != len(schema) {
		return fmt.Errorf("%w: need exactly %d options, got %d", ErrOptionCount, len(schema), len(values))
	}
	for i, o := range schema {
		if err := o.validate(values[i], i); err != nil {
			return err
		}
	}
	return nil
}

func (o Option) validate(v OptionValue, pos int) error {
	if v.Name != o.Name {
		return fmt.Errorf("%w: option %d must be %s, got %q", ErrOptionOrder, pos+1, o.Name, v.Name)
	}
	if v.Type != o.Type {
		return fmt.Errorf("%w: %s must be %s, got %s", ErrOptionType, o.Name, o.Type, v.Type)
	}

	switch o.Type {
	case OptionString:
		if o.Length > 0 && len(v.String) != o.Length {
			return fmt.Errorf("%w: %s must be %d characters long", ErrOptionRange, o.Name, o.Length)
		}
	case OptionInteger:
		if !o.inRange(float64(v.Integer)) {
			return fmt.Errorf("%w: %s = %d, %s", ErrOptionRange, o.Name, v.Integer, o.rangeText())
		}
	case OptionNumber:
		if math.IsNaN(v.Number) || math.IsInf(v.Number, 0) || !o.inRange(v.Number) {
			return fmt.Errorf("%w: %s = %v, %s", ErrOptionRange, o.Name, v.Number, o.rangeText())
		}
	}
	return nil
}

func (o Option) inRange(f float64) bool {
	if o.Min != nil && f < *o.Min {
		return false
	}
	if o.Max != nil && f > *o.Max {
		return false
	}
	return true
}

func (o Option) rangeText() string {
	switch {
	case o.Min != nil && o.Max != nil:
		return fmt.Sprintf("must be between %v and %v", *o.Min, *o.Max)
	case o.Min != nil:
		return fmt.Sprintf("must be at least %v", *o.Min)
	case o.Max != nil:
		return fmt.Sprintf("must be at most %v", *o.Max)
	default:
		return "out of range"
	}
}

// parseAddress は0x付き16進のアドレス文字列を検証して変換する。
func parseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) || len(s) != 42 {
		return common.Address{}, fmt.Errorf("%w: %s %q", ErrInvalidAddress, name, s)
	}
	return common.HexToAddress(s), nil
}
