// Package gate はロール付与条件（ゲート）の定義・構築・評価を提供する。
// 条件の種類は閉じた集合で、種類名から構築関数への対応表で管理する。
package gate

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Condition はウォレットに対して評価できるロール付与条件。
// 実装はReputationGateとTokenGateのみで、パッケージ外からは追加できない。
type Condition interface {
	// Kind は条件の種類名を返す。
	Kind() string
	// Check はウォレットが条件を満たすかを評価する。リモート取得の失敗はfalseとなる。
	Check(ctx context.Context, ev *Evaluator, wallet common.Address) bool
	// Hash はフィールドのみから決まる安定したハッシュ値を返す。
	Hash() uint64
	// Fields は表示用にフィールドを型付きオプション値として返す。
	Fields() []OptionValue

	sealed()
}

// Kind はゲート種類の登録情報。
type Kind struct {
	Name        string
	Description string
	Options     []Option

	construct func(ctx context.Context, ev *Evaluator, values []OptionValue) (Condition, error)
	decode    func(data []byte) (Condition, error)
}

var kinds = []Kind{
	{
		Name:        ReputationKind,
		Description: "Grants a role to members holding a share of the reputation in a colony domain",
		Options:     reputationOptions,
		construct:   constructReputation,
		decode:      decodeReputation,
	},
	{
		Name:        TokenKind,
		Description: "Grants a role to members holding an amount of an ERC20 token on Gnosis Chain",
		Options:     tokenOptions,
		construct:   constructToken,
		decode:      decodeToken,
	},
}

// Kinds は登録済みのゲート種類を返す。
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// LookupKind は種類名から登録情報を返す。
func LookupKind(name string) (Kind, bool) {
	for _, k := range kinds {
		if k.Name == name {
			return k, true
		}
	}
	return Kind{}, false
}

// Construct は種類名に対応する構築関数で条件を生成する。
// 未知の種類名の場合はErrUnknownKindを返す。
func Construct(ctx context.Context, ev *Evaluator, kind string, values []OptionValue) (Condition, error) {
	k, ok := LookupKind(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return k.construct(ctx, ev, values)
}

// Gate はロールと条件の組。条件を満たすとロールが付与される。
type Gate struct {
	RoleID    uint64
	Condition Condition
}

// New は入力値からGateを生成する唯一の入口。
// 検証に失敗した場合は何も生成せずエラーを返す。
func New(ctx context.Context, ev *Evaluator, roleID uint64, kind string, values []OptionValue) (Gate, error) {
	cond, err := Construct(ctx, ev, kind, values)
	if err != nil {
		return Gate{}, err
	}
	return Gate{RoleID: roleID, Condition: cond}, nil
}

// Identity はゲートを識別する128ビット値（上位64ビットにロールID、下位64ビットに条件ハッシュ）を返す。
func (g Gate) Identity() Identity {
	return Identity{Hi: g.RoleID, Lo: g.Condition.Hash()}
}

// Identity はゲートの128ビット識別子。ストレージのキーと重複判定に使用する。
type Identity struct {
	Hi uint64
	Lo uint64
}

// Bytes はビッグエンディアンの16バイト表現を返す。
func (id Identity) Bytes() []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], id.Hi)
	binary.BigEndian.PutUint64(b[8:], id.Lo)
	return b
}

// String は32桁の16進文字列を返す。
func (id Identity) String() string {
	return hex.EncodeToString(id.Bytes())
}

// IdentityFromBytes は16バイトのビッグエンディアン表現からIdentityを復元する。
func IdentityFromBytes(b []byte) (Identity, error) {
	if len(b) != 16 {
		return Identity{}, fmt.Errorf("gate identity must be 16 bytes, got %d", len(b))
	}
	return Identity{
		Hi: binary.BigEndian.Uint64(b[:8]),
		Lo: binary.BigEndian.Uint64(b[8:]),
	}, nil
}

// ParseIdentity は32桁の16進文字列からIdentityを復元する。
func ParseIdentity(s string) (Identity, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid gate identity %q: %w", s, err)
	}
	return IdentityFromBytes(b)
}

// record はゲートの永続化フォーマット。
type record struct {
	RoleID    uint64          `json:"role_id,string"`
	Kind      string          `json:"kind"`
	Condition json.RawMessage `json:"condition"`
}

// Marshal はゲートを永続化用のJSONに変換する。
func Marshal(g Gate) ([]byte, error) {
	cond, err := json.Marshal(g.Condition)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal condition: %w", err)
	}
	return json.Marshal(record{
		RoleID:    g.RoleID,
		Kind:      g.Condition.Kind(),
		Condition: cond,
	})
}

// Unmarshal は永続化されたJSONからゲートを復元する。
func Unmarshal(data []byte) (Gate, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return Gate{}, fmt.Errorf("failed to unmarshal gate record: %w", err)
	}
	k, ok := LookupKind(r.Kind)
	if !ok {
		return Gate{}, fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}
	cond, err := k.decode(r.Condition)
	if err != nil {
		return Gate{}, err
	}
	return Gate{RoleID: r.RoleID, Condition: cond}, nil
}
