package controller

import (
	"github.com/hitoshi/colonygate/internal/gate"
)

// Message はコントローラが処理する要求。実装はこのパッケージ内の型のみ。
// 応答チャネルは呼び出し側がバッファ1で作成し、コントローラは最大1回だけ書き込む。
type Message interface {
	kind() string
}

// AddGate はゲートを構築して保存する。構築はコントローラ内で行う。
// Doneがnilでなければ構築または保存の結果が送られる。
type AddGate struct {
	GuildID uint64
	RoleID  uint64
	Kind    string
	Options []gate.OptionValue
	Done    chan<- error
}

// Check はユーザーがギルドで獲得するロールを評価する。
type Check struct {
	UserID  uint64
	GuildID uint64
	Reply   chan<- CheckResponse
}

// Register はユーザーのウォレットを登録する。登録済みの場合は上書きしない。
type Register struct {
	UserID uint64
	Wallet string
	Reply  chan<- RegisterResponse
}

// List はギルドのゲート一覧を返す。
type List struct {
	GuildID uint64
	Reply   chan<- GatesResponse
}

// Roles はギルドでゲート管理されているロールIDを返す。
type Roles struct {
	GuildID uint64
	Reply   chan<- RolesResponse
}

// RemoveGate はゲートを1つ削除する。
type RemoveGate struct {
	GuildID  uint64
	Identity gate.Identity
	Done     chan<- error
}

// RemoveGuild はギルドの全ゲートを削除する。
type RemoveGuild struct {
	GuildID uint64
	Done    chan<- error
}

// Guilds はゲートが1つ以上あるギルドIDを返す。
type Guilds struct {
	Reply chan<- GuildsResponse
}

// Batch は複数ユーザーについて獲得ロールを評価する。未登録のユーザーは結果に含まれない。
type Batch struct {
	GuildID uint64
	UserIDs []uint64
	Reply   chan<- BatchResponse
}

// Unregister は登録解除ページのURLを発行する。
type Unregister struct {
	UserID uint64
	Reply  chan<- UnregisterResponse
}

// RemoveUser はユーザーの登録を削除する。
type RemoveUser struct {
	UserID uint64
	Done   chan<- error
}

func (AddGate) kind() string     { return "add_gate" }
func (Check) kind() string       { return "check" }
func (Register) kind() string    { return "register" }
func (List) kind() string        { return "list" }
func (Roles) kind() string       { return "roles" }
func (RemoveGate) kind() string  { return "remove_gate" }
func (RemoveGuild) kind() string { return "remove_guild" }
func (Guilds) kind() string      { return "guilds" }
func (Batch) kind() string       { return "batch" }
func (Unregister) kind() string  { return "unregister" }
func (RemoveUser) kind() string  { return "remove_user" }

// CheckKind はCheckの結果の種類。
type CheckKind int

const (
	// CheckError はストレージまたはセッション発行の失敗。
	CheckError CheckKind = iota
	// CheckNoGates はギルドにゲートがないことを示す。
	CheckNoGates
	// CheckGrant は獲得したロールを返す。空でも有効な結果。
	CheckGrant
	// CheckRegister はウォレット未登録のため登録URLを返す。
	CheckRegister
)

func (k CheckKind) String() string {
	switch k {
	case CheckNoGates:
		return "no_gates"
	case CheckGrant:
		return "grant"
	case CheckRegister:
		return "register"
	default:
		return "error"
	}
}

// CheckResponse はCheckの応答。
type CheckResponse struct {
	Kind  CheckKind
	Roles []uint64
	URL   string
	Err   error
}

// RegisterResult はRegisterの結果の種類。
type RegisterResult int

const (
	RegisterError RegisterResult = iota
	RegisterSuccess
	RegisterAlreadyRegistered
)

// RegisterResponse はRegisterの応答。
type RegisterResponse struct {
	Result RegisterResult
	Err    error
}

// GatesResponse はListの応答。
type GatesResponse struct {
	Gates []gate.Gate
	Err   error
}

// RolesResponse はRolesの応答。
type RolesResponse struct {
	Roles []uint64
	Err   error
}

// GuildsResponse はGuildsの応答。
type GuildsResponse struct {
	Guilds []uint64
	Err    error
}

// Grant は1ユーザーの獲得ロール。
type Grant struct {
	UserID uint64
	Roles  []uint64
}

// BatchResponse はBatchの応答。
type BatchResponse struct {
	Grants []Grant
	Err    error
}

// UnregisterResponse はUnregisterの応答。Registeredがfalseの場合URLは空。
type UnregisterResponse struct {
	Registered bool
	URL        string
	Err        error
}
