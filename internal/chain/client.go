// Package chain はGnosis Chain上のERC20トークンとColonyコントラクトの読み出しを提供する。
// JSON-RPCにはgo-ethereumを使用し、レピュテーションはColonyのオラクルから取得する。
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// DefaultRPCURL はGnosis ChainのパブリックRPCエンドポイント。
const DefaultRPCURL = "https://rpc.gnosischain.com"

// ErrNoContract はアドレスにコントラクトが存在しないか、空の応答を返したことを示す。
var ErrNoContract = errors.New("no contract response")

const erc20ABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

const colonyABI = `[
	{"type":"function","name":"getDomain","stateMutability":"view","inputs":[{"name":"_id","type":"uint256"}],"outputs":[{"name":"skillId","type":"uint256"},{"name":"fundingPotId","type":"uint256"}]},
	{"type":"function","name":"getColonyNetwork","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"getDomainCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const networkABI = `[
	{"type":"function","name":"getReputationRootHash","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]}
]`

var (
	erc20Contract   abi.ABI
	colonyContract  abi.ABI
	networkContract abi.ABI
)

func init() {
	for _, def := range []struct {
		dst  *abi.ABI
		json string
	}{
		{&erc20Contract, erc20ABI},
		{&colonyContract, colonyABI},
		{&networkContract, networkABI},
	} {
		parsed, err := abi.JSON(strings.NewReader(def.json))
		if err != nil {
			panic(fmt.Sprintf("invalid contract ABI: %v", err))
		}
		*def.dst = parsed
	}
}

// ContractCaller はeth_callを実行するインターフェース。*ethclient.Clientが実装する。
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ReputationOracle はレピュテーションオラクルのインターフェース。
type ReputationOracle interface {
	Reputation(ctx context.Context, rootHash common.Hash, colony common.Address, skillID *big.Int, wallet common.Address) (string, error)
}

// Client はゲート評価に必要なチェーン上の値を取得する。
// gate.ReputationSourceとgate.TokenSourceを実装する。
type Client struct {
	caller  ContractCaller
	oracle  ReputationOracle
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient はClientを生成する。timeoutは各リモート呼び出しのタイムアウト。
func NewClient(caller ContractCaller, oracle ReputationOracle, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		caller:  caller,
		oracle:  oracle,
		timeout: timeout,
		logger:  logger,
	}
}

// Dial はRPCエンドポイントに接続する。
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	if rpcURL == "" {
		rpcURL = DefaultRPCURL
	}
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc: %w", err)
	}
	return c, nil
}

func (c *Client) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s on %s: %w", method, to.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s on %s", ErrNoContract, method, to.Hex())
	}

	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return values, nil
}

// BalanceOf はウォレットのトークン残高（最小単位）を返す。
func (c *Client) BalanceOf(ctx context.Context, token, wallet common.Address) (*big.Int, error) {
	values, err := c.call(ctx, erc20Contract, token, "balanceOf", wallet)
	if err != nil {
		return nil, err
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result %T", values[0])
	}
	return balance, nil
}

// TokenDecimals はトークンの小数点以下の桁数を返す。
func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	values, err := c.call(ctx, erc20Contract, token, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals result %T", values[0])
	}
	return decimals, nil
}

// TokenSymbol はトークンのシンボルを返す。
func (c *Client) TokenSymbol(ctx context.Context, token common.Address) (string, error) {
	values, err := c.call(ctx, erc20Contract, token, "symbol")
	if err != nil {
		return "", err
	}
	symbol, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected symbol result %T", values[0])
	}
	return symbol, nil
}

// DomainCount はColonyのドメイン数を返す。
func (c *Client) DomainCount(ctx context.Context, colony common.Address) (uint64, error) {
	values, err := c.call(ctx, colonyContract, colony, "getDomainCount")
	if err != nil {
		return 0, err
	}
	count, ok := values[0].(*big.Int)
	if !ok || !count.IsUint64() {
		return 0, fmt.Errorf("unexpected getDomainCount result %v", values[0])
	}
	return count.Uint64(), nil
}

// ReputationInDomain はColonyのドメインにおけるウォレットのレピュテーションを10進数文字列で返す。
// ドメインのスキルID、ColonyNetworkのレピュテーションルートハッシュを順に取得し、オラクルに問い合わせる。
func (c *Client) ReputationInDomain(ctx context.Context, colony, wallet common.Address, domain uint64) (string, error) {
	values, err := c.call(ctx, colonyContract, colony, "getDomain", new(big.Int).SetUint64(domain))
	if err != nil {
		return "", err
	}
	skillID, ok := values[0].(*big.Int)
	if !ok {
		return "", fmt.Errorf("unexpected getDomain result %T", values[0])
	}

	values, err = c.call(ctx, colonyContract, colony, "getColonyNetwork")
	if err != nil {
		return "", err
	}
	network, ok := values[0].(common.Address)
	if !ok {
		return "", fmt.Errorf("unexpected getColonyNetwork result %T", values[0])
	}

	values, err = c.call(ctx, networkContract, network, "getReputationRootHash")
	if err != nil {
		return "", err
	}
	root, ok := values[0].([32]byte)
	if !ok {
		return "", fmt.Errorf("unexpected getReputationRootHash result %T", values[0])
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	amount, err := c.oracle.Reputation(ctx, common.Hash(root), colony, skillID, wallet)
	if err != nil {
		return "", err
	}
	c.logger.Debug("reputation fetched",
		slog.String("colony", colony.Hex()),
		slog.Uint64("domain", domain),
		slog.String("wallet", wallet.Hex()),
		slog.String("skill_id", skillID.String()),
	)
	return amount, nil
}
