package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultOracleURL はGnosis Chain上のColonyレピュテーションオラクルのベースURL。
	DefaultOracleURL = "https://xdai.colony.io/reputation/xdai"
	// maxOracleResponseSize はオラクルレスポンスの最大サイズ。
	maxOracleResponseSize = 64 * 1024
)

var (
	// ErrReputationNotFound はオラクルがレピュテーションを持たないと応答したことを示す。
	ErrReputationNotFound = errors.New("reputation not found")
	// ErrOracleUnavailable はオラクルが一時的に利用できないことを示す。
	ErrOracleUnavailable = errors.New("reputation oracle unavailable")
)

// StatusClass はオラクルのHTTPステータスの分類。
type StatusClass int

const (
	// StatusOK は取得成功（200）。
	StatusOK StatusClass = iota
	// StatusNotFound はレピュテーションが存在しない（400/404）。
	StatusNotFound
	// StatusRetryLater は一時的な失敗（429/5xx）。
	StatusRetryLater
	// StatusUnknown は未知のステータスコード。
	StatusUnknown
)

// ClassifyStatus はHTTPステータスコードを分類する。
func ClassifyStatus(statusCode int) StatusClass {
	switch {
	case statusCode == http.StatusOK:
		return StatusOK
	case statusCode == http.StatusBadRequest || statusCode == http.StatusNotFound:
		return StatusNotFound
	case statusCode == http.StatusTooManyRequests:
		return StatusRetryLater
	case statusCode >= 500:
		return StatusRetryLater
	default:
		return StatusUnknown
	}
}

// OracleClient はColonyレピュテーションオラクルのHTTPクライアント。
type OracleClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
}

// NewOracleClient はOracleClientを生成する。
// httpClientには本番ではSSRF防止機能付きのクライアントを渡す。
func NewOracleClient(httpClient *http.Client, baseURL string, logger *slog.Logger) *OracleClient {
	if baseURL == "" {
		baseURL = DefaultOracleURL
	}
	return &OracleClient{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type oracleResponse struct {
	ReputationAmount string `json:"reputationAmount"`
}

// Reputation はレピュテーションツリーのルートハッシュ時点での、スキルに対するウォレットのレピュテーションを取得する。
// ウォレットにゼロアドレスを渡すとドメイン全体のレピュテーションを返す。
func (c *OracleClient) Reputation(
	ctx context.Context,
	rootHash common.Hash,
	colony common.Address,
	skillID *big.Int,
	wallet common.Address,
) (string, error) {
	reqURL := fmt.Sprintf("%s/%s/%s/%s/%s/noProof",
		c.baseURL, rootHash.Hex(), colony.Hex(), skillID.String(), wallet.Hex())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create oracle request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "colonygate/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("レピュテーションオラクルの呼び出しに失敗しました",
			slog.String("colony", colony.Hex()),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()

	switch ClassifyStatus(resp.StatusCode) {
	case StatusOK:
	case StatusNotFound:
		return "", fmt.Errorf("%w: colony %s skill %s wallet %s", ErrReputationNotFound, colony.Hex(), skillID, wallet.Hex())
	case StatusRetryLater:
		c.logger.Warn("レピュテーションオラクルが一時的なエラーを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return "", fmt.Errorf("%w: status %d", ErrOracleUnavailable, resp.StatusCode)
	default:
		return "", fmt.Errorf("reputation oracle returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOracleResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read oracle response: %w", err)
	}

	var result oracleResponse
	if err := json.Unmarshal(body, &result); err != nil {
		c.logger.Error("レピュテーションオラクルのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("failed to parse oracle response: %w", err)
	}
	if result.ReputationAmount == "" {
		return "", fmt.Errorf("oracle response has no reputationAmount")
	}
	return result.ReputationAmount, nil
}
