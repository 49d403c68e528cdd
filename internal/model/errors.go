// Package model はHTTPレイヤーで共有するエラー表現を定義する。
package model

import (
	"fmt"
	"net/http"
)

// APIError はJSONレスポンスで返す統一エラーフォーマットを表す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: session, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidSession     = "INVALID_SESSION"
	ErrCodeSessionExpired     = "SESSION_EXPIRED"
	ErrCodeInvalidWallet      = "INVALID_WALLET"
	ErrCodeInvalidSignature   = "INVALID_SIGNATURE"
	ErrCodeAlreadyRegistered  = "ALREADY_REGISTERED"
	ErrCodeNotRegistered      = "NOT_REGISTERED"
	ErrCodeCSRFTokenInvalid   = "CSRF_TOKEN_INVALID"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
)

// PageError はHTMLのエラーページに表示する内容を表す。
// StatusはレスポンスのHTTPステータスコード。
type PageError struct {
	Status  int
	Code    string
	Message string
	Action  string
}

// Error はerrorインターフェースを実装する。
func (e *PageError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// API はページエラーをJSON用のAPIErrorに変換する。
func (e *PageError) API(category string) *APIError {
	return &APIError{
		Code:     e.Code,
		Message:  e.Message,
		Category: category,
		Action:   e.Action,
	}
}

// NewInvalidSessionError はトークンを復号できなかったことを示すエラーを生成する。
func NewInvalidSessionError() *PageError {
	return &PageError{
		Status:  http.StatusBadRequest,
		Code:    ErrCodeInvalidSession,
		Message: "This link is invalid.",
		Action:  "Request a new link with the /get in command in Discord.",
	}
}

// NewSessionExpiredError はセッションの有効期限切れエラーを生成する。
func NewSessionExpiredError() *PageError {
	return &PageError{
		Status:  http.StatusBadRequest,
		Code:    ErrCodeSessionExpired,
		Message: "This link has expired.",
		Action:  "Links are valid for 60 seconds. Request a new one in Discord.",
	}
}

// NewInvalidWalletError は不正なウォレットアドレスのエラーを生成する。
func NewInvalidWalletError(wallet string) *PageError {
	return &PageError{
		Status:  http.StatusBadRequest,
		Code:    ErrCodeInvalidWallet,
		Message: fmt.Sprintf("%q is not a valid wallet address.", wallet),
		Action:  "Enter a 0x-prefixed address with 40 hexadecimal characters.",
	}
}

// NewInvalidSignatureError は署名検証の失敗を示すエラーを生成する。
func NewInvalidSignatureError() *PageError {
	return &PageError{
		Status:  http.StatusBadRequest,
		Code:    ErrCodeInvalidSignature,
		Message: "The signature does not match the wallet address.",
		Action:  "Sign the message shown on the page with the wallet you are registering.",
	}
}

// NewAlreadyRegisteredError は登録済みユーザーの再登録エラーを生成する。
func NewAlreadyRegisteredError() *PageError {
	return &PageError{
		Status:  http.StatusConflict,
		Code:    ErrCodeAlreadyRegistered,
		Message: "Your Discord account is already connected to a wallet.",
		Action:  "Use /get out in Discord to remove the current registration first.",
	}
}

// NewNotRegisteredError は未登録ユーザーの登録解除エラーを生成する。
func NewNotRegisteredError() *PageError {
	return &PageError{
		Status:  http.StatusNotFound,
		Code:    ErrCodeNotRegistered,
		Message: "Your Discord account is not connected to a wallet.",
		Action:  "Use /get in in Discord to register.",
	}
}

// NewCSRFError はCSRFトークン検証の失敗を示すエラーを生成する。
func NewCSRFError() *PageError {
	return &PageError{
		Status:  http.StatusForbidden,
		Code:    ErrCodeCSRFTokenInvalid,
		Message: "The form could not be verified.",
		Action:  "Reload the page and submit the form again.",
	}
}

// NewRateLimitError はレート制限超過エラーを生成する。
func NewRateLimitError() *PageError {
	return &PageError{
		Status:  http.StatusTooManyRequests,
		Code:    ErrCodeRateLimitExceeded,
		Message: "Too many requests. Please try again later.",
		Action:  "Please wait and retry after the specified time.",
	}
}

// NewServiceUnavailableError はコントローラが要求を受け付けられない場合のエラーを生成する。
func NewServiceUnavailableError() *PageError {
	return &PageError{
		Status:  http.StatusServiceUnavailable,
		Code:    ErrCodeServiceUnavailable,
		Message: "The service is busy.",
		Action:  "Please try again in a few seconds.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *PageError {
	return &PageError{
		Status:  http.StatusInternalServerError,
		Code:    ErrCodeInternal,
		Message: "An internal error occurred.",
		Action:  "Please wait a moment and try again.",
	}
}

// NewNotFoundError は存在しないページへのアクセスエラーを生成する。
func NewNotFoundError() *PageError {
	return &PageError{
		Status:  http.StatusNotFound,
		Code:    ErrCodeNotFound,
		Message: "The page you requested does not exist.",
		Action:  "Check the link you followed.",
	}
}
