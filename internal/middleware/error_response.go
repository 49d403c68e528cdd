package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/colonygate/internal/model"
)

// ErrorResponseBody はJSONエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// ErrorWriter はミドルウェアが要求を拒否する際のレスポンスを書き込む。
// ハンドラー側でHTMLのエラーページを描画する関数を差し込む。
type ErrorWriter func(w http.ResponseWriter, r *http.Request, pageErr *model.PageError)

// WriteErrorResponse は統一エラーフォーマットでJSONエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteJSONError はページエラーをJSONの統一フォーマットで書き込む。
// ErrorWriterが指定されない場合の既定の書き込み先。
func WriteJSONError(w http.ResponseWriter, _ *http.Request, pageErr *model.PageError) {
	WriteErrorResponse(w, pageErr.Status, pageErr.API(categoryOf(pageErr)))
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	pageErr := model.NewInternalError()
	WriteErrorResponse(w, pageErr.Status, pageErr.API("system"))
}

func categoryOf(pageErr *model.PageError) string {
	switch pageErr.Code {
	case model.ErrCodeInvalidSession, model.ErrCodeSessionExpired, model.ErrCodeCSRFTokenInvalid:
		return "session"
	case model.ErrCodeInvalidWallet, model.ErrCodeInvalidSignature,
		model.ErrCodeAlreadyRegistered, model.ErrCodeNotRegistered:
		return "validation"
	default:
		return "system"
	}
}

func orJSON(write ErrorWriter) ErrorWriter {
	if write == nil {
		return WriteJSONError
	}
	return write
}
