package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/colonygate/internal/controller"
	"github.com/hitoshi/colonygate/internal/middleware"
	"github.com/hitoshi/colonygate/internal/model"
	"github.com/hitoshi/colonygate/internal/session"
	"github.com/hitoshi/colonygate/internal/storage"
)

// defaultRequestTimeout はコントローラへの要求を待つ上限。
const defaultRequestTimeout = 10 * time.Second

// Registrar はページから呼び出すコントローラの操作。*controller.Senderが実装する。
type Registrar interface {
	Register(ctx context.Context, userID uint64, wallet string) (controller.RegisterResponse, error)
	RemoveUser(ctx context.Context, userID uint64) error
}

var _ Registrar = (*controller.Sender)(nil)

// SessionDecoder はURLのトークンを復号する。*session.Codecが実装する。
type SessionDecoder interface {
	Decode(token string) (session.Session, error)
}

var _ SessionDecoder = (*session.Codec)(nil)

// SessionHandlerConfig はセッションページの設定。
type SessionHandlerConfig struct {
	// RequireSignature がtrueの場合、登録時にウォレットの署名を必須とする。
	RequireSignature bool
	// RequestTimeout はコントローラの応答を待つ上限。0の場合は10秒。
	RequestTimeout time.Duration
	// Now は現在時刻を返す。nilの場合はtime.Now。
	Now func() time.Time
}

// SessionHandler は /session/{token} と /unregister/{token} のページを処理する。
type SessionHandler struct {
	registrar Registrar
	sessions  SessionDecoder
	config    SessionHandlerConfig
	pages     *renderer
	logger    *slog.Logger
}

func newSessionHandler(registrar Registrar, sessions SessionDecoder, config SessionHandlerConfig, pages *renderer, logger *slog.Logger) *SessionHandler {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaultRequestTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &SessionHandler{
		registrar: registrar,
		sessions:  sessions,
		config:    config,
		pages:     pages,
		logger:    logger,
	}
}

// RegistrationPage はウォレット登録フォームを表示する。
// GET /session/{token}
func (h *SessionHandler) RegistrationPage(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if _, ok := h.validSession(w, r, token); !ok {
		return
	}
	h.pages.render(w, http.StatusOK, pageRegister, pageData{
		Title:            "Register your wallet",
		CSRFField:        middleware.CSRFFieldName,
		CSRFToken:        middleware.CSRFTokenFromContext(r.Context()),
		SignMessage:      session.RegistrationMessage(token),
		RequireSignature: h.config.RequireSignature,
	})
}

// Register はフォームのウォレットアドレスを登録する。
// POST /session/{token}
// フォームフィールド: wallet（必須）、signature（REQUIRE_SIGNATURE時は必須）
func (h *SessionHandler) Register(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	sess, ok := h.validSession(w, r, token)
	if !ok {
		return
	}

	wallet := strings.TrimSpace(r.PostFormValue("wallet"))
	if !common.IsHexAddress(wallet) {
		h.logger.Warn("invalid wallet address submitted", slog.Uint64("user_id", sess.UserID))
		h.pages.renderError(w, r, model.NewInvalidWalletError(wallet))
		return
	}

	signature := strings.TrimSpace(r.PostFormValue("signature"))
	if signature != "" || h.config.RequireSignature {
		err := session.VerifySignature(session.RegistrationMessage(token), signature, common.HexToAddress(wallet))
		if err != nil {
			h.logger.Warn("signature verification failed",
				slog.Uint64("user_id", sess.UserID),
				slog.String("error", err.Error()),
			)
			h.pages.renderError(w, r, model.NewInvalidSignatureError())
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.RequestTimeout)
	defer cancel()

	resp, err := h.registrar.Register(ctx, sess.UserID, wallet)
	if err != nil {
		h.controllerError(w, r, "register", err)
		return
	}

	switch resp.Result {
	case controller.RegisterSuccess:
		h.logger.Info("wallet registered", slog.Uint64("user_id", sess.UserID))
		h.pages.renderMessage(w, http.StatusOK, "Registration successful",
			"Your wallet is now connected. Run /get in again in Discord to receive your roles.")
	case controller.RegisterAlreadyRegistered:
		h.pages.renderError(w, r, model.NewAlreadyRegisteredError())
	default:
		if errors.Is(resp.Err, controller.ErrInvalidWallet) {
			h.pages.renderError(w, r, model.NewInvalidWalletError(wallet))
			return
		}
		h.logger.Error("registration failed",
			slog.Uint64("user_id", sess.UserID),
			slog.String("error", errString(resp.Err)),
		)
		h.pages.renderError(w, r, model.NewInternalError())
	}
}

// UnregistrationPage は登録解除の確認フォームを表示する。
// GET /unregister/{token}
func (h *SessionHandler) UnregistrationPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.validSession(w, r, chi.URLParam(r, "token")); !ok {
		return
	}
	h.pages.render(w, http.StatusOK, pageUnregister, pageData{
		Title:     "Unregister your wallet",
		CSRFField: middleware.CSRFFieldName,
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
	})
}

// Unregister は登録を削除する。
// POST /unregister/{token}
func (h *SessionHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.validSession(w, r, chi.URLParam(r, "token"))
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.RequestTimeout)
	defer cancel()

	err := h.registrar.RemoveUser(ctx, sess.UserID)
	if errors.Is(err, storage.ErrUserNotFound) {
		h.pages.renderError(w, r, model.NewNotRegisteredError())
		return
	}
	if err != nil {
		h.controllerError(w, r, "remove_user", err)
		return
	}

	h.logger.Info("wallet unregistered", slog.Uint64("user_id", sess.UserID))
	h.pages.renderMessage(w, http.StatusOK, "Unregistration successful",
		"Hope to see you again soon! Use /get in to register again.")
}

// validSession はトークンを復号して有効期限を検証する。
// 無効な場合はエラーページを書き込み、falseを返す。
func (h *SessionHandler) validSession(w http.ResponseWriter, r *http.Request, token string) (session.Session, bool) {
	sess, err := h.sessions.Decode(token)
	if err != nil {
		h.logger.Warn("invalid session", slog.String("error", err.Error()))
		h.pages.renderError(w, r, model.NewInvalidSessionError())
		return session.Session{}, false
	}
	if sess.Expired(h.config.Now()) {
		h.logger.Debug("session expired", slog.Uint64("user_id", sess.UserID))
		h.pages.renderError(w, r, model.NewSessionExpiredError())
		return session.Session{}, false
	}
	return sess, true
}

// controllerError はコントローラへの要求の失敗をレスポンスに変換する。
// キューの満杯・停止・タイムアウトは503、それ以外は500とする。
func (h *SessionHandler) controllerError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, controller.ErrQueueFull),
		errors.Is(err, controller.ErrClosed),
		errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn("controller unavailable",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		h.pages.renderError(w, r, model.NewServiceUnavailableError())
	default:
		h.logger.Error("controller request failed",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		h.pages.renderError(w, r, model.NewInternalError())
	}
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
