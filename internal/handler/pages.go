package handler

import (
	"context"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/colonygate/internal/model"
)

// Pinger はヘルスチェックで疎通を確認する依存。*sql.DBが実装する。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// healthTimeout はヘルスチェックでDBの応答を待つ上限。
const healthTimeout = 2 * time.Second

// PageHandler はトップページ・ヘルスチェック・404を処理する。
type PageHandler struct {
	about     template.HTML
	inviteURL string
	pinger    Pinger
	pages     *renderer
	logger    *slog.Logger
}

func newPageHandler(about template.HTML, inviteURL string, pinger Pinger, pages *renderer, logger *slog.Logger) *PageHandler {
	return &PageHandler{
		about:     about,
		inviteURL: inviteURL,
		pinger:    pinger,
		pages:     pages,
		logger:    logger,
	}
}

// Index はボットの説明と招待リンクを表示する。
// GET /
func (h *PageHandler) Index(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, http.StatusOK, pageIndex, pageData{
		Title:     "Colony Gate",
		About:     h.about,
		InviteURL: h.inviteURL,
	})
}

// healthResponse はヘルスチェックのレスポンスボディ。
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// Health はプロセスとストレージの状態をJSONで返す。
// GET /health
// メモリストレージの場合はDBの確認を省略する。
func (h *PageHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK

	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := h.pinger.PingContext(ctx); err != nil {
			h.logger.Warn("health check database ping failed", slog.String("error", err.Error()))
			resp = healthResponse{Status: "unavailable", Database: "unreachable"}
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// NotFound は未定義のパスに対してエラーページを返す。
func (h *PageHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.pages.renderError(w, r, model.NewNotFoundError())
}
