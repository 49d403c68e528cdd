// Package handler はHTTPハンドラーを提供する。
// 登録・登録解除ページはサーバー側で描画し、状態の変更はコントローラに依頼する。
package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/colonygate/internal/middleware"
	"github.com/hitoshi/colonygate/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// ページ名
const (
	pageIndex      = "index"
	pageRegister   = "register"
	pageUnregister = "unregister"
	pageMessage    = "message"
	pageError      = "error"
)

// pageData はテンプレートに渡す値。ページごとに必要なフィールドだけを設定する。
type pageData struct {
	Title string

	// index
	About     template.HTML
	InviteURL string

	// register, unregister
	CSRFField        string
	CSRFToken        string
	SignMessage      string
	RequireSignature bool

	// message
	Text string

	// error
	Error *model.PageError
}

// renderer はレイアウトと各ページを組み合わせたテンプレートを保持する。
type renderer struct {
	pages  map[string]*template.Template
	logger *slog.Logger
}

func newRenderer(logger *slog.Logger) (*renderer, error) {
	r := &renderer{pages: make(map[string]*template.Template), logger: logger}
	for _, name := range []string{pageIndex, pageRegister, pageUnregister, pageMessage, pageError} {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

// render はページを描画して書き込む。描画に失敗した場合は500を返す。
func (rd *renderer) render(w http.ResponseWriter, status int, name string, data pageData) {
	var buf bytes.Buffer
	if err := rd.pages[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		rd.logger.Error("failed to render page",
			slog.String("page", name),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// renderError はエラーページを描画する。middleware.ErrorWriterとしても使う。
func (rd *renderer) renderError(w http.ResponseWriter, _ *http.Request, pageErr *model.PageError) {
	rd.render(w, pageErr.Status, pageError, pageData{Title: "Error", Error: pageErr})
}

func (rd *renderer) renderMessage(w http.ResponseWriter, status int, title, text string) {
	rd.render(w, status, pageMessage, pageData{Title: title, Text: text})
}
