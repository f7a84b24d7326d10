package handler

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mapapp/internal/middleware"
)

//go:embed templates/*.html
var templateFiles embed.FS

//go:embed static
var staticFiles embed.FS

// pageNames はlayout.htmlと組み合わせて個別にパースするページテンプレート。
var pageNames = []string{
	"home",
	"event",
	"map",
	"register",
	"register_confirmation",
	"confirm_email",
	"login",
	"manage",
	"error",
}

// DisplayNamer はナビゲーションに表示するユーザー名を解決する。
type DisplayNamer interface {
	DisplayName(ctx context.Context, identityID, fallback string) string
}

// layoutData は全ページ共通のレイアウト用データ。
type layoutData struct {
	Title       string
	SignedIn    bool
	DisplayName string
	CSRFToken   string
	CSRFField   string
	Scripts     []string
}

// view はテンプレートに渡すデータ。レイアウト項目とページ固有のデータを持つ。
type view struct {
	layoutData
	Page any
}

// Renderer はlayout.htmlとページテンプレートの組をページごとに保持する。
type Renderer struct {
	pages  map[string]*template.Template
	names  DisplayNamer
	logger *slog.Logger
}

// NewRenderer は埋め込みテンプレートをパースする。
// namesがnilの場合はメールアドレスを表示名に使う。
func NewRenderer(names DisplayNamer, logger *slog.Logger) (*Renderer, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New("layout.html").ParseFS(templateFiles, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = t
	}
	return &Renderer{pages: pages, names: names, logger: logger}, nil
}

// Render はページをバッファに描画してから書き出す。
// 描画に失敗した場合は途中までの出力を送らず、汎用エラーページを返す。
func (rd *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, name, title string, page any, scripts ...string) {
	t, ok := rd.pages[name]
	if !ok {
		rd.logger.Error("unknown template", slog.String("template", name))
		middleware.WriteErrorPage(w, http.StatusInternalServerError)
		return
	}

	data := view{layoutData: rd.layout(r, title, scripts), Page: page}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		rd.logger.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorPage(w, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// Error はレイアウト付きのエラーページを描画する。
func (rd *Renderer) Error(w http.ResponseWriter, r *http.Request, status int) {
	msg := "An error occurred while processing your request."
	if status == http.StatusNotFound {
		msg = "Sorry, there's nothing at this address."
	}
	rd.Render(w, r, status, "error", "Error", struct{ Message string }{msg})
}

func (rd *Renderer) layout(r *http.Request, title string, scripts []string) layoutData {
	ld := layoutData{
		Title:     title,
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		CSRFField: middleware.CSRFFormField,
		Scripts:   scripts,
	}
	if user := middleware.UserFromContext(r.Context()); user != nil {
		ld.SignedIn = true
		ld.DisplayName = user.Email
		if rd.names != nil {
			ld.DisplayName = rd.names.DisplayName(r.Context(), user.ID, user.Email)
		}
	}
	return ld
}

// StaticHandler は埋め込みの静的ファイルを配信する。
func StaticHandler() http.Handler {
	fsys, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(fsys)))
}
