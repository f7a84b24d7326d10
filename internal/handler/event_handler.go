package handler

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/mapapp/internal/event"
	"github.com/hitoshi/mapapp/internal/middleware"
	"github.com/hitoshi/mapapp/internal/model"
)

// allEventsMapCallback は地図APIスクリプトの読み込み完了時に呼ばれる関数名（static/map.js）。
const allEventsMapCallback = "initAllEventsMap"

// EventServiceInterface はイベントハンドラーが必要とするサービスインターフェース。
type EventServiceInterface interface {
	Get(ctx context.Context, id int64) (*event.Detail, error)
	Upcoming(ctx context.Context, limit int) ([]*model.Event, error)
	Markers(ctx context.Context) ([]event.Marker, error)
}

// MapScripts はクライアント側の地図スクリプトの情報を提供する。
type MapScripts interface {
	Enabled() bool
	ScriptURL(callback string) string
}

// EventHandler はイベント一覧・詳細・全イベント地図のHTTPハンドラー。
type EventHandler struct {
	service EventServiceInterface
	maps    MapScripts
	render  *Renderer
}

// NewEventHandler はEventHandlerを生成する。
func NewEventHandler(service EventServiceInterface, maps MapScripts, render *Renderer) *EventHandler {
	return &EventHandler{service: service, maps: maps, render: render}
}

type homePage struct {
	Events []*model.Event
}

// eventPage はイベント詳細ページの表示内容。
// MapHiddenとToggleURLは地図の表示状態（初期状態は非表示）から決まる。
type eventPage struct {
	Event       *model.Event
	Description template.HTML
	MapEmbedURL string
	MapHidden   bool
	ToggleURL   string
}

type mapPage struct {
	MapsEnabled bool
	Markers     []event.Marker
}

// Home は今後のイベント一覧を表示する。
// GET /
func (h *EventHandler) Home(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.Upcoming(r.Context(), event.DefaultUpcomingLimit)
	if err != nil {
		slog.Error("failed to list upcoming events", slog.String("error", err.Error()))
		h.render.Error(w, r, http.StatusInternalServerError)
		return
	}
	h.render.Render(w, r, http.StatusOK, "home", "Home Page", &homePage{Events: events})
}

// EventPage はイベント詳細を表示する。
// 住所のリンクは地図の表示状態を反転させた同じページを指す。
// GET /Home/EventPage/{id}?map=visible|hidden
func (h *EventHandler) EventPage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.render.Error(w, r, http.StatusNotFound)
		return
	}

	detail, err := h.service.Get(r.Context(), id)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeEventNotFound {
			h.render.Error(w, r, http.StatusNotFound)
			return
		}
		slog.Error("failed to get event",
			slog.Int64("event_id", id),
			slog.String("error", err.Error()),
		)
		h.render.Error(w, r, http.StatusInternalServerError)
		return
	}

	state := model.ParseMapVisibility(r.URL.Query().Get("map"))
	toggle := url.URL{
		Path:     r.URL.Path,
		RawQuery: url.Values{"map": {string(state.Toggle())}}.Encode(),
	}

	h.render.Render(w, r, http.StatusOK, "event", detail.Event.Name, &eventPage{
		Event: detail.Event,
		// bluemondayでサニタイズ済み
		Description: template.HTML(detail.DescriptionHTML),
		MapEmbedURL: detail.MapEmbedURL,
		MapHidden:   state.Hidden(),
		ToggleURL:   toggle.String(),
	}, "/static/maptoggle.js")
}

// MapPage は座標解決済みの全イベントを1枚の地図に表示する。
// GET /Map/Mappage
func (h *EventHandler) MapPage(w http.ResponseWriter, r *http.Request) {
	markers, err := h.service.Markers(r.Context())
	if err != nil {
		slog.Error("failed to list markers", slog.String("error", err.Error()))
		h.render.Error(w, r, http.StatusInternalServerError)
		return
	}

	page := &mapPage{MapsEnabled: h.maps.Enabled(), Markers: markers}
	var scripts []string
	if page.MapsEnabled {
		// map.jsでコールバックを定義してからAPIスクリプトを読み込む
		scripts = []string{"/static/map.js", h.maps.ScriptURL(allEventsMapCallback)}
	}
	h.render.Render(w, r, http.StatusOK, "map", "Map", page, scripts...)
}

// Markers は全イベント地図のマーカーをJSONで返す。
// GET /api/events/markers
func (h *EventHandler) Markers(w http.ResponseWriter, r *http.Request) {
	markers, err := h.service.Markers(r.Context())
	if err != nil {
		slog.Error("failed to list markers", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(markers); err != nil {
		slog.Error("failed to encode markers", slog.String("error", err.Error()))
	}
}
