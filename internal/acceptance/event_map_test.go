// Package acceptance はブラウザ操作に相当するシナリオを、実サーバー（httptest）と
// HTMLパーサーで検証する。
package acceptance

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/hitoshi/mapapp/internal/event"
	"github.com/hitoshi/mapapp/internal/handler"
	"github.com/hitoshi/mapapp/internal/mapping"
	"github.com/hitoshi/mapapp/internal/model"
	"github.com/hitoshi/mapapp/internal/security"
)

// --- インメモリのイベントストア ---

type memoryEventStore struct {
	events map[int64]*model.Event
}

func (s *memoryEventStore) FindByID(ctx context.Context, id int64) (*model.Event, error) {
	return s.events[id], nil
}

func (s *memoryEventStore) ListUpcoming(ctx context.Context, from time.Time, limit int) ([]*model.Event, error) {
	var out []*model.Event
	for _, e := range s.events {
		if !e.StartsAt.Before(from) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryEventStore) ListGeocoded(ctx context.Context) ([]*model.Event, error) {
	var out []*model.Event
	for _, e := range s.events {
		if e.HasLocation() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type anonymousSessions struct{}

func (anonymousSessions) CurrentUser(ctx context.Context, sessionID string) (*model.IdentityUser, error) {
	return nil, nil
}

func ptr[T any](v T) *T { return &v }

// newTestServer はイベント閲覧に必要な実コンポーネントでサーバーを起動する。
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := &memoryEventStore{events: map[int64]*model.Event{
		24: {
			ID:          24,
			Name:        "EventInfo",
			Description: `<p>Meet at the <strong>front gate</strong>.</p><script>alert("x")</script>`,
			Address:     "1600 Amphitheatre Parkway, Mountain View, CA",
			StartsAt:    time.Now().Add(72 * time.Hour),
			Latitude:    ptr(37.4220),
			Longitude:   ptr(-122.0841),
		},
		25: {
			ID:       25,
			Name:     "Not Yet Geocoded",
			Address:  "Somewhere",
			StartsAt: time.Now().Add(96 * time.Hour),
		},
	}}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	renderer, err := handler.NewRenderer(nil, logger)
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	maps := mapping.NewProvider("test-maps-key")

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:        logger,
		SessionFinder: anonymousSessions{},
		Renderer:      renderer,
		Events:        event.NewService(store, security.NewDescriptionSanitizer(), maps),
		Maps:          maps,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

// browser はCookieを保持し、ページを取得してDOMとして返す。
type browser struct {
	t      *testing.T
	base   *url.URL
	client *http.Client
}

func newBrowser(t *testing.T, srv *httptest.Server) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New() error = %v", err)
	}
	base, _ := url.Parse(srv.URL)
	return &browser{t: t, base: base, client: &http.Client{Jar: jar}}
}

func (b *browser) visit(ref string) *html.Node {
	b.t.Helper()
	target, err := b.base.Parse(ref)
	if err != nil {
		b.t.Fatalf("invalid url %q: %v", ref, err)
	}
	resp, err := b.client.Get(target.String())
	if err != nil {
		b.t.Fatalf("GET %s: %v", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b.t.Fatalf("GET %s status = %d, want %d", target, resp.StatusCode, http.StatusOK)
	}
	doc, err := html.Parse(resp.Body)
	if err != nil {
		b.t.Fatalf("failed to parse %s: %v", target, err)
	}
	return doc
}

// click は要素のhrefを辿る。スクリプト無効のブラウザでのクリックに相当する。
func (b *browser) click(doc *html.Node, id string) *html.Node {
	b.t.Helper()
	el := mustFindByID(b.t, doc, id)
	href, ok := attr(el, "href")
	if !ok {
		b.t.Fatalf("#%s has no href", id)
	}
	return b.visit(href)
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		if v, ok := attr(n, "id"); ok && v == id {
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func mustFindByID(t *testing.T, doc *html.Node, id string) *html.Node {
	t.Helper()
	el := findByID(doc, id)
	if el == nil {
		t.Fatalf("element #%s not found", id)
	}
	return el
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// isVisible は要素自身と祖先にhidden属性が無いかを返す。
func isVisible(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		if _, hidden := attr(n, "hidden"); hidden {
			return false
		}
	}
	return true
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

// --- シナリオ ---

func TestEventPage_AddressTogglesMap(t *testing.T) {
	srv := newTestServer(t)
	b := newBrowser(t, srv)

	// イベントページを開くと地図要素が存在し、初期状態は非表示
	doc := b.visit("/Home/EventPage/24")
	eventMap := mustFindByID(t, doc, "event-map")
	if isVisible(eventMap) {
		t.Fatal("map should be hidden when the page is opened")
	}
	if got := textContent(mustFindByID(t, doc, "event-address")); got != "1600 Amphitheatre Parkway, Mountain View, CA" {
		t.Errorf("address text = %q", got)
	}

	// 住所をクリックすると地図が表示される
	doc = b.click(doc, "event-address")
	eventMap = mustFindByID(t, doc, "event-map")
	if !isVisible(eventMap) {
		t.Fatal("map should be visible after clicking the address")
	}

	// もう一度クリックすると非表示に戻る
	doc = b.click(doc, "event-address")
	if isVisible(mustFindByID(t, doc, "event-map")) {
		t.Fatal("map should be hidden after clicking the address again")
	}
}

func TestEventPage_RendersEmbeddedMapAndSanitizedDescription(t *testing.T) {
	srv := newTestServer(t)
	b := newBrowser(t, srv)

	doc := b.visit("/Home/EventPage/24?map=visible")
	eventMap := mustFindByID(t, doc, "event-map")

	var iframe *html.Node
	for c := eventMap.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "iframe" {
			iframe = c
		}
	}
	if iframe == nil {
		t.Fatal("map container should contain an iframe")
	}
	src, _ := attr(iframe, "src")
	u, err := url.Parse(src)
	if err != nil {
		t.Fatalf("invalid iframe src %q: %v", src, err)
	}
	if u.Host != "www.google.com" || u.Query().Get("q") != "1600 Amphitheatre Parkway, Mountain View, CA" {
		t.Errorf("iframe src = %q", src)
	}

	name := mustFindByID(t, doc, "event-name")
	if textContent(name) != "EventInfo" {
		t.Errorf("event name = %q", textContent(name))
	}

	var scripts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "script" {
			if v, ok := attr(n, "src"); ok {
				scripts = append(scripts, v)
			} else {
				scripts = append(scripts, "inline")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	for _, s := range scripts {
		if s == "inline" {
			t.Error("description script must be removed by the sanitizer")
		}
	}
}

func TestEventPage_UnknownEvent(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/Home/EventPage/9999", "/Home/EventPage/abc"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want %d", path, resp.StatusCode, http.StatusNotFound)
		}
	}
}

func TestAllEventsMap_MarkersOnlyForGeocodedEvents(t *testing.T) {
	srv := newTestServer(t)
	b := newBrowser(t, srv)

	doc := b.visit("/Map/Mappage")
	container := mustFindByID(t, doc, "all-events-map")
	markersURL, ok := attr(container, "data-markers-url")
	if !ok {
		t.Fatal("map container should point at the markers endpoint")
	}

	resp, err := b.client.Get(srv.URL + markersURL)
	if err != nil {
		t.Fatalf("GET %s: %v", markersURL, err)
	}
	defer resp.Body.Close()

	var markers []event.Marker
	if err := json.NewDecoder(resp.Body).Decode(&markers); err != nil {
		t.Fatalf("failed to decode markers: %v", err)
	}
	if len(markers) != 1 || markers[0].ID != 24 {
		t.Fatalf("markers = %+v, want only event 24", markers)
	}
	if markers[0].Lat != 37.4220 || markers[0].Lng != -122.0841 {
		t.Errorf("marker position = (%v, %v)", markers[0].Lat, markers[0].Lng)
	}
}
