// Package mapping は地図プロバイダー（Google Maps）との連携を提供する。
// 埋め込み地図URLの生成と、住所から座標を求めるジオコーディングを含む。
package mapping

import (
	"net/url"
	"strings"
)

const (
	defaultEmbedEndpoint = "https://www.google.com/maps/embed/v1/place"
	defaultScriptURL     = "https://maps.googleapis.com/maps/api/js"
)

// Provider は地図ウィジェットのURLを生成する。
type Provider struct {
	apiKey        string
	embedEndpoint string
}

// NewProvider はProviderを生成する。apiKeyが空の場合、地図は表示されない。
func NewProvider(apiKey string) *Provider {
	return &Provider{apiKey: apiKey, embedEndpoint: defaultEmbedEndpoint}
}

// Enabled はAPIキーが設定されているかを返す。
func (p *Provider) Enabled() bool {
	return p.apiKey != ""
}

// EmbedURL は住所を中心にした埋め込み地図（iframe）のURLを返す。
// 住所が空、またはAPIキー未設定の場合は空文字列を返す。
func (p *Provider) EmbedURL(address string) string {
	address = strings.TrimSpace(address)
	if address == "" || !p.Enabled() {
		return ""
	}
	q := url.Values{
		"key": {p.apiKey},
		"q":   {address},
	}
	return p.embedEndpoint + "?" + q.Encode()
}

// ScriptURL は全イベント地図ページで読み込むMaps JavaScript APIのURLを返す。
func (p *Provider) ScriptURL(callback string) string {
	if !p.Enabled() {
		return ""
	}
	q := url.Values{"key": {p.apiKey}}
	if callback != "" {
		q.Set("callback", callback)
	}
	return defaultScriptURL + "?" + q.Encode()
}
