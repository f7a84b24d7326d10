package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// DefaultGeocodeEndpoint はGoogle Geocoding APIのエンドポイント。
const DefaultGeocodeEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

// maxResponseSize はジオコーディング応答の読み取り上限。
const maxResponseSize = 1 << 20

// ErrAddressNotFound は住所に該当する座標が無い（ZERO_RESULTS）場合に返される。
var ErrAddressNotFound = errors.New("mapping: address not found")

// Location は緯度経度。
type Location struct {
	Lat              float64
	Lng              float64
	FormattedAddress string
}

// Geocoder はGoogle Geocoding APIのクライアント。
type Geocoder struct {
	httpClient *http.Client
	logger     *slog.Logger
	apiKey     string
	endpoint   string
}

// NewGeocoder はGeocoderを生成する。
// httpClientにはSSRF防止機能付きのクライアントを渡す。
func NewGeocoder(httpClient *http.Client, logger *slog.Logger, apiKey, endpoint string) *Geocoder {
	if endpoint == "" {
		endpoint = DefaultGeocodeEndpoint
	}
	return &Geocoder{
		httpClient: httpClient,
		logger:     logger,
		apiKey:     apiKey,
		endpoint:   endpoint,
	}
}

type geocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode は住所を座標に変換する。先頭の候補を返す。
// 該当なしの場合はErrAddressNotFoundを返す。
func (g *Geocoder) Geocode(ctx context.Context, address string) (*Location, error) {
	if address == "" {
		return nil, ErrAddressNotFound
	}

	reqURL, err := url.Parse(g.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid geocode endpoint: %w", err)
	}
	q := reqURL.Query()
	q.Set("address", address)
	q.Set("key", g.apiKey)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create geocode request: %w", err)
	}
	req.Header.Set("User-Agent", "MapApp/1.0")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Error("geocoding request failed", slog.String("error", err.Error()))
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.logger.Error("geocoding API returned error status", slog.Int("http_status", resp.StatusCode))
		return nil, fmt.Errorf("geocoding API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read geocode response: %w", err)
	}

	var result geocodeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse geocode response: %w", err)
	}

	switch result.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, ErrAddressNotFound
	default:
		return nil, fmt.Errorf("geocoding API status %s: %s", result.Status, result.ErrorMessage)
	}
	if len(result.Results) == 0 {
		return nil, ErrAddressNotFound
	}

	first := result.Results[0]
	return &Location{
		Lat:              first.Geometry.Location.Lat,
		Lng:              first.Geometry.Location.Lng,
		FormattedAddress: first.FormattedAddress,
	}, nil
}
