package model

import "time"

// Event は公開されたイベントを表す。
// ページからは読み取り専用で扱う。
type Event struct {
	ID              int64
	Name            string
	Description     string // サニタイズ済みHTML
	Address         string
	StartsAt        time.Time
	EndsAt          *time.Time
	OrganizerID     *int64
	Latitude        *float64
	Longitude       *float64
	GeocodedAt      *time.Time
	GeocodeFailures int
	CreatedAt       time.Time
}

// HasLocation は座標が解決済みかを返す。
func (e *Event) HasLocation() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// MapVisibility はイベントページ上の地図の表示状態を表す。
// 初期状態はMapHiddenで、住所のクリックごとに切り替わる。
type MapVisibility string

const (
	// MapHidden は地図が非表示の状態。
	MapHidden MapVisibility = "hidden"
	// MapVisible は地図が表示されている状態。
	MapVisible MapVisibility = "visible"
)

// ParseMapVisibility はクエリパラメータの値から表示状態を決定する。
// "visible"以外はすべて初期状態（MapHidden）として扱う。
func ParseMapVisibility(s string) MapVisibility {
	if s == string(MapVisible) {
		return MapVisible
	}
	return MapHidden
}

// Toggle は住所クリック時の遷移先の状態を返す。
func (v MapVisibility) Toggle() MapVisibility {
	if v == MapVisible {
		return MapHidden
	}
	return MapVisible
}

// Hidden は地図要素にhidden属性を付与すべきかを返す。
func (v MapVisibility) Hidden() bool {
	return v != MapVisible
}
