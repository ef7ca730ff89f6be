package geometry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidBounds is returned when map bounds are empty or inverted.
var ErrInvalidBounds = errors.New("invalid map bounds")

// LatLng is a geographic coordinate in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// MapBounds is the geographic rectangle shown by the map overlay.
type MapBounds struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// DefaultMapBounds covers the default campus footprint.
var DefaultMapBounds = MapBounds{
	MinLat: 18.5200,
	MinLng: 73.8550,
	MaxLat: 18.5220,
	MaxLng: 73.8600,
}

// Validate checks that the bounds describe a non-empty rectangle.
func (b MapBounds) Validate() error {
	if !(b.MaxLat > b.MinLat) || !(b.MaxLng > b.MinLng) {
		return fmt.Errorf("%w: %+v", ErrInvalidBounds, b)
	}
	return nil
}

// ParseMapBounds parses "min_lat,min_lng,max_lat,max_lng".
func ParseMapBounds(s string) (MapBounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return MapBounds{}, fmt.Errorf("%w: expected 4 comma-separated values, got %d", ErrInvalidBounds, len(parts))
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return MapBounds{}, fmt.Errorf("%w: %v", ErrInvalidBounds, err)
		}
		vals[i] = v
	}
	b := MapBounds{MinLat: vals[0], MinLng: vals[1], MaxLat: vals[2], MaxLng: vals[3]}
	if err := b.Validate(); err != nil {
		return MapBounds{}, err
	}
	return b, nil
}

// String formats the bounds in the form ParseMapBounds accepts.
func (b MapBounds) String() string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return f(b.MinLat) + "," + f(b.MinLng) + "," + f(b.MaxLat) + "," + f(b.MaxLng)
}

// MapPosition places a scene marker on the map overlay. Scenes with
// coordinates are projected into bounds and clamped to the overlay band.
// Scenes without coordinates fall back to a grid slot derived from their
// index among count markers.
func MapPosition(coords *LatLng, b MapBounds, index, count int) OverlayPoint {
	if coords != nil && b.Validate() == nil {
		x := (coords.Lng - b.MinLng) / (b.MaxLng - b.MinLng) * 100
		y := (b.MaxLat - coords.Lat) / (b.MaxLat - b.MinLat) * 100
		return OverlayPoint{
			X: clamp(x, OverlayMin, OverlayMax),
			Y: clamp(y, OverlayMin, OverlayMax),
		}
	}
	return gridPosition(index, count)
}

func gridPosition(index, count int) OverlayPoint {
	if count < 1 {
		count = 1
	}
	cols := int(math.Ceil(math.Sqrt(float64(count))))
	rows := int(math.Ceil(float64(count) / float64(cols)))
	row := index / cols
	col := index % cols
	return OverlayPoint{
		X: 15 + float64(col)*70/float64(max(1, cols-1)),
		Y: 20 + float64(row)*60/float64(max(1, rows-1)),
	}
}
