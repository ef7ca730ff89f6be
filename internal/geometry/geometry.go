// Package geometry maps panorama angles to screen and texture space.
//
// Yaw is canonical in [-180, 180). Every input angle is normalized into that
// range before use, so stored values in [0, 360) and [-180, 180] are both
// accepted.
package geometry

import (
	"errors"
	"fmt"
	"math"
)

// Camera and placement bounds.
const (
	MinPitch = -90.0
	MaxPitch = 90.0

	MinHFOV     = 30.0
	MaxHFOV     = 120.0
	DefaultHFOV = 75.0

	// OverlayMin and OverlayMax keep flat-renderer markers off the very edge.
	OverlayMin = 5.0
	OverlayMax = 95.0

	// OverlayYawScale and OverlayPitchScale are the k and k' factors of the
	// flat placement rule. With these values the full angular range spans the
	// whole overlay before clamping.
	OverlayYawScale   = 100.0
	OverlayPitchScale = 50.0
)

// Validation errors returned at data-entry time.
var (
	ErrNotFinite       = errors.New("angle must be a finite number")
	ErrPitchOutOfRange = errors.New("pitch out of range")
	ErrHFOVOutOfRange  = errors.New("field of view out of range")
)

// YawPitch is an angular position on the panorama sphere in degrees.
type YawPitch struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

// Orientation is the initial camera state of a scene.
type Orientation struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	HFOV  float64 `json:"fov"`
}

// DefaultOrientation is used when a scene carries no camera data.
func DefaultOrientation() Orientation {
	return Orientation{HFOV: DefaultHFOV}
}

// OverlayPoint is a position on the flat overlay, in percent of width/height.
type OverlayPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CameraView is what an immersive renderer consumes.
type CameraView struct {
	YawRad   float64 `json:"yaw_rad"`
	PitchRad float64 `json:"pitch_rad"`
	HFOV     float64 `json:"hfov"`
}

// NormalizeYaw wraps any finite yaw into [-180, 180). Non-finite input
// returns 0.
func NormalizeYaw(yaw float64) float64 {
	if math.IsNaN(yaw) || math.IsInf(yaw, 0) {
		return 0
	}
	y := math.Mod(yaw+180, 360)
	if y < 0 {
		y += 360
	}
	return y - 180
}

// ClampPitch limits pitch to [-90, 90]. NaN becomes 0.
func ClampPitch(pitch float64) float64 {
	if math.IsNaN(pitch) {
		return 0
	}
	return clamp(pitch, MinPitch, MaxPitch)
}

// ClampHFOV limits the horizontal field of view to [30, 120]. Zero or NaN
// means "unset" and yields DefaultHFOV.
func ClampHFOV(hfov float64) float64 {
	if math.IsNaN(hfov) || hfov == 0 {
		return DefaultHFOV
	}
	return clamp(hfov, MinHFOV, MaxHFOV)
}

// Sanitize returns p normalized for rendering. Stored data is never trusted.
func (p YawPitch) Sanitize() YawPitch {
	return YawPitch{Yaw: NormalizeYaw(p.Yaw), Pitch: ClampPitch(p.Pitch)}
}

// Validate reports whether p is acceptable at data-entry time. Yaw may use
// either convention; pitch must already be in range.
func (p YawPitch) Validate() error {
	if !finite(p.Yaw) || !finite(p.Pitch) {
		return ErrNotFinite
	}
	if p.Pitch < MinPitch || p.Pitch > MaxPitch {
		return fmt.Errorf("%w: %g not in [%g, %g]", ErrPitchOutOfRange, p.Pitch, MinPitch, MaxPitch)
	}
	return nil
}

// Sanitize returns o normalized and clamped for rendering.
func (o Orientation) Sanitize() Orientation {
	return Orientation{
		Yaw:   NormalizeYaw(o.Yaw),
		Pitch: ClampPitch(o.Pitch),
		HFOV:  ClampHFOV(o.HFOV),
	}
}

// Validate checks o against the data-entry bounds.
func (o Orientation) Validate() error {
	if err := (YawPitch{Yaw: o.Yaw, Pitch: o.Pitch}).Validate(); err != nil {
		return err
	}
	if !finite(o.HFOV) {
		return ErrNotFinite
	}
	if o.HFOV < MinHFOV || o.HFOV > MaxHFOV {
		return fmt.Errorf("%w: %g not in [%g, %g]", ErrHFOVOutOfRange, o.HFOV, MinHFOV, MaxHFOV)
	}
	return nil
}

// Normalize maps o into the canonical storage form without clamping.
func (o Orientation) Normalize() Orientation {
	o.Yaw = NormalizeYaw(o.Yaw)
	return o
}

// PlaceOnSphere maps an angular position onto the flat overlay used by the
// non-immersive fallback renderer.
func PlaceOnSphere(yaw, pitch float64) OverlayPoint {
	p := YawPitch{Yaw: yaw, Pitch: pitch}.Sanitize()
	x := 50 + (p.Yaw/360)*OverlayYawScale
	y := 50 - (p.Pitch/90)*OverlayPitchScale
	return OverlayPoint{
		X: clamp(x, OverlayMin, OverlayMax),
		Y: clamp(y, OverlayMin, OverlayMax),
	}
}

// FromOverlay is the inverse of PlaceOnSphere for points inside the clamp
// band. Points in the margin map to the angle at the band edge.
func FromOverlay(pt OverlayPoint) YawPitch {
	x := clamp(pt.X, OverlayMin, OverlayMax)
	y := clamp(pt.Y, OverlayMin, OverlayMax)
	return YawPitch{
		Yaw:   NormalizeYaw((x - 50) / OverlayYawScale * 360),
		Pitch: ClampPitch((50 - y) / OverlayPitchScale * 90),
	}
}

// TextureCoord maps an angular position to equirectangular UV coordinates in
// [0, 1]. U grows with yaw, V grows downward from the zenith.
func TextureCoord(yaw, pitch float64) (u, v float64) {
	p := YawPitch{Yaw: yaw, Pitch: pitch}.Sanitize()
	return (p.Yaw + 180) / 360, (90 - p.Pitch) / 180
}

// View converts an orientation to renderer camera rotation.
func View(o Orientation) CameraView {
	s := o.Sanitize()
	return CameraView{
		YawRad:   s.Yaw * math.Pi / 180,
		PitchRad: s.Pitch * math.Pi / 180,
		HFOV:     s.HFOV,
	}
}

// Distance is the euclidean distance between two overlay points.
func Distance(a, b OverlayPoint) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
