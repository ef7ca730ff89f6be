// Package tour implements the viewer-side runtime: a per-viewer session state
// machine over an immutable scene graph snapshot, and the hotspot interaction
// engine that turns clicks into transitions or info panels.
package tour

import "errors"

// LoadState is the scene-load lifecycle of a session.
type LoadState string

const (
	LoadIdle    LoadState = "idle"
	LoadLoading LoadState = "loading"
	LoadReady   LoadState = "ready"
	LoadError   LoadState = "error"
)

// Session errors.
var (
	// ErrLoadFailed wraps a failed published-scene fetch.
	ErrLoadFailed = errors.New("failed to load tour")
	// ErrNoScenes is returned when the published list is empty.
	ErrNoScenes = errors.New("tour has no published scenes")
	// ErrMediaUnavailable is returned when a scene's panorama cannot be confirmed.
	ErrMediaUnavailable = errors.New("scene media unavailable")
	// ErrNotRetryable is returned by Retry outside the error state.
	ErrNotRetryable = errors.New("session is not in an error state")
	// ErrSuperseded is returned when a newer request took over the slot.
	ErrSuperseded = errors.New("request superseded")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
	// ErrFullscreenUnsupported is returned when no fullscreen host is attached.
	ErrFullscreenUnsupported = errors.New("fullscreen not supported")
)

// ViewMode holds the orthogonal display toggles.
type ViewMode struct {
	MapVisible  bool `json:"map_visible"`
	InfoVisible bool `json:"info_visible"`
	Fullscreen  bool `json:"fullscreen"`
}

// State is a point-in-time copy of a session. Version increases with every
// change so consumers can drop out-of-order snapshots.
type State struct {
	Version            uint64    `json:"version"`
	CurrentSceneID     string    `json:"current_scene_id,omitempty"`
	LoadState          LoadState `json:"load_state"`
	ViewMode           ViewMode  `json:"view_mode"`
	ActiveHotspotModal string    `json:"active_hotspot_modal,omitempty"`
	Error              string    `json:"error,omitempty"`
}

// Outcome reports how a transition request was handled. Only
// OutcomeTransitioned changes the current scene.
type Outcome string

const (
	OutcomeTransitioned Outcome = "transitioned"
	OutcomeSameScene    Outcome = "same_scene"
	OutcomeUnresolved   Outcome = "unresolved"
	OutcomeInFlight     Outcome = "in_flight"
	OutcomeNotReady     Outcome = "not_ready"
	OutcomeSuperseded   Outcome = "superseded"
	OutcomeFailed       Outcome = "failed"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeInfoShown    Outcome = "info_shown"
)

// Rejected reports whether the request was dropped without side effects.
func (o Outcome) Rejected() bool {
	switch o {
	case OutcomeSameScene, OutcomeUnresolved, OutcomeInFlight, OutcomeNotReady, OutcomeIgnored:
		return true
	}
	return false
}

// Keyboard bindings for sequential navigation.
const (
	KeyNext     = "ArrowRight"
	KeyPrevious = "ArrowLeft"
)
