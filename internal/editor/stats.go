package editor

import (
	"fmt"
	"strings"

	"github.com/onnwee/panotour/internal/scene"
)

// Status selects scenes by publish state.
type Status string

const (
	StatusAll       Status = "all"
	StatusPublished Status = "published"
	StatusDraft     Status = "draft"
)

// ParseStatus accepts "", "all", "published" and "draft".
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case "", StatusAll:
		return StatusAll, nil
	case StatusPublished:
		return StatusPublished, nil
	case StatusDraft, "drafts":
		return StatusDraft, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Filter narrows the admin scene list.
type Filter struct {
	Status Status
	// Query matches title or description, case-insensitively.
	Query string
}

// Apply returns the scenes of list that pass f, preserving order.
func (f Filter) Apply(list []scene.Scene) []scene.Scene {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	out := make([]scene.Scene, 0, len(list))
	for _, s := range list {
		switch f.Status {
		case StatusPublished:
			if !s.Published {
				continue
			}
		case StatusDraft:
			if s.Published {
				continue
			}
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(s.Title), q) &&
			!strings.Contains(strings.ToLower(s.Description), q) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Stats summarizes the whole tour for the admin dashboard.
type Stats struct {
	Total     int `json:"total"`
	Published int `json:"published"`
	Drafts    int `json:"drafts"`
	Hotspots  int `json:"hotspots"`
}

// ComputeStats counts scenes and hotspots in list.
func ComputeStats(list []scene.Scene) Stats {
	st := Stats{Total: len(list)}
	for _, s := range list {
		if s.Published {
			st.Published++
		} else {
			st.Drafts++
		}
		st.Hotspots += len(s.Hotspots)
	}
	return st
}
