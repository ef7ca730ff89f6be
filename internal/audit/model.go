// Package audit records admin mutations of the tour in an append-only,
// hash-chained trail for incident review.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Actions recorded by the editor.
const (
	ActionSceneCreate     = "scene_create"
	ActionSceneUpdate     = "scene_update"
	ActionEdgesUpdate     = "scene_edges_update"
	ActionHotspotsReplace = "hotspots_replace"
	ActionSceneDelete     = "scene_delete"
)

// Outcomes of an audited action.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	// ErrNilRepository is returned when a nil repository is passed to Record.
	ErrNilRepository = errors.New("audit repository cannot be nil")
	// ErrInvalidAction is returned for an empty or unknown action.
	ErrInvalidAction = errors.New("invalid audit action")
	// ErrInvalidOutcome is returned for an outcome other than success or failure.
	ErrInvalidOutcome = errors.New("invalid audit outcome")
	// ErrChainBroken is returned by Verify when an entry does not hash to
	// the next entry's PreviousHash.
	ErrChainBroken = errors.New("audit hash chain broken")
)

// ValidActions defines the allowed actions for audit logging.
var ValidActions = map[string]bool{
	ActionSceneCreate:     true,
	ActionSceneUpdate:     true,
	ActionEdgesUpdate:     true,
	ActionHotspotsReplace: true,
	ActionSceneDelete:     true,
}

// Entry is one recorded admin action.
type Entry struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	ActorID   string    `json:"actor_id"`
	SceneID   string    `json:"scene_id,omitempty"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// PreviousHash is the Hash of the entry before this one, empty for the
	// first entry.
	PreviousHash string `json:"previous_hash,omitempty"`
}

// LogEntry is the input for appending an entry.
type LogEntry struct {
	ActorID   string
	SceneID   string
	Action    string
	Outcome   string
	Detail    string
	RequestID string
}

// Validate checks the action and outcome against the allowed sets.
func (l LogEntry) Validate() error {
	if !ValidActions[l.Action] {
		return ErrInvalidAction
	}
	if l.Outcome != OutcomeSuccess && l.Outcome != OutcomeFailure {
		return ErrInvalidOutcome
	}
	return nil
}

// Hash returns the SHA-256 over the entry's fields, including its own
// PreviousHash, so any edit to an earlier entry breaks every later link.
func (e *Entry) Hash() string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{
		e.ID,
		strconv.FormatInt(e.Seq, 10),
		e.ActorID,
		e.SceneID,
		e.Action,
		e.Outcome,
		e.Detail,
		e.RequestID,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		e.PreviousHash,
	}, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks that entries, oldest first, form an unbroken chain.
func Verify(entries []*Entry) error {
	for i := 1; i < len(entries); i++ {
		if entries[i].PreviousHash != entries[i-1].Hash() {
			return ErrChainBroken
		}
	}
	return nil
}
