package audit

import (
	"context"

	"github.com/onnwee/panotour/internal/auth"
	"github.com/onnwee/panotour/internal/middleware"
)

// Record appends an entry for action on sceneID. The actor and request id
// come from ctx; a non-nil cause marks the outcome as failure and its text
// becomes the detail.
func Record(ctx context.Context, repo Repository, action, sceneID string, cause error) (*Entry, error) {
	if repo == nil {
		return nil, ErrNilRepository
	}

	entry := LogEntry{
		SceneID:   sceneID,
		Action:    action,
		Outcome:   OutcomeSuccess,
		RequestID: middleware.GetRequestID(ctx),
	}
	if p, ok := auth.CurrentUser(ctx); ok {
		entry.ActorID = p.ID
	}
	if cause != nil {
		entry.Outcome = OutcomeFailure
		entry.Detail = cause.Error()
	}
	return repo.Append(ctx, entry)
}
