package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Error classes reported by ErrorType.
const (
	ErrorTypeTimeout  = "timeout"
	ErrorTypeCanceled = "canceled"
	ErrorTypeInternal = "internal"
)

// Job is a unit of periodic background work.
type Job struct {
	Type     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// ErrorType classifies a job error for the error counter.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	default:
		return ErrorTypeInternal
	}
}

// RunOnce executes job.Run once and records the outcome on m, which may
// be nil.
func RunOnce(ctx context.Context, job Job, m *Metrics) error {
	start := time.Now()
	err := job.Run(ctx)
	end := time.Now()
	m.Observe(job.Type, end.Sub(start), end, err)
	return err
}

// Every runs job immediately and then once per job.Interval until ctx is
// done. Failures are logged and do not stop the loop. It blocks and should
// typically be run in a goroutine.
func Every(ctx context.Context, job Job, m *Metrics, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		if err := RunOnce(ctx, job, m); err != nil && ctx.Err() == nil {
			logger.ErrorContext(ctx, "background job failed", "job_type", job.Type, "error", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			logger.Info("stopping background job", "job_type", job.Type)
			return
		}
	}
}
