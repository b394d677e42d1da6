package services

import (
	"context"
	"time"
)

// Progress describes a status change inside a running call.
type Progress struct {
	Step     string        `json:"step"`
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"-"`
	Millis   int64         `json:"duration_ms,omitempty"`
}

// ProgressFunc receives progress updates. Implementations must be safe for
// concurrent use; parallel workflow steps report from their own goroutines.
type ProgressFunc func(Progress)

// WithProgress attaches a progress reporter to the context.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey, fn)
}

// ReportProgress forwards p to the reporter on ctx, if any.
func ReportProgress(ctx context.Context, p Progress) {
	fn, ok := ctx.Value(progressKey).(ProgressFunc)
	if !ok || fn == nil {
		return
	}
	if p.Duration > 0 && p.Millis == 0 {
		p.Millis = p.Duration.Milliseconds()
	}
	fn(p)
}
