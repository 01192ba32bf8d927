// Package activity keeps an audit trail of notable storefront actions.
package activity

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// ActorKind tells who performed an action.
type ActorKind string

const (
	ActorUser   ActorKind = "user"
	ActorAdmin  ActorKind = "admin"
	ActorSystem ActorKind = "system"
)

// Entry is a single audit record.
type Entry struct {
	ID        int64
	ActorID   string
	ActorKind ActorKind
	Action    string
	Subject   string
	Details   map[string]any
	CreatedAt time.Time
}

// Repository persists audit records.
type Repository interface {
	Add(ctx context.Context, e *Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// Recorder accepts audit records. Implementations must not block the caller
// on storage and must not report failures.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}

// AsyncRecorder writes entries from a background goroutine with a detached
// context so that request cancellation does not drop them.
type AsyncRecorder struct {
	repo    Repository
	timeout time.Duration
	now     func() time.Time
	spawn   func(func())
}

// NewAsyncRecorder creates an AsyncRecorder.
func NewAsyncRecorder(repo Repository, timeout time.Duration) *AsyncRecorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AsyncRecorder{
		repo:    repo,
		timeout: timeout,
		now:     time.Now,
		spawn:   func(f func()) { go f() },
	}
}

// Record stores e in the background. Failures are logged.
func (r *AsyncRecorder) Record(ctx context.Context, e Entry) {
	lg := zctx.From(ctx)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	r.spawn(func() {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		if err := r.repo.Add(wctx, &e); err != nil {
			lg.Warn("Record activity",
				zap.String("action", e.Action),
				zap.String("subject", e.Subject),
				zap.Error(err),
			)
		}
	})
}
