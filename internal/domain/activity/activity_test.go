package activity

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	entries []Entry
	ctxErr  error
	err     error
}

func (m *memRepo) Add(ctx context.Context, e *Entry) error {
	m.ctxErr = ctx.Err()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memRepo) Recent(context.Context, int) ([]Entry, error) { return m.entries, nil }

func TestAsyncRecorder_DetachesFromRequestContext(t *testing.T) {
	repo := &memRepo{}
	r := NewAsyncRecorder(repo, time.Second)
	var pending []func()
	r.spawn = func(f func()) { pending = append(pending, f) }
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	r.Record(ctx, Entry{ActorID: "a1", ActorKind: ActorAdmin, Action: "order.status", Subject: "o1"})
	cancel()

	require.Len(t, pending, 1)
	pending[0]()

	require.Len(t, repo.entries, 1)
	assert.NoError(t, repo.ctxErr)
	assert.Equal(t, now, repo.entries[0].CreatedAt)
	assert.Equal(t, "order.status", repo.entries[0].Action)
}

func TestAsyncRecorder_SwallowsErrors(t *testing.T) {
	repo := &memRepo{err: errors.New("db down")}
	r := NewAsyncRecorder(repo, 0)
	r.spawn = func(f func()) { f() }

	assert.NotPanics(t, func() {
		r.Record(context.Background(), Entry{Action: "x"})
	})
	assert.Empty(t, repo.entries)
}
