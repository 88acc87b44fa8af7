package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flaky fails the first n writes.
type flaky struct {
	Store
	failures int
	calls    int
}

func (f *flaky) Update(ctx context.Context, values map[string]any) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection reset")
	}
	return f.Store.Update(ctx, values)
}

func (f *flaky) Write(ctx context.Context, path string, value any) error {
	return f.Update(ctx, map[string]any{path: value})
}

func TestRetryingRecoversTransientFailures(t *testing.T) {
	mem := NewMemory(nil)
	defer mem.Close()
	f := &flaky{Store: mem, failures: 2}
	r := NewRetrying(f, 3, time.Millisecond, nil)

	require.NoError(t, r.Write(context.Background(), "/users/u1/Nom", "Alice"))
	assert.Equal(t, 3, f.calls)

	snap, err := r.Get(context.Background(), "/users/u1/Nom")
	require.NoError(t, err)
	assert.Equal(t, "Alice", snap.Value())
}

func TestRetryingGivesUp(t *testing.T) {
	mem := NewMemory(nil)
	defer mem.Close()
	f := &flaky{Store: mem, failures: 10}
	r := NewRetrying(f, 2, time.Millisecond, nil)

	err := r.Update(context.Background(), map[string]any{"/a": 1})
	require.Error(t, err)
	assert.Equal(t, 3, f.calls)
}

func TestRetryingDoesNotRetryPermanentErrors(t *testing.T) {
	mem := NewMemory(nil)
	defer mem.Close()
	r := NewRetrying(mem, 5, time.Millisecond, nil)

	err := r.Write(context.Background(), "/bad.path", 1)
	require.ErrorIs(t, err, ErrInvalidPath)
}
