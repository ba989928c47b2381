package dispatchregistry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticerun/dispatcher/pkg/models"
	"github.com/latticerun/dispatcher/pkg/result"
)

func TestRegistry_Insert_DuplicateErrors(t *testing.T) {
	r := New()
	res := result.New("d-1")
	require.NoError(t, r.Insert("d-1", res))

	err := r.Insert("d-1", res)
	assert.ErrorIs(t, err, models.ErrRegistryEntryExists)
}

func TestRegistry_Await_UnknownDispatch(t *testing.T) {
	r := New()
	_, err := r.Await(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrRegistryEntryNotFound)
}

func TestRegistry_MarkTerminal_ReleasesAwaiter(t *testing.T) {
	r := New()
	res := result.New("d-1")
	require.NoError(t, r.Insert("d-1", res))

	var wg sync.WaitGroup
	wg.Add(1)
	var got *result.Result
	go func() {
		defer wg.Done()
		got, _ = r.Await(context.Background(), "d-1")
	}()

	time.Sleep(10 * time.Millisecond)
	r.MarkTerminal("d-1")
	wg.Wait()

	assert.Same(t, res, got)
}

func TestRegistry_MarkTerminal_IsIdempotent(t *testing.T) {
	r := New()
	res := result.New("d-1")
	require.NoError(t, r.Insert("d-1", res))

	assert.NotPanics(t, func() {
		r.MarkTerminal("d-1")
		r.MarkTerminal("d-1")
	})
}

func TestRegistry_MarkTerminal_UnknownDispatchIsNoop(t *testing.T) {
	r := New()
	assert.NotPanics(t, func() { r.MarkTerminal("missing") })
}

func TestRegistry_Await_ContextCancelled(t *testing.T) {
	r := New()
	res := result.New("d-1")
	require.NoError(t, r.Insert("d-1", res))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Await(ctx, "d-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry_Remove(t *testing.T) {
	r := New()
	res := result.New("d-1")
	require.NoError(t, r.Insert("d-1", res))
	r.Remove("d-1")

	_, err := r.Await(context.Background(), "d-1")
	assert.ErrorIs(t, err, models.ErrRegistryEntryNotFound)
}
