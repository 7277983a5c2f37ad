package sim

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerStartAndGet(t *testing.T) {
	m := NewManager(zerolog.Nop(), nil, Hooks{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.Deadline = 0.5
	r := m.Start(ctx, cfg)
	require.NotEmpty(t, r.ID)

	got, err := m.Get(r.ID)
	require.NoError(t, err)
	assert.Same(t, r, got)

	_, err = m.Get("no-such-run")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestManagerCancelAll(t *testing.T) {
	m := NewManager(zerolog.Nop(), nil, Hooks{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r1 := m.Start(ctx, testConfig())
	r2 := m.Start(ctx, testConfig())

	m.CancelAll()

	assert.Equal(t, StatusCanceled, r1.Status())
	assert.Equal(t, StatusCanceled, r2.Status())
}

func TestManagerRunEndsWithContext(t *testing.T) {
	m := NewManager(zerolog.Nop(), nil, Hooks{})

	ctx, cancel := context.WithCancel(context.Background())
	r := m.Start(ctx, testConfig())
	cancel()

	require.Eventually(t, func() bool {
		return r.Status() == StatusCanceled
	}, 2*time.Second, 10*time.Millisecond)
}
