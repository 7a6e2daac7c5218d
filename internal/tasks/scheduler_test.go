package tasks

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa911/stackctl/internal/logging"
)

func TestScheduler_Add(t *testing.T) {
	s := NewScheduler()
	ctx := context.Background()
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add(ctx, "backup", "0 3 * * *", noop))
	require.NoError(t, s.Add(ctx, "health", "@every 5m", noop))
	require.NoError(t, s.Add(ctx, "disabled", "", noop))

	assert.Error(t, s.Add(ctx, "broken", "61 * * * *", noop))
	assert.Error(t, s.Add(ctx, "backup", "0 4 * * *", noop))

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"backup", "health"}, s.Names())

	next := s.NextRuns()
	require.Contains(t, next, "backup")
	assert.Equal(t, 3, next["backup"].Hour())
	assert.True(t, next["health"].After(time.Now()))
}

func TestScheduler_RunsJobsUntilCanceled(t *testing.T) {
	s := NewScheduler()
	ctx, cancel := context.WithCancel(context.Background())

	ran := make(chan struct{}, 10)
	require.NoError(t, s.Add(ctx, "tick", "@every 1s", func(context.Context) error {
		ran <- struct{}{}
		return errors.New("logged, not fatal")
	}))

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_StopIsLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewLogger(&logging.Config{Level: logging.LevelInfo, NoColor: true, Output: &buf})
	require.NoError(t, err)
	logging.SetGlobalLogger(logger)

	s := NewScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Add(ctx, "backup", "0 3 * * *", func(context.Context) error { return nil }))

	cancel()
	s.Run(ctx)
	s.Stop()

	assert.Equal(t, 1, strings.Count(buf.String(), "Scheduler stopped"))
}
