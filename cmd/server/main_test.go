package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runFunc func(ctx context.Context) error

func (f runFunc) Run(ctx context.Context) error { return f(ctx) }

type shutdownFunc func(ctx context.Context) error

func (f shutdownFunc) Shutdown(ctx context.Context) error { return f(ctx) }

func captureLogs(t *testing.T) *test.Hook {
	hook := test.NewLocal(logger)
	t.Cleanup(hook.Reset)
	return hook
}

func TestRunReaperLogsFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantLog bool
	}{
		{"Canceled", context.Canceled, false},
		{"Clean exit", nil, false},
		{"Deadline", context.DeadlineExceeded, true},
		{"Store failure", errors.New("redis down"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook := captureLogs(t)
			runReaper(context.Background(), runFunc(func(context.Context) error { return tt.err }))

			if !tt.wantLog {
				assert.Empty(t, hook.AllEntries())
				return
			}
			require.Len(t, hook.AllEntries(), 1)
			entry := hook.LastEntry()
			assert.Equal(t, logrus.ErrorLevel, entry.Level)
			assert.Equal(t, tt.err, entry.Data[logrus.ErrorKey])
		})
	}
}

func TestShutdownOnDoneLogsErrors(t *testing.T) {
	hook := captureLogs(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var gotDeadline bool
	shutdownOnDone(ctx, shutdownFunc(func(ctx context.Context) error {
		_, gotDeadline = ctx.Deadline()
		return context.DeadlineExceeded
	}), time.Second)

	assert.True(t, gotDeadline)
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "Error shutting down server", hook.LastEntry().Message)

	hook.Reset()
	shutdownOnDone(ctx, shutdownFunc(func(context.Context) error { return nil }), time.Second)
	assert.Empty(t, hook.AllEntries())
}
