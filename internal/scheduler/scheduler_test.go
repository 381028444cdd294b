package scheduler

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	calls atomic.Int32
	err   error
	ctx   context.Context
}

func (f *fakeRefresher) RequestRefresh(ctx context.Context) error {
	f.calls.Add(1)
	f.ctx = ctx
	return f.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestStart_RejectsShortInterval(t *testing.T) {
	s := NewScheduler(context.Background(), &fakeRefresher{}, 30*time.Second, quietLogger())

	err := s.Start()

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntervalTooShort)
}

func TestStartAndReschedule(t *testing.T) {
	s := NewScheduler(context.Background(), &fakeRefresher{}, time.Hour, quietLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	next := s.Next()
	assert.WithinDuration(t, time.Now().Add(time.Hour), next, 5*time.Second)
	assert.Equal(t, time.Hour, s.Interval())

	require.NoError(t, s.Reschedule(2*time.Hour))
	assert.Equal(t, 2*time.Hour, s.Interval())
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), s.Next(), 5*time.Second)

	err := s.Reschedule(time.Second)
	require.ErrorIs(t, err, ErrIntervalTooShort)
	assert.Equal(t, 2*time.Hour, s.Interval(), "failed reschedule keeps the old interval")
}

func TestReschedule_SameIntervalIsNoop(t *testing.T) {
	s := NewScheduler(context.Background(), &fakeRefresher{}, time.Hour, quietLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	before := s.Next()
	require.NoError(t, s.Reschedule(time.Hour))
	assert.Equal(t, before, s.Next())
}

func TestNext_BeforeStart(t *testing.T) {
	s := NewScheduler(context.Background(), &fakeRefresher{}, time.Hour, quietLogger())
	assert.True(t, s.Next().IsZero())
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "success"},
		{name: "failure is swallowed", err: errors.New("upstream down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refresher := &fakeRefresher{err: tt.err}
			s := NewScheduler(context.Background(), refresher, time.Hour, quietLogger())

			assert.NotPanics(t, s.refresh)
			assert.EqualValues(t, 1, refresher.calls.Load())

			deadline, ok := refresher.ctx.Deadline()
			require.True(t, ok, "scheduled refresh runs with a deadline")
			assert.WithinDuration(t, time.Now().Add(refreshTimeout), deadline, 5*time.Second)
		})
	}
}
