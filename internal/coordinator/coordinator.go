//go:generate go run github.com/golang/mock/mockgen -destination=./mocks/fetcher.go -package=mocks . Fetcher

// Package coordinator owns the refresh cycle and the latest snapshot of
// reading records.
//
// A refresh fetches the daily readings of one flat, normalizes them into
// records and swaps the cached snapshot in one step. Concurrent refresh
// requests join the refresh already in flight instead of starting another
// one, so readers never see a half written snapshot and the upstream API
// never sees overlapping fetches from one coordinator.
//
// Example usage:
//
//	coord := coordinator.New(client, "Flat 12", logger)
//	if err := coord.FirstRefresh(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	snapshot := coord.Snapshot()
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/tejusbharadwaj/poschodech/internal/api"
	"github.com/tejusbharadwaj/poschodech/internal/models"
)

// ErrSetupFailed wraps the error of a failed first refresh.
var ErrSetupFailed = errors.New("initial refresh failed")

// refreshTimeout bounds one refresh cycle, logins and retry included.
const refreshTimeout = 2 * time.Minute

// Fetcher returns the raw daily readings payload of a flat.
type Fetcher interface {
	FetchLatestForFlat(ctx context.Context, flatName string) (any, error)
}

// Listener is notified after every refresh cycle.
type Listener interface {
	RefreshSucceeded(snapshot *models.Snapshot)
	RefreshFailed(err error)
}

// Observer records refresh outcomes, typically as metrics.
type Observer interface {
	ObserveRefresh(err error, duration time.Duration, records int, at time.Time)
}

// Status describes the refresh state for the host.
type Status struct {
	Ready       bool      `json:"ready"`
	FlatName    string    `json:"flat_name"`
	Records     int       `json:"records"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

type Coordinator struct {
	fetcher  Fetcher
	logger   *logrus.Logger
	observer Observer
	now      func() time.Time

	flatName atomic.Value // string
	snapshot atomic.Pointer[models.Snapshot]
	ready    atomic.Bool
	inflight singleflight.Group

	mu          sync.RWMutex
	listeners   []Listener
	lastErr     error
	lastFailure time.Time
}

// Option customizes a Coordinator
type Option func(*Coordinator)

func WithObserver(observer Observer) Option {
	return func(c *Coordinator) { c.observer = observer }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func New(fetcher Fetcher, flatName string, logger *logrus.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
	}
	c.flatName.Store(flatName)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddListener registers l for refresh notifications. Listeners are called
// synchronously in registration order.
func (c *Coordinator) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// FlatName returns the flat currently being polled.
func (c *Coordinator) FlatName() string {
	return c.flatName.Load().(string)
}

// SetFlatName changes the flat polled by subsequent refreshes.
func (c *Coordinator) SetFlatName(name string) {
	if old := c.FlatName(); old != name {
		c.flatName.Store(name)
		c.logger.WithFields(logrus.Fields{"old": old, "new": name}).Info("Flat name changed")
	}
}

// FirstRefresh performs the synchronous refresh required before the
// coordinator is ready. Its failure is fatal for the caller.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	if _, err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrSetupFailed, err)
	}
	return nil
}

// Ready reports whether at least one refresh has succeeded.
func (c *Coordinator) Ready() bool {
	return c.ready.Load()
}

// Snapshot returns the latest snapshot, or nil before the first success.
// The returned value must not be modified.
func (c *Coordinator) Snapshot() *models.Snapshot {
	return c.snapshot.Load()
}

// LastError returns the error of the latest refresh, nil after a success.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Coordinator) Status() Status {
	c.mu.RLock()
	lastErr, lastFailure := c.lastErr, c.lastFailure
	c.mu.RUnlock()

	st := Status{
		Ready:       c.Ready(),
		FlatName:    c.FlatName(),
		LastFailure: lastFailure,
	}
	if snap := c.Snapshot(); snap != nil {
		st.Records = snap.Len()
		st.LastSuccess = snap.FetchedAt
	}
	if lastErr != nil {
		st.LastError = lastErr.Error()
		st.Reason = api.Classify(lastErr)
	}
	return st
}

// RequestRefresh runs a refresh outside the schedule, e.g. for a user
// action. It joins a refresh that is already running.
func (c *Coordinator) RequestRefresh(ctx context.Context) error {
	_, err := c.Refresh(ctx)
	return err
}

// Refresh fetches and caches a new snapshot. On failure the previous
// snapshot is kept and the error is returned.
//
// The shared refresh runs detached from ctx, bounded by refreshTimeout, so a
// caller that goes away cannot fail it for the others. Such a caller gets
// ctx.Err() and the refresh completes without it.
func (c *Coordinator) Refresh(ctx context.Context) (*models.Snapshot, error) {
	refreshCtx := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan("refresh", func() (any, error) {
		ctx, cancel := context.WithTimeout(refreshCtx, refreshTimeout)
		defer cancel()
		return c.refresh(ctx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.logger.Debug("Refresh request joined an in-flight refresh")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Snapshot), nil
	}
}

func (c *Coordinator) refresh(ctx context.Context) (*models.Snapshot, error) {
	start := c.now()
	flat := c.FlatName()

	payload, err := c.fetcher.FetchLatestForFlat(ctx, flat)
	if err != nil {
		c.fail(err, start)
		return nil, err
	}

	snap := &models.Snapshot{
		FlatName:  flat,
		Records:   api.ExtractRecords(payload),
		FetchedAt: c.now(),
	}
	c.succeed(snap, start)
	return snap, nil
}

func (c *Coordinator) succeed(snap *models.Snapshot, start time.Time) {
	c.snapshot.Store(snap)
	c.ready.Store(true)

	c.mu.Lock()
	c.lastErr = nil
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.ObserveRefresh(nil, c.now().Sub(start), snap.Len(), snap.FetchedAt)
	}

	c.logger.WithFields(logrus.Fields{
		"flat":     snap.FlatName,
		"records":  snap.Len(),
		"duration": c.now().Sub(start).String(),
	}).Info("Refresh completed")

	for _, l := range listeners {
		l.RefreshSucceeded(snap)
	}
}

func (c *Coordinator) fail(err error, start time.Time) {
	at := c.now()

	c.mu.Lock()
	c.lastErr = err
	c.lastFailure = at
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.ObserveRefresh(err, at.Sub(start), 0, at)
	}

	c.logger.WithFields(logrus.Fields{
		"flat":   c.FlatName(),
		"reason": api.Classify(err),
	}).WithError(err).Error("Refresh failed, keeping previous snapshot")

	for _, l := range listeners {
		l.RefreshFailed(err)
	}
}
