package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// MinInterval is the shortest supported refresh period
const MinInterval = time.Minute

const refreshTimeout = 2 * time.Minute

var ErrIntervalTooShort = errors.New("refresh interval too short")

// Refresher runs one refresh cycle
type Refresher interface {
	RequestRefresh(ctx context.Context) error
}

type Scheduler struct {
	ctx       context.Context
	refresher Refresher
	logger    *logrus.Logger
	cron      *cron.Cron

	mu       sync.Mutex
	entryID  cron.EntryID
	interval time.Duration
}

func NewScheduler(ctx context.Context, refresher Refresher, interval time.Duration, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		ctx:       ctx,
		refresher: refresher,
		logger:    logger,
		interval:  interval,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.PrintfLogger(logger)),
			cron.SkipIfStillRunning(cron.PrintfLogger(logger)),
		)),
	}
}

// Start the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.schedule(s.interval)
	if err != nil {
		return err
	}
	s.entryID = id
	s.cron.Start()

	s.logger.WithField("interval", s.interval.String()).Info("Scheduler started")
	return nil
}

// Reschedule replaces the refresh period. The next run happens one full
// interval after the call.
func (s *Scheduler) Reschedule(interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if interval == s.interval {
		return nil
	}

	id, err := s.schedule(interval)
	if err != nil {
		return err
	}
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	s.entryID = id
	s.interval = interval

	s.logger.WithField("interval", interval.String()).Info("Refresh interval changed")
	return nil
}

// Interval returns the current refresh period.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Next returns the time of the next scheduled refresh, zero if not started.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron.Entry(s.entryID).Next
}

func (s *Scheduler) schedule(interval time.Duration) (cron.EntryID, error) {
	if interval < MinInterval {
		return 0, fmt.Errorf("%w: %s (minimum %s)", ErrIntervalTooShort, interval, MinInterval)
	}
	return s.cron.AddFunc(fmt.Sprintf("@every %s", interval), s.refresh)
}

// refresh runs one scheduled refresh. Failures are reported by the
// refresher; the next run proceeds on schedule.
func (s *Scheduler) refresh() {
	ctx, cancel := context.WithTimeout(s.ctx, refreshTimeout)
	defer cancel()

	if err := s.refresher.RequestRefresh(ctx); err != nil {
		s.logger.WithError(err).Warn("Scheduled refresh failed")
	}
}

// Stop the scheduler and wait for a running refresh to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
