package uploads

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yiwugan/sort-smart/internal/app/system"
	"github.com/yiwugan/sort-smart/pkg/logger"
)

var _ system.Service = (*Sweeper)(nil)

// Sweeper deletes stale spool files on a cron schedule. Spool files are
// normally removed right after classification; the sweeper recovers disk
// from files orphaned by crashes or kills.
type Sweeper struct {
	spool    *Spool
	schedule string
	maxAge   time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper creates a lifecycle-managed sweeper.
func NewSweeper(spool *Spool, schedule string, maxAge time.Duration, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("upload-sweeper")
	}
	return &Sweeper{
		spool:    spool,
		schedule: schedule,
		maxAge:   maxAge,
		log:      log,
	}
}

func (s *Sweeper) Name() string { return "upload-sweeper" }

func (s *Sweeper) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("parse sweep schedule %q: %w", s.schedule, err)
	}
	c.Start()

	s.cron = c
	s.running = true
	s.log.WithField("schedule", s.schedule).Info("upload sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("upload sweeper stopped")
	return nil
}

func (s *Sweeper) sweep() {
	removed, err := s.spool.SweepOlderThan(s.maxAge)
	if err != nil {
		s.log.WithError(err).Warn("upload sweep failed")
		return
	}
	if removed > 0 {
		s.log.WithField("removed", removed).Info("swept stale uploads")
	}
}
