package guides

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/yiwugan/sort-smart/internal/app/activity"
	"github.com/yiwugan/sort-smart/internal/app/system"
	"github.com/yiwugan/sort-smart/pkg/logger"
)

// Publisher receives guide reload events for the activity stream.
type Publisher interface {
	Publish(event activity.Event)
}

var _ system.Service = (*Reloader)(nil)

// Reloader re-imports the guide directory on a cron schedule so edits to the
// guide files show up without a restart.
type Reloader struct {
	service  *Service
	dir      string
	schedule string
	log      *logger.Logger

	mu        sync.Mutex
	cron      *cron.Cron
	publisher Publisher
	running   bool
}

// NewReloader creates a lifecycle-managed guide reloader.
func NewReloader(service *Service, dir, schedule string, log *logger.Logger) *Reloader {
	if log == nil {
		log = logger.NewDefault("guide-reloader")
	}
	return &Reloader{
		service:  service,
		dir:      dir,
		schedule: schedule,
		log:      log,
	}
}

// WithPublisher assigns the activity stream reload events are announced on.
func (r *Reloader) WithPublisher(publisher Publisher) {
	r.mu.Lock()
	r.publisher = publisher
	r.mu.Unlock()
}

func (r *Reloader) Name() string { return "guide-reloader" }

func (r *Reloader) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, r.reload); err != nil {
		return fmt.Errorf("parse guide reload schedule %q: %w", r.schedule, err)
	}
	c.Start()

	r.cron = c
	r.running = true
	r.log.WithField("schedule", r.schedule).Info("guide reloader started")
	return nil
}

func (r *Reloader) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.cron
	running := r.running
	r.cron = nil
	r.running = false
	r.mu.Unlock()

	if !running || c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("guide reloader stopped")
	return nil
}

func (r *Reloader) reload() {
	loaded, err := r.service.LoadDir(context.Background(), r.dir)
	if err != nil {
		r.log.WithError(err).Warn("guide reload failed")
		return
	}

	r.mu.Lock()
	publisher := r.publisher
	r.mu.Unlock()

	if publisher != nil {
		publisher.Publish(activity.Event{Type: activity.EventGuideReload, Loaded: loaded})
	}
}
