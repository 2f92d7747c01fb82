package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yiwugan/sort-smart/internal/app/activity"
	"github.com/yiwugan/sort-smart/internal/app/services/advisor"
	"github.com/yiwugan/sort-smart/internal/app/services/guides"
	"github.com/yiwugan/sort-smart/internal/app/storage"
	"github.com/yiwugan/sort-smart/internal/app/storage/memory"
	"github.com/yiwugan/sort-smart/internal/app/system"
	"github.com/yiwugan/sort-smart/internal/app/uploads"
	"github.com/yiwugan/sort-smart/internal/cache"
	"github.com/yiwugan/sort-smart/internal/config"
	"github.com/yiwugan/sort-smart/internal/llm"
	"github.com/yiwugan/sort-smart/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Guides storage.GuideStore
	Advice storage.AdviceStore
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager   *system.Manager
	log       *logger.Logger
	guideDir  string
	startedAt time.Time

	Guides  *guides.Service
	Advisor *advisor.Service
	Hub     *activity.Hub
}

// New builds a fully initialised application with the provided stores. The
// advice cache may be nil, in which case model responses are not cached.
// Model clients are only built for the providers whose API keys are
// configured; the matching advice paths report themselves unavailable
// otherwise, so the service still boots without credentials.
func New(cfg *config.Config, stores Stores, adviceCache cache.Cache, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Guides == nil {
		stores.Guides = mem
	}
	if stores.Advice == nil {
		stores.Advice = mem
	}

	manager := system.NewManager()

	guideService := guides.New(stores.Guides, log)
	hub := activity.NewHub(cfg.Origins(), log)

	var vision advisor.VisionCompleter
	if cfg.Vision.Enabled() {
		client, err := llm.New(llm.Config{
			BaseURL:     cfg.Vision.BaseURL,
			APIKey:      cfg.Vision.APIKey,
			Model:       cfg.Vision.Model,
			Temperature: llm.Temperature(cfg.Vision.Temperature),
			Timeout:     cfg.Vision.Timeout,
			MaxRetries:  cfg.Vision.MaxRetries,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("configure vision model: %w", err)
		}
		vision = client
	} else {
		log.Warn("OPENAI_API_KEY not set; image classification disabled")
	}

	var text advisor.TextCompleter
	if cfg.Text.Enabled() {
		client, err := llm.New(llm.Config{
			BaseURL:    cfg.Text.BaseURL,
			APIKey:     cfg.Text.APIKey,
			Model:      cfg.Text.Model,
			Timeout:    cfg.Vision.Timeout,
			MaxRetries: cfg.Vision.MaxRetries,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("configure text model: %w", err)
		}
		text = client
	} else {
		log.Warn("GROQ_API_KEY not set; description advice disabled")
	}

	spool, err := uploads.NewSpool(cfg.Uploads.Dir, log)
	if err != nil {
		return nil, fmt.Errorf("prepare upload spool: %w", err)
	}

	advisorService, err := advisor.New(advisor.Config{
		Guides:       guideService,
		Vision:       vision,
		Text:         text,
		Store:        stores.Advice,
		Cache:        adviceCache,
		Spool:        spool,
		Publisher:    hub,
		MaxImageSize: cfg.Uploads.MaxImageSize,
		CacheTTL:     cfg.Redis.AdviceTTL,
		Log:          log,
	})
	if err != nil {
		return nil, fmt.Errorf("build advisor: %w", err)
	}

	services := []system.Service{
		hub,
		uploads.NewSweeper(spool, cfg.Uploads.SweepSchedule, cfg.Uploads.MaxAge, log),
	}
	if schedule := strings.TrimSpace(cfg.Guides.ReloadSchedule); schedule != "" {
		reloader := guides.NewReloader(guideService, cfg.Guides.Dir, schedule, log)
		reloader.WithPublisher(hub)
		services = append(services, reloader)
	}
	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:   manager,
		log:       log,
		guideDir:  cfg.Guides.Dir,
		startedAt: time.Now(),
		Guides:    guideService,
		Advisor:   advisorService,
		Hub:       hub,
	}, nil
}

// StartedAt reports when the application was constructed.
func (a *Application) StartedAt() time.Time {
	return a.startedAt
}

// ReloadGuides re-imports the guide directory and announces the result on
// the activity stream.
func (a *Application) ReloadGuides(ctx context.Context) (int, error) {
	loaded, err := a.Guides.LoadDir(ctx, a.guideDir)
	if err != nil {
		return 0, err
	}
	a.Hub.Publish(activity.Event{Type: activity.EventGuideReload, Loaded: loaded})
	return loaded, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start imports the guide corpus and begins all registered services. A
// missing or empty guide directory is reported but does not prevent boot;
// lookups will fail until guides arrive through the admin surface.
func (a *Application) Start(ctx context.Context) error {
	if strings.TrimSpace(a.guideDir) != "" {
		loaded, err := a.Guides.LoadDir(ctx, a.guideDir)
		if err != nil {
			a.log.WithError(err).WithField("dir", a.guideDir).Warn("initial guide import failed")
		} else {
			a.log.WithField("loaded", loaded).Info("guide corpus imported")
		}
	}
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
