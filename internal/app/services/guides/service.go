// Package guides manages the municipal disposal guide corpus and resolves
// upload metadata to the guide governing an area.
package guides

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yiwugan/sort-smart/internal/app/domain/guide"
	"github.com/yiwugan/sort-smart/internal/app/metrics"
	"github.com/yiwugan/sort-smart/internal/app/storage"
	"github.com/yiwugan/sort-smart/pkg/logger"
)

// summarySuffix is the file naming convention for guide files: the portion
// before the suffix is the area name.
const summarySuffix = "-summary.txt"

var (
	// ErrRegionRequired reports upload metadata without a region.
	ErrRegionRequired = errors.New("region is required in metadata")

	// ErrNoGuide reports an area no guide is loaded for.
	ErrNoGuide = errors.New("no disposal guide for area")
)

// Service manages disposal guides.
type Service struct {
	store storage.GuideStore
	log   *logger.Logger
}

// New constructs a guide service.
func New(store storage.GuideStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("guides")
	}
	return &Service{store: store, log: log}
}

// Resolve returns the guide governing the area named in the metadata. The
// city takes precedence over the region when both are present.
func (s *Service) Resolve(ctx context.Context, meta guide.Metadata) (guide.Guide, error) {
	if strings.TrimSpace(meta.Region) == "" {
		return guide.Guide{}, ErrRegionRequired
	}

	key := guide.NormalizeKey(meta.LookupName())
	if key == "" {
		return guide.Guide{}, fmt.Errorf("%q: %w", meta.LookupName(), ErrNoGuide)
	}

	g, err := s.store.GetGuide(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return guide.Guide{}, fmt.Errorf("%s: %w", key, ErrNoGuide)
		}
		return guide.Guide{}, err
	}
	return g, nil
}

// Upsert creates or replaces a guide. The key is normalized; region defaults
// to the key and source to api when unset.
func (s *Service) Upsert(ctx context.Context, g guide.Guide) (guide.Guide, error) {
	g.Key = guide.NormalizeKey(g.Key)
	g.Region = strings.TrimSpace(g.Region)
	g.Summary = strings.TrimSpace(g.Summary)

	if g.Key == "" {
		return guide.Guide{}, fmt.Errorf("guide key is required")
	}
	if g.Summary == "" {
		return guide.Guide{}, fmt.Errorf("guide summary is required")
	}
	if g.Region == "" {
		g.Region = g.Key
	}
	if g.Source == "" {
		g.Source = guide.SourceAPI
	}

	stored, err := s.store.UpsertGuide(ctx, g)
	if err != nil {
		return guide.Guide{}, err
	}
	s.log.WithField("key", stored.Key).
		WithField("source", stored.Source).
		Info("guide upserted")
	return stored, nil
}

// Get retrieves a guide by key.
func (s *Service) Get(ctx context.Context, key string) (guide.Guide, error) {
	key = guide.NormalizeKey(key)
	if key == "" {
		return guide.Guide{}, fmt.Errorf("guide key is required")
	}
	return s.store.GetGuide(ctx, key)
}

// List returns every loaded guide.
func (s *Service) List(ctx context.Context) ([]guide.Guide, error) {
	return s.store.ListGuides(ctx)
}

// Delete removes a guide.
func (s *Service) Delete(ctx context.Context, key string) error {
	key = guide.NormalizeKey(key)
	if key == "" {
		return fmt.Errorf("guide key is required")
	}
	if err := s.store.DeleteGuide(ctx, key); err != nil {
		return err
	}
	s.log.WithField("key", key).Info("guide deleted")
	return nil
}

// LoadDir imports every "<area>-summary.txt" file under dir. Unreadable or
// empty files are skipped with a warning so one bad file cannot block the
// rest of the corpus.
func (s *Service) LoadDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		metrics.RecordGuideReload(0, err)
		return 0, fmt.Errorf("read guide dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, summarySuffix) {
			continue
		}
		key := guide.NormalizeKey(strings.TrimSuffix(name, summarySuffix))
		if key == "" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			s.log.WithError(err).WithField("file", name).Warn("skipping unreadable guide file")
			continue
		}
		summary := strings.TrimSpace(string(data))
		if summary == "" {
			s.log.WithField("file", name).Warn("skipping empty guide file")
			continue
		}

		if _, err := s.store.UpsertGuide(ctx, guide.Guide{
			Key:     key,
			Region:  key,
			Summary: summary,
			Source:  guide.SourceFile,
		}); err != nil {
			s.log.WithError(err).WithField("key", key).Warn("storing guide failed")
			continue
		}
		loaded++
	}

	metrics.RecordGuideReload(loaded, nil)
	s.log.WithField("dir", dir).WithField("loaded", loaded).Info("guide corpus loaded")
	return loaded, nil
}
