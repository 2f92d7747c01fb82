// Package advisor answers disposal questions. It resolves the area's guide,
// asks the vision or text model, and records the outcome.
package advisor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yiwugan/sort-smart/internal/app/activity"
	"github.com/yiwugan/sort-smart/internal/app/domain/advice"
	"github.com/yiwugan/sort-smart/internal/app/domain/guide"
	"github.com/yiwugan/sort-smart/internal/app/metrics"
	"github.com/yiwugan/sort-smart/internal/app/services/guides"
	"github.com/yiwugan/sort-smart/internal/app/storage"
	"github.com/yiwugan/sort-smart/internal/app/uploads"
	"github.com/yiwugan/sort-smart/internal/cache"
	"github.com/yiwugan/sort-smart/pkg/logger"
)

const defaultMaxImageSize = 80000

var (
	// ErrEmptyImage reports an upload without image bytes.
	ErrEmptyImage = errors.New("image payload is empty")

	// ErrImageTooLarge reports an image above the configured size limit.
	ErrImageTooLarge = errors.New("image too large")

	// ErrVisionUnavailable reports that no vision model is configured.
	ErrVisionUnavailable = errors.New("vision model is not configured")

	// ErrTextUnavailable reports that no text model is configured.
	ErrTextUnavailable = errors.New("text model is not configured")
)

// VisionCompleter is the image completion surface the advisor needs.
type VisionCompleter interface {
	Model() string
	CompleteVision(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// TextCompleter is the text completion surface the advisor needs.
type TextCompleter interface {
	Model() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// Publisher receives classification events for the activity stream.
type Publisher interface {
	Publish(event activity.Event)
}

// Submission is one uploaded waste item photo.
type Submission struct {
	Image       []byte
	Filename    string
	ContentType string
	Metadata    guide.Metadata
}

// Config wires the advisor's collaborators. Guides and Store are required;
// everything else degrades gracefully when absent.
type Config struct {
	Guides       *guides.Service
	Vision       VisionCompleter
	Text         TextCompleter
	Store        storage.AdviceStore
	Cache        cache.Cache
	Spool        *uploads.Spool
	Publisher    Publisher
	MaxImageSize int64
	CacheTTL     time.Duration
	Log          *logger.Logger
}

// Service classifies waste items and returns disposal advice.
type Service struct {
	guides    *guides.Service
	vision    VisionCompleter
	text      TextCompleter
	store     storage.AdviceStore
	cache     cache.Cache
	spool     *uploads.Spool
	publisher Publisher
	log       *logger.Logger

	maxImageSize int64
	cacheTTL     time.Duration
}

// New constructs an advisor.
func New(cfg Config) (*Service, error) {
	if cfg.Guides == nil {
		return nil, fmt.Errorf("advisor requires a guide service")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("advisor requires an advice store")
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.Nop{}
	}
	if cfg.Log == nil {
		cfg.Log = logger.NewDefault("advisor")
	}
	if cfg.MaxImageSize <= 0 {
		cfg.MaxImageSize = defaultMaxImageSize
	}
	return &Service{
		guides:       cfg.Guides,
		vision:       cfg.Vision,
		text:         cfg.Text,
		store:        cfg.Store,
		cache:        cfg.Cache,
		spool:        cfg.Spool,
		publisher:    cfg.Publisher,
		log:          cfg.Log,
		maxImageSize: cfg.MaxImageSize,
		cacheTTL:     cfg.CacheTTL,
	}, nil
}

// MaxImageSize returns the upload size limit in bytes.
func (s *Service) MaxImageSize() int64 { return s.maxImageSize }

// AdviseFromImage classifies a photographed item against its area's guide.
func (s *Service) AdviseFromImage(ctx context.Context, sub Submission) (advice.Advice, error) {
	if s.vision == nil {
		return advice.Advice{}, ErrVisionUnavailable
	}
	if len(sub.Image) == 0 {
		return advice.Advice{}, ErrEmptyImage
	}
	if int64(len(sub.Image)) > s.maxImageSize {
		return advice.Advice{}, fmt.Errorf("%w: %d bytes, limit %d", ErrImageTooLarge, len(sub.Image), s.maxImageSize)
	}

	g, err := s.guides.Resolve(ctx, sub.Metadata)
	if err != nil {
		return advice.Advice{}, err
	}

	metrics.ObserveUploadSize(len(sub.Image))

	digest := sha256.Sum256(sub.Image)
	imageSHA := hex.EncodeToString(digest[:])
	cacheKey := imageSHA + ":" + g.Key

	start := time.Now()

	if cached := s.cachedResponse(ctx, cacheKey); cached != "" {
		duration := time.Since(start)
		metrics.RecordClassification(advice.StatusSucceeded, true, duration)
		s.publish(activity.Event{
			Type:       activity.EventClassification,
			GuideKey:   g.Key,
			Status:     advice.StatusSucceeded,
			Cached:     true,
			Model:      s.vision.Model(),
			DurationMS: duration.Milliseconds(),
		})
		return advice.Advice{
			GuideKey:    g.Key,
			Filename:    sub.Filename,
			ContentType: sub.ContentType,
			Response:    cached,
			Model:       s.vision.Model(),
			Cached:      true,
			Duration:    duration,
			Verdict:     advice.ParseVerdict(cached),
		}, nil
	}

	// Keep the upload on disk while the model call runs.
	if s.spool != nil {
		path, spoolErr := s.spool.Write(sub.Image, uploads.ExtForContentType(sub.ContentType))
		if spoolErr != nil {
			s.log.WithError(spoolErr).Warn("spooling upload failed")
		} else {
			defer func() {
				if removeErr := s.spool.Remove(path); removeErr != nil {
					s.log.WithError(removeErr).WithField("path", path).Warn("removing spooled upload failed")
				}
			}()
		}
	}

	response, err := s.vision.CompleteVision(ctx, visionPrompt(g.Summary), sub.Image, sub.ContentType)
	duration := time.Since(start)
	metrics.RecordLLMRequest("vision", err, duration)

	record := advice.Record{
		GuideKey:    g.Key,
		Filename:    sub.Filename,
		ContentType: sub.ContentType,
		ImageSize:   int64(len(sub.Image)),
		ImageSHA256: imageSHA,
		Model:       s.vision.Model(),
		DurationMS:  duration.Milliseconds(),
	}

	if err != nil {
		record.Status = advice.StatusFailed
		record.Error = err.Error()
		s.persist(ctx, record)
		metrics.RecordClassification(advice.StatusFailed, false, duration)
		s.publish(activity.Event{
			Type:       activity.EventClassification,
			GuideKey:   g.Key,
			Status:     advice.StatusFailed,
			Model:      s.vision.Model(),
			DurationMS: record.DurationMS,
		})
		return advice.Advice{}, fmt.Errorf("vision completion: %w", err)
	}

	record.Status = advice.StatusSucceeded
	record.Response = response
	stored := s.persist(ctx, record)

	s.cacheResponse(ctx, cacheKey, response)
	metrics.RecordClassification(advice.StatusSucceeded, false, duration)
	s.publish(activity.Event{
		Type:       activity.EventClassification,
		GuideKey:   g.Key,
		Status:     advice.StatusSucceeded,
		Model:      s.vision.Model(),
		DurationMS: record.DurationMS,
	})

	s.log.WithField("guide", g.Key).
		WithField("bytes", len(sub.Image)).
		WithField("duration_ms", record.DurationMS).
		Info("image classified")

	return advice.Advice{
		ID:          stored.ID,
		GuideKey:    g.Key,
		Filename:    sub.Filename,
		ContentType: sub.ContentType,
		Response:    response,
		Model:       s.vision.Model(),
		Duration:    duration,
		Verdict:     advice.ParseVerdict(response),
	}, nil
}

// AdviseFromDescription answers a disposal question from a written item
// description instead of a photo.
func (s *Service) AdviseFromDescription(ctx context.Context, description string, meta guide.Metadata) (advice.Advice, error) {
	if s.text == nil {
		return advice.Advice{}, ErrTextUnavailable
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return advice.Advice{}, fmt.Errorf("description is required")
	}

	g, err := s.guides.Resolve(ctx, meta)
	if err != nil {
		return advice.Advice{}, err
	}

	start := time.Now()
	response, err := s.text.Complete(ctx, textPrompt(description, g.Summary))
	duration := time.Since(start)
	metrics.RecordLLMRequest("text", err, duration)

	record := advice.Record{
		GuideKey:    g.Key,
		ContentType: "text/plain",
		Model:       s.text.Model(),
		DurationMS:  duration.Milliseconds(),
	}

	if err != nil {
		record.Status = advice.StatusFailed
		record.Error = err.Error()
		s.persist(ctx, record)
		metrics.RecordClassification(advice.StatusFailed, false, duration)
		return advice.Advice{}, fmt.Errorf("text completion: %w", err)
	}

	record.Status = advice.StatusSucceeded
	record.Response = response
	stored := s.persist(ctx, record)

	metrics.RecordClassification(advice.StatusSucceeded, false, duration)
	s.publish(activity.Event{
		Type:       activity.EventClassification,
		GuideKey:   g.Key,
		Status:     advice.StatusSucceeded,
		Model:      s.text.Model(),
		DurationMS: record.DurationMS,
	})

	return advice.Advice{
		ID:       stored.ID,
		GuideKey: g.Key,
		Response: response,
		Model:    s.text.Model(),
		Duration: duration,
		Verdict:  advice.ParseVerdict(response),
	}, nil
}

// Recent returns the newest advice records.
func (s *Service) Recent(ctx context.Context, limit int) ([]advice.Record, error) {
	return s.store.ListAdvice(ctx, limit)
}

// Get retrieves one advice record.
func (s *Service) Get(ctx context.Context, id string) (advice.Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return advice.Record{}, fmt.Errorf("advice id is required")
	}
	return s.store.GetAdvice(ctx, id)
}

// Counts returns advice totals grouped by status.
func (s *Service) Counts(ctx context.Context) (map[string]int64, error) {
	return s.store.CountAdviceByStatus(ctx)
}

// persist stores the record. Persistence failures are logged, not returned;
// the caller already has the advice and must not lose it to bookkeeping.
func (s *Service) persist(ctx context.Context, record advice.Record) advice.Record {
	stored, err := s.store.CreateAdvice(ctx, record)
	if err != nil {
		s.log.WithError(err).WithField("guide", record.GuideKey).Warn("persisting advice record failed")
		return record
	}
	return stored
}

func (s *Service) cachedResponse(ctx context.Context, key string) string {
	value, err := s.cache.Get(ctx, key)
	if err != nil {
		metrics.RecordCacheEvent(metrics.CacheError)
		s.log.WithError(err).Warn("advice cache read failed")
		return ""
	}
	if value == nil {
		metrics.RecordCacheEvent(metrics.CacheMiss)
		return ""
	}
	metrics.RecordCacheEvent(metrics.CacheHit)
	return string(value)
}

func (s *Service) cacheResponse(ctx context.Context, key, response string) {
	if err := s.cache.Set(ctx, key, []byte(response), s.cacheTTL); err != nil {
		metrics.RecordCacheEvent(metrics.CacheError)
		s.log.WithError(err).Warn("advice cache write failed")
	}
}

func (s *Service) publish(event activity.Event) {
	if s.publisher != nil {
		s.publisher.Publish(event)
	}
}

func visionPrompt(instruction string) string {
	return "identify one major object in this image, then use the dispose/collection instruction: " + instruction + "." +
		"suggest best way to dispose major object as garbage, example: green bin, blue box, regular garbage bag, paper yark bag, drop off at depot." +
		"if required to drop off of at Recycling Depots & Drop Off Centres, give address, contact and hours."
}

func textPrompt(description, instruction string) string {
	return "given below garbage description: " + description + " and dispose/collection instruction: " + instruction + "." +
		"suggest best way to dispose this garbage, example: green bin, blue box, regular garbage bag, paper yark bag, drop off at depot." +
		"if required to drop off of at Recycling Depots & Drop Off Centres, give address, contact and hours."
}
