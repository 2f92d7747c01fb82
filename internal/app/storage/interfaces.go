package storage

import (
	"context"
	"errors"

	"github.com/yiwugan/sort-smart/internal/app/domain/advice"
	"github.com/yiwugan/sort-smart/internal/app/domain/guide"
)

// ErrNotFound reports that a requested record does not exist. Store
// implementations wrap it so callers can test with errors.Is regardless of
// the backend.
var ErrNotFound = errors.New("not found")

// GuideStore persists disposal guides keyed by normalized municipality name.
type GuideStore interface {
	UpsertGuide(ctx context.Context, g guide.Guide) (guide.Guide, error)
	GetGuide(ctx context.Context, key string) (guide.Guide, error)
	ListGuides(ctx context.Context) ([]guide.Guide, error)
	DeleteGuide(ctx context.Context, key string) error
}

// AdviceStore persists classification outcomes.
type AdviceStore interface {
	CreateAdvice(ctx context.Context, rec advice.Record) (advice.Record, error)
	GetAdvice(ctx context.Context, id string) (advice.Record, error)
	ListAdvice(ctx context.Context, limit int) ([]advice.Record, error)
	CountAdviceByStatus(ctx context.Context) (map[string]int64, error)
}
