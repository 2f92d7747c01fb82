package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/yiwugan/sort-smart/internal/app/domain/advice"
	"github.com/yiwugan/sort-smart/internal/app/domain/guide"
	"github.com/yiwugan/sort-smart/internal/app/storage"
	"github.com/yiwugan/sort-smart/internal/config"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.GuideStore = (*Store)(nil)
var _ storage.AdviceStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to the configured database, applies pool settings, and
// verifies the connection before returning it.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

type guideRow struct {
	Key       string    `db:"key"`
	Region    string    `db:"region"`
	Summary   string    `db:"summary"`
	Source    string    `db:"source"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r guideRow) domain() guide.Guide {
	return guide.Guide{
		Key:       r.Key,
		Region:    r.Region,
		Summary:   r.Summary,
		Source:    r.Source,
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type adviceRow struct {
	ID          string    `db:"id"`
	GuideKey    string    `db:"guide_key"`
	Filename    string    `db:"filename"`
	ContentType string    `db:"content_type"`
	ImageSize   int64     `db:"image_size"`
	ImageSHA256 string    `db:"image_sha256"`
	Model       string    `db:"model"`
	Status      string    `db:"status"`
	Response    string    `db:"response"`
	Error       string    `db:"error"`
	DurationMS  int64     `db:"duration_ms"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r adviceRow) domain() advice.Record {
	return advice.Record{
		ID:          r.ID,
		GuideKey:    r.GuideKey,
		Filename:    r.Filename,
		ContentType: r.ContentType,
		ImageSize:   r.ImageSize,
		ImageSHA256: r.ImageSHA256,
		Model:       r.Model,
		Status:      r.Status,
		Response:    r.Response,
		Error:       r.Error,
		DurationMS:  r.DurationMS,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

// --- GuideStore ---------------------------------------------------------------

func (s *Store) UpsertGuide(ctx context.Context, g guide.Guide) (guide.Guide, error) {
	if g.Key == "" {
		return guide.Guide{}, errors.New("guide key required")
	}
	g.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disposal_guides (key, region, summary, source, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE
		SET region = EXCLUDED.region,
		    summary = EXCLUDED.summary,
		    source = EXCLUDED.source,
		    updated_at = EXCLUDED.updated_at
	`, g.Key, g.Region, g.Summary, g.Source, g.UpdatedAt)
	if err != nil {
		return guide.Guide{}, err
	}
	return g, nil
}

func (s *Store) GetGuide(ctx context.Context, key string) (guide.Guide, error) {
	var row guideRow
	err := s.db.GetContext(ctx, &row, `
		SELECT key, region, summary, source, updated_at
		FROM disposal_guides
		WHERE key = $1
	`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return guide.Guide{}, fmt.Errorf("guide %s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return guide.Guide{}, err
	}
	return row.domain(), nil
}

func (s *Store) ListGuides(ctx context.Context) ([]guide.Guide, error) {
	var rows []guideRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT key, region, summary, source, updated_at
		FROM disposal_guides
		ORDER BY key
	`)
	if err != nil {
		return nil, err
	}

	result := make([]guide.Guide, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.domain())
	}
	return result, nil
}

func (s *Store) DeleteGuide(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM disposal_guides WHERE key = $1
	`, key)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("guide %s: %w", key, storage.ErrNotFound)
	}
	return nil
}

// --- AdviceStore --------------------------------------------------------------

func (s *Store) CreateAdvice(ctx context.Context, rec advice.Record) (advice.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO advice_records (id, guide_key, filename, content_type, image_size, image_sha256, model, status, response, error, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, rec.ID, rec.GuideKey, rec.Filename, rec.ContentType, rec.ImageSize, rec.ImageSHA256, rec.Model, rec.Status, rec.Response, rec.Error, rec.DurationMS, rec.CreatedAt)
	if err != nil {
		return advice.Record{}, err
	}
	return rec, nil
}

func (s *Store) GetAdvice(ctx context.Context, id string) (advice.Record, error) {
	var row adviceRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, guide_key, filename, content_type, image_size, image_sha256, model, status, response, error, duration_ms, created_at
		FROM advice_records
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return advice.Record{}, fmt.Errorf("advice %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return advice.Record{}, err
	}
	return row.domain(), nil
}

func (s *Store) ListAdvice(ctx context.Context, limit int) ([]advice.Record, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []adviceRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, guide_key, filename, content_type, image_size, image_sha256, model, status, response, error, duration_ms, created_at
		FROM advice_records
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}

	result := make([]advice.Record, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.domain())
	}
	return result, nil
}

func (s *Store) CountAdviceByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM advice_records
		GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
