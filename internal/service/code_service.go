package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/velvetrope/doorlist/internal/config"
	"github.com/velvetrope/doorlist/internal/metrics"
	"github.com/velvetrope/doorlist/internal/model"
	"github.com/velvetrope/doorlist/internal/repository"
)

// Stores required by the code pool (interfaces to allow mocking)
type codePoolStore interface {
	InsertBatch(ctx context.Context, db repository.DBExecutor, eventID string, values []string) (int, error)
	LookupByValue(ctx context.Context, db repository.DBExecutor, value, eventID string) (*model.Code, error)
	Stats(ctx context.Context, db repository.DBExecutor, eventID string) (*model.PoolStats, error)
}

type eventStore interface {
	GetByID(ctx context.Context, db repository.DBExecutor, id string) (*model.Event, error)
}

// CodeService owns the redemption code pool: bulk generation with
// bounded collision retry, point lookups and pool statistics.
type CodeService struct {
	db     repository.Conn
	codes  codePoolStore
	events eventStore
	cfg    config.CodesConfig
}

// NewCodeService creates a new CodeService instance
func NewCodeService(db repository.Conn, codes codePoolStore, events eventStore, cfg config.CodesConfig) *CodeService {
	return &CodeService{
		db:     db,
		codes:  codes,
		events: events,
		cfg:    cfg,
	}
}

// Generate creates quantity fresh codes for the event and returns the
// created count. Values that collide with existing rows are skipped by
// the insert and regenerated for a bounded number of rounds. The whole
// batch runs in one transaction: on retry exhaustion it rolls back and
// no codes are created, so callers never see a partial batch.
func (s *CodeService) Generate(ctx context.Context, eventID string, quantity int) (int, error) {
	if quantity <= 0 {
		quantity = s.cfg.DefaultBatch
	}

	if _, err := s.events.GetByID(ctx, s.db, eventID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to load event: %w", err)
	}

	// Timed from here so a failed event lookup records nothing.
	start := time.Now()
	defer func() {
		metrics.RecordGenerationDuration(time.Since(start).Seconds())
	}()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for round := 0; round <= s.cfg.MaxRetryRounds; round++ {
		values, err := s.randomValues(quantity - inserted)
		if err != nil {
			return 0, fmt.Errorf("failed to generate code values: %w", err)
		}

		n, err := s.codes.InsertBatch(ctx, tx, eventID, values)
		if err != nil {
			return 0, fmt.Errorf("failed to store codes: %w", err)
		}

		inserted += n
		if inserted == quantity {
			break
		}
	}

	if inserted < quantity {
		// Rolled back by the deferred Rollback; nothing was created.
		return 0, ErrGenerationExhausted
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return inserted, nil
}

// randomValues produces count distinct numeric code values of the
// configured length, first digit nonzero.
func (s *CodeService) randomValues(count int) ([]string, error) {
	min := int64(1)
	for i := 1; i < s.cfg.Length; i++ {
		min *= 10
	}
	span := big.NewInt(min * 9)

	seen := make(map[string]struct{}, count)
	values := make([]string, 0, count)
	for len(values) < count {
		n, err := rand.Int(rand.Reader, span)
		if err != nil {
			return nil, err
		}
		value := fmt.Sprintf("%d", n.Int64()+min)
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		values = append(values, value)
	}

	return values, nil
}

// Lookup finds a code by scanned value. eventID may be empty to search
// across events. Unknown values are ErrNotFound, an expected outcome.
func (s *CodeService) Lookup(ctx context.Context, value, eventID string) (*model.Code, error) {
	code, err := s.codes.LookupByValue(ctx, s.db, value, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return code, nil
}

// Stats returns pool counters for an event.
func (s *CodeService) Stats(ctx context.Context, eventID string) (*model.PoolStats, error) {
	return s.codes.Stats(ctx, s.db, eventID)
}
