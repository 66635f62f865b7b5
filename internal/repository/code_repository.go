package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/velvetrope/doorlist/internal/model"
)

// CodeRepository handles redemption code data operations
type CodeRepository struct {
	// DB-only repository, no in-process state
}

// NewCodeRepository creates a new code repository
func NewCodeRepository() *CodeRepository {
	return &CodeRepository{}
}

// InsertBatch inserts code values for an event and returns how many
// rows were actually created. Values colliding with existing codes in
// any event are skipped via ON CONFLICT DO NOTHING; the caller compares
// the returned count against len(values) and regenerates the shortfall.
// Values are globally unique so scanner lookups by bare value are
// unambiguous.
func (r *CodeRepository) InsertBatch(ctx context.Context, db DBExecutor, eventID string, values []string) (int, error) {
	if len(values) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()

	// Batch size keeps each statement under the Postgres parameter cap.
	const batchSize = 1000

	inserted := 0
	for i := 0; i < len(values); i += batchSize {
		end := i + batchSize
		if end > len(values) {
			end = len(values)
		}

		n, err := r.insertCodeBatch(ctx, db, eventID, values[i:end], now)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert code batch: %w", err)
		}
		inserted += n
	}

	return inserted, nil
}

func (r *CodeRepository) insertCodeBatch(ctx context.Context, db DBExecutor, eventID string, values []string, createdAt time.Time) (int, error) {
	valuesClause := make([]string, len(values))
	args := make([]interface{}, 0, len(values)*4)

	for i, value := range values {
		valuesClause[i] = fmt.Sprintf("($%d, $%d, $%d, $%d)",
			i*4+1, i*4+2, i*4+3, i*4+4)
		args = append(args, uuid.New().String(), eventID, value, createdAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO codes (id, event_id, value, created_at)
		VALUES %s
		ON CONFLICT (value) DO NOTHING
	`, strings.Join(valuesClause, ", "))

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to execute batch insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// ClaimUnassigned selects one unassigned code for the event and locks
// it for the rest of the transaction. SKIP LOCKED makes concurrent
// approvals pick distinct rows instead of queueing on the same one.
func (r *CodeRepository) ClaimUnassigned(ctx context.Context, tx DBExecutor, eventID string) (*model.Code, error) {
	query := `
		SELECT id, event_id, value, assigned_application_id, redeemed_at, created_at
		FROM codes
		WHERE event_id = $1 AND assigned_application_id IS NULL
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	var code model.Code
	err := tx.GetContext(ctx, &code, query, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoUnassignedCodes
		}
		return nil, fmt.Errorf("failed to claim code: %w", err)
	}

	return &code, nil
}

// Assign binds a claimed code to an application. The IS NULL condition
// keeps assignment write-once even if a caller bypasses the claim lock.
func (r *CodeRepository) Assign(ctx context.Context, db DBExecutor, codeID, applicationID string) error {
	query := `
		UPDATE codes
		SET assigned_application_id = $2
		WHERE id = $1 AND assigned_application_id IS NULL
	`

	result, err := db.ExecContext(ctx, query, codeID, applicationID)
	if err != nil {
		return fmt.Errorf("failed to assign code: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyAssigned
	}

	return nil
}

// LookupByValue finds a code by its scanned value. An empty eventID
// searches across events (the scanner path, unambiguous because values
// are globally unique); a non-empty one pins the lookup to a single
// event's pool.
func (r *CodeRepository) LookupByValue(ctx context.Context, db DBExecutor, value, eventID string) (*model.Code, error) {
	query := `
		SELECT id, event_id, value, assigned_application_id, redeemed_at, created_at
		FROM codes
		WHERE value = $1
	`
	args := []interface{}{value}
	if eventID != "" {
		query += ` AND event_id = $2`
		args = append(args, eventID)
	}

	var code model.Code
	err := db.GetContext(ctx, &code, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lookup code: %w", err)
	}

	return &code, nil
}

// GetByApplication returns the code bound to an application, or
// ErrNotFound when none has been assigned.
func (r *CodeRepository) GetByApplication(ctx context.Context, db DBExecutor, applicationID string) (*model.Code, error) {
	query := `
		SELECT id, event_id, value, assigned_application_id, redeemed_at, created_at
		FROM codes
		WHERE assigned_application_id = $1
	`

	var code model.Code
	err := db.GetContext(ctx, &code, query, applicationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get assigned code: %w", err)
	}

	return &code, nil
}

// Redeem marks a code used and returns the redemption timestamp.
// First writer wins: the IS NULL condition means a concurrent scan of
// the same code updates zero rows and gets ErrAlreadyRedeemed, after
// which the caller re-reads the original timestamp.
func (r *CodeRepository) Redeem(ctx context.Context, db DBExecutor, codeID string) (time.Time, error) {
	query := `
		UPDATE codes
		SET redeemed_at = NOW()
		WHERE id = $1 AND redeemed_at IS NULL
		RETURNING redeemed_at
	`

	var redeemedAt time.Time
	err := db.GetContext(ctx, &redeemedAt, query, codeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, ErrAlreadyRedeemed
		}
		return time.Time{}, fmt.Errorf("failed to redeem code: %w", err)
	}

	return redeemedAt, nil
}

// Stats summarizes the event's pool for the dashboard header.
func (r *CodeRepository) Stats(ctx context.Context, db DBExecutor, eventID string) (*model.PoolStats, error) {
	query := `
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE assigned_application_id IS NULL) AS unassigned,
		       COUNT(*) FILTER (WHERE redeemed_at IS NOT NULL) AS redeemed
		FROM codes
		WHERE event_id = $1
	`

	var stats model.PoolStats
	if err := db.GetContext(ctx, &stats, query, eventID); err != nil {
		return nil, fmt.Errorf("failed to get pool stats: %w", err)
	}

	return &stats, nil
}
