package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/velvetrope/doorlist/internal/model"
)

// pqUniqueViolation is the Postgres error code for a unique constraint hit.
const pqUniqueViolation = "23505"

// ApplicationRepository handles guest application data operations
type ApplicationRepository struct {
	// DB-only repository, no in-process state
}

// NewApplicationRepository creates a new application repository
func NewApplicationRepository() *ApplicationRepository {
	return &ApplicationRepository{}
}

// Insert creates a new application row. The (event_id, handle) unique
// constraint decides races between concurrent first-time submissions:
// the loser gets ErrDuplicate and is expected to fall back to a fetch.
func (r *ApplicationRepository) Insert(ctx context.Context, db DBExecutor, app *model.Application) error {
	query := `
		INSERT INTO applications (id, event_id, handle, status, device_secret, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	app.ID = uuid.New().String()
	app.CreatedAt = time.Now().UTC()

	_, err := db.ExecContext(ctx, query,
		app.ID, app.EventID, app.Handle, app.Status, app.DeviceSecret, app.UserAgent, app.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert application: %w", err)
	}

	return nil
}

// GetByEventAndHandle retrieves the application for a normalized handle
// within an event, or ErrNotFound.
func (r *ApplicationRepository) GetByEventAndHandle(ctx context.Context, db DBExecutor, eventID, handle string) (*model.Application, error) {
	query := `
		SELECT id, event_id, handle, status, device_secret, user_agent, created_at
		FROM applications
		WHERE event_id = $1 AND handle = $2
	`

	var app model.Application
	err := db.GetContext(ctx, &app, query, eventID, handle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get application: %w", err)
	}

	return &app, nil
}

// GetByID retrieves an application by primary key, or ErrNotFound.
func (r *ApplicationRepository) GetByID(ctx context.Context, db DBExecutor, id string) (*model.Application, error) {
	query := `
		SELECT id, event_id, handle, status, device_secret, user_agent, created_at
		FROM applications
		WHERE id = $1
	`

	var app model.Application
	err := db.GetContext(ctx, &app, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get application: %w", err)
	}

	return &app, nil
}

// GetByIDForUpdate loads an application and locks its row for the
// remainder of the transaction. Used by the approval coordinator so a
// concurrent approve/reject of the same application serializes here.
func (r *ApplicationRepository) GetByIDForUpdate(ctx context.Context, tx DBExecutor, id string) (*model.Application, error) {
	query := `
		SELECT id, event_id, handle, status, device_secret, user_agent, created_at
		FROM applications
		WHERE id = $1
		FOR UPDATE
	`

	var app model.Application
	err := tx.GetContext(ctx, &app, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock application: %w", err)
	}

	return &app, nil
}

// UpdateStatus performs the pending -> approved/rejected transition.
// The WHERE clause refuses to move a terminal row; in that case the row
// is re-read to distinguish ErrNotPending from ErrNotFound.
func (r *ApplicationRepository) UpdateStatus(ctx context.Context, db DBExecutor, id string, status model.ApplicationStatus) error {
	query := `
		UPDATE applications
		SET status = $2
		WHERE id = $1 AND status = 'pending'
	`

	result, err := db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update application status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, getErr := r.GetByID(ctx, db, id); getErr != nil {
			return getErr
		}
		return ErrNotPending
	}

	return nil
}

// ListWithCodes returns all applications for an event together with
// their assigned code values, newest first. This is the dashboard
// projection; rows without a code carry a NULL assigned_code.
func (r *ApplicationRepository) ListWithCodes(ctx context.Context, db DBExecutor, eventID string) ([]model.ApplicationWithCode, error) {
	query := `
		SELECT a.id, a.event_id, a.handle, a.status, a.device_secret, a.user_agent, a.created_at,
		       c.value AS assigned_code
		FROM applications a
		LEFT JOIN codes c ON c.assigned_application_id = a.id
		WHERE a.event_id = $1
		ORDER BY a.created_at DESC
	`

	var apps []model.ApplicationWithCode
	if err := db.SelectContext(ctx, &apps, query, eventID); err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}

	return apps, nil
}
