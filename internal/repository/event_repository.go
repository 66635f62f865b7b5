package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/velvetrope/doorlist/internal/model"
)

// EventRepository handles event data operations. Events are the
// foreign-key anchor for applications and codes; deletes cascade.
type EventRepository struct{}

// NewEventRepository creates a new event repository
func NewEventRepository() *EventRepository {
	return &EventRepository{}
}

// Create inserts a new event
func (r *EventRepository) Create(ctx context.Context, db DBExecutor, event *model.Event) error {
	query := `
		INSERT INTO events (id, title, date, description, location, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	event.ID = uuid.New().String()
	event.CreatedAt = time.Now().UTC()

	_, err := db.ExecContext(ctx, query,
		event.ID, event.Title, event.Date, event.Description, event.Location, event.IsActive, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	return nil
}

// GetByID retrieves an event by ID, or ErrNotFound.
func (r *EventRepository) GetByID(ctx context.Context, db DBExecutor, id string) (*model.Event, error) {
	query := `
		SELECT id, title, date, description, location, is_active, created_at
		FROM events
		WHERE id = $1
	`

	var event model.Event
	err := db.GetContext(ctx, &event, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return &event, nil
}

// ListActive returns active events ordered by date.
func (r *EventRepository) ListActive(ctx context.Context, db DBExecutor) ([]model.Event, error) {
	query := `
		SELECT id, title, date, description, location, is_active, created_at
		FROM events
		WHERE is_active = TRUE
		ORDER BY date ASC
	`

	var events []model.Event
	if err := db.SelectContext(ctx, &events, query); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	return events, nil
}

// Delete removes an event; applications and codes cascade with it.
func (r *EventRepository) Delete(ctx context.Context, db DBExecutor, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
