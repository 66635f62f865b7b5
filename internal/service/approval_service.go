package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/velvetrope/doorlist/internal/metrics"
	"github.com/velvetrope/doorlist/internal/model"
	"github.com/velvetrope/doorlist/internal/repository"
)

// Stores required by the coordinator (interfaces to allow mocking)
type approvalApplicationStore interface {
	GetByIDForUpdate(ctx context.Context, tx repository.DBExecutor, id string) (*model.Application, error)
	UpdateStatus(ctx context.Context, db repository.DBExecutor, id string, status model.ApplicationStatus) error
}

type claimableCodeStore interface {
	ClaimUnassigned(ctx context.Context, tx repository.DBExecutor, eventID string) (*model.Code, error)
	Assign(ctx context.Context, db repository.DBExecutor, codeID, applicationID string) error
}

// ApprovalService is the transactional bridge between the registry and
// the code pool. Approve claims exactly one unassigned code and flips
// the application to approved as a single unit: both writes commit
// together or neither is visible.
type ApprovalService struct {
	db    repository.Conn
	apps  approvalApplicationStore
	codes claimableCodeStore
}

// NewApprovalService creates a new ApprovalService instance
func NewApprovalService(db repository.Conn, apps approvalApplicationStore, codes claimableCodeStore) *ApprovalService {
	return &ApprovalService{
		db:    db,
		apps:  apps,
		codes: codes,
	}
}

// Approve moves a pending application to approved and returns the code
// bound to it. An empty pool aborts before any write, leaving the
// application pending; staff generate more codes and retry.
func (s *ApprovalService) Approve(ctx context.Context, applicationID string) (*model.Code, error) {
	start := time.Now()
	result := "failed"

	defer func() {
		metrics.RecordApprovalDuration(result, time.Since(start).Seconds())
	}()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	app, err := s.apps.GetByIDForUpdate(ctx, tx, applicationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			result = "not_found"
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load application: %w", err)
	}
	if app.Status.Terminal() {
		result = "terminal"
		return nil, ErrAlreadyTerminal
	}

	code, err := s.codes.ClaimUnassigned(ctx, tx, app.EventID)
	if err != nil {
		if errors.Is(err, repository.ErrNoUnassignedCodes) {
			result = "no_codes"
			return nil, ErrNoCodesAvailable
		}
		return nil, fmt.Errorf("failed to claim code: %w", err)
	}

	if err := s.codes.Assign(ctx, tx, code.ID, app.ID); err != nil {
		return nil, fmt.Errorf("failed to assign code: %w", err)
	}

	if err := s.apps.UpdateStatus(ctx, tx, app.ID, model.StatusApproved); err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	result = "success"

	code.AssignedApplicationID = &app.ID
	return code, nil
}

// Reject moves a pending application to rejected. No code interaction;
// the conditional status update is the whole operation.
func (s *ApprovalService) Reject(ctx context.Context, applicationID string) error {
	err := s.apps.UpdateStatus(ctx, s.db, applicationID, model.StatusRejected)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotPending):
			return ErrAlreadyTerminal
		case errors.Is(err, repository.ErrNotFound):
			return ErrNotFound
		}
		return fmt.Errorf("failed to reject application: %w", err)
	}
	return nil
}
