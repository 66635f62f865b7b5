package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/velvetrope/doorlist/internal/model"
	"github.com/velvetrope/doorlist/internal/repository"
)

// Stores required by the registry (interfaces to allow mocking)
type applicationStore interface {
	Insert(ctx context.Context, db repository.DBExecutor, app *model.Application) error
	GetByEventAndHandle(ctx context.Context, db repository.DBExecutor, eventID, handle string) (*model.Application, error)
	ListWithCodes(ctx context.Context, db repository.DBExecutor, eventID string) ([]model.ApplicationWithCode, error)
}

type assignedCodeStore interface {
	GetByApplication(ctx context.Context, db repository.DBExecutor, applicationID string) (*model.Code, error)
}

// ApplicationService is the application registry: it owns submit-or-
// fetch with its uniqueness race, and gates existing rows behind the
// device-binding guard.
type ApplicationService struct {
	db    repository.Conn
	apps  applicationStore
	codes assignedCodeStore
}

// NewApplicationService creates a new ApplicationService instance
func NewApplicationService(db repository.Conn, apps applicationStore, codes assignedCodeStore) *ApplicationService {
	return &ApplicationService{
		db:    db,
		apps:  apps,
		codes: codes,
	}
}

// NormalizeHandle canonicalizes a guest handle: surrounding whitespace
// and one leading @ are stripped, the rest is lowercased.
func NormalizeHandle(raw string) string {
	h := strings.TrimSpace(raw)
	h = strings.TrimPrefix(h, "@")
	h = strings.ToLower(h)
	return strings.TrimSpace(h)
}

// SubmitOrFetch is the guest entry point. It returns the existing
// application for (event, handle) after a device-binding check, or
// creates a new pending one storing the caller's secret and user agent.
// A concurrent first-time submission loses the insert race on the
// unique constraint and falls back to the fetch path, so exactly one
// application ever exists per (event, handle).
func (s *ApplicationService) SubmitOrFetch(ctx context.Context, eventID, rawHandle, deviceSecret, userAgent string) (*model.ApplicationWithCode, error) {
	handle := NormalizeHandle(rawHandle)
	if handle == "" {
		return nil, ErrInvalidHandle
	}

	existing, err := s.apps.GetByEventAndHandle(ctx, s.db, eventID, handle)
	if err == nil {
		return s.fetchExisting(ctx, existing, deviceSecret)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check application: %w", err)
	}

	app := &model.Application{
		EventID:      eventID,
		Handle:       handle,
		Status:       model.StatusPending,
		DeviceSecret: deviceSecret,
		UserAgent:    userAgent,
	}

	err = s.apps.Insert(ctx, s.db, app)
	if err == nil {
		return &model.ApplicationWithCode{Application: *app}, nil
	}
	if !errors.Is(err, repository.ErrDuplicate) {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	// Lost the creation race; the row now exists, so take the fetch path.
	existing, err = s.apps.GetByEventAndHandle(ctx, s.db, eventID, handle)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch application after race: %w", err)
	}
	return s.fetchExisting(ctx, existing, deviceSecret)
}

func (s *ApplicationService) fetchExisting(ctx context.Context, app *model.Application, deviceSecret string) (*model.ApplicationWithCode, error) {
	if err := s.checkDeviceBinding(app, deviceSecret); err != nil {
		return nil, err
	}

	out := &model.ApplicationWithCode{Application: *app}
	if app.Status == model.StatusApproved {
		code, err := s.codes.GetByApplication(ctx, s.db, app.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// Approval always assigns a code in the same transaction,
				// so a missing one indicates corrupted data.
				return nil, fmt.Errorf("approved application %s has no assigned code", app.ID)
			}
			return nil, fmt.Errorf("failed to fetch assigned code: %w", err)
		}
		out.AssignedCode = &code.Value
	}

	return out, nil
}

// checkDeviceBinding allows the lookup only from the client that
// created the application. An empty stored secret predates binding and
// is allowed through; that legacy gap is deliberate and logged so it
// stays visible. The secret is client-chosen and resettable, so this is
// a deterrent against handle guessing, not an auth boundary.
func (s *ApplicationService) checkDeviceBinding(app *model.Application, callerSecret string) error {
	if app.DeviceSecret == "" {
		log.Printf("application %s has no device secret, allowing unbound access", app.ID)
		return nil
	}
	if app.DeviceSecret != callerSecret {
		return ErrDeviceMismatch
	}
	return nil
}

// ListByEvent returns the dashboard projection of an event's
// applications with their assigned code values.
func (s *ApplicationService) ListByEvent(ctx context.Context, eventID string) ([]model.ApplicationWithCode, error) {
	return s.apps.ListWithCodes(ctx, s.db, eventID)
}
