package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/velvetrope/doorlist/internal/metrics"
	"github.com/velvetrope/doorlist/internal/model"
	"github.com/velvetrope/doorlist/internal/repository"
)

// RedemptionResult tags the terminal outcome of a door scan.
type RedemptionResult string

const (
	ResultApproved RedemptionResult = "approved"
	ResultRejected RedemptionResult = "rejected"
	ResultUsed     RedemptionResult = "used"
	ResultError    RedemptionResult = "error"
)

// Success reports the feedback class of the outcome: approved gets the
// success signal, everything else the failure signal.
func (r RedemptionResult) Success() bool {
	return r == ResultApproved
}

// RedemptionOutcome is what the door device renders. Every scan
// resolves to one of these; redemption never escapes as a raw error.
type RedemptionOutcome struct {
	Result     RedemptionResult `json:"result"`
	Message    string           `json:"message"`
	Handle     string           `json:"handle,omitempty"`
	RedeemedAt *time.Time       `json:"redeemed_at,omitempty"`
}

// Stores required by the redemption engine (interfaces to allow mocking)
type redeemableCodeStore interface {
	LookupByValue(ctx context.Context, db repository.DBExecutor, value, eventID string) (*model.Code, error)
	Redeem(ctx context.Context, db repository.DBExecutor, codeID string) (time.Time, error)
}

type redemptionApplicationStore interface {
	GetByID(ctx context.Context, db repository.DBExecutor, id string) (*model.Application, error)
}

// RedemptionService validates a scanned code and performs the one-time
// redemption. It is the only writer of redeemed_at.
type RedemptionService struct {
	db    repository.Conn
	codes redeemableCodeStore
	apps  redemptionApplicationStore
}

// NewRedemptionService creates a new RedemptionService instance
func NewRedemptionService(db repository.Conn, codes redeemableCodeStore, apps redemptionApplicationStore) *RedemptionService {
	return &RedemptionService{
		db:    db,
		codes: codes,
		apps:  apps,
	}
}

// Redeem resolves a scanned value to its terminal outcome. eventID may
// be empty for doors serving whichever event is open, or set to pin the
// scanner to a single event's pool.
//
// The redeemed_at write is conditional on the column still being NULL,
// so concurrent scans of the same code produce exactly one approved
// outcome; every loser observes used with the winner's timestamp.
func (s *RedemptionService) Redeem(ctx context.Context, value, eventID string) *RedemptionOutcome {
	outcome := s.redeem(ctx, value, eventID)
	metrics.RecordRedemptionOutcome(string(outcome.Result))
	return outcome
}

func (s *RedemptionService) redeem(ctx context.Context, value, eventID string) *RedemptionOutcome {
	code, err := s.codes.LookupByValue(ctx, s.db, value, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &RedemptionOutcome{Result: ResultRejected, Message: "invalid code"}
		}
		log.Printf("redeem %q: lookup failed: %v", value, err)
		return &RedemptionOutcome{Result: ResultError, Message: "system error, try again"}
	}

	if code.Redeemed() {
		return &RedemptionOutcome{
			Result:     ResultUsed,
			Message:    "code already used",
			RedeemedAt: code.RedeemedAt,
		}
	}

	// A code with no bound application never completed approval.
	if !code.Assigned() {
		return &RedemptionOutcome{Result: ResultRejected, Message: "application not approved"}
	}

	app, err := s.apps.GetByID(ctx, s.db, *code.AssignedApplicationID)
	if err != nil {
		log.Printf("redeem %q: application load failed: %v", value, err)
		return &RedemptionOutcome{Result: ResultError, Message: "system error, try again"}
	}
	if app.Status != model.StatusApproved {
		return &RedemptionOutcome{Result: ResultRejected, Message: "application not approved"}
	}

	redeemedAt, err := s.codes.Redeem(ctx, s.db, code.ID)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyRedeemed) {
			// Lost the race to another door; report the winner's timestamp.
			return s.usedOutcome(ctx, value, eventID)
		}
		log.Printf("redeem %q: redemption write failed: %v", value, err)
		return &RedemptionOutcome{Result: ResultError, Message: "system error, try again"}
	}

	return &RedemptionOutcome{
		Result:     ResultApproved,
		Message:    "access granted",
		Handle:     app.Handle,
		RedeemedAt: &redeemedAt,
	}
}

func (s *RedemptionService) usedOutcome(ctx context.Context, value, eventID string) *RedemptionOutcome {
	code, err := s.codes.LookupByValue(ctx, s.db, value, eventID)
	if err != nil || code.RedeemedAt == nil {
		log.Printf("redeem %q: re-read after lost race failed: %v", value, err)
		return &RedemptionOutcome{Result: ResultError, Message: "system error, try again"}
	}
	return &RedemptionOutcome{
		Result:     ResultUsed,
		Message:    "code already used",
		RedeemedAt: code.RedeemedAt,
	}
}
