// Package scanner holds the door-side workflow state machine. One
// Scanner instance backs one door device; redemption decisions live in
// the redemption service, this type only sequences the device states
// and drives operator feedback.
package scanner

import (
	"context"
	"errors"
	"sync"

	"github.com/velvetrope/doorlist/internal/service"
)

// State is the scanner's current workflow position.
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateProcessing State = "processing"
	StateApproved   State = "approved"
	StateRejected   State = "rejected"
	StateUsed       State = "used"
	StateError      State = "error"
)

// Terminal reports whether the state needs an explicit staff Reset
// before another scan is accepted. There is no auto-timeout.
func (s State) Terminal() bool {
	switch s {
	case StateApproved, StateRejected, StateUsed, StateError:
		return true
	}
	return false
}

// ErrNotScanning is returned when a scan arrives while the device is
// not in the scanning state (still processing, or showing a result).
var ErrNotScanning = errors.New("scanner not ready for a scan")

// Redeemer resolves a scanned value to its terminal outcome.
type Redeemer interface {
	Redeem(ctx context.Context, value, eventID string) *service.RedemptionOutcome
}

// Feedback receives the operator signal for each terminal state.
// Implementations must be deterministic per outcome class: Success for
// approved, Failure for rejected, used and error.
type Feedback interface {
	Success()
	Failure()
}

// NopFeedback discards feedback signals.
type NopFeedback struct{}

func (NopFeedback) Success() {}
func (NopFeedback) Failure() {}

// Scanner is the door device state machine. Safe for concurrent use;
// overlapping scan requests beyond the first are refused rather than
// queued, matching a single physical camera.
type Scanner struct {
	redeemer Redeemer
	feedback Feedback

	// Pins the device to one event's pool when non-empty.
	eventID string

	mu      sync.Mutex
	state   State
	outcome *service.RedemptionOutcome
}

// New creates a scanner in the idle state.
func New(redeemer Redeemer, feedback Feedback, eventID string) *Scanner {
	if feedback == nil {
		feedback = NopFeedback{}
	}
	return &Scanner{
		redeemer: redeemer,
		feedback: feedback,
		eventID:  eventID,
		state:    StateIdle,
	}
}

// Arm moves an idle device to scanning.
func (s *Scanner) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		s.state = StateScanning
	}
}

// State returns the current state and, in a terminal state, the
// outcome being displayed.
func (s *Scanner) State() (State, *service.RedemptionOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.outcome
}

// Scan processes one scanned code value: scanning -> processing ->
// terminal. The terminal state mirrors the redemption outcome and
// fires the matching feedback signal.
func (s *Scanner) Scan(ctx context.Context, value string) (*service.RedemptionOutcome, error) {
	s.mu.Lock()
	if s.state != StateScanning {
		s.mu.Unlock()
		return nil, ErrNotScanning
	}
	s.state = StateProcessing
	s.mu.Unlock()

	outcome := s.redeemer.Redeem(ctx, value, s.eventID)

	s.mu.Lock()
	s.state = stateFor(outcome.Result)
	s.outcome = outcome
	s.mu.Unlock()

	if outcome.Result.Success() {
		s.feedback.Success()
	} else {
		s.feedback.Failure()
	}

	return outcome, nil
}

// Reset is the explicit staff action returning a terminal display to
// scanning. It is ignored mid-processing.
func (s *Scanner) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() || s.state == StateIdle {
		s.state = StateScanning
		s.outcome = nil
	}
}

func stateFor(result service.RedemptionResult) State {
	switch result {
	case service.ResultApproved:
		return StateApproved
	case service.ResultRejected:
		return StateRejected
	case service.ResultUsed:
		return StateUsed
	default:
		return StateError
	}
}
