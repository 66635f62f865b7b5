package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/velvetrope/doorlist/internal/service"
)

type stubRedeemer struct {
	mu       sync.Mutex
	outcome  *service.RedemptionOutcome
	block    chan struct{}
	gotValue string
	gotEvent string
}

func (r *stubRedeemer) Redeem(ctx context.Context, value, eventID string) *service.RedemptionOutcome {
	r.mu.Lock()
	r.gotValue = value
	r.gotEvent = eventID
	block := r.block
	out := r.outcome
	r.mu.Unlock()
	if block != nil {
		<-block
	}
	return out
}

type recordingFeedback struct {
	mu        sync.Mutex
	successes int
	failures  int
}

func (f *recordingFeedback) Success() {
	f.mu.Lock()
	f.successes++
	f.mu.Unlock()
}

func (f *recordingFeedback) Failure() {
	f.mu.Lock()
	f.failures++
	f.mu.Unlock()
}

func TestScanLifecycle(t *testing.T) {
	redeemer := &stubRedeemer{outcome: &service.RedemptionOutcome{Result: service.ResultApproved}}
	fb := &recordingFeedback{}
	sc := New(redeemer, fb, "event-1")

	if state, _ := sc.State(); state != StateIdle {
		t.Fatalf("new scanner should be idle, got %s", state)
	}

	sc.Arm()
	if state, _ := sc.State(); state != StateScanning {
		t.Fatalf("armed scanner should be scanning, got %s", state)
	}

	out, err := sc.Scan(context.Background(), "123456")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if out.Result != service.ResultApproved {
		t.Errorf("expected approved outcome, got %s", out.Result)
	}
	if redeemer.gotValue != "123456" || redeemer.gotEvent != "event-1" {
		t.Errorf("redeemer got (%q, %q), expected (123456, event-1)", redeemer.gotValue, redeemer.gotEvent)
	}

	state, displayed := sc.State()
	if state != StateApproved {
		t.Errorf("expected state approved, got %s", state)
	}
	if displayed != out {
		t.Error("terminal state should display the scan outcome")
	}
	if fb.successes != 1 || fb.failures != 0 {
		t.Errorf("expected one success signal, got %d/%d", fb.successes, fb.failures)
	}

	sc.Reset()
	if state, displayed := sc.State(); state != StateScanning || displayed != nil {
		t.Errorf("reset should return to scanning with no outcome, got %s %v", state, displayed)
	}
}

func TestScanRefusedOutsideScanningState(t *testing.T) {
	redeemer := &stubRedeemer{outcome: &service.RedemptionOutcome{Result: service.ResultApproved}}
	sc := New(redeemer, nil, "")

	// Idle device.
	if _, err := sc.Scan(context.Background(), "123456"); !errors.Is(err, ErrNotScanning) {
		t.Fatalf("idle scan: expected ErrNotScanning, got %v", err)
	}

	// Terminal display before reset.
	sc.Arm()
	if _, err := sc.Scan(context.Background(), "123456"); err != nil {
		t.Fatalf("armed scan failed: %v", err)
	}
	if _, err := sc.Scan(context.Background(), "654321"); !errors.Is(err, ErrNotScanning) {
		t.Fatalf("terminal scan: expected ErrNotScanning, got %v", err)
	}
}

func TestScanOutcomeStatesAndFeedback(t *testing.T) {
	cases := []struct {
		result      service.RedemptionResult
		wantState   State
		wantSuccess bool
	}{
		{service.ResultApproved, StateApproved, true},
		{service.ResultRejected, StateRejected, false},
		{service.ResultUsed, StateUsed, false},
		{service.ResultError, StateError, false},
	}
	for _, c := range cases {
		redeemer := &stubRedeemer{outcome: &service.RedemptionOutcome{Result: c.result}}
		fb := &recordingFeedback{}
		sc := New(redeemer, fb, "")
		sc.Arm()

		if _, err := sc.Scan(context.Background(), "123456"); err != nil {
			t.Fatalf("%s: Scan failed: %v", c.result, err)
		}
		state, _ := sc.State()
		if state != c.wantState {
			t.Errorf("%s: expected state %s, got %s", c.result, c.wantState, state)
		}
		if !state.Terminal() {
			t.Errorf("%s: outcome state %s should be terminal", c.result, state)
		}
		if c.wantSuccess && (fb.successes != 1 || fb.failures != 0) {
			t.Errorf("%s: expected success signal, got %d/%d", c.result, fb.successes, fb.failures)
		}
		if !c.wantSuccess && (fb.successes != 0 || fb.failures != 1) {
			t.Errorf("%s: expected failure signal, got %d/%d", c.result, fb.successes, fb.failures)
		}
	}
}

func TestResetIgnoredWhileProcessing(t *testing.T) {
	block := make(chan struct{})
	redeemer := &stubRedeemer{
		outcome: &service.RedemptionOutcome{Result: service.ResultApproved},
		block:   block,
	}
	sc := New(redeemer, nil, "")
	sc.Arm()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := sc.Scan(context.Background(), "123456"); err != nil {
			t.Errorf("Scan failed: %v", err)
		}
	}()

	// Wait for the scan to enter processing.
	for {
		if state, _ := sc.State(); state == StateProcessing {
			break
		}
		time.Sleep(time.Millisecond)
	}

	sc.Reset()
	if state, _ := sc.State(); state != StateProcessing {
		t.Fatalf("reset mid-processing should be ignored, got %s", state)
	}

	close(block)
	<-done
	if state, _ := sc.State(); state != StateApproved {
		t.Fatalf("expected approved after processing, got %s", state)
	}
}

func TestConcurrentScansSingleWinner(t *testing.T) {
	redeemer := &stubRedeemer{outcome: &service.RedemptionOutcome{Result: service.ResultApproved}}
	sc := New(redeemer, nil, "")
	sc.Arm()

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = sc.Scan(context.Background(), "123456")
		}(i)
	}
	wg.Wait()

	accepted := 0
	for i, err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrNotScanning):
		default:
			t.Fatalf("scan %d: unexpected error %v", i, err)
		}
	}
	if accepted != 1 {
		t.Fatalf("expected exactly 1 accepted scan, got %d", accepted)
	}
}
