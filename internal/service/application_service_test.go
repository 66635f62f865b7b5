package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/velvetrope/doorlist/internal/model"
)

func newApplicationService(store *memStore) *ApplicationService {
	return NewApplicationService(&fakeConn{}, &fakeApps{s: store}, &fakeCodes{s: store})
}

func TestNormalizeHandle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"alice", "alice"},
		{"@alice", "alice"},
		{"  @Alice  ", "alice"},
		{"ALICE", "alice"},
		{"@ Bob ", "bob"},
		{"@", ""},
		{"   ", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeHandle(c.in); got != c.want {
			t.Errorf("NormalizeHandle(%q) = %q, expected %q", c.in, got, c.want)
		}
	}
}

func TestSubmitCreatesPendingApplication(t *testing.T) {
	store := newMemStore()
	ev := store.addEvent()
	svc := newApplicationService(store)

	got, err := svc.SubmitOrFetch(context.Background(), ev.ID, "@Alice", "secret-1", "test-agent")
	if err != nil {
		t.Fatalf("SubmitOrFetch failed: %v", err)
	}
	if got.Handle != "alice" {
		t.Errorf("expected normalized handle alice, got %q", got.Handle)
	}
	if got.Status != model.StatusPending {
		t.Errorf("expected status pending, got %s", got.Status)
	}
	if got.AssignedCode != nil {
		t.Errorf("pending application should have no code, got %q", *got.AssignedCode)
	}

	stored := store.apps[got.ID]
	if stored == nil {
		t.Fatal("application not persisted")
	}
	if stored.DeviceSecret != "secret-1" {
		t.Errorf("expected stored secret secret-1, got %q", stored.DeviceSecret)
	}
}

func TestSubmitInvalidHandle(t *testing.T) {
	store := newMemStore()
	ev := store.addEvent()
	svc := newApplicationService(store)

	for _, raw := range []string{"", "   ", "@", " @ "} {
		_, err := svc.SubmitOrFetch(context.Background(), ev.ID, raw, "s", "")
		if !errors.Is(err, ErrInvalidHandle) {
			t.Errorf("SubmitOrFetch(%q): expected ErrInvalidHandle, got %v", raw, err)
		}
	}
}

func TestResubmitReturnsExistingApplication(t *testing.T) {
	store := newMemStore()
	ev := store.addEvent()
	svc := newApplicationService(store)

	first, err := svc.SubmitOrFetch(context.Background(), ev.ID, "alice", "secret-1", "")
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	second, err := svc.SubmitOrFetch(context.Background(), ev.ID, "  @ALICE ", "secret-1", "")
	if err != nil {
		t.Fatalf("second submit failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected same application, got %s and %s", first.ID, second.ID)
	}
	if len(store.apps) != 1 {
		t.Errorf("expected 1 application, got %d", len(store.apps))
	}
}

func TestDeviceBindingRejectsWrongSecret(t *testing.T) {
	store := newMemStore()
	ev := store.addEvent()
	store.addApplication(ev.ID, "alice", "the-right-secret", model.StatusPending)
	svc := newApplicationService(store)

	got, err := svc.SubmitOrFetch(context.Background(), ev.ID, "alice", "wrong-secret", "")
	if !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("expected ErrDeviceMismatch, got %v", err)
	}
	if got != nil {
		t.Errorf("mismatched device must not receive application data, got %+v", got)
	}
}

func TestDeviceBindingAllowsUnboundApplication(t *testing.T) {
	store := newMemStore()
	ev := store.addEvent()
	app := store.addApplication(ev.ID, "alice", "", model.StatusPending)
	svc := newApplicationService(store)

	got, err := svc.SubmitOrFetch(context.Background(), ev.ID, "alice", "any-secret", "")
	if err != nil {
		t.Fatalf("expected unbound application to be readable: %v", err)
	}
	if got.ID != app.ID {
		t.Errorf("expected application %s, got %s", app.ID, got.ID)
	}
}

func TestFetchApprovedIncludesAssignedCode(t *testing.T) {
	store := newMemStore()
	ev := store.addEvent()
	app := store.addApplication(ev.ID, "alice", "s1", model.StatusApproved)
	store.addCode(ev.ID, "123456", &app.ID)
	svc := newApplicationService(store)

	got, err := svc.SubmitOrFetch(context.Background(), ev.ID, "alice", "s1", "")
	if err != nil {
		t.Fatalf("SubmitOrFetch failed: %v", err)
	}
	if got.AssignedCode == nil || *got.AssignedCode != "123456" {
		t.Fatalf("expected assigned code 123456, got %v", got.AssignedCode)
	}
}

func TestFetchApprovedWithoutCodeIsError(t *testing.T) {
	store := newMemStore()
	ev := store.addEvent()
	store.addApplication(ev.ID, "alice", "s1", model.StatusApproved)
	svc := newApplicationService(store)

	_, err := svc.SubmitOrFetch(context.Background(), ev.ID, "alice", "s1", "")
	if err == nil {
		t.Fatal("expected error for approved application without a code")
	}
}

func TestSubmitLosingInsertRaceFetchesWinner(t *testing.T) {
	store := newMemStore()
	ev := store.addEvent()
	// The row exists but the first existence check misses it, forcing
	// the insert to hit the unique constraint.
	app := store.addApplication(ev.ID, "alice", "s1", model.StatusPending)
	store.missGetRemaining = 1
	svc := newApplicationService(store)

	got, err := svc.SubmitOrFetch(context.Background(), ev.ID, "alice", "s1", "")
	if err != nil {
		t.Fatalf("expected race loser to fall back to fetch: %v", err)
	}
	if got.ID != app.ID {
		t.Errorf("expected winner's application %s, got %s", app.ID, got.ID)
	}
	if len(store.apps) != 1 {
		t.Errorf("expected 1 application after race, got %d", len(store.apps))
	}
}

func TestConcurrentSubmitsCreateOneApplication(t *testing.T) {
	store := newMemStore()
	ev := store.addEvent()
	svc := newApplicationService(store)

	const workers = 20
	ids := make([]string, workers)
	errsCh := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := svc.SubmitOrFetch(context.Background(), ev.ID, "@Alice", "shared-secret", "")
			errsCh[i] = err
			if got != nil {
				ids[i] = got.ID
			}
		}(i)
	}
	wg.Wait()

	if len(store.apps) != 1 {
		t.Fatalf("expected exactly 1 application, got %d", len(store.apps))
	}
	for i := 0; i < workers; i++ {
		if errsCh[i] != nil {
			t.Fatalf("worker %d failed: %v", i, errsCh[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("worker %d got application %s, expected %s", i, ids[i], ids[0])
		}
	}
}

func TestListByEvent(t *testing.T) {
	store := newMemStore()
	ev := store.addEvent()
	other := store.addEvent()
	app := store.addApplication(ev.ID, "alice", "s1", model.StatusApproved)
	store.addApplication(ev.ID, "bob", "s2", model.StatusPending)
	store.addApplication(other.ID, "carol", "s3", model.StatusPending)
	store.addCode(ev.ID, "654321", &app.ID)
	svc := newApplicationService(store)

	rows, err := svc.ListByEvent(context.Background(), ev.ID)
	if err != nil {
		t.Fatalf("ListByEvent failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Handle == "alice" {
			if row.AssignedCode == nil || *row.AssignedCode != "654321" {
				t.Errorf("expected alice's code 654321, got %v", row.AssignedCode)
			}
		}
		if row.Handle == "bob" && row.AssignedCode != nil {
			t.Errorf("pending row should have nil code, got %q", *row.AssignedCode)
		}
	}
}
