package service

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/velvetrope/doorlist/internal/model"
	"github.com/velvetrope/doorlist/internal/repository"
)

// In-memory doubles for the repository layer. They mirror the
// conditional-write semantics the SQL enforces (unique handle per
// event, claim-once, redeem-once) under a single mutex, which is what
// lets the concurrency properties be exercised without Postgres.

type nopExecutor struct{}

func (nopExecutor) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, nil
}
func (nopExecutor) GetContext(context.Context, interface{}, string, ...interface{}) error {
	return nil
}
func (nopExecutor) SelectContext(context.Context, interface{}, string, ...interface{}) error {
	return nil
}

type fakeTx struct {
	nopExecutor
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit() error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback() error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeConn struct {
	nopExecutor
	mu     sync.Mutex
	lastTx *fakeTx
}

func (c *fakeConn) Begin(ctx context.Context) (repository.Tx, error) {
	tx := &fakeTx{}
	c.mu.Lock()
	c.lastTx = tx
	c.mu.Unlock()
	return tx, nil
}

func (c *fakeConn) last() *fakeTx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTx
}

type memStore struct {
	mu sync.Mutex

	events   map[string]*model.Event
	apps     map[string]*model.Application
	byHandle map[string]string // eventID+"/"+handle -> application id
	codes    map[string]*model.Code
	claimed  map[string]bool // codes locked by an in-flight approval

	// hooks for failure injection
	insertBatchHook  func(values []string) (int, error)
	updateStatusErr  error
	missGetRemaining int
}

func newMemStore() *memStore {
	return &memStore{
		events:   make(map[string]*model.Event),
		apps:     make(map[string]*model.Application),
		byHandle: make(map[string]string),
		codes:    make(map[string]*model.Code),
		claimed:  make(map[string]bool),
	}
}

func (s *memStore) addEvent() *model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := &model.Event{
		ID:       uuid.New().String(),
		Title:    "test event",
		Date:     time.Now().Add(24 * time.Hour),
		Location: "somewhere",
		IsActive: true,
	}
	s.events[ev.ID] = ev
	return ev
}

func (s *memStore) addApplication(eventID, handle, secret string, status model.ApplicationStatus) *model.Application {
	s.mu.Lock()
	defer s.mu.Unlock()
	app := &model.Application{
		ID:           uuid.New().String(),
		EventID:      eventID,
		Handle:       handle,
		Status:       status,
		DeviceSecret: secret,
		CreatedAt:    time.Now(),
	}
	s.apps[app.ID] = app
	s.byHandle[eventID+"/"+handle] = app.ID
	return app
}

func (s *memStore) addCode(eventID, value string, assignedTo *string) *model.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := &model.Code{
		ID:                    uuid.New().String(),
		EventID:               eventID,
		Value:                 value,
		AssignedApplicationID: assignedTo,
		CreatedAt:             time.Now(),
	}
	s.codes[code.ID] = code
	return code
}

func (s *memStore) codesForEvent(eventID string) []*model.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Code
	for _, c := range s.codes {
		if c.EventID == eventID {
			out = append(out, c)
		}
	}
	return out
}

// --- applications ---

type fakeApps struct{ s *memStore }

func (f *fakeApps) Insert(ctx context.Context, db repository.DBExecutor, app *model.Application) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	key := app.EventID + "/" + app.Handle
	if _, exists := f.s.byHandle[key]; exists {
		return repository.ErrDuplicate
	}
	app.ID = uuid.New().String()
	app.CreatedAt = time.Now()
	stored := *app
	f.s.apps[app.ID] = &stored
	f.s.byHandle[key] = app.ID
	return nil
}

func (f *fakeApps) GetByEventAndHandle(ctx context.Context, db repository.DBExecutor, eventID, handle string) (*model.Application, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.missGetRemaining > 0 {
		f.s.missGetRemaining--
		return nil, repository.ErrNotFound
	}
	id, ok := f.s.byHandle[eventID+"/"+handle]
	if !ok {
		return nil, repository.ErrNotFound
	}
	app := *f.s.apps[id]
	return &app, nil
}

func (f *fakeApps) GetByID(ctx context.Context, db repository.DBExecutor, id string) (*model.Application, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	app, ok := f.s.apps[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *app
	return &out, nil
}

func (f *fakeApps) GetByIDForUpdate(ctx context.Context, tx repository.DBExecutor, id string) (*model.Application, error) {
	return f.GetByID(ctx, tx, id)
}

func (f *fakeApps) UpdateStatus(ctx context.Context, db repository.DBExecutor, id string, status model.ApplicationStatus) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.updateStatusErr != nil {
		return f.s.updateStatusErr
	}
	app, ok := f.s.apps[id]
	if !ok {
		return repository.ErrNotFound
	}
	if app.Status != model.StatusPending {
		return repository.ErrNotPending
	}
	app.Status = status
	return nil
}

func (f *fakeApps) ListWithCodes(ctx context.Context, db repository.DBExecutor, eventID string) ([]model.ApplicationWithCode, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []model.ApplicationWithCode
	for _, app := range f.s.apps {
		if app.EventID != eventID {
			continue
		}
		row := model.ApplicationWithCode{Application: *app}
		for _, c := range f.s.codes {
			if c.AssignedApplicationID != nil && *c.AssignedApplicationID == app.ID {
				v := c.Value
				row.AssignedCode = &v
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// --- codes ---

type fakeCodes struct{ s *memStore }

func (f *fakeCodes) InsertBatch(ctx context.Context, db repository.DBExecutor, eventID string, values []string) (int, error) {
	f.s.mu.Lock()
	hook := f.s.insertBatchHook
	f.s.mu.Unlock()
	if hook != nil {
		return hook(values)
	}

	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	// Values are unique across all events, matching the schema.
	existing := make(map[string]bool)
	for _, c := range f.s.codes {
		existing[c.Value] = true
	}
	inserted := 0
	for _, v := range values {
		if existing[v] {
			continue
		}
		existing[v] = true
		code := &model.Code{
			ID:        uuid.New().String(),
			EventID:   eventID,
			Value:     v,
			CreatedAt: time.Now(),
		}
		f.s.codes[code.ID] = code
		inserted++
	}
	return inserted, nil
}

func (f *fakeCodes) ClaimUnassigned(ctx context.Context, tx repository.DBExecutor, eventID string) (*model.Code, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, c := range f.s.codes {
		if c.EventID == eventID && c.AssignedApplicationID == nil && !f.s.claimed[c.ID] {
			f.s.claimed[c.ID] = true
			out := *c
			return &out, nil
		}
	}
	return nil, repository.ErrNoUnassignedCodes
}

func (f *fakeCodes) Assign(ctx context.Context, db repository.DBExecutor, codeID, applicationID string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	code, ok := f.s.codes[codeID]
	if !ok || code.AssignedApplicationID != nil {
		return repository.ErrAlreadyAssigned
	}
	code.AssignedApplicationID = &applicationID
	return nil
}

func (f *fakeCodes) LookupByValue(ctx context.Context, db repository.DBExecutor, value, eventID string) (*model.Code, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, c := range f.s.codes {
		if c.Value != value {
			continue
		}
		if eventID != "" && c.EventID != eventID {
			continue
		}
		out := *c
		return &out, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeCodes) GetByApplication(ctx context.Context, db repository.DBExecutor, applicationID string) (*model.Code, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, c := range f.s.codes {
		if c.AssignedApplicationID != nil && *c.AssignedApplicationID == applicationID {
			out := *c
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeCodes) Redeem(ctx context.Context, db repository.DBExecutor, codeID string) (time.Time, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	code, ok := f.s.codes[codeID]
	if !ok {
		return time.Time{}, repository.ErrNotFound
	}
	if code.RedeemedAt != nil {
		return time.Time{}, repository.ErrAlreadyRedeemed
	}
	now := time.Now()
	code.RedeemedAt = &now
	return now, nil
}

func (f *fakeCodes) Stats(ctx context.Context, db repository.DBExecutor, eventID string) (*model.PoolStats, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	stats := &model.PoolStats{}
	for _, c := range f.s.codes {
		if c.EventID != eventID {
			continue
		}
		stats.Total++
		if c.AssignedApplicationID == nil {
			stats.Unassigned++
		}
		if c.RedeemedAt != nil {
			stats.Redeemed++
		}
	}
	return stats, nil
}

// --- events ---

type fakeEvents struct{ s *memStore }

func (f *fakeEvents) GetByID(ctx context.Context, db repository.DBExecutor, id string) (*model.Event, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	ev, ok := f.s.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *ev
	return &out, nil
}
