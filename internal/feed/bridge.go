// Package feed is the change-notification bridge: it turns the
// database's LISTEN/NOTIFY stream of application mutations into
// per-event subscriptions for dashboards. It is read-only fan-out and
// never mutates core state.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/velvetrope/doorlist/internal/model"
	"github.com/velvetrope/doorlist/internal/repository"
)

// Change is one delivered application mutation. Payload fields come
// from the notify triggers in schema.sql; AssignedCode is filled in by
// the bridge for rows transitioning to approved, so observers can
// render the code without racing the code write. Resync marks a
// listener reconnect: deliveries may have been missed and the consumer
// should reconcile with a full re-fetch.
type Change struct {
	Table   string                  `json:"table"`
	Action  string                  `json:"action"` // INSERT or UPDATE
	ID      string                  `json:"id"`
	EventID string                  `json:"event_id"`
	Handle  string                  `json:"handle,omitempty"`
	Status  model.ApplicationStatus `json:"status,omitempty"`
	At      time.Time               `json:"at"`

	AssignedCode string `json:"-"`
	Resync       bool   `json:"-"`
}

// NotificationSource is the subset of *pq.Listener the bridge consumes.
type NotificationSource interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
}

type assignedCodeStore interface {
	GetByApplication(ctx context.Context, db repository.DBExecutor, applicationID string) (*model.Code, error)
}

// Bridge fans notifications out to per-event subscribers. Delivery is
// at-least-once and best-effort: a subscriber that stops draining its
// channel loses changes rather than stalling the feed.
type Bridge struct {
	src    NotificationSource
	db     repository.DBExecutor
	codes  assignedCodeStore
	buffer int
	ping   time.Duration

	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan Change // eventID -> subscriber id -> channel
}

// NewBridge creates a bridge over an already-listening source.
func NewBridge(src NotificationSource, db repository.DBExecutor, codes assignedCodeStore, buffer int, pingInterval time.Duration) *Bridge {
	if buffer <= 0 {
		buffer = 64
	}
	if pingInterval <= 0 {
		pingInterval = 55 * time.Second
	}
	return &Bridge{
		src:    src,
		db:     db,
		codes:  codes,
		buffer: buffer,
		ping:   pingInterval,
		subs:   make(map[string]map[int]chan Change),
	}
}

// Subscribe registers an observer for one event's application changes.
// The returned cancel func must be called to release the subscription;
// the channel is closed by cancel.
func (b *Bridge) Subscribe(eventID string) (<-chan Change, func()) {
	ch := make(chan Change, b.buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[eventID] == nil {
		b.subs[eventID] = make(map[int]chan Change)
	}
	b.subs[eventID][id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[eventID]; ok {
			if _, ok := set[id]; ok {
				delete(set, id)
				close(ch)
			}
			if len(set) == 0 {
				delete(b.subs, eventID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Run consumes the notification stream until the context is cancelled.
// A single consuming goroutine preserves the channel's delivery order,
// which is what keeps same-row updates in write order downstream.
func (b *Bridge) Run(ctx context.Context) error {
	notifications := b.src.NotificationChannel()
	keepalive := time.NewTicker(b.ping)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case n, ok := <-notifications:
			if !ok {
				return errors.New("notification channel closed")
			}
			// pq delivers a nil notification after the listener
			// reconnects; deliveries may have been dropped in the gap.
			if n == nil {
				b.broadcastResync()
				continue
			}
			b.handle(ctx, n)

		case <-keepalive.C:
			if err := b.src.Ping(); err != nil {
				log.Printf("feed: listener ping failed: %v", err)
			}
		}
	}
}

func (b *Bridge) handle(ctx context.Context, n *pq.Notification) {
	var change Change
	if err := json.Unmarshal([]byte(n.Extra), &change); err != nil {
		log.Printf("feed: failed to decode notify payload: %v", err)
		return
	}

	// An update landing on approved must carry the bound code so the
	// dashboard never renders an approved row without one.
	if change.Status == model.StatusApproved {
		code, err := b.codes.GetByApplication(ctx, b.db, change.ID)
		if err != nil {
			log.Printf("feed: failed to fetch code for application %s: %v", change.ID, err)
		} else {
			change.AssignedCode = code.Value
		}
	}

	b.deliver(change.EventID, change)
}

func (b *Bridge) broadcastResync() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for eventID, set := range b.subs {
		for _, ch := range set {
			select {
			case ch <- Change{EventID: eventID, Resync: true}:
			default:
			}
		}
	}
}

func (b *Bridge) deliver(eventID string, change Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[eventID] {
		select {
		case ch <- change:
		default:
			// Slow subscriber; it reconciles on its next re-fetch.
			log.Printf("feed: dropping change %s/%s for a slow subscriber", change.Table, change.ID)
		}
	}
}
