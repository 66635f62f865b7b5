package model

import (
	"time"
)

// ApplicationStatus is the lifecycle state of a guest application.
// Transitions only go pending -> approved or pending -> rejected;
// both approved and rejected are terminal.
type ApplicationStatus string

const (
	StatusPending  ApplicationStatus = "pending"
	StatusApproved ApplicationStatus = "approved"
	StatusRejected ApplicationStatus = "rejected"
)

// Terminal reports whether no further status transition is allowed.
func (s ApplicationStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Event represents an event row in the database. Events anchor
// applications and codes; deleting an event cascades to both.
type Event struct {
	ID          string    `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Date        time.Time `db:"date" json:"date"`
	Description *string   `db:"description" json:"description,omitempty"`
	Location    string    `db:"location" json:"location"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Application represents a guest application in the database.
// The (event_id, handle) pair is unique. DeviceSecret is the opaque
// client-chosen binding token, set once at creation and never updated.
type Application struct {
	ID           string            `db:"id" json:"id"`
	EventID      string            `db:"event_id" json:"event_id"`
	Handle       string            `db:"handle" json:"handle"`
	Status       ApplicationStatus `db:"status" json:"status"`
	DeviceSecret string            `db:"device_secret" json:"-"`
	UserAgent    string            `db:"user_agent" json:"-"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
}

// Code represents a single-use redemption code in the database.
// The (event_id, value) pair is unique. AssignedApplicationID is set
// exactly once by approval; RedeemedAt is set exactly once at the door.
type Code struct {
	ID                    string     `db:"id" json:"id"`
	EventID               string     `db:"event_id" json:"event_id"`
	Value                 string     `db:"value" json:"value"`
	AssignedApplicationID *string    `db:"assigned_application_id" json:"assigned_application_id,omitempty"`
	RedeemedAt            *time.Time `db:"redeemed_at" json:"redeemed_at,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
}

// Assigned reports whether the code has been claimed by an application.
func (c *Code) Assigned() bool {
	return c.AssignedApplicationID != nil
}

// Redeemed reports whether the code has already been used at the door.
func (c *Code) Redeemed() bool {
	return c.RedeemedAt != nil
}

// ApplicationWithCode is the admin dashboard projection: an application
// together with its assigned code value, if any.
type ApplicationWithCode struct {
	Application
	AssignedCode *string `db:"assigned_code" json:"assigned_code,omitempty"`
}

// PoolStats summarizes an event's code pool for the dashboard.
type PoolStats struct {
	Total      int `db:"total" json:"total"`
	Unassigned int `db:"unassigned" json:"unassigned"`
	Redeemed   int `db:"redeemed" json:"redeemed"`
}
