package domain

import (
	"encoding/json"
	"time"
)

// Op is the kind of mutation an item carries to the backend.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

func (o Op) IsValid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// RequiresEntityID reports whether the operation targets an existing
// remote entity and therefore must name one.
func (o Op) RequiresEntityID() bool {
	return o == OpUpdate || o == OpDelete
}

// Status tracks the lifecycle of an outbox item.
//
// Allowed transitions: pending → in_flight → {completed | pending | failed}.
// Completed items are removed from the store; failed items are retained for
// inspection and never retried automatically.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInFlight  Status = "in_flight"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
)

// ResolutionServer is the only conflict resolution the outbox applies:
// the remote copy wins, local state is reconciled by the UI layer.
const ResolutionServer = "server"

// Item is a single durable mutation waiting to reach the backend.
// The payload is domain-specific and stored verbatim; the outbox never
// inspects it.
type Item struct {
	ID                 string          `json:"id"`
	Op                 Op              `json:"op"`
	Domain             string          `json:"domain"`
	EntityID           *string         `json:"entity_id,omitempty"`
	OwnerID            string          `json:"owner_id"`
	Payload            json.RawMessage `json:"payload,omitempty"`
	AttemptCount       int             `json:"attempt_count"`
	AttemptLimit       int             `json:"attempt_limit"`
	Status             Status          `json:"status"`
	LastError          *string         `json:"last_error,omitempty"`
	ConflictResolution *string         `json:"conflict_resolution,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// EnqueueRequest is the inbound payload for a new mutation.
type EnqueueRequest struct {
	Op       Op              `json:"op"`
	Domain   string          `json:"domain"`
	EntityID *string         `json:"entity_id,omitempty"`
	OwnerID  string          `json:"owner_id"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func (r *EnqueueRequest) Validate() error {
	if !r.Op.IsValid() {
		return ErrInvalidOp
	}
	if r.Domain == "" {
		return ErrInvalidDomain
	}
	if r.OwnerID == "" {
		return ErrInvalidOwner
	}
	if r.Op.RequiresEntityID() && (r.EntityID == nil || *r.EntityID == "") {
		return ErrMissingEntityID
	}
	return nil
}

// Stats is a point-in-time snapshot of the queue contents.
// Completed is always zero in practice: completed items are removed from
// the store, not kept. The field exists so callers see the full status set.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	InFlight  int `json:"in_flight"`
	Failed    int `json:"failed"`
	Completed int `json:"completed"`
}

// Conflict describes an item that failed because the remote copy of its
// entity changed since the local mutation was created. Published to the
// conflict feed for UI-level reconciliation.
type Conflict struct {
	ItemID     string    `json:"item_id"`
	Domain     string    `json:"domain"`
	EntityID   *string   `json:"entity_id,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}
