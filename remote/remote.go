// Package remote defines the remote store client the sync orchestrator
// drains into: row-level insert/update/delete against a relational store,
// plus the owner-scoped select the pull path uses.
//
// The one error the orchestrator must be able to distinguish is a
// unique-constraint violation on insert — that is the signature of a
// partially-succeeded earlier pass (the remote write landed, the local
// dequeue did not), and it is recovered by re-issuing the payload as an
// update rather than failing the item.
package remote

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUniqueViolation is returned by Insert when the target row already
// exists. Match with errors.Is.
var ErrUniqueViolation = errors.New("remote: unique constraint violation")

// ErrNotFound is returned by Update when no row matched the key. Delete is
// idempotent and does not report absence.
var ErrNotFound = errors.New("remote: row not found")

// Record is one entity row as the remote store sees it: an opaque JSON
// snapshot plus the columns the engine queries on.
type Record struct {
	Key       string          `json:"key"`
	OwnerID   string          `json:"owner_id"`
	UpdatedAt int64           `json:"updated_at"` // unix millis, writer's local clock
	Payload   json.RawMessage `json:"payload"`
}

// Store is the remote CRUD contract. Table names come from
// model.EntityType.Table(). Every call is expected to carry its own timeout
// via ctx; a timeout is a recoverable failure to the orchestrator.
type Store interface {
	Insert(ctx context.Context, table string, rec Record) error
	Update(ctx context.Context, table string, key string, rec Record) error
	Delete(ctx context.Context, table string, key string) error
	SelectByOwner(ctx context.Context, table string, ownerID string) ([]Record, error)
}
