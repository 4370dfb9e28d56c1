// Package model contains the core data types shared by the tripsync engine:
// entity records, mutation records, and the sync status snapshot. It depends
// only on the standard library — every other package imports it.
package model

import (
	"encoding/json"
	"fmt"
)

// EntityType identifies which kind of record a mutation targets.
// The set is closed: the engine knows how to decode each variant's payload.
type EntityType string

const (
	EntityProfile      EntityType = "profile"
	EntityTrip         EntityType = "trip"
	EntityRatedFeature EntityType = "rated_feature"
)

// EntityTypes lists all known entity types in pull-merge order.
var EntityTypes = []EntityType{EntityProfile, EntityTrip, EntityRatedFeature}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityProfile, EntityTrip, EntityRatedFeature:
		return true
	}
	return false
}

// Table returns the remote store table name for the entity type.
func (t EntityType) Table() string {
	switch t {
	case EntityProfile:
		return "profiles"
	case EntityTrip:
		return "trips"
	case EntityRatedFeature:
		return "rated_features"
	}
	return ""
}

// Operation is the remote mutation kind.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// TripStatus is the lifecycle state of a trip.
type TripStatus string

const (
	TripActive    TripStatus = "active"
	TripPaused    TripStatus = "paused"
	TripCompleted TripStatus = "completed"
	TripDiscarded TripStatus = "discarded"
)

// Terminal reports whether the status ends the trip lifecycle. Completing a
// trip is the transition the coordinator treats as a prompt-sync hint.
func (s TripStatus) Terminal() bool {
	return s == TripCompleted || s == TripDiscarded
}

// Profile is a user's profile record.
type Profile struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"display_name"`
	Email        string   `json:"email,omitempty"`
	MobilityAids []string `json:"mobility_aids,omitempty"`
	UpdatedAt    int64    `json:"updated_at"` // unix millis, local clock
}

// Trip is a single recorded trip. Geometry stays opaque to the engine: the
// polyline is whatever the GPS layer encoded.
type Trip struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	Status         TripStatus `json:"status"`
	StartedAt      int64      `json:"started_at"`
	EndedAt        int64      `json:"ended_at,omitempty"`
	DistanceMeters float64    `json:"distance_meters,omitempty"`
	Polyline       string     `json:"polyline,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	UpdatedAt      int64      `json:"updated_at"`
}

// RatedFeature is an accessibility rating a user attached to a map feature
// (a ramp, a crossing, an obstacle) along a trip.
type RatedFeature struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"owner_id"`
	TripID      string  `json:"trip_id,omitempty"`
	FeatureType string  `json:"feature_type"`
	Rating      int     `json:"rating"` // 1 (impassable) .. 5 (fully accessible)
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Comment     string  `json:"comment,omitempty"`
	UpdatedAt   int64   `json:"updated_at"`
}

// MutationRecord is one pending change in the sync queue. Once enqueued it is
// immutable except for RetryCount and LastError; a newer edit to the same
// entity replaces the whole record instead of mutating it.
type MutationRecord struct {
	ID         string          `json:"id"`
	EntityType EntityType      `json:"entity_type"`
	Operation  Operation       `json:"operation"`
	EntityKey  string          `json:"entity_key"`
	OwnerID    string          `json:"owner_id"`
	Payload    json.RawMessage `json:"payload,omitempty"` // full snapshot for insert/update, empty for delete
	EnqueuedAt int64           `json:"enqueued_at"`       // unix millis
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
}

// SyncStatus is the ephemeral status snapshot consumed by the UI indicator.
// It is recomputed after every enqueue, sync pass, and connectivity
// transition, never persisted.
type SyncStatus struct {
	IsOnline     bool  `json:"is_online"`
	IsSyncing    bool  `json:"is_syncing"`
	LastSyncAt   int64 `json:"last_sync_at,omitempty"` // unix millis, zero until first pass
	PendingCount int   `json:"pending_count"`
	FailedCount  int   `json:"failed_count"` // retry-exhausted items retained for inspection
}

// DecodePayload validates that raw decodes as the payload variant for t and
// returns the decoded entity as the concrete type. Delete mutations carry no
// payload and are not decodable.
func DecodePayload(t EntityType, raw json.RawMessage) (any, error) {
	switch t {
	case EntityProfile:
		var p Profile
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("model: decode profile payload: %w", err)
		}
		return p, nil
	case EntityTrip:
		var tr Trip
		if err := json.Unmarshal(raw, &tr); err != nil {
			return nil, fmt.Errorf("model: decode trip payload: %w", err)
		}
		return tr, nil
	case EntityRatedFeature:
		var f RatedFeature
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("model: decode rated feature payload: %w", err)
		}
		return f, nil
	}
	return nil, fmt.Errorf("model: unknown entity type %q", t)
}
