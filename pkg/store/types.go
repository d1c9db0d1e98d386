package store

import (
	"context"
	"encoding/json"
	"time"
)

// EventType represents the kind of event.
type EventType string

const (
	EventTypeUsageObserved  EventType = "usage_observed"
	EventTypeFetchFailed    EventType = "fetch_failed"
	EventTypeGateBlocked    EventType = "gate_blocked"
	EventTypeGateUnblocked  EventType = "gate_unblocked"
	EventTypeAccessDenied   EventType = "access_denied"
	EventTypeQuotaDepleted  EventType = "quota_depleted"
	EventTypeQuotaRestored  EventType = "quota_restored"
	EventTypeAccountAdded   EventType = "account_added"
	EventTypeAccountRemoved EventType = "account_removed"
)

// Event is the append-only record of everything the daemon observed:
// usage readings, failed fetches, gate transitions, notifications.
type Event struct {
	EventID  string          `json:"event_id"`
	Type     EventType       `json:"event_type"`
	Provider string          `json:"provider"`
	TsEvent  time.Time       `json:"ts_event"`
	TsIngest time.Time       `json:"ts_ingest"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// StateStore is the flat durable key-value store backing gate and
// cooldown state. Writes for different keys may proceed concurrently;
// callers serialize access per key (single writer per provider).
type StateStore interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	Set(ctx context.Context, key string, value []byte) error

	Delete(ctx context.Context, key string) error
}

// EventSink receives events for the append-only log. The orchestrator
// depends on this narrow interface so tests can capture events without
// a database.
type EventSink interface {
	AppendEvent(ctx context.Context, event *Event) error
}
