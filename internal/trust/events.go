package trust

import "time"

// EventType classifies engine events published to observers (dashboards,
// notification collaborators). Delivery is outside the engine's consistency
// boundary: a dropped event never affects stored state.
type EventType string

const (
	EventSignalRecorded      EventType = "signal.recorded"
	EventAggregateRecomputed EventType = "aggregate.recomputed"
	EventTierPromoted        EventType = "tier.promoted"
	EventTierDemoted         EventType = "tier.demoted"
	EventPolicyUpdated       EventType = "policy.updated"
	EventSweepCompleted      EventType = "sweep.completed"
	EventControlsChanged     EventType = "key.controls_changed"
)

// Event is one observable engine occurrence.
type Event struct {
	Type       EventType   `json:"type"`
	OrgID      string      `json:"org_id,omitempty"`
	UserID     string      `json:"user_id,omitempty"`
	ActionType string      `json:"action_type,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	At         time.Time   `json:"at"`
}

// EventSink receives engine events. Publish must not block: the engine calls
// it inline on the write path and will not wait on slow consumers.
type EventSink interface {
	Publish(Event)
}
