package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Signal log events
	EventSignalRecorded EventType = "signal.recorded"
	EventSignalRejected EventType = "signal.rejected"

	// Tier events
	EventTierPromoted EventType = "tier.promoted"
	EventTierDemoted  EventType = "tier.demoted"

	// Policy events
	EventPolicyUpserted EventType = "policy.upserted"
	EventPoliciesSeeded EventType = "policy.seeded"

	// Operator events
	EventKeyControlsChanged EventType = "key.controls_changed"

	// Sweep events
	EventSweepCompleted EventType = "sweep.completed"

	// Configuration events
	EventConfigLoaded  EventType = "config.loaded"
	EventConfigChanged EventType = "config.changed"
	EventConfigReload  EventType = "config.reload"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
	EventHealthCheck    EventType = "system.health_check"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPending Result = "pending"
	ResultDenied  Result = "denied"
)

// Event represents a single audit event
type Event struct {
	// Core fields
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Actor information
	Actor     string `json:"actor,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	SourceIP  string `json:"source_ip,omitempty"`

	// Trust key information
	OrgID      string `json:"org_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	ActionType string `json:"action_type,omitempty"`

	// Tier movement
	FromTier string `json:"from_tier,omitempty"`
	ToTier   string `json:"to_tier,omitempty"`

	// Details
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	// Error information
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	// Duration tracking
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultPending,
		Metadata:  make(map[string]interface{}),
	}
}

// WithCorrelationID sets the correlation ID for event tracking
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithActor sets who triggered the event (an admin, an agent pipeline, the sweep)
func (e *Event) WithActor(actor string) *Event {
	e.Actor = actor
	return e
}

// WithKey sets the (user, action type) trust key the event concerns
func (e *Event) WithKey(userID, actionType string) *Event {
	e.UserID = userID
	e.ActionType = actionType
	return e
}

// WithOrg sets the organization the event concerns
func (e *Event) WithOrg(orgID string) *Event {
	e.OrgID = orgID
	return e
}

// WithTiers sets the tier movement recorded by the event
func (e *Event) WithTiers(from, to string) *Event {
	e.FromTier = from
	e.ToTier = to
	return e
}

// WithDescription sets a human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithResult sets the result of the event
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError sets error information
func (e *Event) WithError(err error, code string) *Event {
	if err != nil {
		e.Error = err.Error()
		e.ErrorCode = code
		e.Result = ResultFailure
	}
	return e
}

// WithDuration sets the duration in milliseconds
func (e *Event) WithDuration(duration time.Duration) *Event {
	e.DurationMs = duration.Milliseconds()
	return e
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	e.Metadata[key] = value
	return e
}
