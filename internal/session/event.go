package session

import "time"

// ViolationEvent is a single classified anomaly derived from sustained
// signal conditions. Events are immutable once created: the detector emits
// them and the aggregator consumes each exactly once.
type ViolationEvent struct {
	Kind        ViolationKind `json:"eventType"`
	Description string        `json:"description"`
	Severity    Severity      `json:"severity"`
	OccurredAt  time.Time     `json:"timestamp"`
}
