package ws

import (
	"time"

	"github.com/udaybagda/focus-proctoring-system/internal/session"
)

type MessageType string

// Outbound message types.
const (
	MsgSessionSnapshot MessageType = "session_snapshot"
	MsgViolation       MessageType = "violation"
	MsgSessionEnded    MessageType = "session_ended"
	MsgError           MessageType = "error"
)

// Inbound message types.
const (
	MsgJoinSession    MessageType = "join_session"
	MsgLeaveSession   MessageType = "leave_session"
	MsgDetectionEvent MessageType = "detection_event"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ClientMessage is what observers and detection front ends send over the
// socket. SessionID identifies the room; Event is only set for
// detection_event messages carrying a pre-formed violation.
type ClientMessage struct {
	Type      MessageType   `json:"type"`
	SessionID string        `json:"sessionId,omitempty"`
	Event     *InboundEvent `json:"event,omitempty"`
}

// InboundEvent is a pre-formed violation sent by the detection front end.
// The timestamp is implicit: the server stamps arrival time.
type InboundEvent struct {
	EventType   string  `json:"eventType"`
	Description string  `json:"description"`
	Severity    *string `json:"severity,omitempty"`
}

// SnapshotPayload carries the full current session state, sent to an
// observer on subscribe so it can catch up without a replay log.
type SnapshotPayload struct {
	Session *session.Session `json:"session"`
}

// ViolationPayload is the per-event broadcast fanned out to every
// subscriber of the session.
type ViolationPayload struct {
	EventType       string             `json:"eventType"`
	Description     string             `json:"description"`
	Timestamp       time.Time          `json:"timestamp"`
	Severity        session.Severity   `json:"severity"`
	ViolationCounts session.Violations `json:"violationCounts"`
	IntegrityScore  int                `json:"integrityScore"`
}

type SessionEndedPayload struct {
	SessionID      string `json:"sessionId"`
	Status         string `json:"status"`
	IntegrityScore int    `json:"integrityScore"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
