package session

import "encoding/json"

// ViolationKind classifies detected proctoring violations.
type ViolationKind int

const (
	FocusLost ViolationKind = iota
	FaceAbsent
	MultipleFaces
	UnauthorizedItem
	Drowsiness
	BackgroundAudio
)

var kindNames = map[ViolationKind]string{
	FocusLost:        "focus_lost",
	FaceAbsent:       "face_absent",
	MultipleFaces:    "multiple_faces",
	UnauthorizedItem: "unauthorized_item",
	Drowsiness:       "drowsiness",
	BackgroundAudio:  "background_audio",
}

var kindFromName = map[string]ViolationKind{
	"focus_lost":        FocusLost,
	"face_absent":       FaceAbsent,
	"multiple_faces":    MultipleFaces,
	"unauthorized_item": UnauthorizedItem,
	"drowsiness":        Drowsiness,
	"background_audio":  BackgroundAudio,
}

// Kinds lists every violation kind in declaration order.
func Kinds() []ViolationKind {
	return []ViolationKind{FocusLost, FaceAbsent, MultipleFaces, UnauthorizedItem, Drowsiness, BackgroundAudio}
}

// ParseKind maps a wire name (e.g. "focus_lost") to its ViolationKind.
func ParseKind(name string) (ViolationKind, bool) {
	k, ok := kindFromName[name]
	return k, ok
}

func (k ViolationKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

func (k ViolationKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *ViolationKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := kindFromName[s]; ok {
		*k = v
	}
	return nil
}

// Severity grades how serious a violation is.
type Severity int

const (
	Low Severity = iota
	Medium
	High
)

var severityNames = map[Severity]string{
	Low:    "low",
	Medium: "medium",
	High:   "high",
}

var severityFromName = map[string]Severity{
	"low":    Low,
	"medium": Medium,
	"high":   High,
}

func (s Severity) String() string {
	if n, ok := severityNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := severityFromName[name]; ok {
		*s = v
	}
	return nil
}

// Status tracks the session lifecycle. Transitions only move forward:
// Active -> Completed or Active -> Terminated, never back.
type Status int

const (
	Active Status = iota
	Completed
	Terminated
)

var statusNames = map[Status]string{
	Active:     "active",
	Completed:  "completed",
	Terminated: "terminated",
}

var statusFromName = map[string]Status{
	"active":     Active,
	"completed":  Completed,
	"terminated": Terminated,
}

// ParseStatus maps a stored status name to its Status value.
func ParseStatus(name string) (Status, bool) {
	s, ok := statusFromName[name]
	return s, ok
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := statusFromName[name]; ok {
		*s = v
	}
	return nil
}
