package session

import "time"

// Violations holds the cumulative per-kind counters for one session.
// Counters are never decremented; each always equals the number of timeline
// entries of its kind.
type Violations struct {
	FocusLost         int `json:"focusLost"`
	FaceAbsent        int `json:"faceAbsent"`
	MultipleFaces     int `json:"multipleFaces"`
	UnauthorizedItems int `json:"unauthorizedItems"`
	Drowsiness        int `json:"drowsiness"`
	BackgroundAudio   int `json:"backgroundAudio"`
}

// Count returns the counter for the given kind.
func (v Violations) Count(k ViolationKind) int {
	switch k {
	case FocusLost:
		return v.FocusLost
	case FaceAbsent:
		return v.FaceAbsent
	case MultipleFaces:
		return v.MultipleFaces
	case UnauthorizedItem:
		return v.UnauthorizedItems
	case Drowsiness:
		return v.Drowsiness
	case BackgroundAudio:
		return v.BackgroundAudio
	}
	return 0
}

func (v *Violations) increment(k ViolationKind) {
	switch k {
	case FocusLost:
		v.FocusLost++
	case FaceAbsent:
		v.FaceAbsent++
	case MultipleFaces:
		v.MultipleFaces++
	case UnauthorizedItem:
		v.UnauthorizedItems++
	case Drowsiness:
		v.Drowsiness++
	case BackgroundAudio:
		v.BackgroundAudio++
	}
}

// Total returns the sum of all counters.
func (v Violations) Total() int {
	return v.FocusLost + v.FaceAbsent + v.MultipleFaces + v.UnauthorizedItems + v.Drowsiness + v.BackgroundAudio
}

// Session is the authoritative record of one monitored interview.
// While Status is Active it is mutated only by the Aggregator; once the
// status leaves Active the counters, timeline and score are frozen.
type Session struct {
	ID             string           `json:"sessionId"`
	CandidateName  string           `json:"candidateName"`
	StartedAt      time.Time        `json:"startTime"`
	EndedAt        *time.Time       `json:"endTime,omitempty"`
	Status         Status           `json:"status"`
	Counters       Violations       `json:"violations"`
	Timeline       []ViolationEvent `json:"events"`
	IntegrityScore int              `json:"integrityScore"`
	Degraded       bool             `json:"degraded,omitempty"`
}

// Clone returns a deep copy of the Session, duplicating pointer and slice
// fields so the copy can be retained and read independently of the original.
func (s *Session) Clone() *Session {
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	if len(s.Timeline) > 0 {
		c.Timeline = make([]ViolationEvent, len(s.Timeline))
		copy(c.Timeline, s.Timeline)
	}
	return &c
}

// IsActive reports whether the session still accepts violation events.
func (s *Session) IsActive() bool {
	return s.Status == Active
}

// Duration returns the elapsed session time in whole seconds. For active
// sessions it measures up to now.
func (s *Session) Duration(now time.Time) int {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	d := end.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return int(d.Round(time.Second) / time.Second)
}

// Report is the read-only projection served to report consumers.
type Report struct {
	SessionID      string           `json:"sessionId"`
	CandidateName  string           `json:"candidateName"`
	StartTime      time.Time        `json:"startTime"`
	EndTime        *time.Time       `json:"endTime,omitempty"`
	Duration       int              `json:"duration"`
	Status         Status           `json:"status"`
	Violations     Violations       `json:"violations"`
	IntegrityScore int              `json:"integrityScore"`
	Events         []ViolationEvent `json:"events"`
}

// BuildReport projects the session into its report form.
func (s *Session) BuildReport(now time.Time) *Report {
	c := s.Clone()
	return &Report{
		SessionID:      c.ID,
		CandidateName:  c.CandidateName,
		StartTime:      c.StartedAt,
		EndTime:        c.EndedAt,
		Duration:       c.Duration(now),
		Status:         c.Status,
		Violations:     c.Counters,
		IntegrityScore: c.IntegrityScore,
		Events:         c.Timeline,
	}
}
