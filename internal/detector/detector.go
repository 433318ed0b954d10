// Package detector turns noisy periodic signal samples into debounced
// violation events. One Detector serves exactly one session and is
// single-writer by construction: one producer feeds one detector, so no
// locking is needed. The detector holds no clock of its own; every timer
// comparison uses the sample timestamps supplied by the producer, which
// makes the state machine fully deterministic.
package detector

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/udaybagda/focus-proctoring-system/internal/session"
)

// Detector holds the per-signal timers and histories for one session.
// State lives only in memory: a process restart resets in-flight timers,
// which is an accepted limitation.
type Detector struct {
	cfg Config

	faceAbsentSince time.Time
	focusLostSince  time.Time
	drowsinessSince time.Time
	audioLoudSince  time.Time

	// lastViolationAt gates FocusLost, Drowsiness and BackgroundAudio.
	// The gate is shared: a recent emission of any throttled kind delays
	// the others. FaceAbsent, MultipleFaces and UnauthorizedItem bypass
	// it entirely.
	lastViolationAt time.Time

	eyeClosure *closureWindow

	// audioStreak counts consecutive BackgroundAudio emissions while the
	// level never dropped below the noise floor. Used to escalate
	// severity on sustained recurrence.
	audioStreak int
}

// New creates a detector with the given thresholds.
func New(cfg Config) *Detector {
	if cfg.EyeClosureWindow <= 0 {
		cfg.EyeClosureWindow = DefaultConfig().EyeClosureWindow
	}
	return &Detector{
		cfg:        cfg,
		eyeClosure: newClosureWindow(cfg.EyeClosureWindow),
	}
}

// Ingest advances the state machine by one tick and returns the violation
// events the sample triggered, zero or more. A malformed sample returns
// ErrInvalidSample and leaves all detector state untouched.
//
// Ingest never blocks and performs no I/O; dispatching the returned events
// is the caller's job.
func (d *Detector) Ingest(s Sample) ([]session.ViolationEvent, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	var events []session.ViolationEvent
	now := s.Timestamp

	if ev := d.checkFaceAbsent(s, now); ev != nil {
		events = append(events, *ev)
	}
	if ev := d.checkMultipleFaces(s, now); ev != nil {
		events = append(events, *ev)
	}
	if ev := d.checkFocus(s, now); ev != nil {
		events = append(events, *ev)
	}
	if ev := d.checkDrowsiness(s, now); ev != nil {
		events = append(events, *ev)
	}
	events = append(events, d.checkObjects(s, now)...)
	if ev := d.checkAudio(s, now); ev != nil {
		events = append(events, *ev)
	}

	return events, nil
}

// throttleElapsed reports whether enough time has passed since the last
// throttled emission.
func (d *Detector) throttleElapsed(now time.Time) bool {
	return d.lastViolationAt.IsZero() || now.Sub(d.lastViolationAt) >= d.cfg.ViolationThrottle
}

func (d *Detector) checkFaceAbsent(s Sample, now time.Time) *session.ViolationEvent {
	if s.FaceCount >= 1 {
		d.faceAbsentSince = time.Time{}
		return nil
	}

	if d.faceAbsentSince.IsZero() {
		d.faceAbsentSince = now
		return nil
	}

	elapsed := now.Sub(d.faceAbsentSince)
	if elapsed < d.cfg.FaceAbsentThreshold {
		return nil
	}

	// Restart the window so a continuous absence produces one event per
	// window instead of one per tick.
	d.faceAbsentSince = now
	return &session.ViolationEvent{
		Kind:        session.FaceAbsent,
		Description: fmt.Sprintf("No face detected for %d seconds", int(elapsed.Seconds())),
		Severity:    session.High,
		OccurredAt:  now,
	}
}

func (d *Detector) checkMultipleFaces(s Sample, now time.Time) *session.ViolationEvent {
	if s.FaceCount < 2 {
		return nil
	}

	// No debounce: every tick with two or more faces is a distinct
	// observation.
	return &session.ViolationEvent{
		Kind:        session.MultipleFaces,
		Description: fmt.Sprintf("%d faces detected in frame", s.FaceCount),
		Severity:    session.High,
		OccurredAt:  now,
	}
}

func (d *Detector) checkFocus(s Sample, now time.Time) *session.ViolationEvent {
	// Gaze is only reported while a face is visible. Absence is covered
	// by the face-absent signal, so a missing gaze leaves the focus timer
	// as it was.
	if s.Gaze == nil {
		return nil
	}

	if math.Hypot(s.Gaze.X, s.Gaze.Y) <= d.cfg.LookingAwayThreshold {
		// Back to center: no partial credit.
		d.focusLostSince = time.Time{}
		return nil
	}

	if d.focusLostSince.IsZero() {
		d.focusLostSince = now
		return nil
	}

	elapsed := now.Sub(d.focusLostSince)
	if elapsed < d.cfg.FocusLostThreshold || !d.throttleElapsed(now) {
		return nil
	}

	// The timer restarts from zero after firing, not continues.
	d.focusLostSince = time.Time{}
	d.lastViolationAt = now
	return &session.ViolationEvent{
		Kind:        session.FocusLost,
		Description: fmt.Sprintf("Looking away from screen for %d seconds", int(elapsed.Seconds())),
		Severity:    session.Medium,
		OccurredAt:  now,
	}
}

func (d *Detector) checkDrowsiness(s Sample, now time.Time) *session.ViolationEvent {
	// The eye-closure flag only exists while a face is tracked; ticks
	// without it leave the window untouched.
	if s.EyesClosed == nil {
		return nil
	}
	d.eyeClosure.push(*s.EyesClosed)

	// Never evaluate a partially filled window.
	if !d.eyeClosure.full() {
		return nil
	}

	if d.eyeClosure.closedRatio() < d.cfg.DrowsinessRatio {
		d.drowsinessSince = time.Time{}
		return nil
	}

	if d.drowsinessSince.IsZero() {
		d.drowsinessSince = now
		return nil
	}

	elapsed := now.Sub(d.drowsinessSince)
	if elapsed < d.cfg.DrowsinessThreshold || !d.throttleElapsed(now) {
		return nil
	}

	d.drowsinessSince = now
	d.lastViolationAt = now
	return &session.ViolationEvent{
		Kind:        session.Drowsiness,
		Description: fmt.Sprintf("Drowsiness detected for %d seconds", int(elapsed.Seconds())),
		Severity:    session.Medium,
		OccurredAt:  now,
	}
}

func (d *Detector) checkObjects(s Sample, now time.Time) []session.ViolationEvent {
	var events []session.ViolationEvent
	for _, obj := range s.Objects {
		if !disallowedLabels[strings.ToLower(obj.Label)] {
			continue
		}
		if obj.Confidence <= d.cfg.ObjectConfidence {
			continue
		}
		// One event per qualifying detection, every tick it is seen.
		events = append(events, session.ViolationEvent{
			Kind:        session.UnauthorizedItem,
			Description: fmt.Sprintf("Detected: %s (%.0f%%)", obj.Label, obj.Confidence*100),
			Severity:    session.High,
			OccurredAt:  now,
		})
	}
	return events
}

func (d *Detector) checkAudio(s Sample, now time.Time) *session.ViolationEvent {
	if s.AudioLevel <= d.cfg.NoiseFloor {
		d.audioLoudSince = time.Time{}
		d.audioStreak = 0
		return nil
	}

	if d.audioLoudSince.IsZero() {
		d.audioLoudSince = now
		return nil
	}

	elapsed := now.Sub(d.audioLoudSince)
	if elapsed < d.cfg.BackgroundAudioThreshold || !d.throttleElapsed(now) {
		return nil
	}

	d.audioLoudSince = now
	d.lastViolationAt = now
	d.audioStreak++

	// Escalate when the noise never let up between emissions.
	severity := session.Medium
	if d.audioStreak >= 2 {
		severity = session.High
	}
	return &session.ViolationEvent{
		Kind:        session.BackgroundAudio,
		Description: fmt.Sprintf("Background audio detected: %.0f dB", s.AudioLevel),
		Severity:    severity,
		OccurredAt:  now,
	}
}
