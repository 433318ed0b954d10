package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var testClock = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestAggregator() *Aggregator {
	a := NewAggregator(ScoreWeights{}, nil)
	a.now = func() time.Time { return testClock }
	return a
}

func event(k ViolationKind) ViolationEvent {
	return ViolationEvent{
		Kind:        k,
		Description: k.String(),
		Severity:    Medium,
		OccurredAt:  testClock,
	}
}

func TestCreate(t *testing.T) {
	a := newTestAggregator()

	s, err := a.Create("Alice")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if s.ID == "" {
		t.Error("Create returned empty ID")
	}
	if s.Status != Active {
		t.Errorf("Status = %v, want active", s.Status)
	}
	if s.IntegrityScore != 100 {
		t.Errorf("IntegrityScore = %d, want 100", s.IntegrityScore)
	}
	if s.Counters.Total() != 0 {
		t.Errorf("Counters.Total() = %d, want 0", s.Counters.Total())
	}
	if len(s.Timeline) != 0 {
		t.Errorf("Timeline length = %d, want 0", len(s.Timeline))
	}
}

func TestCreateUniqueIDs(t *testing.T) {
	a := newTestAggregator()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s, err := a.Create("x")
		if err != nil {
			t.Fatal(err)
		}
		if seen[s.ID] {
			t.Fatalf("duplicate session ID %q", s.ID)
		}
		seen[s.ID] = true
	}
}

func TestCreateRequiresCandidate(t *testing.T) {
	a := newTestAggregator()
	if _, err := a.Create("   "); !errors.Is(err, ErrCandidateRequired) {
		t.Fatalf("Create(blank) error = %v, want ErrCandidateRequired", err)
	}
}

func TestApplyUnknownSession(t *testing.T) {
	a := newTestAggregator()
	if _, err := a.Apply("nope", event(FocusLost)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Apply error = %v, want ErrNotFound", err)
	}
}

func TestApplyUpdatesCountersTimelineScore(t *testing.T) {
	a := newTestAggregator()
	s, _ := a.Create("Alice")

	// focusLost:2, faceAbsent:1 -> 100-5-5-10 = 80
	a.Apply(s.ID, event(FocusLost))
	a.Apply(s.ID, event(FocusLost))
	snap, err := a.Apply(s.ID, event(FaceAbsent))
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}

	if snap.Counters.FocusLost != 2 || snap.Counters.FaceAbsent != 1 {
		t.Errorf("counters = %+v, want focusLost 2 faceAbsent 1", snap.Counters)
	}
	if snap.IntegrityScore != 80 {
		t.Errorf("IntegrityScore = %d, want 80", snap.IntegrityScore)
	}
	if len(snap.Timeline) != 3 {
		t.Errorf("Timeline length = %d, want 3", len(snap.Timeline))
	}
}

func TestCountersMatchTimeline(t *testing.T) {
	a := newTestAggregator()
	s, _ := a.Create("Alice")

	sequence := []ViolationKind{
		FocusLost, UnauthorizedItem, FaceAbsent, MultipleFaces,
		FocusLost, Drowsiness, BackgroundAudio, UnauthorizedItem,
	}
	var snap *Session
	for _, k := range sequence {
		var err error
		snap, err = a.Apply(s.ID, event(k))
		if err != nil {
			t.Fatal(err)
		}
	}

	for _, k := range Kinds() {
		inTimeline := 0
		for _, ev := range snap.Timeline {
			if ev.Kind == k {
				inTimeline++
			}
		}
		if got := snap.Counters.Count(k); got != inTimeline {
			t.Errorf("counter %v = %d, timeline has %d", k, got, inTimeline)
		}
	}
}

func TestTimelinePreservesArrivalOrder(t *testing.T) {
	a := newTestAggregator()
	s, _ := a.Create("Alice")

	var snap *Session
	for i := 0; i < 5; i++ {
		ev := event(FocusLost)
		ev.Description = fmt.Sprintf("event-%d", i)
		snap, _ = a.Apply(s.ID, ev)
	}

	for i, ev := range snap.Timeline {
		want := fmt.Sprintf("event-%d", i)
		if ev.Description != want {
			t.Errorf("Timeline[%d].Description = %q, want %q", i, ev.Description, want)
		}
	}
}

func TestScoreMonotonicNonIncreasingAndClamped(t *testing.T) {
	a := newTestAggregator()
	s, _ := a.Create("Alice")

	prev := 100
	for i := 0; i < 8; i++ {
		snap, err := a.Apply(s.ID, event(UnauthorizedItem))
		if err != nil {
			t.Fatal(err)
		}
		if snap.IntegrityScore > prev {
			t.Errorf("score increased from %d to %d", prev, snap.IntegrityScore)
		}
		if snap.IntegrityScore < 0 || snap.IntegrityScore > 100 {
			t.Errorf("score %d outside [0,100]", snap.IntegrityScore)
		}
		prev = snap.IntegrityScore
	}
	// 8 unauthorized items deduct 160: clamped at 0.
	if prev != 0 {
		t.Errorf("final score = %d, want 0", prev)
	}
}

func TestEndFreezesSession(t *testing.T) {
	a := newTestAggregator()
	s, _ := a.Create("Alice")
	a.Apply(s.ID, event(UnauthorizedItem))

	ended, err := a.End(s.ID)
	if err != nil {
		t.Fatalf("End error: %v", err)
	}
	if ended.Status != Completed {
		t.Errorf("Status = %v, want completed", ended.Status)
	}
	if ended.EndedAt == nil || !ended.EndedAt.Equal(testClock) {
		t.Errorf("EndedAt = %v, want %v", ended.EndedAt, testClock)
	}
	if ended.IntegrityScore != 80 {
		t.Errorf("IntegrityScore = %d, want 80", ended.IntegrityScore)
	}

	// A second end fails.
	if _, err := a.End(s.ID); !errors.Is(err, ErrAlreadyEnded) {
		t.Errorf("second End error = %v, want ErrAlreadyEnded", err)
	}

	// Applying after end fails and mutates nothing.
	if _, err := a.Apply(s.ID, event(FocusLost)); !errors.Is(err, ErrNotActive) {
		t.Errorf("Apply after end error = %v, want ErrNotActive", err)
	}
	got, _ := a.Get(s.ID)
	if got.Counters.Total() != 1 || len(got.Timeline) != 1 {
		t.Errorf("frozen session mutated: counters %d timeline %d", got.Counters.Total(), len(got.Timeline))
	}
	if a.LateDropped() != 1 {
		t.Errorf("LateDropped = %d, want 1", a.LateDropped())
	}
}

func TestEndUnknownSession(t *testing.T) {
	a := newTestAggregator()
	if _, err := a.End("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("End error = %v, want ErrNotFound", err)
	}
}

func TestTerminate(t *testing.T) {
	a := newTestAggregator()
	s, _ := a.Create("Alice")

	ended, err := a.Terminate(s.ID)
	if err != nil {
		t.Fatalf("Terminate error: %v", err)
	}
	if ended.Status != Terminated {
		t.Errorf("Status = %v, want terminated", ended.Status)
	}
	if _, err := a.Apply(s.ID, event(FocusLost)); !errors.Is(err, ErrNotActive) {
		t.Errorf("Apply after terminate error = %v, want ErrNotActive", err)
	}
}

func TestGetReturnsDeepCopy(t *testing.T) {
	a := newTestAggregator()
	s, _ := a.Create("Alice")
	a.Apply(s.ID, event(FocusLost))

	got, _ := a.Get(s.ID)
	got.Counters.FocusLost = 99
	got.Timeline[0].Description = "mutated"

	again, _ := a.Get(s.ID)
	if again.Counters.FocusLost != 1 {
		t.Error("counter mutation leaked into aggregator state")
	}
	if again.Timeline[0].Description == "mutated" {
		t.Error("timeline mutation leaked into aggregator state")
	}
}

func TestMarkDegraded(t *testing.T) {
	a := newTestAggregator()
	s, _ := a.Create("Alice")

	a.MarkDegraded(s.ID)
	got, _ := a.Get(s.ID)
	if !got.Degraded {
		t.Error("Degraded = false after MarkDegraded")
	}
}

func TestActiveCount(t *testing.T) {
	a := newTestAggregator()
	s1, _ := a.Create("a")
	a.Create("b")

	if got := a.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}
	a.End(s1.ID)
	if got := a.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount after end = %d, want 1", got)
	}
}

func TestEndToEndLifecycle(t *testing.T) {
	a := newTestAggregator()

	s, err := a.Create("Alice")
	if err != nil {
		t.Fatal(err)
	}

	snap, err := a.Apply(s.ID, event(UnauthorizedItem))
	if err != nil {
		t.Fatal(err)
	}
	if snap.IntegrityScore != 80 {
		t.Errorf("score = %d, want 80", snap.IntegrityScore)
	}
	if snap.Counters.UnauthorizedItems != 1 {
		t.Errorf("unauthorizedItems = %d, want 1", snap.Counters.UnauthorizedItems)
	}
	if len(snap.Timeline) != 1 {
		t.Errorf("timeline length = %d, want 1", len(snap.Timeline))
	}

	if _, err := a.End(s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Apply(s.ID, event(FocusLost)); !errors.Is(err, ErrNotActive) {
		t.Fatalf("Apply after end error = %v, want ErrNotActive", err)
	}

	final, _ := a.Get(s.ID)
	report := final.BuildReport(testClock)
	if report.IntegrityScore != 80 || report.Violations.UnauthorizedItems != 1 || len(report.Events) != 1 {
		t.Errorf("report = %+v, want frozen final state", report)
	}
	if report.Status != Completed {
		t.Errorf("report status = %v, want completed", report.Status)
	}
}

// TestCrossSessionIsolation stress-tests the single-writer-per-key
// discipline: parallel producers for different sessions never interleave
// each other's counters.
func TestCrossSessionIsolation(t *testing.T) {
	a := newTestAggregator()

	const (
		sessions  = 8
		producers = 4
		perWorker = 50
	)

	ids := make([]string, sessions)
	for i := range ids {
		s, err := a.Create(fmt.Sprintf("candidate-%d", i))
		if err != nil {
			t.Fatal(err)
		}
		ids[i] = s.ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for p := 0; p < producers; p++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				for n := 0; n < perWorker; n++ {
					if _, err := a.Apply(id, event(FocusLost)); err != nil {
						t.Errorf("Apply(%s) error: %v", id, err)
						return
					}
				}
			}(id)
		}
	}
	wg.Wait()

	want := producers * perWorker
	for _, id := range ids {
		got, err := a.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Counters.FocusLost != want {
			t.Errorf("session %s focusLost = %d, want %d", id, got.Counters.FocusLost, want)
		}
		if len(got.Timeline) != want {
			t.Errorf("session %s timeline = %d, want %d", id, len(got.Timeline), want)
		}
	}
}
