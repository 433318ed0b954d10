package session

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrCandidateRequired indicates a create request without a candidate name.
var ErrCandidateRequired = errors.New("candidate name required")

// entry pairs a session with its own mutex. The per-entry mutex serializes
// Apply/End for one session ID while leaving different IDs fully parallel.
type entry struct {
	mu    sync.Mutex
	state *Session
}

// Aggregator owns the authoritative in-memory session records. It is the
// only writer to session state: detectors emit events, the aggregator folds
// them into counters, timeline and score, and hands out deep snapshots for
// broadcast and persistence. It performs no I/O of its own.
type Aggregator struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	weights  ScoreWeights
	log      *zap.Logger

	lateDropped atomic.Int64

	// now is the wall clock used for lifecycle stamps; tests inject a
	// fixed clock. Event timestamps come from the producer, never from
	// here.
	now func() time.Time
}

// NewAggregator creates an empty aggregator using the given score weights.
func NewAggregator(weights ScoreWeights, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{
		sessions: make(map[string]*entry),
		weights:  weights,
		log:      log,
		now:      time.Now,
	}
}

// Create registers a new active session for the candidate and returns its
// snapshot. Session IDs are fresh UUIDs and are never reused.
func (a *Aggregator) Create(candidateName string) (*Session, error) {
	candidateName = strings.TrimSpace(candidateName)
	if candidateName == "" {
		return nil, ErrCandidateRequired
	}

	s := &Session{
		ID:             uuid.NewString(),
		CandidateName:  candidateName,
		StartedAt:      a.now(),
		Status:         Active,
		IntegrityScore: Score(Violations{}, a.weights),
	}

	a.mu.Lock()
	a.sessions[s.ID] = &entry{state: s}
	a.mu.Unlock()

	a.log.Info("session created",
		zap.String("sessionId", s.ID),
		zap.String("candidate", candidateName))
	return s.Clone(), nil
}

func (a *Aggregator) lookup(id string) (*entry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.sessions[id]
	return e, ok
}

// Apply folds one violation event into the session: appends it to the
// timeline, increments the matching counter and recomputes the integrity
// score. It returns a deep snapshot of the updated session for broadcast.
//
// Events for unknown sessions fail with ErrNotFound; events arriving after
// the session ended fail with ErrNotActive and are dropped, never queued or
// retroactively applied.
func (a *Aggregator) Apply(sessionID string, ev ViolationEvent) (*Session, error) {
	e, ok := a.lookup(sessionID)
	if !ok {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.state
	if !s.IsActive() {
		a.lateDropped.Add(1)
		a.log.Debug("late event dropped",
			zap.String("sessionId", sessionID),
			zap.String("kind", ev.Kind.String()))
		return nil, ErrNotActive
	}

	s.Timeline = append(s.Timeline, ev)
	s.Counters.increment(ev.Kind)
	s.IntegrityScore = Score(s.Counters, a.weights)

	return s.Clone(), nil
}

// End finalizes the session: stamps the end time, moves the status to
// Completed and freezes counters, timeline and score. Ending is effective
// immediately for concurrent Apply calls on the same session.
func (a *Aggregator) End(sessionID string) (*Session, error) {
	return a.finish(sessionID, Completed)
}

// Terminate finalizes the session abnormally (status Terminated). Used when
// the process shuts down or an operator aborts the interview.
func (a *Aggregator) Terminate(sessionID string) (*Session, error) {
	return a.finish(sessionID, Terminated)
}

func (a *Aggregator) finish(sessionID string, final Status) (*Session, error) {
	e, ok := a.lookup(sessionID)
	if !ok {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.state
	if !s.IsActive() {
		return nil, ErrAlreadyEnded
	}

	end := a.now()
	s.EndedAt = &end
	s.Status = final
	s.IntegrityScore = Score(s.Counters, a.weights)

	a.log.Info("session ended",
		zap.String("sessionId", sessionID),
		zap.String("status", final.String()),
		zap.Int("integrityScore", s.IntegrityScore),
		zap.Int("violations", s.Counters.Total()))
	return s.Clone(), nil
}

// Get returns a deep snapshot of the session, or ErrNotFound if the ID is
// not in memory. Callers serving reports fall back to the durable store for
// sessions from earlier process lifetimes.
func (a *Aggregator) Get(sessionID string) (*Session, error) {
	e, ok := a.lookup(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone(), nil
}

// MarkDegraded flags the session after persistence retries are exhausted.
// In-memory state stays authoritative for the process lifetime.
func (a *Aggregator) MarkDegraded(sessionID string) {
	e, ok := a.lookup(sessionID)
	if !ok {
		return
	}
	e.mu.Lock()
	e.state.Degraded = true
	e.mu.Unlock()
}

// ActiveCount returns the number of sessions still accepting events.
func (a *Aggregator) ActiveCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	count := 0
	for _, e := range a.sessions {
		e.mu.Lock()
		if e.state.IsActive() {
			count++
		}
		e.mu.Unlock()
	}
	return count
}

// ActiveIDs returns the IDs of all sessions still accepting events.
func (a *Aggregator) ActiveIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var ids []string
	for id, e := range a.sessions {
		e.mu.Lock()
		if e.state.IsActive() {
			ids = append(ids, id)
		}
		e.mu.Unlock()
	}
	return ids
}

// LateDropped returns how many events were dropped because they arrived
// after their session ended.
func (a *Aggregator) LateDropped() int64 {
	return a.lateDropped.Load()
}
