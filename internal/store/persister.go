package store

import (
	"context"
	"time"

	"github.com/udaybagda/focus-proctoring-system/internal/session"
	"go.uber.org/zap"
)

const (
	persistAttempts = 3
	persistBackoff  = 100 * time.Millisecond
	persistQueueCap = 256
)

// Persister decouples persistence from the aggregation path: Apply mutates
// in-memory state synchronously and Enqueue hands the resulting snapshot to
// a background worker. Writes retry with exponential backoff; when retries
// exhaust, the session is flagged degraded and in-memory state remains
// authoritative.
type Persister struct {
	repo       Repository
	queue      chan *session.Session
	log        *zap.Logger
	onDegraded func(sessionID string)
}

// NewPersister creates a persister writing to repo. onDegraded is invoked
// (may be nil) when a session's write retries are exhausted.
func NewPersister(repo Repository, log *zap.Logger, onDegraded func(sessionID string)) *Persister {
	if log == nil {
		log = zap.NewNop()
	}
	return &Persister{
		repo:       repo,
		queue:      make(chan *session.Session, persistQueueCap),
		log:        log,
		onDegraded: onDegraded,
	}
}

// Enqueue schedules the snapshot for persistence. Never blocks: under
// sustained overload the newest snapshot wins and older queued writes for
// any session are superseded by later ones anyway, so a drop only delays
// durability.
func (p *Persister) Enqueue(s *session.Session) {
	select {
	case p.queue <- s:
	default:
		p.log.Warn("persist queue full, dropping write",
			zap.String("sessionId", s.ID))
	}
}

// SaveNow writes the snapshot synchronously with retries. Used for final
// writes on session end where durability is worth the wait.
func (p *Persister) SaveNow(ctx context.Context, s *session.Session) error {
	return p.save(ctx, s)
}

// Run drains the queue until ctx is cancelled, then performs a final drain
// so shutdown does not lose queued writes.
func (p *Persister) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case s := <-p.queue:
			if err := p.save(ctx, s); err != nil {
				p.handleFailure(s, err)
			}
		}
	}
}

func (p *Persister) drain() {
	for {
		select {
		case s := <-p.queue:
			if err := p.save(context.Background(), s); err != nil {
				p.handleFailure(s, err)
			}
		default:
			return
		}
	}
}

func (p *Persister) save(ctx context.Context, s *session.Session) error {
	var err error
	backoff := persistBackoff
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		err = p.repo.SaveSession(ctx, s)
		if err == nil {
			return nil
		}
		if attempt < persistAttempts {
			p.log.Warn("session write failed, retrying",
				zap.String("sessionId", s.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return err
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return err
}

func (p *Persister) handleFailure(s *session.Session, err error) {
	p.log.Error("session write retries exhausted, session degraded",
		zap.String("sessionId", s.ID),
		zap.Error(err))
	if p.onDegraded != nil {
		p.onDegraded(s.ID)
	}
}
