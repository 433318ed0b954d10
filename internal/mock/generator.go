// Package mock drives the full detection pipeline with scripted signal
// patterns so the server can be demonstrated without a real camera or
// microphone front end.
package mock

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/udaybagda/focus-proctoring-system/internal/detector"
	"github.com/udaybagda/focus-proctoring-system/internal/session"
	"github.com/udaybagda/focus-proctoring-system/internal/store"
	"github.com/udaybagda/focus-proctoring-system/internal/ws"
)

// phase is one stretch of scripted behavior: sample is called once per tick
// for ticks ticks.
type phase struct {
	ticks  int
	sample func(now time.Time) detector.Sample
}

type mockCandidate struct {
	name     string
	phases   []phase
	det      *detector.Detector
	session  string
	phaseIdx int
	tickIdx  int
	done     bool
}

// Generator feeds scripted samples through per-candidate detectors at the
// configured tick cadence and dispatches the resulting events the same way
// the live signal route does.
type Generator struct {
	agg         *session.Aggregator
	persister   *store.Persister
	broadcaster *ws.Broadcaster
	detCfg      detector.Config
	tick        time.Duration
	log         *zap.Logger
	candidates  []*mockCandidate
}

func NewGenerator(agg *session.Aggregator, persister *store.Persister, broadcaster *ws.Broadcaster, detCfg detector.Config, tick time.Duration, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{
		agg:         agg,
		persister:   persister,
		broadcaster: broadcaster,
		detCfg:      detCfg,
		tick:        tick,
		log:         log,
	}
}

func boolPtr(b bool) *bool { return &b }

func cleanSample(now time.Time) detector.Sample {
	return detector.Sample{
		FaceCount:  1,
		Gaze:       &detector.Gaze{X: 0.05, Y: 0.02},
		EyesClosed: boolPtr(false),
		AudioLevel: 12,
		Timestamp:  now,
	}
}

func absentSample(now time.Time) detector.Sample {
	return detector.Sample{FaceCount: 0, AudioLevel: 10, Timestamp: now}
}

func crowdSample(now time.Time) detector.Sample {
	s := cleanSample(now)
	s.FaceCount = 2
	return s
}

func phoneSample(now time.Time) detector.Sample {
	s := cleanSample(now)
	s.Objects = []detector.Detection{{Label: "cell phone", Confidence: 0.87}}
	return s
}

func lookAwaySample(now time.Time) detector.Sample {
	s := cleanSample(now)
	s.Gaze = &detector.Gaze{X: 0.55, Y: 0.1}
	return s
}

func drowsySample(now time.Time) detector.Sample {
	s := cleanSample(now)
	s.EyesClosed = boolPtr(true)
	return s
}

func noisySample(now time.Time) detector.Sample {
	s := cleanSample(now)
	s.AudioLevel = 74
	return s
}

// Start creates the scripted sessions and begins ticking. It returns after
// launching the tick loop; cancel ctx to stop.
func (g *Generator) Start(ctx context.Context) error {
	// Long enough stretches that every signal's confirm window elapses at
	// a 500 ms cadence.
	tickRate := int(g.detCfg.FocusLostThreshold/g.tick) + 4

	scripts := []struct {
		name   string
		phases []phase
	}{
		{
			name: "Alice Chen",
			phases: []phase{
				{ticks: 20, sample: cleanSample},
				{ticks: 10, sample: absentSample},
				{ticks: 20, sample: cleanSample},
				{ticks: 3, sample: phoneSample},
				{ticks: 40, sample: cleanSample},
			},
		},
		{
			name: "Bob Osei",
			phases: []phase{
				{ticks: 10, sample: cleanSample},
				{ticks: tickRate, sample: lookAwaySample},
				{ticks: 20, sample: cleanSample},
				{ticks: 4, sample: crowdSample},
				{ticks: 30, sample: cleanSample},
			},
		},
		{
			name: "Chitra Rao",
			phases: []phase{
				{ticks: 15, sample: cleanSample},
				{ticks: 25, sample: drowsySample},
				{ticks: 15, sample: cleanSample},
				{ticks: 25, sample: noisySample},
				{ticks: 20, sample: cleanSample},
			},
		},
	}

	for _, sc := range scripts {
		snap, err := g.agg.Create(sc.name)
		if err != nil {
			return err
		}
		g.persister.Enqueue(snap)
		g.candidates = append(g.candidates, &mockCandidate{
			name:    sc.name,
			phases:  sc.phases,
			det:     detector.New(g.detCfg),
			session: snap.ID,
		})
		g.log.Info("mock session started",
			zap.String("sessionId", snap.ID),
			zap.String("candidate", sc.name))
	}

	go g.run(ctx)
	return nil
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if g.step(now) {
				g.log.Info("mock scripts finished")
				return
			}
		}
	}
}

// step advances every candidate one tick. Returns true when all scripts
// have completed and their sessions are ended.
func (g *Generator) step(now time.Time) bool {
	allDone := true
	for _, c := range g.candidates {
		if c.done {
			continue
		}
		allDone = false

		if c.phaseIdx >= len(c.phases) {
			g.finish(c)
			continue
		}

		ph := c.phases[c.phaseIdx]
		sample := ph.sample(now)

		events, err := c.det.Ingest(sample)
		if err != nil {
			g.log.Warn("mock sample rejected", zap.String("candidate", c.name), zap.Error(err))
		}
		for _, ev := range events {
			snap, err := g.agg.Apply(c.session, ev)
			if err != nil {
				break
			}
			g.persister.Enqueue(snap)
			g.broadcaster.Publish(snap.ID, ws.WSMessage{
				Type: ws.MsgViolation,
				Payload: ws.ViolationPayload{
					EventType:       ev.Kind.String(),
					Description:     ev.Description,
					Timestamp:       ev.OccurredAt,
					Severity:        ev.Severity,
					ViolationCounts: snap.Counters,
					IntegrityScore:  snap.IntegrityScore,
				},
			})
		}

		c.tickIdx++
		if c.tickIdx >= ph.ticks {
			c.tickIdx = 0
			c.phaseIdx++
		}
	}
	return allDone
}

func (g *Generator) finish(c *mockCandidate) {
	c.done = true
	snap, err := g.agg.End(c.session)
	if err != nil {
		g.log.Warn("mock session end failed", zap.String("sessionId", c.session), zap.Error(err))
		return
	}
	g.persister.Enqueue(snap)
	g.broadcaster.Publish(snap.ID, ws.WSMessage{
		Type: ws.MsgSessionEnded,
		Payload: ws.SessionEndedPayload{
			SessionID:      snap.ID,
			Status:         snap.Status.String(),
			IntegrityScore: snap.IntegrityScore,
		},
	})
	g.log.Info("mock session ended",
		zap.String("sessionId", snap.ID),
		zap.String("candidate", c.name),
		zap.Int("integrityScore", snap.IntegrityScore))
}
