package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/udaybagda/focus-proctoring-system/internal/detector"
	"github.com/udaybagda/focus-proctoring-system/internal/diag"
	"github.com/udaybagda/focus-proctoring-system/internal/session"
	"github.com/udaybagda/focus-proctoring-system/internal/store"
)

// detectorEntry serializes sample ingestion for one session. The detector
// itself is lock-free single-writer; the mutex only guards against two
// producers posting signals for the same session at once.
type detectorEntry struct {
	mu  sync.Mutex
	det *detector.Detector
}

// Server exposes the session lifecycle REST surface and the WebSocket
// endpoint, and owns one ViolationDetector per active session.
type Server struct {
	agg         *session.Aggregator
	repo        store.Repository
	persister   *store.Persister
	broadcaster *Broadcaster
	detCfg      detector.Config
	collector   *diag.Collector
	log         *zap.Logger

	mu        sync.Mutex
	detectors map[string]*detectorEntry

	now func() time.Time
}

func NewServer(agg *session.Aggregator, repo store.Repository, persister *store.Persister, broadcaster *Broadcaster, detCfg detector.Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		agg:         agg,
		repo:        repo,
		persister:   persister,
		broadcaster: broadcaster,
		detCfg:      detCfg,
		collector:   diag.NewCollector(),
		log:         log,
		detectors:   make(map[string]*detectorEntry),
		now:         time.Now,
	}
}

// Register mounts all routes on the router.
func (s *Server) Register(r chi.Router) {
	r.Post("/api/session/create", s.handleCreate)
	r.Post("/api/session/end", s.handleEnd)
	r.Get("/api/session/{sessionID}/report", s.handleReport)
	r.Get("/api/sessions", s.handleList)
	r.Post("/api/session/{sessionID}/signal", s.handleSignal)
	r.Get("/api/health", s.handleHealth)
	r.Get("/ws", s.handleWS)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CandidateName string `json:"candidateName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := s.agg.Create(req.CandidateName)
	if err != nil {
		if errors.Is(err, session.ErrCandidateRequired) {
			writeError(w, http.StatusBadRequest, "candidateName is required")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.mu.Lock()
	s.detectors[snap.ID] = &detectorEntry{det: detector.New(s.detCfg)}
	s.mu.Unlock()

	s.persister.Enqueue(snap)

	writeJSON(w, http.StatusCreated, map[string]string{
		"sessionId": snap.ID,
		"message":   "Session created successfully",
	})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	snap, err := s.agg.End(req.SessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "Session not found")
		return
	case errors.Is(err, session.ErrAlreadyEnded):
		writeError(w, http.StatusConflict, "Session already ended")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Final write is synchronous: the session is finished and its report
	// should survive a restart. Memory stays authoritative on failure.
	if err := s.persister.SaveNow(r.Context(), snap); err != nil {
		s.log.Error("final session write failed", zap.String("sessionId", snap.ID), zap.Error(err))
		s.agg.MarkDegraded(snap.ID)
	}

	s.broadcaster.Publish(snap.ID, WSMessage{
		Type: MsgSessionEnded,
		Payload: SessionEndedPayload{
			SessionID:      snap.ID,
			Status:         snap.Status.String(),
			IntegrityScore: snap.IntegrityScore,
		},
	})

	s.mu.Lock()
	delete(s.detectors, snap.ID)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":        "Session ended successfully",
		"integrityScore": snap.IntegrityScore,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	snap, err := s.agg.Get(id)
	if errors.Is(err, session.ErrNotFound) {
		// Sessions from earlier process lifetimes only live in the store.
		snap, err = s.repo.GetSession(r.Context(), id)
	}
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, snap.BuildReport(s.now()))
}

// handleList serves the persisted session index, newest first. Active
// sessions appear with their last persisted state; the report route is the
// authoritative read for one session.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.repo.ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var sample detector.Sample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		writeError(w, http.StatusBadRequest, "invalid sample body")
		return
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.now()
	}

	entry, err := s.detectorFor(id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "Session not found")
		return
	case errors.Is(err, session.ErrNotActive):
		writeError(w, http.StatusConflict, "Session not active")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entry.mu.Lock()
	events, err := entry.det.Ingest(sample)
	entry.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	applied := make([]session.ViolationEvent, 0, len(events))
	for _, ev := range events {
		snap, err := s.agg.Apply(id, ev)
		if err != nil {
			// The session ended between ticks; remaining events are
			// late and are dropped, never queued.
			break
		}
		s.dispatch(snap, ev)
		applied = append(applied, ev)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": applied,
	})
}

// detectorFor returns the session's detector entry, lazily creating one for
// active sessions that lost theirs (e.g. after a process restart the
// in-flight timers reset, which is accepted).
func (s *Server) detectorFor(id string) (*detectorEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.detectors[id]; ok {
		return entry, nil
	}

	snap, err := s.agg.Get(id)
	if err != nil {
		return nil, err
	}
	if !snap.IsActive() {
		return nil, session.ErrNotActive
	}

	entry := &detectorEntry{det: detector.New(s.detCfg)}
	s.detectors[id] = entry
	return entry, nil
}

// dispatch fans one applied event out: persistence (write-behind) and
// broadcast, both decoupled from the aggregation path.
func (s *Server) dispatch(snap *session.Session, ev session.ViolationEvent) {
	s.persister.Enqueue(snap)
	s.broadcaster.Publish(snap.ID, WSMessage{
		Type: MsgViolation,
		Payload: ViolationPayload{
			EventType:       ev.Kind.String(),
			Description:     ev.Description,
			Timestamp:       ev.OccurredAt,
			Severity:        ev.Severity,
			ViolationCounts: snap.Counters,
			IntegrityScore:  snap.IntegrityScore,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.collector.Snapshot(r.Context(), diag.AppStats{
		ActiveSessions:     s.agg.ActiveCount(),
		ConnectedObservers: s.broadcaster.ClientCount(),
		LateEventsDropped:  s.agg.LateDropped(),
	})
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	s.log.Info("observer connected", zap.String("remote", r.RemoteAddr))
	c := s.broadcaster.Register(wsConn)
	defer func() {
		s.broadcaster.Remove(c)
		s.log.Info("observer disconnected", zap.String("remote", r.RemoteAddr))
	}()

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.broadcaster.Send(c, errorMessage("malformed message"))
			continue
		}
		s.handleClientMessage(c, msg)
	}
}

func (s *Server) handleClientMessage(c *client, msg ClientMessage) {
	switch msg.Type {
	case MsgJoinSession:
		snap, err := s.agg.Get(msg.SessionID)
		if errors.Is(err, session.ErrNotFound) {
			snap, err = s.repo.GetSession(context.Background(), msg.SessionID)
		}
		if err != nil {
			s.broadcaster.Send(c, errorMessage("session not found"))
			return
		}
		s.broadcaster.Subscribe(c, msg.SessionID)
		s.broadcaster.Send(c, WSMessage{
			Type:    MsgSessionSnapshot,
			Payload: SnapshotPayload{Session: snap},
		})

	case MsgLeaveSession:
		s.broadcaster.Unsubscribe(c)

	case MsgDetectionEvent:
		if msg.Event == nil || msg.SessionID == "" {
			s.broadcaster.Send(c, errorMessage("detection_event requires sessionId and event"))
			return
		}
		s.applyInbound(c, msg.SessionID, *msg.Event)

	default:
		s.broadcaster.Send(c, errorMessage(fmt.Sprintf("unknown message type %q", msg.Type)))
	}
}

// applyInbound folds a pre-formed violation from the detection front end
// into the session, bypassing the server-side detector.
func (s *Server) applyInbound(c *client, sessionID string, in InboundEvent) {
	kind, ok := session.ParseKind(in.EventType)
	if !ok {
		s.broadcaster.Send(c, errorMessage(fmt.Sprintf("unknown event type %q", in.EventType)))
		return
	}

	severity := session.Medium
	if in.Severity != nil {
		if sv, ok := parseSeverity(*in.Severity); ok {
			severity = sv
		}
	}

	ev := session.ViolationEvent{
		Kind:        kind,
		Description: in.Description,
		Severity:    severity,
		OccurredAt:  s.now(),
	}

	snap, err := s.agg.Apply(sessionID, ev)
	if err != nil {
		// Late or misaddressed events are dropped, never queued.
		s.broadcaster.Send(c, errorMessage(err.Error()))
		return
	}
	s.dispatch(snap, ev)
}

func parseSeverity(name string) (session.Severity, bool) {
	switch strings.ToLower(name) {
	case "low":
		return session.Low, true
	case "medium":
		return session.Medium, true
	case "high":
		return session.High, true
	}
	return session.Medium, false
}

func errorMessage(msg string) WSMessage {
	return WSMessage{Type: MsgError, Payload: ErrorPayload{Message: msg}}
}

// checkOrigin accepts same-host and localhost origins. Browser clients
// outside those need the CORS allowlist on the HTTP routes anyway.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}

	host := parsed.Host
	if host == r.Host {
		return true
	}
	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}
	return false
}
