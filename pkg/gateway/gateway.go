// Package gateway exposes the conversation engine over HTTP and websocket.
// It is the transport edge only: every command is forwarded to the
// coordinator and every user-visible update is broadcast to connected
// clients.
package gateway

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/voxloop/voxloop/pkg/conversation"
	"github.com/voxloop/voxloop/pkg/logging"
	"github.com/voxloop/voxloop/pkg/notify"
	"github.com/voxloop/voxloop/pkg/speechin"
	"github.com/voxloop/voxloop/pkg/turn"
)

// Server is the HTTP and websocket surface. It implements the playback
// audio sink and the user notifier so the engine can be constructed with
// the gateway as its edge before the engine itself exists.
type Server struct {
	log *slog.Logger

	mu      sync.RWMutex
	coord   *turn.Coordinator
	input   *speechin.Controller
	clients map[*client]struct{}
}

func NewServer() *Server {
	return &Server{
		log:     logging.NewComponentLogger(slog.Default(), "gateway"),
		clients: make(map[*client]struct{}),
	}
}

// Attach binds the server to a running coordinator and input controller.
func (s *Server) Attach(coord *turn.Coordinator, input *speechin.Controller) {
	s.mu.Lock()
	s.coord = coord
	s.input = input
	s.mu.Unlock()
	if coord != nil {
		coord.AddListener(s)
	}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(api chi.Router) {
		api.Get("/messages", s.handleMessages)
		api.Get("/state", s.handleState)
	})
	r.Get("/ws", s.handleWebSocket)
	return r
}

func (s *Server) coordinator() *turn.Coordinator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coord
}

func (s *Server) inputController() *speechin.Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.input
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.coordinator() == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "starting"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type messagePayload struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	coord := s.coordinator()
	if coord == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "engine not ready"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"messages": messagePayloads(coord.Messages()),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	coord := s.coordinator()
	if coord == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "engine not ready"})
		return
	}
	session := coord.Session()
	payload := map[string]any{
		"state":     coord.State().String(),
		"listening": coord.IsListening(),
		"speaking":  coord.IsPlaying(),
		"interim":   coord.Interim(),
	}
	if session != nil {
		prefs := session.Prefs()
		payload["sessionId"] = session.ID
		payload["inputMuted"] = prefs.InputMuted
		payload["outputMuted"] = prefs.OutputMuted
		payload["volume"] = prefs.Volume
	}
	respondJSON(w, http.StatusOK, payload)
}

// OnStateChange implements turn.StateListener; every transition is pushed to
// connected clients.
func (s *Server) OnStateChange(ev turn.StateChange) {
	data := map[string]any{
		"from":   ev.FromState.String(),
		"to":     ev.ToState.String(),
		"reason": ev.Reason,
	}
	if coord := s.coordinator(); coord != nil {
		data["interim"] = coord.Interim()
		if msgs := coord.Messages(); len(msgs) > 0 {
			data["lastMessage"] = messagePayloads(msgs[len(msgs)-1:])[0]
		}
	}
	s.broadcast(outgoingMessage{
		Type:      "state",
		Data:      data,
		Timestamp: ev.Timestamp.Unix(),
	})
}

// WriteAudio implements the playback audio sink: paced PCM frames are pushed
// to every connected client for local playout.
func (s *Server) WriteAudio(clipID string, pcm []byte, sampleRate, channels int, volume float64) error {
	s.broadcast(outgoingMessage{
		Type: "audio",
		Data: map[string]any{
			"clipId":     clipID,
			"audioData":  base64.StdEncoding.EncodeToString(pcm),
			"sampleRate": sampleRate,
			"channels":   channels,
			"volume":     volume,
		},
		Timestamp: time.Now().Unix(),
	})
	return nil
}

// Notify implements notify.Notifier by broadcasting a notice frame.
func (s *Server) Notify(kind notify.Kind, title, message string) {
	s.broadcast(outgoingMessage{
		Type: "notice",
		Data: map[string]any{
			"kind":    string(kind),
			"title":   title,
			"message": message,
		},
		Timestamp: time.Now().Unix(),
	})
}

func (s *Server) broadcast(msg outgoingMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		s.log.Warn("broadcast_marshal_failed", slog.String("error", err.Error()))
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		c.enqueue(raw)
	}
}

func messagePayloads(msgs []conversation.Message) []messagePayload {
	out := make([]messagePayload, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messagePayload{
			ID:        m.ID,
			Sender:    string(m.Sender),
			Text:      m.Text,
			CreatedAt: m.CreatedAt,
		})
	}
	return out
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
