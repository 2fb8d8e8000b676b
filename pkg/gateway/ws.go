package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readDeadline  = 60 * time.Second
	pingInterval  = 54 * time.Second
	writeDeadline = 10 * time.Second
	sendBuffer    = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type textPayload struct {
	Text string `json:"text"`
}

type volumePayload struct {
	Volume float64 `json:"volume"`
}

type audioPayload struct {
	AudioData string `json:"audioData"`
}

// client is one websocket connection. A dedicated writer goroutine drains
// the send queue so a slow peer never blocks the broadcast path.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *client) enqueue(raw []byte) {
	select {
	case c.send <- raw:
	default:
		// Slow consumer; drop the frame rather than stall every client.
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	coord := s.coordinator()
	if coord == nil {
		http.Error(w, "engine not ready", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws_upgrade_failed", slog.String("error", err.Error()))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	s.log.Info("ws_connected", slog.String("remote", conn.RemoteAddr().String()))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.writeLoop(ctx, c)

	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	c.enqueue(mustJSON(outgoingMessage{
		Type: "connected",
		Data: map[string]any{
			"state": coord.State().String(),
		},
		Timestamp: time.Now().Unix(),
	}))

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		_ = conn.Close()
		s.log.Info("ws_disconnected", slog.String("remote", conn.RemoteAddr().String()))
	}()

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("ws_read_failed", slog.String("error", err.Error()))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		s.handleCommand(c, msg)
	}
}

func (s *Server) handleCommand(c *client, msg inboundMessage) {
	coord := s.coordinator()
	if coord == nil {
		return
	}
	switch msg.Type {
	case "text":
		var p textPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.Text == "" {
			s.sendError(c, "invalid text payload")
			return
		}
		coord.SubmitText(p.Text)
	case "audio":
		var p audioPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			s.sendError(c, "invalid audio payload")
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(p.AudioData)
		if err != nil {
			s.sendError(c, "invalid audio encoding")
			return
		}
		if input := s.inputController(); input != nil {
			if err := input.SendAudio(pcm); err != nil {
				s.log.Warn("audio_forward_failed", slog.String("error", err.Error()))
			}
		}
	case "toggle_mic":
		coord.ToggleMic()
	case "toggle_output":
		coord.ToggleOutputMute()
	case "volume":
		var p volumePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			s.sendError(c, "invalid volume payload")
			return
		}
		coord.SetVolume(p.Volume)
	case "restart":
		coord.Restart()
	case "end":
		coord.End()
	default:
		s.sendError(c, "unsupported message type: "+msg.Type)
	}
}

func (s *Server) writeLoop(ctx context.Context, c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) sendError(c *client, message string) {
	c.enqueue(mustJSON(outgoingMessage{
		Type:      "error",
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	}))
}

func mustJSON(msg outgoingMessage) []byte {
	raw, err := json.Marshal(msg)
	if err != nil {
		return []byte(`{"type":"error"}`)
	}
	return raw
}
