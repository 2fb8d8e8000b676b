package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxloop/voxloop/pkg/adapters/synthesis"
	"github.com/voxloop/voxloop/pkg/resilience"
)

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	SampleRate   int
	SessionID    string
}

// Synthesizer converts reply text to a playable clip over the ElevenLabs
// stream-input websocket. Each Synthesize call opens one connection and
// buffers the audio until generation completes, so the caller gets a single
// handle per utterance.
type Synthesizer struct {
	cfg    Config
	mu     sync.Mutex
	closed bool
}

func New(cfg Config) *Synthesizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "pcm_16000"
	}
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string { return "elevenlabs_tts" }

func (s *Synthesizer) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string) (*synthesis.Clip, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errors.New("synthesizer closed")
	}
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return nil, errors.New("missing elevenlabs config")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty text")
	}

	u := s.buildURL()
	slog.Debug("connecting to ElevenLabs",
		slog.String("session_id", s.cfg.SessionID),
		slog.String("output_format", s.cfg.OutputFormat))

	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.DialContext(ctx, u, http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusPaymentRequired) {
			slog.Error("ElevenLabs quota exceeded",
				slog.String("session_id", s.cfg.SessionID),
				slog.String("status", resp.Status))
			return nil, resilience.QuotaError{Provider: "elevenlabs", Message: resp.Status}
		}
		return nil, err
	}
	defer func() {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	if !strings.HasSuffix(text, " ") {
		text += " "
	}
	init := map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.8,
		},
	}
	if err := writeJSON(conn, init); err != nil {
		return nil, err
	}
	if err := writeJSON(conn, map[string]any{"text": text, "try_trigger_generation": true}); err != nil {
		return nil, err
	}
	if err := writeJSON(conn, map[string]any{"text": ""}); err != nil {
		return nil, err
	}

	// Drain generation until the final marker; cancellations close the
	// connection so the read loop cannot hang past the context deadline.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	var audio []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		chunk, final, err := parseMessage(data)
		if err != nil {
			slog.Warn("elevenlabs message parse failed",
				slog.String("session_id", s.cfg.SessionID),
				slog.String("error", err.Error()))
			continue
		}
		audio = append(audio, chunk...)
		if final {
			break
		}
	}
	if len(audio) == 0 {
		return nil, errors.New("no audio generated")
	}

	slog.Debug("elevenlabs clip generated",
		slog.String("session_id", s.cfg.SessionID),
		slog.Int("bytes", len(audio)))

	return &synthesis.Clip{
		ID:         uuid.NewString(),
		Text:       strings.TrimSpace(text),
		Audio:      audio,
		SampleRate: s.cfg.SampleRate,
		Channels:   1,
	}, nil
}

func (s *Synthesizer) buildURL() string {
	base := "wss://api.elevenlabs.io/v1/text-to-speech/" + s.cfg.VoiceID + "/stream-input"
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	q.Set("output_format", s.cfg.OutputFormat)
	q.Set("optimize_streaming_latency", "4")
	return base + "?" + q.Encode()
}

func parseMessage(data []byte) (audio []byte, final bool, err error) {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false, err
	}
	if f, ok := msg["isFinal"].(bool); ok && f {
		return nil, true, nil
	}
	raw, ok := msg["audio"].(string)
	if !ok {
		if a, ok := msg["audio_base_64"].(string); ok {
			raw = a
		} else if a, ok := msg["audio_base64"].(string); ok {
			raw = a
		} else {
			return nil, false, nil
		}
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, false, err
	}
	return decoded, false, nil
}

func writeJSON(conn *websocket.Conn, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

var _ synthesis.Synthesizer = (*Synthesizer)(nil)
