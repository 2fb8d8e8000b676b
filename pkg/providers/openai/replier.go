package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxloop/voxloop/pkg/adapters/reply"
	"github.com/voxloop/voxloop/pkg/resilience"
)

// Replier resolves assistant replies over the chat-completions HTTP API.
// Transport-level failures are retried; upstream rejections are not.
type Replier struct {
	APIKey     string
	Model      string
	BaseURL    string
	BasePrompt string
	Client     *http.Client
	Retry      resilience.RetryPolicy
}

func NewReplier(apiKey, model string) *Replier {
	return &Replier{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 60 * time.Second},
		Retry:   resilience.NewRetryPolicy(2, 250*time.Millisecond),
	}
}

func (r *Replier) Name() string { return "openai" }

func (r *Replier) GetReply(ctx context.Context, text string, history []reply.Turn) (string, error) {
	payload, err := r.buildRequest(text, history)
	if err != nil {
		return "", err
	}

	var resp *http.Response
	err = r.Retry.Do(func() error {
		if ctx.Err() != nil {
			return reply.NetworkError{Err: ctx.Err()}
		}
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/chat/completions", bytes.NewReader(payload))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Authorization", "Bearer "+r.APIKey)
		req.Header.Set("Content-Type", "application/json")

		var doErr error
		resp, doErr = r.client().Do(req)
		if doErr != nil {
			return reply.NetworkError{Err: doErr}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return "", reply.UpstreamError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", reply.UpstreamError{Status: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	if len(decoded.Choices) == 0 {
		return "", reply.UpstreamError{Status: resp.StatusCode, Message: "no choices in response"}
	}
	answer := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if answer == "" {
		return "", reply.UpstreamError{Status: resp.StatusCode, Message: "empty completion"}
	}
	return answer, nil
}

func (r *Replier) buildRequest(text string, history []reply.Turn) ([]byte, error) {
	messages := make([]map[string]any, 0, len(history)+2)
	if r.BasePrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": r.BasePrompt})
	}
	for _, turn := range history {
		role := turn.Role
		// The transcript's system-sender entries are inline error notes,
		// not prompt instructions.
		if role != reply.RoleUser && role != reply.RoleAssistant {
			continue
		}
		messages = append(messages, map[string]any{"role": role, "content": turn.Text})
	}
	// History already contains the current utterance when the caller
	// appended it before fetching; only add it when absent.
	if len(messages) == 0 || messages[len(messages)-1]["content"] != text {
		messages = append(messages, map[string]any{"role": "user", "content": text})
	}

	req := map[string]any{
		"model":    r.Model,
		"messages": messages,
	}
	return json.Marshal(req)
}

func (r *Replier) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return http.DefaultClient
}

var _ reply.Replier = (*Replier)(nil)
