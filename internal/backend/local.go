package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/guardian/internal/reliability"
)

// LocalBackend calls an Ollama-compatible /api/chat endpoint without
// streaming.
type LocalBackend struct {
	url    string
	model  string
	client *http.Client
}

func NewLocalBackend(baseURL, model string, timeout time.Duration) *LocalBackend {
	return &LocalBackend{
		url:    strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/api/chat",
		model:  strings.TrimSpace(model),
		client: &http.Client{Timeout: timeout},
	}
}

func (b *LocalBackend) Name() string { return ModeLocal }

func (b *LocalBackend) Complete(ctx context.Context, messages []Message) (string, error) {
	return b.chat(ctx, messages)
}

func (b *LocalBackend) Summarize(ctx context.Context, prompt string) (string, error) {
	return b.chat(ctx, []Message{{Role: "user", Content: prompt}})
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error"`
}

func (b *LocalBackend) chat(ctx context.Context, messages []Message) (string, error) {
	req := ollamaChatRequest{Model: b.model, Stream: false}
	for _, m := range messages {
		req.Messages = append(req.Messages, ollamaMessage{Role: ollamaRole(m.Role), Content: m.Content})
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := b.client.Do(httpReq)
	if err != nil {
		return "", &Error{Provider: ModeLocal, Retryable: reliability.IsRetryableTransportError(err), Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return "", &Error{Provider: ModeLocal, Status: res.StatusCode, Retryable: true, Err: fmt.Errorf("read response: %w", err)}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", &Error{
			Provider:  ModeLocal,
			Status:    res.StatusCode,
			Retryable: reliability.IsRetryableHTTPStatus(res.StatusCode),
			Err:       errors.New(strings.TrimSpace(string(truncate(body, 4<<10)))),
		}
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &Error{Provider: ModeLocal, Status: res.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Error != "" {
		return "", &Error{Provider: ModeLocal, Status: res.StatusCode, Err: errors.New(out.Error)}
	}
	return strings.TrimSpace(out.Message.Content), nil
}

// ollamaRole maps conversation roles onto the chat API's vocabulary.
func ollamaRole(role string) string {
	switch role {
	case "guardian", "assistant":
		return "assistant"
	case "system":
		return "system"
	default:
		return "user"
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
