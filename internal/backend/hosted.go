package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ent0n29/guardian/internal/reliability"
)

const (
	defaultHostedBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultHostedModel   = "gemma-3n-e2b-it"
)

// HostedBackend calls the Generative Language streamGenerateContent API and
// accumulates the SSE chunks into a single reply.
type HostedBackend struct {
	model  string
	apiKey string
	client *resty.Client
}

func NewHostedBackend(baseURL, model, apiKey string, timeout time.Duration) *HostedBackend {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultHostedBaseURL
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultHostedModel
	}

	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)

	return &HostedBackend{
		model:  model,
		apiKey: strings.TrimSpace(apiKey),
		client: client,
	}
}

func (b *HostedBackend) Name() string { return ModeHosted }

func (b *HostedBackend) Complete(ctx context.Context, messages []Message) (string, error) {
	return b.generate(ctx, flatten(messages))
}

func (b *HostedBackend) Summarize(ctx context.Context, prompt string) (string, error) {
	return b.generate(ctx, prompt)
}

type hostedPart struct {
	Text string `json:"text"`
}

type hostedContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []hostedPart `json:"parts"`
}

type hostedRequest struct {
	Contents []hostedContent `json:"contents"`
}

type hostedChunk struct {
	Candidates []struct {
		Content hostedContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (b *HostedBackend) generate(ctx context.Context, text string) (string, error) {
	req := hostedRequest{Contents: []hostedContent{{
		Role:  "user",
		Parts: []hostedPart{{Text: text}},
	}}}

	res, err := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-goog-api-key", b.apiKey).
		SetQueryParam("alt", "sse").
		SetBody(req).
		SetDoNotParseResponse(true).
		Post("/models/" + b.model + ":streamGenerateContent")
	if err != nil {
		return "", &Error{Provider: ModeHosted, Retryable: reliability.IsRetryableTransportError(err), Err: err}
	}
	body := res.RawBody()
	defer body.Close()

	if status := res.StatusCode(); status < 200 || status >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(body, 4<<10))
		return "", &Error{
			Provider:  ModeHosted,
			Status:    status,
			Retryable: reliability.IsRetryableHTTPStatus(status),
			Err:       errors.New(strings.TrimSpace(string(msg))),
		}
	}

	out, err := consumeSSE(body)
	if err != nil {
		return "", &Error{Provider: ModeHosted, Status: res.StatusCode(), Retryable: true, Err: err}
	}
	return out, nil
}

// consumeSSE concatenates the text parts of every data: event. Nothing is
// surfaced until the stream ends.
func consumeSSE(body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "" || line == "[DONE]" {
			continue
		}

		var chunk hostedChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return "", fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return "", errors.New(chunk.Error.Message)
		}
		for _, c := range chunk.Candidates {
			for _, p := range c.Content.Parts {
				out.WriteString(p.Text)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read: %w", err)
	}
	return strings.TrimSpace(out.String()), nil
}

// flatten renders the conversation as "role: content" lines for the single
// user content the hosted API receives.
func flatten(messages []Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, m.Role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}
