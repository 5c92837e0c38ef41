package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBackendComplete(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"  I'm here.  "},"done":true}`)
	}))
	defer srv.Close()

	b := NewLocalBackend(srv.URL+"/", "gemma3n:e2b", time.Second)
	out, err := b.Complete(context.Background(), []Message{
		{Role: "system", Content: "be safe"},
		{Role: "user", Content: "hi"},
		{Role: "guardian", Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "I'm here.", out)

	assert.Equal(t, "gemma3n:e2b", got.Model)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
}

func TestLocalBackendSummarizeSendsBarePrompt(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"message":{"content":"short summary"}}`)
	}))
	defer srv.Close()

	out, err := NewLocalBackend(srv.URL, "m", time.Second).Summarize(context.Background(), "Summarize this")
	require.NoError(t, err)
	assert.Equal(t, "short summary", out)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "Summarize this", got.Messages[0].Content)
}

func TestLocalBackendEmptyReplyIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":{"content":""}}`)
	}))
	defer srv.Close()

	out, err := NewLocalBackend(srv.URL, "m", time.Second).Complete(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestLocalBackendStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewLocalBackend(srv.URL, "m", time.Second).Complete(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))

	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, http.StatusServiceUnavailable, be.Status)
	assert.True(t, be.Retryable)
	assert.Equal(t, ModeLocal, be.Provider)
}

func TestLocalBackendUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewLocalBackend(url, "m", time.Second).Complete(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestHostedBackendAccumulatesStream(t *testing.T) {
	var body hostedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemma-3n-e2b-it:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Stay calm. ", `{\"Risk\": \"Low\", `, `\"Analysis\": \"ok\", \"Action\": \"No concern\"}`} {
			_, _ = fmt.Fprintf(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"%s\"}]}}]}\n\n", part)
		}
	}))
	defer srv.Close()

	b := NewHostedBackend(srv.URL, "", "secret", time.Second)
	out, err := b.Complete(context.Background(), []Message{
		{Role: "system", Content: "rules"},
		{Role: "user", Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, `Stay calm. {"Risk": "Low", "Analysis": "ok", "Action": "No concern"}`, out)

	require.Len(t, body.Contents, 1)
	require.Len(t, body.Contents[0].Parts, 1)
	assert.Equal(t, "system: rules\nuser: hello", body.Contents[0].Parts[0].Text)
}

func TestHostedBackendStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"API key not valid"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewHostedBackend(srv.URL, "m", "bad", time.Second).Summarize(context.Background(), "p")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))

	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, http.StatusBadRequest, be.Status)
	assert.False(t, be.Retryable)
}

func TestConsumeSSEStreamError(t *testing.T) {
	_, err := consumeSSE(strings.NewReader("data: {\"error\":{\"message\":\"quota\"}}\n\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
}

func TestNewBackendModes(t *testing.T) {
	b, err := NewBackend(Config{Mode: "mock"})
	require.NoError(t, err)
	assert.Equal(t, ModeMock, b.Name())

	b, err = NewBackend(Config{Mode: "", LocalURL: "http://127.0.0.1:11502"})
	require.NoError(t, err)
	assert.Equal(t, ModeLocal, b.Name())

	b, err = NewBackend(Config{Mode: "HOSTED", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, ModeHosted, b.Name())
}

func TestNewBackendConfigurationErrors(t *testing.T) {
	_, err := NewBackend(Config{Mode: "hosted"})
	assert.ErrorIs(t, err, ErrMissingCredentials)

	_, err = NewBackend(Config{Mode: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported backend mode")

	_, err = NewBackend(Config{Mode: "local"})
	require.Error(t, err)
}

func TestMockBackendVerdicts(t *testing.T) {
	b := NewMockBackend()
	cases := []struct {
		text   string
		action string
	}{
		{"what a nice day", `"Action":"No concern"`},
		{"I'm walking alone in the dark", `"Action":"Nudge"`},
		{"help me, someone is following me", `"Action":"Emergency Contact"`},
	}
	for _, tc := range cases {
		out, err := b.Complete(context.Background(), []Message{{Role: "user", Content: tc.text}})
		require.NoError(t, err)
		assert.Contains(t, out, tc.action, tc.text)
	}
}

func TestMockBackendSummarize(t *testing.T) {
	out, err := NewMockBackend().Summarize(context.Background(), "Previous summary: ''\n\nConversation:\nuser: a\nguardian: b")
	require.NoError(t, err)
	assert.Equal(t, "2 earlier lines; last: guardian: b", out)
}

type countingBackend struct{ calls int }

func (c *countingBackend) Name() string { return "count" }
func (c *countingBackend) Complete(context.Context, []Message) (string, error) {
	c.calls++
	return "ok", nil
}
func (c *countingBackend) Summarize(context.Context, string) (string, error) {
	c.calls++
	return "ok", nil
}

func TestWithRateLimitWaitsForToken(t *testing.T) {
	inner := &countingBackend{}
	assert.Same(t, Backend(inner), WithRateLimit(inner, 0))

	b := WithRateLimit(inner, 1)
	_, err := b.Complete(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = b.Summarize(ctx, "p")
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, "count", b.Name())
}

type recordedCall struct {
	provider, op string
	err          error
}

type fakeRecorder struct{ calls []recordedCall }

func (f *fakeRecorder) ObserveBackendCall(provider, op string, _ time.Duration, err error) {
	f.calls = append(f.calls, recordedCall{provider, op, err})
}

func TestInstrumentRecordsCalls(t *testing.T) {
	rec := &fakeRecorder{}
	b := Instrument(NewMockBackend(), rec)

	_, err := b.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	_, err = b.Summarize(context.Background(), "Conversation:\nuser: hi")
	require.NoError(t, err)

	require.Len(t, rec.calls, 2)
	assert.Equal(t, recordedCall{ModeMock, "complete", nil}, rec.calls[0])
	assert.Equal(t, "summarize", rec.calls[1].op)
}
