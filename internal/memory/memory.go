// Package memory keeps a bounded conversational context: the most recent
// turns verbatim plus a running summary of everything older.
//
// Once the buffer reaches its threshold the buffered turns are folded into
// the summary through a Summarizer and the buffer is cleared, so the context
// sent per request stays O(maxBuffer) turns plus one summary message.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const DefaultMaxBuffer = 6

const summaryPrefix = "(Conversation summary): "

// Summarizer compresses a rendered transcript into a short summary. It is a
// plain completion without any risk-assessment instructions.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// SummaryObserver receives the outcome of each compression ("ok" or
// "degraded").
type SummaryObserver func(outcome string)

type Memory struct {
	mu         sync.Mutex
	summary    string
	buffer     []Turn
	maxBuffer  int
	summarizer Summarizer
	logger     *slog.Logger
	observe    SummaryObserver
	now        func() time.Time
}

type Option func(*Memory)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Memory) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithSummaryObserver(fn SummaryObserver) Option {
	return func(m *Memory) { m.observe = fn }
}

func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

func New(summarizer Summarizer, maxBuffer int, opts ...Option) *Memory {
	if maxBuffer < 1 {
		maxBuffer = DefaultMaxBuffer
	}
	m := &Memory{
		maxBuffer:  maxBuffer,
		summarizer: summarizer,
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddTurn appends a turn and compresses synchronously when the buffer
// reaches its threshold.
func (m *Memory) AddTurn(ctx context.Context, role Role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buffer = append(m.buffer, Turn{Role: role, Content: content, At: m.now()})
	if len(m.buffer) >= m.maxBuffer {
		m.compressLocked(ctx)
	}
}

// Compress folds the buffer into the summary. It is a no-op on an empty
// buffer.
func (m *Memory) Compress(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compressLocked(ctx)
}

func (m *Memory) compressLocked(ctx context.Context) {
	if len(m.buffer) == 0 {
		return
	}
	transcript := renderTranscript(m.buffer)
	prompt := fmt.Sprintf(
		"Summarize the following conversation briefly but meaningfully. "+
			"Keep emotional tone/context. Previous summary: '%s'\n\nConversation:\n%s",
		m.summary, transcript,
	)

	outcome := "ok"
	next, err := m.summarize(ctx, prompt)
	if err != nil || next == "" {
		// Keep the raw text rather than losing context.
		outcome = "degraded"
		m.logger.Warn("conversation summarization failed, keeping raw transcript",
			"turns", len(m.buffer), "error", err)
		next = strings.TrimSpace(joinNonEmpty("\n", m.summary, transcript))
	}

	m.summary = next
	m.buffer = nil
	if m.observe != nil {
		m.observe(outcome)
	}
}

func (m *Memory) summarize(ctx context.Context, prompt string) (string, error) {
	if m.summarizer == nil {
		return "", errors.New("no summarizer configured")
	}
	out, err := m.summarizer.Summarize(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ContextMessages returns the summary (when present) as one system message
// followed by the buffered turns in insertion order.
func (m *Memory) ContextMessages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Message, 0, len(m.buffer)+1)
	if m.summary != "" {
		out = append(out, Message{Role: string(RoleSystem), Content: summaryPrefix + m.summary})
	}
	for _, t := range m.buffer {
		out = append(out, Message{Role: string(t.Role), Content: t.Content})
	}
	return out
}

func (m *Memory) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}

func (m *Memory) Turns() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, len(m.buffer))
	copy(out, m.buffer)
	return out
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffer)
}

func (m *Memory) MaxBuffer() int { return m.maxBuffer }

func renderTranscript(turns []Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Role, t.Content))
	}
	return strings.Join(lines, "\n")
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
