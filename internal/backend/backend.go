// Package backend talks to the language model that answers the user and
// compresses conversation memory.
//
// Two capabilities are exposed separately: Complete carries the full safety
// conversation, Summarize sends a bare summarization prompt. The concrete
// backend is chosen once at construction time and never switches at runtime;
// a failed call is reported to the caller instead of falling back elsewhere.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnavailable marks any transport or upstream failure.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrMissingCredentials is returned when hosted mode has no API key.
	ErrMissingCredentials = errors.New("hosted backend requires an API key")
)

const (
	ModeLocal  = "local"
	ModeHosted = "hosted"
	ModeMock   = "mock"
)

// Message is one role/content entry of a completion request. Roles are
// "system", "user" and "guardian".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Backend interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Summarize(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Error describes a failed backend call. It matches ErrUnavailable with
// errors.Is.
type Error struct {
	Provider  string
	Status    int
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s backend status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s backend: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() []error { return []error{ErrUnavailable, e.Err} }

// Config controls backend construction.
type Config struct {
	Mode string

	LocalURL   string
	LocalModel string

	HostedBaseURL string
	HostedModel   string
	APIKey        string

	// Timeout bounds one backend call; zero disables it.
	Timeout           time.Duration
	RequestsPerMinute float64
}

func NewBackend(cfg Config) (Backend, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = ModeLocal
	}

	var b Backend
	switch mode {
	case ModeLocal:
		if strings.TrimSpace(cfg.LocalURL) == "" {
			return nil, errors.New("local backend url is required for local mode")
		}
		b = NewLocalBackend(cfg.LocalURL, cfg.LocalModel, cfg.Timeout)
	case ModeHosted:
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, ErrMissingCredentials
		}
		b = NewHostedBackend(cfg.HostedBaseURL, cfg.HostedModel, cfg.APIKey, cfg.Timeout)
	case ModeMock:
		b = NewMockBackend()
	default:
		return nil, fmt.Errorf("unsupported backend mode %q", cfg.Mode)
	}

	return WithRateLimit(b, cfg.RequestsPerMinute), nil
}
