// Package guardian runs the per-session dialogue pipeline: record the user
// turn, ask the backend, record the reply, extract a verdict and drive the
// escalation machine.
package guardian

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ent0n29/guardian/internal/backend"
	"github.com/ent0n29/guardian/internal/escalation"
	"github.com/ent0n29/guardian/internal/memory"
	"github.com/ent0n29/guardian/internal/risk"
)

var (
	ErrBackendUnavailable = errors.New("guardian backend unavailable")
	ErrEmptyInput         = errors.New("input text is empty")
)

// Result is the outcome of one Submit. Verdict is nil when the reply carried
// no parsable verdict.
type Result struct {
	Reply   string          `json:"reply"`
	Verdict *risk.Verdict   `json:"verdict,omitempty"`
	Step    escalation.Step `json:"step"`
}

// Recorder receives pipeline outcomes for metrics. All methods must be cheap.
type Recorder interface {
	ObserveTurn(outcome string)
	ObserveVerdict(action risk.Action)
	ObserveStep(step escalation.Step)
	ObserveSummary(outcome string)
}

type Config struct {
	SessionID string
	Backend   backend.Backend
	Directory escalation.Directory
	Mode      escalation.Mode
	MaxBuffer int
	Logger    *slog.Logger
	Recorder  Recorder
	Clock     func() time.Time
	NewID     func() string
}

// Orchestrator is safe for concurrent use; every operation holds one mutex so
// pipeline runs for a session never interleave.
type Orchestrator struct {
	mu        sync.Mutex
	sessionID string
	backend   backend.Backend
	memory    *memory.Memory
	machine   *escalation.Machine
	mode      escalation.Mode
	logger    *slog.Logger
	recorder  Recorder
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Backend == nil {
		return nil, errors.New("guardian backend is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", cfg.SessionID)
	mode := cfg.Mode
	if mode == "" {
		mode = escalation.ModeAssistive
	}

	memOpts := []memory.Option{memory.WithLogger(logger), memory.WithClock(cfg.Clock)}
	machineOpts := []escalation.Option{
		escalation.WithLogger(logger),
		escalation.WithClock(cfg.Clock),
		escalation.WithIDGenerator(cfg.NewID),
	}
	if cfg.Recorder != nil {
		memOpts = append(memOpts, memory.WithSummaryObserver(cfg.Recorder.ObserveSummary))
	}

	return &Orchestrator{
		sessionID: cfg.SessionID,
		backend:   cfg.Backend,
		memory:    memory.New(cfg.Backend, cfg.MaxBuffer, memOpts...),
		machine:   escalation.NewMachine(cfg.SessionID, cfg.Directory, machineOpts...),
		mode:      mode,
		logger:    logger,
		recorder:  cfg.Recorder,
	}, nil
}

// Submit runs one user message through the pipeline. On backend failure the
// user turn stays in memory, the escalation state is untouched and the error
// matches ErrBackendUnavailable.
func (o *Orchestrator) Submit(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyInput
	}

	ctx, span := o.startSpan(ctx, "guardian.submit")
	defer span.End()

	o.mu.Lock()
	defer o.mu.Unlock()

	o.memory.AddTurn(ctx, memory.RoleUser, text)

	reply, err := o.backend.Complete(ctx, o.requestLocked(text))
	if err != nil {
		o.observeTurn("backend_error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "backend unavailable")
		o.logger.Error("backend call failed", "backend", o.backend.Name(), "error", err)
		return Result{}, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	o.memory.AddTurn(ctx, memory.RoleGuardian, reply)

	res := Result{Reply: reply, Step: escalation.Step{From: o.machine.State(), To: o.machine.State()}}
	v, ok := risk.Parse(reply)
	if !ok {
		o.observeTurn("no_verdict")
		o.logger.Debug("reply carried no verdict")
		return res, nil
	}

	res.Verdict = &v
	res.Step = o.machine.Apply(v, o.mode)
	span.SetAttributes(
		attribute.String("guardian.risk", string(v.Risk)),
		attribute.String("guardian.action", string(v.Action)),
		attribute.String("guardian.state", string(res.Step.To)),
	)
	o.observeTurn("ok")
	if o.recorder != nil {
		o.recorder.ObserveVerdict(v.Action)
		o.recorder.ObserveStep(res.Step)
	}
	return res, nil
}

// requestLocked assembles system prompt plus memory context. When the user
// turn was just folded into the summary it is appended again so the model
// always sees the latest input.
func (o *Orchestrator) requestLocked(text string) []backend.Message {
	ctxMsgs := o.memory.ContextMessages()
	out := make([]backend.Message, 0, len(ctxMsgs)+2)
	out = append(out, backend.Message{Role: string(memory.RoleSystem), Content: SystemPrompt})
	for _, m := range ctxMsgs {
		out = append(out, backend.Message{Role: m.Role, Content: m.Content})
	}
	if o.memory.Len() == 0 {
		out = append(out, backend.Message{Role: string(memory.RoleUser), Content: text})
	}
	return out
}

// Confirm answers a pending nudge or emergency prompt.
func (o *Orchestrator) Confirm(ctx context.Context, choice escalation.Choice) (escalation.Step, error) {
	_, span := o.startSpan(ctx, "guardian.confirm")
	defer span.End()
	span.SetAttributes(attribute.String("guardian.choice", string(choice)))

	o.mu.Lock()
	defer o.mu.Unlock()

	step, err := o.machine.Confirm(choice)
	if err != nil {
		span.RecordError(err)
		return step, err
	}
	if o.recorder != nil {
		o.recorder.ObserveStep(step)
	}
	return step, nil
}

func (o *Orchestrator) SetMode(mode escalation.Mode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mode = mode
}

func (o *Orchestrator) Mode() escalation.Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

func (o *Orchestrator) State() escalation.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.machine.State()
}

// Memory exposes the session memory for inspection.
func (o *Orchestrator) Memory() *memory.Memory { return o.memory }

func (o *Orchestrator) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer("guardian").Start(ctx, name,
		trace.WithAttributes(attribute.String("session.id", o.sessionID)),
	)
}

func (o *Orchestrator) observeTurn(outcome string) {
	if o.recorder != nil {
		o.recorder.ObserveTurn(outcome)
	}
}
