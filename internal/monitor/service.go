// Package monitor is the caller layer around the guardian core: it owns one
// orchestrator per session, turns media into text, keeps the conversation
// log and persists every emergency notification.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/guardian/internal/alerts"
	"github.com/ent0n29/guardian/internal/backend"
	"github.com/ent0n29/guardian/internal/escalation"
	"github.com/ent0n29/guardian/internal/guardian"
	"github.com/ent0n29/guardian/internal/history"
	"github.com/ent0n29/guardian/internal/media"
	"github.com/ent0n29/guardian/internal/memory"
	"github.com/ent0n29/guardian/internal/observability"
	"github.com/ent0n29/guardian/internal/policy"
	"github.com/ent0n29/guardian/internal/risk"
	"github.com/ent0n29/guardian/internal/session"
)

const (
	audioPrefix = "[Audio Description] "
	imagePrefix = "[Image Description] "
)

var ErrMediaUnavailable = errors.New("media processing is not configured")

// PCMTranscriber is implemented by transcribers that accept raw PCM clips.
type PCMTranscriber interface {
	PCMToText(ctx context.Context, pcm16le []byte, sampleRate int) string
}

type Deps struct {
	Sessions    *session.Manager
	Backend     backend.Backend
	Directory   escalation.Directory
	History     history.Store
	Alerts      alerts.Store
	Transcriber media.Transcriber
	Describer   media.Describer
	Metrics     *observability.Metrics
	Logger      *slog.Logger
	MaxBuffer   int
	RedactLog   bool
}

// TurnOutcome is the result of one submitted input together with the text
// that was actually sent to the guardian.
type TurnOutcome struct {
	SessionID string `json:"session_id"`
	Input     string `json:"input"`
	guardian.Result
}

// LogLine is a conversation log entry with its verdict recomputed from the
// stored content.
type LogLine struct {
	history.Entry
	Verdict *risk.Verdict `json:"verdict,omitempty"`
}

type Service struct {
	deps   Deps
	logger *slog.Logger

	mu            sync.Mutex
	orchestrators map[string]*guardian.Orchestrator
}

func NewService(deps Deps) (*Service, error) {
	if deps.Sessions == nil || deps.Backend == nil {
		return nil, errors.New("monitor requires a session manager and a backend")
	}
	if deps.History == nil {
		deps.History = history.NewInMemoryStore()
	}
	if deps.Alerts == nil {
		deps.Alerts = alerts.NewInMemoryStore()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		deps:          deps,
		logger:        logger,
		orchestrators: make(map[string]*guardian.Orchestrator),
	}, nil
}

func (s *Service) StartSession(userID string, mode escalation.Mode) (*session.Session, error) {
	if mode == "" {
		mode = escalation.ModeAssistive
	}
	sess := s.deps.Sessions.Create(userID, mode)

	var rec guardian.Recorder
	if s.deps.Metrics != nil {
		rec = s.deps.Metrics
	}
	orch, err := guardian.New(guardian.Config{
		SessionID: sess.ID,
		Backend:   s.deps.Backend,
		Directory: s.deps.Directory,
		Mode:      mode,
		MaxBuffer: s.deps.MaxBuffer,
		Logger:    s.logger,
		Recorder:  rec,
	})
	if err != nil {
		_, _ = s.deps.Sessions.End(sess.ID)
		return nil, err
	}

	s.mu.Lock()
	s.orchestrators[sess.ID] = orch
	s.mu.Unlock()

	s.sessionEvent("started")
	s.logger.Info("session started", "session_id", sess.ID, "user_id", userID, "mode", mode)
	return sess, nil
}

func (s *Service) EndSession(sessionID string) (*session.Session, error) {
	sess, err := s.deps.Sessions.End(sessionID)
	if err != nil {
		return nil, err
	}
	if s.Drop(sessionID) {
		s.sessionEvent("ended")
	}
	s.logger.Info("session ended", "session_id", sessionID)
	return sess, nil
}

// Drop forgets the session's orchestrator. It reports whether one existed.
func (s *Service) Drop(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orchestrators[sessionID]; !ok {
		return false
	}
	delete(s.orchestrators, sessionID)
	return true
}

func (s *Service) SetMode(sessionID string, mode escalation.Mode) error {
	orch, err := s.orchestrator(sessionID)
	if err != nil {
		return err
	}
	if err := s.deps.Sessions.SetMode(sessionID, mode); err != nil {
		return err
	}
	orch.SetMode(mode)
	s.logger.Info("escalation mode changed", "session_id", sessionID, "mode", mode)
	return nil
}

// State returns the session's current escalation state.
func (s *Service) State(sessionID string) (escalation.State, error) {
	orch, err := s.orchestrator(sessionID)
	if err != nil {
		return "", err
	}
	return orch.State(), nil
}

func (s *Service) SubmitText(ctx context.Context, sessionID, text string) (TurnOutcome, error) {
	return s.submit(ctx, sessionID, strings.TrimSpace(text))
}

// SubmitAudio transcribes the file at path and submits the transcript.
func (s *Service) SubmitAudio(ctx context.Context, sessionID, path string) (TurnOutcome, error) {
	if s.deps.Transcriber == nil {
		return TurnOutcome{}, ErrMediaUnavailable
	}
	if _, err := s.orchestrator(sessionID); err != nil {
		return TurnOutcome{}, err
	}
	start := time.Now()
	caption := s.deps.Transcriber.AudioToText(ctx, path)
	s.stage("media_audio", start)
	return s.submit(ctx, sessionID, audioPrefix+caption)
}

// SubmitPCM transcribes a raw PCM16LE clip and submits the transcript.
func (s *Service) SubmitPCM(ctx context.Context, sessionID string, pcm16le []byte, sampleRate int) (TurnOutcome, error) {
	pt, ok := s.deps.Transcriber.(PCMTranscriber)
	if !ok {
		return TurnOutcome{}, ErrMediaUnavailable
	}
	if _, err := s.orchestrator(sessionID); err != nil {
		return TurnOutcome{}, err
	}
	start := time.Now()
	caption := pt.PCMToText(ctx, pcm16le, sampleRate)
	s.stage("media_audio", start)
	return s.submit(ctx, sessionID, audioPrefix+caption)
}

// SubmitImage captions the image at path and submits the caption.
func (s *Service) SubmitImage(ctx context.Context, sessionID, path string) (TurnOutcome, error) {
	if s.deps.Describer == nil {
		return TurnOutcome{}, ErrMediaUnavailable
	}
	if _, err := s.orchestrator(sessionID); err != nil {
		return TurnOutcome{}, err
	}
	start := time.Now()
	caption := s.deps.Describer.ImageToText(ctx, path)
	s.stage("media_image", start)
	return s.submit(ctx, sessionID, imagePrefix+caption)
}

func (s *Service) submit(ctx context.Context, sessionID, text string) (TurnOutcome, error) {
	orch, err := s.orchestrator(sessionID)
	if err != nil {
		return TurnOutcome{}, err
	}
	if strings.TrimSpace(text) == "" {
		return TurnOutcome{}, guardian.ErrEmptyInput
	}
	sess, err := s.deps.Sessions.Active(sessionID)
	if err != nil {
		return TurnOutcome{}, err
	}
	_ = s.deps.Sessions.RecordTurn(sessionID)

	start := time.Now()
	s.appendLog(ctx, sess, string(memory.RoleUser), text)

	res, err := orch.Submit(ctx, text)
	s.stage("submit_total", start)
	if err != nil {
		return TurnOutcome{}, err
	}

	s.appendLog(ctx, sess, string(memory.RoleGuardian), res.Reply)
	s.afterStep(ctx, sess, res.Step)
	return TurnOutcome{SessionID: sessionID, Input: text, Result: res}, nil
}

// Confirm answers a pending prompt and writes the audit lines to the
// conversation log. They never enter the model's memory.
func (s *Service) Confirm(ctx context.Context, sessionID string, choice escalation.Choice) (escalation.Step, error) {
	orch, err := s.orchestrator(sessionID)
	if err != nil {
		return escalation.Step{}, err
	}
	sess, err := s.deps.Sessions.Active(sessionID)
	if err != nil {
		return escalation.Step{}, err
	}

	step, err := orch.Confirm(ctx, choice)
	if err != nil {
		return step, err
	}
	_ = s.deps.Sessions.Touch(sessionID)

	name := s.displayName()
	switch {
	case choice == escalation.ChoiceYes && step.From == escalation.StateEmergencyPending:
		s.appendLog(ctx, sess, string(memory.RoleUser), name+" confirmed emergency.")
	case choice == escalation.ChoiceNo && step.From == escalation.StateEmergencyPending:
		s.appendLog(ctx, sess, string(memory.RoleUser), name+" declined emergency notification.")
	case choice == escalation.ChoiceYes:
		s.appendLog(ctx, sess, string(memory.RoleUser), name+" accepted the check-in.")
	default:
		s.appendLog(ctx, sess, string(memory.RoleUser), name+" declined the check-in.")
	}
	s.afterStep(ctx, sess, step)
	return step, nil
}

// afterStep logs escalation messages and persists notifications.
func (s *Service) afterStep(ctx context.Context, sess *session.Session, step escalation.Step) {
	for _, ev := range step.Events {
		s.appendLog(ctx, sess, string(memory.RoleGuardian), ev.Message)
		if len(ev.Notifications) == 0 {
			continue
		}
		if err := s.deps.Alerts.Record(ctx, ev.Notifications...); err != nil {
			s.logger.Error("persist notifications failed", "session_id", sess.ID, "count", len(ev.Notifications), "error", err)
			continue
		}
		for _, n := range ev.Notifications {
			s.logger.Warn("emergency notification sent",
				"session_id", sess.ID, "contact", n.ContactLabel, "notification_id", n.ID)
		}
	}
}

func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]LogLine, error) {
	if _, err := s.deps.Sessions.Get(sessionID); err != nil {
		return nil, err
	}
	entries, err := s.deps.History.List(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]LogLine, 0, len(entries))
	for _, e := range entries {
		line := LogLine{Entry: e}
		if v, ok := risk.Parse(e.Content); ok {
			line.Verdict = &v
		}
		out = append(out, line)
	}
	return out, nil
}

func (s *Service) Alerts(ctx context.Context, sessionID string, limit int) ([]escalation.NotificationRecord, error) {
	if _, err := s.deps.Sessions.Get(sessionID); err != nil {
		return nil, err
	}
	return s.deps.Alerts.List(ctx, sessionID, limit)
}

func (s *Service) orchestrator(sessionID string) (*guardian.Orchestrator, error) {
	s.mu.Lock()
	orch, ok := s.orchestrators[sessionID]
	s.mu.Unlock()
	if ok {
		return orch, nil
	}
	if _, err := s.deps.Sessions.Get(sessionID); err != nil {
		return nil, err
	}
	return nil, session.ErrEnded
}

func (s *Service) appendLog(ctx context.Context, sess *session.Session, role, content string) {
	entry := history.Entry{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Role:      role,
		Content:   content,
	}
	if s.deps.RedactLog {
		entry.Content, entry.PIIRedacted = policy.RedactPII(content)
	}
	if _, err := s.deps.History.Append(ctx, entry); err != nil {
		s.logger.Error("conversation log append failed", "session_id", sess.ID, "role", role, "error", err)
	}
}

func (s *Service) displayName() string {
	if s.deps.Directory != nil {
		if n := strings.TrimSpace(s.deps.Directory.DisplayName()); n != "" {
			return n
		}
	}
	return "User"
}

func (s *Service) stage(name string, start time.Time) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveStage(name, time.Since(start))
	}
}

func (s *Service) sessionEvent(event string) {
	if s.deps.Metrics == nil {
		return
	}
	s.deps.Metrics.SessionEvents.WithLabelValues(event).Inc()
	s.deps.Metrics.ActiveSessions.Set(float64(s.deps.Sessions.ActiveCount()))
}

// Expire is the session janitor hook.
func (s *Service) Expire(sess *session.Session) {
	if s.Drop(sess.ID) {
		s.sessionEvent("expired")
		s.logger.Info("session expired", "session_id", sess.ID)
	}
}
