package guardian

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/guardian/internal/backend"
	"github.com/ent0n29/guardian/internal/escalation"
	"github.com/ent0n29/guardian/internal/risk"
)

type scriptedBackend struct {
	mu        sync.Mutex
	replies   []string
	err       error
	requests  [][]backend.Message
	summaries []string
}

func (s *scriptedBackend) Name() string { return "scripted" }

func (s *scriptedBackend) Complete(_ context.Context, msgs []backend.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, append([]backend.Message(nil), msgs...))
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func (s *scriptedBackend) Summarize(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, prompt)
	return "summary", nil
}

type contacts map[string]string

func (c contacts) DisplayName() string { return "Sam" }
func (c contacts) EmergencyContacts() []escalation.Contact {
	out := make([]escalation.Contact, 0, len(c))
	for label, addr := range c {
		out = append(out, escalation.Contact{Label: label, Address: addr})
	}
	return out
}

const (
	emergencyReply = `Please get somewhere safe. {"Risk": "High", "Analysis": "User reports being followed", "Action": "Emergency Contact"}`
	nudgeReply     = `{"Risk": "Medium", "Analysis": "User seems uneasy", "Action": "Nudge"}`
	calmReply      = `{"Risk": "Low", "Analysis": "All clear", "Action": "No concern"}`
)

func newOrchestrator(t *testing.T, b backend.Backend, mode escalation.Mode, buffer int) *Orchestrator {
	t.Helper()
	o, err := New(Config{
		SessionID: "s1",
		Backend:   b,
		Directory: contacts{"Mom": "+1-000"},
		Mode:      mode,
		MaxBuffer: buffer,
	})
	require.NoError(t, err)
	return o
}

func TestSubmitSendsSystemPromptAndContext(t *testing.T) {
	b := &scriptedBackend{replies: []string{calmReply, calmReply}}
	o := newOrchestrator(t, b, escalation.ModeAssistive, 6)

	_, err := o.Submit(context.Background(), "hello")
	require.NoError(t, err)
	_, err = o.Submit(context.Background(), "still here")
	require.NoError(t, err)

	require.Len(t, b.requests, 2)
	second := b.requests[1]
	require.Len(t, second, 4)
	assert.Equal(t, backend.Message{Role: "system", Content: SystemPrompt}, second[0])
	assert.Equal(t, "hello", second[1].Content)
	assert.Equal(t, "guardian", second[2].Role)
	assert.Equal(t, backend.Message{Role: "user", Content: "still here"}, second[3])
}

func TestSubmitNoVerdictKeepsState(t *testing.T) {
	b := &scriptedBackend{replies: []string{"I'm here for you."}}
	o := newOrchestrator(t, b, escalation.ModeAssistive, 6)

	res, err := o.Submit(context.Background(), "hi")
	require.NoError(t, err)
	assert.Nil(t, res.Verdict)
	assert.Equal(t, "I'm here for you.", res.Reply)
	assert.Equal(t, escalation.StateIdle, res.Step.To)
	assert.Empty(t, res.Step.Events)
}

func TestSubmitEmergencyAssistiveThenConfirm(t *testing.T) {
	b := &scriptedBackend{replies: []string{emergencyReply}}
	o := newOrchestrator(t, b, escalation.ModeAssistive, 6)

	res, err := o.Submit(context.Background(), "someone is following me")
	require.NoError(t, err)
	require.NotNil(t, res.Verdict)
	assert.Equal(t, risk.ActionEmergencyContact, res.Verdict.Action)
	require.Len(t, res.Step.Events, 1)
	assert.Equal(t, escalation.EventEmergencyPrompt, res.Step.Events[0].Kind)
	assert.Equal(t, escalation.StateEmergencyPending, o.State())

	step, err := o.Confirm(context.Background(), escalation.ChoiceYes)
	require.NoError(t, err)
	require.Len(t, step.Events, 1)
	recs := step.Events[0].Notifications
	require.Len(t, recs, 1)
	assert.Equal(t, "Mom", recs[0].ContactLabel)
	assert.Contains(t, recs[0].Text, "User reports being followed")
	assert.Equal(t, escalation.StateIdle, o.State())
}

func TestSubmitEmergencyAutonomousNotifiesWithoutPrompt(t *testing.T) {
	b := &scriptedBackend{replies: []string{emergencyReply}}
	o := newOrchestrator(t, b, escalation.ModeAutonomous, 6)

	res, err := o.Submit(context.Background(), "help")
	require.NoError(t, err)
	assert.True(t, res.Step.Resolved)
	require.Len(t, res.Step.Events, 1)
	assert.Equal(t, escalation.EventNotifyAll, res.Step.Events[0].Kind)
	assert.Len(t, res.Step.Events[0].Notifications, 1)
	assert.Equal(t, escalation.StateIdle, o.State())
}

func TestPendingNudgeIgnoresLaterEmergency(t *testing.T) {
	b := &scriptedBackend{replies: []string{nudgeReply, emergencyReply}}
	o := newOrchestrator(t, b, escalation.ModeAutonomous, 6)

	_, err := o.Submit(context.Background(), "it's dark")
	require.NoError(t, err)
	res, err := o.Submit(context.Background(), "he's closer now")
	require.NoError(t, err)

	assert.True(t, res.Step.Ignored)
	assert.Empty(t, res.Step.Events)
	assert.Equal(t, escalation.StateNudgePending, o.State())
}

func TestBackendFailureLeavesStateUntouched(t *testing.T) {
	b := &scriptedBackend{replies: []string{nudgeReply}}
	o := newOrchestrator(t, b, escalation.ModeAssistive, 6)
	_, err := o.Submit(context.Background(), "uneasy")
	require.NoError(t, err)

	b.err = &backend.Error{Provider: "scripted", Status: 503, Retryable: true, Err: errors.New("down")}
	_, err = o.Submit(context.Background(), "hello?")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, backend.ErrUnavailable)
	assert.Equal(t, escalation.StateNudgePending, o.State())

	turns := o.Memory().Turns()
	require.NotEmpty(t, turns)
	assert.Equal(t, "hello?", turns[len(turns)-1].Content)
}

func TestSubmitAfterCompressionRepeatsUserMessage(t *testing.T) {
	b := &scriptedBackend{replies: []string{calmReply}}
	o := newOrchestrator(t, b, escalation.ModeAssistive, 1)

	_, err := o.Submit(context.Background(), "latest words")
	require.NoError(t, err)

	req := b.requests[0]
	require.Len(t, req, 3)
	assert.Equal(t, "system", req[1].Role)
	assert.Contains(t, req[1].Content, "(Conversation summary): summary")
	assert.Equal(t, backend.Message{Role: "user", Content: "latest words"}, req[2])
	assert.NotEmpty(t, b.summaries)
}

func TestMemoryStaysBounded(t *testing.T) {
	b := &scriptedBackend{}
	o := newOrchestrator(t, b, escalation.ModeAssistive, 4)
	for i := 0; i < 15; i++ {
		_, err := o.Submit(context.Background(), "turn")
		require.NoError(t, err)
		assert.Less(t, o.Memory().Len(), 4)
	}
}

func TestSubmitRejectsEmptyInput(t *testing.T) {
	b := &scriptedBackend{}
	o := newOrchestrator(t, b, escalation.ModeAssistive, 6)
	_, err := o.Submit(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, b.requests)
}

func TestConfirmWithoutPending(t *testing.T) {
	o := newOrchestrator(t, &scriptedBackend{}, escalation.ModeAssistive, 6)
	_, err := o.Confirm(context.Background(), escalation.ChoiceYes)
	assert.ErrorIs(t, err, escalation.ErrNothingPending)
}

func TestSetMode(t *testing.T) {
	o := newOrchestrator(t, &scriptedBackend{}, "", 6)
	assert.Equal(t, escalation.ModeAssistive, o.Mode())
	o.SetMode(escalation.ModeAutonomous)
	assert.Equal(t, escalation.ModeAutonomous, o.Mode())
}

func TestNewRequiresBackend(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
