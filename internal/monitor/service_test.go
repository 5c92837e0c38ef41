package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/guardian/internal/alerts"
	"github.com/ent0n29/guardian/internal/backend"
	"github.com/ent0n29/guardian/internal/escalation"
	"github.com/ent0n29/guardian/internal/guardian"
	"github.com/ent0n29/guardian/internal/history"
	"github.com/ent0n29/guardian/internal/observability"
	"github.com/ent0n29/guardian/internal/risk"
	"github.com/ent0n29/guardian/internal/session"
)

type staticDirectory struct {
	name     string
	contacts []escalation.Contact
}

func (d staticDirectory) DisplayName() string                     { return d.name }
func (d staticDirectory) EmergencyContacts() []escalation.Contact { return d.contacts }

type fakeTranscriber struct{ text string }

func (f fakeTranscriber) AudioToText(context.Context, string) string { return f.text }

type fakePCMTranscriber struct {
	fakeTranscriber
	gotRate int
}

func (f *fakePCMTranscriber) PCMToText(_ context.Context, _ []byte, rate int) string {
	f.gotRate = rate
	return f.text
}

type fakeDescriber struct{ text string }

func (f fakeDescriber) ImageToText(context.Context, string) string { return f.text }

type failingBackend struct{}

func (failingBackend) Name() string { return "failing" }
func (failingBackend) Complete(context.Context, []backend.Message) (string, error) {
	return "", errors.New("connection refused")
}
func (failingBackend) Summarize(context.Context, string) (string, error) { return "", nil }

func newTestService(t *testing.T, mutate func(*Deps)) (*Service, *alerts.InMemoryStore) {
	t.Helper()
	alertStore := alerts.NewInMemoryStore()
	deps := Deps{
		Sessions: session.NewManager(0),
		Backend:  backend.NewMockBackend(),
		Directory: staticDirectory{name: "Ana", contacts: []escalation.Contact{
			{Label: "Mom", Address: "+1-6948310"},
			{Label: "Dad", Address: "+1-6648380"},
		}},
		History: history.NewInMemoryStore(),
		Alerts:  alertStore,
		Metrics: observability.NewMetricsWith(prometheus.NewRegistry(), "test"),
	}
	if mutate != nil {
		mutate(&deps)
	}
	svc, err := NewService(deps)
	require.NoError(t, err)
	return svc, alertStore
}

func contents(lines []LogLine) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.Role+": "+l.Content)
	}
	return out
}

func TestNewServiceRequiresBackend(t *testing.T) {
	_, err := NewService(Deps{Sessions: session.NewManager(0)})
	assert.Error(t, err)
}

func TestAssistiveEmergencyFlow(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	sess, err := svc.StartSession("u1", "")
	require.NoError(t, err)
	assert.Equal(t, escalation.ModeAssistive, sess.Mode)

	out, err := svc.SubmitText(ctx, sess.ID, "  someone is following me  ")
	require.NoError(t, err)
	assert.Equal(t, "someone is following me", out.Input)
	require.NotNil(t, out.Verdict)
	assert.Equal(t, risk.ActionEmergencyContact, out.Verdict.Action)
	assert.Equal(t, escalation.StateEmergencyPending, out.Step.To)

	state, err := svc.State(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, escalation.StateEmergencyPending, state)

	step, err := svc.Confirm(ctx, sess.ID, escalation.ChoiceYes)
	require.NoError(t, err)
	assert.True(t, step.Resolved)
	assert.Equal(t, escalation.StateIdle, step.To)

	recs, err := svc.Alerts(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Mom", recs[0].ContactLabel)
	assert.Contains(t, recs[0].Text, "EMERGENCY ALERT: Ana needs assistance.")

	lines, err := svc.History(ctx, sess.ID, 0)
	require.NoError(t, err)
	log := contents(lines)
	require.Len(t, log, 5)
	assert.Equal(t, "user: someone is following me", log[0])
	assert.True(t, strings.HasPrefix(log[2], "guardian: 🚨 GuardianAI suggests notifying"))
	assert.Equal(t, "user: Ana confirmed emergency.", log[3])
	assert.True(t, strings.HasPrefix(log[4], "guardian: Sent alert to all contacts:\n"))

	require.NotNil(t, lines[1].Verdict)
	assert.Equal(t, risk.LevelHigh, lines[1].Verdict.Risk)
	assert.Nil(t, lines[0].Verdict)
}

func TestDeclineWritesAuditLine(t *testing.T) {
	svc, alertStore := newTestService(t, nil)
	ctx := context.Background()
	sess, err := svc.StartSession("u1", escalation.ModeAssistive)
	require.NoError(t, err)

	_, err = svc.SubmitText(ctx, sess.ID, "there is a man with a knife")
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, sess.ID, escalation.ChoiceNo)
	require.NoError(t, err)

	lines, err := svc.History(ctx, sess.ID, 0)
	require.NoError(t, err)
	log := contents(lines)
	assert.Contains(t, log, "user: Ana declined emergency notification.")
	assert.Contains(t, log, "guardian: Okay. No emergency contact was notified.")

	recs, err := alertStore.List(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestConfirmWithoutPendingPrompt(t *testing.T) {
	svc, _ := newTestService(t, nil)
	sess, err := svc.StartSession("u1", "")
	require.NoError(t, err)

	_, err = svc.Confirm(context.Background(), sess.ID, escalation.ChoiceYes)
	assert.ErrorIs(t, err, escalation.ErrNothingPending)
}

func TestAutonomousModeNotifiesImmediately(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	sess, err := svc.StartSession("u1", escalation.ModeAutonomous)
	require.NoError(t, err)

	out, err := svc.SubmitText(ctx, sess.ID, "I was attacked, help me")
	require.NoError(t, err)
	assert.True(t, out.Step.Resolved)

	recs, err := svc.Alerts(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestSetModeSwitchesBehaviour(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	sess, err := svc.StartSession("u1", escalation.ModeAssistive)
	require.NoError(t, err)

	require.NoError(t, svc.SetMode(sess.ID, escalation.ModeAutonomous))
	out, err := svc.SubmitText(ctx, sess.ID, "call the police")
	require.NoError(t, err)
	assert.True(t, out.Step.Resolved)
}

func TestMediaInputsArePrefixed(t *testing.T) {
	pcm := &fakePCMTranscriber{fakeTranscriber: fakeTranscriber{text: "I'm scared"}}
	svc, _ := newTestService(t, func(d *Deps) {
		d.Transcriber = pcm
		d.Describer = fakeDescriber{text: "Scene description: a dark parking lot. "}
	})
	ctx := context.Background()
	sess, err := svc.StartSession("u1", "")
	require.NoError(t, err)

	out, err := svc.SubmitAudio(ctx, sess.ID, "clip.wav")
	require.NoError(t, err)
	assert.Equal(t, "[Audio Description] I'm scared", out.Input)
	assert.Equal(t, escalation.StateNudgePending, out.Step.To)

	_, err = svc.Confirm(ctx, sess.ID, escalation.ChoiceYes)
	require.NoError(t, err)

	out, err = svc.SubmitImage(ctx, sess.ID, "photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, "[Image Description] Scene description: a dark parking lot. ", out.Input)

	_, err = svc.Confirm(ctx, sess.ID, escalation.ChoiceNo)
	require.NoError(t, err)

	out, err = svc.SubmitPCM(ctx, sess.ID, []byte{0, 0}, 16000)
	require.NoError(t, err)
	assert.Equal(t, 16000, pcm.gotRate)
	assert.Equal(t, "[Audio Description] I'm scared", out.Input)

	snap := svc.deps.Metrics.LatencySnapshot()
	assert.NotEmpty(t, snap.Stages)
}

func TestMediaUnavailable(t *testing.T) {
	svc, _ := newTestService(t, func(d *Deps) { d.Transcriber = fakeTranscriber{text: "x"} })
	sess, err := svc.StartSession("u1", "")
	require.NoError(t, err)

	_, err = svc.SubmitImage(context.Background(), sess.ID, "photo.jpg")
	assert.ErrorIs(t, err, ErrMediaUnavailable)
	_, err = svc.SubmitPCM(context.Background(), sess.ID, []byte{0, 0}, 16000)
	assert.ErrorIs(t, err, ErrMediaUnavailable)
}

func TestEndedAndUnknownSessions(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.SubmitText(ctx, "missing", "hi")
	assert.ErrorIs(t, err, session.ErrNotFound)

	sess, err := svc.StartSession("u1", "")
	require.NoError(t, err)
	_, err = svc.EndSession(sess.ID)
	require.NoError(t, err)

	_, err = svc.SubmitText(ctx, sess.ID, "hi")
	assert.ErrorIs(t, err, session.ErrEnded)

	// The log of an ended session stays readable.
	_, err = svc.History(ctx, sess.ID, 0)
	assert.NoError(t, err)
}

func TestEmptyInputRejected(t *testing.T) {
	svc, _ := newTestService(t, nil)
	sess, err := svc.StartSession("u1", "")
	require.NoError(t, err)

	_, err = svc.SubmitText(context.Background(), sess.ID, "   ")
	assert.ErrorIs(t, err, guardian.ErrEmptyInput)

	lines, err := svc.History(context.Background(), sess.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestBackendFailureKeepsUserLine(t *testing.T) {
	svc, _ := newTestService(t, func(d *Deps) { d.Backend = failingBackend{} })
	ctx := context.Background()
	sess, err := svc.StartSession("u1", "")
	require.NoError(t, err)

	_, err = svc.SubmitText(ctx, sess.ID, "hello")
	assert.ErrorIs(t, err, guardian.ErrBackendUnavailable)

	lines, err := svc.History(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"user: hello"}, contents(lines))
}

func TestRedactedLog(t *testing.T) {
	svc, _ := newTestService(t, func(d *Deps) { d.RedactLog = true })
	ctx := context.Background()
	sess, err := svc.StartSession("u1", "")
	require.NoError(t, err)

	_, err = svc.SubmitText(ctx, sess.ID, "write to me at ana@example.com")
	require.NoError(t, err)

	lines, err := svc.History(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, lines)
	assert.True(t, lines[0].PIIRedacted)
	assert.Equal(t, "write to me at [REDACTED_EMAIL]", lines[0].Content)
}

func TestExpireDropsOrchestrator(t *testing.T) {
	svc, _ := newTestService(t, nil)
	sess, err := svc.StartSession("u1", "")
	require.NoError(t, err)

	svc.Expire(sess)
	assert.False(t, svc.Drop(sess.ID))
}
