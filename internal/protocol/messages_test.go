package protocol

import (
	"errors"
	"testing"

	"github.com/ent0n29/guardian/internal/escalation"
)

func TestParseClientMessageText(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_text","session_id":"s1","text":"I'm walking home"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	text, ok := msg.(ClientText)
	if !ok {
		t.Fatalf("message type = %T, want ClientText", msg)
	}
	if text.SessionID != "s1" || text.Text != "I'm walking home" {
		t.Fatalf("unexpected text message: %+v", text)
	}
}

func TestParseClientMessageAudio(t *testing.T) {
	raw := []byte(`{"type":"client_audio","session_id":"s1","pcm16_base64":"AQID","sample_rate":16000}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	audio, ok := msg.(ClientAudio)
	if !ok {
		t.Fatalf("message type = %T, want ClientAudio", msg)
	}
	if audio.SessionID != "s1" || audio.SampleRate != 16000 {
		t.Fatalf("unexpected audio message: %+v", audio)
	}
}

func TestParseClientMessageConfirmAndMode(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_confirm","session_id":"s1","choice":"yes"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if c, ok := msg.(ClientConfirm); !ok || c.Choice != "yes" {
		t.Fatalf("unexpected confirm message: %#v", msg)
	}

	msg, err = ParseClientMessage([]byte(`{"type":"client_mode","session_id":"s1","mode":"autonomous"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if m, ok := msg.(ClientMode); !ok || m.Mode != "autonomous" {
		t.Fatalf("unexpected mode message: %#v", msg)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsInvalid(t *testing.T) {
	for _, raw := range []string{
		`{"type":"client_text","session_id":"s1","text":"   "}`,
		`{"type":"client_audio","session_id":"","pcm16_base64":"","sample_rate":0}`,
		`{"type":"client_confirm","session_id":"s1"}`,
		`{"type":"client_mode","mode":"assistive"}`,
		`not json`,
	} {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("expected validation error for %s", raw)
		}
	}
}

func TestStepMessages(t *testing.T) {
	step := escalation.Step{
		From:     escalation.StateEmergencyPending,
		To:       escalation.StateIdle,
		Resolved: true,
		Events: []escalation.Event{{
			Kind:    escalation.EventNotifyAll,
			Message: "Sent alert to all contacts:\n...",
			Notifications: []escalation.NotificationRecord{
				{ID: "n1", ContactLabel: "Mom", Address: "+1-6948310"},
				{ID: "n2", ContactLabel: "Dad", Address: "+1-6648380"},
			},
		}},
	}

	msgs := StepMessages("s1", step)
	if len(msgs) != 3 {
		t.Fatalf("len(msgs) = %d, want 3", len(msgs))
	}
	ev, ok := msgs[0].(EscalationEvent)
	if !ok || ev.Kind != escalation.EventNotifyAll || ev.State != escalation.StateIdle {
		t.Fatalf("unexpected first message: %#v", msgs[0])
	}
	n, ok := msgs[2].(NotificationSent)
	if !ok || n.ContactLabel != "Dad" || n.SessionID != "s1" {
		t.Fatalf("unexpected notification message: %#v", msgs[2])
	}

	if got := StepMessages("s1", escalation.Step{}); len(got) != 0 {
		t.Fatalf("empty step produced %d messages", len(got))
	}
}

func BenchmarkParseClientMessageText(b *testing.B) {
	raw := []byte(`{"type":"client_text","session_id":"s1","text":"someone is following me"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(ClientText); !ok {
			b.Fatalf("message type = %T, want ClientText", msg)
		}
	}
}
