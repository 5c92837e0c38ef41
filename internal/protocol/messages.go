package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/guardian/internal/escalation"
	"github.com/ent0n29/guardian/internal/risk"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientText       MessageType = "client_text"
	TypeClientAudio      MessageType = "client_audio"
	TypeClientConfirm    MessageType = "client_confirm"
	TypeClientMode       MessageType = "client_mode"
	TypeGuardianReply    MessageType = "guardian_reply"
	TypeEscalationEvent  MessageType = "escalation_event"
	TypeNotificationSent MessageType = "notification_sent"
	TypeSystemEvent      MessageType = "system_event"
	TypeErrorEvent       MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientText struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type ClientAudio struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
}

type ClientConfirm struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Choice    string      `json:"choice"`
}

type ClientMode struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Mode      string      `json:"mode"`
}

type GuardianReply struct {
	Type      MessageType      `json:"type"`
	SessionID string           `json:"session_id"`
	Input     string           `json:"input,omitempty"`
	Reply     string           `json:"reply"`
	Verdict   *risk.Verdict    `json:"verdict,omitempty"`
	State     escalation.State `json:"state"`
	Ignored   bool             `json:"ignored,omitempty"`
}

type EscalationEvent struct {
	Type          MessageType          `json:"type"`
	SessionID     string               `json:"session_id"`
	Kind          escalation.EventKind `json:"kind"`
	Message       string               `json:"message"`
	RequiresReply bool                 `json:"requires_reply"`
	State         escalation.State     `json:"state"`
}

type NotificationSent struct {
	Type         MessageType `json:"type"`
	SessionID    string      `json:"session_id"`
	ID           string      `json:"id"`
	ContactLabel string      `json:"contact_label"`
	Address      string      `json:"address"`
	Text         string      `json:"text"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientText:
		var msg ClientText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid client_text")
		}
		return msg, nil
	case TypeClientAudio:
		var msg ClientAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio")
		}
		return msg, nil
	case TypeClientConfirm:
		var msg ClientConfirm
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Choice == "" {
			return nil, errors.New("invalid client_confirm")
		}
		return msg, nil
	case TypeClientMode:
		var msg ClientMode
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Mode == "" {
			return nil, errors.New("invalid client_mode")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// StepMessages renders an escalation step as the server messages that follow
// a guardian reply or a confirmation.
func StepMessages(sessionID string, step escalation.Step) []any {
	var out []any
	for _, ev := range step.Events {
		out = append(out, EscalationEvent{
			Type:          TypeEscalationEvent,
			SessionID:     sessionID,
			Kind:          ev.Kind,
			Message:       ev.Message,
			RequiresReply: ev.RequiresReply,
			State:         step.To,
		})
		for _, n := range ev.Notifications {
			out = append(out, NotificationSent{
				Type:         TypeNotificationSent,
				SessionID:    sessionID,
				ID:           n.ID,
				ContactLabel: n.ContactLabel,
				Address:      n.Address,
				Text:         n.Text,
			})
		}
	}
	return out
}
