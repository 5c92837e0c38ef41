package escalation

import (
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/guardian/internal/risk"
)

type State string

const (
	StateIdle             State = "idle"
	StateNudgePending     State = "nudge_pending"
	StateEmergencyPending State = "emergency_pending"
	StateResolved         State = "resolved"
)

// Pending reports whether the state waits for a yes/no confirmation.
func (s State) Pending() bool {
	return s == StateNudgePending || s == StateEmergencyPending
}

// Mode decides whether an emergency recommendation needs the user's consent.
type Mode string

const (
	ModeAssistive  Mode = "assistive"
	ModeAutonomous Mode = "autonomous"
)

func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "assistive", "":
		return ModeAssistive, nil
	case "autonomous":
		return ModeAutonomous, nil
	default:
		return "", fmt.Errorf("unknown escalation mode %q", raw)
	}
}

type Choice string

const (
	ChoiceYes Choice = "yes"
	ChoiceNo  Choice = "no"
)

func ParseChoice(raw string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "y":
		return ChoiceYes, nil
	case "no", "n":
		return ChoiceNo, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidChoice, raw)
	}
}

type EventKind string

const (
	EventNudgePrompt     EventKind = "nudge_prompt"
	EventEmergencyPrompt EventKind = "emergency_prompt"
	EventNotifyAll       EventKind = "notify_all"
	EventCheckIn         EventKind = "check_in"
	EventDeclined        EventKind = "declined"
)

// Event is a typed escalation signal for the caller to render. Prompt events
// require a yes/no answer through Machine.Confirm.
type Event struct {
	Kind          EventKind            `json:"kind"`
	Message       string               `json:"message"`
	RequiresReply bool                 `json:"requires_reply"`
	Notifications []NotificationRecord `json:"notifications,omitempty"`
}

// Step describes one machine transition. Resolved is true when the step
// passed through StateResolved before settling in To: every answered prompt
// and every autonomous notification.
type Step struct {
	From     State   `json:"from"`
	To       State   `json:"to"`
	Resolved bool    `json:"resolved"`
	Ignored  bool    `json:"ignored"`
	Events   []Event `json:"events,omitempty"`
}

type Contact struct {
	Label   string `json:"label"`
	Address string `json:"address"`
}

// Directory supplies the user's display name and emergency contacts. It is
// read at notification time and never written by the machine.
type Directory interface {
	DisplayName() string
	EmergencyContacts() []Contact
}

// NotificationRecord is one simulated alert delivered to one contact.
type NotificationRecord struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	At           time.Time `json:"at"`
	ContactLabel string    `json:"contact_label"`
	Address      string    `json:"address"`
	Text         string    `json:"text"`
}

const (
	nudgePromptText     = "💛 I noticed some signs of distress. Just checking in. If you are in danger, please let me know."
	emergencyPromptText = "🚨 GuardianAI suggests notifying emergency contacts. Do you want to proceed?"
	checkInText         = "Thank you for telling me. I'm staying with you, tell me what is happening."
	declinedText        = "Okay. No emergency contact was notified."
	genericAlertText    = "GuardianAI detected an emergency."
)

// AlertText renders the message sent to every contact.
func AlertText(name string, verdict *risk.Verdict) string {
	analysis := genericAlertText
	if verdict != nil {
		analysis = verdict.Summary()
	}
	return fmt.Sprintf("🚨 EMERGENCY ALERT: %s needs assistance.\nGuardian AI Analysis:\n%s", name, analysis)
}
