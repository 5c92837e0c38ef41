// Package escalation decides, per session, what happens after a risk
// verdict: nothing, a check-in nudge, a request to alert emergency contacts,
// or an immediate alert.
//
// A pending confirmation is never pre-empted by a later verdict; the user's
// yes/no answer is the only way out of a pending state.
package escalation

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/guardian/internal/risk"
)

var (
	ErrNothingPending = errors.New("no escalation awaiting confirmation")
	ErrInvalidChoice  = errors.New("confirmation choice must be yes or no")
)

// Machine is not safe for concurrent use; callers serialize access.
type Machine struct {
	sessionID string
	directory Directory
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	state    State
	lastHigh *risk.Verdict
}

type Option func(*Machine)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(m *Machine) {
		if fn != nil {
			m.newID = fn
		}
	}
}

func NewMachine(sessionID string, directory Directory, opts ...Option) *Machine {
	m := &Machine{
		sessionID: sessionID,
		directory: directory,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) State() State { return m.state }

// Apply feeds one verdict into the machine.
func (m *Machine) Apply(v risk.Verdict, mode Mode) Step {
	from := m.state
	if isHighRisk(v) {
		cp := v
		m.lastHigh = &cp
	}

	if from.Pending() {
		m.logger.Info("verdict ignored while confirmation pending",
			"session_id", m.sessionID, "state", from, "action", v.Action, "risk", v.Risk)
		return Step{From: from, To: from, Ignored: true}
	}

	switch v.Action {
	case risk.ActionNudge:
		m.state = StateNudgePending
		m.logger.Info("escalation nudge", "session_id", m.sessionID, "risk", v.Risk)
		return Step{From: from, To: m.state, Events: []Event{{
			Kind:          EventNudgePrompt,
			Message:       nudgePromptText,
			RequiresReply: true,
		}}}

	case risk.ActionEmergencyContact:
		if mode == ModeAutonomous {
			m.logger.Warn("autonomous emergency notification", "session_id", m.sessionID)
			return m.notifyAll(from)
		}
		m.state = StateEmergencyPending
		m.logger.Warn("emergency confirmation requested", "session_id", m.sessionID)
		return Step{From: from, To: m.state, Events: []Event{{
			Kind:          EventEmergencyPrompt,
			Message:       emergencyPromptText,
			RequiresReply: true,
		}}}

	default:
		return Step{From: from, To: from}
	}
}

// Confirm answers the pending prompt.
func (m *Machine) Confirm(choice Choice) (Step, error) {
	from := m.state
	if !from.Pending() {
		return Step{From: from, To: from}, ErrNothingPending
	}
	if choice != ChoiceYes && choice != ChoiceNo {
		return Step{From: from, To: from}, ErrInvalidChoice
	}

	if choice == ChoiceNo {
		m.logger.Info("escalation declined", "session_id", m.sessionID, "from", from)
		return m.resolve(from, Event{Kind: EventDeclined, Message: declinedText}), nil
	}

	if from == StateNudgePending {
		m.logger.Info("nudge acknowledged", "session_id", m.sessionID)
		return m.resolve(from, Event{Kind: EventCheckIn, Message: checkInText}), nil
	}

	m.logger.Warn("emergency confirmed", "session_id", m.sessionID)
	return m.notifyAll(from), nil
}

func (m *Machine) notifyAll(from State) Step {
	m.state = StateResolved

	name := "User"
	var contacts []Contact
	if m.directory != nil {
		if n := strings.TrimSpace(m.directory.DisplayName()); n != "" {
			name = n
		}
		contacts = m.directory.EmergencyContacts()
	}

	text := AlertText(name, m.lastHigh)
	at := m.now()
	records := make([]NotificationRecord, 0, len(contacts))
	for _, c := range contacts {
		if strings.TrimSpace(c.Address) == "" {
			continue
		}
		records = append(records, NotificationRecord{
			ID:           m.newID(),
			SessionID:    m.sessionID,
			At:           at,
			ContactLabel: c.Label,
			Address:      c.Address,
			Text:         text,
		})
	}
	if len(records) == 0 {
		m.logger.Warn("emergency notification has no reachable contacts", "session_id", m.sessionID)
	}

	return m.resolve(from, Event{
		Kind:          EventNotifyAll,
		Message:       "Sent alert to all contacts:\n" + text,
		Notifications: records,
	})
}

// resolve passes through StateResolved and settles in StateIdle.
func (m *Machine) resolve(from State, ev Event) Step {
	m.state = StateResolved
	m.reset()
	return Step{From: from, To: m.state, Resolved: true, Events: []Event{ev}}
}

func (m *Machine) reset() {
	m.state = StateIdle
	m.lastHigh = nil
}

func isHighRisk(v risk.Verdict) bool {
	return v.Risk == risk.LevelHigh || v.Action == risk.ActionEmergencyContact
}
