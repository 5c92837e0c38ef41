package risk

import (
	"fmt"
	"strings"
)

// Level is the risk classification reported by the model.
type Level string

const (
	LevelUnknown Level = ""
	LevelLow     Level = "low"
	LevelMedium  Level = "medium"
	LevelHigh    Level = "high"
)

// Action is the recommended follow-up reported by the model.
type Action string

const (
	ActionUnknown          Action = ""
	ActionNoConcern        Action = "no_concern"
	ActionNudge            Action = "nudge"
	ActionEmergencyContact Action = "emergency_contact"
)

// Verdict is the structured {Risk, Analysis, Action} judgment extracted from
// a single model reply.
type Verdict struct {
	Risk     Level  `json:"risk"`
	Analysis string `json:"analysis"`
	Action   Action `json:"action"`

	// Raw values as written by the model, kept for display.
	RawRisk   string `json:"raw_risk"`
	RawAction string `json:"raw_action"`
}

// Summary renders the verdict as a short multi-line block for logs and alerts.
func (v Verdict) Summary() string {
	return fmt.Sprintf("Risk: %s\nAnalysis: %s\nAction: %s",
		orUnknown(v.RawRisk), v.Analysis, orUnknown(v.RawAction))
}

func ParseLevel(raw string) Level {
	switch normalize(raw) {
	case "low":
		return LevelLow
	case "medium":
		return LevelMedium
	case "high":
		return LevelHigh
	default:
		return LevelUnknown
	}
}

func ParseAction(raw string) Action {
	switch normalize(raw) {
	case "noconcern":
		return ActionNoConcern
	case "nudge":
		return ActionNudge
	case "emergencycontact":
		return ActionEmergencyContact
	default:
		return ActionUnknown
	}
}

// normalize lowercases and drops separators so "Emergency Contact",
// "emergency_contact" and "EMERGENCY-CONTACT" compare equal.
func normalize(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '\t':
			return -1
		}
		return r
	}, raw)
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}
