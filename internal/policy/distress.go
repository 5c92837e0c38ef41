package policy

import (
	"regexp"
	"strings"
)

// CueDecision is a keyword-level reading of a user message. It backs the
// offline mock backend and is never a substitute for a model verdict.
type CueDecision struct {
	Risk    string
	Action  string
	Matched string
}

var (
	emergencyCuePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(help me|call (the )?police|call 911|call 112)\b`),
		regexp.MustCompile(`(?i)\b(being|is|are|he'?s|she'?s|they'?re|someone'?s) (following|chasing|attacking|hurting) me\b`),
		regexp.MustCompile(`(?i)\b(kill|hurt) myself\b`),
		regexp.MustCompile(`(?i)\b(gun|knife|weapon)\b`),
	}
	highCueKeywords = []string{
		"emergency", "attacked", "assaulted", "kidnapped", "trapped",
		"bleeding", "unconscious", "threatened", "break in", "broke in",
	}
	mediumCueKeywords = []string{
		"scared", "afraid", "unsafe", "nervous", "anxious", "worried",
		"alone", "lost", "dark", "stranger", "uneasy", "panic",
	}
)

func DecideDistress(text string) CueDecision {
	in := strings.ToLower(strings.TrimSpace(text))
	if in == "" {
		return CueDecision{Risk: "Low", Action: "No concern"}
	}

	for _, re := range emergencyCuePatterns {
		if m := re.FindString(in); m != "" {
			return CueDecision{Risk: "High", Action: "Emergency Contact", Matched: m}
		}
	}

	for _, kw := range highCueKeywords {
		if strings.Contains(in, kw) {
			return CueDecision{Risk: "High", Action: "Emergency Contact", Matched: kw}
		}
	}

	for _, kw := range mediumCueKeywords {
		if strings.Contains(in, kw) {
			return CueDecision{Risk: "Medium", Action: "Nudge", Matched: kw}
		}
	}

	return CueDecision{Risk: "Low", Action: "No concern"}
}
