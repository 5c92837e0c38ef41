// Package risk extracts structured risk verdicts from free-form model replies.
//
// The model is asked to answer with a single JSON object, but replies often
// wrap it in prose or echo the prompt's example object first. Parse scans for
// every flat {...} fragment and keeps the last one that carries all required
// keys.
package risk

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fragmentPattern = regexp.MustCompile(`\{[\s\S]*?\}`)

var requiredKeys = []string{"Risk", "Analysis", "Action"}

// Parse returns the verdict carried by the last valid fragment in text.
// The boolean is false when no fragment qualifies, which is an expected
// outcome rather than an error.
func Parse(text string) (Verdict, bool) {
	fragments := fragmentPattern.FindAllString(text, -1)
	for i := len(fragments) - 1; i >= 0; i-- {
		if v, ok := decodeFragment(fragments[i]); ok {
			return v, true
		}
	}
	return Verdict{}, false
}

func decodeFragment(fragment string) (Verdict, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(fragment), &obj); err != nil {
		return Verdict{}, false
	}
	for _, key := range requiredKeys {
		if _, ok := obj[key]; !ok {
			return Verdict{}, false
		}
	}

	rawRisk := stringField(obj["Risk"])
	rawAction := stringField(obj["Action"])
	return Verdict{
		Risk:      ParseLevel(rawRisk),
		Analysis:  stringField(obj["Analysis"]),
		Action:    ParseAction(rawAction),
		RawRisk:   rawRisk,
		RawAction: rawAction,
	}, true
}

func stringField(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
