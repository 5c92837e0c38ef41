package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ent0n29/guardian/internal/policy"
)

// MockBackend answers deterministically from keyword cues so the server and
// terminal client run without a model.
type MockBackend struct{}

func NewMockBackend() *MockBackend { return &MockBackend{} }

func (b *MockBackend) Name() string { return ModeMock }

type mockVerdict struct {
	Risk     string `json:"Risk"`
	Analysis string `json:"Analysis"`
	Action   string `json:"Action"`
}

func (b *MockBackend) Complete(ctx context.Context, messages []Message) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	last := lastUserContent(messages)
	cue := policy.DecideDistress(last)

	var reply, analysis string
	switch cue.Action {
	case "Emergency Contact":
		reply = "Your safety comes first. I can alert your emergency contacts right now."
		analysis = fmt.Sprintf("User message contains an emergency cue (%q).", cue.Matched)
	case "Nudge":
		reply = "That sounds uncomfortable. Would you like me to keep checking in on you?"
		analysis = fmt.Sprintf("User sounds uneasy (%q).", cue.Matched)
	default:
		reply = "Thanks for telling me. I'm here if anything changes."
		analysis = "No sign of danger in the latest message."
	}

	verdict, err := json.Marshal(mockVerdict{Risk: cue.Risk, Analysis: analysis, Action: cue.Action})
	if err != nil {
		return "", fmt.Errorf("marshal mock verdict: %w", err)
	}
	return reply + "\n" + string(verdict), nil
}

func (b *MockBackend) Summarize(ctx context.Context, prompt string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	_, convo, found := strings.Cut(prompt, "Conversation:\n")
	if !found {
		convo = prompt
	}
	lines := strings.Split(strings.TrimSpace(convo), "\n")
	return fmt.Sprintf("%d earlier lines; last: %s", len(lines), lines[len(lines)-1]), nil
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
