package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSummarizer struct {
	reply   string
	err     error
	prompts []string
}

func (s *stubSummarizer) Summarize(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.reply, s.err
}

func TestAddTurnCompressesAtThreshold(t *testing.T) {
	sum := &stubSummarizer{reply: "  user felt uneasy walking home  "}
	m := New(sum, 3)
	ctx := context.Background()

	m.AddTurn(ctx, RoleUser, "hi")
	m.AddTurn(ctx, RoleGuardian, "hello")
	assert.Equal(t, 2, m.Len())
	assert.Empty(t, sum.prompts)

	m.AddTurn(ctx, RoleUser, "someone is following me")
	assert.Equal(t, 0, m.Len())
	require.Len(t, sum.prompts, 1)
	assert.Contains(t, sum.prompts[0], "user: hi\nguardian: hello\nuser: someone is following me")
	assert.Contains(t, sum.prompts[0], "Previous summary: ''")
	assert.Equal(t, "user felt uneasy walking home", m.Summary())
}

func TestBufferNeverReachesThreshold(t *testing.T) {
	m := New(&stubSummarizer{reply: "s"}, 4)
	for i := 0; i < 25; i++ {
		m.AddTurn(context.Background(), RoleUser, "turn")
		assert.Less(t, m.Len(), m.MaxBuffer())
	}
}

func TestCompressOnEmptyBufferIsNoop(t *testing.T) {
	sum := &stubSummarizer{reply: "unused"}
	m := New(sum, 6)

	m.Compress(context.Background())
	m.Compress(context.Background())

	assert.Empty(t, sum.prompts)
	assert.Equal(t, "", m.Summary())
}

func TestCompressOnEmptyBufferKeepsSummary(t *testing.T) {
	sum := &stubSummarizer{reply: "walked home, felt watched"}
	m := New(sum, 2)
	ctx := context.Background()

	m.AddTurn(ctx, RoleUser, "someone behind me")
	m.AddTurn(ctx, RoleGuardian, "keep to the main road")
	require.Equal(t, 0, m.Len())
	require.Len(t, sum.prompts, 1)

	sum.reply = "should not be used"
	m.Compress(ctx)
	m.Compress(ctx)

	assert.Equal(t, "walked home, felt watched", m.Summary())
	assert.Len(t, sum.prompts, 1)
}

func TestPreviousSummaryFeedsNextCompression(t *testing.T) {
	sum := &stubSummarizer{reply: "first"}
	m := New(sum, 2)
	ctx := context.Background()

	m.AddTurn(ctx, RoleUser, "a")
	m.AddTurn(ctx, RoleGuardian, "b")
	sum.reply = "second"
	m.AddTurn(ctx, RoleUser, "c")
	m.AddTurn(ctx, RoleGuardian, "d")

	require.Len(t, sum.prompts, 2)
	assert.Contains(t, sum.prompts[1], "Previous summary: 'first'")
	assert.Equal(t, "second", m.Summary())
}

func TestContextMessagesLength(t *testing.T) {
	m := New(&stubSummarizer{reply: "earlier chat"}, 3)
	ctx := context.Background()

	assert.Empty(t, m.ContextMessages())

	m.AddTurn(ctx, RoleUser, "one")
	msgs := m.ContextMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, Message{Role: "user", Content: "one"}, msgs[0])

	m.AddTurn(ctx, RoleGuardian, "two")
	m.AddTurn(ctx, RoleUser, "three")
	m.AddTurn(ctx, RoleGuardian, "four")

	msgs = m.ContextMessages()
	require.Len(t, msgs, 1+m.Len())
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "(Conversation summary): earlier chat", msgs[0].Content)
	assert.Equal(t, "four", msgs[1].Content)
}

func TestSummarizerFailureKeepsRawTranscript(t *testing.T) {
	var outcomes []string
	sum := &stubSummarizer{err: errors.New("backend down")}
	m := New(sum, 2, WithSummaryObserver(func(o string) { outcomes = append(outcomes, o) }))
	ctx := context.Background()

	m.AddTurn(ctx, RoleUser, "I'm at the bus stop")
	m.AddTurn(ctx, RoleGuardian, "Stay in a lit area")

	assert.Equal(t, 0, m.Len())
	assert.Equal(t, "user: I'm at the bus stop\nguardian: Stay in a lit area", m.Summary())
	assert.Equal(t, []string{"degraded"}, outcomes)

	m.AddTurn(ctx, RoleUser, "bus arrived")
	m.AddTurn(ctx, RoleGuardian, "good")
	assert.True(t, strings.HasPrefix(m.Summary(), "user: I'm at the bus stop"))
	assert.True(t, strings.HasSuffix(m.Summary(), "user: bus arrived\nguardian: good"))
}

func TestEmptySummaryIsTreatedAsFailure(t *testing.T) {
	var outcomes []string
	m := New(&stubSummarizer{reply: "   "}, 1, WithSummaryObserver(func(o string) { outcomes = append(outcomes, o) }))

	m.AddTurn(context.Background(), RoleUser, "hello")

	assert.Equal(t, "user: hello", m.Summary())
	assert.Equal(t, []string{"degraded"}, outcomes)
}

func TestNilSummarizerDegrades(t *testing.T) {
	m := New(nil, 1)
	m.AddTurn(context.Background(), RoleUser, "hello")
	assert.Equal(t, "user: hello", m.Summary())
}

func TestNewClampsBuffer(t *testing.T) {
	assert.Equal(t, DefaultMaxBuffer, New(nil, 0).MaxBuffer())
	assert.Equal(t, DefaultMaxBuffer, New(nil, -3).MaxBuffer())
	assert.Equal(t, 2, New(nil, 2).MaxBuffer())
}

func TestTurnsReturnsCopy(t *testing.T) {
	m := New(nil, 6)
	m.AddTurn(context.Background(), RoleUser, "x")

	turns := m.Turns()
	turns[0].Content = "mutated"
	assert.Equal(t, "x", m.Turns()[0].Content)
}
