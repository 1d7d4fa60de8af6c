package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

const testEOT = 0

// runeTokenizer encodes each rune as its code point; 0 is the end-of-turn id.
type runeTokenizer struct{}

func (runeTokenizer) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text))
	for _, r := range text {
		ids = append(ids, int(r))
	}
	return ids, nil
}

func (runeTokenizer) Decode(ids []int, skipSpecial bool) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		if id == testEOT && skipSpecial {
			continue
		}
		b.WriteRune(rune(id))
	}
	return b.String(), nil
}

func (runeTokenizer) EndOfTurnID() int { return testEOT }

type fakeModel struct {
	reply    string
	err      error
	calls    int
	messages []llms.MessageContent
	options  llms.CallOptions
	deadline bool
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	m.messages = messages
	for _, opt := range options {
		opt(&m.options)
	}
	_, m.deadline = ctx.Deadline()
	if m.err != nil {
		return nil, m.err
	}
	if m.reply == "" {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func encode(t *testing.T, s string) []int {
	t.Helper()
	ids, err := runeTokenizer{}.Encode(s)
	require.NoError(t, err)
	return ids
}

func textOf(m llms.MessageContent) string {
	var b strings.Builder
	for _, p := range m.Parts {
		if tc, ok := p.(llms.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func TestGenerateKeepsInputPrefix(t *testing.T) {
	model := &fakeModel{reply: "yo"}
	svc := NewWithModel(model, runeTokenizer{}, "", 0, nil)

	input := append(encode(t, "hi"), testEOT)
	out, err := svc.Generate(context.Background(), input, 100, testEOT)
	require.NoError(t, err)

	assert.Equal(t, input, out[:len(input)])
	assert.Equal(t, append(encode(t, "yo"), testEOT), out[len(input):])
	assert.Equal(t, 97, model.options.MaxTokens)
	assert.False(t, model.deadline)
}

func TestGenerateBuildsAlternatingRoles(t *testing.T) {
	model := &fakeModel{reply: "fine"}
	svc := NewWithModel(model, runeTokenizer{}, "be brief", 0, nil)

	var input []int
	for _, s := range []string{"hello", "hi there", "how are you"} {
		input = append(input, encode(t, s)...)
		input = append(input, testEOT)
	}
	_, err := svc.Generate(context.Background(), input, 200, testEOT)
	require.NoError(t, err)

	require.Len(t, model.messages, 4)
	assert.Equal(t, schema.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, "be brief", textOf(model.messages[0]))
	assert.Equal(t, schema.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, "hello", textOf(model.messages[1]))
	assert.Equal(t, schema.ChatMessageTypeAI, model.messages[2].Role)
	assert.Equal(t, "hi there", textOf(model.messages[2]))
	assert.Equal(t, schema.ChatMessageTypeHuman, model.messages[3].Role)
	assert.Equal(t, "how are you", textOf(model.messages[3]))
}

func TestGenerateRolesAfterWindowTrim(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	svc := NewWithModel(model, runeTokenizer{}, "", 0, nil)

	// history starting on an assistant turn
	input := append(encode(t, "reply"), testEOT)
	input = append(input, encode(t, "question")...)
	input = append(input, testEOT)
	_, err := svc.Generate(context.Background(), input, 100, testEOT)
	require.NoError(t, err)

	require.Len(t, model.messages, 2)
	assert.Equal(t, schema.ChatMessageTypeAI, model.messages[0].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, model.messages[1].Role)
}

func TestGenerateTruncatesToCeiling(t *testing.T) {
	model := &fakeModel{reply: strings.Repeat("x", 50)}
	svc := NewWithModel(model, runeTokenizer{}, "", 0, nil)

	input := append(encode(t, "hi"), testEOT)
	out, err := svc.Generate(context.Background(), input, 10, testEOT)
	require.NoError(t, err)
	assert.Len(t, out, 10)
	assert.Equal(t, testEOT, out[9])
}

// byteTokenizer encodes each byte as byte+1, so multi-byte runes span
// several tokens; 0 is the end-of-turn id.
type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text))
	for i := 0; i < len(text); i++ {
		ids = append(ids, int(text[i])+1)
	}
	return ids, nil
}

func (byteTokenizer) Decode(ids []int, skipSpecial bool) (string, error) {
	b := make([]byte, 0, len(ids))
	for _, id := range ids {
		if id == testEOT {
			if !skipSpecial {
				b = append(b, '\n')
			}
			continue
		}
		b = append(b, byte(id-1))
	}
	return string(b), nil
}

func (byteTokenizer) EndOfTurnID() int { return testEOT }

func TestGenerateTruncatesOnRuneBoundary(t *testing.T) {
	model := &fakeModel{reply: "héllo"}
	svc := NewWithModel(model, byteTokenizer{}, "", 0, nil)

	input, err := byteTokenizer{}.Encode("hi")
	require.NoError(t, err)
	input = append(input, testEOT)

	// room for "h" and the first byte of "é"
	out, err := svc.Generate(context.Background(), input, len(input)+3, testEOT)
	require.NoError(t, err)

	text, err := byteTokenizer{}.Decode(out[len(input):], true)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(text))
	assert.Equal(t, "h", text)
	assert.Equal(t, testEOT, out[len(out)-1])

	// room for all of "hé"
	out, err = svc.Generate(context.Background(), input, len(input)+4, testEOT)
	require.NoError(t, err)
	text, err = byteTokenizer{}.Decode(out[len(input):], true)
	require.NoError(t, err)
	assert.Equal(t, "hé", text)
}

func TestGenerateWithoutRoom(t *testing.T) {
	model := &fakeModel{reply: "unused"}
	svc := NewWithModel(model, runeTokenizer{}, "", 0, nil)
	input := append(encode(t, "abc"), testEOT)

	out, err := svc.Generate(context.Background(), input, len(input), testEOT)
	require.NoError(t, err)
	assert.Equal(t, input, out)

	out, err = svc.Generate(context.Background(), input, len(input)+1, testEOT)
	require.NoError(t, err)
	assert.Equal(t, append(append([]int{}, input...), testEOT), out)

	assert.Zero(t, model.calls)

	_, err = svc.Generate(context.Background(), input, len(input)-1, testEOT)
	assert.ErrorIs(t, err, ErrInputTooLong)
}

func TestGenerateErrors(t *testing.T) {
	input := append(encode(t, "hi"), testEOT)

	boom := errors.New("boom")
	svc := NewWithModel(&fakeModel{err: boom}, runeTokenizer{}, "", time.Second, nil)
	_, err := svc.Generate(context.Background(), input, 50, testEOT)
	assert.ErrorIs(t, err, boom)

	svc = NewWithModel(&fakeModel{}, runeTokenizer{}, "", 0, nil)
	_, err = svc.Generate(context.Background(), input, 50, testEOT)
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestGenerateAppliesTimeout(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	svc := NewWithModel(model, runeTokenizer{}, "", time.Minute, nil)
	_, err := svc.Generate(context.Background(), append(encode(t, "hi"), testEOT), 50, testEOT)
	require.NoError(t, err)
	assert.True(t, model.deadline)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(Options{Provider: "carrier-pigeon"}, runeTokenizer{}, nil)
	assert.Error(t, err)
}
