// Package chat runs a turn-based conversation against a token-level
// generator, keeping the dialogue history within a fixed token ceiling.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/RichardoC/padchat/internal/llm"
	"github.com/RichardoC/padchat/internal/models"
	"github.com/RichardoC/padchat/internal/tokenizer"
	"go.uber.org/zap"
)

const (
	DefaultMaxTurns         = 10
	DefaultMaxContextLength = 1000
	DefaultReplyReserve     = 64
	DefaultFarewell         = "Exiting the chat. Goodbye!"
)

var (
	ErrInvalidLimits      = errors.New("invalid conversation limits")
	ErrBrokenContinuation = errors.New("generator output does not continue its input")
)

// Reader blocks until the user submits one utterance. io.EOF ends the session.
type Reader interface {
	ReadUtterance(ctx context.Context) (string, error)
}

type Display interface {
	Show(text string)
}

// Noticer receives farewell and failure notices. Displays that do not
// implement it get notices through Show.
type Noticer interface {
	Notice(text string)
}

// Journal records completed turns. Failures are logged, never fatal.
type Journal interface {
	RecordTurn(ctx context.Context, turn models.Turn) error
}

type Option func(*Manager)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithJournal(j Journal) Option {
	return func(m *Manager) { m.journal = j }
}

func WithExitKeywords(words ...string) Option {
	return func(m *Manager) { m.exitWords = words }
}

// WithReplyReserve sets how many tokens of the ceiling are kept free for the
// model's reply when old turns are evicted.
func WithReplyReserve(n int) Option {
	return func(m *Manager) { m.replyReserve = n }
}

// WithRecoverTurns makes tokenizer and generator failures end only the
// current turn instead of the session.
func WithRecoverTurns(enabled bool) Option {
	return func(m *Manager) { m.recoverTurns = enabled }
}

func WithFarewell(text string) Option {
	return func(m *Manager) { m.farewell = text }
}

// Manager owns one conversation context. It is not safe for concurrent use;
// run one Manager per session.
type Manager struct {
	tok tokenizer.Tokenizer
	gen llm.Generator
	in  Reader
	out Display

	journal      Journal
	logger       *zap.Logger
	exitWords    []string
	replyReserve int
	recoverTurns bool
	farewell     string

	context models.ConversationContext
}

func New(tok tokenizer.Tokenizer, gen llm.Generator, in Reader, out Display, opts ...Option) *Manager {
	m := &Manager{
		tok:          tok,
		gen:          gen,
		in:           in,
		out:          out,
		logger:       zap.NewNop(),
		exitWords:    []string{"exit", "quit"},
		replyReserve: DefaultReplyReserve,
		farewell:     DefaultFarewell,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Context returns a copy of the retained conversation context.
func (m *Manager) Context() models.ConversationContext {
	return m.context.Clone()
}

// Start runs up to maxTurns turns. It returns nil when the turns run out,
// an exit keyword is entered, or the reader reports io.EOF.
func (m *Manager) Start(ctx context.Context, maxTurns, maxContextLength int) error {
	if maxTurns < 0 || maxContextLength < 2 {
		return fmt.Errorf("%w: maxTurns=%d maxContextLength=%d", ErrInvalidLimits, maxTurns, maxContextLength)
	}

	m.logger.Info("conversation started",
		zap.Int("maxTurns", maxTurns),
		zap.Int("maxContextLength", maxContextLength))

	for i := 0; i < maxTurns; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		text, err := m.in.ReadUtterance(ctx)
		if errors.Is(err, io.EOF) {
			m.notice(m.farewell)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read utterance: %w", err)
		}

		if m.isExit(text) {
			m.logger.Info("exit keyword received", zap.Int("turns", m.context.TurnCount))
			m.notice(m.farewell)
			return nil
		}

		turn, err := m.Step(ctx, text, maxContextLength)
		if err != nil {
			if !m.recoverTurns {
				return err
			}
			m.logger.Error("turn failed", zap.Int("iteration", i+1), zap.Error(err))
			m.notice(fmt.Sprintf("Error: %v", err))
			continue
		}
		m.out.Show(turn.BotText)
	}

	m.logger.Info("turn limit reached", zap.Int("turns", m.context.TurnCount))
	return nil
}

// Step processes one utterance: encode, window, generate, extract the new
// suffix and decode it. The retained context only changes on success.
func (m *Manager) Step(ctx context.Context, text string, maxContextLength int) (models.Turn, error) {
	eot := m.tok.EndOfTurnID()

	userTokens, err := m.tok.Encode(text)
	if err != nil {
		return models.Turn{}, fmt.Errorf("failed to encode utterance: %w", err)
	}
	next := make([]int, 0, len(userTokens)+1)
	next = append(next, userTokens...)
	next = append(next, eot)

	pre := fitWindow(m.context.Tokens, next, maxContextLength-m.reserve(maxContextLength), eot)
	if evicted := len(m.context.Tokens) + len(next) - len(pre); evicted > 0 {
		m.logger.Debug("evicted old context",
			zap.Int("tokens", evicted),
			zap.Int("kept", len(pre)))
	}

	out, err := m.gen.Generate(ctx, pre, maxContextLength, eot)
	if err != nil {
		return models.Turn{}, fmt.Errorf("failed to generate reply: %w", err)
	}
	if len(out) > maxContextLength || !hasPrefix(out, pre) {
		return models.Turn{}, fmt.Errorf("%w: input %d tokens, output %d tokens",
			ErrBrokenContinuation, len(pre), len(out))
	}

	suffix := make([]int, len(out)-len(pre))
	copy(suffix, out[len(pre):])

	botText, err := m.tok.Decode(suffix, true)
	if err != nil {
		return models.Turn{}, fmt.Errorf("failed to decode reply: %w", err)
	}

	m.context.Tokens = append(m.context.Tokens[:0:0], out...)
	m.context.TurnCount++

	turn := models.Turn{
		Number:            m.context.TurnCount,
		UserText:          text,
		UserTokens:        userTokens,
		InputLength:       len(pre),
		ModelOutputTokens: suffix,
		BotText:           botText,
		ContextLength:     len(out),
	}

	if m.journal != nil {
		if err := m.journal.RecordTurn(ctx, turn); err != nil {
			m.logger.Warn("failed to record turn", zap.Int("turn", turn.Number), zap.Error(err))
		}
	}
	return turn, nil
}

// reserve clamps the reply reserve so at least one token of input and one
// of output fit under the ceiling.
func (m *Manager) reserve(maxContextLength int) int {
	r := m.replyReserve
	if r < 1 {
		r = 1
	}
	if r > maxContextLength-1 {
		r = maxContextLength - 1
	}
	return r
}

func (m *Manager) isExit(text string) bool {
	for _, w := range m.exitWords {
		if strings.EqualFold(text, w) {
			return true
		}
	}
	return false
}

func (m *Manager) notice(text string) {
	if n, ok := m.out.(Noticer); ok {
		n.Notice(text)
		return
	}
	m.out.Show(text)
}
