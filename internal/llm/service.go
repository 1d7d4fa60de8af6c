package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/RichardoC/padchat/internal/tokenizer"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

var (
	ErrInputTooLong = errors.New("input longer than maximum total length")
	ErrNoChoices    = errors.New("model returned no choices")
)

// Generator continues a token sequence. The returned sequence starts with
// input verbatim and is at most maxTotalLength long.
type Generator interface {
	Generate(ctx context.Context, input []int, maxTotalLength, padTokenID int) ([]int, error)
}

type Options struct {
	Provider     string // "openai" or "ollama"
	BaseURL      string
	Token        string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

type Service struct {
	llm          llms.Model
	tok          tokenizer.Tokenizer
	systemPrompt string
	timeout      time.Duration
	logger       *zap.Logger
}

func New(opts Options, tok tokenizer.Tokenizer, logger *zap.Logger) (*Service, error) {
	var (
		model llms.Model
		err   error
	)
	switch opts.Provider {
	case "", "openai":
		model, err = openai.New(
			openai.WithToken(opts.Token),
			openai.WithBaseURL(opts.BaseURL),
			openai.WithModel(opts.Model),
		)
	case "ollama":
		model, err = ollama.New(
			ollama.WithModel(opts.Model),
			ollama.WithServerURL(opts.BaseURL),
		)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", opts.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewWithModel(model, tok, opts.SystemPrompt, opts.Timeout, logger), nil
}

func NewWithModel(model llms.Model, tok tokenizer.Tokenizer, systemPrompt string, timeout time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		llm:          model,
		tok:          tok,
		systemPrompt: systemPrompt,
		timeout:      timeout,
		logger:       logger,
	}
}

func (s *Service) Generate(ctx context.Context, input []int, maxTotalLength, padTokenID int) ([]int, error) {
	if len(input) > maxTotalLength {
		return nil, fmt.Errorf("%w: %d > %d", ErrInputTooLong, len(input), maxTotalLength)
	}

	out := make([]int, len(input), maxTotalLength)
	copy(out, input)

	room := maxTotalLength - len(input)
	switch {
	case room == 0:
		return out, nil
	case room == 1:
		return append(out, padTokenID), nil
	}

	messages, err := s.buildMessages(input)
	if err != nil {
		return nil, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.llm.GenerateContent(ctx, messages, llms.WithMaxTokens(room-1))
	if err != nil {
		return nil, fmt.Errorf("failed to generate completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	completion, err := s.tok.Encode(resp.Choices[0].Content)
	if err != nil {
		return nil, fmt.Errorf("failed to encode completion: %w", err)
	}
	if len(completion) > room-1 {
		s.logger.Debug("truncating completion",
			zap.Int("tokens", len(completion)),
			zap.Int("room", room-1))
		completion = s.trimToRunes(completion[:room-1])
	}

	out = append(out, completion...)
	return append(out, padTokenID), nil
}

// trimToRunes drops trailing tokens until the completion decodes to whole
// characters, so a cut never leaves half of a multi-byte rune behind.
func (s *Service) trimToRunes(completion []int) []int {
	for len(completion) > 0 {
		text, err := s.tok.Decode(completion, true)
		if err == nil && utf8.ValidString(text) {
			break
		}
		completion = completion[:len(completion)-1]
	}
	return completion
}

// buildMessages splits the token history on end-of-turn markers. The last
// turn is always the user's; earlier turns alternate backwards from it.
func (s *Service) buildMessages(input []int) ([]llms.MessageContent, error) {
	eot := s.tok.EndOfTurnID()

	var segments [][]int
	start := 0
	for i, id := range input {
		if id == eot {
			segments = append(segments, input[start:i])
			start = i + 1
		}
	}
	if start < len(input) {
		segments = append(segments, input[start:])
	}

	messages := make([]llms.MessageContent, 0, len(segments)+1)
	if s.systemPrompt != "" {
		messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, s.systemPrompt))
	}
	for i, seg := range segments {
		text, err := s.tok.Decode(seg, true)
		if err != nil {
			return nil, fmt.Errorf("failed to decode history: %w", err)
		}
		role := schema.ChatMessageTypeHuman
		if (len(segments)-1-i)%2 == 1 {
			role = schema.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, text))
	}
	return messages, nil
}
