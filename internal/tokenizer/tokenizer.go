// Package tokenizer maps text to token ids and back.
package tokenizer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

const (
	DefaultEncoding = "cl100k_base"

	// EndOfText is the special token used as the end-of-turn marker.
	EndOfText = "<|endoftext|>"
)

var ErrInvalidToken = errors.New("invalid token id")

// Tokenizer is a bidirectional text <-> token id mapping.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int, skipSpecial bool) (string, error)
	EndOfTurnID() int
}

// codec is the subset of *tiktoken.Tiktoken we call.
type codec interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
	Decode(tokens []int) string
}

var knownSpecial = []string{
	EndOfText,
	"<|fim_prefix|>",
	"<|fim_middle|>",
	"<|fim_suffix|>",
	"<|endofprompt|>",
}

type Tiktoken struct {
	enc     codec
	eot     int
	special map[int]struct{}
	strip   *strings.Replacer
}

// NewTiktoken loads the named BPE encoding. The first load of an encoding
// fetches its ranks file; TIKTOKEN_CACHE_DIR controls where it is cached.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %q: %w", encoding, err)
	}
	return newTiktoken(enc)
}

func newTiktoken(enc codec) (*Tiktoken, error) {
	t := &Tiktoken{enc: enc, special: make(map[int]struct{})}
	var pairs []string
	for _, s := range knownSpecial {
		ids := enc.Encode(s, []string{s}, nil)
		if len(ids) != 1 {
			// not a special token in this encoding
			continue
		}
		t.special[ids[0]] = struct{}{}
		pairs = append(pairs, s, "")
	}
	t.strip = strings.NewReplacer(pairs...)

	ids := enc.Encode(EndOfText, []string{EndOfText}, nil)
	if len(ids) != 1 {
		return nil, fmt.Errorf("encoding has no %s token", EndOfText)
	}
	t.eot = ids[0]
	return t, nil
}

// Encode removes special-token text from the input first. User text must
// never yield the end-of-turn id or any other special id, otherwise a typed
// "<|endoftext|>" would split one turn into two wherever the context is cut
// or replayed at turn boundaries.
func (t *Tiktoken) Encode(text string) ([]int, error) {
	// repeat until stable: removing one marker can join the halves of another
	for {
		stripped := t.strip.Replace(text)
		if stripped == text {
			break
		}
		text = stripped
	}
	return t.enc.Encode(text, nil, nil), nil
}

func (t *Tiktoken) Decode(ids []int, skipSpecial bool) (string, error) {
	kept := make([]int, 0, len(ids))
	for _, id := range ids {
		if id < 0 {
			return "", fmt.Errorf("%w: %d", ErrInvalidToken, id)
		}
		if _, ok := t.special[id]; ok && skipSpecial {
			continue
		}
		kept = append(kept, id)
	}
	return t.enc.Decode(kept), nil
}

func (t *Tiktoken) EndOfTurnID() int {
	return t.eot
}
