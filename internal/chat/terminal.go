package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

const (
	DefaultPrompt   = ">> User: "
	DefaultBotLabel = "Bot"
)

// Terminal reads utterances line by line and prints replies.
type Terminal struct {
	r        *bufio.Reader
	w        io.Writer
	Prompt   string
	BotLabel string

	// pending holds a read left running by a cancelled ReadUtterance;
	// the next call picks up its line instead of starting another read.
	pending chan lineResult
}

type lineResult struct {
	line string
	err  error
}

func NewTerminal(r io.Reader, w io.Writer) *Terminal {
	return &Terminal{
		r:        bufio.NewReader(r),
		w:        w,
		Prompt:   DefaultPrompt,
		BotLabel: DefaultBotLabel,
	}
}

// ReadUtterance reads one line, or returns ctx.Err() as soon as ctx is
// done. The read itself runs in its own goroutine since the underlying
// reader cannot be interrupted.
func (t *Terminal) ReadUtterance(ctx context.Context) (string, error) {
	fmt.Fprint(t.w, t.Prompt)

	if t.pending == nil {
		ch := make(chan lineResult, 1)
		t.pending = ch
		go func() {
			line, err := t.r.ReadString('\n')
			ch <- lineResult{line: line, err: err}
		}()
	}

	select {
	case res := <-t.pending:
		t.pending = nil
		if res.err != nil && !(res.err == io.EOF && res.line != "") {
			return "", res.err
		}
		return strings.TrimRight(res.line, "\r\n"), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (t *Terminal) Show(text string) {
	fmt.Fprintf(t.w, "%s: %s\n", t.BotLabel, text)
}

func (t *Terminal) Notice(text string) {
	fmt.Fprintln(t.w, text)
}
