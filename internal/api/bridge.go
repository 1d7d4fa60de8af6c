package api

import (
	"context"
	"errors"
	"io"
	"sync"
)

var ErrSessionClosed = errors.New("session closed")

// Reply is what the conversation loop produced for one utterance.
type Reply struct {
	Text   string
	Notice bool // farewell or failure notice rather than a model reply
}

// request carries one utterance and the channel its reply goes back on.
type request struct {
	text  string
	reply chan Reply
}

// Bridge hands utterances from HTTP requests to a chat.Manager loop running
// in another goroutine, and its replies back. One utterance is in flight at
// a time. Each utterance gets its own reply channel, so a reply to an
// abandoned request is never delivered to the next one.
type Bridge struct {
	requests  chan request
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex

	// current is the reply channel of the utterance the loop read last.
	// Only the loop goroutine touches it.
	current chan Reply
}

func NewBridge() *Bridge {
	return &Bridge{
		requests: make(chan request),
		done:     make(chan struct{}),
	}
}

// ReadUtterance blocks until Send delivers text. It reports io.EOF once
// the bridge is closed.
func (b *Bridge) ReadUtterance(ctx context.Context) (string, error) {
	select {
	case req := <-b.requests:
		b.current = req.reply
		return req.text, nil
	case <-b.done:
		return "", io.EOF
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *Bridge) Show(text string) {
	b.put(Reply{Text: text})
}

func (b *Bridge) Notice(text string) {
	b.put(Reply{Text: text, Notice: true})
}

func (b *Bridge) put(r Reply) {
	if b.current == nil {
		return
	}
	select {
	case b.current <- r:
	default:
		// this utterance already has its reply
	}
}

// Send delivers one utterance and waits for the reply or notice it produces.
func (b *Bridge) Send(ctx context.Context, text string) (Reply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	req := request{text: text, reply: make(chan Reply, 1)}
	select {
	case b.requests <- req:
	case <-b.done:
		return Reply{}, ErrSessionClosed
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r, nil
	case <-b.done:
		// the loop may have queued a farewell before finishing
		select {
		case r := <-req.reply:
			return r, nil
		default:
			return Reply{}, ErrSessionClosed
		}
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Close ends the session; later Sends fail with ErrSessionClosed.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *Bridge) Done() <-chan struct{} {
	return b.done
}
