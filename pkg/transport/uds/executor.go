package uds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/modoterra/cmdlog/pkg/core"
)

const cancelTimeout = 2 * time.Second

// Executor runs commands over the socket connection. It is the fallback
// path when the HTTP stream cannot be opened.
type Executor struct {
	client *Client
	mu     sync.Mutex
	subs   map[string]*subscription
}

type subscription struct {
	ch   chan ExecOutputEvent
	done chan struct{}
	once sync.Once
}

// NewExecutor takes over the client's event handler.
func NewExecutor(client *Client) *Executor {
	e := &Executor{
		client: client,
		subs:   make(map[string]*subscription),
	}
	client.OnEvent(e.dispatch)
	return e
}

// Exec implements core.FallbackExecutor.
func (e *Executor) Exec(ctx context.Context, id core.StreamID, command string, emit func(core.Chunk)) error {
	key := string(id)
	sub := &subscription{ch: make(chan ExecOutputEvent, 64), done: make(chan struct{})}

	e.mu.Lock()
	if _, exists := e.subs[key]; exists {
		e.mu.Unlock()
		return fmt.Errorf("exec %s: already running", id)
	}
	e.subs[key] = sub
	e.mu.Unlock()
	defer e.unsubscribe(key, sub)

	// The server may push output before the response arrives, so the
	// request runs alongside the event loop below.
	reqErr := make(chan error, 1)
	go func() {
		_, err := e.client.Request(ctx, MethodExec, ExecRequest{ID: key, Command: command})
		reqErr <- err
	}()

	for {
		select {
		case evt := <-sub.ch:
			chunk := core.Chunk{Content: evt.Content, Metadata: evt.Metadata}
			emit(chunk)
			if chunk.Metadata.IsComplete() {
				return nil
			}
		case err := <-reqErr:
			if err != nil {
				if ctx.Err() != nil {
					e.unsubscribe(key, sub)
					e.cancelRemote(key)
					return ctx.Err()
				}
				return fmt.Errorf("exec request: %w", err)
			}
			reqErr = nil
		case <-ctx.Done():
			// Release the read loop before waiting on the cancel
			// response, or a full sub.ch would stall it.
			e.unsubscribe(key, sub)
			e.cancelRemote(key)
			return ctx.Err()
		case <-e.client.Done():
			return fmt.Errorf("exec %s: %w", id, ErrClosed)
		}
	}
}

func (e *Executor) cancelRemote(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	e.client.Request(ctx, MethodCancel, CancelRequest{ID: id})
}

func (e *Executor) unsubscribe(id string, sub *subscription) {
	e.mu.Lock()
	if e.subs[id] == sub {
		delete(e.subs, id)
	}
	e.mu.Unlock()
	sub.once.Do(func() { close(sub.done) })
}

func (e *Executor) dispatch(msg Message) {
	if msg.Method != EventExecOutput {
		return
	}
	var evt ExecOutputEvent
	if err := msg.UnmarshalData(&evt); err != nil {
		return
	}

	e.mu.Lock()
	sub := e.subs[evt.ID]
	e.mu.Unlock()
	if sub == nil {
		return
	}
	select {
	case sub.ch <- evt:
	case <-sub.done:
	}
}
