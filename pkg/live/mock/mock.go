// Package mock provides test doubles for the live package interfaces.
//
// Use Dialer to verify Dial calls and feed a controlled Channel. Use Channel
// to script the inbound message stream and inspect the audio chunks the
// session sent.
//
// Example:
//
//	ch := mock.NewChannel()
//	d := &mock.Dialer{Channel: ch}
//	// ... connect the session against d, then:
//	ch.Push(live.Message{AgentTranscript: "您好"})
//	ch.Finish(nil)
package mock

import (
	"context"
	"sync"

	"github.com/lkw0831/HomeApplianceService/pkg/live"
)

// Compile-time assertions that the mocks satisfy the live interfaces.
var _ live.Dialer = (*Dialer)(nil)
var _ live.Channel = (*Channel)(nil)

// DialCall records a single invocation of Dialer.Dial.
type DialCall struct {
	// Ctx is the context passed to Dial.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Dial.
	Cfg live.SessionConfig
}

// Dialer is a mock implementation of live.Dialer.
type Dialer struct {
	mu sync.Mutex

	// Channel is returned by Dial. If nil, Dial returns a new default Channel.
	Channel live.Channel

	// DialErr, if non-nil, is returned as the error from Dial.
	DialErr error

	// DialCalls records every call to Dial in order.
	DialCalls []DialCall
}

// Dial records the call and returns Channel, DialErr.
func (d *Dialer) Dial(ctx context.Context, cfg live.SessionConfig) (live.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialCalls = append(d.DialCalls, DialCall{Ctx: ctx, Cfg: cfg})
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	if d.Channel == nil {
		d.Channel = NewChannel()
	}
	return d.Channel, nil
}

// Calls returns a snapshot of recorded Dial invocations.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DialCall, len(d.DialCalls))
	copy(out, d.DialCalls)
	return out
}

// Channel is a scripted implementation of live.Channel. Tests push inbound
// messages with Push and end the stream with Finish; everything the session
// sends is recorded and available via Sent.
type Channel struct {
	msgs chan live.Message

	mu         sync.Mutex
	sent       [][]byte
	sendErr    error
	errVal     error
	closed     bool
	finishOnce sync.Once

	// CloseCalls counts Close invocations (Close is expected to be called
	// more than once by idempotent teardown paths).
	CloseCalls int
}

// NewChannel creates a Channel with a buffered message stream.
func NewChannel() *Channel {
	return &Channel{msgs: make(chan live.Message, 64)}
}

// Push delivers one inbound message to the session.
func (c *Channel) Push(msg live.Message) {
	c.msgs <- msg
}

// Finish closes the inbound stream, optionally recording the terminating
// error first (nil means a clean end). Idempotent.
func (c *Channel) Finish(err error) {
	c.finishOnce.Do(func() {
		c.mu.Lock()
		if err != nil && c.errVal == nil {
			c.errVal = err
		}
		c.mu.Unlock()
		close(c.msgs)
	})
}

// SetSendErr makes subsequent Send calls return err.
func (c *Channel) SetSendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Send records chunk and returns the configured send error, if any.
func (c *Channel) Send(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	c.sent = append(c.sent, cp)
	return nil
}

// Sent returns a snapshot of every chunk passed to Send.
func (c *Channel) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// Messages returns the scripted inbound stream.
func (c *Channel) Messages() <-chan live.Message { return c.msgs }

// Err returns the error recorded by Finish.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Close marks the channel closed and ends the inbound stream.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.CloseCalls++
	c.mu.Unlock()
	c.Finish(nil)
	return nil
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
