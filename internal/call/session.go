// Package call orchestrates one voice call: it owns the audio devices, the
// capture pipeline, the playback scheduler, and the live channel, and drives
// the session state machine across them.
//
// A [Session] is reusable: after a call ends (cleanly or in error) a new
// Connect starts a fresh call with fresh resources. At most one call is
// active per Session at a time.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lkw0831/HomeApplianceService/internal/capture"
	"github.com/lkw0831/HomeApplianceService/internal/observe"
	"github.com/lkw0831/HomeApplianceService/internal/playback"
	"github.com/lkw0831/HomeApplianceService/internal/transcript"
	"github.com/lkw0831/HomeApplianceService/pkg/audio"
	"github.com/lkw0831/HomeApplianceService/pkg/audio/device"
	"github.com/lkw0831/HomeApplianceService/pkg/live"
)

// State is the session's position in its lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"

	// StateError is terminal for the current call, reached when the channel
	// fails after connecting. A subsequent Connect starts a new call.
	StateError State = "error"
)

// outputBlock is the speaker stream's internal buffer size in samples.
const outputBlock = 1024

// Callbacks are the session's outward-facing event slots. All callbacks are
// optional and are invoked from session-owned goroutines; implementations
// must not call back into the Session except for Disconnect.
type Callbacks struct {
	// OnOpen fires once the channel is established and capture is running.
	OnOpen func()

	// OnClose fires when the call ends cleanly, whether the remote hung up
	// or Disconnect was called.
	OnClose func()

	// OnError fires when the channel fails; the session is already torn
	// down and in [StateError] when it runs.
	OnError func(err error)

	// OnTranscript receives cumulative utterance text after every fragment.
	// final marks the last delivery for that utterance.
	OnTranscript func(text string, speaker transcript.Speaker, final bool)

	// OnVolume receives the RMS level of each captured microphone block,
	// in [0, 1].
	OnVolume func(volume float64)
}

// Option configures a Session.
type Option func(*Session)

// WithCaptureBlock overrides the samples-per-frame capture block size.
func WithCaptureBlock(n int) Option {
	return func(s *Session) { s.captureBlock = n }
}

// WithConnectTimeout bounds channel establishment inside Connect.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Session) { s.connectTimeout = d }
}

// WithMetrics substitutes the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session is the call orchestrator. All exported methods are safe for
// concurrent use.
type Session struct {
	dialer  live.Dialer
	host    device.Host
	cfg     live.SessionConfig
	metrics *observe.Metrics

	captureBlock   int
	connectTimeout time.Duration

	mu        sync.Mutex
	state     State
	cb        Callbacks
	ch        live.Channel
	in        device.InputStream
	out       device.OutputStream
	pipe      *capture.Pipeline
	sched     *playback.Scheduler
	asm       *transcript.Assembler
	done      chan struct{} // closed when the current call's dispatch loop exits
	startedAt time.Time
}

// NewSession creates an idle Session in [StateDisconnected].
func NewSession(dialer live.Dialer, host device.Host, cfg live.SessionConfig, opts ...Option) *Session {
	s := &Session{
		dialer:         dialer,
		host:           host,
		cfg:            cfg,
		state:          StateDisconnected,
		captureBlock:   capture.BlockSize,
		connectTimeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect acquires the audio devices, opens the remote channel, and starts
// streaming. On success the session is in [StateConnected], cb.OnOpen has
// fired, and inbound messages are being dispatched.
//
// On failure everything acquired so far is released, the session returns to
// [StateDisconnected], and the error is returned: a [*PermissionError] when
// the microphone cannot be acquired, a [*ChannelError] when the channel
// cannot be opened. There is no automatic retry.
func (s *Session) Connect(ctx context.Context, cb Callbacks) error {
	ctx, span := observe.StartSpan(ctx, "call.connect")
	defer span.End()

	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateConnected {
		s.mu.Unlock()
		return fmt.Errorf("call: connect in state %q", s.state)
	}
	s.state = StateConnecting
	s.cb = cb
	s.mu.Unlock()

	fail := func(err error) error {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return err
	}

	in, err := s.host.OpenInput(live.InputSampleRate, s.captureBlock)
	if err != nil {
		return fail(&PermissionError{Err: err})
	}
	out, err := s.host.OpenOutput(live.OutputSampleRate, outputBlock)
	if err != nil {
		in.Close()
		return fail(fmt.Errorf("call: open output device: %w", err))
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	ch, err := s.dialer.Dial(dialCtx, s.cfg)
	cancel()
	if err != nil {
		in.Close()
		out.Close()
		return fail(&ChannelError{Err: err})
	}

	sched := playback.New(out, playback.WithMetrics(s.metrics))
	asm := transcript.NewAssembler(func(u transcript.Utterance) {
		if cb.OnTranscript != nil {
			cb.OnTranscript(u.Text, u.Speaker, u.Final)
		}
	})
	pipe := capture.New(capture.WithMetrics(s.metrics))

	// Frames are fire-and-forget: a send failure means the channel is going
	// down and the dispatch loop will surface that separately.
	err = pipe.Start(in, func(chunk []byte, volume float64) {
		if err := ch.Send(chunk); err != nil {
			slog.Debug("dropping capture frame", "err", err)
		}
		if cb.OnVolume != nil {
			cb.OnVolume(volume)
		}
	})
	if err != nil {
		ch.Close()
		sched.Shutdown()
		in.Close()
		out.Close()
		return fail(fmt.Errorf("call: start capture: %w", err))
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.state = StateConnected
	s.ch, s.in, s.out = ch, in, out
	s.pipe, s.sched, s.asm = pipe, sched, asm
	s.done = done
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.metrics.ActiveSessions.Add(context.Background(), 1)
	observe.Logger(ctx).Info("call connected", "model", s.cfg.Model)
	if cb.OnOpen != nil {
		cb.OnOpen()
	}

	go s.dispatchLoop(ch, sched, asm, done)
	return nil
}

// dispatchLoop consumes the channel's inbound stream until it closes, then
// tears the call down and reports the outcome.
func (s *Session) dispatchLoop(ch live.Channel, sched *playback.Scheduler, asm *transcript.Assembler, done chan struct{}) {
	for msg := range ch.Messages() {
		s.dispatch(msg, sched, asm)
	}
	err := ch.Err()

	cb := s.teardown()

	s.mu.Lock()
	if err != nil {
		s.state = StateError
	} else {
		s.state = StateDisconnected
	}
	s.mu.Unlock()

	if err != nil {
		slog.Warn("call ended with channel error", "err", err)
		if cb.OnError != nil {
			cb.OnError(&ChannelError{Err: err})
		}
	} else {
		slog.Info("call ended")
		if cb.OnClose != nil {
			cb.OnClose()
		}
	}
	close(done)
}

// dispatch handles one inbound message. A message may carry several payloads
// at once; each is handled independently. Failures local to one payload are
// logged and swallowed — they never end the call.
func (s *Session) dispatch(msg live.Message, sched *playback.Scheduler, asm *transcript.Assembler) {
	if msg.UserTranscript != "" {
		asm.Add(transcript.SpeakerUser, msg.UserTranscript, msg.TurnComplete)
	}
	if msg.AgentTranscript != "" {
		asm.Add(transcript.SpeakerAgent, msg.AgentTranscript, msg.TurnComplete)
	}
	if msg.TurnComplete && msg.UserTranscript == "" && msg.AgentTranscript == "" {
		asm.FlushAll()
	}

	// Interruption resets the cursor before any audio in this or later
	// messages is scheduled: post-interrupt segments start fresh audio.
	if msg.Interrupted {
		sched.Interrupt()
	}

	for _, chunk := range msg.Audio {
		buf, err := audio.DecodeBuffer(chunk, live.OutputSampleRate)
		if err != nil {
			var derr *audio.DecodeError
			if errors.As(err, &derr) {
				s.metrics.DecodeErrors.Add(context.Background(), 1)
			}
			slog.Warn("dropping malformed audio segment", "err", err, "bytes", len(chunk))
			continue
		}
		sched.Enqueue(buf)
	}
}

// Disconnect ends the current call: closes the channel, waits for the
// dispatch loop to drain and release all resources, and leaves the session
// in [StateDisconnected]. Safe to call repeatedly and when no call is
// active, including while a Connect never completed.
func (s *Session) Disconnect() {
	s.mu.Lock()
	ch := s.ch
	done := s.done
	s.mu.Unlock()

	if ch == nil {
		// No live channel: either never connected or already torn down. If
		// a previous call's loop is still finishing, wait it out.
		if done != nil {
			<-done
		}
		s.mu.Lock()
		if s.state == StateError {
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		return
	}

	if err := ch.Close(); err != nil {
		slog.Debug("closing channel", "err", err)
	}
	<-done

	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()
}

// teardown releases the current call's resources exactly once and returns
// the callbacks registered for it. Subsequent calls are no-ops.
func (s *Session) teardown() Callbacks {
	s.mu.Lock()
	ch, in, out := s.ch, s.in, s.out
	pipe, sched, asm := s.pipe, s.sched, s.asm
	cb := s.cb
	startedAt := s.startedAt
	s.ch, s.in, s.out = nil, nil, nil
	s.pipe, s.sched, s.asm = nil, nil, nil
	s.startedAt = time.Time{}
	s.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	if pipe != nil {
		pipe.Stop()
	}
	if in != nil {
		in.Close()
	}
	if sched != nil {
		sched.Shutdown()
	}
	if out != nil {
		if err := out.Close(); err != nil {
			slog.Debug("closing output device", "err", err)
		}
	}
	if asm != nil {
		asm.FlushAll()
	}

	if !startedAt.IsZero() {
		s.metrics.ActiveSessions.Add(context.Background(), -1)
		s.metrics.SessionDuration.Record(context.Background(), time.Since(startedAt).Seconds())
	}
	return cb
}
