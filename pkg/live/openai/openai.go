// Package openai implements the live.Dialer interface for OpenAI's Realtime
// API.
//
// It establishes a bidirectional WebSocket connection to the Realtime
// endpoint and exchanges JSON events according to the Realtime protocol.
// Microphone audio is appended to the input buffer as base64-encoded PCM16;
// audio deltas, transcript deltas, speech-started (barge-in) and
// response-done events are decoded into [live.Message] values.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/lkw0831/HomeApplianceService/pkg/live"
)

// Compile-time assertions that Dialer and channel satisfy the live interfaces.
var _ live.Dialer = (*Dialer)(nil)
var _ live.Channel = (*channel)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	messageBuf = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(d *Dialer) { d.baseURL = url }
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// Dialer implements live.Dialer for OpenAI's Realtime API.
type Dialer struct {
	apiKey  string
	baseURL string
}

// New creates an OpenAI Realtime Dialer with the given API key and options.
func New(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial establishes a new Realtime session. The returned channel accepts
// audio immediately after the session.update event is sent.
func (d *Dialer) Dial(ctx context.Context, cfg live.SessionConfig) (live.Channel, error) {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	wsURL := fmt.Sprintf("%s?model=%s", d.baseURL, model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + d.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	chCtx, chCancel := context.WithCancel(context.Background())
	ch := &channel{
		conn:   conn,
		msgs:   make(chan live.Message, messageBuf),
		ctx:    chCtx,
		cancel: chCancel,
	}

	if err := ch.sendSessionUpdate(cfg); err != nil {
		chCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go ch.receiveLoop()

	return ch, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string               `json:"modalities"`
	Voice                   string                 `json:"voice,omitempty"`
	Instructions            string                 `json:"instructions,omitempty"`
	InputAudioFormat        string                 `json:"input_audio_format"`
	OutputAudioFormat       string                 `json:"output_audio_format"`
	InputAudioTranscription *transcriptionSettings `json:"input_audio_transcription,omitempty"`
}

type transcriptionSettings struct {
	Model string `json:"model"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// serverErrorDetail represents the nested error object in a Realtime error
// event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── channel ────────────────────────────────────────────────────────────────────

type channel struct {
	conn *websocket.Conn
	msgs chan live.Message

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate configures voice, instructions, audio formats, and input
// transcription for the session.
func (c *channel) sendSessionUpdate(cfg live.SessionConfig) error {
	params := sessionParams{
		Modalities:              []string{"audio", "text"},
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &transcriptionSettings{Model: "whisper-1"},
	}
	if cfg.Voice != "" {
		params.Voice = cfg.Voice
	}
	if cfg.Instructions != "" {
		params.Instructions = cfg.Instructions
	}
	return c.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *channel) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket, translates them into
// live.Message values, and delivers them in receipt order. It owns msgs: it
// closes the channel when it exits.
func (c *channel) receiveLoop() {
	defer c.closeMsgs()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		out, ok := c.translate(&evt)
		if !ok {
			continue
		}
		select {
		case c.msgs <- out:
		case <-c.ctx.Done():
			return
		}
	}
}

// translate maps one Realtime server event to a live.Message. ok is false
// for events the session does not dispatch on.
func (c *channel) translate(evt *serverEvent) (live.Message, bool) {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return live.Message{}, false
		}
		audioData, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audioData) == 0 {
			return live.Message{}, false
		}
		return live.Message{Audio: [][]byte{audioData}}, true

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return live.Message{}, false
		}
		return live.Message{AgentTranscript: evt.Delta}, true

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return live.Message{}, false
		}
		// Whisper delivers the whole user utterance at once, so the
		// fragment is final.
		return live.Message{UserTranscript: evt.Transcript, TurnComplete: true}, true

	case "input_audio_buffer.speech_started":
		// Server VAD detected the user talking over the agent.
		return live.Message{Interrupted: true}, true

	case "response.done":
		return live.Message{TurnComplete: true}, true

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		c.setErr(fmt.Errorf("openai: %s", msg))
		return live.Message{}, false
	}
	return live.Message{}, false
}

func (c *channel) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errVal == nil {
		c.errVal = err
	}
}

func (c *channel) closeMsgs() {
	c.closeOnce.Do(func() {
		close(c.msgs)
	})
}

// ── Channel methods ────────────────────────────────────────────────────────────

// Send appends one microphone chunk to the session's input audio buffer.
func (c *channel) Send(chunk []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("openai: channel closed")
	}
	c.mu.Unlock()

	return c.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
}

// Messages returns the inbound event stream.
func (c *channel) Messages() <-chan live.Message { return c.msgs }

// Err returns the first non-nil error that terminated the session.
func (c *channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Close tears the session down without waiting for a close acknowledgment.
// Idempotent.
func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.conn.Close(websocket.StatusNormalClosure, "call ended")
	return nil
}
