// Package live defines the seam between a call session and a remote
// conversational speech model. The model is reached over a bidirectional,
// push-based channel: the client streams encoded microphone chunks up, and
// the server streams synthesised audio, transcription fragments, and turn
// flags down at times of its own choosing.
//
// The central abstraction is [Channel] — a deliberately narrow handle hiding
// all vendor protocol surface. Concrete implementations live in the gemini
// and openai subpackages; the mock subpackage provides a scripted channel
// for tests.
//
// All implementations must be safe for concurrent use.
package live

import "context"

const (
	// InputSampleRate is the sample rate of outbound microphone audio in Hz.
	InputSampleRate = 16000

	// OutputSampleRate is the sample rate of inbound model audio in Hz.
	OutputSampleRate = 24000

	// MimePCM16k is the MIME tag declared on outbound audio chunks.
	MimePCM16k = "audio/pcm;rate=16000"
)

// Message is one inbound server event, decoded into the fields the session
// dispatches on. A single message may carry several of them at once: audio
// plus an agent transcription fragment, or a transcription fragment plus a
// turn-complete flag.
type Message struct {
	// UserTranscript is a fragment of the model's recognition of the user's
	// speech. Empty when the message carries none.
	UserTranscript string

	// AgentTranscript is a fragment of the text form of the agent's spoken
	// response. Empty when the message carries none.
	AgentTranscript string

	// Audio holds synthesised speech chunks as raw s16le mono PCM at
	// [OutputSampleRate], already decoded from their base64 wire form.
	Audio [][]byte

	// Interrupted signals that the user barged in: the agent's pending
	// playback must stop immediately.
	Interrupted bool

	// TurnComplete marks the end of the current conversational turn. Any
	// transcription fragment in the same message is the final fragment of
	// its utterance.
	TurnComplete bool
}

// SessionConfig is the configuration sent to the model when a channel is
// opened. Response modality is always audio-only, and transcription of both
// directions is always requested.
type SessionConfig struct {
	// Model overrides the implementation's default model name when non-empty.
	Model string

	// Voice selects a prebuilt voice identity for the synthesised speech.
	Voice string

	// Instructions is the natural-language system prompt fixing the agent's
	// persona and conversational policy.
	Instructions string
}

// Channel is an open bidirectional session with the remote model.
//
// Messages are delivered in server send order; the channel is closed when
// the session ends. After it closes, Err reports whether the session ended
// cleanly. Consumers must drain Messages promptly — there is no backpressure
// from the consumer to the server.
type Channel interface {
	// Send delivers one encoded microphone chunk (s16le mono PCM at
	// [InputSampleRate], tagged [MimePCM16k] on the wire). Returns an error
	// if the channel is closed or the transport rejects the write.
	Send(chunk []byte) error

	// Messages returns the inbound event stream. The channel is closed when
	// the session ends, cleanly or not.
	Messages() <-chan Message

	// Err returns the error that terminated the session, or nil after a
	// clean shutdown. Only meaningful once Messages has closed.
	Err() error

	// Close tears the session down, best-effort and without waiting for a
	// close acknowledgment. Idempotent.
	Close() error
}

// Dialer opens channels to one provider's realtime endpoint.
type Dialer interface {
	// Dial establishes a session configured with cfg. The returned Channel
	// accepts audio immediately. ctx governs only the connection attempt.
	Dial(ctx context.Context, cfg SessionConfig) (Channel, error)
}
