// Package transcript accumulates streamed transcript fragments into
// complete utterances, one open utterance per speaker at a time.
package transcript

import "sync"

// Speaker identifies who produced a transcript fragment.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Utterance is the cumulative text of one speaker turn. Final is set when
// the turn completed.
type Utterance struct {
	Speaker Speaker
	Text    string
	Final   bool
}

// EmitFunc receives the cumulative utterance after every fragment. The last
// call for a turn carries Final=true; the next fragment from that speaker
// starts a fresh utterance.
type EmitFunc func(u Utterance)

// Assembler concatenates fragments per speaker. Concatenation is verbatim:
// no separators are inserted, so languages without word spacing come out
// intact.
type Assembler struct {
	emit EmitFunc

	mu   sync.Mutex
	open map[Speaker]string
}

// NewAssembler creates an Assembler delivering utterances to emit.
func NewAssembler(emit EmitFunc) *Assembler {
	return &Assembler{
		emit: emit,
		open: make(map[Speaker]string),
	}
}

// Add appends a fragment to the speaker's open utterance and emits the
// cumulative text. final closes the utterance. Empty fragments with
// final=false are ignored; an empty final fragment closes the open
// utterance if one exists.
func (a *Assembler) Add(speaker Speaker, text string, final bool) {
	a.mu.Lock()
	if text == "" && !final {
		a.mu.Unlock()
		return
	}
	cur, ok := a.open[speaker]
	if text == "" && final && !ok {
		a.mu.Unlock()
		return
	}
	cur += text
	if final {
		delete(a.open, speaker)
	} else {
		a.open[speaker] = cur
	}
	u := Utterance{Speaker: speaker, Text: cur, Final: final}
	a.mu.Unlock()

	a.emit(u)
}

// FlushAll finalizes every open utterance. Used when the channel signals
// turn completion without an accompanying fragment, and on teardown so no
// partial text is silently lost.
func (a *Assembler) FlushAll() {
	a.mu.Lock()
	var flushed []Utterance
	for _, sp := range []Speaker{SpeakerUser, SpeakerAgent} {
		if cur, ok := a.open[sp]; ok {
			flushed = append(flushed, Utterance{Speaker: sp, Text: cur, Final: true})
			delete(a.open, sp)
		}
	}
	a.mu.Unlock()

	for _, u := range flushed {
		a.emit(u)
	}
}

// Open reports whether the speaker has an unfinalized utterance.
func (a *Assembler) Open(speaker Speaker) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.open[speaker]
	return ok
}
