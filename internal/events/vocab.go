// Package events holds the token vocabulary of the anticipatory music model
// and the sequence operations the infill pipeline splices with.
package events

// Timing and range limits of the model's tokenizer
const (
	TimeResolution        = 100                  // ticks per second
	MaxTime               = TimeResolution * 100 // 100 s
	MaxDur                = TimeResolution * 10  // 10 s
	MaxPitch              = 128
	MaxInstr              = 129
	MaxNote               = MaxPitch * MaxInstr
	DrumInstrument        = 128
	DefaultUnknownDur     = TimeResolution / 4
	DefaultVelocity uint8 = 72
)

// Event token offsets
const (
	TimeOffset = 0
	DurOffset  = TimeOffset + MaxTime
	NoteOffset = DurOffset + MaxDur
	Rest       = NoteOffset + MaxNote
)

// Control (anticipated) token offsets. A control token is the matching
// event token plus ControlOffset.
const (
	ControlOffset = NoteOffset + MaxNote + 1
	ATimeOffset   = ControlOffset + 0
	ADurOffset    = ATimeOffset + MaxTime
	ANoteOffset   = ADurOffset + MaxDur

	// Separator marks the end of a prompt inside a sequence
	Separator = ANoteOffset + MaxNote
)

// Token is a single vocabulary entry.
type Token int

// Sequence is a flat list of (time, duration, note) triples.
type Sequence []Token

// Event is one decoded triple of a sequence.
type Event struct {
	Time       int  // ticks
	Duration   int  // ticks
	Pitch      int  // 0-127
	Instrument int  // General MIDI program, or DrumInstrument
	Control    bool // true when the triple carries ControlOffset
}

// NoteToken builds the note token for a pitch played by an instrument.
func NoteToken(instrument, pitch int) Token {
	return Token(NoteOffset + MaxPitch*instrument + pitch)
}

// IsControl reports whether a note token is control-tagged.
func IsControl(note Token) bool {
	return note >= ControlOffset
}

// IsNote reports whether t is a playable (non-control) note token.
func IsNote(t Token) bool {
	return t >= NoteOffset && t < Rest
}
