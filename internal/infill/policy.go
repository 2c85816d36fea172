package infill

import (
	"fmt"
	"strings"
)

// Fixed infill policy. None of these are derived from the uploads.
const (
	// MusicLength is the total span in seconds: intro prompt, generated
	// middle and outro anchor.
	MusicLength = 16
	// OutroAnchorLength is the part of MusicLength the outro occupies.
	OutroAnchorLength = 4
	// BeforeOutroLength is where the outro is placed and where generation stops.
	BeforeOutroLength = MusicLength - OutroAnchorLength
	// PromptLength is where generation starts; the intro before it is the prompt.
	PromptLength = 4
	// LeadInstrument is the General MIDI program carrying the melody (53, "Voice Oohs").
	LeadInstrument = 53
	// IntroClipSeconds is how much intro melody is kept as prompt for the lead-in pass.
	IntroClipSeconds = 4
	// MiddleClipStart and MiddleClipEnd bound the generated melody kept from the middle pass.
	MiddleClipStart = 4
	MiddleClipEnd   = 12
	// TopP of 1 leaves nucleus sampling untruncated.
	TopP = 1.0
)

// Policy carries the constants above so tests and callers can see the
// exact values a run used.
type Policy struct {
	BeforeOutroLength float64
	PromptLength      float64
	LeadInstrument    int
	IntroClipSeconds  float64
	MiddleClipStart   float64
	MiddleClipEnd     float64
	TopP              float64
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		BeforeOutroLength: BeforeOutroLength,
		PromptLength:      PromptLength,
		LeadInstrument:    LeadInstrument,
		IntroClipSeconds:  IntroClipSeconds,
		MiddleClipStart:   MiddleClipStart,
		MiddleClipEnd:     MiddleClipEnd,
		TopP:              TopP,
	}
}

// Mode selects which stages a run executes.
type Mode string

const (
	// ModeFull runs the chord stage and then the melody stage.
	ModeFull Mode = "full"
	// ModeChord stops after the chord stage and returns the comping track.
	ModeChord Mode = "chord"
)

// ParseMode parses INFILL_MODE. An empty value selects ModeFull.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFull:
		return ModeFull, nil
	case ModeChord:
		return ModeChord, nil
	default:
		return "", fmt.Errorf("unknown infill mode %q (allowed: full, chord)", s)
	}
}
