// Package synth writes the infilled sequence out as MIDI and audio and
// bundles both into the downloadable archive.
package synth

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Conceptual-Machines/infill-api/internal/events"
	"github.com/Conceptual-Machines/infill-api/internal/midi"
)

// Names are the file names written into an output directory
type Names struct {
	MIDI    string
	WAV     string
	Archive string
}

// DefaultNames is used for the full two-stage output
var DefaultNames = Names{
	MIDI:    "full_midi.mid",
	WAV:     "full.wav",
	Archive: "generated_music.zip",
}

// CompingNames is used when only the chord stage ran
var CompingNames = Names{
	MIDI:    "comping_midi.mid",
	WAV:     "comping.wav",
	Archive: "generated_music.zip",
}

// Bundle holds the paths of one synthesized result
type Bundle struct {
	MIDIPath    string
	WAVPath     string
	ArchivePath string
}

// Synthesizer runs encode, render, boost and package in that order
type Synthesizer struct {
	renderer Renderer
	booster  Booster
	packager Packager
	boostDB  float64
}

// NewSynthesizer creates a synthesizer around a shared renderer
func NewSynthesizer(renderer Renderer, booster Booster, boostDB float64) *Synthesizer {
	if booster == nil {
		booster = WavBooster{}
	}
	return &Synthesizer{
		renderer: renderer,
		booster:  booster,
		boostDB:  boostDB,
	}
}

// Synthesize writes seq into outDir and returns the produced files.
// Any failing step aborts the rest.
func (s *Synthesizer) Synthesize(ctx context.Context, seq events.Sequence, outDir string, names Names) (*Bundle, error) {
	b := &Bundle{
		MIDIPath:    filepath.Join(outDir, names.MIDI),
		WAVPath:     filepath.Join(outDir, names.WAV),
		ArchivePath: filepath.Join(outDir, names.Archive),
	}

	if err := midi.WriteFile(seq, b.MIDIPath); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if err := s.renderer.Render(ctx, b.MIDIPath, b.WAVPath); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	if s.boostDB != 0 {
		if err := s.booster.Boost(b.WAVPath, s.boostDB); err != nil {
			return nil, fmt.Errorf("boost: %w", err)
		}
	}
	if err := s.packager.Zip(b.ArchivePath, b.MIDIPath, b.WAVPath); err != nil {
		return nil, fmt.Errorf("package: %w", err)
	}
	return b, nil
}
