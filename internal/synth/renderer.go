package synth

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
	"github.com/sinshu/go-meltysynth/meltysynth"
)

const (
	DefaultSampleRate = 44100
	// DefaultReleaseTail lets the last notes decay after the final note-off
	DefaultReleaseTail = time.Second
	renderBlockFrames  = 4096
)

// Renderer turns a MIDI file into a WAV file
type Renderer interface {
	Render(ctx context.Context, midiPath, wavPath string) error
}

// SoundFontRenderer renders MIDI with a SoundFont loaded once at startup.
// The SoundFont is read-only after loading and shared by every render; each
// render gets its own synthesizer.
type SoundFontRenderer struct {
	soundFont  *meltysynth.SoundFont
	path       string
	sampleRate int
	tail       time.Duration
}

// LoadSoundFont parses the SoundFont at path
func LoadSoundFont(path string) (*SoundFontRenderer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load soundfont %s: %w", path, err)
	}
	sf, err := meltysynth.NewSoundFont(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse soundfont %s: %w", path, err)
	}
	return &SoundFontRenderer{
		soundFont:  sf,
		path:       path,
		sampleRate: DefaultSampleRate,
		tail:       DefaultReleaseTail,
	}, nil
}

// Path returns the SoundFont file the renderer was loaded from
func (r *SoundFontRenderer) Path() string {
	return r.path
}

// Render synthesizes midiPath into a 16-bit stereo WAV at wavPath
func (r *SoundFontRenderer) Render(ctx context.Context, midiPath, wavPath string) error {
	data, err := os.ReadFile(midiPath)
	if err != nil {
		return fmt.Errorf("failed to read MIDI file %s: %w", midiPath, err)
	}
	midiFile, err := meltysynth.NewMidiFile(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to parse MIDI file %s: %w", midiPath, err)
	}

	settings := meltysynth.NewSynthesizerSettings(int32(r.sampleRate))
	synthesizer, err := meltysynth.NewSynthesizer(r.soundFont, settings)
	if err != nil {
		return fmt.Errorf("failed to create synthesizer: %w", err)
	}
	sequencer := meltysynth.NewMidiFileSequencer(synthesizer)
	sequencer.Play(midiFile, false)

	length := midiFile.GetLength() + r.tail
	total := int(length.Seconds() * float64(r.sampleRate))
	frames := make([][2]float64, 0, total)
	left := make([]float32, renderBlockFrames)
	right := make([]float32, renderBlockFrames)

	for len(frames) < total {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(renderBlockFrames, total-len(frames))
		sequencer.Render(left[:n], right[:n])
		for i := 0; i < n; i++ {
			frames = append(frames, [2]float64{float64(left[i]), float64(right[i])})
		}
	}

	return writeWAV(wavPath, &sliceStreamer{buf: frames}, beep.Format{
		SampleRate:  beep.SampleRate(r.sampleRate),
		NumChannels: 2,
		Precision:   2,
	})
}

// sliceStreamer streams a slice of stereo samples
type sliceStreamer struct {
	buf [][2]float64
	pos int
}

func (s *sliceStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	if s.pos >= len(s.buf) {
		return 0, false
	}
	n = copy(samples, s.buf[s.pos:])
	s.pos += n
	return n, true
}

func (s *sliceStreamer) Err() error {
	return nil
}

func writeWAV(path string, streamer beep.Streamer, format beep.Format) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := wav.Encode(f, streamer, format); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
