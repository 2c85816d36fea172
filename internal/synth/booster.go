package synth

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/wav"
)

// DefaultBoostDB is the fixed loudness boost applied to every rendered WAV
const DefaultBoostDB = 14.0

// Booster raises the loudness of a WAV file in place
type Booster interface {
	Boost(wavPath string, db float64) error
}

// WavBooster applies a fixed gain with beep. Samples that overflow are
// clamped by the encoder.
type WavBooster struct{}

// Boost rewrites wavPath with its amplitude scaled by db decibels
func (WavBooster) Boost(wavPath string, db float64) error {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", wavPath, err)
	}
	streamer, format, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", wavPath, err)
	}
	defer streamer.Close()

	boosted := &effects.Volume{
		Streamer: streamer,
		Base:     10,
		Volume:   db / 20,
	}

	tmp := filepath.Join(filepath.Dir(wavPath), "."+filepath.Base(wavPath)+".boost")
	if err := writeWAV(tmp, boosted, format); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, wavPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", wavPath, err)
	}
	return nil
}
