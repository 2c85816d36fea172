package synth

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/Conceptual-Machines/infill-api/internal/events"
	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFormat = beep.Format{SampleRate: 8000, NumChannels: 2, Precision: 2}

func writeConstantWAV(t *testing.T, path string, level float64, frames int) {
	t.Helper()
	buf := make([][2]float64, frames)
	for i := range buf {
		buf[i] = [2]float64{level, -level}
	}
	require.NoError(t, writeWAV(path, &sliceStreamer{buf: buf}, testFormat))
}

func readWAV(t *testing.T, path string) ([][2]float64, beep.Format) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	streamer, format, err := wav.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	defer streamer.Close()

	var out [][2]float64
	chunk := make([][2]float64, 512)
	for {
		n, ok := streamer.Stream(chunk)
		out = append(out, chunk[:n]...)
		if !ok {
			break
		}
	}
	return out, format
}

// toneRenderer writes a short constant signal instead of synthesizing
type toneRenderer struct {
	calls int
	err   error
}

func (r *toneRenderer) Render(ctx context.Context, midiPath, wavPath string) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	if _, err := os.Stat(midiPath); err != nil {
		return err
	}
	buf := make([][2]float64, 800)
	for i := range buf {
		buf[i] = [2]float64{0.1, 0.1}
	}
	return writeWAV(wavPath, &sliceStreamer{buf: buf}, testFormat)
}

func zipEntries(t *testing.T, path string) []string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestWavBoosterAppliesGain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "full.wav")
	writeConstantWAV(t, path, 0.1, 1000)

	require.NoError(t, WavBooster{}.Boost(path, DefaultBoostDB))

	samples, format := readWAV(t, path)
	assert.Equal(t, testFormat.SampleRate, format.SampleRate)
	require.Len(t, samples, 1000)
	// +14 dB is a factor of 10^(14/20) ≈ 5.01
	assert.InDelta(t, 0.501, samples[500][0], 0.005)
	assert.InDelta(t, -0.501, samples[500][1], 0.005)

	_, err := os.Stat(filepath.Join(filepath.Dir(path), ".full.wav.boost"))
	assert.True(t, os.IsNotExist(err))
}

func TestWavBoosterClampsOverflow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loud.wav")
	writeConstantWAV(t, path, 0.5, 100)

	require.NoError(t, WavBooster{}.Boost(path, DefaultBoostDB))

	samples, _ := readWAV(t, path)
	require.NotEmpty(t, samples)
	assert.InDelta(t, 1.0, samples[0][0], 0.001)
	assert.InDelta(t, -1.0, samples[0][1], 0.001)
}

func TestWavBoosterRejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "full.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF?"), 0o644))
	assert.Error(t, WavBooster{}.Boost(path, DefaultBoostDB))
}

func TestPackagerZip(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "full_midi.mid")
	b := filepath.Join(dir, "full.wav")
	require.NoError(t, os.WriteFile(a, []byte("MThd"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("RIFF"), 0o644))

	archive := filepath.Join(dir, "generated_music.zip")
	require.NoError(t, Packager{}.Zip(archive, a, b))
	assert.Equal(t, []string{"full.wav", "full_midi.mid"}, zipEntries(t, archive))
}

func TestPackagerZipMissingFile(t *testing.T) {
	dir := t.TempDir()
	err := Packager{}.Zip(filepath.Join(dir, "out.zip"), filepath.Join(dir, "missing.wav"))
	assert.Error(t, err)
}

func TestSynthesize(t *testing.T) {
	tests := []struct {
		name      string
		names     Names
		wantFiles []string
	}{
		{name: "full", names: DefaultNames, wantFiles: []string{"full.wav", "full_midi.mid"}},
		{name: "comping", names: CompingNames, wantFiles: []string{"comping.wav", "comping_midi.mid"}},
	}

	seq := events.Sequence{0, events.DurOffset + 50, events.NoteToken(0, 60)}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			renderer := &toneRenderer{}
			s := NewSynthesizer(renderer, nil, DefaultBoostDB)

			bundle, err := s.Synthesize(context.Background(), seq, t.TempDir(), tt.names)
			require.NoError(t, err)
			assert.Equal(t, 1, renderer.calls)
			assert.Equal(t, "generated_music.zip", filepath.Base(bundle.ArchivePath))
			assert.Equal(t, tt.wantFiles, zipEntries(t, bundle.ArchivePath))

			samples, _ := readWAV(t, bundle.WAVPath)
			require.NotEmpty(t, samples)
			assert.Greater(t, samples[0][0], 0.4)
		})
	}
}

func TestSynthesizeRenderFailure(t *testing.T) {
	dir := t.TempDir()
	renderer := &toneRenderer{err: errors.New("no soundfont")}
	s := NewSynthesizer(renderer, nil, DefaultBoostDB)

	_, err := s.Synthesize(context.Background(), events.Sequence{}, dir, DefaultNames)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "render")

	_, statErr := os.Stat(filepath.Join(dir, DefaultNames.Archive))
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoadSoundFontErrors(t *testing.T) {
	_, err := LoadSoundFont(filepath.Join(t.TempDir(), "missing.sf2"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.sf2")
	require.NoError(t, os.WriteFile(bad, []byte("not a soundfont"), 0o644))
	_, err = LoadSoundFont(bad)
	assert.Error(t, err)
}

func TestSoundFontRendererRender(t *testing.T) {
	path := os.Getenv("SOUNDFONT_PATH")
	if path == "" {
		path = "/usr/share/sounds/sf2/TimGM6mb.sf2"
	}
	if _, err := os.Stat(path); err != nil {
		t.Skipf("soundfont not available: %v", err)
	}
	renderer, err := LoadSoundFont(path)
	require.NoError(t, err)

	dir := t.TempDir()
	seq := events.Sequence{0, events.DurOffset + 100, events.NoteToken(0, 60)}
	s := NewSynthesizer(renderer, nil, 0)
	bundle, err := s.Synthesize(context.Background(), seq, dir, DefaultNames)
	require.NoError(t, err)

	samples, format := readWAV(t, bundle.WAVPath)
	assert.Equal(t, beep.SampleRate(DefaultSampleRate), format.SampleRate)
	// one second of note plus the release tail
	assert.GreaterOrEqual(t, len(samples), DefaultSampleRate*2-DefaultSampleRate/10)
}

func TestSoundFontRendererHonoursCancellation(t *testing.T) {
	path := os.Getenv("SOUNDFONT_PATH")
	if path == "" {
		path = "/usr/share/sounds/sf2/TimGM6mb.sf2"
	}
	if _, err := os.Stat(path); err != nil {
		t.Skipf("soundfont not available: %v", err)
	}
	renderer, err := LoadSoundFont(path)
	require.NoError(t, err)

	dir := t.TempDir()
	seq := events.Sequence{0, events.DurOffset + 100, events.NoteToken(0, 60)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSynthesizer(renderer, nil, 0).Synthesize(ctx, seq, dir, DefaultNames)
	assert.ErrorIs(t, err, context.Canceled)
}
