package infill

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Conceptual-Machines/infill-api/internal/events"
	"github.com/Conceptual-Machines/infill-api/internal/generation"
	"github.com/Conceptual-Machines/infill-api/internal/midi"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedEngine records every request and appends the tokens returned by
// next for that call to the request inputs.
type scriptedEngine struct {
	mu       sync.Mutex
	requests []*generation.Request
	next     func(call int, req *generation.Request) (events.Sequence, error)
}

func (e *scriptedEngine) Name() string { return "scripted" }

func (e *scriptedEngine) Generate(ctx context.Context, req *generation.Request) (events.Sequence, error) {
	e.mu.Lock()
	call := len(e.requests)
	e.requests = append(e.requests, req)
	e.mu.Unlock()

	var added events.Sequence
	if e.next != nil {
		var err error
		added, err = e.next(call, req)
		if err != nil {
			return nil, err
		}
	}
	return events.Concat(req.Inputs, added), nil
}

func note(at, dur, instrument, pitch int) events.Sequence {
	return events.Sequence{
		events.Token(events.TimeOffset + at),
		events.Token(events.DurOffset + dur),
		events.NoteToken(instrument, pitch),
	}
}

func introFixture() events.Sequence {
	return events.Concat(note(0, 50, 0, 60), note(0, 50, LeadInstrument, 72), note(200, 50, 0, 64))
}

func outroFixture() events.Sequence {
	return events.Concat(note(0, 100, 0, 65), note(50, 100, LeadInstrument, 77))
}

func hasControls(seq events.Sequence) bool {
	for _, tok := range seq {
		if tok >= events.ControlOffset {
			return true
		}
	}
	return false
}

func TestBasic(t *testing.T) {
	engine := &scriptedEngine{next: func(int, *generation.Request) (events.Sequence, error) {
		return note(500, 50, 0, 67), nil
	}}
	p := NewPipeline(engine, DefaultPolicy())

	out, err := p.Basic(context.Background(), introFixture(), note(0, 100, 0, 65))
	require.NoError(t, err)

	require.Len(t, engine.requests, 1)
	req := engine.requests[0]
	assert.Equal(t, 4.0, req.Start)
	assert.Equal(t, 12.0, req.End)
	assert.Equal(t, 1.0, req.TopP)
	if diff := cmp.Diff(introFixture(), req.Inputs); diff != "" {
		t.Errorf("inputs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(events.AddControlOffset(note(1200, 100, 0, 65)), req.Controls); diff != "" {
		t.Errorf("controls mismatch (-want +got):\n%s", diff)
	}

	want := events.Concat(introFixture(), note(500, 50, 0, 67), note(1200, 100, 0, 65))
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestChordStage(t *testing.T) {
	engine := &scriptedEngine{next: func(int, *generation.Request) (events.Sequence, error) {
		return events.Concat(note(500, 50, 0, 67), note(600, 50, LeadInstrument, 74)), nil
	}}
	p := NewPipeline(engine, DefaultPolicy())

	chord, err := p.ChordStage(context.Background(), introFixture(), outroFixture())
	require.NoError(t, err)

	assert.Equal(t, []int{0}, chord.Comping.Instruments())
	assert.False(t, hasControls(chord.Comping))
	if diff := cmp.Diff(note(0, 50, LeadInstrument, 72), chord.IntroMelody); diff != "" {
		t.Errorf("intro melody mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(note(1250, 100, LeadInstrument, 77), chord.OutroMelody); diff != "" {
		t.Errorf("outro melody mismatch (-want +got):\n%s", diff)
	}

	// The outro accompaniment ends up at 12s in the comping track.
	evs, err := chord.Comping.Events()
	require.NoError(t, err)
	var placed bool
	for _, ev := range evs {
		if ev.Time == 1200 && ev.Pitch == 65 {
			placed = true
		}
	}
	assert.True(t, placed)
}

func TestMelodyStage(t *testing.T) {
	engine := &scriptedEngine{next: func(call int, req *generation.Request) (events.Sequence, error) {
		switch call {
		case 0:
			// one note inside the kept middle window, one past it
			return events.Concat(note(600, 50, LeadInstrument, 76), note(1300, 50, LeadInstrument, 79)), nil
		default:
			return nil, nil
		}
	}}
	p := NewPipeline(engine, DefaultPolicy())

	chord := &ChordResult{
		Comping:     events.Concat(note(0, 50, 0, 60), note(1200, 100, 0, 65)),
		IntroMelody: events.Concat(note(0, 50, LeadInstrument, 72), note(500, 50, LeadInstrument, 71)),
		OutroMelody: note(1250, 100, LeadInstrument, 77),
	}

	out, err := p.MelodyStage(context.Background(), chord)
	require.NoError(t, err)
	require.Len(t, engine.requests, 2)

	middle := engine.requests[0]
	assert.Equal(t, 4.0, middle.Start)
	assert.Equal(t, 12.0, middle.End)
	if diff := cmp.Diff(chord.IntroMelody, middle.Inputs); diff != "" {
		t.Errorf("middle inputs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(events.AddControlOffset(events.Concat(chord.Comping, chord.OutroMelody)), middle.Controls); diff != "" {
		t.Errorf("middle controls mismatch (-want +got):\n%s", diff)
	}

	leadIn := engine.requests[1]
	assert.Equal(t, 4.0, leadIn.Start)
	assert.Equal(t, 4.0, leadIn.End)
	if diff := cmp.Diff(note(0, 50, LeadInstrument, 72), leadIn.Inputs); diff != "" {
		t.Errorf("lead-in inputs mismatch (-want +got):\n%s", diff)
	}
	// middle window keeps the 5s intro note and the generated 6s note, not the 13s one
	wantMiddle := events.Concat(note(500, 50, LeadInstrument, 71), note(600, 50, LeadInstrument, 76))
	if diff := cmp.Diff(events.AddControlOffset(wantMiddle), leadIn.Controls); diff != "" {
		t.Errorf("lead-in controls mismatch (-want +got):\n%s", diff)
	}

	want := events.Concat(
		note(0, 50, LeadInstrument, 72),
		wantMiddle,
		chord.Comping,
		chord.OutroMelody,
	)
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, hasControls(out))
}

func writeFixtures(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	intro := filepath.Join(dir, "intro.mid")
	outro := filepath.Join(dir, "outro.mid")
	require.NoError(t, midi.WriteFile(introFixture(), intro))
	require.NoError(t, midi.WriteFile(outroFixture(), outro))
	return intro, outro
}

func TestRunFullModePassOrder(t *testing.T) {
	intro, outro := writeFixtures(t)
	engine := &scriptedEngine{}
	p := NewPipeline(engine, DefaultPolicy())

	var passes []string
	ctx := WithObserver(context.Background(), func(pass string, req *generation.Request, out events.Sequence, d time.Duration, err error) {
		passes = append(passes, pass)
		assert.NoError(t, err)
	})

	out, err := p.Run(ctx, intro, outro, ModeFull)
	require.NoError(t, err)
	assert.Equal(t, []string{PassBasic, PassMiddle, PassLeadIn}, passes)
	assert.False(t, hasControls(out))
	assert.ElementsMatch(t, []int{0, LeadInstrument}, out.Instruments())
}

func TestRunChordModeStopsAfterChordStage(t *testing.T) {
	intro, outro := writeFixtures(t)
	engine := &scriptedEngine{}
	p := NewPipeline(engine, DefaultPolicy())

	out, err := p.Run(context.Background(), intro, outro, ModeChord)
	require.NoError(t, err)
	assert.Len(t, engine.requests, 1)
	assert.Equal(t, []int{0}, out.Instruments())
}

func TestRunMalformedUpload(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "intro.mid")
	require.NoError(t, os.WriteFile(bad, []byte("not a midi file"), 0o644))
	_, outro := writeFixtures(t)

	engine := &scriptedEngine{}
	_, err := NewPipeline(engine, DefaultPolicy()).Run(context.Background(), bad, outro, ModeFull)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageDecode, stageErr.Stage)
	assert.ErrorIs(t, err, midi.ErrMalformedMIDI)
	assert.Empty(t, engine.requests)
}

func TestRunEngineFailureStopsPipeline(t *testing.T) {
	intro, outro := writeFixtures(t)
	boom := errors.New("model unavailable")
	engine := &scriptedEngine{next: func(call int, req *generation.Request) (events.Sequence, error) {
		if call == 1 {
			return nil, boom
		}
		return nil, nil
	}}

	_, err := NewPipeline(engine, DefaultPolicy()).Run(context.Background(), intro, outro, ModeFull)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageMelody, stageErr.Stage)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, engine.requests, 2)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: ModeFull},
		{in: "full", want: ModeFull},
		{in: " Chord ", want: ModeChord},
		{in: "melody", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
