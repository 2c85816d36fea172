// Package midi converts between Standard MIDI Files and model event sequences.
package midi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/Conceptual-Machines/infill-api/internal/events"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// ErrMalformedMIDI is returned for uploads the codec cannot parse.
var ErrMalformedMIDI = errors.New("malformed MIDI")

const (
	// TicksPerBeat makes one MIDI tick equal one model tick at 120 BPM.
	TicksPerBeat = events.TimeResolution / 2
	defaultBPM   = 120.0
	drumChannel  = 9
	maxChannels  = 16
)

type timedMessage struct {
	tick int64
	msg  gomidi.Message
}

type noteKey struct {
	instrument int
	pitch      uint8
	channel    uint8
}

type openNote struct {
	index int
	onset int64 // microseconds
}

// ReadFile decodes the MIDI file at path.
func ReadFile(path string) (events.Sequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read midi file %s: %w", path, err)
	}
	return Decode(bytes.NewReader(data))
}

// Decode parses an SMF and returns its notes as an event sequence ordered by
// onset. Note times follow the file's tempo map.
func Decode(r io.Reader) (seq events.Sequence, err error) {
	// gomidi can panic on truncated input
	// https://github.com/gomidi/midi/issues/20
	defer func() {
		if rec := recover(); rec != nil {
			seq = nil
			err = fmt.Errorf("%w: %v", ErrMalformedMIDI, rec)
		}
	}()

	s, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMIDI, err)
	}
	if _, ok := s.TimeFormat.(smf.MetricTicks); !ok {
		return nil, fmt.Errorf("%w: unsupported time format %v", ErrMalformedMIDI, s.TimeFormat)
	}

	merged := mergeTracks(s)

	var notes []events.Event
	programs := make(map[uint8]int)
	open := make(map[noteKey][]openNote)
	var now int64

	for _, tm := range merged {
		now = s.TimeAt(tm.tick)
		var ch, key, vel, program uint8
		switch {
		case tm.msg.GetProgramChange(&ch, &program):
			programs[ch] = int(program)
		case tm.msg.GetNoteStart(&ch, &key, &vel):
			k := noteKey{instrument: instrumentFor(programs, ch), pitch: key, channel: ch}
			open[k] = append(open[k], openNote{index: len(notes), onset: now})
			notes = append(notes, events.Event{
				Time:       microsToTicks(now),
				Duration:   -1,
				Pitch:      int(key),
				Instrument: k.instrument,
			})
		case tm.msg.GetNoteEnd(&ch, &key):
			k := noteKey{instrument: instrumentFor(programs, ch), pitch: key, channel: ch}
			pending := open[k]
			if len(pending) == 0 {
				continue
			}
			on := pending[0]
			open[k] = pending[1:]
			notes[on.index].Duration = microsToTicks(now - on.onset)
		}
	}

	// notes still sounding at end of file stop there
	for _, pending := range open {
		for _, on := range pending {
			notes[on.index].Duration = microsToTicks(now - on.onset)
		}
	}
	for i := range notes {
		if notes[i].Duration < 0 {
			notes[i].Duration = events.DefaultUnknownDur
		}
	}

	return events.FromEvents(notes), nil
}

// mergeTracks flattens all tracks into one stream ordered by absolute tick.
// Ties keep track order.
func mergeTracks(s *smf.SMF) []timedMessage {
	var merged []timedMessage
	for _, track := range s.Tracks {
		var abs int64
		for _, ev := range track {
			abs += int64(ev.Delta)
			merged = append(merged, timedMessage{tick: abs, msg: gomidi.Message(ev.Message)})
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].tick < merged[j].tick
	})
	return merged
}

func instrumentFor(programs map[uint8]int, ch uint8) int {
	if ch == drumChannel {
		return events.DrumInstrument
	}
	return programs[ch]
}

func microsToTicks(us int64) int {
	return int(math.Round(events.TimeResolution * float64(us) / 1e6))
}

type noteEdge struct {
	tick   int
	offset bool
	empty  bool // offset of a zero-length note
	pitch  uint8
	instr  int
}

// rank orders edges sharing a tick: note-offs, then note-ons, then the
// note-offs of zero-length notes so each still follows its own note-on.
func (e noteEdge) rank() int {
	switch {
	case e.offset && e.empty:
		return 2
	case e.offset:
		return 0
	default:
		return 1
	}
}

type trackState struct {
	track    smf.Track
	channel  uint8
	lastTick int
}

// Encode renders seq as a format 1 SMF with one track per instrument.
// Control-tagged events are written as ordinary notes.
func Encode(seq events.Sequence) (*smf.SMF, error) {
	evs, err := seq.Events()
	if err != nil {
		return nil, err
	}

	edges := make([]noteEdge, 0, 2*len(evs))
	for _, ev := range evs {
		if ev.Time < 0 {
			return nil, fmt.Errorf("event at negative time %d", ev.Time)
		}
		dur := max(ev.Duration, 0)
		edges = append(edges,
			noteEdge{tick: ev.Time, pitch: uint8(ev.Pitch), instr: ev.Instrument},
			noteEdge{tick: ev.Time + dur, offset: true, empty: dur == 0, pitch: uint8(ev.Pitch), instr: ev.Instrument},
		)
	}
	// offsets go first so a repeated pitch is not cut short
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].tick != edges[j].tick {
			return edges[i].tick < edges[j].tick
		}
		return edges[i].rank() < edges[j].rank()
	})

	tracks := make(map[int]*trackState)
	var order []int
	nextChannel := uint8(0)

	for _, e := range edges {
		ts, ok := tracks[e.instr]
		if !ok {
			if e.offset {
				continue
			}
			ch := nextChannel
			program := uint8(e.instr)
			if e.instr == events.DrumInstrument {
				ch, program = drumChannel, 0
			} else {
				if nextChannel >= maxChannels {
					return nil, fmt.Errorf("sequence uses more than %d melodic instruments", maxChannels-1)
				}
				nextChannel++
				if nextChannel == drumChannel {
					nextChannel++
				}
			}
			ts = &trackState{channel: ch}
			ts.track.Add(0, gomidi.ProgramChange(ch, program))
			tracks[e.instr] = ts
			order = append(order, e.instr)
		}
		delta := uint32(e.tick - ts.lastTick)
		if e.offset {
			ts.track.Add(delta, gomidi.NoteOff(ts.channel, e.pitch))
		} else {
			ts.track.Add(delta, gomidi.NoteOn(ts.channel, e.pitch, events.DefaultVelocity))
		}
		ts.lastTick = e.tick
	}

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(TicksPerBeat)

	var conductor smf.Track
	conductor.Add(0, smf.MetaTempo(defaultBPM))
	conductor.Close(0)
	if err := s.Add(conductor); err != nil {
		return nil, fmt.Errorf("failed to add tempo track: %w", err)
	}

	for _, instr := range order {
		ts := tracks[instr]
		ts.track.Close(0)
		if err := s.Add(ts.track); err != nil {
			return nil, fmt.Errorf("failed to add track for instrument %d: %w", instr, err)
		}
	}
	return s, nil
}

// WriteFile encodes seq and saves it at path.
func WriteFile(seq events.Sequence, path string) error {
	s, err := Encode(seq)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return fmt.Errorf("failed to serialize midi: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write midi file %s: %w", path, err)
	}
	return nil
}
