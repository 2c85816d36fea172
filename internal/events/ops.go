package events

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrMalformedSequence is returned when a sequence is not made of whole triples.
var ErrMalformedSequence = errors.New("event sequence length is not a multiple of 3")

// Unit selects how a time argument is interpreted.
type Unit int

const (
	Seconds Unit = iota
	Ticks
)

// ToTicks converts a time value in the given unit to model ticks.
// Seconds are truncated toward zero, matching the model's tokenizer.
func ToTicks(v float64, unit Unit) int {
	if unit == Seconds {
		return int(TimeResolution * v)
	}
	return int(v)
}

// Validate checks that seq is made of whole triples.
func (seq Sequence) Validate() error {
	if len(seq)%3 != 0 {
		return fmt.Errorf("%w (len=%d)", ErrMalformedSequence, len(seq))
	}
	return nil
}

// Len returns the number of triples in seq.
func (seq Sequence) Len() int {
	return len(seq) / 3
}

// AddControlOffset tags every token as conditioning context.
func AddControlOffset(seq Sequence) Sequence {
	out := make(Sequence, len(seq))
	for i, tok := range seq {
		out[i] = tok + ControlOffset
	}
	return out
}

// RemoveControlOffset undoes AddControlOffset.
func RemoveControlOffset(seq Sequence) Sequence {
	out := make(Sequence, len(seq))
	for i, tok := range seq {
		out[i] = tok - ControlOffset
	}
	return out
}

// Concat joins sequences in order.
func Concat(seqs ...Sequence) Sequence {
	n := 0
	for _, s := range seqs {
		n += len(s)
	}
	out := make(Sequence, 0, n)
	for _, s := range seqs {
		out = append(out, s...)
	}
	return out
}

// Translate shifts the onset of every event by dt. Control events are shifted
// on the control time base. Events after a separator are left untouched.
func Translate(seq Sequence, dt float64, unit Unit) (Sequence, error) {
	if err := seq.Validate(); err != nil {
		return nil, err
	}
	shift := Token(ToTicks(dt, unit))
	out := make(Sequence, 0, len(seq))
	for i := 0; i < len(seq); i += 3 {
		t, d, n := seq[i], seq[i+1], seq[i+2]
		if n == Separator {
			out = append(out, t, d, n)
			shift = 0
			continue
		}
		base := Token(TimeOffset)
		if IsControl(n) {
			base = ATimeOffset
		}
		if t-base+shift < 0 {
			return nil, fmt.Errorf("translate by %d ticks moves event %d before zero", shift, i/3)
		}
		out = append(out, t+shift, d, n)
	}
	return out, nil
}

// Clip keeps the events whose onset lies in [start, end]. When clipDuration is
// set, notes sounding past end are shortened to stop at end.
func Clip(seq Sequence, start, end float64, unit Unit, clipDuration bool) (Sequence, error) {
	if err := seq.Validate(); err != nil {
		return nil, err
	}
	lo, hi := ToTicks(start, unit), ToTicks(end, unit)
	out := make(Sequence, 0, len(seq))
	for i := 0; i < len(seq); i += 3 {
		t, d, n := seq[i], seq[i+1], seq[i+2]
		var at, dur int
		if IsControl(n) {
			at, dur = int(t-ATimeOffset), int(d-ADurOffset)
		} else {
			at, dur = int(t-TimeOffset), int(d-DurOffset)
		}
		if at < lo || hi < at {
			continue
		}
		if clipDuration && hi < at+dur {
			d -= Token(at + dur - hi)
		}
		out = append(out, t, d, n)
	}
	return out, nil
}

// ExtractInstruments splits seq by instrument. Events played by one of the
// given instruments are returned control-tagged in selected; the rest are
// returned as-is in remainder.
func ExtractInstruments(seq Sequence, instruments []int) (remainder, selected Sequence, err error) {
	if err := seq.Validate(); err != nil {
		return nil, nil, err
	}
	want := make(map[int]bool, len(instruments))
	for _, instr := range instruments {
		want[instr] = true
	}
	remainder = Sequence{}
	selected = Sequence{}
	for i := 0; i < len(seq); i += 3 {
		t, d, n := seq[i], seq[i+1], seq[i+2]
		if IsControl(n) {
			return nil, nil, fmt.Errorf("event %d is already a control token", i/3)
		}
		if n == Rest || n == Separator {
			return nil, nil, fmt.Errorf("event %d is a rest or separator, not a note", i/3)
		}
		instr := int(n-NoteOffset) / MaxPitch
		if want[instr] {
			selected = append(selected, ControlOffset+t, ControlOffset+d, ControlOffset+n)
		} else {
			remainder = append(remainder, t, d, n)
		}
	}
	return remainder, selected, nil
}

// Events decodes seq into triples. Tokens outside the note range (rests,
// separators) are skipped.
func (seq Sequence) Events() ([]Event, error) {
	if err := seq.Validate(); err != nil {
		return nil, err
	}
	out := make([]Event, 0, seq.Len())
	for i := 0; i < len(seq); i += 3 {
		t, d, n := seq[i], seq[i+1], seq[i+2]
		control := IsControl(n)
		if control {
			t, d, n = t-ControlOffset, d-ControlOffset, n-ControlOffset
		}
		if !IsNote(n) {
			continue
		}
		note := int(n - NoteOffset)
		out = append(out, Event{
			Time:       int(t - TimeOffset),
			Duration:   int(d - DurOffset),
			Pitch:      note % MaxPitch,
			Instrument: note / MaxPitch,
			Control:    control,
		})
	}
	return out, nil
}

// FromEvents encodes events as a sequence ordered by onset. Durations are
// capped below MaxDur; control flags are ignored.
func FromEvents(evs []Event) Sequence {
	sorted := make([]Event, len(evs))
	copy(sorted, evs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time < sorted[j].Time
	})
	out := make(Sequence, 0, 3*len(sorted))
	for _, ev := range sorted {
		dur := ev.Duration
		if dur >= MaxDur {
			dur = MaxDur - 1
		}
		out = append(out,
			Token(TimeOffset+ev.Time),
			Token(DurOffset+dur),
			NoteToken(ev.Instrument, ev.Pitch),
		)
	}
	return out
}

// End returns the tick at which the last note of seq stops sounding.
func (seq Sequence) End() int {
	evs, err := seq.Events()
	if err != nil {
		return 0
	}
	end := 0
	for _, ev := range evs {
		end = max(end, ev.Time+ev.Duration)
	}
	return end
}

// TicksToSeconds converts ticks to seconds.
func TicksToSeconds(ticks int) float64 {
	return math.Round(float64(ticks)/TimeResolution*1000) / 1000
}

// Instruments returns the instruments that play in seq, in ascending order.
func (seq Sequence) Instruments() []int {
	evs, err := seq.Events()
	if err != nil {
		return nil
	}
	seen := map[int]bool{}
	var out []int
	for _, ev := range evs {
		if !seen[ev.Instrument] {
			seen[ev.Instrument] = true
			out = append(out, ev.Instrument)
		}
	}
	sort.Ints(out)
	return out
}
