// Package infill sequences the model passes that connect an intro to an
// outro: a chord (comping) pass, then melody passes conditioned on it.
package infill

import (
	"context"
	"fmt"
	"time"

	"github.com/Conceptual-Machines/infill-api/internal/events"
	"github.com/Conceptual-Machines/infill-api/internal/generation"
	"github.com/Conceptual-Machines/infill-api/internal/midi"
)

// Pass names reported to observers
const (
	PassBasic       = "chord.basic"
	PassMiddle      = "melody.middle"
	PassLeadIn      = "melody.lead_in"
	StageDecode     = "decode"
	StageChord      = "chord"
	StageMelody     = "melody"
	stageTranslate  = "translate"
	introUploadName = "intro"
	outroUploadName = "outro"
)

// StageError records which stage of a run failed
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// PassObserver is called after every model pass
type PassObserver func(pass string, request *generation.Request, output events.Sequence, duration time.Duration, err error)

type observerKey struct{}

// WithObserver attaches an observer to ctx for the passes run under it
func WithObserver(ctx context.Context, observe PassObserver) context.Context {
	return context.WithValue(ctx, observerKey{}, observe)
}

func observerFrom(ctx context.Context) PassObserver {
	if fn, ok := ctx.Value(observerKey{}).(PassObserver); ok && fn != nil {
		return fn
	}
	return func(string, *generation.Request, events.Sequence, time.Duration, error) {}
}

// ChordResult is the output of the chord stage
type ChordResult struct {
	// Comping is the infilled accompaniment across the whole span, outro included.
	Comping events.Sequence
	// IntroMelody is the intro's lead layer, untagged.
	IntroMelody events.Sequence
	// OutroMelody is the outro's lead layer, untagged and moved to BeforeOutroLength.
	OutroMelody events.Sequence
}

// Pipeline runs infill passes against a shared engine
type Pipeline struct {
	engine generation.Engine
	policy Policy
}

// NewPipeline creates a pipeline. The engine is shared across requests.
func NewPipeline(engine generation.Engine, policy Policy) *Pipeline {
	return &Pipeline{engine: engine, policy: policy}
}

// Policy returns the constants this pipeline runs with
func (p *Pipeline) Policy() Policy {
	return p.policy
}

// Run decodes both uploads and runs the stages selected by mode, strictly in order
func (p *Pipeline) Run(ctx context.Context, introPath, outroPath string, mode Mode) (events.Sequence, error) {
	intro, err := midi.ReadFile(introPath)
	if err != nil {
		return nil, &StageError{Stage: StageDecode, Err: fmt.Errorf("%s: %w", introUploadName, err)}
	}
	outro, err := midi.ReadFile(outroPath)
	if err != nil {
		return nil, &StageError{Stage: StageDecode, Err: fmt.Errorf("%s: %w", outroUploadName, err)}
	}

	chord, err := p.ChordStage(ctx, intro, outro)
	if err != nil {
		return nil, err
	}
	if mode == ModeChord {
		return chord.Comping, nil
	}
	return p.MelodyStage(ctx, chord)
}

// Basic infills the whole arrangement: the outro is moved to
// BeforeOutroLength and used as controls while the model continues the intro.
// The result is the intro prompt, the generated middle and the outro.
func (p *Pipeline) Basic(ctx context.Context, intro, outro events.Sequence) (events.Sequence, error) {
	placed, err := events.Translate(outro, p.policy.BeforeOutroLength, events.Seconds)
	if err != nil {
		return nil, &StageError{Stage: stageTranslate, Err: err}
	}

	controls := events.AddControlOffset(placed)
	inpainted, err := p.generate(ctx, PassBasic, &generation.Request{
		Start:    p.policy.PromptLength,
		End:      p.policy.BeforeOutroLength,
		Inputs:   intro,
		Controls: controls,
		TopP:     p.policy.TopP,
	})
	if err != nil {
		return nil, err
	}

	return events.Concat(inpainted, events.RemoveControlOffset(controls)), nil
}

// ChordStage separates the lead layer from both uploads, infills the full
// arrangement and keeps its accompaniment as the chord track.
func (p *Pipeline) ChordStage(ctx context.Context, intro, outro events.Sequence) (*ChordResult, error) {
	lead := []int{p.policy.LeadInstrument}

	_, introMelody, err := events.ExtractInstruments(intro, lead)
	if err != nil {
		return nil, &StageError{Stage: StageChord, Err: err}
	}
	_, outroMelody, err := events.ExtractInstruments(outro, lead)
	if err != nil {
		return nil, &StageError{Stage: StageChord, Err: err}
	}
	introMelody = events.RemoveControlOffset(introMelody)
	outroMelody, err = events.Translate(events.RemoveControlOffset(outroMelody), p.policy.BeforeOutroLength, events.Seconds)
	if err != nil {
		return nil, &StageError{Stage: StageChord, Err: err}
	}

	basic, err := p.Basic(ctx, intro, outro)
	if err != nil {
		return nil, &StageError{Stage: StageChord, Err: err}
	}
	comping, _, err := events.ExtractInstruments(basic, lead)
	if err != nil {
		return nil, &StageError{Stage: StageChord, Err: err}
	}

	return &ChordResult{
		Comping:     comping,
		IntroMelody: introMelody,
		OutroMelody: outroMelody,
	}, nil
}

// MelodyStage generates the middle melody over the chord track and outro
// melody, then regenerates the intro lead-in so it runs into that middle.
// The result is lead-in + middle melody + chord track with outro melody.
func (p *Pipeline) MelodyStage(ctx context.Context, chord *ChordResult) (events.Sequence, error) {
	accompaniment := events.AddControlOffset(events.Concat(chord.Comping, chord.OutroMelody))

	withMiddle, err := p.generate(ctx, PassMiddle, &generation.Request{
		Start:    p.policy.PromptLength,
		End:      p.policy.BeforeOutroLength,
		Inputs:   chord.IntroMelody,
		Controls: accompaniment,
		TopP:     p.policy.TopP,
	})
	if err != nil {
		return nil, &StageError{Stage: StageMelody, Err: err}
	}

	introPrompt, err := events.Clip(chord.IntroMelody, 0, p.policy.IntroClipSeconds, events.Seconds, true)
	if err != nil {
		return nil, &StageError{Stage: StageMelody, Err: err}
	}
	middle, err := events.Clip(withMiddle, p.policy.MiddleClipStart, p.policy.MiddleClipEnd, events.Seconds, true)
	if err != nil {
		return nil, &StageError{Stage: StageMelody, Err: err}
	}
	middleControls := events.AddControlOffset(middle)

	leadIn, err := p.generate(ctx, PassLeadIn, &generation.Request{
		Start:    p.policy.IntroClipSeconds,
		End:      p.policy.PromptLength,
		Inputs:   introPrompt,
		Controls: middleControls,
		TopP:     p.policy.TopP,
	})
	if err != nil {
		return nil, &StageError{Stage: StageMelody, Err: err}
	}

	return events.Concat(
		leadIn,
		events.RemoveControlOffset(middleControls),
		events.RemoveControlOffset(accompaniment),
	), nil
}

func (p *Pipeline) generate(ctx context.Context, pass string, req *generation.Request) (events.Sequence, error) {
	start := time.Now()
	out, err := p.engine.Generate(ctx, req)
	observerFrom(ctx)(pass, req, out, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pass, err)
	}
	return out, nil
}
