// Package compositedetect fuses the per-agent detector set (component D)
// into one monotonic state stream with confidence-based tie-breaking and
// prompt-specificity precedence (component E, §4.5).
package compositedetect

import (
	"context"
	"math"

	"github.com/groblegark/coop-sub001/internal/agentstate"
	"github.com/groblegark/coop-sub001/internal/detect"
	"github.com/groblegark/coop-sub001/internal/logger"
)

// DetectedState is what the composite detector emits downstream to the
// session loop.
type DetectedState struct {
	State agentstate.State
	Tier  int
	Cause string
}

const maxTier = math.MaxUint8

// Fuser holds fusion state across the lifetime of a session: the current
// accepted state and the tier at which it was last accepted or
// strengthened.
type Fuser struct {
	currentState agentstate.State
	currentTier  int
}

// New creates a Fuser in the initial Starting state with tier set to the
// maximum (so the very first sample at any tier is accepted).
func New() *Fuser {
	return &Fuser{
		currentState: agentstate.Simple(agentstate.Starting),
		currentTier:  maxTier,
	}
}

// Feed applies the fusion algorithm (§4.5) to one incoming sample,
// returning the DetectedState to emit and whether anything should be
// emitted at all.
func (f *Fuser) Feed(sample detect.Sample) (DetectedState, bool) {
	// 1. Terminal override: Exited always wins and is emitted immediately.
	if sample.State.Kind == agentstate.Exited {
		f.currentState = sample.State
		f.currentTier = sample.Tier
		return DetectedState{State: sample.State, Tier: sample.Tier, Cause: sample.Cause}, true
	}

	// 2. Dedup: same observable state — possibly strengthen tier, no emit.
	if sample.State.Equal(f.currentState) {
		if sample.Tier < f.currentTier {
			f.currentTier = sample.Tier
		}
		return DetectedState{}, false
	}

	// 3. State changed: decide acceptance.
	accept := false
	switch {
	case sample.Tier <= f.currentTier:
		accept = true
		if sample.Tier == f.currentTier && promptSupersedes(f.currentState, sample.State) {
			accept = false
		}
	default:
		// Lower-confidence tier: escalate only, never downgrade.
		accept = sample.State.Kind.Priority() > f.currentState.Kind.Priority()
	}

	if !accept {
		logger.Debug("composite detector: rejected sample",
			"tier", sample.Tier, "current_tier", f.currentTier,
			"new_state", sample.State.Kind.String(), "current_state", f.currentState.Kind.String())
		return DetectedState{}, false
	}

	f.currentState = sample.State
	f.currentTier = sample.Tier
	return DetectedState{State: sample.State, Tier: sample.Tier, Cause: sample.Cause}, true
}

// promptSupersedes implements the prompt-specificity override: a more
// specific Prompt{Plan} or Prompt{Question} must not be overwritten by a
// same-tier generic Prompt{Permission} describing the same user-facing
// moment. Setup prompts are explicitly excluded.
func promptSupersedes(current, incoming agentstate.State) bool {
	if current.Kind != agentstate.Prompt || incoming.Kind != agentstate.Prompt {
		return false
	}
	if current.Prompt == nil || incoming.Prompt == nil {
		return false
	}
	isSpecific := current.Prompt.Kind == agentstate.PlanPrompt || current.Prompt.Kind == agentstate.QuestionPrompt
	return isSpecific && incoming.Prompt.Kind == agentstate.PermissionPrompt
}

// Run spawns every detector and forwards its samples through the fusion
// algorithm onto out, tagging each with the detector's declared tier. It
// returns once ctx is cancelled or every detector's channel has closed.
func Run(ctx context.Context, detectors []detect.Detector, out chan<- DetectedState) {
	fuser := New()
	samples := make(chan detect.Sample, 64)

	for _, d := range detectors {
		d := d
		go d.Run(ctx, samples)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-samples:
			if !ok {
				return
			}
			if ds, emitNow := fuser.Feed(sample); emitNow {
				select {
				case out <- ds:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
