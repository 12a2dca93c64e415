// Package detect implements the per-agent evidence sources (component D)
// that produce tagged (tier, state, cause) samples for the composite
// detector to fuse.
package detect

import (
	"context"

	"github.com/groblegark/coop-sub001/internal/agentstate"
)

// Sample is a single piece of detection evidence.
type Sample struct {
	Tier  int
	State agentstate.State
	Cause string
}

// Detector runs as a cooperatively-scheduled task producing samples until
// ctx is cancelled. Each detector advertises a tier 1-5 at startup (§4.4).
type Detector interface {
	Tier() int
	Run(ctx context.Context, out chan<- Sample)
}

func emit(ctx context.Context, out chan<- Sample, s Sample) {
	select {
	case out <- s:
	case <-ctx.Done():
	}
}
