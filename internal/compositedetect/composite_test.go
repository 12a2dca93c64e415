package compositedetect

import (
	"testing"

	"github.com/groblegark/coop-sub001/internal/agentstate"
	"github.com/groblegark/coop-sub001/internal/detect"
)

func TestFirstSampleAlwaysAccepted(t *testing.T) {
	f := New()
	ds, ok := f.Feed(detect.Sample{Tier: 5, State: agentstate.Simple(agentstate.WaitingForInput), Cause: "x"})
	if !ok {
		t.Fatal("expected first sample to be accepted")
	}
	if ds.State.Kind != agentstate.WaitingForInput {
		t.Fatalf("got %v", ds.State.Kind)
	}
}

// B3: a tier-5 downgrade sample while current is (tier=1, Working) is rejected.
func TestDowngradeFromHigherConfidenceRejected(t *testing.T) {
	f := New()
	f.Feed(detect.Sample{Tier: 1, State: agentstate.Simple(agentstate.Working), Cause: "hook:working"})

	_, ok := f.Feed(detect.Sample{Tier: 5, State: agentstate.Simple(agentstate.WaitingForInput), Cause: "screen:classified"})
	if ok {
		t.Fatal("expected tier-5 downgrade of tier-1 Working to be rejected (B3)")
	}
}

// B4: a terminal Exited sample from tier 5 replaces any current state.
func TestExitedAlwaysAccepted(t *testing.T) {
	f := New()
	f.Feed(detect.Sample{Tier: 1, State: agentstate.Simple(agentstate.Working), Cause: "hook:working"})

	ds, ok := f.Feed(detect.Sample{Tier: 5, State: agentstate.WithExit(agentstate.NewExitInfo(0, -1)), Cause: "screen:exit"})
	if !ok {
		t.Fatal("expected Exited to always be accepted (B4)")
	}
	if ds.State.Kind != agentstate.Exited {
		t.Fatalf("got %v", ds.State.Kind)
	}
}

// S2: prompt precedence — Plan (tier1, ready) then Permission (tier1) at
// the same tier must not overwrite Plan.
func TestPromptSpecificityOverride(t *testing.T) {
	f := New()
	f.Feed(detect.Sample{
		Tier:  1,
		State: agentstate.WithPrompt(agentstate.PromptContext{Kind: agentstate.PlanPrompt, Ready: true}),
		Cause: "hook:prompt(plan)",
	})

	_, ok := f.Feed(detect.Sample{
		Tier:  1,
		State: agentstate.WithPrompt(agentstate.PromptContext{Kind: agentstate.PermissionPrompt, Ready: false}),
		Cause: "hook:prompt(permission)",
	})
	if ok {
		t.Fatal("expected same-tier Permission to be rejected in favor of specific Plan prompt")
	}
}

func TestEscalationAllowedFromLowerConfidence(t *testing.T) {
	f := New()
	f.Feed(detect.Sample{Tier: 2, State: agentstate.Simple(agentstate.Idle), Cause: "log:idle"})

	// Higher tier number (lower confidence) but higher state priority: Prompt > Idle.
	ds, ok := f.Feed(detect.Sample{
		Tier:  5,
		State: agentstate.WithPrompt(agentstate.PromptContext{Kind: agentstate.SetupPrompt}),
		Cause: "screen:setup",
	})
	if !ok {
		t.Fatal("expected escalation to a higher-priority state to be accepted")
	}
	if ds.State.Kind != agentstate.Prompt {
		t.Fatalf("got %v", ds.State.Kind)
	}
}

func TestDedupStrengthensTierWithoutEmitting(t *testing.T) {
	f := New()
	f.Feed(detect.Sample{Tier: 3, State: agentstate.Simple(agentstate.Working), Cause: "stdout:tool(x)"})

	_, ok := f.Feed(detect.Sample{Tier: 1, State: agentstate.Simple(agentstate.Working), Cause: "hook:working"})
	if ok {
		t.Fatal("expected dedup of an unchanged state to not emit")
	}
	if f.currentTier != 1 {
		t.Fatalf("expected tier to strengthen to 1, got %d", f.currentTier)
	}
}
