package session

import (
	"testing"
	"time"

	"github.com/groblegark/coop-sub001/internal/agentstate"
	"github.com/groblegark/coop-sub001/internal/profile"
)

func TestProcessDetectedStateMarksReadyOnFirstTransition(t *testing.T) {
	s, _ := newTestStore(t)
	rs := &runState{}
	done := make(chan struct{})
	defer close(done)

	if s.Ready() {
		t.Fatal("expected not ready before any transition")
	}
	processDetectedState(s, agentstate.Simple(agentstate.Idle), 2, "log:idle", rs, nil, nil, done)
	if !s.Ready() {
		t.Fatal("expected ready after leaving Starting")
	}
}

func TestProcessDetectedStateStoresErrorCategory(t *testing.T) {
	s, _ := newTestStore(t)
	rs := &runState{}
	done := make(chan struct{})
	defer close(done)

	errState := agentstate.WithError(agentstate.ErrorInfo{Detail: "disk full", Category: agentstate.Transient})
	processDetectedState(s, errState, 2, "log:error", rs, nil, nil, done)

	info, ok := s.Error()
	if !ok || info.Detail != "disk full" {
		t.Fatalf("expected stored error info, got %+v ok=%v", info, ok)
	}
}

func TestProcessDetectedStateClearsErrorOnRecovery(t *testing.T) {
	s, _ := newTestStore(t)
	rs := &runState{}
	done := make(chan struct{})
	defer close(done)

	processDetectedState(s, agentstate.WithError(agentstate.ErrorInfo{Detail: "x", Category: agentstate.Transient}), 2, "c1", rs, nil, nil, done)
	processDetectedState(s, agentstate.Simple(agentstate.Idle), 2, "c2", rs, nil, nil, done)

	if _, ok := s.Error(); ok {
		t.Fatal("expected error info cleared after recovery")
	}
}

func TestProcessDetectedStateRateLimitTriggersPendingSwitch(t *testing.T) {
	s, _ := newTestStore(t)
	s.Profiles.Register([]profile.Entry{
		{Name: "a", Credentials: map[string]string{"K": "1"}},
		{Name: "b", Credentials: map[string]string{"K": "2"}},
	}, nil)
	rs := &runState{}
	done := make(chan struct{})
	defer close(done)

	errState := agentstate.WithError(agentstate.ErrorInfo{Detail: "429", Category: agentstate.RateLimited})
	processDetectedState(s, errState, 1, "hook:error", rs, nil, nil, done)

	if rs.pendingSwitch == nil || rs.pendingSwitch.Profile != "b" {
		t.Fatalf("expected pending switch to profile b, got %+v", rs.pendingSwitch)
	}
}

func TestProcessDetectedStateSkipsRotationWithSingleProfile(t *testing.T) {
	s, _ := newTestStore(t)
	s.Profiles.Register([]profile.Entry{{Name: "only", Credentials: nil}}, nil)
	rs := &runState{}
	done := make(chan struct{})
	defer close(done)

	errState := agentstate.WithError(agentstate.ErrorInfo{Detail: "429", Category: agentstate.RateLimited})
	processDetectedState(s, errState, 1, "hook:error", rs, nil, nil, done)

	// Single profile => TryAutoRotate is Skipped, not Exhausted or Switched,
	// so no pending switch and state stays Error (not Parked).
	if rs.pendingSwitch != nil {
		t.Fatalf("expected no pending switch with a single profile, got %+v", rs.pendingSwitch)
	}
	if s.AgentState().Kind != agentstate.Error {
		t.Fatalf("expected state to remain Error, got %v", s.AgentState().Kind)
	}
}

func TestProcessDetectedStatePendingSwitchFiresOnIdle(t *testing.T) {
	s, _ := newTestStore(t)
	rs := &runState{pendingSwitch: &profile.SwitchRequest{Profile: "b", Credentials: map[string]string{"K": "2"}, Force: true}}
	done := make(chan struct{})
	defer close(done)

	processDetectedState(s, agentstate.Simple(agentstate.Idle), 2, "log:idle", rs, nil, nil, done)

	if rs.pendingSwitch != nil {
		t.Fatal("expected pending switch cleared after firing")
	}
	if s.AgentState().Kind != agentstate.Restarting {
		t.Fatalf("expected state Restarting after pending switch fires, got %v", s.AgentState().Kind)
	}
}

func TestProcessDetectedStateDrainCompletesOnIdle(t *testing.T) {
	s, _ := newTestStore(t)
	rs := &runState{draining: true}
	done := make(chan struct{})
	defer close(done)

	brk := processDetectedState(s, agentstate.Simple(agentstate.Idle), 2, "log:idle", rs, nil, nil, done)
	if !brk {
		t.Fatal("expected drain to request loop break on Idle")
	}
}

func TestProcessDetectedStateTracksIdleSince(t *testing.T) {
	s, _ := newTestStore(t)
	rs := &runState{idleTimeout: time.Second}
	done := make(chan struct{})
	defer close(done)

	processDetectedState(s, agentstate.Simple(agentstate.Idle), 2, "c", rs, nil, nil, done)
	if rs.idleSince.IsZero() {
		t.Fatal("expected idleSince to be set")
	}

	processDetectedState(s, agentstate.Simple(agentstate.Working), 2, "c", rs, nil, nil, done)
	if !rs.idleSince.IsZero() {
		t.Fatal("expected idleSince to reset once no longer Idle")
	}
}

func TestBroadcastExitWritesStatusBeforeTransition(t *testing.T) {
	s, _ := newTestStore(t)
	sub, unsub := s.StateBus.Subscribe(1)
	defer unsub()

	broadcastExit(s, 0, -1)

	ev := <-sub
	if ev.Next.Kind != agentstate.Exited {
		t.Fatalf("expected Exited transition, got %v", ev.Next.Kind)
	}
	status, ok := s.ExitStatus()
	if !ok || status.Code == nil || *status.Code != 0 {
		t.Fatalf("expected exit status already populated when transition observed, got %+v ok=%v", status, ok)
	}
}
