package session

import (
	"testing"
	"time"
)

func TestPacingNudgeDelayBaseForShortMessage(t *testing.T) {
	p := PacingConfig{Base: 30 * time.Millisecond, PerByte: time.Millisecond, Cap: time.Second}
	if d := p.NudgeDelay(100); d != 30*time.Millisecond {
		t.Fatalf("expected base delay for short message, got %v", d)
	}
}

func TestPacingNudgeDelayLinearAboveThreshold(t *testing.T) {
	p := PacingConfig{Base: 30 * time.Millisecond, PerByte: time.Millisecond, Cap: time.Second}
	// 256 + 50 bytes over threshold => base + 50ms
	if d := p.NudgeDelay(306); d != 80*time.Millisecond {
		t.Fatalf("expected 80ms, got %v", d)
	}
}

func TestPacingNudgeDelayCapped(t *testing.T) {
	p := PacingConfig{Base: 30 * time.Millisecond, PerByte: time.Millisecond, Cap: 100 * time.Millisecond}
	if d := p.NudgeDelay(100_000); d != 100*time.Millisecond {
		t.Fatalf("expected cap to apply, got %v", d)
	}
}

func TestDeliveryGateEnforcesDebounce(t *testing.T) {
	g := NewDeliveryGate(50 * time.Millisecond)
	release := g.Acquire()
	release()

	start := time.Now()
	release2 := g.Acquire()
	elapsed := time.Since(start)
	release2()

	if elapsed < 40*time.Millisecond {
		t.Fatalf("expected second Acquire to wait out debounce, elapsed=%v", elapsed)
	}
}

func TestDeliveryGateFirstAcquireDoesNotBlock(t *testing.T) {
	g := NewDeliveryGate(time.Second)
	start := time.Now()
	release := g.Acquire()
	release()
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("expected first acquire on a fresh gate to return immediately")
	}
}

func TestDeliveryGateRegisterRetryTokenCancelledOnAcquire(t *testing.T) {
	g := NewDeliveryGate(0)
	cancelled := false
	g.RegisterRetryToken(func() { cancelled = true })

	release := g.Acquire()
	release()

	if !cancelled {
		t.Fatal("expected retry token to be cancelled by a new Acquire")
	}
}
