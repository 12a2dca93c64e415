package coopapi

import (
	"strings"
	"testing"
)

func TestHandleHooksStopAllowModeAlwaysAllows(t *testing.T) {
	store, _ := newTestStore(t)
	stop := NewStopState(StopConfig{Mode: StopAllow}, "http://x/resolve")

	verdict := HandleHooksStop(store, stop, false)
	if verdict.Decision != "" {
		t.Fatalf("expected allow, got %+v", verdict)
	}
}

func TestHandleHooksStopSafetyValveAllows(t *testing.T) {
	store, _ := newTestStore(t)
	stop := NewStopState(StopConfig{Mode: StopSignal, Prompt: "report first"}, "http://x/resolve")

	verdict := HandleHooksStop(store, stop, true)
	if verdict.Decision != "" {
		t.Fatalf("expected safety valve to allow, got %+v", verdict)
	}
}

func TestHandleHooksStopBlocksWithoutSignal(t *testing.T) {
	store, _ := newTestStore(t)
	stop := NewStopState(StopConfig{Mode: StopSignal, Prompt: "report first"}, "http://x/resolve")

	verdict := HandleHooksStop(store, stop, false)
	if verdict.Decision != "block" {
		t.Fatalf("expected block, got %+v", verdict)
	}
	if verdict.Reason == "" {
		t.Fatal("expected a non-empty reason")
	}
}

func TestHandleHooksStopAllowsAfterResolve(t *testing.T) {
	store, _ := newTestStore(t)
	stop := NewStopState(StopConfig{Mode: StopSignal}, "http://x/resolve")

	if err := ResolveStop(stop, map[string]any{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	verdict := HandleHooksStop(store, stop, false)
	if verdict.Decision != "" {
		t.Fatalf("expected allow after resolve, got %+v", verdict)
	}

	// Second call with no new signal should block again.
	verdict = HandleHooksStop(store, stop, false)
	if verdict.Decision != "block" {
		t.Fatalf("expected block on second call, got %+v", verdict)
	}
}

func TestResolveStopRejectsMissingRequiredField(t *testing.T) {
	stop := NewStopState(StopConfig{
		Mode: StopSignal,
		Schema: &StopSchema{Fields: map[string]StopSchemaField{
			"status": {Required: true, Enum: []string{"done", "error"}},
		}},
	}, "http://x/resolve")

	err := ResolveStop(stop, map[string]any{})
	if err == nil || err.Code != BadRequest {
		t.Fatalf("expected BadRequest, got %+v", err)
	}
}

func TestResolveStopRejectsInvalidEnumValue(t *testing.T) {
	stop := NewStopState(StopConfig{
		Mode: StopSignal,
		Schema: &StopSchema{Fields: map[string]StopSchemaField{
			"status": {Required: true, Enum: []string{"done", "error"}},
		}},
	}, "http://x/resolve")

	err := ResolveStop(stop, map[string]any{"status": "nope"})
	if err == nil || err.Code != BadRequest {
		t.Fatalf("expected BadRequest, got %+v", err)
	}
}

func TestResolveStopAcceptsValidEnumValue(t *testing.T) {
	stop := NewStopState(StopConfig{
		Mode: StopSignal,
		Schema: &StopSchema{Fields: map[string]StopSchemaField{
			"status": {Required: true, Enum: []string{"done", "error"}},
		}},
	}, "http://x/resolve")

	if err := ResolveStop(stop, map[string]any{"status": "done"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGenerateBlockReasonIncludesResolveURL(t *testing.T) {
	reason := generateBlockReason(StopConfig{Mode: StopSignal}, "http://127.0.0.1:8080/api/v1/hooks/stop/resolve")
	if !strings.Contains(reason, "http://127.0.0.1:8080/api/v1/hooks/stop/resolve") {
		t.Fatalf("expected resolve URL in reason, got %q", reason)
	}
	if !strings.Contains(reason, "Do not stop yet") {
		t.Fatalf("expected default prompt text, got %q", reason)
	}
}
