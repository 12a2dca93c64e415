package eventlog

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestPushTransitionThenCatchupFiltersBySeq(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	l.PushTransition("idle", "working", "hook:working", "", 1)
	l.PushTransition("working", "prompt", "hook:prompt(permission)", "run the tests?", 2)
	l.PushTransition("prompt", "working", "hook:working", "", 3)

	got := l.CatchupState(1)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries after seq 1, got %d", len(got))
	}
	if got[0].Seq != 2 || got[1].Seq != 3 {
		t.Fatalf("unexpected seqs: %+v", got)
	}
	if got[0].LastMessage != "run the tests?" {
		t.Fatalf("expected last_message preserved, got %q", got[0].LastMessage)
	}
}

func TestCatchupStateEmptyWhenSinceCoversAll(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	l.PushTransition("idle", "working", "hook:working", "", 1)

	if got := l.CatchupState(1); len(got) != 0 {
		t.Fatalf("expected no entries, got %+v", got)
	}
}

func TestPushHookAssignsSequentialSeqAndCatchupFilters(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	l.PushHook(json.RawMessage(`{"hook_event_name":"PreToolUse"}`))
	l.PushHook(json.RawMessage(`{"hook_event_name":"PostToolUse"}`))
	l.PushHook(json.RawMessage(`{"hook_event_name":"AgentStop"}`))

	got := l.CatchupHooks(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 hook entries, got %d", len(got))
	}
	if got[0].HookSeq != 1 || got[1].HookSeq != 2 || got[2].HookSeq != 3 {
		t.Fatalf("expected sequential hook_seq starting at 1, got %+v", got)
	}

	got = l.CatchupHooks(2)
	if len(got) != 1 || got[0].HookSeq != 3 {
		t.Fatalf("expected only hook_seq 3 after catchup(2), got %+v", got)
	}
}

func TestEmptySessionDirDisablesLogging(t *testing.T) {
	l := New("")
	l.PushTransition("idle", "working", "hook:working", "", 1)
	l.PushHook(json.RawMessage(`{}`))

	if got := l.CatchupState(0); len(got) != 0 {
		t.Fatalf("expected catchup to stay empty when disabled, got %+v", got)
	}
	if got := l.CatchupHooks(0); len(got) != 0 {
		t.Fatalf("expected hook catchup to stay empty when disabled, got %+v", got)
	}
}

func TestFilesWrittenUnderSessionDir(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	l.PushTransition("idle", "working", "hook:working", "", 1)
	l.PushHook(json.RawMessage(`{}`))

	if l.statePath != filepath.Join(dir, "state_events.jsonl") {
		t.Fatalf("unexpected state path: %s", l.statePath)
	}
	if l.hookPath != filepath.Join(dir, "hook_events.jsonl") {
		t.Fatalf("unexpected hook path: %s", l.hookPath)
	}
}
