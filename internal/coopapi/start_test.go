package coopapi

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/groblegark/coop-sub001/internal/transcript"
)

func writeTestLog(path, line string) error {
	return os.WriteFile(path, []byte(line+"\n"), 0o644)
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestComposeStartScriptEncodesTextAsBase64Printf(t *testing.T) {
	config := StartConfig{Text: "hello"}
	script := composeStartScript(config, "start")
	encoded := base64.StdEncoding.EncodeToString([]byte("hello"))
	if !strings.Contains(script, encoded) {
		t.Fatalf("expected base64 text in script, got %q", script)
	}
}

func TestComposeStartScriptUsesEventOverride(t *testing.T) {
	config := StartConfig{
		Text:  "default",
		Event: map[string]StartEventConfig{"clear": {Shell: []string{"echo cleared"}}},
	}
	script := composeStartScript(config, "clear")
	if script != "echo cleared" {
		t.Fatalf("expected override to replace default, got %q", script)
	}
}

func TestComposeStartScriptEmptyWhenUnconfigured(t *testing.T) {
	if script := composeStartScript(StartConfig{}, "start"); script != "" {
		t.Fatalf("expected empty script, got %q", script)
	}
}

func TestHandleHooksStartClearsLastMessageOnClearSource(t *testing.T) {
	store, _ := newTestStore(t)
	store.LastMessage.Set("stale output")
	start := NewStartState(StartConfig{})

	HandleHooksStart(store, start, nil, HooksStartInput{Source: "clear"})

	if got := store.LastMessage.Get(); got != "" {
		t.Fatalf("expected last message cleared, got %q", got)
	}
}

func TestHandleHooksStartSnapshotsTranscriptOnCompact(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "session.jsonl")
	if err := writeTestLog(logPath, "{}"); err != nil {
		t.Fatalf("write log: %v", err)
	}
	transcripts, err := transcript.New(filepath.Join(dir, "transcripts"), logPath)
	if err != nil {
		t.Fatalf("transcript.New: %v", err)
	}

	store, _ := newTestStore(t)
	start := NewStartState(StartConfig{})

	HandleHooksStart(store, start, transcripts, HooksStartInput{Source: "compact"})

	waitForCondition(t, func() bool { return len(transcripts.List()) == 1 })
}

func TestHandleHooksStartDefaultsUnknownSource(t *testing.T) {
	store, _ := newTestStore(t)
	start := NewStartState(StartConfig{})
	script := HandleHooksStart(store, start, nil, HooksStartInput{})
	if script != "" {
		t.Fatalf("expected empty script for unconfigured source, got %q", script)
	}
}
