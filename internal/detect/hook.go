package detect

import (
	"bufio"
	"context"
	"encoding/json"
	"os"

	"github.com/groblegark/coop-sub001/internal/agentstate"
	"github.com/groblegark/coop-sub001/internal/eventlog"
	"github.com/groblegark/coop-sub001/internal/logger"
)

// hookEvent is the length-delimited JSON schema written by an agent's hook
// scripts into the per-session FIFO, matching Claude Code's hook payload
// field names.
type hookEvent struct {
	HookEventName string          `json:"hook_event_name"`
	ToolName      string          `json:"tool_name"`
	NotifyType    string          `json:"notification_type"`
	ToolInput     json.RawMessage `json:"tool_input"`
}

// HookDetector is the tier-1 push-event detector (D1): it reads
// length-delimited JSON lines from a FIFO created in the agent's
// per-session directory before spawn.
type HookDetector struct {
	FIFOPath string

	// Log records every raw hook line for catchup, independent of
	// whether classifyHookLine recognized it. Nil disables logging.
	Log *eventlog.Log
}

func (d *HookDetector) Tier() int { return 1 }

func (d *HookDetector) Run(ctx context.Context, out chan<- Sample) {
	// Opening a FIFO for read blocks until a writer connects; run it in its
	// own goroutine so Run can still observe ctx cancellation promptly.
	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		f, err := os.Open(d.FIFOPath)
		if err != nil {
			logger.Debug("hook detector: open FIFO failed", "path", d.FIFOPath, "err", err)
			return
		}
		defer f.Close()
		go func() {
			<-ctx.Done()
			f.Close()
		}()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if d.Log != nil {
				d.Log.PushHook(json.RawMessage(line))
			}
			if s, matched := classifyHookLine(line); matched {
				emit(ctx, out, s)
			}
		}
	}
}

func classifyHookLine(line string) (Sample, bool) {
	var ev hookEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return Sample{}, false
	}

	switch ev.HookEventName {
	case "AgentStop", "SessionEnd":
		return Sample{Tier: 1, State: agentstate.Simple(agentstate.WaitingForInput), Cause: "hook:idle"}, true

	case "ToolComplete", "PostToolUse":
		return Sample{Tier: 1, State: agentstate.Simple(agentstate.Working), Cause: "hook:working"}, true

	case "Notification":
		switch ev.NotifyType {
		case "idle_prompt":
			return Sample{Tier: 1, State: agentstate.Simple(agentstate.WaitingForInput), Cause: "hook:idle"}, true
		case "permission_prompt":
			ctx := agentstate.PromptContext{Kind: agentstate.PermissionPrompt, Ready: false}
			return Sample{Tier: 1, State: agentstate.WithPrompt(ctx), Cause: "hook:prompt(permission)"}, true
		}

	case "PreToolUse":
		switch ev.ToolName {
		case "AskUserQuestion":
			var block claudeBlock
			block.Name = ev.ToolName
			block.Input = map[string]any{}
			if len(ev.ToolInput) > 0 {
				_ = json.Unmarshal(ev.ToolInput, &block.Input)
			}
			pctx := extractAskUserContext(block)
			return Sample{Tier: 1, State: agentstate.WithPrompt(pctx), Cause: "hook:prompt(question)"}, true
		case "ExitPlanMode":
			pctx := agentstate.PromptContext{Kind: agentstate.PlanPrompt, Ready: true}
			return Sample{Tier: 1, State: agentstate.WithPrompt(pctx), Cause: "hook:prompt(plan)"}, true
		case "EnterPlanMode":
			return Sample{Tier: 1, State: agentstate.Simple(agentstate.Working), Cause: "hook:working"}, true
		}
	}
	return Sample{}, false
}
