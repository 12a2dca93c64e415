package detect

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/groblegark/coop-sub001/internal/agentstate"
	"github.com/groblegark/coop-sub001/internal/screen"
)

// ScreenPatternConfig is the user-provided JSON configuration for screen
// pattern matching (per-agent, free-form).
type ScreenPatternConfig struct {
	PromptPattern    string   `json:"prompt_pattern"`
	WorkingPatterns  []string `json:"working_patterns"`
	ErrorPatterns    []string `json:"error_patterns"`
}

// ScreenPatterns are the compiled regexes behind a ScreenPatternConfig.
type ScreenPatterns struct {
	Prompt  *regexp.Regexp
	Working []*regexp.Regexp
	Error   []*regexp.Regexp
}

// CompileScreenConfig compiles a ScreenPatternConfig into ScreenPatterns.
func CompileScreenConfig(cfg ScreenPatternConfig) (ScreenPatterns, error) {
	var patterns ScreenPatterns
	if cfg.PromptPattern != "" {
		re, err := regexp.Compile(cfg.PromptPattern)
		if err != nil {
			return ScreenPatterns{}, err
		}
		patterns.Prompt = re
	}
	for _, p := range cfg.WorkingPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return ScreenPatterns{}, err
		}
		patterns.Working = append(patterns.Working, re)
	}
	for _, p := range cfg.ErrorPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return ScreenPatterns{}, err
		}
		patterns.Error = append(patterns.Error, re)
	}
	return patterns, nil
}

// ClassifyScreen applies the priority rule (§4.4 D5, ported line-for-line
// from the original screen-classifier test corpus — §9 open question
// explicitly says to preserve the heuristics rather than "complete" them):
// Error across all lines > Prompt on the last non-empty line > Working
// across all lines. Returns ok=false if nothing matches.
//
// Tool-permission dialogs are intentionally not classified here — D1
// covers them with richer context.
func ClassifyScreen(patterns ScreenPatterns, snap screen.Snapshot) (agentstate.State, bool) {
	for _, line := range snap.Lines {
		for _, pat := range patterns.Error {
			if pat.MatchString(line) {
				return agentstate.WithError(agentstate.ErrorInfo{Detail: line}), true
			}
		}
	}

	if patterns.Prompt != nil {
		if line, ok := lastNonEmpty(snap.Lines); ok {
			if patterns.Prompt.MatchString(line) {
				return agentstate.Simple(agentstate.WaitingForInput), true
			}
		}
	}

	for _, line := range snap.Lines {
		for _, pat := range patterns.Working {
			if pat.MatchString(line) {
				return agentstate.Simple(agentstate.Working), true
			}
		}
	}

	return agentstate.State{}, false
}

func lastNonEmpty(lines []string) (string, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i], true
		}
	}
	return "", false
}

// ScreenDetector is the tier-5 classifier (D5): runs on the screen
// snapshot at a poll interval and classifies by heuristic regex rules.
// Dedups: only emits when the classification changes from the previous
// tick.
type ScreenDetector struct {
	Patterns     ScreenPatterns
	Snapshot     func() screen.Snapshot
	PollInterval time.Duration
}

func (d *ScreenDetector) Tier() int { return 5 }

func (d *ScreenDetector) Run(ctx context.Context, out chan<- Sample) {
	interval := d.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastState *agentstate.State

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap := d.Snapshot()
		newState, matched := ClassifyScreen(d.Patterns, snap)

		if matched {
			if lastState == nil || !lastState.Equal(newState) {
				emit(ctx, out, Sample{Tier: 5, State: newState, Cause: "screen:classified"})
				s := newState
				lastState = &s
			}
		} else {
			lastState = nil
		}
	}
}
