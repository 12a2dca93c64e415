package detect

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/groblegark/coop-sub001/internal/logger"
)

// StdoutDetector is the tier-3 structured stdout detector (D3): an
// incremental newline-delimited JSON parser fed raw PTY bytes, classifying
// each parsed entry the same way D2 does.
type StdoutDetector struct {
	Input       <-chan []byte
	LastMessage *LastMessageCell

	buf bytes.Buffer
}

func (d *StdoutDetector) Tier() int { return 3 }

func (d *StdoutDetector) Run(ctx context.Context, out chan<- Sample) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-d.Input:
			if !ok {
				return
			}
			d.feed(ctx, data, out)
		}
	}
}

// feed appends data to the internal accumulator and classifies every
// complete newline-terminated JSON object found so far.
func (d *StdoutDetector) feed(ctx context.Context, data []byte, out chan<- Sample) {
	d.buf.Write(data)
	for {
		b := d.buf.Bytes()
		idx := bytes.IndexByte(b, '\n')
		if idx < 0 {
			break
		}
		line := append([]byte(nil), b[:idx]...)
		rest := append([]byte(nil), b[idx+1:]...)
		d.buf.Reset()
		d.buf.Write(rest)

		d.classify(ctx, line, out)
	}
}

func (d *StdoutDetector) classify(ctx context.Context, line []byte, out chan<- Sample) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return
	}
	var entry claudeEntry
	if err := json.Unmarshal(trimmed, &entry); err != nil {
		logger.Debug("stdout detector: non-JSON line skipped")
		return
	}
	if d.LastMessage != nil {
		if text, ok := extractAssistantText(entry); ok {
			d.LastMessage.Set(text)
		}
	}
	state, ok := parseClaudeState(entry)
	if !ok {
		return
	}
	emit(ctx, out, Sample{Tier: 3, State: state, Cause: formatClaudeCause(entry, "stdout")})
}
