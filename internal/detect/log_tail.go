package detect

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/groblegark/coop-sub001/internal/logger"
)

// logTailDebounce coalesces bursts of writes to the session log into a
// single re-read, the way drivesync's Watcher debounces filesystem events
// before acting — here applied to a single file instead of a directory
// tree, since we only ever watch one session log.
const logTailDebounce = 50 * time.Millisecond

// LogTailDetector is the tier-2 session-log tail detector (D2): it watches
// the agent's JSONL session log from a start offset (for resume) and
// classifies each new line with the shared Claude JSONL parser.
type LogTailDetector struct {
	Path        string
	StartOffset int64
	LastMessage *LastMessageCell
}

func (d *LogTailDetector) Tier() int { return 2 }

func (d *LogTailDetector) Run(ctx context.Context, out chan<- Sample) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Debug("log tail detector: fsnotify init failed", "err", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(d.Path); err != nil {
		logger.Debug("log tail detector: watch failed", "path", d.Path, "err", err)
		return
	}

	offset := d.StartOffset
	offset = d.drain(ctx, offset, out)

	var debounce *time.Timer
	pending := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(logTailDebounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})

		case <-pending:
			offset = d.drain(ctx, offset, out)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Debug("log tail detector: watch error", "err", err)
		}
	}
}

// drain reads and classifies every complete line appended since offset,
// returning the new offset.
func (d *LogTailDetector) drain(ctx context.Context, offset int64, out chan<- Sample) int64 {
	f, err := os.Open(d.Path)
	if err != nil {
		return offset
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset
	}

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 && (err == nil || err == io.EOF) {
			// Only count a line as consumed once it's newline-terminated;
			// a trailing partial line is re-read on the next drain.
			if err == nil {
				offset += int64(len(line))
				d.classify(ctx, line, out)
			}
		}
		if err != nil {
			break
		}
	}
	return offset
}

func (d *LogTailDetector) classify(ctx context.Context, line []byte, out chan<- Sample) {
	var entry claudeEntry
	if err := json.Unmarshal(line, &entry); err != nil {
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
	emit(ctx, out, Sample{Tier: 2, State: state, Cause: formatClaudeCause(entry, "log")})
}
