// Package transcript implements numbered session-log snapshots saved
// pre-compaction (supplemented from spec.md's distillation, ported from
// original_source transcript.rs). When an agent compacts its context
// window the prior conversation would otherwise be unrecoverable, so
// coop copies the JSONL session log aside as "<N>.jsonl" before each
// compaction; clients can list, fetch, and catch up from these
// snapshots plus the live tail of the current log.
package transcript

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/groblegark/coop-sub001/internal/session"
)

// Meta is the metadata for a single saved snapshot.
type Meta struct {
	Number    uint32
	Timestamp string
	LineCount uint64
	ByteSize  int64
}

// Event is broadcast whenever a new snapshot is saved.
type Event struct {
	Number    uint32
	Timestamp string
	LineCount uint64
	Seq       uint64
}

// CatchupTranscript is one full transcript returned by Catchup.
type CatchupTranscript struct {
	Number    uint32
	Timestamp string
	Lines     []string
}

// CatchupResponse is the result of Catchup: every transcript saved after
// the requested one, plus the live tail of the current session log.
type CatchupResponse struct {
	Transcripts        []CatchupTranscript
	LiveLines          []string
	CurrentTranscript  uint32
	CurrentLine        uint64
}

// State is the runtime state for the transcript snapshot system, rooted
// at a transcripts directory alongside an optional live session log.
type State struct {
	dir         string
	sessionLog  string // "" disables SaveSnapshot/live-tail
	mu          sync.RWMutex
	transcripts []Meta
	Bus         *session.Broadcaster[Event]
	seq         atomic.Uint64
	nextNumber  atomic.Uint32
}

// New scans dir for existing "<N>.jsonl" snapshots (supporting resume
// across restarts) and returns a State ready to save further ones.
// sessionLog is the live JSONL log to snapshot from and tail; "" disables
// both (e.g. attach mode with no backing log file).
func New(dir, sessionLog string) (*State, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("transcript: create dir: %w", err)
	}

	var existing []Meta
	entries, _ := os.ReadDir(dir)
	for _, entry := range entries {
		numStr, ok := strings.CutSuffix(entry.Name(), ".jsonl")
		if !ok {
			continue
		}
		num, err := strconv.ParseUint(numStr, 10, 32)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		lineCount, _ := countLines(filepath.Join(dir, entry.Name()))
		existing = append(existing, Meta{
			Number:    uint32(num),
			Timestamp: unixTimestampString(info.ModTime()),
			LineCount: lineCount,
			ByteSize:  info.Size(),
		})
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i].Number < existing[j].Number })

	next := uint32(1)
	if len(existing) > 0 {
		next = existing[len(existing)-1].Number + 1
	}

	s := &State{dir: dir, sessionLog: sessionLog, transcripts: existing, Bus: session.NewBroadcaster[Event]()}
	s.nextNumber.Store(next)
	return s, nil
}

// SaveSnapshot copies the current session log aside as the next numbered
// transcript and broadcasts an Event on Bus.
func (s *State) SaveSnapshot() (Meta, error) {
	if s.sessionLog == "" {
		return Meta{}, fmt.Errorf("transcript: no session log path configured")
	}

	number := s.nextNumber.Add(1) - 1
	dest := filepath.Join(s.dir, fmt.Sprintf("%d.jsonl", number))

	if err := copyFile(s.sessionLog, dest); err != nil {
		return Meta{}, fmt.Errorf("transcript: save snapshot: %w", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return Meta{}, fmt.Errorf("transcript: stat snapshot: %w", err)
	}
	lineCount, _ := countLines(dest)
	timestamp := unixTimestampString(time.Now())

	meta := Meta{Number: number, Timestamp: timestamp, LineCount: lineCount, ByteSize: info.Size()}

	s.mu.Lock()
	s.transcripts = append(s.transcripts, meta)
	s.mu.Unlock()

	seq := s.seq.Add(1) - 1
	s.Bus.Publish(Event{Number: number, Timestamp: timestamp, LineCount: lineCount, Seq: seq})

	return meta, nil
}

// List returns metadata for every saved transcript.
func (s *State) List() []Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Meta, len(s.transcripts))
	copy(out, s.transcripts)
	return out
}

// GetContent returns the raw JSONL content of a transcript by number.
func (s *State) GetContent(number uint32) (string, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("%d.jsonl", number))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("transcript %d not found: %w", number, err)
	}
	return string(data), nil
}

// Catchup returns every transcript saved after sinceTranscript, plus the
// live session log's lines after sinceLine.
func (s *State) Catchup(sinceTranscript uint32, sinceLine uint64) CatchupResponse {
	s.mu.RLock()
	all := make([]Meta, len(s.transcripts))
	copy(all, s.transcripts)
	s.mu.RUnlock()

	var transcripts []CatchupTranscript
	for _, meta := range all {
		if meta.Number <= sinceTranscript {
			continue
		}
		content, _ := os.ReadFile(filepath.Join(s.dir, fmt.Sprintf("%d.jsonl", meta.Number)))
		transcripts = append(transcripts, CatchupTranscript{
			Number:    meta.Number,
			Timestamp: meta.Timestamp,
			Lines:     splitLines(content),
		})
	}

	currentTranscript := s.nextNumber.Load()
	if currentTranscript > 0 {
		currentTranscript--
	}

	var liveLines []string
	var currentLine uint64
	if s.sessionLog != "" {
		if content, err := os.ReadFile(s.sessionLog); err == nil {
			lines := splitLines(content)
			currentLine = uint64(len(lines))
			if sinceLine < currentLine {
				liveLines = lines[sinceLine:]
			}
		}
	}

	return CatchupResponse{
		Transcripts:       transcripts,
		LiveLines:         liveLines,
		CurrentTranscript: currentTranscript,
		CurrentLine:       currentLine,
	}
}

func splitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	text := strings.TrimRight(string(content), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func unixTimestampString(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func countLines(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var n uint64
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
