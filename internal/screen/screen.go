// Package screen wraps a virtual-terminal emulator to produce the
// line/ANSI snapshots the composite detector's screen classifier and the
// screen() handler operation consume.
package screen

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

const maxScrollbackLines = 50000

// Cursor is a 0-based row/col position as reported by the emulator.
type Cursor struct {
	Row int
	Col int
}

// Snapshot is the frozen view returned by Model.Snapshot: plain-text
// lines, per-line ANSI-escaped strings, dimensions, alt-screen flag,
// cursor, and a monotonic sequence that increments on any semantic
// change (used for debounced broadcast, §4.2).
type Snapshot struct {
	Lines     []string
	ANSI      []string
	Cols      int
	Rows      int
	AltScreen bool
	Cursor    Cursor
	Seq       uint64
}

var ansiRE = regexp.MustCompile("\x1b\\[[0-9;?]*[a-zA-Z]")

func stripANSI(s string) string {
	return ansiRE.ReplaceAllString(s, "")
}

// Model is the screen model component (B). feed(bytes) advances the
// emulator and bumps seq on every call; resize(cols,rows) replaces the
// grid and bumps seq too.
type Model struct {
	emu *vt.Emulator

	scrollback []string
	sbHead     int
	sbLen      int

	mu           sync.Mutex
	altScreen    bool
	cursorHidden bool
	cols, rows   int
	seq          uint64
	changed      bool
}

// New creates a screen model with the given dimensions.
func New(cols, rows int) *Model {
	m := &Model{
		emu:        vt.NewEmulator(cols, rows),
		scrollback: make([]string, maxScrollbackLines),
		cols:       cols,
		rows:       rows,
	}
	m.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			if m.altScreen {
				return
			}
			for _, line := range lines {
				rendered := line.Render()
				if m.sbLen == len(m.scrollback) {
					m.scrollback[m.sbHead] = ""
				}
				m.scrollback[m.sbHead] = rendered
				m.sbHead = (m.sbHead + 1) % len(m.scrollback)
				if m.sbLen < len(m.scrollback) {
					m.sbLen++
				}
			}
		},
		ScrollbackClear: func() {
			for i := range m.scrollback {
				m.scrollback[i] = ""
			}
			m.sbLen = 0
			m.sbHead = 0
		},
		AltScreen: func(on bool) {
			m.altScreen = on
		},
		CursorVisibility: func(visible bool) {
			m.cursorHidden = !visible
		},
	})
	return m
}

// Feed advances the emulator with raw PTY bytes and marks the screen
// changed so the next debounce tick broadcasts an update.
func (m *Model) Feed(p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emu.Write(p)
	m.changed = true
	m.seq++
}

// Resize replaces the grid dimensions.
func (m *Model) Resize(cols, rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emu.Resize(cols, rows)
	m.cols, m.rows = cols, rows
	m.changed = true
	m.seq++
}

// Changed reports and clears the change flag — called from the session
// loop's debounce tick (§4.6 arm 4).
func (m *Model) Changed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.changed
	m.changed = false
	return c
}

// Snapshot returns a frozen view of the current screen. seq advances only
// with Feed and Resize, so subscribers can dedup repeated snapshots.
func (m *Model) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	rendered := m.emu.Render()
	rows := strings.Split(rendered, "\n")
	ansiLines := make([]string, 0, m.rows)
	plainLines := make([]string, 0, m.rows)
	for i := 0; i < m.rows; i++ {
		if i < len(rows) {
			ansiLines = append(ansiLines, rows[i])
			plainLines = append(plainLines, stripANSI(rows[i]))
		} else {
			ansiLines = append(ansiLines, "")
			plainLines = append(plainLines, "")
		}
	}

	pos := m.emu.CursorPosition()

	return Snapshot{
		Lines:     plainLines,
		ANSI:      ansiLines,
		Cols:      m.cols,
		Rows:      m.rows,
		AltScreen: m.altScreen,
		Cursor:    Cursor{Row: pos.Y, Col: pos.X},
		Seq:       m.seq,
	}
}

// Replay renders a full reconnect payload: scrollback + grid repaint +
// cursor restore, valid ANSI any terminal can consume directly.
func (m *Model) Replay() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var buf strings.Builder
	lines := m.scrollbackLines()
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}
	if len(lines) > 0 {
		for i := 0; i < m.rows-1; i++ {
			buf.WriteByte('\n')
		}
	}
	buf.WriteString("\x1b[m\x1b[H")
	buf.WriteString(m.emu.Render())

	pos := m.emu.CursorPosition()
	fmt.Fprintf(&buf, "\x1b[%d;%dH", pos.Y+1, pos.X+1)

	if m.cursorHidden {
		buf.WriteString("\x1b[?25l")
	} else {
		buf.WriteString("\x1b[?25h")
	}
	return []byte(buf.String())
}

// ScrollbackLen returns the number of scrollback lines currently stored.
func (m *Model) ScrollbackLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sbLen
}

// Close releases emulator resources.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emu.Close()
}

func (m *Model) scrollbackLines() []string {
	if m.sbLen == 0 {
		return nil
	}
	lines := make([]string, m.sbLen)
	start := (m.sbHead - m.sbLen + len(m.scrollback)) % len(m.scrollback)
	for i := 0; i < m.sbLen; i++ {
		lines[i] = m.scrollback[(start+i)%len(m.scrollback)]
	}
	return lines
}
