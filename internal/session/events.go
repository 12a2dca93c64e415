package session

import (
	"github.com/groblegark/coop-sub001/internal/agentstate"
)

// InputEvent is something a consumer (API client) wants delivered to the
// backend or applied to the session. Drain is a separate request from
// Write: sending one and waiting for it to close acknowledges that every
// prior Write has flushed to the TTY discipline, the way paced delivery
// confirms one step landed before sleeping into the next.
type InputEvent struct {
	Write  []byte
	Resize *ResizeEvent
	Signal string // signal name, e.g. "INT", resolved via ptybackend.SignalFromName
	Drain  chan<- struct{}
}

// ResizeEvent carries a terminal resize request.
type ResizeEvent struct {
	Cols, Rows int
}

// OutputKind distinguishes the two flavors of OutputEvent.
type OutputKind int

const (
	OutputRaw OutputKind = iota
	OutputScreenUpdate
)

// OutputEvent is broadcast to attached consumers: either a raw PTY byte
// chunk (with its ring buffer offset stamped) or a screen-changed
// notification carrying the screen model's sequence number.
type OutputEvent struct {
	Kind   OutputKind
	Data   []byte
	Offset int64
	Seq    uint64
}

// TransitionEvent is broadcast on every accepted state change (including
// zero-length causes for the terminal Exited transition).
type TransitionEvent struct {
	Prev        agentstate.State
	Next        agentstate.State
	Seq         uint64
	Cause       string
	LastMessage string
}

// PromptOutcome records how a prompt was ultimately resolved, whether by
// an API client or by auto-dismiss grooming.
type PromptOutcome struct {
	Source  string // "client" or "groom"
	Kind    string
	Subtype string
	Option  *int
}
