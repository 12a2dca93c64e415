package coopapi

import (
	"github.com/groblegark/coop-sub001/internal/ptybackend"
	"github.com/groblegark/coop-sub001/internal/session"
)

// HandleInput writes text to the PTY, optionally followed by a carriage
// return, and returns the byte count written.
func HandleInput(store *session.Store, text string, enter bool) (int, *Error) {
	data := []byte(text)
	if enter {
		data = append(data, '\r')
	}
	return HandleInputRaw(store, data)
}

// HandleInputRaw writes raw bytes to the PTY and returns the byte count.
func HandleInputRaw(store *session.Store, data []byte) (int, *Error) {
	if store.InputTx == nil {
		return 0, newError(Internal, "session input channel is unavailable")
	}
	store.InputTx <- session.InputEvent{Write: data}
	return len(data), nil
}

// HandleKeys translates named key sequences (Enter, Tab, Ctrl-C, ...)
// into raw bytes and writes them to the PTY.
func HandleKeys(store *session.Store, keys []string) (int, *Error) {
	return HandleInputRaw(store, keysToBytes(keys))
}

// HandleResize resizes the PTY and the local screen model together.
func HandleResize(store *session.Store, cols, rows int) *Error {
	if cols <= 0 || rows <= 0 {
		return newError(BadRequest, "cols and rows must be positive")
	}
	if store.InputTx == nil {
		return newError(Internal, "session input channel is unavailable")
	}
	store.InputTx <- session.InputEvent{Resize: &session.ResizeEvent{Cols: cols, Rows: rows}}
	return nil
}

// HandleSignal sends a named signal (SIGINT, SIGTERM, ...) to the
// session's child process group.
func HandleSignal(store *session.Store, name string) *Error {
	if _, ok := ptybackend.SignalFromName(name); !ok {
		return newError(BadRequest, "unknown signal: "+name)
	}
	if store.InputTx == nil {
		return newError(Internal, "session input channel is unavailable")
	}
	store.InputTx <- session.InputEvent{Signal: name}
	return nil
}
