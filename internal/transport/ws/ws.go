// Package ws is the WebSocket transport adapter for a session: a single
// persistent connection multiplexes output streaming, state-change
// notifications, and client-issued input/nudge/respond commands over
// one socket. Ported from original_source transport/ws_tests.rs (the
// ws.rs implementation itself was filtered from the retrieval pack; the
// client/server message shapes below are reconstructed from its
// serialization assertions).
package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/groblegark/coop-sub001/internal/coopapi"
	"github.com/groblegark/coop-sub001/internal/session"
)

// wsCode renders an ErrorCode in the WebSocket protocol's SCREAMING_SNAKE
// convention (distinct from the HTTP transport's lowercase JSON codes).
func wsCode(code coopapi.ErrorCode) string {
	return strings.ToUpper(code.String())
}

// ClientMessage is the discriminated-union shape of every message a
// WebSocket client may send, decoded generically and dispatched on Type.
type ClientMessage struct {
	Type    string                            `json:"type"`
	Text    string                            `json:"text,omitempty"`
	Data    string                            `json:"data,omitempty"`
	Keys    []string                          `json:"keys,omitempty"`
	Cols    int                               `json:"cols,omitempty"`
	Rows    int                               `json:"rows,omitempty"`
	Message string                            `json:"message,omitempty"`
	Accept  *bool                             `json:"accept,omitempty"`
	Option  *int                              `json:"option,omitempty"`
	Answers []coopapi.TransportQuestionAnswer `json:"answers,omitempty"`
	Offset  int64                             `json:"offset,omitempty"`
	Action  string                            `json:"action,omitempty"`
	Token   string                            `json:"token,omitempty"`

	SinceSeq     uint64 `json:"since_seq,omitempty"`
	SinceHookSeq uint64 `json:"since_hook_seq,omitempty"`
}

// ServerMessage is the discriminated-union shape of every message coop
// sends to a WebSocket client. Fields irrelevant to Type are omitted by
// the zero-value omitempty tags.
type ServerMessage struct {
	Type    string          `json:"type"`
	Data    string          `json:"data,omitempty"`
	Offset  int64           `json:"offset,omitempty"`
	Prev    string          `json:"prev,omitempty"`
	Next    string          `json:"next,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
	Prompt  json.RawMessage `json:"prompt,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Signal  string          `json:"signal,omitempty"`
	ExitNum *int            `json:"exit_code,omitempty"`
}

func pong() ServerMessage                { return ServerMessage{Type: "pong"} }
func errMsg(code, msg string) ServerMessage {
	return ServerMessage{Type: "error", Code: code, Message: msg}
}

// writeLock is a single-writer coordinator: only one connected client may
// hold it at a time, so concurrent browser tabs cannot race input.
type writeLock struct {
	holder atomic.Value // string
}

func (l *writeLock) acquire(clientID string) bool {
	if cur, ok := l.holder.Load().(string); ok && cur != "" && cur != clientID {
		return false
	}
	l.holder.Store(clientID)
	return true
}

func (l *writeLock) release(clientID string) {
	if cur, ok := l.holder.Load().(string); ok && cur == clientID {
		l.holder.Store("")
	}
}

// Deps bundles the session store and connection bookkeeping the handler
// needs.
type Deps struct {
	Store       *session.Store
	Lock        *writeLock
	ClientCount *atomic.Int32
}

// NewDeps builds Deps around a fresh write lock and client counter.
func NewDeps(store *session.Store) *Deps {
	return &Deps{Store: store, Lock: &writeLock{}, ClientCount: &atomic.Int32{}}
}

// Handler upgrades the connection and runs the per-client event loop
// until the client disconnects or the context is canceled.
func (d *Deps) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	d.ClientCount.Add(1)
	defer d.ClientCount.Add(-1)

	clientID := r.RemoteAddr
	ctx := r.Context()
	defer conn.Close(websocket.StatusNormalClosure, "")
	defer d.Lock.release(clientID)

	outputCh, cancelOutput := d.Store.OutputBus.Subscribe(32)
	defer cancelOutput()
	stateCh, cancelState := d.Store.StateBus.Subscribe(8)
	defer cancelState()

	done := make(chan struct{})
	go d.readLoop(ctx, conn, clientID, done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case ev, ok := <-outputCh:
			if !ok {
				return
			}
			if ev.Kind != session.OutputRaw {
				continue
			}
			msg := ServerMessage{Type: "output", Data: base64.StdEncoding.EncodeToString(ev.Data), Offset: ev.Offset}
			if writeJSON(ctx, conn, msg) != nil {
				return
			}
		case ev, ok := <-stateCh:
			if !ok {
				return
			}
			msg := ServerMessage{Type: "state_change", Prev: ev.Prev.Kind.String(), Next: ev.Next.Kind.String(), Seq: ev.Seq}
			if writeJSON(ctx, conn, msg) != nil {
				return
			}
		}
	}
}

// readLoop decodes and dispatches client messages, closing done when the
// connection ends.
func (d *Deps) readLoop(ctx context.Context, conn *websocket.Conn, clientID string, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = writeJSON(ctx, conn, errMsg("BAD_REQUEST", "invalid JSON"))
			continue
		}
		reply := d.handle(msg, clientID)
		if reply != nil {
			if writeJSON(ctx, conn, *reply) != nil {
				return
			}
		}
	}
}

// handle dispatches one decoded client message, mirroring
// handle_client_message's contract: nil means success-with-no-reply.
func (d *Deps) handle(msg ClientMessage, clientID string) *ServerMessage {
	switch msg.Type {
	case "ping":
		r := pong()
		return &r

	case "input":
		if _, err := coopapi.HandleInput(d.Store, msg.Text, false); err != nil {
			r := errMsg(wsCode(err.Code), err.Message)
			return &r
		}
		return nil

	case "input_raw":
		decoded, decErr := base64.StdEncoding.DecodeString(msg.Data)
		if decErr != nil {
			r := errMsg("BAD_REQUEST", "invalid base64 data")
			return &r
		}
		if _, err := coopapi.HandleInputRaw(d.Store, decoded); err != nil {
			r := errMsg(wsCode(err.Code), err.Message)
			return &r
		}
		return nil

	case "keys":
		if _, err := coopapi.HandleKeys(d.Store, msg.Keys); err != nil {
			r := errMsg(wsCode(err.Code), err.Message)
			return &r
		}
		return nil

	case "resize":
		if err := coopapi.HandleResize(d.Store, msg.Cols, msg.Rows); err != nil {
			r := errMsg("BAD_REQUEST", err.Message)
			return &r
		}
		return nil

	case "screen_request":
		snap := d.Store.Screen.Snapshot()
		data, _ := json.Marshal(snap)
		r := ServerMessage{Type: "screen", Data: string(data)}
		return &r

	case "state_request":
		data, _ := json.Marshal(d.Store.AgentState())
		r := ServerMessage{Type: "state", Data: string(data)}
		return &r

	case "nudge":
		if !d.Lock.acquire(clientID) {
			r := errMsg("WRITER_BUSY", "another client holds the write lock")
			return &r
		}
		outcome, err := coopapi.HandleNudge(d.Store, msg.Message)
		if err != nil {
			r := errMsg(wsCode(err.Code), err.Message)
			return &r
		}
		if !outcome.Delivered {
			r := errMsg("AGENT_BUSY", outcome.Reason)
			return &r
		}
		return nil

	case "respond":
		outcome, err := coopapi.HandleRespond(d.Store, msg.Accept, msg.Option, nil, msg.Answers)
		if err != nil {
			r := errMsg(wsCode(err.Code), err.Message)
			return &r
		}
		if !outcome.Delivered {
			r := errMsg("NO_ACTIVE_PROMPT", outcome.Reason)
			return &r
		}
		return nil

	case "replay":
		res := coopapi.ReadOutput(d.Store, msg.Offset, 0)
		r := ServerMessage{Type: "output", Data: base64.StdEncoding.EncodeToString(res.Data), Offset: res.Offset}
		return &r

	case "catchup":
		resp := coopapi.CatchupEvents(d.Store, msg.SinceSeq, msg.SinceHookSeq)
		data, _ := json.Marshal(resp)
		r := ServerMessage{Type: "catchup", Data: string(data)}
		return &r

	case "lock":
		switch msg.Action {
		case "acquire":
			if !d.Lock.acquire(clientID) {
				r := errMsg("WRITER_BUSY", "write lock already held")
				return &r
			}
		case "release":
			d.Lock.release(clientID)
		}
		return nil

	case "auth":
		// This adapter performs no token validation, before or after the
		// upgrade; a client-side auth message is accepted as a no-op ack.
		return nil

	default:
		r := errMsg("BAD_REQUEST", "unknown message type: "+msg.Type)
		return &r
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
