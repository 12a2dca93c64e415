package coopapi

import (
	"github.com/groblegark/coop-sub001/internal/eventlog"
	"github.com/groblegark/coop-sub001/internal/session"
)

// CatchupEvents returns every state transition and hook event recorded
// after sinceSeq/sinceHookSeq, read from the session's event log. A
// reconnecting subscriber uses this to fill the gap between its last
// known sequence numbers and the live StateBus/hook stream, the same
// way ReadOutput fills the gap in the raw byte stream from the ring
// buffer.
func CatchupEvents(store *session.Store, sinceSeq, sinceHookSeq uint64) eventlog.CatchupResponse {
	return eventlog.CatchupResponse{
		StateEvents: store.Events.CatchupState(sinceSeq),
		HookEvents:  store.Events.CatchupHooks(sinceHookSeq),
	}
}
