package coopapi

import "github.com/groblegark/coop-sub001/internal/transcript"

// TranscriptSummary is the wire-agnostic shape for one listed transcript.
type TranscriptSummary struct {
	Number    uint32
	Timestamp string
	LineCount uint64
	ByteSize  int64
}

func toTranscriptSummaries(metas []transcript.Meta) []TranscriptSummary {
	out := make([]TranscriptSummary, len(metas))
	for i, m := range metas {
		out[i] = TranscriptSummary{Number: m.Number, Timestamp: m.Timestamp, LineCount: m.LineCount, ByteSize: m.ByteSize}
	}
	return out
}

// ListTranscripts returns metadata for every saved transcript snapshot.
func ListTranscripts(state *transcript.State) []TranscriptSummary {
	return toTranscriptSummaries(state.List())
}

// GetTranscript returns the raw JSONL content of one saved transcript.
func GetTranscript(state *transcript.State, number uint32) (string, *Error) {
	content, err := state.GetContent(number)
	if err != nil {
		return "", newError(NotFound, err.Error())
	}
	return content, nil
}

// CatchupTranscripts returns every transcript saved after sinceTranscript
// plus the live session log's lines after sinceLine, for a client
// reconnecting after a gap.
func CatchupTranscripts(state *transcript.State, sinceTranscript uint32, sinceLine uint64) transcript.CatchupResponse {
	return state.Catchup(sinceTranscript, sinceLine)
}
