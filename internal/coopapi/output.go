package coopapi

import "github.com/groblegark/coop-sub001/internal/session"

// OutputResult is the result of ReadOutput: a replay window of ring
// buffer bytes plus the offsets needed to page through the rest.
type OutputResult struct {
	Data         []byte
	Offset       int64
	NextOffset   int64
	TotalWritten int64
}

// ReadOutput replays ring buffer bytes from offset, capped at limit bytes
// (0 means unlimited). If offset has already been trimmed out of the
// ring, it is clamped up to the oldest retained offset.
func ReadOutput(store *session.Store, offset int64, limit int) OutputResult {
	if oldest := store.Ring.OldestOffset(); offset < oldest {
		offset = oldest
	}

	first, second, ok := store.Ring.ReadFrom(offset)
	if !ok {
		total := store.Ring.TotalWritten()
		return OutputResult{Offset: offset, NextOffset: offset, TotalWritten: total}
	}

	data := append(first, second...)
	if limit > 0 && len(data) > limit {
		data = data[:limit]
	}

	return OutputResult{
		Data:         data,
		Offset:       offset,
		NextOffset:   offset + int64(len(data)),
		TotalWritten: store.Ring.TotalWritten(),
	}
}
