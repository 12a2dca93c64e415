package detect

import "sync/atomic"

// LastMessageCell holds the last assistant text extracted from the
// session log or stdout stream. It bypasses the detector→composite
// pipeline entirely (§4.4 D2): transitions carry it by value at
// broadcast time, but the cell is where detectors deposit it.
type LastMessageCell struct {
	v atomic.Value // string
}

// Set stores a new last-message value.
func (c *LastMessageCell) Set(s string) { c.v.Store(s) }

// Get returns the current value, or "" if never set.
func (c *LastMessageCell) Get() string {
	v := c.v.Load()
	if v == nil {
		return ""
	}
	return v.(string)
}
