package pipelines

import (
	"log/slog"
	"sync/atomic"
)

// Cursor is the change id to resume from. 0 means no cursor yet.
type Cursor struct {
	value atomic.Int64
}

func (c *Cursor) Value() int64 {
	return c.value.Load()
}

// Advance moves the cursor forward. A lower id is ignored.
func (c *Cursor) Advance(changeID int64) bool {
	current := c.value.Load()
	if changeID < current {
		slog.Warn("ignoring change id lower than cursor", "cursor", current, "change_id", changeID)
		return false
	}
	c.value.Store(changeID)
	return changeID != current
}
