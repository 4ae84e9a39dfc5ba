package types

import (
	"errors"
	"fmt"
	"time"
)

// CheckpointInfo captures the state of one externally-tracked work item at
// the moment a checkpoint was written. Checkpoint entries are append-only:
// each cycle writes fresh entries, forming a recoverable timeline, and no
// existing checkpoint is ever mutated or superseded in place.
type CheckpointInfo struct {
	WorkItemID     string           `json:"work_item_id"`     // ID of the tracked work item
	WorkItemStatus string           `json:"work_item_status"` // Status reported by the tracker
	Elapsed        time.Duration    `json:"elapsed"`          // Time since the item was started
	Reason         CheckpointReason `json:"reason"`           // Why this checkpoint was written
	Timestamp      time.Time        `json:"timestamp"`        // When the checkpoint was taken
}

// Validate checks that the checkpoint metadata is complete.
func (c *CheckpointInfo) Validate() error {
	if c.WorkItemID == "" {
		return errors.New("checkpoint work item id must not be empty")
	}
	if !IsValidCheckpointReason(c.Reason) {
		return fmt.Errorf("unknown checkpoint reason %q", c.Reason)
	}
	if c.Timestamp.IsZero() {
		return errors.New("checkpoint timestamp must not be zero")
	}
	if c.Elapsed < 0 {
		return fmt.Errorf("checkpoint elapsed time %s must not be negative", c.Elapsed)
	}
	return nil
}

// WorkItem is one active unit of work reported by an external task tracker.
// The engine only reads these; it never mutates tracker state.
type WorkItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Priority  string    `json:"priority"`
	StartedAt time.Time `json:"started_at"`
}
