package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status represents the lifecycle of a task.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Task is one deferred unit of background work.
type Task struct {
	ID        int64
	Kind      string
	Key       string
	Payload   json.RawMessage
	Status    Status
	Attempts  int
	RunAt     time.Time
	LastError string
	ClaimedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Decode unmarshals the task payload into dest.
func (t *Task) Decode(dest any) error {
	if len(t.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload, dest); err != nil {
		return fmt.Errorf("decode %s payload: %w", t.Kind, err)
	}
	return nil
}

// Stats counts tasks by status.
type Stats struct {
	Pending int
	Running int
	Done    int
	Failed  int
}

// Total returns the number of tasks across all statuses.
func (s Stats) Total() int {
	return s.Pending + s.Running + s.Done + s.Failed
}
