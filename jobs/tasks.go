package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuthzSnapshotWarmup pre-populates authorization snapshot
	// caches for active (subject, institution) pairs.
	TaskAuthzSnapshotWarmup = "authz:snapshot_warmup"
	// TaskSessionSweep removes expired primary-account session rows.
	TaskSessionSweep = "identity:session_sweep"
)

// SnapshotWarmupPayload scopes a warmup run. An empty institution id
// warms every institution with grants.
type SnapshotWarmupPayload struct {
	InstitutionID string `json:"institution_id,omitempty"`
}

// NewSnapshotWarmupTask constructs an Asynq task.
func NewSnapshotWarmupTask(payload SnapshotWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuthzSnapshotWarmup, data), nil
}

// NewSessionSweepTask constructs an Asynq task.
func NewSessionSweepTask() *asynq.Task {
	return asynq.NewTask(TaskSessionSweep, nil)
}
