package executor

import (
	"context"

	"github.com/mohammad-safakhou/contentpipe/internal/runstore"
)

type checkpointStore interface {
	SaveCheckpoint(ctx context.Context, cp runstore.Checkpoint) error
	Checkpoints(ctx context.Context, runID string) ([]runstore.Checkpoint, error)
}

// StoreCheckpointManager persists checkpoints using the run store.
type StoreCheckpointManager struct {
	store checkpointStore
}

// NewStoreCheckpointManager constructs a CheckpointManager backed by a run store.
func NewStoreCheckpointManager(st checkpointStore) *StoreCheckpointManager {
	return &StoreCheckpointManager{store: st}
}

func (m *StoreCheckpointManager) StartRun(ctx context.Context, runID string) error {
	// no-op: the run row is written by the workflow runner
	return nil
}

func (m *StoreCheckpointManager) Completed(ctx context.Context, runID string) (map[string]bool, error) {
	if m.store == nil {
		return nil, nil
	}
	cps, err := m.store.Checkpoints(ctx, runID)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(cps))
	for _, cp := range cps {
		if cp.Status == runstore.CheckpointCompleted {
			done[cp.TaskID] = true
		}
	}
	return done, nil
}

func (m *StoreCheckpointManager) save(ctx context.Context, runID string, task Task, status string, attempt int, err error) error {
	if m.store == nil {
		return nil
	}
	cp := runstore.Checkpoint{
		RunID:   runID,
		TaskID:  task.ID,
		Stage:   task.Stage,
		Status:  status,
		Attempt: attempt,
	}
	if cp.Stage == "" {
		cp.Stage = task.ID
	}
	if err != nil {
		cp.Error = err.Error()
	}
	return m.store.SaveCheckpoint(ctx, cp)
}

func (m *StoreCheckpointManager) SaveTaskStart(ctx context.Context, runID string, task Task, attempt int) error {
	return m.save(ctx, runID, task, runstore.CheckpointStarted, attempt, nil)
}

func (m *StoreCheckpointManager) SaveTaskSuccess(ctx context.Context, runID string, task Task, attempt int) error {
	return m.save(ctx, runID, task, runstore.CheckpointCompleted, attempt, nil)
}

func (m *StoreCheckpointManager) SaveTaskFailure(ctx context.Context, runID string, task Task, attempt int, err error) error {
	return m.save(ctx, runID, task, runstore.CheckpointFailed, attempt, err)
}

func (m *StoreCheckpointManager) SaveTaskSuspended(ctx context.Context, runID string, task Task, attempt int) error {
	return m.save(ctx, runID, task, runstore.CheckpointSuspended, attempt, nil)
}

var _ CheckpointManager = (*StoreCheckpointManager)(nil)
