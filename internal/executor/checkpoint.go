package executor

import "context"

// CheckpointManager persists executor progress to support resume semantics.
type CheckpointManager interface {
	StartRun(ctx context.Context, runID string) error
	// Completed returns the IDs of tasks that already finished for runID.
	Completed(ctx context.Context, runID string) (map[string]bool, error)
	SaveTaskStart(ctx context.Context, runID string, task Task, attempt int) error
	SaveTaskSuccess(ctx context.Context, runID string, task Task, attempt int) error
	SaveTaskFailure(ctx context.Context, runID string, task Task, attempt int, err error) error
	SaveTaskSuspended(ctx context.Context, runID string, task Task, attempt int) error
}

// NoopCheckpointManager is a default implementation that records nothing.
type NoopCheckpointManager struct{}

// NewNoopCheckpointManager returns a checkpoint manager that does nothing.
func NewNoopCheckpointManager() *NoopCheckpointManager { return &NoopCheckpointManager{} }

func (NoopCheckpointManager) StartRun(ctx context.Context, runID string) error { return nil }
func (NoopCheckpointManager) Completed(ctx context.Context, runID string) (map[string]bool, error) {
	return nil, nil
}
func (NoopCheckpointManager) SaveTaskStart(ctx context.Context, runID string, task Task, attempt int) error {
	return nil
}
func (NoopCheckpointManager) SaveTaskSuccess(ctx context.Context, runID string, task Task, attempt int) error {
	return nil
}
func (NoopCheckpointManager) SaveTaskFailure(ctx context.Context, runID string, task Task, attempt int, err error) error {
	return nil
}
func (NoopCheckpointManager) SaveTaskSuspended(ctx context.Context, runID string, task Task, attempt int) error {
	return nil
}
