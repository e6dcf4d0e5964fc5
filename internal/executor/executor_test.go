package executor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/goleak"

	"github.com/mohammad-safakhou/contentpipe/internal/runstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubCheckpoint struct {
	mu       sync.Mutex
	startErr error
	done     map[string]bool
	events   []string
}

func (s *stubCheckpoint) record(e string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *stubCheckpoint) StartRun(ctx context.Context, runID string) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.record("start:" + runID)
	return nil
}

func (s *stubCheckpoint) Completed(ctx context.Context, runID string) (map[string]bool, error) {
	return s.done, nil
}

func (s *stubCheckpoint) SaveTaskStart(ctx context.Context, runID string, task Task, attempt int) error {
	s.record(fmt.Sprintf("task_start:%s:%d", task.ID, attempt))
	return nil
}

func (s *stubCheckpoint) SaveTaskSuccess(ctx context.Context, runID string, task Task, attempt int) error {
	s.record(fmt.Sprintf("task_success:%s:%d", task.ID, attempt))
	return nil
}

func (s *stubCheckpoint) SaveTaskFailure(ctx context.Context, runID string, task Task, attempt int, err error) error {
	s.record(fmt.Sprintf("task_failure:%s:%d", task.ID, attempt))
	return nil
}

func (s *stubCheckpoint) SaveTaskSuspended(ctx context.Context, runID string, task Task, attempt int) error {
	s.record(fmt.Sprintf("task_suspended:%s:%d", task.ID, attempt))
	return nil
}

type stubRunner struct {
	mu     sync.Mutex
	calls  []string
	err    error
	errors []error
	index  int
}

func (s *stubRunner) RunTask(ctx context.Context, runID string, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, task.ID)
	if s.index < len(s.errors) {
		err := s.errors[s.index]
		s.index++
		return err
	}
	return s.err
}

func TestExecuteRespectsDependencies(t *testing.T) {
	exec := New()
	graph := Graph{Tasks: map[string]Task{
		"t1": {ID: "t1"},
		"t2": {ID: "t2", DependsOn: []string{"t1"}},
		"t3": {ID: "t3", DependsOn: []string{"t2"}},
	}}

	order, err := exec.Execute(context.Background(), "run", graph, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fmt.Sprint(order) != "[t1 t2 t3]" {
		t.Fatalf("dependency order incorrect: %v", order)
	}
}

func TestLevelsGroupsSiblings(t *testing.T) {
	graph := Graph{Tasks: map[string]Task{
		"script":   {ID: "script"},
		"thumbs":   {ID: "thumbs", DependsOn: []string{"script"}},
		"captions": {ID: "captions", DependsOn: []string{"script"}},
		"voice":    {ID: "voice", DependsOn: []string{"thumbs", "captions"}},
	}}
	levels, err := graph.Levels()
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}
	if fmt.Sprint(levels) != "[[script] [captions thumbs] [voice]]" {
		t.Fatalf("unexpected levels: %v", levels)
	}
}

func TestExecuteDetectsUnknownDependency(t *testing.T) {
	exec := New()
	graph := Graph{Tasks: map[string]Task{
		"t1": {ID: "t1", DependsOn: []string{"missing"}},
	}}

	if _, err := exec.Execute(context.Background(), "run", graph, nil); err == nil || !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("expected unknown dependency error, got %v", err)
	}
}

func TestExecuteDetectsCycleBeforeRunning(t *testing.T) {
	run := &stubRunner{}
	exec := New()
	graph := Graph{Tasks: map[string]Task{
		"t0": {ID: "t0"},
		"t1": {ID: "t1", DependsOn: []string{"t0", "t2"}},
		"t2": {ID: "t2", DependsOn: []string{"t1"}},
	}}

	if _, err := exec.Execute(context.Background(), "run", graph, run); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if len(run.calls) != 0 {
		t.Fatalf("no task should run for a cyclic graph, got %v", run.calls)
	}
}

func TestExecutorOptionSetsCheckpointManager(t *testing.T) {
	stub := &stubCheckpoint{}
	exec := New(WithCheckpointManager(stub))
	if exec.checkpoints != stub {
		t.Fatalf("expected checkpoint manager to be set")
	}
}

func TestExecutorInvokesRunnerAndCheckpoints(t *testing.T) {
	chk := &stubCheckpoint{}
	run := &stubRunner{}
	exec := New(WithCheckpointManager(chk))
	graph := Graph{Tasks: map[string]Task{
		"t1": {ID: "t1"},
	}}

	order, err := exec.Execute(context.Background(), "run-1", graph, run)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(order) != 1 || order[0] != "t1" {
		t.Fatalf("unexpected order: %v", order)
	}
	if len(run.calls) != 1 || run.calls[0] != "t1" {
		t.Fatalf("runner not invoked correctly: %v", run.calls)
	}
	if len(chk.events) != 3 {
		t.Fatalf("expected checkpoint events, got %v", chk.events)
	}
	if chk.events[1] != "task_start:t1:0" || chk.events[2] != "task_success:t1:0" {
		t.Fatalf("unexpected checkpoint events: %v", chk.events)
	}
}

func TestExecutorReturnsRunnerError(t *testing.T) {
	chk := &stubCheckpoint{}
	run := &stubRunner{err: errors.New("boom")}
	exec := New(WithCheckpointManager(chk))
	graph := Graph{Tasks: map[string]Task{"t1": {ID: "t1"}}}

	if _, err := exec.Execute(context.Background(), "run-1", graph, run); err == nil {
		t.Fatalf("expected runner error")
	}
	if len(chk.events) < 3 || chk.events[1] != "task_start:t1:0" || chk.events[2] != "task_failure:t1:1" {
		t.Fatalf("expected failure events: %v", chk.events)
	}
}

func TestExecutorRunsLevelConcurrently(t *testing.T) {
	var (
		inFlight int32
		peak     int32
		release  = make(chan struct{})
		started  = make(chan struct{}, 2)
	)
	runner := TaskRunnerFunc(func(ctx context.Context, runID string, task Task) error {
		if task.ID == "root" {
			return nil
		}
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		started <- struct{}{}
		<-release
		atomic.AddInt32(&inFlight, -1)
		return nil
	})
	graph := Graph{Tasks: map[string]Task{
		"root": {ID: "root"},
		"a":    {ID: "a", DependsOn: []string{"root"}},
		"b":    {ID: "b", DependsOn: []string{"root"}},
	}}

	go func() {
		<-started
		<-started
		close(release)
	}()
	order, err := New().Execute(context.Background(), "run", graph, runner)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if atomic.LoadInt32(&peak) != 2 {
		t.Fatalf("expected both siblings in flight, peak=%d", peak)
	}
	if fmt.Sprint(order) != "[root a b]" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestExecutorSuspendsWithoutRetry(t *testing.T) {
	chk := &stubCheckpoint{}
	runner := TaskRunnerFunc(func(ctx context.Context, runID string, task Task) error {
		if task.ID == "gate" {
			return fmt.Errorf("waiting for review: %w", ErrSuspended)
		}
		return nil
	})
	graph := Graph{Tasks: map[string]Task{
		"research": {ID: "research"},
		"gate":     {ID: "gate", DependsOn: []string{"research"}, MaxRetries: 3},
		"script":   {ID: "script", DependsOn: []string{"gate"}},
	}}

	order, err := New(WithCheckpointManager(chk)).Execute(context.Background(), "run", graph, runner)
	if !errors.Is(err, ErrSuspended) {
		t.Fatalf("expected suspension, got %v", err)
	}
	if fmt.Sprint(order) != "[research]" {
		t.Fatalf("unexpected order: %v", order)
	}
	want := []string{"start:run", "task_start:research:0", "task_success:research:0", "task_start:gate:0", "task_suspended:gate:0"}
	if fmt.Sprint(chk.events) != fmt.Sprint(want) {
		t.Fatalf("unexpected checkpoint events: %v", chk.events)
	}
}

func TestExecutorSkipsCompletedTasks(t *testing.T) {
	chk := &stubCheckpoint{done: map[string]bool{"research": true, "gate": true}}
	run := &stubRunner{}
	graph := Graph{Tasks: map[string]Task{
		"research": {ID: "research"},
		"gate":     {ID: "gate", DependsOn: []string{"research"}},
		"script":   {ID: "script", DependsOn: []string{"gate"}},
	}}

	order, err := New(WithCheckpointManager(chk)).Execute(context.Background(), "run", graph, run)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fmt.Sprint(order) != "[script]" || fmt.Sprint(run.calls) != "[script]" {
		t.Fatalf("expected only script to run, order=%v calls=%v", order, run.calls)
	}
}

func TestExecutorRetryDelayHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := TaskRunnerFunc(func(ctx context.Context, runID string, task Task) error {
		cancel()
		return errors.New("boom")
	})
	graph := Graph{Tasks: map[string]Task{"t1": {ID: "t1", MaxRetries: 5, RetryDelay: time.Hour}}}

	start := time.Now()
	_, err := New().Execute(ctx, "run", graph, runner)
	if err == nil {
		t.Fatalf("expected error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("retry delay ignored cancellation")
	}
}

var _ CheckpointManager = (*stubCheckpoint)(nil)

func TestStoreCheckpointManager(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	mgr := NewStoreCheckpointManager(&runstore.Postgres{DB: db})
	ctx := context.Background()
	task := Task{ID: "review:research", Stage: "research"}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO run_checkpoints")).
		WithArgs("run", "review:research", "research", runstore.CheckpointStarted, 0, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := mgr.SaveTaskStart(ctx, "run", task, 0); err != nil {
		t.Fatalf("SaveTaskStart: %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO run_checkpoints")).
		WithArgs("run", "review:research", "research", runstore.CheckpointSuspended, 0, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := mgr.SaveTaskSuspended(ctx, "run", task, 0); err != nil {
		t.Fatalf("SaveTaskSuspended: %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO run_checkpoints")).
		WithArgs("run", "review:research", "research", runstore.CheckpointFailed, 1, "boom").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := mgr.SaveTaskFailure(ctx, "run", task, 1, errors.New("boom")); err != nil {
		t.Fatalf("SaveTaskFailure: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreCheckpointManagerCompleted(t *testing.T) {
	st := runstore.NewMemory()
	mgr := NewStoreCheckpointManager(st)
	ctx := context.Background()
	if err := mgr.SaveTaskSuccess(ctx, "run", Task{ID: "researcher"}, 0); err != nil {
		t.Fatalf("SaveTaskSuccess: %v", err)
	}
	if err := mgr.SaveTaskSuspended(ctx, "run", Task{ID: "review:research"}, 0); err != nil {
		t.Fatalf("SaveTaskSuspended: %v", err)
	}
	done, err := mgr.Completed(ctx, "run")
	if err != nil {
		t.Fatalf("Completed: %v", err)
	}
	if !done["researcher"] || done["review:research"] {
		t.Fatalf("unexpected completed set: %v", done)
	}
}

func TestExecutorRetriesUntilSuccess(t *testing.T) {
	chk := &stubCheckpoint{}
	run := &stubRunner{errors: []error{errors.New("boom"), nil}}
	exec := New(WithCheckpointManager(chk))
	graph := Graph{Tasks: map[string]Task{
		"t1": {ID: "t1", MaxRetries: 2},
	}}

	order, err := exec.Execute(context.Background(), "run", graph, run)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(order) != 1 {
		t.Fatalf("expected single task, got %v", order)
	}
	if len(run.calls) != 2 {
		t.Fatalf("expected runner to retry, calls=%v", run.calls)
	}
	expected := []string{"start:run", "task_start:t1:0", "task_failure:t1:1", "task_start:t1:1", "task_success:t1:1"}
	if fmt.Sprint(chk.events) != fmt.Sprint(expected) {
		t.Fatalf("unexpected checkpoint events: %v", chk.events)
	}
}

func TestExecutorRetriesExhausted(t *testing.T) {
	chk := &stubCheckpoint{}
	run := &stubRunner{errors: []error{errors.New("boom"), errors.New("boom")}}
	exec := New(WithCheckpointManager(chk))
	graph := Graph{Tasks: map[string]Task{
		"t1": {ID: "t1", MaxRetries: 1},
	}}

	if _, err := exec.Execute(context.Background(), "run", graph, run); err == nil {
		t.Fatalf("expected error after retries exhausted")
	}
	if len(run.calls) != 2 {
		t.Fatalf("expected two attempts, got %d", len(run.calls))
	}
	expected := []string{"start:run", "task_start:t1:0", "task_failure:t1:1", "task_start:t1:1", "task_failure:t1:2"}
	if fmt.Sprint(chk.events) != fmt.Sprint(expected) {
		t.Fatalf("unexpected checkpoint events: %v", chk.events)
	}
}
