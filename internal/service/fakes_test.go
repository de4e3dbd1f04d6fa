package service_test

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taskledger/taskledger/internal/config"
	"github.com/taskledger/taskledger/internal/domain"
	"github.com/taskledger/taskledger/internal/domain/checkpoint"
	"github.com/taskledger/taskledger/internal/domain/event"
	"github.com/taskledger/taskledger/internal/domain/memory"
	"github.com/taskledger/taskledger/internal/port/executor"
	"github.com/taskledger/taskledger/internal/service"
)

// memEventStore is an in-memory append-only log with per-stream version
// uniqueness, matching the optimistic concurrency contract of the port.
type memEventStore struct {
	mu      sync.Mutex
	streams map[string][]event.Event
	order   []string

	// conflicts, when positive, rejects that many appends with
	// domain.ErrConflict before letting writes through.
	conflicts int

	fullLoads int
	tailLoads int
}

func newMemEventStore() *memEventStore {
	return &memEventStore{streams: make(map[string][]event.Event)}
}

func (m *memEventStore) Append(_ context.Context, ev *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts > 0 {
		m.conflicts--
		return fmt.Errorf("version %d taken: %w", ev.Version, domain.ErrConflict)
	}
	stream := m.streams[ev.WorkflowID]
	if ev.Version != len(stream)+1 {
		return fmt.Errorf("version %d taken: %w", ev.Version, domain.ErrConflict)
	}
	if len(stream) == 0 {
		m.order = append(m.order, ev.WorkflowID)
	}
	m.streams[ev.WorkflowID] = append(stream, *ev)
	return nil
}

func (m *memEventStore) LoadByWorkflow(_ context.Context, workflowID string) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fullLoads++
	return append([]event.Event(nil), m.streams[workflowID]...), nil
}

func (m *memEventStore) LoadUpTo(_ context.Context, workflowID string, ts time.Time) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.Event
	for _, ev := range m.streams[workflowID] {
		if !ev.CreatedAt.After(ts) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memEventStore) LoadAfter(_ context.Context, workflowID string, ts time.Time) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tailLoads++
	var out []event.Event
	for _, ev := range m.streams[workflowID] {
		if ev.CreatedAt.After(ts) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memEventStore) CurrentVersion(_ context.Context, workflowID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams[workflowID]), nil
}

func (m *memEventStore) ListWorkflowIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...), nil
}

func (m *memEventStore) CountByType(_ context.Context, workflowID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, ev := range m.streams[workflowID] {
		counts[string(ev.Type)]++
	}
	return counts, nil
}

func (m *memEventStore) FirstEvent(_ context.Context, workflowID string) (*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stream := m.streams[workflowID]
	if len(stream) == 0 {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, domain.ErrNotFound)
	}
	first := stream[0]
	return &first, nil
}

type memCheckpointStore struct {
	mu  sync.Mutex
	all []checkpoint.Checkpoint
}

func (m *memCheckpointStore) Save(_ context.Context, cp *checkpoint.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.all = append(m.all, *cp)
	return nil
}

func (m *memCheckpointStore) Get(_ context.Context, id string) (*checkpoint.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.all {
		if m.all[i].ID == id {
			cp := m.all[i]
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("checkpoint %s: %w", id, domain.ErrNotFound)
}

func (m *memCheckpointStore) ListByWorkflow(_ context.Context, workflowID string) ([]checkpoint.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []checkpoint.Checkpoint
	for _, cp := range m.all {
		if cp.WorkflowID == workflowID {
			out = append(out, cp)
		}
	}
	return out, nil
}

func (m *memCheckpointStore) Latest(_ context.Context, workflowID string) (*checkpoint.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.all) - 1; i >= 0; i-- {
		if m.all[i].WorkflowID == workflowID {
			cp := m.all[i]
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("workflow %s: %w", workflowID, domain.ErrNotFound)
}

type memMistakeStore struct {
	mu  sync.Mutex
	all []memory.Mistake
}

func (m *memMistakeStore) Record(_ context.Context, mk *memory.Mistake) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.all = append(m.all, *mk)
	return nil
}

func (m *memMistakeStore) ListByWorkflow(_ context.Context, workflowID string) ([]memory.Mistake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []memory.Mistake
	for _, mk := range m.all {
		if mk.WorkflowID == workflowID {
			out = append(out, mk)
		}
	}
	return out, nil
}

func (m *memMistakeStore) FindBySignatureType(_ context.Context, sigType string, limit int) ([]memory.Mistake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []memory.Mistake
	for _, mk := range m.all {
		if mk.Signature.Type == sigType {
			out = append(out, mk)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeExecutor maps command substrings to scripted results.
type fakeExecutor struct {
	mu      sync.Mutex
	results map[string]executor.Result
	errs    map[string]error
	ran     []string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{results: make(map[string]executor.Result), errs: make(map[string]error)}
}

func (f *fakeExecutor) Run(_ context.Context, command string, _ time.Duration) (executor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, command)
	for key, err := range f.errs {
		if strings.Contains(command, key) {
			return executor.Result{}, err
		}
	}
	for key, res := range f.results {
		if strings.Contains(command, key) {
			return res, nil
		}
	}
	return executor.Result{ExitCode: 0, Output: "ok", Duration: time.Millisecond}, nil
}

// env bundles the service graph wired over in-memory fakes.
type env struct {
	events      *memEventStore
	checkpoints *memCheckpointStore
	mistakes    *memMistakeStore
	exec        *fakeExecutor

	workflows  *service.WorkflowService
	gates      *service.GateService
	checkpoint *service.CheckpointService
	batches    *service.BatchService
}

func newEnv(gates config.Gates, batch config.Batch, cp config.Checkpoint) *env {
	log := slog.New(slog.DiscardHandler)
	e := &env{
		events:      newMemEventStore(),
		checkpoints: &memCheckpointStore{},
		mistakes:    &memMistakeStore{},
		exec:        newFakeExecutor(),
	}
	proj := service.NewProjectionService(e.events, e.checkpoints, nil, nil, log)
	e.workflows = service.NewWorkflowService(e.events, proj, nil, nil, log)
	e.gates = service.NewGateService(e.workflows, e.exec, e.mistakes, nil, nil, gates, log)
	e.checkpoint = service.NewCheckpointService(e.workflows, e.checkpoints, nil, nil, log)
	e.batches = service.NewBatchService(e.workflows, e.gates, e.checkpoint, nil, batch, cp, log)
	return e
}
