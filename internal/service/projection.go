package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskledger/taskledger/internal/adapter/otel"
	"github.com/taskledger/taskledger/internal/domain/workflow"
	"github.com/taskledger/taskledger/internal/port/cache"
	"github.com/taskledger/taskledger/internal/port/checkpointstore"
	"github.com/taskledger/taskledger/internal/port/eventstore"
)

// snapshotTTL bounds the life of cached projections. Entries are
// version-checked before use, so the TTL only limits cache growth.
const snapshotTTL = time.Hour

// ProjectionService rebuilds workflow state from the event log and
// keeps serialized snapshots in the tiered cache. Both the cache and
// the checkpoint seed are optimizations only: a miss, a stale entry,
// or a seed that does not fold up to the current version always falls
// back to a full replay.
type ProjectionService struct {
	events      eventstore.Store
	checkpoints checkpointstore.Store
	cache       cache.Cache
	metrics     *otel.Metrics
	log         *slog.Logger
}

// NewProjectionService creates a ProjectionService. checkpoints and
// cache may be nil, which disables checkpoint-seeded rebuilds and
// snapshot caching respectively.
func NewProjectionService(events eventstore.Store, checkpoints checkpointstore.Store, c cache.Cache, metrics *otel.Metrics, log *slog.Logger) *ProjectionService {
	return &ProjectionService{events: events, checkpoints: checkpoints, cache: c, metrics: metrics, log: log}
}

func snapshotKey(workflowID string) string {
	return "state:" + workflowID
}

// Load returns the current projected state for a workflow. A cached
// snapshot is used only when its version matches the log's current
// version; otherwise the stream is replayed.
func (s *ProjectionService) Load(ctx context.Context, workflowID string) (*workflow.State, error) {
	current, err := s.events.CurrentVersion(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	if st, ok := s.fromCache(ctx, workflowID, current); ok {
		return st, nil
	}
	if st, ok := s.fromCheckpoint(ctx, workflowID, current); ok {
		s.store(ctx, st)
		return st, nil
	}

	st, err := s.replay(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, st)
	return st, nil
}

// StateAt replays the stream up to the given timestamp, yielding the
// state as it was then. Never cached: time-travel reads are rare.
func (s *ProjectionService) StateAt(ctx context.Context, workflowID string, ts time.Time) (*workflow.State, error) {
	events, err := s.events.LoadUpTo(ctx, workflowID, ts)
	if err != nil {
		return nil, fmt.Errorf("state at %s: %w", ts.Format(time.RFC3339), err)
	}
	st, err := workflow.Rebuild(events)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Invalidate drops the cached snapshot for a workflow.
func (s *ProjectionService) Invalidate(ctx context.Context, workflowID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, snapshotKey(workflowID)); err != nil {
		s.log.Warn("snapshot invalidate failed", "workflow_id", workflowID, "error", err)
	}
}

// Store caches the serialized state keyed by workflow ID. Called by the
// command path after a successful append so the next read is warm.
func (s *ProjectionService) Store(ctx context.Context, st *workflow.State) {
	s.store(ctx, st)
}

func (s *ProjectionService) replay(ctx context.Context, workflowID string) (*workflow.State, error) {
	ctx, span := otel.StartReplaySpan(ctx, workflowID, false)
	defer span.End()

	start := time.Now()
	events, err := s.events.LoadByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("replay workflow %s: %w", workflowID, err)
	}

	st, err := workflow.Rebuild(events)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ReplayDuration.Record(ctx, time.Since(start).Seconds())
	}
	s.log.Debug("stream replayed", "workflow_id", workflowID, "events", len(events), "duration", time.Since(start))
	return &st, nil
}

// fromCheckpoint seeds a rebuild from the latest checkpoint's serialized
// state and replays only the event tail appended since. The folded state
// must land exactly on the log's current version, otherwise the seed is
// discarded in favor of a full replay.
func (s *ProjectionService) fromCheckpoint(ctx context.Context, workflowID string, version int) (*workflow.State, bool) {
	if s.checkpoints == nil {
		return nil, false
	}
	cp, err := s.checkpoints.Latest(ctx, workflowID)
	if err != nil || len(cp.State) == 0 {
		return nil, false
	}

	var base workflow.State
	if err := json.Unmarshal(cp.State, &base); err != nil {
		s.log.Warn("checkpoint state corrupt", "workflow_id", workflowID, "checkpoint_id", cp.ID, "error", err)
		return nil, false
	}

	ctx, span := otel.StartReplaySpan(ctx, workflowID, true)
	defer span.End()

	start := time.Now()
	tail, err := s.events.LoadAfter(ctx, workflowID, cp.CreatedAt)
	if err != nil {
		return nil, false
	}
	st, err := workflow.RebuildFrom(base, tail)
	if err != nil {
		s.log.Warn("checkpoint-seeded rebuild failed", "workflow_id", workflowID, "checkpoint_id", cp.ID, "error", err)
		return nil, false
	}
	if st.Workflow.Version != version {
		return nil, false
	}

	if s.metrics != nil {
		s.metrics.ReplayDuration.Record(ctx, time.Since(start).Seconds())
	}
	s.log.Debug("stream rebuilt from checkpoint",
		"workflow_id", workflowID, "checkpoint_id", cp.ID,
		"tail_events", len(tail), "duration", time.Since(start))
	return &st, true
}

func (s *ProjectionService) fromCache(ctx context.Context, workflowID string, version int) (*workflow.State, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok, err := s.cache.Get(ctx, snapshotKey(workflowID))
	if err != nil || !ok {
		return nil, false
	}

	var st workflow.State
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.Warn("snapshot cache entry corrupt", "workflow_id", workflowID, "error", err)
		return nil, false
	}
	if st.Workflow.Version != version {
		return nil, false
	}
	if s.metrics != nil {
		s.metrics.SnapshotCacheHits.Add(ctx, 1)
	}
	return &st, true
}

func (s *ProjectionService) store(ctx context.Context, st *workflow.State) {
	if s.cache == nil || st == nil {
		return
	}
	data, err := json.Marshal(st)
	if err != nil {
		s.log.Warn("snapshot marshal failed", "workflow_id", st.Workflow.ID, "error", err)
		return
	}
	if err := s.cache.Set(ctx, snapshotKey(st.Workflow.ID), data, snapshotTTL); err != nil {
		s.log.Warn("snapshot cache set failed", "workflow_id", st.Workflow.ID, "error", err)
	}
}
