package service

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/taskledger/taskledger/internal/config"
	"github.com/taskledger/taskledger/internal/domain/checkpoint"
	"github.com/taskledger/taskledger/internal/domain/event"
	"github.com/taskledger/taskledger/internal/domain/gate"
	"github.com/taskledger/taskledger/internal/domain/task"
	"github.com/taskledger/taskledger/internal/port/messagequeue"
)

// BatchService drives ready tasks through execution in dependency-order
// batches: start, verify, then complete or fail each task. Tasks inside
// a batch run concurrently; batches run strictly one after another.
type BatchService struct {
	workflows   *WorkflowService
	gates       *GateService
	checkpoints *CheckpointService
	fanout      *Fanout
	cfg         config.Batch
	checkpoint  config.Checkpoint
	log         *slog.Logger
}

// NewBatchService creates a BatchService.
func NewBatchService(workflows *WorkflowService, gates *GateService, checkpoints *CheckpointService, fanout *Fanout, cfg config.Batch, cp config.Checkpoint, log *slog.Logger) *BatchService {
	return &BatchService{
		workflows:   workflows,
		gates:       gates,
		checkpoints: checkpoints,
		fanout:      fanout,
		cfg:         cfg,
		checkpoint:  cp,
		log:         log,
	}
}

// Report summarizes one executed batch. Pending tasks passed their
// verification but await review; they are neither completed nor failed.
type Report struct {
	TaskIDs   []string `json:"task_ids"`
	Completed []string `json:"completed"`
	Failed    []string `json:"failed"`
	Pending   []string `json:"pending,omitempty"`
	Stopped   bool     `json:"stopped"`
}

type taskOutcome int

const (
	outcomeCompleted taskOutcome = iota
	outcomeFailed
	outcomePendingReview
)

// NextBatch returns the next batch of ready task IDs without executing it.
func (s *BatchService) NextBatch(ctx context.Context, workflowID string) ([]string, error) {
	ready, err := s.workflows.ReadySet(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	batches := task.Batches(ready, s.cfg.Size)
	if len(batches) == 0 {
		return nil, nil
	}
	return batches[0], nil
}

// ExecuteNext runs the next ready batch. Each task is started, its
// verification gate executed, and the task completed or failed on the
// gate outcome. With stop-on-failure set, a failed task marks the run
// stopped so callers do not schedule further batches.
func (s *BatchService) ExecuteNext(ctx context.Context, actor event.Actor, workflowID string) (*Report, error) {
	batch, err := s.NextBatch(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	report := &Report{TaskIDs: batch}
	if len(batch) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, taskID := range batch {
		g.Go(func() error {
			outcome, err := s.runTask(gctx, actor, workflowID, taskID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, taskID)
				return err
			}
			switch outcome {
			case outcomeCompleted:
				report.Completed = append(report.Completed, taskID)
			case outcomePendingReview:
				report.Pending = append(report.Pending, taskID)
			default:
				report.Failed = append(report.Failed, taskID)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	if len(report.Failed) > 0 && s.cfg.StopOnFailure {
		report.Stopped = true
	}
	s.fanout.Batch(ctx, messagequeue.BatchProgressPayload{
		WorkflowID: workflowID,
		BatchSize:  len(batch),
		TaskIDs:    batch,
		Completed:  report.Completed,
		Failed:     report.Failed,
		Stopped:    report.Stopped,
	})
	s.log.Info("batch executed",
		"workflow_id", workflowID, "size", len(batch),
		"completed", len(report.Completed), "failed", len(report.Failed), "stopped", report.Stopped)

	if s.checkpoint.AfterBatch {
		if _, err := s.checkpoints.Create(ctx, actor, workflowID, CreateRequest{
			Trigger: checkpoint.TriggerBatchCompleted,
			Reason:  "batch completed",
		}); err != nil {
			// Checkpoints are caches; a failed one costs a replay, not data.
			s.log.Warn("post-batch checkpoint failed", "workflow_id", workflowID, "error", err)
		}
	}
	return report, nil
}

// Run executes batches until no ready tasks remain or a failure stops
// the run.
func (s *BatchService) Run(ctx context.Context, actor event.Actor, workflowID string) ([]Report, error) {
	var reports []Report
	for {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := s.ExecuteNext(ctx, actor, workflowID)
		if err != nil {
			return reports, err
		}
		if len(report.TaskIDs) == 0 {
			return reports, nil
		}
		reports = append(reports, *report)
		if report.Stopped {
			return reports, nil
		}
	}
}

// runTask drives one task through start, verification and completion.
// The error return is reserved for infrastructure failures; a failed
// gate is a normal outcome.
func (s *BatchService) runTask(ctx context.Context, actor event.Actor, workflowID, taskID string) (taskOutcome, error) {
	if _, err := s.workflows.StartTask(ctx, actor, workflowID, taskID, false); err != nil {
		return outcomeFailed, err
	}

	t, err := s.gates.taskFor(ctx, workflowID, taskID)
	if err != nil {
		return outcomeFailed, err
	}
	if len(t.Verification) > 0 {
		results, err := s.gates.RunVerification(ctx, actor, workflowID, taskID)
		if err != nil {
			return outcomeFailed, err
		}
		if !gate.AllPassed(results) {
			if _, err := s.workflows.FailTask(ctx, actor, workflowID, taskID, "verification gate failed"); err != nil {
				return outcomeFailed, err
			}
			return outcomeFailed, nil
		}
	}
	if t.ReviewRequired {
		// A reviewed task stays in progress until its reviews land; it
		// completes through the review flow, not the batch loop.
		return outcomePendingReview, nil
	}

	if _, err := s.workflows.CompleteTask(ctx, actor, workflowID, taskID, false); err != nil {
		return outcomeFailed, err
	}
	return outcomeCompleted, nil
}
