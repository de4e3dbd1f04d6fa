package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taskledger/taskledger/internal/adapter/otel"
	"github.com/taskledger/taskledger/internal/config"
	"github.com/taskledger/taskledger/internal/domain"
	"github.com/taskledger/taskledger/internal/domain/event"
	"github.com/taskledger/taskledger/internal/domain/gate"
	"github.com/taskledger/taskledger/internal/domain/memory"
	"github.com/taskledger/taskledger/internal/domain/task"
	"github.com/taskledger/taskledger/internal/port/executor"
	"github.com/taskledger/taskledger/internal/port/messagequeue"
	"github.com/taskledger/taskledger/internal/port/mistakestore"
)

// GateService runs the three quality gates against tasks: confidence
// checks before work starts, command verification as proof of completion,
// and the two-stage review. Every gate outcome, pass or fail, is appended
// to the log as evidence.
type GateService struct {
	workflows *WorkflowService
	exec      executor.Executor
	mistakes  mistakestore.Store
	fanout    *Fanout
	metrics   *otel.Metrics
	cfg       config.Gates
	log       *slog.Logger
}

// NewGateService creates a GateService.
func NewGateService(workflows *WorkflowService, exec executor.Executor, mistakes mistakestore.Store, fanout *Fanout, metrics *otel.Metrics, cfg config.Gates, log *slog.Logger) *GateService {
	return &GateService{
		workflows: workflows,
		exec:      exec,
		mistakes:  mistakes,
		fanout:    fanout,
		metrics:   metrics,
		cfg:       cfg,
		log:       log,
	}
}

func (s *GateService) taskFor(ctx context.Context, workflowID, taskID string) (*task.Task, error) {
	st, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	t, ok := st.Task(taskID)
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	return t, nil
}

// CheckConfidence evaluates self-assessed dimensions against the
// configured threshold and records the outcome. A failed check is advice,
// not a hard stop: the recommendation tells the caller what to do next.
func (s *GateService) CheckConfidence(ctx context.Context, actor event.Actor, workflowID, taskID string, dims []gate.Dimension, threshold float64) (*gate.ConfidenceCheck, error) {
	if _, err := s.taskFor(ctx, workflowID, taskID); err != nil {
		return nil, err
	}
	if threshold <= 0 {
		threshold = s.cfg.ConfidenceThreshold
	}

	check, err := gate.EvaluateConfidence(dims, threshold, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if _, err := s.workflows.Record(ctx, actor, workflowID, &event.ConfidenceChecked{TaskID: taskID, Check: *check}); err != nil {
		return nil, err
	}
	if !check.Passed && s.metrics != nil {
		s.metrics.GateFailures.Add(ctx, 1)
	}
	s.fanout.Gate(ctx, messagequeue.GateResultPayload{
		WorkflowID: workflowID,
		TaskID:     taskID,
		Gate:       "confidence",
		Passed:     check.Passed,
		Score:      check.Overall,
		Detail:     string(check.Recommendation),
	})
	s.log.Info("confidence checked",
		"workflow_id", workflowID, "task_id", taskID,
		"overall", check.Overall, "passed", check.Passed, "recommendation", check.Recommendation)
	return check, nil
}

// RunVerification executes every verification entry configured on the
// task and records the full evidence set. A timed-out command is a
// failed result, never a pending one.
func (s *GateService) RunVerification(ctx context.Context, actor event.Actor, workflowID, taskID string) ([]gate.VerificationResult, error) {
	t, err := s.taskFor(ctx, workflowID, taskID)
	if err != nil {
		return nil, err
	}
	if len(t.Verification) == 0 {
		return nil, fmt.Errorf("task %s has no verification entries: %w", taskID, domain.ErrValidation)
	}

	results := make([]gate.VerificationResult, 0, len(t.Verification))
	for i := range t.Verification {
		entry := &t.Verification[i]
		timeout := entry.EffectiveTimeout()
		if entry.Timeout <= 0 && s.cfg.VerificationTimeout > 0 {
			timeout = s.cfg.VerificationTimeout
		}

		runCtx, span := otel.StartVerificationSpan(ctx, taskID, entry.Command)
		start := time.Now()
		res, runErr := s.exec.Run(runCtx, entry.Command, timeout)
		span.End()

		if runErr != nil {
			// Could not start: recorded as a failed result so the gate
			// still produces evidence for this entry.
			results = append(results, gate.VerificationResult{
				Command:  entry.Command,
				ExitCode: -1,
				Output:   runErr.Error(),
				Duration: time.Since(start),
				Reason:   "command failed to start",
			})
			continue
		}
		if s.metrics != nil {
			s.metrics.VerifyDuration.Record(ctx, res.Duration.Seconds())
		}
		results = append(results, entry.Evaluate(res.ExitCode, res.Output, res.TimedOut, res.Duration))
	}

	passed := gate.AllPassed(results)
	if _, err := s.workflows.Record(ctx, actor, workflowID, &event.VerificationExecuted{
		TaskID:  taskID,
		Results: results,
		Passed:  passed,
	}); err != nil {
		return nil, err
	}
	if !passed && s.metrics != nil {
		s.metrics.GateFailures.Add(ctx, 1)
	}
	s.fanout.Gate(ctx, messagequeue.GateResultPayload{
		WorkflowID: workflowID,
		TaskID:     taskID,
		Gate:       "verification",
		Passed:     passed,
	})
	s.log.Info("verification executed",
		"workflow_id", workflowID, "task_id", taskID,
		"commands", len(results), "passed", passed)
	return results, nil
}

// RecordReview appends one round of the two-stage review. The stage must
// match the task's review position: spec compliance first, code quality
// only after spec compliance is approved. When a stage exhausts its
// iteration cap without approval the task escalates to failed and a
// mistake record is written.
func (s *GateService) RecordReview(ctx context.Context, actor event.Actor, workflowID, taskID string, review gate.Review) (*gate.Review, error) {
	t, err := s.taskFor(ctx, workflowID, taskID)
	if err != nil {
		return nil, err
	}
	if err := review.Validate(); err != nil {
		return nil, err
	}
	if want := gate.NextStage(t.Reviews); review.Stage != want {
		return nil, fmt.Errorf("review stage %s out of order, expected %s: %w", review.Stage, want, domain.ErrValidation)
	}

	review.Iteration = gate.IterationFor(t.Reviews, review.Stage)
	if review.ReviewedAt.IsZero() {
		review.ReviewedAt = time.Now().UTC()
	}

	if _, err := s.workflows.Record(ctx, actor, workflowID, &event.ReviewRecorded{TaskID: taskID, Review: review}); err != nil {
		return nil, err
	}
	approved := review.Result == gate.ResultApproved
	if !approved && s.metrics != nil {
		s.metrics.GateFailures.Add(ctx, 1)
	}
	s.fanout.Gate(ctx, messagequeue.GateResultPayload{
		WorkflowID: workflowID,
		TaskID:     taskID,
		Gate:       "review",
		Passed:     approved,
		Stage:      string(review.Stage),
		Detail:     string(review.Result),
	})
	s.log.Info("review recorded",
		"workflow_id", workflowID, "task_id", taskID,
		"stage", review.Stage, "result", review.Result, "iteration", review.Iteration)

	history := append(append([]gate.Review(nil), t.Reviews...), review)
	if gate.CapExceeded(history, review.Stage, s.cfg.ReviewIterationCap) {
		if err := s.escalate(ctx, actor, workflowID, taskID, review.Stage); err != nil {
			return nil, err
		}
	}
	return &review, nil
}

// escalate fails the task after a review stage exhausts its cap and
// records the failure as a mistake for cross-session learning.
func (s *GateService) escalate(ctx context.Context, actor event.Actor, workflowID, taskID string, stage gate.ReviewStage) error {
	reason := fmt.Sprintf("review stage %s exceeded iteration cap", stage)
	if _, err := s.workflows.FailTask(ctx, actor, workflowID, taskID, reason); err != nil {
		return fmt.Errorf("escalate task %s: %w", taskID, err)
	}

	m := memory.Mistake{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		TaskID:     taskID,
		Signature: memory.Signature{
			Type:    "ReviewCapExceeded",
			Message: reason,
			Context: string(stage),
		},
		WhatHappened: reason,
		Lesson:       "break the task down or clarify the acceptance criteria before retrying",
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := s.workflows.RecordMistake(ctx, actor, workflowID, &event.MistakeRecorded{TaskID: taskID, Mistake: m}); err != nil {
		return err
	}
	if err := s.mistakes.Record(ctx, &m); err != nil {
		// Index write is best-effort; the log already holds the record.
		s.log.Warn("mistake index write failed", "workflow_id", workflowID, "task_id", taskID, "error", err)
	}
	s.log.Warn("task escalated to failed",
		"workflow_id", workflowID, "task_id", taskID, "stage", stage)
	return nil
}

// SimilarMistakes looks up prior failures with a matching signature
// across all workflows, most recent first.
func (s *GateService) SimilarMistakes(ctx context.Context, sig memory.Signature, limit int) ([]memory.Mistake, error) {
	if sig.Type == "" {
		return nil, fmt.Errorf("signature type is required: %w", domain.ErrValidation)
	}
	candidates, err := s.mistakes.FindBySignatureType(ctx, sig.Type, limit)
	if err != nil {
		return nil, err
	}
	matched := make([]memory.Mistake, 0, len(candidates))
	for _, m := range candidates {
		if sig.Matches(m.Signature) {
			matched = append(matched, m)
		}
	}
	return matched, nil
}

// Mistakes returns a workflow's mistake records from the index.
func (s *GateService) Mistakes(ctx context.Context, workflowID string) ([]memory.Mistake, error) {
	return s.mistakes.ListByWorkflow(ctx, workflowID)
}
