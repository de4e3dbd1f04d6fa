package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "taskledger"

// Metrics holds all taskledger metric instruments.
type Metrics struct {
	EventsAppended    metric.Int64Counter
	AppendConflicts   metric.Int64Counter
	TasksCompleted    metric.Int64Counter
	GateFailures      metric.Int64Counter
	Checkpoints       metric.Int64Counter
	ReplayDuration    metric.Float64Histogram
	VerifyDuration    metric.Float64Histogram
	SnapshotCacheHits metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.EventsAppended, err = meter.Int64Counter("taskledger.events.appended",
		metric.WithDescription("Number of events appended to the log"))
	if err != nil {
		return nil, err
	}

	m.AppendConflicts, err = meter.Int64Counter("taskledger.events.conflicts",
		metric.WithDescription("Number of optimistic concurrency conflicts on append"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("taskledger.tasks.completed",
		metric.WithDescription("Number of tasks completed"))
	if err != nil {
		return nil, err
	}

	m.GateFailures, err = meter.Int64Counter("taskledger.gates.failed",
		metric.WithDescription("Number of quality gate failures"))
	if err != nil {
		return nil, err
	}

	m.Checkpoints, err = meter.Int64Counter("taskledger.checkpoints.created",
		metric.WithDescription("Number of checkpoints created"))
	if err != nil {
		return nil, err
	}

	m.ReplayDuration, err = meter.Float64Histogram("taskledger.replay.duration_seconds",
		metric.WithDescription("Event stream replay duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.VerifyDuration, err = meter.Float64Histogram("taskledger.verification.duration_seconds",
		metric.WithDescription("Verification command duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.SnapshotCacheHits, err = meter.Int64Counter("taskledger.snapshot.cache_hits",
		metric.WithDescription("Number of snapshot cache hits"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
