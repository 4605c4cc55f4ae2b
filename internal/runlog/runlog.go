// Package runlog persists one row per batch run (resolve, project, dedupe,
// venues) with its structured report.
package runlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/placeresolve/internal/metrics"
)

// Status is the state of a run.
type Status string

// Run states.
const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Run modes.
const (
	ModeDryRun = "dry-run"
	ModeApply  = "apply"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = eris.New("runlog: run not found")

// Run is one recorded batch run.
type Run struct {
	ID         string          `json:"id" yaml:"id"`
	Kind       string          `json:"kind" yaml:"kind"`
	Mode       string          `json:"mode" yaml:"mode"`
	Scope      string          `json:"scope,omitempty" yaml:"scope,omitempty"`
	Status     Status          `json:"status" yaml:"status"`
	Report     json.RawMessage `json:"report,omitempty" yaml:"-"`
	Error      string          `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Filter narrows run listings.
type Filter struct {
	Kind   string `json:"kind,omitempty"`
	Status Status `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Store persists runs.
type Store interface {
	Start(ctx context.Context, kind, mode, scope string) (*Run, error)
	Finish(ctx context.Context, id string, report any, runErr error) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, f Filter) ([]Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Mode returns the mode string for an apply flag.
func Mode(apply bool) string {
	if apply {
		return ModeApply
	}
	return ModeDryRun
}

// Record starts a run, calls fn and finishes the run with fn's report and
// error. A run log failure is logged and never masks fn's result.
func Record[T any](ctx context.Context, s Store, m *metrics.Metrics, kind, mode, scope string, fn func(ctx context.Context) (T, error)) (T, *Run, error) {
	start := time.Now()
	run, err := s.Start(ctx, kind, mode, scope)
	if err != nil {
		zap.L().Warn("run log start failed", zap.String("kind", kind), zap.Error(err))
	}

	report, runErr := fn(ctx)
	m.RecordRun(kind, time.Since(start).Seconds())

	if run != nil {
		// Finish even when ctx was cancelled so the row leaves running.
		finishCtx := context.WithoutCancel(ctx)
		if err := s.Finish(finishCtx, run.ID, report, runErr); err != nil {
			zap.L().Warn("run log finish failed", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	return report, run, runErr
}

func marshalReport(report any) ([]byte, error) {
	if report == nil {
		return nil, nil
	}
	b, err := json.Marshal(report)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: marshal report")
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

func finishState(runErr error) (Status, string) {
	if runErr != nil {
		return StatusFailed, runErr.Error()
	}
	return StatusComplete, ""
}
