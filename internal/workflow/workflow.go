// Package workflow schedules the enrichment and auto-enrollment sweeps as
// durable Temporal workflows.
package workflow

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/enroll"
	"github.com/sells-group/outreach-cli/internal/pipeline"
)

// SweepInput parameterizes a sweep workflow.
type SweepInput struct {
	Limit int
	// AutoEnroll runs the gate after each enrichment in EnrichSweepWorkflow.
	AutoEnroll bool
}

// Sweeper runs the sweeps; *pipeline.Runner implements it.
type Sweeper interface {
	EnrichSweep(ctx context.Context, limit int, autoEnroll *enroll.Settings) (pipeline.Report, error)
	AutoEnrollSweep(ctx context.Context, limit int, settings enroll.Settings) (pipeline.Report, error)
}

// Activities holds the sweep activities.
type Activities struct {
	Sweeper Sweeper
	// Settings loads the auto-enroll settings once per sweep.
	Settings func() (enroll.Settings, error)
}

// EnrichSweep runs one enrichment sweep.
func (a *Activities) EnrichSweep(ctx context.Context, in SweepInput) (pipeline.Report, error) {
	var settings *enroll.Settings
	if in.AutoEnroll {
		s, err := a.Settings()
		if err != nil {
			return pipeline.Report{}, err
		}
		settings = &s
	}
	return a.Sweeper.EnrichSweep(ctx, in.Limit, settings)
}

// EnrollSweep runs one auto-enrollment sweep.
func (a *Activities) EnrollSweep(ctx context.Context, in SweepInput) (pipeline.Report, error) {
	s, err := a.Settings()
	if err != nil {
		return pipeline.Report{}, err
	}
	return a.Sweeper.AutoEnrollSweep(ctx, in.Limit, s)
}

func sweepOptions(attempts int32) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    attempts,
		},
	}
}

// EnrichSweepWorkflow runs the enrichment sweep activity with 3 attempts.
func EnrichSweepWorkflow(ctx workflow.Context, in SweepInput) (pipeline.Report, error) {
	ctx = workflow.WithActivityOptions(ctx, sweepOptions(3))
	var a *Activities
	var rep pipeline.Report
	err := workflow.ExecuteActivity(ctx, a.EnrichSweep, in).Get(ctx, &rep)
	if err != nil {
		workflow.GetLogger(ctx).Error("enrich sweep failed", "error", err)
	}
	return rep, err
}

// EnrollSweepWorkflow runs the auto-enrollment sweep activity with 5
// attempts.
func EnrollSweepWorkflow(ctx workflow.Context, in SweepInput) (pipeline.Report, error) {
	ctx = workflow.WithActivityOptions(ctx, sweepOptions(5))
	var a *Activities
	var rep pipeline.Report
	err := workflow.ExecuteActivity(ctx, a.EnrollSweep, in).Get(ctx, &rep)
	if err != nil {
		workflow.GetLogger(ctx).Error("enroll sweep failed", "error", err)
	}
	return rep, err
}

// Register adds the workflows and activities to w.
func Register(w worker.Registry, a *Activities) {
	w.RegisterWorkflow(EnrichSweepWorkflow)
	w.RegisterWorkflow(EnrollSweepWorkflow)
	w.RegisterActivity(a)
	zap.L().Debug("workflow: registered sweeps")
}
