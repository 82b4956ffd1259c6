package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
)

// Schedule IDs.
const (
	EnrichScheduleID = "outreach-enrich-sweep"
	EnrollScheduleID = "outreach-enroll-sweep"
)

// ScheduleSpec describes the two sweep schedules.
type ScheduleSpec struct {
	TaskQueue   string
	EnrichEvery time.Duration
	EnrollEvery time.Duration
	Limit       int
	AutoEnroll  bool
}

// ScheduleOptions builds the create options for both schedules. Runs that
// would overlap a still-running sweep are skipped.
func ScheduleOptions(spec ScheduleSpec) []client.ScheduleOptions {
	build := func(id string, every time.Duration, wf any, in SweepInput) client.ScheduleOptions {
		return client.ScheduleOptions{
			ID: id,
			Spec: client.ScheduleSpec{
				Intervals: []client.ScheduleIntervalSpec{{Every: every}},
			},
			Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
			Action: &client.ScheduleWorkflowAction{
				ID:        id + "-run",
				Workflow:  wf,
				Args:      []any{in},
				TaskQueue: spec.TaskQueue,
			},
		}
	}
	return []client.ScheduleOptions{
		build(EnrichScheduleID, spec.EnrichEvery, EnrichSweepWorkflow, SweepInput{Limit: spec.Limit, AutoEnroll: spec.AutoEnroll}),
		build(EnrollScheduleID, spec.EnrollEvery, EnrollSweepWorkflow, SweepInput{Limit: spec.Limit}),
	}
}

// EnsureSchedules creates both schedules, leaving existing ones alone.
func EnsureSchedules(ctx context.Context, c client.ScheduleClient, spec ScheduleSpec) error {
	for _, opts := range ScheduleOptions(spec) {
		_, err := c.Create(ctx, opts)
		switch {
		case err == nil:
			zap.L().Info("workflow: schedule created", zap.String("id", opts.ID), zap.Duration("every", opts.Spec.Intervals[0].Every))
		case errors.Is(err, temporal.ErrScheduleAlreadyRunning):
			zap.L().Info("workflow: schedule already exists", zap.String("id", opts.ID))
		default:
			return eris.Wrapf(err, "workflow: create schedule %s", opts.ID)
		}
	}
	return nil
}
