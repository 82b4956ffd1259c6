package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/enroll"
	"github.com/sells-group/outreach-cli/internal/workflow"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker for the sweep workflows",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, "worker", true)
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := dialTemporal()
		if err != nil {
			return err
		}
		defer c.Close()

		monCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		startMonitoring(monCtx, env.Store)

		w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
		workflow.Register(w, &workflow.Activities{
			Sweeper: env.Runner,
			Settings: func() (enroll.Settings, error) {
				return autoEnrollSettings(), nil
			},
		})

		zap.L().Info("starting temporal worker",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("task_queue", cfg.Temporal.TaskQueue),
		)
		if err := w.Run(worker.InterruptCh()); err != nil {
			return eris.Wrap(err, "temporal worker")
		}
		return nil
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Register the enrichment and enrollment sweep schedules with Temporal",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Temporal.HostPort == "" || cfg.Temporal.TaskQueue == "" {
			return eris.New("temporal.host_port and temporal.task_queue are required")
		}
		c, err := dialTemporal()
		if err != nil {
			return err
		}
		defer c.Close()

		return workflow.EnsureSchedules(cmd.Context(), c.ScheduleClient(), scheduleSpec())
	},
}

func init() {
	rootCmd.AddCommand(workerCmd, scheduleCmd)
}

func dialTemporal() (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return nil, eris.Wrap(err, "dial temporal")
	}
	return c, nil
}

func scheduleSpec() workflow.ScheduleSpec {
	return workflow.ScheduleSpec{
		TaskQueue:   cfg.Temporal.TaskQueue,
		EnrichEvery: cfg.Schedule.EnrichEvery,
		EnrollEvery: cfg.Schedule.EnrollEvery,
		Limit:       cfg.Enrichment.BatchSize,
		AutoEnroll:  cfg.AutoEnroll.Enabled,
	}
}
