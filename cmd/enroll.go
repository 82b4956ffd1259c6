package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var enrollLimit int

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Run the auto-enroll gate over ready prospects",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "enroll", true)
		if err != nil {
			return err
		}
		defer env.Close()

		limit := enrollLimit
		if limit <= 0 {
			limit = cfg.AutoEnroll.BatchSize
		}
		rep, err := env.Runner.AutoEnrollSweep(ctx, limit, autoEnrollSettings())
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, rep)
	},
}

func init() {
	enrollCmd.Flags().IntVar(&enrollLimit, "limit", 0, "max prospects to evaluate (default auto_enroll.batch_size)")
	rootCmd.AddCommand(enrollCmd)
}
