package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/enroll"
)

var (
	batchLimit      int
	batchAutoEnroll bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Enrich every due prospect once",
	Long:  "Enriches NEW prospects and READY_TO_CONTACT prospects past the re-enrichment age. Per-prospect failures are logged and recorded; the batch continues.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "enrich", batchAutoEnroll)
		if err != nil {
			return err
		}
		defer env.Close()

		limit := batchLimit
		if limit <= 0 {
			limit = cfg.Enrichment.BatchSize
		}
		var settings *enroll.Settings
		if batchAutoEnroll {
			s := autoEnrollSettings()
			settings = &s
		}

		rep, err := env.Runner.EnrichSweep(ctx, limit, settings)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, rep)
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max prospects to enrich (default enrichment.batch_size)")
	batchCmd.Flags().BoolVar(&batchAutoEnroll, "auto-enroll", false, "run the auto-enroll gate after each enrichment")
	rootCmd.AddCommand(batchCmd)
}
