package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/enroll"
)

var enrichAutoEnroll bool

var enrichCmd = &cobra.Command{
	Use:   "enrich <domain>",
	Short: "Enrich a single prospect now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "enrich", enrichAutoEnroll)
		if err != nil {
			return err
		}
		defer env.Close()

		var settings *enroll.Settings
		if enrichAutoEnroll {
			s := autoEnrollSettings()
			settings = &s
		}

		res, err := env.Runner.EnrichDomain(ctx, args[0], settings)
		if err != nil {
			return eris.Wrapf(err, "enrich %s", args[0])
		}

		log := zap.L().With(zap.String("domain", res.Prospect.Domain))
		if res.Skipped != "" {
			log.Info("enrichment skipped", zap.String("reason", res.Skipped))
		} else {
			log.Info("enrichment complete",
				zap.Intp("score", res.Prospect.Score),
				zap.Intp("tier", res.Prospect.Tier),
				zap.Int("contacts_created", res.ContactsCreated),
				zap.Strings("tags", res.Tags),
			)
		}

		return printJSON(os.Stdout, res)
	},
}

func init() {
	enrichCmd.Flags().BoolVar(&enrichAutoEnroll, "auto-enroll", false, "run the auto-enroll gate after enrichment")
	rootCmd.AddCommand(enrichCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
