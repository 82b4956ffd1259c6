package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

var (
	addCategory string
	addLanguage string
	addCountry  string
	addSource   string

	suppressReason string
)

// openStore is used by the admin commands, which need no signal sources or
// delivery.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("admin"); err != nil {
		return nil, err
	}
	st, _, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

var addCmd = &cobra.Command{
	Use:   "add <domain>",
	Short: "Create a prospect in NEW status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		p, err := addProspect(ctx, st, &model.Prospect{
			Domain:   args[0],
			Category: addCategory,
			Language: addLanguage,
			Country:  addCountry,
			Source:   model.ProspectSource(addSource),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), p.ID)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <domain>",
	Short: "Delete a prospect with its contacts, enrollments, tags and events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		return deleteProspect(ctx, st, args[0])
	},
}

var suppressCmd = &cobra.Command{
	Use:   "suppress <email>",
	Short: "Add an email to the suppression list and mark its prospects do-not-contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := suppressEmail(ctx, st, args[0], model.SuppressionReason(suppressReason))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		st, _, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		zap.L().Info("schema up to date", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&addCategory, "category", "", "site category")
	addCmd.Flags().StringVar(&addLanguage, "language", "", "known site language")
	addCmd.Flags().StringVar(&addCountry, "country", "", "known site country")
	addCmd.Flags().StringVar(&addSource, "source", string(model.SourceManual), "how the prospect was found")
	suppressCmd.Flags().StringVar(&suppressReason, "reason", string(model.SuppressManual), "bounce, complaint, unsubscribe or manual")

	rootCmd.AddCommand(addCmd, deleteCmd, suppressCmd, migrateCmd)
}

func addProspect(ctx context.Context, st store.Store, p *model.Prospect) (*model.Prospect, error) {
	domain := model.NormalizeDomain(p.Domain)
	if domain == "" {
		return nil, eris.Errorf("invalid domain %q", p.Domain)
	}
	p.Domain = domain
	if err := st.CreateProspect(ctx, p); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, eris.Errorf("prospect %s already exists", domain)
		}
		return nil, err
	}
	zap.L().Info("prospect added", zap.String("domain", p.Domain), zap.String("id", p.ID))
	return p, nil
}

func deleteProspect(ctx context.Context, st store.Store, domain string) error {
	p, err := st.GetProspectByDomain(ctx, model.NormalizeDomain(domain))
	if err != nil {
		return eris.Wrapf(err, "find prospect %s", domain)
	}
	if err := st.DeleteProspect(ctx, p.ID); err != nil {
		return err
	}
	zap.L().Info("prospect deleted", zap.String("domain", p.Domain), zap.String("id", p.ID))
	return nil
}

type suppressResult struct {
	Email              string   `json:"email"`
	Prospects          []string `json:"prospects"`
	EnrollmentsStopped int      `json:"enrollments_stopped"`
}

// suppressEmail adds email to the deny-list, opts out every contact using it
// and moves the owning prospects to DO_NOT_CONTACT with their open
// enrollments stopped.
func suppressEmail(ctx context.Context, st store.Store, email string, reason model.SuppressionReason) (*suppressResult, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return nil, eris.New("email is required")
	}
	switch reason {
	case model.SuppressBounce, model.SuppressComplaint, model.SuppressUnsubscribe, model.SuppressManual:
	default:
		return nil, eris.Errorf("unknown suppression reason %q", reason)
	}

	if err := st.UpsertSuppression(ctx, model.Suppression{
		Email:     email,
		Reason:    reason,
		Source:    "cli",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	ids, err := st.OptOutEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	res := &suppressResult{Email: email, Prospects: ids}
	for _, id := range ids {
		p, err := st.GetProspect(ctx, id)
		if err != nil {
			return nil, err
		}
		n, err := st.StopProspectEnrollments(ctx, id, "suppressed")
		if err != nil {
			return nil, err
		}
		res.EnrollmentsStopped += n

		if err := st.AppendEvent(ctx, model.NewEvent(id, model.SourceOperator, model.Suppressed{Email: email, Reason: reason})); err != nil {
			return nil, err
		}
		if p.Status == model.StatusDoNotContact {
			continue
		}
		applied, err := st.SetProspectStatus(ctx, id, model.StatusDoNotContact)
		if err != nil {
			return nil, err
		}
		if applied {
			ev := model.NewEvent(id, model.SourceOperator, model.StatusChanged{From: p.Status, To: model.StatusDoNotContact})
			if err := st.AppendEvent(ctx, ev); err != nil {
				return nil, err
			}
		}
	}

	zap.L().Info("email suppressed",
		zap.String("email", email),
		zap.String("reason", string(reason)),
		zap.Int("prospects", len(ids)),
		zap.Int("enrollments_stopped", res.EnrollmentsStopped),
	)
	return res, nil
}
