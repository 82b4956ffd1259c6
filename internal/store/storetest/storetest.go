// Package storetest provides SQLite-backed fixtures for tests in other
// packages.
package storetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// New returns a migrated SQLite store in a temp directory.
func New(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// ReadyProspect is the fixture for an enriched prospect.
type ReadyProspect struct {
	Domain   string
	Category string
	Language string
	Country  string
	Score    int
	Tier     int
	// Emails become contacts in order; the first is the primary.
	Emails     []string
	Validation model.Validation
}

// SeedReady creates a READY_TO_CONTACT prospect with contacts.
func SeedReady(t *testing.T, st store.Store, r ReadyProspect) *model.Prospect {
	t.Helper()
	ctx := context.Background()

	p := &model.Prospect{Domain: r.Domain, Category: r.Category, Language: r.Language, Country: r.Country}
	require.NoError(t, st.CreateProspect(ctx, p))

	now := time.Now().UTC()
	p.Score, p.Tier, p.LastEnrichedAt = &r.Score, &r.Tier, &now
	require.NoError(t, st.UpdateEnrichment(ctx, p))

	for _, step := range [][2]model.ProspectStatus{
		{model.StatusNew, model.StatusEnriching},
		{model.StatusEnriching, model.StatusReadyToContact},
	} {
		ok, err := st.TransitionStatus(ctx, p.ID, step[0], step[1])
		require.NoError(t, err)
		require.True(t, ok)
	}

	validation := r.Validation
	if validation == "" {
		validation = model.ValidationVerified
	}
	contacts := make([]model.Contact, 0, len(r.Emails))
	for _, e := range r.Emails {
		contacts = append(contacts, model.Contact{ProspectID: p.ID, Email: e, Validation: validation, DiscoveredVia: model.ViaManual})
	}
	require.NoError(t, st.CreateContacts(ctx, contacts))

	got, err := st.GetProspect(ctx, p.ID)
	require.NoError(t, err)
	return got
}

// SeedCampaign creates an active campaign.
func SeedCampaign(t *testing.T, st store.Store, c model.Campaign) *model.Campaign {
	t.Helper()
	c.Active = true
	require.NoError(t, st.CreateCampaign(context.Background(), &c))
	return &c
}

// EventTypes lists the types of a prospect's events in order.
func EventTypes(t *testing.T, st store.Store, prospectID string) []model.EventType {
	t.Helper()
	events, err := st.ListEvents(context.Background(), prospectID)
	require.NoError(t, err)
	out := make([]model.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}
