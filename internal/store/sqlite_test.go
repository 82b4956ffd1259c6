package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedProspect(t *testing.T, st Store, domain string) *model.Prospect {
	t.Helper()
	p := &model.Prospect{Domain: domain, Category: "blogger"}
	require.NoError(t, st.CreateProspect(context.Background(), p))
	return p
}

func seedCampaign(t *testing.T, st Store, name, lang string) *model.Campaign {
	t.Helper()
	c := &model.Campaign{Name: name, Language: lang, MinTier: 4, Active: true}
	require.NoError(t, st.CreateCampaign(context.Background(), c))
	return c
}

// --- Prospects ---

func TestSQLite_CreateProspect_NormalizesAndDefaults(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	p := &model.Prospect{Domain: "https://www.Example.com/blog"}
	require.NoError(t, st.CreateProspect(ctx, p))
	assert.Equal(t, "example.com", p.Domain)
	assert.Equal(t, model.StatusNew, p.Status)

	got, err := st.GetProspectByDomain(ctx, "EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, model.SourceManual, got.Source)
	assert.Nil(t, got.Score)
	assert.Nil(t, got.LastEnrichedAt)
	assert.Empty(t, got.ContactFormFields)
}

func TestSQLite_CreateProspect_DuplicateDomainConflicts(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedProspect(t, st, "example.com")

	err := st.CreateProspect(context.Background(), &model.Prospect{Domain: "www.example.com"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestSQLite_GetProspect_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetProspect(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_UpdateEnrichment_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedProspect(t, st, "example.fr")

	score, tier, spam := 66, 2, 0
	rank, da := 8.0, 60.0
	now := time.Now().UTC().Truncate(time.Second)
	p.Score, p.Tier, p.SpamScore = &score, &tier, &spam
	p.Rank, p.DomainAuthority = &rank, &da
	p.Language, p.Country, p.Timezone = "fr", "FR", "Europe/Paris"
	p.ContactFormURL = "https://example.fr/contact"
	p.ContactFormFields = []string{"email", "message"}
	p.HasCaptcha = true
	p.LastEnrichedAt = &now
	require.NoError(t, st.UpdateEnrichment(ctx, p))

	got, err := st.GetProspect(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Score)
	assert.Equal(t, 66, *got.Score)
	assert.Equal(t, 2, *got.Tier)
	assert.InDelta(t, 8.0, *got.Rank, 0.001)
	assert.Equal(t, "Europe/Paris", got.Timezone)
	assert.Equal(t, []string{"email", "message"}, got.ContactFormFields)
	assert.True(t, got.HasCaptcha)
	require.NotNil(t, got.LastEnrichedAt)
	assert.True(t, now.Equal(*got.LastEnrichedAt))
	// Enrichment writes never touch status.
	assert.Equal(t, model.StatusNew, got.Status)
}

func TestSQLite_TransitionStatus_CompareAndSet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedProspect(t, st, "example.com")

	ok, err := st.TransitionStatus(ctx, p.ID, model.StatusNew, model.StatusEnriching)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second caller loses.
	ok, err = st.TransitionStatus(ctx, p.ID, model.StatusNew, model.StatusEnriching)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_DoNotContactIsAbsorbing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedProspect(t, st, "example.com")

	ok, err := st.SetProspectStatus(ctx, p.ID, model.StatusDoNotContact)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.SetProspectStatus(ctx, p.ID, model.StatusContactedEmail)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.TransitionStatus(ctx, p.ID, model.StatusDoNotContact, model.StatusEnriching)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := st.GetProspect(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDoNotContact, got.Status)
}

func TestSQLite_SetProspectStatus_RejectsUnknown(t *testing.T) {
	st := newTestSQLiteStore(t)
	p := seedProspect(t, st, "example.com")

	_, err := st.SetProspectStatus(context.Background(), p.ID, model.ProspectStatus("MAYBE"))
	assert.Error(t, err)
}

func TestSQLite_ListEnrichable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	fresh := seedProspect(t, st, "new.com")
	stale := seedProspect(t, st, "stale.com")
	recent := seedProspect(t, st, "recent.com")
	dnc := seedProspect(t, st, "dnc.com")

	old := time.Now().UTC().Add(-90 * 24 * time.Hour)
	justNow := time.Now().UTC()
	stale.LastEnrichedAt = &old
	recent.LastEnrichedAt = &justNow
	require.NoError(t, st.UpdateEnrichment(ctx, stale))
	require.NoError(t, st.UpdateEnrichment(ctx, recent))
	for _, id := range []string{stale.ID, recent.ID} {
		_, err := st.SetProspectStatus(ctx, id, model.StatusReadyToContact)
		require.NoError(t, err)
	}
	_, err := st.SetProspectStatus(ctx, dnc.ID, model.StatusDoNotContact)
	require.NoError(t, err)

	got, err := st.ListEnrichable(ctx, EnrichableFilter{StaleBefore: time.Now().Add(-30 * 24 * time.Hour), Limit: 10})
	require.NoError(t, err)

	var ids []string
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{fresh.ID, stale.ID}, ids)
}

func TestSQLite_Tags(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedProspect(t, st, "example.com")

	require.NoError(t, st.SetProspectTags(ctx, p.ID, []string{"tier:2", "category:blogger"}))
	require.NoError(t, st.SetProspectTags(ctx, p.ID, []string{"tier:1", "category:blogger", "tier:1"}))

	tags, err := st.GetProspectTags(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"category:blogger", "tier:1"}, tags)
}

// --- Contacts & suppression ---

func TestSQLite_Contacts_OrderAndDedup(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedProspect(t, st, "example.com")
	base := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, st.CreateContacts(ctx, []model.Contact{
		{ProspectID: p.ID, Email: "B@Example.com", Validation: model.ValidationRisky, CreatedAt: base.Add(time.Minute)},
		{ProspectID: p.ID, Email: "a@example.com", Validation: model.ValidationVerified, CreatedAt: base},
	}))
	require.NoError(t, st.CreateContacts(ctx, []model.Contact{
		{ProspectID: p.ID, Email: "b@example.com", Validation: model.ValidationVerified},
	}))

	contacts, err := st.ListContacts(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "a@example.com", contacts[0].Email)
	assert.Equal(t, "b@example.com", contacts[1].Email)
	assert.Equal(t, model.ValidationRisky, contacts[1].Validation)
}

func TestSQLite_OptOutEmail(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p1 := seedProspect(t, st, "one.com")
	p2 := seedProspect(t, st, "two.com")
	require.NoError(t, st.CreateContacts(ctx, []model.Contact{
		{ProspectID: p1.ID, Email: "shared@agency.com"},
		{ProspectID: p2.ID, Email: "shared@agency.com"},
	}))

	ids, err := st.OptOutEmail(ctx, " Shared@Agency.com ")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{p1.ID, p2.ID}, ids)

	contacts, err := st.ListContacts(ctx, p1.ID)
	require.NoError(t, err)
	assert.True(t, contacts[0].OptedOut)
}

func TestSQLite_Suppression_AddOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertSuppression(ctx, model.Suppression{Email: "Jane@Example.com", Reason: model.SuppressBounce}))
	require.NoError(t, st.UpsertSuppression(ctx, model.Suppression{Email: "jane@example.com", Reason: model.SuppressManual}))

	ok, err := st.IsSuppressed(ctx, "JANE@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.IsSuppressed(ctx, "john@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

// --- Campaigns & enrollments ---

func TestSQLite_ListActiveCampaigns_FiltersAndOrders(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	older := &model.Campaign{Name: "older", Language: "fr", MinTier: 3, Active: true,
		Categories: []string{"blogger"}, CreatedAt: time.Now().UTC().Add(-48 * time.Hour)}
	newer := &model.Campaign{Name: "newer", Language: "fr", MinTier: 3, Active: true}
	inactive := &model.Campaign{Name: "off", Language: "fr", MinTier: 3}
	english := &model.Campaign{Name: "en", Language: "en", MinTier: 3, Active: true}
	for _, c := range []*model.Campaign{newer, older, inactive, english} {
		require.NoError(t, st.CreateCampaign(ctx, c))
	}

	got, err := st.ListActiveCampaigns(ctx, "fr")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "older", got[0].Name)
	assert.Equal(t, []string{"blogger"}, got[0].Categories)
	assert.Nil(t, got[0].Countries)
	assert.Equal(t, "newer", got[1].Name)
}

func TestSQLite_Enrollment_OneOpenPerProspect(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedProspect(t, st, "example.com")
	c := seedCampaign(t, st, "fr-bloggers", "fr")

	first := &model.Enrollment{ProspectID: p.ID, CampaignID: c.ID}
	require.NoError(t, st.CreateEnrollment(ctx, first))

	err := st.CreateEnrollment(ctx, &model.Enrollment{ProspectID: p.ID, CampaignID: c.ID})
	assert.True(t, errors.Is(err, ErrConflict))

	open, err := st.GetOpenEnrollment(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, first.ID, open.ID)

	// A stopped enrollment frees the slot.
	require.NoError(t, st.StopEnrollment(ctx, first.ID, "delivery_failed"))
	open, err = st.GetOpenEnrollment(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, open)
	require.NoError(t, st.CreateEnrollment(ctx, &model.Enrollment{ProspectID: p.ID, CampaignID: c.ID}))
}

func TestSQLite_CountEnrollmentsSince(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := seedCampaign(t, st, "fr", "fr")
	for _, d := range []string{"a.com", "b.com", "c.com"} {
		p := seedProspect(t, st, d)
		require.NoError(t, st.CreateEnrollment(ctx, &model.Enrollment{ProspectID: p.ID, CampaignID: c.ID}))
	}

	n, err := st.CountEnrollmentsSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = st.CountEnrollmentsSince(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLite_ListEnrollCandidates_SkipsEnrolled(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := seedCampaign(t, st, "fr", "fr")

	enrolled := seedProspect(t, st, "enrolled.com")
	ready := seedProspect(t, st, "ready.com")
	seedProspect(t, st, "new.com")
	for _, id := range []string{enrolled.ID, ready.ID} {
		_, err := st.SetProspectStatus(ctx, id, model.StatusReadyToContact)
		require.NoError(t, err)
	}
	require.NoError(t, st.CreateEnrollment(ctx, &model.Enrollment{ProspectID: enrolled.ID, CampaignID: c.ID}))

	got, err := st.ListEnrollCandidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ready.ID, got[0].ID)
}

func TestSQLite_IncrementCampaignEnrolled(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := seedCampaign(t, st, "fr", "fr")

	require.NoError(t, st.IncrementCampaignEnrolled(ctx, c.ID))
	require.NoError(t, st.IncrementCampaignEnrolled(ctx, c.ID))
	assert.True(t, errors.Is(st.IncrementCampaignEnrolled(ctx, "missing"), ErrNotFound))

	got, err := st.ListActiveCampaigns(ctx, "fr")
	require.NoError(t, err)
	assert.Equal(t, 2, got[0].TotalEnrolled)
}

// --- Events & cascade ---

func TestSQLite_Events_RoundTripTypedPayload(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedProspect(t, st, "example.com")

	require.NoError(t, st.AppendEvent(ctx, model.NewEvent(p.ID, model.SourceEnrichment, model.EnrichmentStarted{Trigger: "batch"})))
	require.NoError(t, st.AppendEvent(ctx, model.NewEvent(p.ID, model.SourceAutoEnroll, model.AutoEnrollSkipped{Reason: "throttled"})))

	events, err := st.ListEvents(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventEnrichmentStarted, events[0].Type)
	assert.Equal(t, model.EnrichmentStarted{Trigger: "batch"}, events[0].Payload)
	assert.Equal(t, model.AutoEnrollSkipped{Reason: "throttled"}, events[1].Payload)
}

func TestSQLite_CountEventsSince(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedProspect(t, st, "example.com")

	old := model.NewEvent(p.ID, model.SourceEnrichment, model.EnrichmentFailed{Stage: "persist", Error: "disk full"})
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, st.AppendEvent(ctx, old))
	for i := 0; i < 2; i++ {
		require.NoError(t, st.AppendEvent(ctx, model.NewEvent(p.ID, model.SourceEnrichment, model.EnrichmentCompleted{Score: 50, Tier: 2})))
	}
	require.NoError(t, st.AppendEvent(ctx, model.NewEvent(p.ID, model.SourceEnrichment, model.EnrichmentFailed{Stage: "persist", Error: "disk full"})))

	counts, err := st.CountEventsSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[model.EventType]int{
		model.EventEnrichmentCompleted: 2,
		model.EventEnrichmentFailed:    1,
	}, counts)
}

func TestSQLite_DeleteProspect_Cascades(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedProspect(t, st, "example.com")
	keep := seedProspect(t, st, "keep.com")
	c := seedCampaign(t, st, "fr", "fr")

	require.NoError(t, st.CreateContacts(ctx, []model.Contact{{ProspectID: p.ID, Email: "a@example.com"}}))
	require.NoError(t, st.CreateEnrollment(ctx, &model.Enrollment{ProspectID: p.ID, CampaignID: c.ID}))
	require.NoError(t, st.AppendEvent(ctx, model.NewEvent(p.ID, model.SourceOperator, model.StatusChanged{From: model.StatusNew, To: model.StatusWon})))
	require.NoError(t, st.CreateBacklink(ctx, &model.Backlink{ProspectID: p.ID, TargetURL: "https://ours.com"}))
	require.NoError(t, st.SetProspectTags(ctx, p.ID, []string{"tier:1"}))
	require.NoError(t, st.AppendEvent(ctx, model.NewEvent(keep.ID, model.SourceOperator, model.EnrichmentStarted{Trigger: "manual"})))

	require.NoError(t, st.DeleteProspect(ctx, p.ID))

	_, err := st.GetProspect(ctx, p.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	contacts, err := st.ListContacts(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, contacts)
	events, err := st.ListEvents(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
	open, err := st.GetOpenEnrollment(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, open)

	kept, err := st.ListEvents(ctx, keep.ID)
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	assert.True(t, errors.Is(st.DeleteProspect(ctx, p.ID), ErrNotFound))
}
