package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrConflict is returned when a write violates a uniqueness constraint
	// (duplicate prospect domain, second open enrollment for a prospect).
	ErrConflict = eris.New("store: conflict")
)

// EnrichableFilter selects prospects for an enrichment sweep: every NEW
// prospect plus READY_TO_CONTACT prospects last enriched before StaleBefore.
type EnrichableFilter struct {
	StaleBefore time.Time
	Limit       int
}

// Store defines the persistence interface for prospects and everything
// attached to them.
type Store interface {
	// Prospects
	CreateProspect(ctx context.Context, p *model.Prospect) error
	GetProspect(ctx context.Context, id string) (*model.Prospect, error)
	GetProspectByDomain(ctx context.Context, domain string) (*model.Prospect, error)
	ListEnrichable(ctx context.Context, filter EnrichableFilter) ([]model.Prospect, error)
	ListEnrollCandidates(ctx context.Context, limit int) ([]model.Prospect, error)
	UpdateEnrichment(ctx context.Context, p *model.Prospect) error
	TransitionStatus(ctx context.Context, id string, from, to model.ProspectStatus) (bool, error)
	SetProspectStatus(ctx context.Context, id string, to model.ProspectStatus) (bool, error)
	SetProspectTags(ctx context.Context, prospectID string, tags []string) error
	GetProspectTags(ctx context.Context, prospectID string) ([]string, error)
	DeleteProspect(ctx context.Context, id string) error

	// Contacts
	ListContacts(ctx context.Context, prospectID string) ([]model.Contact, error)
	CreateContacts(ctx context.Context, contacts []model.Contact) error
	OptOutEmail(ctx context.Context, email string) ([]string, error)

	// Campaigns
	CreateCampaign(ctx context.Context, c *model.Campaign) error
	ListActiveCampaigns(ctx context.Context, language string) ([]model.Campaign, error)
	IncrementCampaignEnrolled(ctx context.Context, campaignID string) error

	// Enrollments
	CreateEnrollment(ctx context.Context, e *model.Enrollment) error
	GetOpenEnrollment(ctx context.Context, prospectID string) (*model.Enrollment, error)
	StopEnrollment(ctx context.Context, id, reason string) error
	StopProspectEnrollments(ctx context.Context, prospectID, reason string) (int, error)
	CountEnrollmentsSince(ctx context.Context, since time.Time) (int, error)

	// Events
	AppendEvent(ctx context.Context, ev model.Event) error
	ListEvents(ctx context.Context, prospectID string) ([]model.Event, error)
	CountEventsSince(ctx context.Context, since time.Time) (map[model.EventType]int, error)

	// Suppression list
	UpsertSuppression(ctx context.Context, s model.Suppression) error
	IsSuppressed(ctx context.Context, email string) (bool, error)

	// Backlinks
	CreateBacklink(ctx context.Context, b *model.Backlink) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// prepareProspect fills generated fields before insert.
func prepareProspect(p *model.Prospect) error {
	p.Domain = model.NormalizeDomain(p.Domain)
	if p.Domain == "" {
		return eris.New("store: prospect domain is empty")
	}
	if p.ID == "" {
		p.ID = newID()
	}
	if p.Status == "" {
		p.Status = model.StatusNew
	}
	if p.Source == "" {
		p.Source = model.SourceManual
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

func prepareContact(c *model.Contact) {
	if c.ID == "" {
		c.ID = newID()
	}
	c.Email = model.NormalizeEmail(c.Email)
	if c.Validation == "" {
		c.Validation = model.ValidationUnknown
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
}

func prepareEnrollment(e *model.Enrollment) {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.Status == "" {
		e.Status = model.EnrollmentActive
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
}

// dncGuard is appended to status writes so no writer can leave
// DO_NOT_CONTACT.
const dncGuard = `status <> 'DO_NOT_CONTACT'`

func newID() string {
	return uuid.New().String()
}
