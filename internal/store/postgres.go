package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/db"
	"github.com/sells-group/outreach-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying pool for subsystems that need their own
// transactions (the advisory locker).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS prospects (
	id                  TEXT PRIMARY KEY,
	domain              TEXT NOT NULL UNIQUE,
	status              TEXT NOT NULL DEFAULT 'NEW',
	source              TEXT NOT NULL DEFAULT 'manual',
	score               INTEGER,
	tier                INTEGER,
	language            TEXT NOT NULL DEFAULT '',
	country             TEXT NOT NULL DEFAULT '',
	timezone            TEXT NOT NULL DEFAULT '',
	category            TEXT NOT NULL DEFAULT '',
	contact_form_url    TEXT NOT NULL DEFAULT '',
	contact_form_fields TEXT[] NOT NULL DEFAULT '{}',
	has_captcha         BOOLEAN NOT NULL DEFAULT false,
	rank                DOUBLE PRECISION,
	domain_authority    DOUBLE PRECISION,
	spam_score          INTEGER,
	last_contacted_at   TIMESTAMPTZ,
	next_followup_at    TIMESTAMPTZ,
	last_enriched_at    TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_prospects_status ON prospects(status);

CREATE TABLE IF NOT EXISTS prospect_tags (
	prospect_id TEXT NOT NULL REFERENCES prospects(id) ON DELETE CASCADE,
	tag         TEXT NOT NULL,
	PRIMARY KEY (prospect_id, tag)
);

CREATE TABLE IF NOT EXISTS contacts (
	id             TEXT PRIMARY KEY,
	prospect_id    TEXT NOT NULL REFERENCES prospects(id) ON DELETE CASCADE,
	email          TEXT NOT NULL,
	name           TEXT NOT NULL DEFAULT '',
	validation     TEXT NOT NULL DEFAULT 'unknown',
	opted_out      BOOLEAN NOT NULL DEFAULT false,
	discovered_via TEXT NOT NULL DEFAULT 'manual',
	confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (prospect_id, email)
);

CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts(email);

CREATE TABLE IF NOT EXISTS campaigns (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	language       TEXT NOT NULL,
	categories     TEXT[] NOT NULL DEFAULT '{}',
	countries      TEXT[] NOT NULL DEFAULT '{}',
	min_tier       INTEGER NOT NULL DEFAULT 4,
	active         BOOLEAN NOT NULL DEFAULT true,
	total_enrolled INTEGER NOT NULL DEFAULT 0,
	total_replied  INTEGER NOT NULL DEFAULT 0,
	total_won      INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS enrollments (
	id             TEXT PRIMARY KEY,
	prospect_id    TEXT NOT NULL REFERENCES prospects(id) ON DELETE CASCADE,
	campaign_id    TEXT NOT NULL REFERENCES campaigns(id),
	contact_id     TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'active',
	stopped_reason TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_enrollments_open_prospect
	ON enrollments(prospect_id) WHERE status IN ('active', 'completed');
CREATE INDEX IF NOT EXISTS idx_enrollments_created_at ON enrollments(created_at);

CREATE TABLE IF NOT EXISTS events (
	id            TEXT PRIMARY KEY,
	prospect_id   TEXT NOT NULL REFERENCES prospects(id) ON DELETE CASCADE,
	contact_id    TEXT NOT NULL DEFAULT '',
	enrollment_id TEXT NOT NULL DEFAULT '',
	type          TEXT NOT NULL,
	source        TEXT NOT NULL,
	payload       JSONB NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_events_prospect ON events(prospect_id, created_at);

CREATE TABLE IF NOT EXISTS suppressions (
	email      TEXT PRIMARY KEY,
	reason     TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS backlinks (
	id          TEXT PRIMARY KEY,
	prospect_id TEXT NOT NULL REFERENCES prospects(id) ON DELETE CASCADE,
	target_url  TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const prospectColumns = `id, domain, status, source, score, tier, language, country, timezone, category,
	contact_form_url, contact_form_fields, has_captcha, rank, domain_authority, spam_score,
	last_contacted_at, next_followup_at, last_enriched_at, created_at, updated_at`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Prospects ---

func (s *PostgresStore) CreateProspect(ctx context.Context, p *model.Prospect) error {
	if err := prepareProspect(p); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO prospects (id, domain, status, source, category, language, country, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Domain, string(p.Status), string(p.Source), p.Category, p.Language, p.Country, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return eris.Wrapf(ErrConflict, "prospect domain %s already exists", p.Domain)
		}
		return eris.Wrapf(err, "postgres: insert prospect %s", p.Domain)
	}
	return nil
}

func (s *PostgresStore) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+prospectColumns+` FROM prospects WHERE id = $1`, id)
	p, err := scanPgProspect(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "prospect %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get prospect %s", id)
	}
	return p, nil
}

func (s *PostgresStore) GetProspectByDomain(ctx context.Context, domain string) (*model.Prospect, error) {
	domain = model.NormalizeDomain(domain)
	row := s.pool.QueryRow(ctx, `SELECT `+prospectColumns+` FROM prospects WHERE domain = $1`, domain)
	p, err := scanPgProspect(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "prospect domain %s", domain)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get prospect by domain %s", domain)
	}
	return p, nil
}

func (s *PostgresStore) ListEnrichable(ctx context.Context, filter EnrichableFilter) ([]model.Prospect, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+prospectColumns+` FROM prospects
		 WHERE status = 'NEW'
		    OR (status = 'READY_TO_CONTACT' AND (last_enriched_at IS NULL OR last_enriched_at < $1))
		 ORDER BY created_at, id
		 LIMIT $2`,
		filter.StaleBefore, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list enrichable")
	}
	return collectPgProspects(rows)
}

func (s *PostgresStore) ListEnrollCandidates(ctx context.Context, limit int) ([]model.Prospect, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+prospectColumns+` FROM prospects p
		 WHERE p.status = 'READY_TO_CONTACT'
		   AND NOT EXISTS (
		     SELECT 1 FROM enrollments e
		     WHERE e.prospect_id = p.id AND e.status IN ('active', 'completed'))
		 ORDER BY p.score DESC NULLS LAST, p.created_at, p.id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list enroll candidates")
	}
	return collectPgProspects(rows)
}

func (s *PostgresStore) UpdateEnrichment(ctx context.Context, p *model.Prospect) error {
	fields := p.ContactFormFields
	if fields == nil {
		fields = []string{}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE prospects SET score = $1, tier = $2, language = $3, country = $4, timezone = $5,
		   contact_form_url = $6, contact_form_fields = $7, has_captcha = $8,
		   rank = $9, domain_authority = $10, spam_score = $11, last_enriched_at = $12, updated_at = $13
		 WHERE id = $14`,
		p.Score, p.Tier, p.Language, p.Country, p.Timezone,
		p.ContactFormURL, fields, p.HasCaptcha,
		p.Rank, p.DomainAuthority, p.SpamScore, p.LastEnrichedAt, time.Now().UTC(),
		p.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update enrichment %s", p.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "prospect %s", p.ID)
	}
	return nil
}

func (s *PostgresStore) TransitionStatus(ctx context.Context, id string, from, to model.ProspectStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE prospects SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4 AND `+dncGuard,
		string(to), time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: transition %s %s->%s", id, from, to)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) SetProspectStatus(ctx context.Context, id string, to model.ProspectStatus) (bool, error) {
	if !to.Valid() {
		return false, eris.Errorf("postgres: invalid status %q", to)
	}
	query := `UPDATE prospects SET status = $1, updated_at = $2 WHERE id = $3 AND ` + dncGuard
	if to == model.StatusDoNotContact {
		query = `UPDATE prospects SET status = $1, updated_at = $2 WHERE id = $3`
	}
	tag, err := s.pool.Exec(ctx, query, string(to), time.Now().UTC(), id)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: set status %s -> %s", id, to)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) SetProspectTags(ctx context.Context, prospectID string, tags []string) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM prospect_tags WHERE prospect_id = $1`, prospectID); err != nil {
			return eris.Wrapf(err, "postgres: clear tags %s", prospectID)
		}
		for _, t := range tags {
			if _, err := tx.Exec(ctx,
				`INSERT INTO prospect_tags (prospect_id, tag) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				prospectID, t,
			); err != nil {
				return eris.Wrapf(err, "postgres: insert tag %s", t)
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetProspectTags(ctx context.Context, prospectID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT tag FROM prospect_tags WHERE prospect_id = $1 ORDER BY tag`, prospectID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get tags %s", prospectID)
	}
	tags, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return tags, eris.Wrap(err, "postgres: scan tags")
}

// DeleteProspect removes a prospect and everything attached to it.
func (s *PostgresStore) DeleteProspect(ctx context.Context, id string) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, table := range []string{"events", "enrollments", "contacts", "backlinks", "prospect_tags"} {
			if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE prospect_id = $1`, id); err != nil {
				return eris.Wrapf(err, "postgres: delete %s for %s", table, id)
			}
		}
		tag, err := tx.Exec(ctx, `DELETE FROM prospects WHERE id = $1`, id)
		if err != nil {
			return eris.Wrapf(err, "postgres: delete prospect %s", id)
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrNotFound, "prospect %s", id)
		}
		return nil
	})
}

// --- Contacts ---

func (s *PostgresStore) ListContacts(ctx context.Context, prospectID string) ([]model.Contact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, prospect_id, email, name, validation, opted_out, discovered_via, confidence, created_at
		 FROM contacts WHERE prospect_id = $1 ORDER BY created_at, id`,
		prospectID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list contacts %s", prospectID)
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		var validation, via string
		if err := rows.Scan(&c.ID, &c.ProspectID, &c.Email, &c.Name, &validation, &c.OptedOut, &via, &c.Confidence, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		c.Validation = model.Validation(validation)
		c.DiscoveredVia = model.DiscoveredVia(via)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list contacts iterate")
}

// CreateContacts inserts contacts, skipping emails the prospect already has.
func (s *PostgresStore) CreateContacts(ctx context.Context, contacts []model.Contact) error {
	if len(contacts) == 0 {
		return nil
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for i := range contacts {
			c := &contacts[i]
			prepareContact(c)
			if _, err := tx.Exec(ctx,
				`INSERT INTO contacts (id, prospect_id, email, name, validation, opted_out, discovered_via, confidence, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				 ON CONFLICT (prospect_id, email) DO NOTHING`,
				c.ID, c.ProspectID, c.Email, c.Name, string(c.Validation), c.OptedOut, string(c.DiscoveredVia), c.Confidence, c.CreatedAt,
			); err != nil {
				return eris.Wrapf(err, "postgres: insert contact %s", c.Email)
			}
		}
		return nil
	})
}

// OptOutEmail flags every contact with the address and returns the IDs of
// the prospects they belong to.
func (s *PostgresStore) OptOutEmail(ctx context.Context, email string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE contacts SET opted_out = true WHERE email = $1 RETURNING prospect_id`,
		model.NormalizeEmail(email),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: opt out email")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, eris.Wrap(err, "postgres: scan opted-out prospects")
}

// --- Campaigns ---

func (s *PostgresStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	categories, countries := c.Categories, c.Countries
	if categories == nil {
		categories = []string{}
	}
	if countries == nil {
		countries = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO campaigns (id, name, language, categories, countries, min_tier, active, total_enrolled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.Name, c.Language, categories, countries, c.MinTier, c.Active, c.TotalEnrolled, c.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert campaign %s", c.Name)
}

// ListActiveCampaigns returns active campaigns in the given language in a
// stable evaluation order (oldest first).
func (s *PostgresStore) ListActiveCampaigns(ctx context.Context, language string) ([]model.Campaign, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, language, categories, countries, min_tier, active,
		        total_enrolled, total_replied, total_won, created_at
		 FROM campaigns WHERE active AND language = $1
		 ORDER BY created_at, id`,
		language,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active campaigns")
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		var c model.Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Language, &c.Categories, &c.Countries, &c.MinTier, &c.Active,
			&c.TotalEnrolled, &c.TotalReplied, &c.TotalWon, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan campaign")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list campaigns iterate")
}

func (s *PostgresStore) IncrementCampaignEnrolled(ctx context.Context, campaignID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET total_enrolled = total_enrolled + 1 WHERE id = $1`, campaignID)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment campaign %s", campaignID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "campaign %s", campaignID)
	}
	return nil
}

// --- Enrollments ---

// CreateEnrollment inserts an enrollment. A second open enrollment for the
// same prospect is rejected with ErrConflict.
func (s *PostgresStore) CreateEnrollment(ctx context.Context, e *model.Enrollment) error {
	prepareEnrollment(e)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrollments (id, prospect_id, campaign_id, contact_id, status, stopped_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.ProspectID, e.CampaignID, e.ContactID, string(e.Status), e.StoppedReason, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return eris.Wrapf(ErrConflict, "prospect %s already has an open enrollment", e.ProspectID)
		}
		return eris.Wrapf(err, "postgres: insert enrollment for %s", e.ProspectID)
	}
	return nil
}

func (s *PostgresStore) GetOpenEnrollment(ctx context.Context, prospectID string) (*model.Enrollment, error) {
	var e model.Enrollment
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, prospect_id, campaign_id, contact_id, status, stopped_reason, created_at, updated_at
		 FROM enrollments WHERE prospect_id = $1 AND status IN ('active', 'completed')
		 ORDER BY created_at DESC LIMIT 1`,
		prospectID,
	).Scan(&e.ID, &e.ProspectID, &e.CampaignID, &e.ContactID, &status, &e.StoppedReason, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get open enrollment %s", prospectID)
	}
	e.Status = model.EnrollmentStatus(status)
	return &e, nil
}

func (s *PostgresStore) StopEnrollment(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrollments SET status = 'stopped', stopped_reason = $1, updated_at = $2 WHERE id = $3`,
		reason, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: stop enrollment %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "enrollment %s", id)
	}
	return nil
}

func (s *PostgresStore) StopProspectEnrollments(ctx context.Context, prospectID, reason string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrollments SET status = 'stopped', stopped_reason = $1, updated_at = $2
		 WHERE prospect_id = $3 AND status = 'active'`,
		reason, time.Now().UTC(), prospectID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: stop enrollments for %s", prospectID)
	}
	return int(tag.RowsAffected()), nil
}

// CountEnrollmentsSince is a live aggregate; concurrent gatekeepers may both
// read a count just under the cap.
func (s *PostgresStore) CountEnrollmentsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM enrollments WHERE created_at >= $1`, since).Scan(&n)
	return n, eris.Wrap(err, "postgres: count enrollments")
}

// --- Events ---

func (s *PostgresStore) AppendEvent(ctx context.Context, ev model.Event) error {
	payload, err := model.EncodePayload(ev.Payload)
	if err != nil {
		return err
	}
	if ev.ID == "" {
		ev.ID = newID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO events (id, prospect_id, contact_id, enrollment_id, type, source, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.ProspectID, ev.ContactID, ev.EnrollmentID, string(ev.Type), string(ev.Source), payload, ev.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: append %s event", ev.Type)
}

func (s *PostgresStore) ListEvents(ctx context.Context, prospectID string) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, prospect_id, contact_id, enrollment_id, type, source, payload, created_at
		 FROM events WHERE prospect_id = $1 ORDER BY created_at, id`,
		prospectID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list events %s", prospectID)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var ev model.Event
		var typ, source string
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.ProspectID, &ev.ContactID, &ev.EnrollmentID, &typ, &source, &payload, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		ev.Type = model.EventType(typ)
		ev.Source = model.EventSource(source)
		if ev.Payload, err = model.DecodePayload(ev.Type, payload); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list events iterate")
}

// CountEventsSince counts events by type written at or after since.
func (s *PostgresStore) CountEventsSince(ctx context.Context, since time.Time) (map[model.EventType]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT type, count(*) FROM events WHERE created_at >= $1 GROUP BY type`, since)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count events")
	}
	defer rows.Close()

	out := make(map[model.EventType]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event count")
		}
		out[model.EventType(typ)] = n
	}
	return out, eris.Wrap(rows.Err(), "postgres: count events iterate")
}

// --- Suppression list ---

// UpsertSuppression adds an email to the deny-list. Existing entries keep
// their original reason.
func (s *PostgresStore) UpsertSuppression(ctx context.Context, sup model.Suppression) error {
	if sup.CreatedAt.IsZero() {
		sup.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO suppressions (email, reason, source, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO NOTHING`,
		model.NormalizeEmail(sup.Email), string(sup.Reason), sup.Source, sup.CreatedAt,
	)
	return eris.Wrap(err, "postgres: upsert suppression")
}

func (s *PostgresStore) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM suppressions WHERE email = $1)`,
		model.NormalizeEmail(email),
	).Scan(&exists)
	return exists, eris.Wrap(err, "postgres: check suppression")
}

// --- Backlinks ---

func (s *PostgresStore) CreateBacklink(ctx context.Context, b *model.Backlink) error {
	if b.ID == "" {
		b.ID = newID()
	}
	if b.Status == "" {
		b.Status = "pending"
	}
	b.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO backlinks (id, prospect_id, target_url, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.ProspectID, b.TargetURL, b.Status, b.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert backlink")
}

// --- scanning ---

func scanPgProspect(row pgx.Row) (*model.Prospect, error) {
	var p model.Prospect
	var status, source string
	err := row.Scan(&p.ID, &p.Domain, &status, &source, &p.Score, &p.Tier,
		&p.Language, &p.Country, &p.Timezone, &p.Category,
		&p.ContactFormURL, &p.ContactFormFields, &p.HasCaptcha,
		&p.Rank, &p.DomainAuthority, &p.SpamScore,
		&p.LastContactedAt, &p.NextFollowupAt, &p.LastEnrichedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = model.ProspectStatus(status)
	p.Source = model.ProspectSource(source)
	return &p, nil
}

func collectPgProspects(rows pgx.Rows) ([]model.Prospect, error) {
	defer rows.Close()
	var out []model.Prospect
	for rows.Next() {
		p, err := scanPgProspect(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan prospect")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list prospects iterate")
}
