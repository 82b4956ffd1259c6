package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/outreach-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs single-node
// deployments and the package's integration tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection keeps pragmas and transactions on one handle.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	contact_form_fields TEXT NOT NULL DEFAULT '[]',
	has_captcha         BOOLEAN NOT NULL DEFAULT 0,
	rank                REAL,
	domain_authority    REAL,
	spam_score          INTEGER,
	last_contacted_at   DATETIME,
	next_followup_at    DATETIME,
	last_enriched_at    DATETIME,
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
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
	opted_out      BOOLEAN NOT NULL DEFAULT 0,
	discovered_via TEXT NOT NULL DEFAULT 'manual',
	confidence     REAL NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL,
	UNIQUE (prospect_id, email)
);

CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts(email);

CREATE TABLE IF NOT EXISTS campaigns (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	language       TEXT NOT NULL,
	categories     TEXT NOT NULL DEFAULT '[]',
	countries      TEXT NOT NULL DEFAULT '[]',
	min_tier       INTEGER NOT NULL DEFAULT 4,
	active         BOOLEAN NOT NULL DEFAULT 1,
	total_enrolled INTEGER NOT NULL DEFAULT 0,
	total_replied  INTEGER NOT NULL DEFAULT 0,
	total_won      INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS enrollments (
	id             TEXT PRIMARY KEY,
	prospect_id    TEXT NOT NULL REFERENCES prospects(id) ON DELETE CASCADE,
	campaign_id    TEXT NOT NULL REFERENCES campaigns(id),
	contact_id     TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'active',
	stopped_reason TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
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
	payload       TEXT NOT NULL DEFAULT '{}',
	created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_prospect ON events(prospect_id, created_at);

CREATE TABLE IF NOT EXISTS suppressions (
	email      TEXT PRIMARY KEY,
	reason     TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS backlinks (
	id          TEXT PRIMARY KEY,
	prospect_id TEXT NOT NULL REFERENCES prospects(id) ON DELETE CASCADE,
	target_url  TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	created_at  DATETIME NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Prospects ---

func (s *SQLiteStore) CreateProspect(ctx context.Context, p *model.Prospect) error {
	if err := prepareProspect(p); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prospects (id, domain, status, source, category, language, country, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Domain, string(p.Status), string(p.Source), p.Category, p.Language, p.Country, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return eris.Wrapf(ErrConflict, "prospect domain %s already exists", p.Domain)
		}
		return eris.Wrapf(err, "sqlite: insert prospect %s", p.Domain)
	}
	return nil
}

func (s *SQLiteStore) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+prospectColumns+` FROM prospects WHERE id = ?`, id)
	p, err := scanSQLiteProspect(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "prospect %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get prospect %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) GetProspectByDomain(ctx context.Context, domain string) (*model.Prospect, error) {
	domain = model.NormalizeDomain(domain)
	row := s.db.QueryRowContext(ctx, `SELECT `+prospectColumns+` FROM prospects WHERE domain = ?`, domain)
	p, err := scanSQLiteProspect(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "prospect domain %s", domain)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get prospect by domain %s", domain)
	}
	return p, nil
}

func (s *SQLiteStore) ListEnrichable(ctx context.Context, filter EnrichableFilter) ([]model.Prospect, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prospectColumns+` FROM prospects
		 WHERE status = 'NEW'
		    OR (status = 'READY_TO_CONTACT' AND (last_enriched_at IS NULL OR last_enriched_at < ?))
		 ORDER BY created_at, id
		 LIMIT ?`,
		filter.StaleBefore.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list enrichable")
	}
	return collectSQLiteProspects(rows)
}

func (s *SQLiteStore) ListEnrollCandidates(ctx context.Context, limit int) ([]model.Prospect, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prospectColumns+` FROM prospects p
		 WHERE p.status = 'READY_TO_CONTACT'
		   AND NOT EXISTS (
		     SELECT 1 FROM enrollments e
		     WHERE e.prospect_id = p.id AND e.status IN ('active', 'completed'))
		 ORDER BY p.score DESC NULLS LAST, p.created_at, p.id
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list enroll candidates")
	}
	return collectSQLiteProspects(rows)
}

func (s *SQLiteStore) UpdateEnrichment(ctx context.Context, p *model.Prospect) error {
	fields, err := encodeList(p.ContactFormFields)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE prospects SET score = ?, tier = ?, language = ?, country = ?, timezone = ?,
		   contact_form_url = ?, contact_form_fields = ?, has_captcha = ?,
		   rank = ?, domain_authority = ?, spam_score = ?, last_enriched_at = ?, updated_at = ?
		 WHERE id = ?`,
		p.Score, p.Tier, p.Language, p.Country, p.Timezone,
		p.ContactFormURL, fields, p.HasCaptcha,
		p.Rank, p.DomainAuthority, p.SpamScore, utcPtr(p.LastEnrichedAt), time.Now().UTC(),
		p.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update enrichment %s", p.ID)
	}
	return checkRowsAffected(res, "prospect", p.ID)
}

func (s *SQLiteStore) TransitionStatus(ctx context.Context, id string, from, to model.ProspectStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE prospects SET status = ?, updated_at = ? WHERE id = ? AND status = ? AND `+dncGuard,
		string(to), time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: transition %s %s->%s", id, from, to)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) SetProspectStatus(ctx context.Context, id string, to model.ProspectStatus) (bool, error) {
	if !to.Valid() {
		return false, eris.Errorf("sqlite: invalid status %q", to)
	}
	query := `UPDATE prospects SET status = ?, updated_at = ? WHERE id = ? AND ` + dncGuard
	if to == model.StatusDoNotContact {
		query = `UPDATE prospects SET status = ?, updated_at = ? WHERE id = ?`
	}
	res, err := s.db.ExecContext(ctx, query, string(to), time.Now().UTC(), id)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: set status %s -> %s", id, to)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) SetProspectTags(ctx context.Context, prospectID string, tags []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM prospect_tags WHERE prospect_id = ?`, prospectID); err != nil {
			return eris.Wrapf(err, "sqlite: clear tags %s", prospectID)
		}
		for _, t := range tags {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO prospect_tags (prospect_id, tag) VALUES (?, ?)`, prospectID, t,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert tag %s", t)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetProspectTags(ctx context.Context, prospectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM prospect_tags WHERE prospect_id = ? ORDER BY tag`, prospectID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get tags %s", prospectID)
	}
	return collectStrings(rows)
}

func (s *SQLiteStore) DeleteProspect(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"events", "enrollments", "contacts", "backlinks", "prospect_tags"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE prospect_id = ?`, id); err != nil {
				return eris.Wrapf(err, "sqlite: delete %s for %s", table, id)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM prospects WHERE id = ?`, id)
		if err != nil {
			return eris.Wrapf(err, "sqlite: delete prospect %s", id)
		}
		return checkRowsAffected(res, "prospect", id)
	})
}

// --- Contacts ---

func (s *SQLiteStore) ListContacts(ctx context.Context, prospectID string) ([]model.Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prospect_id, email, name, validation, opted_out, discovered_via, confidence, created_at
		 FROM contacts WHERE prospect_id = ? ORDER BY created_at, id`,
		prospectID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list contacts %s", prospectID)
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		var validation, via string
		if err := rows.Scan(&c.ID, &c.ProspectID, &c.Email, &c.Name, &validation, &c.OptedOut, &via, &c.Confidence, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact")
		}
		c.Validation = model.Validation(validation)
		c.DiscoveredVia = model.DiscoveredVia(via)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list contacts iterate")
}

func (s *SQLiteStore) CreateContacts(ctx context.Context, contacts []model.Contact) error {
	if len(contacts) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for i := range contacts {
			c := &contacts[i]
			prepareContact(c)
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO contacts (id, prospect_id, email, name, validation, opted_out, discovered_via, confidence, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				c.ID, c.ProspectID, c.Email, c.Name, string(c.Validation), c.OptedOut, string(c.DiscoveredVia), c.Confidence, c.CreatedAt.UTC(),
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert contact %s", c.Email)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) OptOutEmail(ctx context.Context, email string) ([]string, error) {
	email = model.NormalizeEmail(email)
	var ids []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT DISTINCT prospect_id FROM contacts WHERE email = ? ORDER BY prospect_id`, email)
		if err != nil {
			return eris.Wrap(err, "sqlite: find contacts by email")
		}
		if ids, err = collectStrings(rows); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE contacts SET opted_out = 1 WHERE email = ?`, email)
		return eris.Wrap(err, "sqlite: opt out email")
	})
	return ids, err
}

// --- Campaigns ---

func (s *SQLiteStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	categories, err := encodeList(c.Categories)
	if err != nil {
		return err
	}
	countries, err := encodeList(c.Countries)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, name, language, categories, countries, min_tier, active, total_enrolled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Language, categories, countries, c.MinTier, c.Active, c.TotalEnrolled, c.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert campaign %s", c.Name)
}

func (s *SQLiteStore) ListActiveCampaigns(ctx context.Context, language string) ([]model.Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, language, categories, countries, min_tier, active,
		        total_enrolled, total_replied, total_won, created_at
		 FROM campaigns WHERE active = 1 AND language = ?
		 ORDER BY created_at, id`,
		language,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active campaigns")
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		var c model.Campaign
		var categories, countries string
		if err := rows.Scan(&c.ID, &c.Name, &c.Language, &categories, &countries, &c.MinTier, &c.Active,
			&c.TotalEnrolled, &c.TotalReplied, &c.TotalWon, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan campaign")
		}
		if c.Categories, err = decodeList(categories); err != nil {
			return nil, err
		}
		if c.Countries, err = decodeList(countries); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list campaigns iterate")
}

func (s *SQLiteStore) IncrementCampaignEnrolled(ctx context.Context, campaignID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET total_enrolled = total_enrolled + 1 WHERE id = ?`, campaignID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment campaign %s", campaignID)
	}
	return checkRowsAffected(res, "campaign", campaignID)
}

// --- Enrollments ---

func (s *SQLiteStore) CreateEnrollment(ctx context.Context, e *model.Enrollment) error {
	prepareEnrollment(e)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrollments (id, prospect_id, campaign_id, contact_id, status, stopped_reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProspectID, e.CampaignID, e.ContactID, string(e.Status), e.StoppedReason, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return eris.Wrapf(ErrConflict, "prospect %s already has an open enrollment", e.ProspectID)
		}
		return eris.Wrapf(err, "sqlite: insert enrollment for %s", e.ProspectID)
	}
	return nil
}

func (s *SQLiteStore) GetOpenEnrollment(ctx context.Context, prospectID string) (*model.Enrollment, error) {
	var e model.Enrollment
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, prospect_id, campaign_id, contact_id, status, stopped_reason, created_at, updated_at
		 FROM enrollments WHERE prospect_id = ? AND status IN ('active', 'completed')
		 ORDER BY created_at DESC LIMIT 1`,
		prospectID,
	).Scan(&e.ID, &e.ProspectID, &e.CampaignID, &e.ContactID, &status, &e.StoppedReason, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get open enrollment %s", prospectID)
	}
	e.Status = model.EnrollmentStatus(status)
	return &e, nil
}

func (s *SQLiteStore) StopEnrollment(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrollments SET status = 'stopped', stopped_reason = ?, updated_at = ? WHERE id = ?`,
		reason, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: stop enrollment %s", id)
	}
	return checkRowsAffected(res, "enrollment", id)
}

func (s *SQLiteStore) StopProspectEnrollments(ctx context.Context, prospectID, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrollments SET status = 'stopped', stopped_reason = ?, updated_at = ?
		 WHERE prospect_id = ? AND status = 'active'`,
		reason, time.Now().UTC(), prospectID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: stop enrollments for %s", prospectID)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) CountEnrollmentsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM enrollments WHERE created_at >= ?`, since.UTC(),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count enrollments")
}

// --- Events ---

func (s *SQLiteStore) AppendEvent(ctx context.Context, ev model.Event) error {
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, prospect_id, contact_id, enrollment_id, type, source, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.ProspectID, ev.ContactID, ev.EnrollmentID, string(ev.Type), string(ev.Source), string(payload), ev.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: append %s event", ev.Type)
}

func (s *SQLiteStore) ListEvents(ctx context.Context, prospectID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prospect_id, contact_id, enrollment_id, type, source, payload, created_at
		 FROM events WHERE prospect_id = ? ORDER BY created_at, rowid`,
		prospectID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list events %s", prospectID)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var ev model.Event
		var typ, source, payload string
		if err := rows.Scan(&ev.ID, &ev.ProspectID, &ev.ContactID, &ev.EnrollmentID, &typ, &source, &payload, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		ev.Type = model.EventType(typ)
		ev.Source = model.EventSource(source)
		if ev.Payload, err = model.DecodePayload(ev.Type, []byte(payload)); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

func (s *SQLiteStore) CountEventsSince(ctx context.Context, since time.Time) (map[model.EventType]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, count(*) FROM events WHERE created_at >= ? GROUP BY type`, since.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count events")
	}
	defer rows.Close()

	out := make(map[model.EventType]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event count")
		}
		out[model.EventType(typ)] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: count events iterate")
}

// --- Suppression list ---

func (s *SQLiteStore) UpsertSuppression(ctx context.Context, sup model.Suppression) error {
	if sup.CreatedAt.IsZero() {
		sup.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO suppressions (email, reason, source, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (email) DO NOTHING`,
		model.NormalizeEmail(sup.Email), string(sup.Reason), sup.Source, sup.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: upsert suppression")
}

func (s *SQLiteStore) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM suppressions WHERE email = ?)`,
		model.NormalizeEmail(email),
	).Scan(&exists)
	return exists, eris.Wrap(err, "sqlite: check suppression")
}

// --- Backlinks ---

func (s *SQLiteStore) CreateBacklink(ctx context.Context, b *model.Backlink) error {
	if b.ID == "" {
		b.ID = newID()
	}
	if b.Status == "" {
		b.Status = "pending"
	}
	b.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO backlinks (id, prospect_id, target_url, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.ProspectID, b.TargetURL, b.Status, b.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert backlink")
}

// --- helpers ---

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func isSQLiteUnique(err error) bool {
	var sqErr *sqlite.Error
	if !errors.As(err, &sqErr) {
		return false
	}
	code := sqErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func encodeList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: encode list")
	}
	return string(b), nil
}

func decodeList(s string) ([]string, error) {
	var v []string
	if s == "" {
		return v, nil
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode list")
	}
	if len(v) == 0 {
		return nil, nil
	}
	return v, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteProspect(row scannable) (*model.Prospect, error) {
	var p model.Prospect
	var status, source, fields string
	err := row.Scan(&p.ID, &p.Domain, &status, &source, &p.Score, &p.Tier,
		&p.Language, &p.Country, &p.Timezone, &p.Category,
		&p.ContactFormURL, &fields, &p.HasCaptcha,
		&p.Rank, &p.DomainAuthority, &p.SpamScore,
		&p.LastContactedAt, &p.NextFollowupAt, &p.LastEnrichedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = model.ProspectStatus(status)
	p.Source = model.ProspectSource(source)
	if p.ContactFormFields, err = decodeList(fields); err != nil {
		return nil, err
	}
	return &p, nil
}

func collectSQLiteProspects(rows *sql.Rows) ([]model.Prospect, error) {
	defer rows.Close()
	var out []model.Prospect
	for rows.Next() {
		p, err := scanSQLiteProspect(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan prospect")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list prospects iterate")
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan string")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate strings")
}
