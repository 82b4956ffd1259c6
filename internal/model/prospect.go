package model

import (
	"net/url"
	"strings"
	"time"
)

// ProspectSource records how a prospect entered the system.
type ProspectSource string

const (
	SourceManual  ProspectSource = "manual"
	SourceImport  ProspectSource = "import"
	SourceScraper ProspectSource = "scraper"
)

// Prospect is a candidate website pursued for a backlink.
type Prospect struct {
	ID       string         `json:"id"`
	Domain   string         `json:"domain"`
	Status   ProspectStatus `json:"status"`
	Source   ProspectSource `json:"source"`
	Score    *int           `json:"score,omitempty"`
	Tier     *int           `json:"tier,omitempty"`
	Language string         `json:"language,omitempty"`
	Country  string         `json:"country,omitempty"`
	Timezone string         `json:"timezone,omitempty"`
	Category string         `json:"category,omitempty"`

	ContactFormURL    string   `json:"contact_form_url,omitempty"`
	ContactFormFields []string `json:"contact_form_fields,omitempty"`
	HasCaptcha        bool     `json:"has_captcha"`

	Rank            *float64 `json:"rank,omitempty"`             // 0-10
	DomainAuthority *float64 `json:"domain_authority,omitempty"` // 0-100
	SpamScore       *int     `json:"spam_score,omitempty"`       // 0 or 100

	LastContactedAt *time.Time `json:"last_contacted_at,omitempty"`
	NextFollowupAt  *time.Time `json:"next_followup_at,omitempty"`
	LastEnrichedAt  *time.Time `json:"last_enriched_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// HasContactForm reports whether a contact form URL is known.
func (p *Prospect) HasContactForm() bool {
	return p.ContactFormURL != ""
}

// Backlink is a link acquired (or pending) from a prospect's site.
type Backlink struct {
	ID         string    `json:"id"`
	ProspectID string    `json:"prospect_id"`
	TargetURL  string    `json:"target_url"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// NormalizeDomain reduces user input ("https://www.Example.com/blog") to the
// bare host used as the prospect key ("example.com").
func NormalizeDomain(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.TrimSuffix(u.Hostname(), ".")
	return strings.TrimPrefix(host, "www.")
}
