package model

import "time"

// Campaign is an outreach email sequence prospects can be enrolled in.
type Campaign struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Language      string    `json:"language"`
	Categories    []string  `json:"categories,omitempty"` // allow-list; empty = any
	Countries     []string  `json:"countries,omitempty"`  // allow-list; empty = any
	MinTier       int       `json:"min_tier"`             // prospect tier must be <= this
	Active        bool      `json:"active"`
	TotalEnrolled int       `json:"total_enrolled"`
	TotalReplied  int       `json:"total_replied"`
	TotalWon      int       `json:"total_won"`
	CreatedAt     time.Time `json:"created_at"`
}

// EnrollmentStatus is the state of a prospect's participation in a campaign.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentStopped   EnrollmentStatus = "stopped"
)

// Enrollment links one prospect to one campaign.
type Enrollment struct {
	ID            string           `json:"id"`
	ProspectID    string           `json:"prospect_id"`
	CampaignID    string           `json:"campaign_id"`
	ContactID     string           `json:"contact_id,omitempty"`
	Status        EnrollmentStatus `json:"status"`
	StoppedReason string           `json:"stopped_reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// SuppressionReason explains why an email is on the deny-list.
type SuppressionReason string

const (
	SuppressBounce      SuppressionReason = "bounce"
	SuppressComplaint   SuppressionReason = "complaint"
	SuppressUnsubscribe SuppressionReason = "unsubscribe"
	SuppressManual      SuppressionReason = "manual"
)

// Suppression is an entry on the add-only email deny-list.
type Suppression struct {
	Email     string            `json:"email"`
	Reason    SuppressionReason `json:"reason"`
	Source    string            `json:"source"`
	CreatedAt time.Time         `json:"created_at"`
}
