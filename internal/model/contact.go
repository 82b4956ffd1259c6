package model

import (
	"sort"
	"strings"
	"time"
)

// Validation is the deliverability verdict for a contact email.
type Validation string

const (
	ValidationVerified   Validation = "verified"
	ValidationRisky      Validation = "risky"
	ValidationInvalid    Validation = "invalid"
	ValidationDisposable Validation = "disposable"
	ValidationUnknown    Validation = "unknown"
)

// DiscoveredVia records where an email was found.
type DiscoveredVia string

const (
	ViaMailto     DiscoveredVia = "mailto"
	ViaText       DiscoveredVia = "text"
	ViaObfuscated DiscoveredVia = "obfuscated"
	ViaManual     DiscoveredVia = "manual"
	ViaImport     DiscoveredVia = "import"
)

// Contact is a person or mailbox at a prospect.
type Contact struct {
	ID            string        `json:"id"`
	ProspectID    string        `json:"prospect_id"`
	Email         string        `json:"email"`
	Name          string        `json:"name,omitempty"`
	Validation    Validation    `json:"validation"`
	OptedOut      bool          `json:"opted_out"`
	DiscoveredVia DiscoveredVia `json:"discovered_via"`
	Confidence    float64       `json:"confidence"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Usable reports whether the contact can be emailed at all.
func (c *Contact) Usable() bool {
	return !c.OptedOut && c.Validation != ValidationInvalid
}

// PrimaryContact returns the earliest-created usable contact, or nil.
func PrimaryContact(contacts []Contact) *Contact {
	sorted := make([]Contact, len(contacts))
	copy(sorted, contacts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	for i := range sorted {
		if sorted[i].Usable() {
			c := sorted[i]
			return &c
		}
	}
	return nil
}

// NormalizeEmail lower-cases and trims an address. Suppression and contact
// lookups always go through this.
func NormalizeEmail(email string) string {
	e := strings.ToLower(strings.TrimSpace(email))
	return strings.TrimPrefix(e, "mailto:")
}
