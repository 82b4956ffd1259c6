package enrich

import (
	"sort"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/signal"
)

// MaxAutoContacts caps the contacts created from scraped emails.
const MaxAutoContacts = 3

// MergeResult is the outcome of merging detected signals into a prospect.
type MergeResult struct {
	// Prospect is a copy of the existing record with merged fields applied.
	Prospect model.Prospect
	// Changed lists the fields whose value differs from the existing record.
	Changed []string
	// Healed is set when an unsupported stored language was replaced.
	Healed *model.LanguageHealed
	// Contacts are new, unsaved contacts. Empty unless the prospect had none.
	Contacts []model.Contact
}

// Merge applies the field precedence rules: user-entered values win over
// detections, except that an unsupported language is self-healed when a
// different language was detected. Merge is pure and idempotent.
func Merge(existing *model.Prospect, detected *signal.Signals, existingContacts []model.Contact, supportedLanguages []string) MergeResult {
	p := *existing
	p.ContactFormFields = append([]string(nil), existing.ContactFormFields...)
	res := MergeResult{}

	switch {
	case p.Language == "":
		p.Language = detected.Language
	case !signal.SupportedLanguage(p.Language, supportedLanguages) &&
		detected.Language != "" && detected.Language != p.Language:
		res.Healed = &model.LanguageHealed{Previous: p.Language, Detected: detected.Language}
		p.Language = detected.Language
	}

	countryChanged := false
	if p.Country == "" && detected.Country != "" {
		p.Country = detected.Country
		countryChanged = true
	}
	if p.Timezone == "" || countryChanged {
		if tz := signal.TimezoneForCountry(p.Country); tz != "" {
			p.Timezone = tz
		}
	}

	if p.ContactFormURL == "" && detected.Form != nil {
		p.ContactFormURL = detected.Form.URL
		p.ContactFormFields = append([]string(nil), detected.Form.Fields...)
		p.HasCaptcha = detected.Form.HasCaptcha
	}

	if len(existingContacts) == 0 {
		res.Contacts = contactsFromCandidates(existing.ID, detected.Emails)
	}

	res.Prospect = p
	res.Changed = changedFields(existing, &p)
	return res
}

// contactsFromCandidates keeps the top verified or risky candidates by
// confidence.
func contactsFromCandidates(prospectID string, candidates []signal.EmailCandidate) []model.Contact {
	usable := make([]signal.EmailCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Validation == model.ValidationVerified || c.Validation == model.ValidationRisky {
			usable = append(usable, c)
		}
	}
	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].Confidence > usable[j].Confidence
	})
	if len(usable) > MaxAutoContacts {
		usable = usable[:MaxAutoContacts]
	}

	out := make([]model.Contact, 0, len(usable))
	for _, c := range usable {
		out = append(out, model.Contact{
			ProspectID:    prospectID,
			Email:         c.Email,
			Name:          c.Name,
			Validation:    c.Validation,
			DiscoveredVia: c.Via,
			Confidence:    c.Confidence,
		})
	}
	return out
}

func changedFields(before, after *model.Prospect) []string {
	var changed []string
	if before.Language != after.Language {
		changed = append(changed, "language")
	}
	if before.Country != after.Country {
		changed = append(changed, "country")
	}
	if before.Timezone != after.Timezone {
		changed = append(changed, "timezone")
	}
	if before.ContactFormURL != after.ContactFormURL {
		changed = append(changed, "contact_form")
	}
	return changed
}
