package model

// ProspectStatus is a position in the outreach lifecycle.
type ProspectStatus string

const (
	StatusNew             ProspectStatus = "NEW"
	StatusEnriching       ProspectStatus = "ENRICHING"
	StatusReadyToContact  ProspectStatus = "READY_TO_CONTACT"
	StatusContactedEmail  ProspectStatus = "CONTACTED_EMAIL"
	StatusContactedManual ProspectStatus = "CONTACTED_MANUAL"
	StatusReplied         ProspectStatus = "REPLIED"
	StatusFollowupDue     ProspectStatus = "FOLLOWUP_DUE"
	StatusNegotiating     ProspectStatus = "NEGOTIATING"
	StatusWon             ProspectStatus = "WON"
	StatusLost            ProspectStatus = "LOST"
	StatusReContacted     ProspectStatus = "RE_CONTACTED"
	StatusLinkPending     ProspectStatus = "LINK_PENDING"
	StatusLinkVerified    ProspectStatus = "LINK_VERIFIED"
	StatusLinkLost        ProspectStatus = "LINK_LOST"
	StatusDoNotContact    ProspectStatus = "DO_NOT_CONTACT"
)

var knownStatuses = map[ProspectStatus]bool{
	StatusNew: true, StatusEnriching: true, StatusReadyToContact: true,
	StatusContactedEmail: true, StatusContactedManual: true, StatusReplied: true,
	StatusFollowupDue: true, StatusNegotiating: true, StatusWon: true,
	StatusLost: true, StatusReContacted: true, StatusLinkPending: true,
	StatusLinkVerified: true, StatusLinkLost: true, StatusDoNotContact: true,
}

// Valid reports whether s is a known status.
func (s ProspectStatus) Valid() bool {
	return knownStatuses[s]
}

// IsTerminal reports whether the status is absorbing.
func (s ProspectStatus) IsTerminal() bool {
	return s == StatusDoNotContact
}

// pipelineTransitions are the only moves the enrichment pipeline makes on its
// own. Everything past READY_TO_CONTACT is written by outreach, reply and
// webhook collaborators.
var pipelineTransitions = map[ProspectStatus][]ProspectStatus{
	StatusNew:            {StatusEnriching},
	StatusEnriching:      {StatusReadyToContact, StatusNew},
	StatusReadyToContact: {StatusEnriching},
}

// CanPipelineTransition reports whether the enrichment pipeline may move a
// prospect from one status to another.
func CanPipelineTransition(from, to ProspectStatus) bool {
	if from.IsTerminal() {
		return false
	}
	for _, next := range pipelineTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanExternalTransition reports whether an outside collaborator may write the
// given status. External writers are trusted except that nothing leaves
// DO_NOT_CONTACT.
func CanExternalTransition(from, to ProspectStatus) bool {
	if !to.Valid() {
		return false
	}
	return !from.IsTerminal() || to == StatusDoNotContact
}

// Enrichable reports whether a prospect in status s may be (re-)enriched.
func Enrichable(s ProspectStatus) bool {
	return s == StatusNew || s == StatusReadyToContact
}
