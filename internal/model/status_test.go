package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanPipelineTransition(t *testing.T) {
	assert.True(t, CanPipelineTransition(StatusNew, StatusEnriching))
	assert.True(t, CanPipelineTransition(StatusEnriching, StatusReadyToContact))
	assert.True(t, CanPipelineTransition(StatusReadyToContact, StatusEnriching))

	assert.False(t, CanPipelineTransition(StatusNew, StatusReadyToContact))
	assert.False(t, CanPipelineTransition(StatusContactedEmail, StatusEnriching))
	assert.False(t, CanPipelineTransition(StatusDoNotContact, StatusEnriching))
	assert.False(t, CanPipelineTransition(StatusEnriching, StatusWon))
}

func TestCanExternalTransition_DoNotContactIsAbsorbing(t *testing.T) {
	for s := range knownStatuses {
		if s == StatusDoNotContact {
			continue
		}
		assert.False(t, CanExternalTransition(StatusDoNotContact, s), "left DNC for %s", s)
		assert.True(t, CanExternalTransition(s, StatusDoNotContact))
	}
	assert.True(t, CanExternalTransition(StatusContactedEmail, StatusReplied))
	assert.True(t, CanExternalTransition(StatusReplied, StatusContactedEmail))
	assert.False(t, CanExternalTransition(StatusNew, ProspectStatus("BOGUS")))
}

func TestEnrichable(t *testing.T) {
	assert.True(t, Enrichable(StatusNew))
	assert.True(t, Enrichable(StatusReadyToContact))
	assert.False(t, Enrichable(StatusEnriching))
	assert.False(t, Enrichable(StatusDoNotContact))
	assert.False(t, Enrichable(StatusWon))
}
