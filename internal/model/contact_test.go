package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimaryContact_SkipsOptedOutAndInvalid(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	contacts := []Contact{
		{ID: "c3", Validation: ValidationRisky, CreatedAt: base.Add(3 * time.Hour)},
		{ID: "c1", Validation: ValidationVerified, OptedOut: true, CreatedAt: base},
		{ID: "c2", Validation: ValidationInvalid, CreatedAt: base.Add(time.Hour)},
		{ID: "c4", Validation: ValidationVerified, CreatedAt: base.Add(4 * time.Hour)},
	}

	got := PrimaryContact(contacts)
	require.NotNil(t, got)
	assert.Equal(t, "c3", got.ID)
	// Input order is untouched.
	assert.Equal(t, "c3", contacts[0].ID)
}

func TestPrimaryContact_None(t *testing.T) {
	assert.Nil(t, PrimaryContact(nil))
	assert.Nil(t, PrimaryContact([]Contact{{Validation: ValidationInvalid}}))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "jane@example.com", NormalizeEmail("  Jane@Example.COM "))
	assert.Equal(t, "jane@example.com", NormalizeEmail("mailto:jane@example.com"))
}
