package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/signal"
)

var supported = []string{"en", "fr", "de", "es", "it", "pt", "nl"}

func TestMerge_LanguageRules(t *testing.T) {
	detected := &signal.Signals{Language: "fr"}

	res := Merge(&model.Prospect{}, detected, nil, supported)
	assert.Equal(t, "fr", res.Prospect.Language)
	assert.Nil(t, res.Healed)

	res = Merge(&model.Prospect{Language: "de"}, detected, nil, supported)
	assert.Equal(t, "de", res.Prospect.Language, "supported user value is kept")

	res = Merge(&model.Prospect{Language: "klingon"}, detected, nil, supported)
	assert.Equal(t, "fr", res.Prospect.Language)
	require.NotNil(t, res.Healed)
	assert.Equal(t, "klingon", res.Healed.Previous)
	assert.Equal(t, "fr", res.Healed.Detected)
}

func TestMerge_UnsupportedLanguageNotHealedToSameValue(t *testing.T) {
	detected := &signal.Signals{Language: "pl"}

	first := Merge(&model.Prospect{}, detected, nil, supported)
	assert.Equal(t, "pl", first.Prospect.Language)
	assert.Nil(t, first.Healed)

	second := Merge(&first.Prospect, detected, nil, supported)
	assert.Equal(t, "pl", second.Prospect.Language)
	assert.Nil(t, second.Healed)
	assert.Empty(t, second.Changed)
}

func TestMerge_UnsupportedLanguageKeptWhenDetectionUnknown(t *testing.T) {
	res := Merge(&model.Prospect{Language: "klingon"}, &signal.Signals{}, nil, supported)
	assert.Equal(t, "klingon", res.Prospect.Language)
	assert.Nil(t, res.Healed)
	assert.NotContains(t, res.Changed, "language")
}

func TestMerge_CountryIsNeverOverwritten(t *testing.T) {
	existing := &model.Prospect{Country: "BE", Timezone: "Europe/Brussels"}
	detected := &signal.Signals{Country: "FR"}

	for range 3 {
		res := Merge(existing, detected, nil, supported)
		assert.Equal(t, "BE", res.Prospect.Country)
		assert.Equal(t, "Europe/Brussels", res.Prospect.Timezone)
		existing = &res.Prospect
	}
}

func TestMerge_TimezoneFollowsAdoptedCountry(t *testing.T) {
	res := Merge(&model.Prospect{Timezone: "America/New_York"}, &signal.Signals{Country: "FR"}, nil, supported)
	assert.Equal(t, "FR", res.Prospect.Country)
	assert.Equal(t, "Europe/Paris", res.Prospect.Timezone)
	assert.ElementsMatch(t, []string{"country", "timezone"}, res.Changed)
}

func TestMerge_TimezoneFilledForUserCountry(t *testing.T) {
	res := Merge(&model.Prospect{Country: "DE"}, &signal.Signals{}, nil, supported)
	assert.Equal(t, "Europe/Berlin", res.Prospect.Timezone)
}

func TestMerge_ContactFormOnlyWhenUnknown(t *testing.T) {
	form := &signal.FormResult{URL: "https://blog.fr/contact", Fields: []string{"email", "message"}, HasCaptcha: true}

	res := Merge(&model.Prospect{}, &signal.Signals{Form: form}, nil, supported)
	assert.Equal(t, "https://blog.fr/contact", res.Prospect.ContactFormURL)
	assert.Equal(t, []string{"email", "message"}, res.Prospect.ContactFormFields)
	assert.True(t, res.Prospect.HasCaptcha)

	known := &model.Prospect{ContactFormURL: "https://blog.fr/ecrire", ContactFormFields: []string{"name"}}
	res = Merge(known, &signal.Signals{Form: form}, nil, supported)
	assert.Equal(t, "https://blog.fr/ecrire", res.Prospect.ContactFormURL)
	assert.Equal(t, []string{"name"}, res.Prospect.ContactFormFields)
	assert.False(t, res.Prospect.HasCaptcha)
}

func TestMerge_ContactsOnlyWhenNoneExist(t *testing.T) {
	detected := &signal.Signals{Emails: []signal.EmailCandidate{
		{Email: "a@blog.fr", Confidence: 0.3, Validation: model.ValidationVerified, Via: model.ViaObfuscated},
		{Email: "b@blog.fr", Confidence: 0.9, Validation: model.ValidationRisky, Via: model.ViaMailto, Name: "Bea"},
		{Email: "c@mailinator.com", Confidence: 0.9, Validation: model.ValidationDisposable},
		{Email: "d@blog.fr", Confidence: 0.6, Validation: model.ValidationVerified, Via: model.ViaText},
		{Email: "e@nowhere", Confidence: 0.9, Validation: model.ValidationInvalid},
		{Email: "f@blog.fr", Confidence: 0.6, Validation: model.ValidationVerified, Via: model.ViaText},
	}}

	res := Merge(&model.Prospect{ID: "p1"}, detected, nil, supported)
	require.Len(t, res.Contacts, MaxAutoContacts)
	assert.Equal(t, "b@blog.fr", res.Contacts[0].Email)
	assert.Equal(t, "Bea", res.Contacts[0].Name)
	assert.Equal(t, "d@blog.fr", res.Contacts[1].Email)
	assert.Equal(t, "f@blog.fr", res.Contacts[2].Email)
	for _, c := range res.Contacts {
		assert.Equal(t, "p1", c.ProspectID)
	}

	existing := []model.Contact{{ID: "c1", Email: "owner@blog.fr"}}
	res = Merge(&model.Prospect{ID: "p1"}, detected, existing, supported)
	assert.Empty(t, res.Contacts)
}

func TestMerge_Idempotent(t *testing.T) {
	detected := &signal.Signals{
		Language: "it",
		Country:  "IT",
		Form:     &signal.FormResult{URL: "https://viaggi.it/contatti", Fields: []string{"email"}},
	}
	first := Merge(&model.Prospect{ID: "p1", Language: "xx"}, detected, nil, supported)
	second := Merge(&first.Prospect, detected, []model.Contact{{Email: "x@viaggi.it"}}, supported)

	assert.Equal(t, first.Prospect, second.Prospect)
	assert.Empty(t, second.Changed)
	assert.Nil(t, second.Healed)
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	existing := &model.Prospect{ContactFormFields: nil}
	_ = Merge(existing, &signal.Signals{Language: "en", Country: "GB", Form: &signal.FormResult{URL: "u", Fields: []string{"email"}}}, nil, supported)
	assert.Empty(t, existing.Language)
	assert.Empty(t, existing.ContactFormURL)
	assert.Nil(t, existing.ContactFormFields)
}
