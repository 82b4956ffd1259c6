package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountryFromDomain(t *testing.T) {
	tests := map[string]string{
		"cuisine.fr":     "FR",
		"garden.co.uk":   "GB",
		"reise.de":       "DE",
		"example.com":    "",
		"startup.io":     "",
		"brand.co":       "",
		"example.org":    "",
		"viaggi.it.":     "IT",
		"nodot":          "",
	}
	for domain, want := range tests {
		assert.Equal(t, want, CountryFromDomain(domain), domain)
	}
}

func TestTimezoneForCountry(t *testing.T) {
	assert.Equal(t, "Europe/Paris", TimezoneForCountry("FR"))
	assert.Equal(t, "Europe/London", TimezoneForCountry("gb"))
	assert.Equal(t, "", TimezoneForCountry(""))
	assert.Equal(t, "", TimezoneForCountry("RU"))
}
