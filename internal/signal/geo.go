package signal

import (
	"strings"

	"golang.org/x/text/language"
)

// ccTLDs commonly sold as generic names. They say nothing about location.
var genericCCTLDs = map[string]bool{
	"io": true, "co": true, "tv": true, "me": true, "ai": true, "ly": true,
	"fm": true, "gg": true, "to": true, "cc": true, "ws": true, "la": true,
	"sh": true, "so": true, "vc": true, "gl": true,
}

var countryTimezones = map[string]string{
	"US": "America/New_York",
	"CA": "America/Toronto",
	"MX": "America/Mexico_City",
	"BR": "America/Sao_Paulo",
	"AR": "America/Argentina/Buenos_Aires",
	"CL": "America/Santiago",
	"GB": "Europe/London",
	"IE": "Europe/Dublin",
	"FR": "Europe/Paris",
	"DE": "Europe/Berlin",
	"AT": "Europe/Vienna",
	"CH": "Europe/Zurich",
	"ES": "Europe/Madrid",
	"IT": "Europe/Rome",
	"PT": "Europe/Lisbon",
	"NL": "Europe/Amsterdam",
	"BE": "Europe/Brussels",
	"LU": "Europe/Luxembourg",
	"DK": "Europe/Copenhagen",
	"SE": "Europe/Stockholm",
	"NO": "Europe/Oslo",
	"FI": "Europe/Helsinki",
	"PL": "Europe/Warsaw",
	"CZ": "Europe/Prague",
	"GR": "Europe/Athens",
	"JP": "Asia/Tokyo",
	"IN": "Asia/Kolkata",
	"SG": "Asia/Singapore",
	"AU": "Australia/Sydney",
	"NZ": "Pacific/Auckland",
	"ZA": "Africa/Johannesburg",
}

// CountryFromDomain maps a country-code TLD to an ISO 3166 alpha-2 code.
// Generic TLDs return "".
func CountryFromDomain(domain string) string {
	tld := topLevel(domain)
	if len(tld) != 2 || genericCCTLDs[tld] {
		return ""
	}
	if tld == "uk" {
		return "GB"
	}
	region, err := language.ParseRegion(tld)
	if err != nil || !region.IsCountry() {
		return ""
	}
	return region.String()
}

// TimezoneForCountry returns the IANA zone used for scheduling sends to a
// country, or "" when the country has no entry or spans too many zones to
// pick one.
func TimezoneForCountry(country string) string {
	return countryTimezones[strings.ToUpper(country)]
}
