package enroll

import "strings"

// Settings is the auto-enrollment configuration for one batch run. It is
// loaded once and passed explicitly so a run is reproducible.
type Settings struct {
	Enabled bool
	// MaxPerHour and MaxPerDay cap enrollments created; 0 means unlimited.
	MaxPerHour int
	MaxPerDay  int
	MinScore   int
	// MaxTier is the worst (highest-numbered) tier still accepted.
	MaxTier int
	// Empty allow-lists accept any value.
	AllowedCategories    []string
	AllowedLanguages     []string
	RequireVerifiedEmail bool
	// FallbackLanguage is used for campaign matching when the prospect has
	// no language.
	FallbackLanguage string
}

func allowed(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
