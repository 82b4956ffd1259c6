package tags

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// HighScoreThreshold is the score at which the built-in high-score tag
// applies.
const HighScoreThreshold = 70

// Rules is the tag rule file.
type Rules struct {
	// Builtin enables the category/tier/country/high-score/verified-email
	// tags. Defaults to true when the key is absent.
	Builtin *bool  `yaml:"builtin"`
	Rules   []Rule `yaml:"rules"`
}

// Rule adds Tag when every condition that is set holds.
type Rule struct {
	Tag                string   `yaml:"tag"`
	MinScore           *int     `yaml:"min_score,omitempty"`
	MaxTier            *int     `yaml:"max_tier,omitempty"`
	MinRank            *float64 `yaml:"min_rank,omitempty"`
	MinDomainAuthority *float64 `yaml:"min_domain_authority,omitempty"`
	Categories         []string `yaml:"categories,omitempty"`
	Languages          []string `yaml:"languages,omitempty"`
	Countries          []string `yaml:"countries,omitempty"`
	HasContactForm     *bool    `yaml:"has_contact_form,omitempty"`
	HasVerifiedEmail   *bool    `yaml:"has_verified_email,omitempty"`
}

// DefaultRules enables only the built-in tags.
func DefaultRules() *Rules {
	return &Rules{}
}

// LoadRules reads a rule file. The YAML has a top-level "tags" key.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tags: read rules %s", path)
	}

	var wrapper struct {
		Tags Rules `yaml:"tags"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "tags: parse rules")
	}
	for i, r := range wrapper.Tags.Rules {
		if r.Tag == "" {
			return nil, eris.Errorf("tags: rule %d has no tag", i)
		}
	}
	return &wrapper.Tags, nil
}

func (r *Rules) builtin() bool {
	return r.Builtin == nil || *r.Builtin
}

func (r Rule) matches(in Input) bool {
	if r.MinScore != nil && in.Score < *r.MinScore {
		return false
	}
	if r.MaxTier != nil && in.Tier > *r.MaxTier {
		return false
	}
	if r.MinRank != nil && (in.Rank == nil || *in.Rank < *r.MinRank) {
		return false
	}
	if r.MinDomainAuthority != nil && (in.DomainAuthority == nil || *in.DomainAuthority < *r.MinDomainAuthority) {
		return false
	}
	if len(r.Categories) > 0 && !containsFold(r.Categories, in.Category) {
		return false
	}
	if len(r.Languages) > 0 && !containsFold(r.Languages, in.Language) {
		return false
	}
	if len(r.Countries) > 0 && !containsFold(r.Countries, in.Country) {
		return false
	}
	if r.HasContactForm != nil && in.HasContactForm != *r.HasContactForm {
		return false
	}
	if r.HasVerifiedEmail != nil && in.HasVerifiedEmail != *r.HasVerifiedEmail {
		return false
	}
	return true
}
