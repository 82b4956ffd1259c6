// Package tags labels enriched prospects for filtering and reporting.
package tags

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Input is what the enrichment run knows about a prospect when tagging.
type Input struct {
	Score            int
	Tier             int
	Category         string
	Language         string
	Country          string
	Rank             *float64
	DomainAuthority  *float64
	HasContactForm   bool
	HasVerifiedEmail bool
}

// Assignor computes and stores a prospect's tags.
type Assignor interface {
	AssignTags(ctx context.Context, prospectID, domain string, in Input) ([]string, error)
}

// Writer persists a prospect's tag set.
type Writer interface {
	SetProspectTags(ctx context.Context, prospectID string, tags []string) error
}

// RuleAssignor tags prospects from a rule set and replaces the stored tags.
type RuleAssignor struct {
	rules  *Rules
	writer Writer
}

// NewRuleAssignor creates a RuleAssignor. A nil rules value uses
// DefaultRules.
func NewRuleAssignor(w Writer, rules *Rules) *RuleAssignor {
	if rules == nil {
		rules = DefaultRules()
	}
	return &RuleAssignor{rules: rules, writer: w}
}

// AssignTags implements Assignor.
func (a *RuleAssignor) AssignTags(ctx context.Context, prospectID, domain string, in Input) ([]string, error) {
	tags := Compute(a.rules, in)
	if err := a.writer.SetProspectTags(ctx, prospectID, tags); err != nil {
		return nil, eris.Wrapf(err, "tags: store tags for %s", domain)
	}
	zap.L().Debug("tags: assigned", zap.String("domain", domain), zap.Strings("tags", tags))
	return tags, nil
}

// Compute returns the sorted, de-duplicated tags for in.
func Compute(rules *Rules, in Input) []string {
	seen := make(map[string]bool)
	add := func(tag string) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			seen[tag] = true
		}
	}

	if rules.builtin() {
		if in.Category != "" {
			add("category:" + in.Category)
		}
		if in.Tier > 0 {
			add("tier:" + strconv.Itoa(in.Tier))
		}
		if in.Country != "" {
			add("country:" + in.Country)
		}
		if in.Score >= HighScoreThreshold {
			add("high-score")
		}
		if in.HasVerifiedEmail {
			add("verified-email")
		}
	}
	for _, r := range rules.Rules {
		if r.matches(in) {
			add(r.Tag)
		}
	}

	out := make([]string, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
