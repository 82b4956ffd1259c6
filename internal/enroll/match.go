package enroll

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sells-group/outreach-cli/internal/model"
)

const (
	baseMatchScore     = 100.0
	countryMatchBonus  = 50.0
	agePenaltyPerDay   = 1.0
	loadPenaltyPerSlot = 0.1
)

// Candidate is a campaign that survived matching, with its score.
type Candidate struct {
	Campaign model.Campaign
	Score    float64
}

// RankCampaigns scores the campaigns a prospect could join and returns the
// survivors best first. Campaigns whose filters exclude the prospect are
// dropped. Equal scores keep the input order, so callers must pass
// campaigns in a deterministic order.
func RankCampaigns(p *model.Prospect, language string, campaigns []model.Campaign, now time.Time) []Candidate {
	tier := 4
	if p.Tier != nil {
		tier = *p.Tier
	}

	var out []Candidate
	for _, c := range campaigns {
		if !c.Active || !strings.EqualFold(c.Language, language) {
			continue
		}
		score := baseMatchScore

		if len(c.Categories) > 0 && !containsFold(c.Categories, p.Category) {
			continue
		}
		if len(c.Countries) > 0 {
			if !containsFold(c.Countries, p.Country) {
				continue
			}
			score += countryMatchBonus
		}
		minTier := c.MinTier
		if minTier <= 0 {
			minTier = 4
		}
		if tier > minTier {
			continue
		}

		days := math.Floor(now.Sub(c.CreatedAt).Hours() / 24)
		if days > 0 {
			score -= days * agePenaltyPerDay
		}
		score -= float64(c.TotalEnrolled) * loadPenaltyPerSlot

		out = append(out, Candidate{Campaign: c, Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func containsFold(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
