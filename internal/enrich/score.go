package enrich

import "math"

const (
	maxRankPoints      = 40.0
	maxAuthorityPoints = 40.0
	neutralBaseline    = 25.0
	contactFormPoints  = 10.0
)

// ScoreInput is the subset of merged signals the score depends on.
type ScoreInput struct {
	Rank            *float64 // 0-10
	DomainAuthority *float64 // 0-100
	HasContactForm  bool
	SpamPenalty     int // 0 or 100
}

// ComputeScore returns the 0-100 prospect score. It is a pure function of
// its input.
func ComputeScore(in ScoreInput) int {
	score := 0.0
	if in.Rank != nil {
		score += math.Min(*in.Rank, 10) * 4
	}
	if in.DomainAuthority != nil {
		score += *in.DomainAuthority / 100 * maxAuthorityPoints
	}
	if in.Rank == nil && in.DomainAuthority == nil {
		score = neutralBaseline
	}
	if in.HasContactForm {
		score += contactFormPoints
	}
	score -= float64(in.SpamPenalty)

	score = math.Max(0, math.Min(100, score))
	return int(math.Round(score))
}

// TierForScore maps a stored score to its tier: 1 is best.
func TierForScore(score int) int {
	switch {
	case score >= 70:
		return 1
	case score >= 40:
		return 2
	case score >= 20:
		return 3
	default:
		return 4
	}
}

// Score computes the score and the tier derived from that same value.
func Score(in ScoreInput) (score, tier int) {
	score = ComputeScore(in)
	return score, TierForScore(score)
}
