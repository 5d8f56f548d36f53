package ingest

import (
	"math"

	"github.com/cinecard/cinecard/internal/model"
)

// Scoring constants for the Bayesian aggregate. Ratings are on a 0..100
// scale; the prior pulls low-vote titles toward the catalog mean.
const (
	ScoreMethod = "bayes-v1"

	priorMean   = 65.0
	priorWeight = 250.0
	ratingSD    = 18.0
	z95         = 1.96

	highConfidenceVotes   = 1000
	mediumConfidenceVotes = 100
)

// tmdbRating converts a provider vote average (0..10) to a rating source row.
func tmdbRating(workID string, voteAverage float64, voteCount int) model.RatingSource {
	return model.RatingSource{
		WorkID:      workID,
		Source:      "tmdb",
		VoteAverage: clamp(voteAverage*10, 0, 100),
		VoteCount:   max(voteCount, 0),
	}
}

// aggregate combines rating sources into a vote-weighted Bayesian score with
// a 95% confidence band.
func aggregate(workID string, ratings []model.RatingSource) model.Aggregate {
	var votes int
	var weighted float64
	for _, r := range ratings {
		votes += r.VoteCount
		weighted += r.VoteAverage * float64(r.VoteCount)
	}

	n := float64(votes)
	score := priorMean
	if votes > 0 {
		mean := weighted / n
		score = (n*mean + priorWeight*priorMean) / (n + priorWeight)
	}
	half := z95 * ratingSD / math.Sqrt(n+priorWeight)

	return model.Aggregate{
		WorkID:         workID,
		MethodVersion:  ScoreMethod,
		Score:          round1(score),
		ConfidenceLow:  round1(clamp(score-half, 0, 100)),
		ConfidenceHigh: round1(clamp(score+half, 0, 100)),
		Confidence:     confidenceLabel(votes),
		VoteCount:      votes,
	}
}

func confidenceLabel(votes int) model.ConfidenceLabel {
	switch {
	case votes >= highConfidenceVotes:
		return model.ConfidenceHigh
	case votes >= mediumConfidenceVotes:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
