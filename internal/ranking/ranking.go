// Package ranking orders predictions by closeness to a reference price.
package ranking

import (
	"errors"
	"math"
	"sort"

	"github.com/rewired-gh/niftyoracle/internal/models"
)

// DefaultTopN is the leaderboard size shown on the home page.
const DefaultTopN = 3

// ErrNoReference means no live or stored price exists to rank against.
var ErrNoReference = errors.New("no reference price available")

// Ranked is a prediction with its distance from the reference.
type Ranked struct {
	models.Prediction
	Distance float64
}

// TopN returns at most n predictions sorted by |value - reference| ascending.
// Equal distances go to the earlier submission, then the lower ID.
// A nil reference yields ErrNoReference; the function never guesses one.
func TopN(predictions []models.Prediction, reference *float64, n int) ([]Ranked, error) {
	if reference == nil || math.IsNaN(*reference) || math.IsInf(*reference, 0) {
		return nil, ErrNoReference
	}
	if n <= 0 {
		return []Ranked{}, nil
	}

	ref := *reference
	ranked := make([]Ranked, len(predictions))
	for i, p := range predictions {
		ranked[i] = Ranked{Prediction: p, Distance: math.Abs(p.PredictedValue - ref)}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return a.ID < b.ID
	})

	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked, nil
}
