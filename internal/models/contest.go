// Package models defines the core domain entities: contests, predictions, and price samples.
package models

import (
	"errors"
	"math"
	"strings"
	"time"
)

// DefaultBandPct is the accepted deviation from the last close price.
const DefaultBandPct = 0.30

// Contest is a single prediction round. At most one contest is active.
type Contest struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	IsActive  bool      `json:"is_active"`
}

// Prediction is one participant's guess for the closing value of a contest.
type Prediction struct {
	ID             int64     `json:"id"`
	ContestID      int64     `json:"contest_id"`
	Name           string    `json:"name"`
	PredictedValue float64   `json:"predicted_value"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// Validate checks prediction field constraints. The band check is separate
// since it depends on the close price known at submission time.
func (p *Prediction) Validate() error {
	if p.ContestID <= 0 {
		return errors.New("contest ID must be positive")
	}
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Message: "name must not be empty"}
	}
	if math.IsNaN(p.PredictedValue) || math.IsInf(p.PredictedValue, 0) {
		return &ValidationError{Field: "predicted_value", Message: "predicted value must be a finite number"}
	}
	return nil
}

// PriceSample is one successful quote fetch. The newest sample is the current price.
type PriceSample struct {
	ID        int64     `json:"id"`
	Price     float64   `json:"price"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Quote is the subset of a broker quote the feed cares about.
type Quote struct {
	LastPrice  float64
	ClosePrice float64
}

// Band is the closed interval of acceptable prediction values around a close price.
type Band struct {
	Min float64
	Max float64
}

// NewBand returns [close*(1-pct), close*(1+pct)].
func NewBand(close, pct float64) Band {
	delta := close * pct
	return Band{Min: close - delta, Max: close + delta}
}

// Contains reports whether v lies inside the band, bounds included.
func (b Band) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}
