// Package importer validates bulk prediction uploads row by row.
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rewired-gh/niftyoracle/internal/models"
)

// Record is one decoded row. Line is its 1-based position in the source:
// the CSV line number for ReadCSV output, the row index otherwise.
type Record struct {
	Line   int
	Fields []string
}

// Rejection explains why a row was skipped. Line is the Record's Line.
type Rejection struct {
	Line int
	Err  *models.ValidationError
}

// Result is the outcome of validating a batch. Rejected rows never abort the batch.
type Result struct {
	Accepted []models.Prediction
	Rejected []Rejection
}

// Validator applies the acceptance band to import rows.
type Validator struct {
	BandPct float64
}

// NewValidator returns a validator with the given band half-width (0.30 for ±30%).
func NewValidator(bandPct float64) *Validator {
	if bandPct <= 0 {
		bandPct = models.DefaultBandPct
	}
	return &Validator{BandPct: bandPct}
}

// FromRows numbers pre-split rows from 1.
func FromRows(rows [][]string) []Record {
	records := make([]Record, len(rows))
	for i, row := range rows {
		records[i] = Record{Line: i + 1, Fields: row}
	}
	return records
}

// ValidateRecords checks each [name, value] record. With a nil close price the
// band is not enforced and every numerically valid row is accepted.
func (v *Validator) ValidateRecords(records []Record, contestID int64, close *float64) Result {
	res := Result{Accepted: []models.Prediction{}}
	var band *models.Band
	if close != nil {
		b := models.NewBand(*close, v.BandPct)
		band = &b
	}

	for _, rec := range records {
		line, row := rec.Line, rec.Fields
		if len(row) < 2 {
			res.reject(line, "row", "expected name and value columns")
			continue
		}
		name := strings.TrimSpace(row[0])
		if name == "" {
			res.reject(line, "name", "name must not be empty")
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			res.reject(line, "value", fmt.Sprintf("%q is not a number", row[1]))
			continue
		}
		if band != nil && !band.Contains(value) {
			res.reject(line, "value", fmt.Sprintf("%.2f is outside %.2f - %.2f", value, band.Min, band.Max))
			continue
		}
		res.Accepted = append(res.Accepted, models.Prediction{
			ContestID:      contestID,
			Name:           name,
			PredictedValue: value,
		})
	}
	return res
}

func (r *Result) reject(line int, field, msg string) {
	r.Rejected = append(r.Rejected, Rejection{
		Line: line,
		Err:  &models.ValidationError{Field: field, Message: msg},
	})
}

// ReadCSV decodes headerless name,value rows, keeping each row's line number.
// Blank lines are skipped; lines that are not valid CSV are counted in
// malformed and skipped.
func ReadCSV(r io.Reader) (records []Record, malformed int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			malformed++
			continue
		}
		if err != nil {
			return nil, malformed, fmt.Errorf("failed to read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		records = append(records, Record{Line: line, Fields: rec})
	}
	return records, malformed, nil
}
