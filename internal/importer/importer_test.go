package importer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestValidate_MixedBatch(t *testing.T) {
	rows := [][]string{
		{"A", "101"},
		{"B", "abc"},
		{"", "102"},
		{"C", "200"},
	}
	res := NewValidator(0.30).ValidateRecords(FromRows(rows), 7, ptr(100))

	require.Len(t, res.Accepted, 1)
	assert.Equal(t, int64(7), res.Accepted[0].ContestID)
	assert.Equal(t, "A", res.Accepted[0].Name)
	assert.Equal(t, 101.0, res.Accepted[0].PredictedValue)

	require.Len(t, res.Rejected, 3)
	assert.Equal(t, 2, res.Rejected[0].Line)
	assert.Equal(t, "value", res.Rejected[0].Err.Field)
	assert.Equal(t, "name", res.Rejected[1].Err.Field)
	assert.Contains(t, res.Rejected[2].Err.Message, "outside")
}

func TestValidate_NoCloseAcceptsAllNumeric(t *testing.T) {
	rows := [][]string{{"A", "1"}, {"B", "999999"}, {"C", "x"}}
	res := NewValidator(0.30).ValidateRecords(FromRows(rows), 1, nil)
	assert.Len(t, res.Accepted, 2)
	assert.Len(t, res.Rejected, 1)
}

func TestValidate_TrimsAndRejectsNonFinite(t *testing.T) {
	rows := [][]string{
		{"  Asha  ", " 100.5 "},
		{"Inf", "Inf"},
		{"NaN", "NaN"},
		{"short"},
	}
	res := NewValidator(0.30).ValidateRecords(FromRows(rows), 1, nil)
	require.Len(t, res.Accepted, 1)
	assert.Equal(t, "Asha", res.Accepted[0].Name)
	assert.Equal(t, 100.5, res.Accepted[0].PredictedValue)
	assert.Len(t, res.Rejected, 3)
}

func TestValidate_BandEdgesInclusive(t *testing.T) {
	rows := [][]string{{"lo", "70"}, {"hi", "130"}}
	res := NewValidator(0.30).ValidateRecords(FromRows(rows), 1, ptr(100))
	assert.Len(t, res.Accepted, 2)
}

func TestNewValidator_DefaultBand(t *testing.T) {
	assert.Equal(t, 0.30, NewValidator(0).BandPct)
}

func TestReadCSV(t *testing.T) {
	in := "Asha,24100\n\nRavi, 24200.5\nsolo\n\"bad,1\n"
	records, malformed, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"Asha", "24100"}, records[0].Fields)
	assert.Equal(t, []string{"Ravi", "24200.5"}, records[1].Fields)
	assert.Equal(t, []string{"solo"}, records[2].Fields)
	assert.Equal(t, 1, malformed)
}

func TestReadCSV_RejectionsReportSourceLines(t *testing.T) {
	in := "Asha,24100\n\nx\"y,1\nRavi,abc\nsolo\n"
	records, malformed, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 1, malformed)

	var lines []int
	for _, r := range records {
		lines = append(lines, r.Line)
	}
	assert.Equal(t, []int{1, 4, 5}, lines)

	res := NewValidator(0.30).ValidateRecords(records, 1, nil)
	require.Len(t, res.Accepted, 1)
	require.Len(t, res.Rejected, 2)
	assert.Equal(t, 4, res.Rejected[0].Line)
	assert.Equal(t, 5, res.Rejected[1].Line)
}
