package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze(t *testing.T) {
	ds, err := Parse(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	a := Analyze(ds, "isFraud")

	assert.Equal(t, 5, a.Summary.TotalTransactions)
	assert.Equal(t, 3, a.Summary.FraudulentTransactions)
	assert.InDelta(t, 0.6, a.Summary.FraudRatio, 1e-12)
	assert.InDelta(t, (9839.64+181+181+11668.14+250000)/5, a.Summary.AverageAmount, 1e-9)
	assert.Equal(t, 250000.0, a.Summary.MaxAmount)

	assert.Equal(t, []string{
		"Dataset contains 5 transactions",
		"Found 3 fraudulent cases (60.00%)",
		"Average transaction amount is $54373.96",
		"Largest transaction amount is $250000.00",
		"Transaction type 'CASH_OUT' has the highest fraud rate (100.00%)",
	}, a.Insights)

	assert.Equal(t, []NameValue{
		{Name: "PAYMENT", Value: 2},
		{Name: "TRANSFER", Value: 2},
		{Name: "CASH_OUT", Value: 1},
	}, a.ChartData.TransactionsByType)

	assert.Equal(t, []AmountBucket{
		{Name: "<10K", Fraud: 2, Legitimate: 1},
		{Name: "10K-50K", Fraud: 0, Legitimate: 1},
		{Name: "50K-100K", Fraud: 0, Legitimate: 0},
		{Name: ">100K", Fraud: 1, Legitimate: 0},
	}, a.ChartData.AmountDistribution)

	assert.Equal(t, []TimePoint{
		{Time: "Step 1", Count: 1},
		{Time: "Step 2", Count: 1},
		{Time: "Step 3", Count: 1},
	}, a.ChartData.FraudTimeSeries)
}

func TestAnalyze_WithoutOptionalColumns(t *testing.T) {
	ds, err := Parse(strings.NewReader("x,y\n1,2\n3,4\n"))
	require.NoError(t, err)

	a := Analyze(ds, "isFraud")
	assert.Equal(t, 2, a.Summary.TotalTransactions)
	assert.Zero(t, a.Summary.FraudulentTransactions)
	assert.Zero(t, a.Summary.AverageAmount)
	assert.Equal(t, []string{"Dataset contains 2 transactions"}, a.Insights)
	assert.Empty(t, a.ChartData.TransactionsByType)
	assert.Empty(t, a.ChartData.AmountDistribution)
	assert.Empty(t, a.ChartData.FraudTimeSeries)
}
