package rules

import (
	"math/rand"
	"testing"

	"fraud-scoring/internal/common"
	"fraud-scoring/internal/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockMetrics struct {
	evaluations int
	matches     map[string]int
}

func (m *mockMetrics) RuleEvaluationInc() { m.evaluations++ }

func (m *mockMetrics) RuleMatchInc(rule string) {
	if m.matches == nil {
		m.matches = make(map[string]int)
	}
	m.matches[rule]++
}

func TestEvaluate_DrainedTransfer(t *testing.T) {
	rec := features.Record{
		"amount":         250000.0,
		"oldbalanceOrg":  100000.0,
		"newbalanceOrig": 0.0,
		"oldbalanceDest": 0.0,
		"newbalanceDest": 0.0,
		"type":           "TRANSFER",
	}

	res, err := Evaluate(rec, 0.5)
	require.NoError(t, err)

	assert.True(t, res.Triggered)
	assert.Equal(t, common.LabelFraud, res.Decision)
	assert.Subset(t, res.MatchedRules, []string{
		HighAmount, AmountExceedsBalance, ZeroRecipientInitial, SuspiciousPattern,
	})
	// The destination balance did not move, so the transfer is also unbalanced
	// and lands in a near-empty account.
	assert.Equal(t, []string{
		HighAmount, AmountExceedsBalance, ZeroRecipientInitial, SuspiciousPattern,
		UnbalancedTransfer, LargeTransferNewAccount,
	}, res.MatchedRules)
}

func TestEvaluate_OrdinaryPayment(t *testing.T) {
	rec := features.Record{
		"amount":         50.0,
		"oldbalanceOrg":  1000.0,
		"newbalanceOrig": 950.0,
		"oldbalanceDest": 500.0,
		"newbalanceDest": 550.0,
		"type":           "PAYMENT",
	}

	res, err := Evaluate(rec, 0.5)
	require.NoError(t, err)

	assert.False(t, res.Triggered)
	assert.Empty(t, res.MatchedRules)
	assert.NotNil(t, res.MatchedRules, "empty list, not null, on the wire")
	assert.Equal(t, common.LabelLegitimate, res.Decision)
}

func TestEvaluate_SingleRule(t *testing.T) {
	rec := features.Record{
		"amount":         10.0,
		"oldbalanceOrg":  1000.0,
		"newbalanceOrig": 990.0,
		"oldbalanceDest": 0.0,
		"newbalanceDest": 10.0,
	}

	res, err := Evaluate(rec, 0.9)
	require.NoError(t, err)

	assert.True(t, res.Triggered)
	assert.Equal(t, []string{ZeroRecipientInitial}, res.MatchedRules)
	assert.Equal(t, common.LabelLegitimate, res.Decision, "one match is not enough")
}

func TestEvaluate_MissingFieldsDefaultToZero(t *testing.T) {
	res, err := Evaluate(features.Record{}, 0.5)
	require.NoError(t, err)

	// With every field at 0 only the empty recipient balance matches.
	assert.Equal(t, []string{ZeroRecipientInitial}, res.MatchedRules)
	assert.Equal(t, common.LabelLegitimate, res.Decision)
}

func TestEvaluate_NumericStrings(t *testing.T) {
	res, err := Evaluate(features.Record{"amount": "300000", "oldbalanceOrg": "5"}, 0.5)
	require.NoError(t, err)
	assert.Contains(t, res.MatchedRules, HighAmount)
	assert.Contains(t, res.MatchedRules, AmountExceedsBalance)
}

func TestEvaluate_NonNumericField(t *testing.T) {
	_, err := Evaluate(features.Record{"amount": "lots"}, 0.5)
	assert.ErrorIs(t, err, common.ErrFeatureType)
}

func TestEvaluate_ScoreIsIgnored(t *testing.T) {
	rec := features.Record{"amount": 75000.0, "oldbalanceOrg": 80000.0, "newbalanceOrig": 5000.0, "oldbalanceDest": 200.0, "newbalanceDest": 75200.0}

	base, err := Evaluate(rec, 0)
	require.NoError(t, err)
	for _, score := range []float64{0.1, 0.5, 0.99, 1} {
		res, err := Evaluate(rec, score)
		require.NoError(t, err)
		assert.Equal(t, base, res)
	}
}

// The decision is fraud exactly when two or more predicates hold.
func TestEvaluate_DecisionMatchesCount(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	values := []float64{0, 1, 500, 999, 1000, 5000, 50000, 50001, 200000, 250000}
	pick := func() float64 { return values[rng.Intn(len(values))] }

	for i := 0; i < 500; i++ {
		rec := features.Record{
			"amount":         pick(),
			"oldbalanceOrg":  pick(),
			"newbalanceOrig": pick(),
			"oldbalanceDest": pick(),
			"newbalanceDest": pick(),
		}
		res, err := Evaluate(rec, 0.5)
		require.NoError(t, err)

		assert.Equal(t, len(res.MatchedRules) > 0, res.Triggered)
		if len(res.MatchedRules) >= 2 {
			assert.Equal(t, common.LabelFraud, res.Decision, "record %v", rec)
		} else {
			assert.Equal(t, common.LabelLegitimate, res.Decision, "record %v", rec)
		}

		again, err := Evaluate(rec, 0.5)
		require.NoError(t, err)
		assert.Equal(t, res, again)
	}
}

func TestEvaluator_RecordsMetrics(t *testing.T) {
	metrics := &mockMetrics{}
	e := NewEvaluator(metrics)

	_, err := e.Evaluate(features.Record{"amount": 250000.0, "oldbalanceOrg": 100000.0}, 0.5)
	require.NoError(t, err)

	assert.Equal(t, 1, metrics.evaluations)
	assert.Equal(t, 1, metrics.matches[HighAmount])
	assert.Equal(t, 1, metrics.matches[AmountExceedsBalance])

	_, err = e.Evaluate(features.Record{"amount": []int{1}}, 0.5)
	assert.Error(t, err)
	assert.Equal(t, 1, metrics.evaluations, "failed evaluations are not counted")
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{
		HighAmount, AmountExceedsBalance, ZeroRecipientInitial,
		SuspiciousPattern, UnbalancedTransfer, LargeTransferNewAccount,
	}, Names())
}
