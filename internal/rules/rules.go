// Package rules implements the expert rule system: a fixed set of named
// threshold predicates over a transaction record whose match count yields a
// fraud decision independent of any learned model.
package rules

import (
	"math"

	"fraud-scoring/internal/common"
	"fraud-scoring/internal/features"
)

// Transaction fields read by the rules. Missing fields count as 0.
const (
	FieldAmount         = "amount"
	FieldOldBalanceOrig = "oldbalanceOrg"
	FieldNewBalanceOrig = "newbalanceOrig"
	FieldOldBalanceDest = "oldbalanceDest"
	FieldNewBalanceDest = "newbalanceDest"
)

// Rule names, in evaluation order.
const (
	HighAmount              = "high_amount"
	AmountExceedsBalance    = "amount_exceeds_balance"
	ZeroRecipientInitial    = "zero_recipient_initial"
	SuspiciousPattern       = "suspicious_pattern"
	UnbalancedTransfer      = "unbalanced_transfer"
	LargeTransferNewAccount = "large_transfer_new_account"
)

// DefaultScore is assumed when a caller supplies no classifier score.
const DefaultScore = 0.5

type transaction struct {
	amount, oldOrig, newOrig, oldDest, newDest float64
}

type rule struct {
	name  string
	match func(tx transaction) bool
}

var ruleSet = []rule{
	{HighAmount, func(tx transaction) bool {
		return tx.amount > 200000
	}},
	{AmountExceedsBalance, func(tx transaction) bool {
		return tx.amount > tx.oldOrig
	}},
	{ZeroRecipientInitial, func(tx transaction) bool {
		return tx.oldDest == 0
	}},
	{SuspiciousPattern, func(tx transaction) bool {
		return tx.oldOrig > 0 && tx.newOrig == 0
	}},
	{UnbalancedTransfer, func(tx transaction) bool {
		return math.Abs(tx.amount-(tx.newDest-tx.oldDest)) > 1000
	}},
	{LargeTransferNewAccount, func(tx transaction) bool {
		return tx.amount > 50000 && tx.oldDest < 1000
	}},
}

// Names returns the rule names in evaluation order.
func Names() []string {
	names := make([]string, len(ruleSet))
	for i, r := range ruleSet {
		names[i] = r.name
	}
	return names
}

// Result is the outcome of evaluating every rule against one transaction.
type Result struct {
	Triggered    bool     `json:"triggered"`
	MatchedRules []string `json:"matchedRules"`
	Decision     string   `json:"decision"`
}

// MetricsInterface records rule evaluations.
type MetricsInterface interface {
	RuleEvaluationInc()
	RuleMatchInc(rule string)
}

// Evaluator applies the rule set and reports to optional metrics.
type Evaluator struct {
	metrics MetricsInterface
}

// NewEvaluator creates an evaluator. metrics may be nil.
func NewEvaluator(metrics MetricsInterface) *Evaluator {
	return &Evaluator{metrics: metrics}
}

// Evaluate applies every rule to rec. The classifier score is accepted for
// interface compatibility but does not influence the decision.
func (e *Evaluator) Evaluate(rec features.Record, score float64) (Result, error) {
	res, err := Evaluate(rec, score)
	if err != nil {
		return res, err
	}
	if e.metrics != nil {
		e.metrics.RuleEvaluationInc()
		for _, name := range res.MatchedRules {
			e.metrics.RuleMatchInc(name)
		}
	}
	return res, nil
}

// Evaluate applies every rule to rec. Matched rules are listed in rule order;
// the decision is fraud when at least two rules match. score is ignored.
func Evaluate(rec features.Record, _ float64) (Result, error) {
	var tx transaction
	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{FieldAmount, &tx.amount},
		{FieldOldBalanceOrig, &tx.oldOrig},
		{FieldNewBalanceOrig, &tx.newOrig},
		{FieldOldBalanceDest, &tx.oldDest},
		{FieldNewBalanceDest, &tx.newDest},
	} {
		v, err := rec.Field(f.name)
		if err != nil {
			return Result{}, err
		}
		*f.dst = v
	}

	matched := []string{}
	for _, r := range ruleSet {
		if r.match(tx) {
			matched = append(matched, r.name)
		}
	}

	res := Result{
		Triggered:    len(matched) > 0,
		MatchedRules: matched,
		Decision:     common.LabelLegitimate,
	}
	if len(matched) >= common.RuleFraudMatches {
		res.Decision = common.LabelFraud
	}
	return res, nil
}
