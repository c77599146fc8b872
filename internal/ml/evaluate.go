package ml

import (
	"fmt"
	"math"
	"sort"
)

// Evaluation holds hold-out scores of a binary classifier.
type Evaluation struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1Score   float64 `json:"f1Score"`
	AUC       float64 `json:"auc"`
}

// Evaluate scores c on x/y. Precision, recall and F1 are 0 when their
// denominator is 0. AUC is 0.5 when y holds a single class.
func Evaluate(c Classifier, x [][]float64, y []int) (Evaluation, error) {
	if len(x) == 0 {
		return Evaluation{}, fmt.Errorf("cannot evaluate on empty partition")
	}
	if len(x) != len(y) {
		return Evaluation{}, fmt.Errorf("partition has %d rows but %d labels", len(x), len(y))
	}

	scores := make([]float64, len(x))
	var tp, fp, tn, fn int
	for i, row := range x {
		p, err := c.PredictProba(row)
		if err != nil {
			return Evaluation{}, fmt.Errorf("row %d: %w", i, err)
		}
		scores[i] = p

		predicted := 0
		if p > 0.5 {
			predicted = 1
		}
		switch {
		case predicted == 1 && y[i] == 1:
			tp++
		case predicted == 1 && y[i] == 0:
			fp++
		case predicted == 0 && y[i] == 0:
			tn++
		default:
			fn++
		}
	}

	e := Evaluation{
		Accuracy:  float64(tp+tn) / float64(len(y)),
		Precision: safeDiv(float64(tp), float64(tp+fp)),
		Recall:    safeDiv(float64(tp), float64(tp+fn)),
		AUC:       RocAUC(y, scores),
	}
	e.F1Score = safeDiv(2*e.Precision*e.Recall, e.Precision+e.Recall)
	return e, nil
}

// RocAUC computes the area under the ROC curve as the normalized
// Mann-Whitney U statistic, assigning average ranks to tied scores.
func RocAUC(y []int, scores []float64) float64 {
	n := len(y)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && scores[order[j+1]] == scores[order[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[order[k]] = avg
		}
		i = j + 1
	}

	var nPos, nNeg int
	rankSum := 0.0
	for i, label := range y {
		if label == 1 {
			nPos++
			rankSum += ranks[i]
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0.5
	}

	u := rankSum - float64(nPos)*float64(nPos+1)/2
	return u / (float64(nPos) * float64(nNeg))
}

func safeDiv(a, b float64) float64 {
	if b == 0 || math.IsNaN(b) {
		return 0
	}
	return a / b
}
