package dataset

import (
	"fmt"
	"math"
	"sort"
)

// Summary holds headline statistics of an uploaded dataset.
type Summary struct {
	TotalTransactions      int     `json:"totalTransactions"`
	FraudulentTransactions int     `json:"fraudulentTransactions"`
	FraudRatio             float64 `json:"fraudRatio"`
	AverageAmount          float64 `json:"averageAmount"`
	MaxAmount              float64 `json:"maxAmount"`
}

type NameValue struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type AmountBucket struct {
	Name       string `json:"name"`
	Fraud      int    `json:"fraud"`
	Legitimate int    `json:"legitimate"`
}

type TimePoint struct {
	Time  string `json:"time"`
	Count int    `json:"count"`
}

type ChartData struct {
	TransactionsByType []NameValue    `json:"transactionsByType"`
	AmountDistribution []AmountBucket `json:"amountDistribution"`
	FraudTimeSeries    []TimePoint    `json:"fraudTimeSeries"`
}

// Analysis is the response of the dataset analytics endpoint.
type Analysis struct {
	Summary   Summary   `json:"summary"`
	Insights  []string  `json:"insights"`
	ChartData ChartData `json:"chartData"`
}

var amountBuckets = []struct {
	name       string
	upperBound float64
}{
	{"<10K", 10000},
	{"10K-50K", 50000},
	{"50K-100K", 100000},
	{">100K", math.Inf(1)},
}

// Analyze computes summary statistics and chart aggregates. Columns amount,
// type and step are used when present; label is the fraud indicator column.
// It never touches a model.
func Analyze(d *Dataset, label string) Analysis {
	total := d.Len()
	analysis := Analysis{
		Insights: []string{fmt.Sprintf("Dataset contains %d transactions", total)},
		ChartData: ChartData{
			TransactionsByType: []NameValue{},
			AmountDistribution: []AmountBucket{},
			FraudTimeSeries:    []TimePoint{},
		},
	}
	analysis.Summary.TotalTransactions = total

	var labels []float64
	if d.HasColumn(label) {
		if values, err := d.Floats(label); err == nil {
			labels = values
		}
	}

	if labels != nil {
		fraud := 0
		for _, v := range labels {
			if v == 1 {
				fraud++
			}
		}
		analysis.Summary.FraudulentTransactions = fraud
		if total > 0 {
			analysis.Summary.FraudRatio = float64(fraud) / float64(total)
		}
		analysis.Insights = append(analysis.Insights,
			fmt.Sprintf("Found %d fraudulent cases (%.2f%%)", fraud, analysis.Summary.FraudRatio*100))
	}

	var amounts []float64
	if d.IsNumeric("amount") {
		amounts, _ = d.Floats("amount")
	}
	if len(amounts) > 0 {
		sum, maxAmount := 0.0, math.Inf(-1)
		for _, a := range amounts {
			sum += a
			maxAmount = math.Max(maxAmount, a)
		}
		analysis.Summary.AverageAmount = sum / float64(len(amounts))
		analysis.Summary.MaxAmount = maxAmount
		analysis.Insights = append(analysis.Insights,
			fmt.Sprintf("Average transaction amount is $%.2f", analysis.Summary.AverageAmount),
			fmt.Sprintf("Largest transaction amount is $%.2f", analysis.Summary.MaxAmount))
	}

	if col := d.ColumnIndex("type"); col >= 0 {
		analysis.ChartData.TransactionsByType = countByType(d, col)
		if labels != nil {
			if name, rate, ok := highestFraudType(d, col, labels); ok {
				analysis.Insights = append(analysis.Insights,
					fmt.Sprintf("Transaction type '%s' has the highest fraud rate (%.2f%%)", name, rate*100))
			}
		}
	}

	if amounts != nil && labels != nil {
		analysis.ChartData.AmountDistribution = amountDistribution(amounts, labels)
	}

	if labels != nil && d.IsNumeric("step") {
		steps, _ := d.Floats("step")
		analysis.ChartData.FraudTimeSeries = fraudBySteps(steps, labels)
	}

	return analysis
}

func countByType(d *Dataset, col int) []NameValue {
	counts := make(map[string]int)
	for row := range d.Rows {
		counts[d.Cell(row, col)]++
	}

	out := make([]NameValue, 0, len(counts))
	for name, n := range counts {
		out = append(out, NameValue{Name: name, Value: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func highestFraudType(d *Dataset, col int, labels []float64) (string, float64, bool) {
	type agg struct{ fraud, total float64 }
	byType := make(map[string]*agg)
	for row := range d.Rows {
		name := d.Cell(row, col)
		a, ok := byType[name]
		if !ok {
			a = &agg{}
			byType[name] = a
		}
		a.total++
		a.fraud += labels[row]
	}

	best, bestRate, found := "", -1.0, false
	for name, a := range byType {
		rate := a.fraud / a.total
		if rate > bestRate || (rate == bestRate && name < best) {
			best, bestRate, found = name, rate, true
		}
	}
	return best, bestRate, found
}

// amountDistribution buckets amounts into right-closed intervals starting
// above zero; non-positive amounts fall outside every bucket.
func amountDistribution(amounts, labels []float64) []AmountBucket {
	out := make([]AmountBucket, len(amountBuckets))
	for i, b := range amountBuckets {
		out[i].Name = b.name
	}

	for i, a := range amounts {
		if a <= 0 {
			continue
		}
		for b := range amountBuckets {
			if a <= amountBuckets[b].upperBound {
				if labels[i] == 1 {
					out[b].Fraud++
				} else {
					out[b].Legitimate++
				}
				break
			}
		}
	}
	return out
}

func fraudBySteps(steps, labels []float64) []TimePoint {
	counts := make(map[int]int)
	for i, s := range steps {
		step := int(s)
		counts[step] += int(labels[i])
	}

	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	out := make([]TimePoint, len(keys))
	for i, k := range keys {
		out[i] = TimePoint{Time: fmt.Sprintf("Step %d", k), Count: counts[k]}
	}
	return out
}
