package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
)

// SyntheticColumns is the header written by WriteSynthetic.
var SyntheticColumns = []string{
	"step", "type", "amount", "nameOrig", "oldbalanceOrg", "newbalanceOrig",
	"nameDest", "oldbalanceDest", "newbalanceDest", "isFraud",
}

var legitimateTypes = []string{"PAYMENT", "CASH_IN", "DEBIT", "CASH_OUT", "TRANSFER"}

// SyntheticConfig controls WriteSynthetic.
type SyntheticConfig struct {
	Rows      int
	FraudRate float64
	Steps     int
	Seed      int64
}

// WriteSynthetic writes a mobile-money style transaction log. Fraudulent rows
// drain the origin account into a recipient that started empty; legitimate
// rows move part of a balance between funded accounts. Output is fully
// determined by cfg.
func WriteSynthetic(w io.Writer, cfg SyntheticConfig) error {
	if cfg.Rows < 1 {
		return fmt.Errorf("rows must be positive, got %d", cfg.Rows)
	}
	if cfg.FraudRate < 0 || cfg.FraudRate > 1 {
		return fmt.Errorf("fraud rate must be within [0,1], got %v", cfg.FraudRate)
	}
	steps := cfg.Steps
	if steps < 1 {
		steps = 1
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	out := csv.NewWriter(w)
	if err := out.Write(SyntheticColumns); err != nil {
		return err
	}

	money := func(v float64) string { return strconv.FormatFloat(math.Round(v*100)/100, 'f', 2, 64) }

	for i := 0; i < cfg.Rows; i++ {
		step := 1 + i*steps/cfg.Rows
		nameOrig := fmt.Sprintf("C%09d", rng.Intn(1e9))

		fraud := rng.Float64() < cfg.FraudRate

		var (
			txType                   string
			amount, oldOrig, newOrig float64
			nameDest                 string
			oldDest, newDest         float64
		)

		if fraud {
			txType = "TRANSFER"
			if rng.Intn(2) == 0 {
				txType = "CASH_OUT"
			}
			oldOrig = 10000 + rng.Float64()*290000
			amount = oldOrig
			newOrig = 0
			nameDest = fmt.Sprintf("C%09d", rng.Intn(1e9))
			if txType == "CASH_OUT" {
				newDest = amount
			}
		} else {
			txType = legitimateTypes[rng.Intn(len(legitimateTypes))]
			oldOrig = 1000 + rng.Float64()*99000
			amount = 1 + rng.Float64()*math.Min(oldOrig*0.5, 20000)
			newOrig = oldOrig - amount
			if txType == "CASH_IN" {
				newOrig = oldOrig + amount
			}
			nameDest = fmt.Sprintf("M%09d", rng.Intn(1e9))
			oldDest = 500 + rng.Float64()*49500
			newDest = oldDest + amount
		}

		label := "0"
		if fraud {
			label = "1"
		}

		record := []string{
			strconv.Itoa(step), txType, money(amount), nameOrig, money(oldOrig), money(newOrig),
			nameDest, money(oldDest), money(newDest), label,
		}
		if err := out.Write(record); err != nil {
			return err
		}
	}

	out.Flush()
	return out.Error()
}
