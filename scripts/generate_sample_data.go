package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"fraud-scoring/internal/dataset"
)

func main() {
	var (
		output    = flag.String("output", "transactions.csv", "Output CSV file, - for stdout")
		rows      = flag.Int("rows", 5000, "Number of transactions to generate")
		fraudRate = flag.Float64("fraud-rate", 0.05, "Fraction of fraudulent transactions")
		steps     = flag.Int("steps", 24, "Number of time steps to spread transactions over")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	)
	flag.Parse()

	fmt.Fprintf(os.Stderr, "Generating sample transactions...\n")
	fmt.Fprintf(os.Stderr, "  Rows: %d\n", *rows)
	fmt.Fprintf(os.Stderr, "  Fraud rate: %.2f%%\n", *fraudRate*100)
	fmt.Fprintf(os.Stderr, "  Seed: %d\n", *seed)

	out := os.Stdout
	if *output != "-" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatalf("Failed to create output file: %v", err)
		}
		defer f.Close()
		out = f
	}

	w := bufio.NewWriter(out)
	err := dataset.WriteSynthetic(w, dataset.SyntheticConfig{
		Rows:      *rows,
		FraudRate: *fraudRate,
		Steps:     *steps,
		Seed:      *seed,
	})
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		log.Fatalf("Failed to write transactions: %v", err)
	}

	if *output != "-" {
		fmt.Fprintf(os.Stderr, "Sample data written to %s\n", *output)
	}
}
