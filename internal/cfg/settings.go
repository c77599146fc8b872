package cfg

import (
	"fmt"

	"fraud-scoring/internal/common"
)

// FusionSettings configures how per-tenant probabilities and the expert rule
// decision are combined into a final decision. It is loaded from config and
// can be replaced at runtime through the settings endpoint.
type FusionSettings struct {
	Tenants      []string   `yaml:"tenants" json:"tenants"`
	Strategy     string     `yaml:"strategy" json:"weightingStrategy"`
	EnableERS    bool       `yaml:"enableERS" json:"enableERS"`
	ERSThreshold [2]float64 `yaml:"ersThreshold" json:"ersThreshold"`
	BatchLimit   int        `yaml:"batchLimit" json:"batchLimit"`
}

// DefaultFusionSettings mirrors the defaults of the aggregation server.
func DefaultFusionSettings() FusionSettings {
	return FusionSettings{
		Strategy:     common.StrategyPerformance,
		EnableERS:    true,
		ERSThreshold: [2]float64{common.DefaultERSLow, common.DefaultERSHigh},
		BatchLimit:   common.DefaultBatchLimit,
	}
}

// withDefaults fills zero values of a YAML-decoded block. EnableERS cannot be
// distinguished from an explicit false, so an empty block also enables ERS.
func (f FusionSettings) withDefaults() FusionSettings {
	def := DefaultFusionSettings()
	if f.Strategy == "" && f.ERSThreshold == [2]float64{} && f.BatchLimit == 0 && len(f.Tenants) == 0 {
		f.EnableERS = def.EnableERS
	}
	if f.Strategy == "" {
		f.Strategy = def.Strategy
	}
	if f.ERSThreshold == [2]float64{} {
		f.ERSThreshold = def.ERSThreshold
	}
	if f.BatchLimit == 0 {
		f.BatchLimit = def.BatchLimit
	}
	return f
}

// Validate checks strategy, threshold band and batch limit.
func (f FusionSettings) Validate() error {
	switch f.Strategy {
	case common.StrategyPerformance, common.StrategyEqual:
	default:
		return fmt.Errorf("invalid weighting strategy %q", f.Strategy)
	}

	lo, hi := f.ERSThreshold[0], f.ERSThreshold[1]
	if lo < 0 || hi > 1 || lo > hi {
		return fmt.Errorf("ERS threshold must be an ordered pair within [0,1], got [%g, %g]", lo, hi)
	}

	if f.BatchLimit < 1 || f.BatchLimit > common.MaxBatchLimit {
		return fmt.Errorf("batch limit must be between 1 and %d, got %d", common.MaxBatchLimit, f.BatchLimit)
	}

	for _, t := range f.Tenants {
		if t == "" {
			return fmt.Errorf("tenant ids cannot be empty")
		}
	}
	return nil
}
