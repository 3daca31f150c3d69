// Package scorer ranks contractors against opportunities with deterministic
// weighted-factor or point-accumulation formulas.
package scorer

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/capture-cli/internal/config"
	"github.com/sells-group/capture-cli/internal/model"
)

// DefaultTopK is the number of matches kept per opportunity.
const DefaultTopK = 10

// DefaultScoringConfig returns a config.ScoringConfig with the reference
// weight table. Weights sum to 1.
func DefaultScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		Mode:        string(model.ModeWeighted),
		TopK:        DefaultTopK,
		WriteMode:   "upsert",
		Concurrency: 1,

		NAICSWeight:    0.25,
		PSCWeight:      0.15,
		SetAsideWeight: 0.20,
		GeoWeight:      0.15,
		ValueWeight:    0.15,
		DeadlineWeight: 0.10,
		HotThreshold:   0.70,
		WarmThreshold:  0.50,

		MinPoints:    60,
		EnrichPoints: 85,
	}
}

// WeightSum returns the sum of all weighted-mode factor weights.
func WeightSum(c config.ScoringConfig) float64 {
	return c.NAICSWeight + c.PSCWeight + c.SetAsideWeight +
		c.GeoWeight + c.ValueWeight + c.DeadlineWeight
}

// ValidateConfig checks the scoring config for errors.
func ValidateConfig(c config.ScoringConfig) error {
	var errs []string

	switch model.ScoringMode(c.Mode) {
	case model.ModeWeighted, model.ModePoints:
	default:
		errs = append(errs, fmt.Sprintf("unknown mode %q", c.Mode))
	}

	weights := map[string]float64{
		"naics_weight":     c.NAICSWeight,
		"psc_weight":       c.PSCWeight,
		"set_aside_weight": c.SetAsideWeight,
		"geo_weight":       c.GeoWeight,
		"value_weight":     c.ValueWeight,
		"deadline_weight":  c.DeadlineWeight,
	}
	for _, name := range sortedNames(weights) {
		if weights[name] < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
	}

	// Weights must sum to 1 (tolerance for floating-point).
	if sum := WeightSum(c); math.Abs(sum-1) > 0.001 {
		errs = append(errs, fmt.Sprintf("weights should sum to 1, got %.4f", sum))
	}

	if c.WarmThreshold < 0 || c.HotThreshold > 1 || c.WarmThreshold > c.HotThreshold {
		errs = append(errs, "thresholds must satisfy 0 <= warm_threshold <= hot_threshold <= 1")
	}
	if c.MinPoints < 0 || c.EnrichPoints > maxPoints || c.MinPoints > c.EnrichPoints {
		errs = append(errs, "points must satisfy 0 <= min_points <= enrich_points <= 100")
	}
	if c.TopK < 0 {
		errs = append(errs, "top_k must be >= 0")
	}
	if c.Concurrency < 0 {
		errs = append(errs, "concurrency must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ConfigHash returns a SHA-256 hash of the scoring config for reproducibility.
func ConfigHash(cfg interface{}) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:16]) // 32 hex chars
}

func sortedNames(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
