package dedupe

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/placeresolve/internal/similarity"
)

// Policy holds the duplicate thresholds and weights.
type Policy struct {
	NameWeight         float64 `yaml:"name_weight" mapstructure:"name_weight"`
	AddressWeight      float64 `yaml:"address_weight" mapstructure:"address_weight"`
	NeighborhoodWeight float64 `yaml:"neighborhood_weight" mapstructure:"neighborhood_weight"`

	// Combined is the weighted score at or above which a pair is a duplicate.
	Combined float64 `yaml:"combined" mapstructure:"combined"`

	// StrongName and StrongAddress flag a pair regardless of the combined
	// score when both are met.
	StrongName    float64 `yaml:"strong_name" mapstructure:"strong_name"`
	StrongAddress float64 `yaml:"strong_address" mapstructure:"strong_address"`
}

// DefaultPolicy returns the default duplicate policy.
func DefaultPolicy() Policy {
	return Policy{
		NameWeight:         0.6,
		AddressWeight:      0.3,
		NeighborhoodWeight: 0.1,
		Combined:           0.90,
		StrongName:         0.95,
		StrongAddress:      0.85,
	}
}

// Validate checks thresholds are in range and weights sum to 1.
func (p Policy) Validate() error {
	for name, v := range map[string]float64{
		"combined":       p.Combined,
		"strong_name":    p.StrongName,
		"strong_address": p.StrongAddress,
	} {
		if v <= 0 || v > 1 {
			return eris.Errorf("dedupe: %s %.2f out of range (0,1]", name, v)
		}
	}
	sum := p.NameWeight + p.AddressWeight + p.NeighborhoodWeight
	if sum < 0.999 || sum > 1.001 {
		return eris.Errorf("dedupe: weights sum to %.3f, want 1", sum)
	}
	return nil
}

// Pair is a scored pair of places.
type Pair struct {
	A                int64   `json:"a" yaml:"a"`
	B                int64   `json:"b" yaml:"b"`
	Name             float64 `json:"name" yaml:"name"`
	Address          float64 `json:"address" yaml:"address"`
	Neighborhood     float64 `json:"neighborhood" yaml:"neighborhood"`
	Combined         float64 `json:"combined" yaml:"combined"`
	SharedExternalID bool    `json:"shared_external_id,omitempty" yaml:"shared_external_id,omitempty"`
}

// Score compares two entries.
func (p Policy) Score(a, b *Entry) Pair {
	pair := Pair{
		A:            a.ID,
		B:            b.ID,
		Name:         similarity.TokenSortRatio(a.NormalizedName, b.NormalizedName),
		Address:      similarity.TokenSortRatio(a.NormalizedAddress, b.NormalizedAddress),
		Neighborhood: similarity.TokenSortRatio(a.Neighborhood, b.Neighborhood),
	}
	pair.Combined = p.NameWeight*pair.Name + p.AddressWeight*pair.Address + p.NeighborhoodWeight*pair.Neighborhood
	pair.SharedExternalID = a.ExternalID != "" && a.ExternalID == b.ExternalID
	return pair
}

// Duplicate reports whether a scored pair is a duplicate.
func (p Policy) Duplicate(pair Pair) bool {
	switch {
	case pair.SharedExternalID:
		return true
	case pair.Combined >= p.Combined:
		return true
	default:
		return pair.Name >= p.StrongName && pair.Address >= p.StrongAddress
	}
}
