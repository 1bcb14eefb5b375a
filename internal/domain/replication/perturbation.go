package replication

import "math"

// Perturbation is one deterministic modifier applied to the base request.
type Perturbation struct {
	Name        string
	EnergyShift float64
	TempoFactor float64
	Directive   string
}

// Perturbations is indexed by variant position. Variant 0 is always the
// unmodified baseline.
var Perturbations = []Perturbation{
	{Name: "baseline", TempoFactor: 1},
	{Name: "energy", EnergyShift: 0.15, TempoFactor: 1, Directive: "Slightly higher energy, more pronounced hook."},
	{Name: "atmospheric", EnergyShift: -0.15, TempoFactor: 1, Directive: "More subtle approach, focus on atmospheric elements."},
	{Name: "tempo-lift", EnergyShift: 0.05, TempoFactor: 1.05, Directive: "Lift the tempo slightly and keep the groove."},
	{Name: "stripped", EnergyShift: -0.1, TempoFactor: 1, Directive: "Stripped-back arrangement with fewer layers."},
}

// MaxVariants is the number of available perturbations.
func MaxVariants() int { return len(Perturbations) }

func (p Perturbation) tempo(base float64) float64 {
	if p.TempoFactor == 0 || p.TempoFactor == 1 {
		return base
	}
	return math.Round(base * p.TempoFactor)
}
