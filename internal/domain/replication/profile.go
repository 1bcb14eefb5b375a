package replication

import (
	"strings"

	"github.com/okian/trendcast/internal/domain/model"
)

// Production styles by category.
const (
	StyleVintageWarm     = "vintage_warm"
	StyleModernCrisp     = "modern_crisp"
	StyleOrganicSpacious = "organic_spacious"
	StyleBalancedClean   = "balanced_clean"
)

const unknownMoodEnergy = 0.5

var moodEnergy = map[string]float64{
	"chill":      0.3,
	"peaceful":   0.2,
	"nostalgic":  0.4,
	"energetic":  0.8,
	"aggressive": 0.9,
	"confident":  0.7,
	"mysterious": 0.5,
	"dark":       0.6,
	"uplifting":  0.8,
}

// Fixed hook strengths; only the rhythmic hook depends on the category.
const (
	melodicHook   = 0.8
	sonicHook     = 0.7
	emotionalHook = 0.8
)

// Profile is the musical profile the default prediction is derived from.
type Profile struct {
	Energy          float64
	RhythmicHook    float64
	HookStrength    float64
	ProductionStyle string
}

// MoodEnergy averages the energy of the mood terms; unknown or absent moods
// count as 0.5.
func MoodEnergy(moods []string) float64 {
	if len(moods) == 0 {
		return unknownMoodEnergy
	}
	var sum float64
	for _, m := range moods {
		e, ok := moodEnergy[strings.ToLower(m)]
		if !ok {
			e = unknownMoodEnergy
		}
		sum += e
	}
	return sum / float64(len(moods))
}

// ProductionStyleFor maps a category to a production style.
func ProductionStyleFor(category string) string {
	c := strings.ToLower(category)
	switch {
	case strings.Contains(c, "lofi"), strings.Contains(c, "lo-fi"):
		return StyleVintageWarm
	case strings.Contains(c, "trap"):
		return StyleModernCrisp
	case strings.Contains(c, "meditation"), strings.Contains(c, "ambient"):
		return StyleOrganicSpacious
	default:
		return StyleBalancedClean
	}
}

// ProfileFor derives the profile of a generation request, including its
// perturbation's energy shift.
func ProfileFor(req model.GenerationRequest) Profile {
	rhythmic := 0.6
	if strings.EqualFold(req.Category, "trap") {
		rhythmic = 0.9
	}
	return Profile{
		Energy:          clamp01(MoodEnergy(req.MoodTerms) + req.EnergyShift),
		RhythmicHook:    rhythmic,
		HookStrength:    (melodicHook + rhythmic + sonicHook + emotionalHook) / 4,
		ProductionStyle: ProductionStyleFor(req.Category),
	}
}

// HeuristicPrediction is used when the backend returns no prediction.
// Viral potential follows hook strength and energy; engagement peaks when
// energy sits near 0.6.
func HeuristicPrediction(req model.GenerationRequest) model.Prediction {
	p := ProfileFor(req)
	return model.Prediction{
		ViralPotential: clamp01(0.5*p.HookStrength + 0.5*p.Energy),
		Engagement:     clamp01(0.6*p.HookStrength + 0.4*(1-abs(p.Energy-0.6))),
	}
}

// Composite is the selection score.
func Composite(pred model.Prediction) float64 {
	return 0.6*clamp01(pred.ViralPotential) + 0.4*clamp01(pred.Engagement)
}

func emotionalDirection(energy float64) string {
	switch {
	case energy > 0.6:
		return "positive"
	case energy > 0.4:
		return "neutral"
	default:
		return "introspective"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
