package grouping

import "time"

// Config carries every grouping threshold and scoring weight. The values are
// product-tunable; the defaults come from field calibration on real estate
// shoots.
type Config struct {
	// Time clustering.
	BaseGap          time.Duration // plain shot-to-shot gap allowance
	DynamicGapBase   time.Duration // floor of the shutter-aware allowance
	DynamicGapFactor float64       // multiplier on the slower shutter of the pair
	BracketWindow    time.Duration // widened gap when the cluster looks like a bracket

	// Hard discontinuities break a cluster regardless of timing.
	FocalTolMM   float64
	FNumberTol   float64
	ISORelTol    float64

	// Bracket sizing.
	MinBracketSize int
	MaxBracketSize int

	// Exposure-sweep reversal detection.
	DirectionMinStepEV float64 // step establishing the sweep direction
	ReversalStepEV     float64 // opposing step that flips it
	BackToStartTolEV   float64

	// HDR decision.
	ConfidenceCutoff float64
	MonotonicTolEV   float64
	MinEVSpread      float64

	// Confidence scoring.
	TightSpan time.Duration // full time-compactness credit at or below
	LooseSpan time.Duration // zero credit at or beyond
	Weights   Weights

	// Output naming.
	OutputExt string
}

// Weights are the named terms of the HDR confidence score. They sum to 1 so
// the weighted total needs clamping only against rounding.
type Weights struct {
	TimeCompactness float64
	StepRegularity  float64
	ISOConsistency  float64
	SameCamera      float64
	EVRange         float64
}

// FallbackWeights score clusters with no exposure metadata at all.
type FallbackWeights struct {
	TimeCompactness     float64
	SequenceContinuity  float64
	CameraConsistency   float64
	ConventionalSize    float64
}

func DefaultConfig() Config {
	return Config{
		BaseGap:          3 * time.Second,
		DynamicGapBase:   1200 * time.Millisecond,
		DynamicGapFactor: 2.5,
		BracketWindow:    6 * time.Second,

		FocalTolMM: 0.1,
		FNumberTol: 0.1,
		ISORelTol:  0.10,

		MinBracketSize: 3,
		MaxBracketSize: 7,

		DirectionMinStepEV: 0.4,
		ReversalStepEV:     0.6,
		BackToStartTolEV:   0.4,

		ConfidenceCutoff: 0.70,
		MonotonicTolEV:   0.3,
		MinEVSpread:      1.5,

		TightSpan: 2 * time.Second,
		LooseSpan: 15 * time.Second,
		Weights: Weights{
			TimeCompactness: 0.35,
			StepRegularity:  0.30,
			ISOConsistency:  0.10,
			SameCamera:      0.10,
			EVRange:         0.15,
		},

		OutputExt: ".jpg",
	}
}

func defaultFallbackWeights() FallbackWeights {
	return FallbackWeights{
		TimeCompactness:    0.40,
		SequenceContinuity: 0.30,
		CameraConsistency:  0.15,
		ConventionalSize:   0.15,
	}
}

// allowedBracketSizes returns the fixed descending list of full bracket sizes
// the splitter may choose from.
func (c Config) allowedBracketSizes() []int {
	sizes := make([]int, 0, c.MaxBracketSize-c.MinBracketSize+1)
	for s := c.MaxBracketSize; s >= c.MinBracketSize; s-- {
		sizes = append(sizes, s)
	}
	return sizes
}
