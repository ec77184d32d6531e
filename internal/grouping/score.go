package grouping

import (
	"math"
	"sort"
	"time"

	"github.com/mvai/bracket_orchestrator/internal/domain"
	"github.com/mvai/bracket_orchestrator/internal/exif"
)

// score rates a cluster's likelihood of being an intentional exposure
// bracket. The result is always within [0,1].
func (e *Engine) score(cluster []*domain.UploadedFile) float64 {
	evs := knownExposures(cluster)
	if len(evs) == 0 {
		return clamp01(e.fallbackScore(cluster))
	}

	w := e.cfg.Weights

	total := w.TimeCompactness * e.timeCompactness(cluster)
	total += w.StepRegularity * stepRegularity(evs)

	if isoConsistent(cluster, e.cfg.ISORelTol) {
		total += w.ISOConsistency
	}
	if sameCamera(cluster) {
		total += w.SameCamera
	}
	if len(evs) >= 2 && evs[len(evs)-1]-evs[0] >= e.cfg.MinEVSpread {
		total += w.EVRange
	}

	return clamp01(total)
}

// fallbackScore substitutes for the exposure-based score when the cluster
// carries no exposure metadata at all.
func (e *Engine) fallbackScore(cluster []*domain.UploadedFile) float64 {
	w := defaultFallbackWeights()

	total := w.TimeCompactness * e.timeCompactness(cluster)

	if sequenceContinuous(cluster) {
		total += w.SequenceContinuity
	}
	if sameCamera(cluster) {
		total += w.CameraConsistency
	}
	switch len(cluster) {
	case 3, 5, 7:
		total += w.ConventionalSize
	}

	return total
}

// timeCompactness decays linearly from 1 at TightSpan to 0 at LooseSpan.
func (e *Engine) timeCompactness(cluster []*domain.UploadedFile) float64 {
	span, ok := timeSpan(cluster)
	if !ok {
		return 0
	}
	if span <= e.cfg.TightSpan {
		return 1
	}
	if span >= e.cfg.LooseSpan {
		return 0
	}
	return float64(e.cfg.LooseSpan-span) / float64(e.cfg.LooseSpan-e.cfg.TightSpan)
}

// stepRegularity rewards consistent ~1EV or ~2EV spacing between consecutive
// sorted exposure values.
func stepRegularity(sortedEVs []float64) float64 {
	if len(sortedEVs) < 2 {
		return 0
	}

	good := 0
	steps := len(sortedEVs) - 1
	for i := 1; i < len(sortedEVs); i++ {
		d := sortedEVs[i] - sortedEVs[i-1]
		if math.Abs(d-1) <= 0.35 || math.Abs(d-2) <= 0.5 {
			good++
		}
	}

	return float64(good) / float64(steps)
}

func isoConsistent(cluster []*domain.UploadedFile, relTol float64) bool {
	var minISO, maxISO float64
	seen := 0
	for _, f := range cluster {
		if f.ISO == nil {
			return false
		}
		v := *f.ISO
		if seen == 0 || v < minISO {
			minISO = v
		}
		if seen == 0 || v > maxISO {
			maxISO = v
		}
		seen++
	}
	if seen < 2 || minISO <= 0 {
		return seen == len(cluster) && seen > 0
	}
	return maxISO/minISO <= 1+relTol
}

func sameCamera(cluster []*domain.UploadedFile) bool {
	var make_, model string
	seen := false
	for _, f := range cluster {
		if f.CameraMake == nil || f.CameraModel == nil {
			return false
		}
		if !seen {
			make_, model = *f.CameraMake, *f.CameraModel
			seen = true
			continue
		}
		if *f.CameraMake != make_ || *f.CameraModel != model {
			return false
		}
	}
	return seen
}

// sequenceContinuous reports whether the cluster is one unbroken filename
// sequence run.
func sequenceContinuous(cluster []*domain.UploadedFile) bool {
	if len(cluster) < 2 {
		return false
	}
	for i := 1; i < len(cluster); i++ {
		prev, curr := cluster[i-1].Seq, cluster[i].Seq
		if prev == nil || curr == nil {
			return false
		}
		if prev.Prefix != curr.Prefix || prev.Width != curr.Width || curr.Value-prev.Value != 1 {
			return false
		}
	}
	return true
}

// knownExposures returns the cluster's exposure values sorted ascending,
// skipping files with no usable exposure metadata.
func knownExposures(cluster []*domain.UploadedFile) []float64 {
	evs := make([]float64, 0, len(cluster))
	for _, f := range cluster {
		if v := exif.ExposureProxy(f); v != nil {
			evs = append(evs, *v)
		}
	}
	sort.Float64s(evs)
	return evs
}

func timeSpan(cluster []*domain.UploadedFile) (time.Duration, bool) {
	var earliest, latest *time.Time
	for _, f := range cluster {
		if f.CaptureTime == nil {
			continue
		}
		if earliest == nil || f.CaptureTime.Before(*earliest) {
			earliest = f.CaptureTime
		}
		if latest == nil || f.CaptureTime.After(*latest) {
			latest = f.CaptureTime
		}
	}
	if earliest == nil {
		return 0, false
	}
	return latest.Sub(*earliest), true
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
