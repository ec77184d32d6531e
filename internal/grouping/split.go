package grouping

import (
	"math"

	"github.com/mvai/bracket_orchestrator/internal/domain"
	"github.com/mvai/bracket_orchestrator/internal/exif"
)

// splitReversals cuts a cluster where its exposure sequence reverses
// direction: a sweep that ramps up then down (or returns near its starting
// EV) is two brackets, not one.
func (e *Engine) splitReversals(cluster []*domain.UploadedFile) [][]*domain.UploadedFile {
	if len(cluster) <= 2 {
		return [][]*domain.UploadedFile{cluster}
	}

	var out [][]*domain.UploadedFile
	var current []*domain.UploadedFile

	direction := 0
	var startEV, minEV, maxEV *float64

	reset := func(f *domain.UploadedFile) {
		current = []*domain.UploadedFile{f}
		direction = 0
		startEV = exif.ExposureProxy(f)
		minEV, maxEV = nil, nil
		trackRange(&minEV, &maxEV, startEV)
	}

	reset(cluster[0])

	for _, f := range cluster[1:] {
		ev := exif.ExposureProxy(f)
		prevEV := exif.ExposureProxy(current[len(current)-1])

		if ev != nil && prevEV != nil {
			delta := *ev - *prevEV
			if direction == 0 && math.Abs(delta) >= e.cfg.DirectionMinStepEV {
				if delta > 0 {
					direction = 1
				} else {
					direction = -1
				}
			}

			evRange := 0.0
			if minEV != nil && maxEV != nil {
				evRange = *maxEV - *minEV
			}

			signFlip := direction != 0 &&
				((direction > 0 && delta < -e.cfg.ReversalStepEV) ||
					(direction < 0 && delta > e.cfg.ReversalStepEV))
			backToStart := startEV != nil && math.Abs(*ev-*startEV) <= e.cfg.BackToStartTolEV

			if len(current) >= 2 && signFlip && (backToStart || evRange >= e.cfg.ReversalStepEV) {
				out = append(out, current)
				reset(f)
				continue
			}
		}

		current = append(current, f)
		trackRange(&minEV, &maxEV, ev)
	}

	out = append(out, current)
	return out
}

func trackRange(minEV, maxEV **float64, ev *float64) {
	if ev == nil {
		return
	}
	if *minEV == nil || *ev < **minEV {
		*minEV = ev
	}
	if *maxEV == nil || *ev > **maxEV {
		*maxEV = ev
	}
}

// splitOversized partitions a cluster larger than the maximum bracket size.
// A bottom-up table over the remaining shot count picks, from the fixed
// descending list of allowed sizes, the partition consuming the most shots
// into full-size brackets; whatever the table leaves over becomes singleton
// fallback groups.
func (e *Engine) splitOversized(cluster []*domain.UploadedFile) [][]*domain.UploadedFile {
	n := len(cluster)
	if n <= e.cfg.MaxBracketSize {
		return [][]*domain.UploadedFile{cluster}
	}

	sizes := e.cfg.allowedBracketSizes()

	// best[r] = max shots consumed into full brackets out of r remaining.
	// choice[r] = size taken at r, or 0 when the first shot is left over.
	best := make([]int, n+1)
	choice := make([]int, n+1)
	for r := 1; r <= n; r++ {
		best[r] = best[r-1] // leave one shot over
		choice[r] = 0
		for _, s := range sizes {
			if s > r {
				continue
			}
			if consumed := s + best[r-s]; consumed > best[r] {
				best[r] = consumed
				choice[r] = s
			}
		}
	}

	var out [][]*domain.UploadedFile
	pos := 0
	for r := n; r > 0; {
		if s := choice[r]; s > 0 {
			out = append(out, cluster[pos:pos+s])
			pos += s
			r -= s
		} else {
			out = append(out, cluster[pos:pos+1])
			pos++
			r--
		}
	}

	return out
}
