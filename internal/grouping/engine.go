package grouping

import (
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mvai/bracket_orchestrator/internal/domain"
	"github.com/mvai/bracket_orchestrator/internal/exif"
)

// GroupSpec is one capture group proposed by a grouping run. Specs replace a
// job's previous groups wholesale.
type GroupSpec struct {
	Type                 domain.GroupType
	Confidence           *float64
	Files                []*domain.UploadedFile
	RepresentativeFileID string
	OutputFilename       string
}

// Engine partitions a job's files into ordered capture groups and scores each
// for HDR eligibility. Runs are deterministic for identical input metadata.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Run groups all files of one job. Non-photographic files pass through as
// singleton image groups after the bracket candidates.
func (e *Engine) Run(files []*domain.UploadedFile) []GroupSpec {
	var candidates, passThrough []*domain.UploadedFile
	for _, f := range files {
		if f.Kind.IsCandidate() {
			candidates = append(candidates, f)
		} else {
			passThrough = append(passThrough, f)
		}
	}

	ordered, seqOrdered := e.orderCandidates(candidates)

	var clusters [][]*domain.UploadedFile
	for _, c := range e.cluster(ordered) {
		for _, r := range e.splitReversals(c) {
			clusters = append(clusters, e.splitOversized(r)...)
		}
	}

	specs := make([]GroupSpec, 0, len(clusters)+len(passThrough))
	for _, c := range clusters {
		specs = append(specs, e.buildSpecs(c, seqOrdered)...)
	}

	sort.SliceStable(passThrough, func(i, j int) bool {
		return passThrough[i].Filename < passThrough[j].Filename
	})
	for _, f := range passThrough {
		specs = append(specs, e.singletonSpec(f))
	}

	return specs
}

// orderCandidates sorts by capture time ascending with null times last and
// filename ties. When most files lack timestamps and every file belongs to a
// single sequential filename pattern, the sequence numbers order instead.
func (e *Engine) orderCandidates(files []*domain.UploadedFile) (_ []*domain.UploadedFile, seqOrdered bool) {
	ordered := make([]*domain.UploadedFile, len(files))
	copy(ordered, files)

	missing := 0
	for _, f := range files {
		if f.CaptureTime == nil {
			missing++
		}
	}

	if missing*2 > len(files) && singleSequentialPattern(files) {
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Seq.Value < ordered[j].Seq.Value
		})
		return ordered, true
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		switch {
		case a.CaptureTime == nil && b.CaptureTime == nil:
			return a.Filename < b.Filename
		case a.CaptureTime == nil:
			return false
		case b.CaptureTime == nil:
			return true
		case a.CaptureTime.Equal(*b.CaptureTime):
			return a.Filename < b.Filename
		default:
			return a.CaptureTime.Before(*b.CaptureTime)
		}
	})
	return ordered, false
}

func singleSequentialPattern(files []*domain.UploadedFile) bool {
	if len(files) == 0 {
		return false
	}
	first := files[0].Seq
	if first == nil {
		return false
	}
	for _, f := range files[1:] {
		if f.Seq == nil || f.Seq.Prefix != first.Prefix || f.Seq.Width != first.Width {
			return false
		}
	}
	return true
}

// cluster walks the ordered candidates and starts a new cluster on a time gap
// beyond the allowance or on a hard discontinuity. The discontinuity check
// runs first; the gap allowance widens to the bracket window only when
// appending the file would keep the cluster a provisional HDR candidate.
func (e *Engine) cluster(ordered []*domain.UploadedFile) [][]*domain.UploadedFile {
	var clusters [][]*domain.UploadedFile
	var current []*domain.UploadedFile

	for _, f := range ordered {
		if len(current) == 0 {
			current = []*domain.UploadedFile{f}
			continue
		}

		prev := current[len(current)-1]
		if e.sameCluster(current, prev, f) {
			current = append(current, f)
			continue
		}

		clusters = append(clusters, current)
		current = []*domain.UploadedFile{f}
	}

	if len(current) > 0 {
		clusters = append(clusters, current)
	}

	return clusters
}

func (e *Engine) sameCluster(current []*domain.UploadedFile, prev, f *domain.UploadedFile) bool {
	if hardDiscontinuity(prev, f, e.cfg) {
		return false
	}

	if prev.CaptureTime == nil || f.CaptureTime == nil {
		return consecutiveSeq(prev, f)
	}

	gap := f.CaptureTime.Sub(*prev.CaptureTime)
	if gap <= e.allowedGap(prev, f) {
		return true
	}
	return gap <= e.cfg.BracketWindow && e.provisionalCandidate(current, f)
}

// allowedGap is shutter-aware: long exposures legitimately stretch the pause
// between bracket frames.
func (e *Engine) allowedGap(prev, f *domain.UploadedFile) time.Duration {
	maxShutter := 0.0
	if prev.ExposureTime != nil {
		maxShutter = *prev.ExposureTime
	}
	if f.ExposureTime != nil && *f.ExposureTime > maxShutter {
		maxShutter = *f.ExposureTime
	}

	dynamic := e.cfg.DynamicGapBase + time.Duration(e.cfg.DynamicGapFactor*maxShutter*float64(time.Second))
	if dynamic > e.cfg.BaseGap {
		return dynamic
	}
	return e.cfg.BaseGap
}

func hardDiscontinuity(a, b *domain.UploadedFile, cfg Config) bool {
	if a.FocalLength != nil && b.FocalLength != nil &&
		math.Abs(*a.FocalLength-*b.FocalLength) > cfg.FocalTolMM {
		return true
	}
	if a.FNumber != nil && b.FNumber != nil &&
		math.Abs(*a.FNumber-*b.FNumber) > cfg.FNumberTol {
		return true
	}
	if a.ISO != nil && b.ISO != nil && *a.ISO > 0 && *b.ISO > 0 {
		if math.Max(*a.ISO, *b.ISO)/math.Min(*a.ISO, *b.ISO) > 1+cfg.ISORelTol {
			return true
		}
	}
	if a.CameraMake != nil && b.CameraMake != nil && *a.CameraMake != *b.CameraMake {
		return true
	}
	if a.CameraModel != nil && b.CameraModel != nil && *a.CameraModel != *b.CameraModel {
		return true
	}
	return false
}

func consecutiveSeq(prev, f *domain.UploadedFile) bool {
	if prev.Seq == nil || f.Seq == nil {
		return false
	}
	return prev.Seq.Prefix == f.Seq.Prefix &&
		prev.Seq.Width == f.Seq.Width &&
		f.Seq.Value-prev.Seq.Value == 1
}

// provisionalCandidate tests whether current plus the next file still looks
// like one bracket: bounded time span, monotonic exposure direction and a
// minimum exposure spread.
func (e *Engine) provisionalCandidate(current []*domain.UploadedFile, f *domain.UploadedFile) bool {
	appended := make([]*domain.UploadedFile, 0, len(current)+1)
	appended = append(appended, current...)
	appended = append(appended, f)

	if len(appended) > e.cfg.MaxBracketSize {
		return false
	}
	if span, ok := timeSpan(appended); !ok || span > e.cfg.LooseSpan {
		return false
	}
	if !monotonicExposures(appended, e.cfg.MonotonicTolEV) {
		return false
	}

	evs := knownExposures(appended)
	return len(evs) >= 2 && evs[len(evs)-1]-evs[0] >= e.cfg.MinEVSpread
}

// monotonicExposures reports whether the known exposure values are
// non-decreasing or non-increasing in member order, within tolerance.
func monotonicExposures(cluster []*domain.UploadedFile, tol float64) bool {
	var evs []float64
	for _, f := range cluster {
		if v := exif.ExposureProxy(f); v != nil {
			evs = append(evs, *v)
		}
	}
	if len(evs) < 2 {
		return true
	}

	nonDecreasing, nonIncreasing := true, true
	for i := 1; i < len(evs); i++ {
		d := evs[i] - evs[i-1]
		if d < -tol {
			nonDecreasing = false
		}
		if d > tol {
			nonIncreasing = false
		}
	}
	return nonDecreasing || nonIncreasing
}

// buildSpecs turns one final cluster into either a single hdr group or
// per-member singleton image groups.
func (e *Engine) buildSpecs(cluster []*domain.UploadedFile, seqOrdered bool) []GroupSpec {
	conf := e.score(cluster)

	isHDR := len(cluster) >= e.cfg.MinBracketSize &&
		conf >= e.cfg.ConfidenceCutoff &&
		monotonicExposures(cluster, e.cfg.MonotonicTolEV)

	if !isHDR {
		specs := make([]GroupSpec, 0, len(cluster))
		for _, f := range cluster {
			specs = append(specs, e.singletonSpec(f))
		}
		return specs
	}

	lead := leadFrame(cluster, seqOrdered)
	representative := cluster[len(cluster)/2]

	return []GroupSpec{{
		Type:                 domain.GroupTypeHDR,
		Confidence:           &conf,
		Files:                cluster,
		RepresentativeFileID: representative.ID,
		OutputFilename:       e.outputName(lead),
	}}
}

func (e *Engine) singletonSpec(f *domain.UploadedFile) GroupSpec {
	return GroupSpec{
		Type:                 domain.GroupTypeImage,
		Files:                []*domain.UploadedFile{f},
		RepresentativeFileID: f.ID,
		OutputFilename:       e.outputName(f),
	}
}

// leadFrame is the earliest-timestamped member, or the lowest filename
// sequence when the job carries no timestamps at all.
func leadFrame(cluster []*domain.UploadedFile, seqOrdered bool) *domain.UploadedFile {
	lead := cluster[0]

	if seqOrdered {
		for _, f := range cluster[1:] {
			if f.Seq != nil && (lead.Seq == nil || f.Seq.Value < lead.Seq.Value) {
				lead = f
			}
		}
		return lead
	}

	for _, f := range cluster[1:] {
		if f.CaptureTime == nil {
			continue
		}
		if lead.CaptureTime == nil || f.CaptureTime.Before(*lead.CaptureTime) {
			lead = f
		}
	}
	return lead
}

func (e *Engine) outputName(lead *domain.UploadedFile) string {
	base := filepath.Base(lead.Filename)
	return strings.TrimSuffix(base, filepath.Ext(base)) + e.cfg.OutputExt
}
