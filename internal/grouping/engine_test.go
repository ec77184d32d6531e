package grouping_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvai/bracket_orchestrator/internal/domain"
	"github.com/mvai/bracket_orchestrator/internal/grouping"
)

var captureBase = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func frame(id string, offset time.Duration, ev float64) *domain.UploadedFile {
	at := captureBase.Add(offset)
	evCopy := ev
	return &domain.UploadedFile{
		ID:          id,
		Filename:    id + ".arw",
		Kind:        domain.FileKindRaw,
		CaptureTime: &at,
		EV:          &evCopy,
	}
}

func TestEngine_Run_ClassicBracket(t *testing.T) {
	t.Parallel()

	engine := grouping.NewEngine(grouping.DefaultConfig())

	files := []*domain.UploadedFile{
		frame("dsc001", 0, -1),
		frame("dsc002", time.Second, 0),
		frame("dsc003", 2*time.Second, 1),
	}

	specs := engine.Run(files)

	require.Len(t, specs, 1)
	spec := specs[0]
	assert.Equal(t, domain.GroupTypeHDR, spec.Type)
	require.NotNil(t, spec.Confidence)
	assert.GreaterOrEqual(t, *spec.Confidence, 0.70)
	assert.Len(t, spec.Files, 3)
	assert.Equal(t, "dsc002", spec.RepresentativeFileID)
	assert.Equal(t, "dsc001.jpg", spec.OutputFilename)
}

func TestEngine_Run_Deterministic(t *testing.T) {
	t.Parallel()

	engine := grouping.NewEngine(grouping.DefaultConfig())

	build := func() []*domain.UploadedFile {
		return []*domain.UploadedFile{
			frame("a1", 0, -2),
			frame("a2", time.Second, 0),
			frame("a3", 2*time.Second, 2),
			frame("b1", time.Minute, 0),
		}
	}

	first := engine.Run(build())
	second := engine.Run(build())

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Type, second[i].Type)
		assert.Equal(t, first[i].OutputFilename, second[i].OutputFilename)
		assert.Equal(t, len(first[i].Files), len(second[i].Files))
	}
}

func TestEngine_Run_IsolatedShotsStaySingletons(t *testing.T) {
	t.Parallel()

	engine := grouping.NewEngine(grouping.DefaultConfig())

	files := []*domain.UploadedFile{
		frame("x1", 0, 0),
		frame("x2", time.Minute, 0),
		frame("x3", 2*time.Minute, 0),
	}

	specs := engine.Run(files)

	require.Len(t, specs, 3)
	for _, spec := range specs {
		assert.Equal(t, domain.GroupTypeImage, spec.Type)
		assert.Len(t, spec.Files, 1)
	}
}

func TestEngine_Run_FocalChangeBreaksCluster(t *testing.T) {
	t.Parallel()

	engine := grouping.NewEngine(grouping.DefaultConfig())

	wide, tele := 16.0, 24.0
	var files []*domain.UploadedFile
	for i, ev := range []float64{-2, 0, 2} {
		f := frame(fmt.Sprintf("w%d", i), time.Duration(i)*time.Second, ev)
		f.FocalLength = &wide
		files = append(files, f)
	}
	for i, ev := range []float64{-2, 0, 2} {
		f := frame(fmt.Sprintf("t%d", i), time.Duration(3+i)*time.Second, ev)
		f.FocalLength = &tele
		files = append(files, f)
	}

	specs := engine.Run(files)

	// Frames are 1s apart throughout; only the focal length change splits them.
	require.Len(t, specs, 2)
	assert.Equal(t, domain.GroupTypeHDR, specs[0].Type)
	assert.Equal(t, domain.GroupTypeHDR, specs[1].Type)
	assert.Equal(t, "w0.jpg", specs[0].OutputFilename)
	assert.Equal(t, "t0.jpg", specs[1].OutputFilename)
}

func TestEngine_Run_OversizedRunSplitsIntoFullBrackets(t *testing.T) {
	t.Parallel()

	engine := grouping.NewEngine(grouping.DefaultConfig())

	var files []*domain.UploadedFile
	for i := range 8 {
		files = append(files, frame(fmt.Sprintf("r%d", i), time.Duration(i)*time.Second, float64(i)))
	}

	specs := engine.Run(files)

	require.Len(t, specs, 2)
	assert.Len(t, specs[0].Files, 5)
	assert.Len(t, specs[1].Files, 3)
	assert.Equal(t, domain.GroupTypeHDR, specs[0].Type)
	assert.Equal(t, domain.GroupTypeHDR, specs[1].Type)
}

func TestEngine_Run_ExposureReversalSplits(t *testing.T) {
	t.Parallel()

	engine := grouping.NewEngine(grouping.DefaultConfig())

	evs := []float64{-2, 0, 2, 0, -2}
	var files []*domain.UploadedFile
	for i, ev := range evs {
		files = append(files, frame(fmt.Sprintf("s%d", i), time.Duration(i)*time.Second, ev))
	}

	specs := engine.Run(files)

	// The upward sweep is one bracket; the two trailing downward frames are
	// too few for a bracket of their own.
	require.Len(t, specs, 3)
	assert.Equal(t, domain.GroupTypeHDR, specs[0].Type)
	assert.Len(t, specs[0].Files, 3)
	assert.Equal(t, domain.GroupTypeImage, specs[1].Type)
	assert.Equal(t, domain.GroupTypeImage, specs[2].Type)
}

func TestEngine_Run_NoExposureMetadataFallback(t *testing.T) {
	t.Parallel()

	engine := grouping.NewEngine(grouping.DefaultConfig())

	make_, model := "Sony", "ILCE-7M4"
	var files []*domain.UploadedFile
	for i := range 3 {
		at := captureBase.Add(time.Duration(i) * time.Second)
		files = append(files, &domain.UploadedFile{
			ID:          fmt.Sprintf("f%d", i),
			Filename:    fmt.Sprintf("IMG_00%d.jpg", i+1),
			Kind:        domain.FileKindJPG,
			CaptureTime: &at,
			CameraMake:  &make_,
			CameraModel: &model,
			Seq:         &domain.SequenceToken{Prefix: "IMG_", Value: i + 1, Width: 3},
		})
	}

	specs := engine.Run(files)

	require.Len(t, specs, 1)
	assert.Equal(t, domain.GroupTypeHDR, specs[0].Type)
	require.NotNil(t, specs[0].Confidence)
	assert.GreaterOrEqual(t, *specs[0].Confidence, 0.70)
}

func TestEngine_Run_NonCandidatesPassThrough(t *testing.T) {
	t.Parallel()

	engine := grouping.NewEngine(grouping.DefaultConfig())

	files := []*domain.UploadedFile{
		{ID: "v2", Filename: "walkthrough.mp4", Kind: domain.FileKindOther},
		frame("p1", 0, 0),
		{ID: "v1", Filename: "floorplan.pdf", Kind: domain.FileKindOther},
	}

	specs := engine.Run(files)

	require.Len(t, specs, 3)
	assert.Equal(t, "p1", specs[0].RepresentativeFileID)
	// Pass-through files follow the candidates, ordered by filename.
	assert.Equal(t, "v1", specs[1].RepresentativeFileID)
	assert.Equal(t, "v2", specs[2].RepresentativeFileID)
	assert.Equal(t, domain.GroupTypeImage, specs[1].Type)
}
