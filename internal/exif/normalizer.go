package exif

import (
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mvai/bracket_orchestrator/internal/domain"
)

// RawMetadata carries the unparsed per-file capture fields as extracted from
// the image container. Every field may be empty; normalization tolerates any
// combination of missing data.
type RawMetadata struct {
	SubSecDateTimeOriginal string `json:"sub_sec_date_time_original"`
	DateTimeOriginal       string `json:"date_time_original"`
	CreateDate             string `json:"create_date"`
	ExposureTime           string `json:"exposure_time"`
	ShutterSpeed           string `json:"shutter_speed"`
	ISO                    string `json:"iso"`
	FNumber                string `json:"f_number"`
	Aperture               string `json:"aperture"`
	FocalLength            string `json:"focal_length"`
	CameraMake             string `json:"camera_make"`
	CameraModel            string `json:"camera_model"`
}

// Normalized is the cleaned-up capture record consumed by the grouping
// engine. All fields except the filename-derived ones are optional.
type Normalized struct {
	CaptureTime  *time.Time
	EV           *float64
	ExposureTime *float64
	FNumber      *float64
	ISO          *float64
	FocalLength  *float64
	CameraMake   *string
	CameraModel  *string
	Seq          *domain.SequenceToken
}

var (
	timeLayouts = []string{"2006:01:02 15:04:05.000", "2006:01:02 15:04:05"}

	numRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	seqRe = regexp.MustCompile(`^(.*?)(\d+)$`)
)

// Normalize extracts typed capture metadata from a raw record and filename.
func Normalize(raw RawMetadata, filename string) Normalized {
	n := Normalized{
		CaptureTime:  parseTime(raw.SubSecDateTimeOriginal, raw.DateTimeOriginal, raw.CreateDate),
		ExposureTime: parseNum(firstNonEmpty(raw.ExposureTime, raw.ShutterSpeed)),
		FNumber:      parseNum(firstNonEmpty(raw.FNumber, raw.Aperture)),
		ISO:          parseNum(raw.ISO),
		FocalLength:  parseNum(raw.FocalLength),
		CameraMake:   nonEmpty(raw.CameraMake),
		CameraModel:  nonEmpty(raw.CameraModel),
		Seq:          ParseSequenceToken(filename),
	}
	n.EV = deriveEV(n.ExposureTime, n.FNumber, n.ISO)
	return n
}

// deriveEV computes the exposure value from the exposure triangle. All three
// inputs must be present and positive, otherwise the EV stays unknown.
func deriveEV(exposureTime, fNumber, iso *float64) *float64 {
	if exposureTime == nil || fNumber == nil || iso == nil {
		return nil
	}
	if *exposureTime <= 0 || *fNumber <= 0 || *iso <= 0 {
		return nil
	}
	ev := math.Log2(*fNumber**fNumber / *exposureTime) - math.Log2(*iso/100)
	return &ev
}

// ExposureProxy returns a comparable exposure measure for a file: the derived
// EV when known, else log2 of the exposure time as a relative stand-in.
func ExposureProxy(f *domain.UploadedFile) *float64 {
	if f.EV != nil {
		return f.EV
	}
	if f.ExposureTime != nil && *f.ExposureTime > 0 {
		v := math.Log2(*f.ExposureTime)
		return &v
	}
	return nil
}

// ParseSequenceToken splits a trailing-digits filename into its sequential
// parts. Returns nil when the basename does not end in digits.
func ParseSequenceToken(filename string) *domain.SequenceToken {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	m := seqRe.FindStringSubmatch(base)
	if m == nil {
		return nil
	}
	value, err := strconv.Atoi(m[2])
	if err != nil {
		return nil
	}
	return &domain.SequenceToken{Prefix: m[1], Value: value, Width: len(m[2])}
}

// DetectKind classifies a filename by extension.
func DetectKind(filename string) domain.FileKind {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".arw", ".cr2", ".cr3", ".nef", ".nrw", ".dng", ".rw2", ".orf", ".raf", ".srw":
		return domain.FileKindRaw
	case ".jpg", ".jpeg":
		return domain.FileKindJPG
	case ".png":
		return domain.FileKindPNG
	default:
		return domain.FileKindOther
	}
}

func parseTime(candidates ...string) *time.Time {
	for _, s := range candidates {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				t = t.UTC()
				return &t
			}
		}
	}
	return nil
}

// parseNum extracts a float from loosely formatted values such as "1/250",
// "f/8" or "+0.7 EV".
func parseNum(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if a, b, ok := strings.Cut(s, "/"); ok {
		num, errA := strconv.ParseFloat(strings.TrimSpace(a), 64)
		den, errB := strconv.ParseFloat(strings.TrimSpace(b), 64)
		if errA == nil && errB == nil && den != 0 {
			v := num / den
			return &v
		}
	}
	m := numRe.FindString(strings.ReplaceAll(s, "+", ""))
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	return &v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
