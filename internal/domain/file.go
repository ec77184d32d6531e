package domain

import "time"

type FileKind string

const (
	FileKindRaw   FileKind = "raw"
	FileKindJPG   FileKind = "jpg"
	FileKindPNG   FileKind = "png"
	FileKindOther FileKind = "other"
)

// IsCandidate reports whether the file participates in bracket grouping.
// Everything else passes through as its own singleton group.
func (k FileKind) IsCandidate() bool {
	return k == FileKindRaw || k == FileKindJPG || k == FileKindPNG
}

// SequenceToken is the parsed trailing-digits part of a filename,
// e.g. DSC04312.ARW -> {Prefix: "DSC", Value: 4312, Width: 5}.
type SequenceToken struct {
	Prefix string `json:"prefix"`
	Value  int    `json:"value"`
	Width  int    `json:"width"`
}

// UploadedFile is one registered upload belonging to a job. Capture metadata
// fields are optional and filled in exactly once by the normalizer.
type UploadedFile struct {
	ID           string         `db:"id"`
	JobID        string         `db:"job_id"`
	StorageKey   string         `db:"storage_key"`
	Filename     string         `db:"filename"`
	Kind         FileKind       `db:"kind"`
	CaptureTime  *time.Time     `db:"capture_time"`
	EV           *float64       `db:"ev"`
	ExposureTime *float64       `db:"exposure_time"`
	FNumber      *float64       `db:"f_number"`
	ISO          *float64       `db:"iso"`
	FocalLength  *float64       `db:"focal_length"`
	CameraMake   *string        `db:"camera_make"`
	CameraModel  *string        `db:"camera_model"`
	Seq          *SequenceToken `db:"-"`
	MetaExtracted bool          `db:"meta_extracted"`
	GroupID      *string        `db:"group_id"`
	OrderIndex   int            `db:"order_index"`
	CreatedAt    time.Time      `db:"created_at"`
}
