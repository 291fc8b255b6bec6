package models

import (
	"fmt"

	"github.com/google/uuid"
)

// Modality tags the kind of study a frame sequence came from.
// The set is closed: every component that shapes output switches on it.
type Modality string

const (
	Modality3DUS    Modality = "3dus"
	Modality2DUS    Modality = "2dus"
	ModalityUSSweep Modality = "us_sweep"
	ModalityXRay    Modality = "xray"
)

// ParseModality validates a modality tag read from input.
func ParseModality(s string) (Modality, error) {
	switch m := Modality(s); m {
	case Modality3DUS, Modality2DUS, ModalityUSSweep, ModalityXRay:
		return m, nil
	}
	return "", fmt.Errorf("unknown modality %q", s)
}

// IsUltrasound reports whether the modality carries a frame sweep.
func (m Modality) IsUltrasound() bool {
	return m == Modality3DUS || m == Modality2DUS || m == ModalityUSSweep
}

// Point is a pixel position in image coordinates (y grows downward)
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LandmarksUS holds the landmarks detected on one ultrasound frame
type LandmarksUS struct {
	// Left is the lateral end of the ilium baseline
	Left *Point `json:"left,omitempty"`

	// Apex is the bony rim point where the ilium turns into the acetabular roof
	Apex *Point `json:"apex,omitempty"`

	// Right is the lowest point of the bony acetabular roof
	Right *Point `json:"right,omitempty"`

	// PointD is the superior edge of the femoral head
	PointD *Point `json:"point_D,omitempty"`

	// Pointd is the inferior edge of the femoral head
	Pointd *Point `json:"point_d,omitempty"`

	// MidCov is where the ilium baseline crosses the femoral head
	MidCov *Point `json:"mid_cov_point,omitempty"`

	// Roof is the acetabular roof contour, ordered lateral to medial
	Roof []Point `json:"roof,omitempty"`

	// OsIschium is set when the ischium was segmented on this frame
	OsIschium bool `json:"os_ischium,omitempty"`
}

// HasIlium reports whether the acetabular rim subset is complete
func (l *LandmarksUS) HasIlium() bool {
	return l != nil && l.Left != nil && l.Apex != nil && l.Right != nil
}

// HasFemoralHead reports whether the femoral head subset is complete
func (l *LandmarksUS) HasFemoralHead() bool {
	return l != nil && l.PointD != nil && l.Pointd != nil
}

// XRaySide holds the bony landmarks of one hip on an AP pelvis radiograph
type XRaySide struct {
	// Inner is the triradiate cartilage point; both sides define Hilgenreiner's line
	Inner *Point `json:"inner,omitempty"`

	// Outer is the lateral edge of the acetabular roof
	Outer *Point `json:"outer,omitempty"`

	// HeadCenter is the femoral head centre, used for the Wiberg angle
	HeadCenter *Point `json:"head_center,omitempty"`

	// Metaphysis is the H-point (midpoint of the proximal femoral metaphysis)
	Metaphysis *Point `json:"metaphysis,omitempty"`
}

// LandmarksXRay holds both hips of one radiograph
type LandmarksXRay struct {
	Left  XRaySide `json:"left"`
	Right XRaySide `json:"right"`
}

// Frame is one image plane of a sweep, or the sole image of an X-ray.
// It is filled once from the segmentation result and not modified afterwards.
type Frame struct {
	// Index is the 0-based acquisition position within the sweep
	Index int `json:"index"`

	// Segmented is false when the segmentation collaborator failed on this frame
	Segmented bool `json:"segmented"`

	// US is set for ultrasound frames with landmarks
	US *LandmarksUS `json:"us,omitempty"`

	// XRay is set for radiographs with landmarks
	XRay *LandmarksXRay `json:"xray,omitempty"`

	// Confidence is the segmentation confidence; 0 means not reported
	Confidence float64 `json:"confidence,omitempty"`

	// FailureReason explains a failed segmentation
	FailureReason string `json:"failure_reason,omitempty"`

	// Fatal marks a sweep-breaking failure
	Fatal bool `json:"fatal,omitempty"`
}

// Study is the unit of work: one sweep or one radiograph with its profile keyphrase
type Study struct {
	ID        string   `json:"study_id"`
	Modality  Modality `json:"modality"`
	Keyphrase string   `json:"keyphrase"`
	Frames    []Frame  `json:"frames"`
}

// EnsureID assigns a random study identifier when none was supplied
func (s *Study) EnsureID() string {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return s.ID
}
