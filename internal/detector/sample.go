package detector

import (
	"errors"
	"time"
)

// ErrInvalidSample indicates a malformed signal sample. The sample is
// skipped for that tick and detector state is left unchanged.
var ErrInvalidSample = errors.New("invalid signal sample")

// Gaze is the horizontal/vertical offset of the gaze from frame center,
// normalized against the frame dimensions. Magnitude grows as the candidate
// looks away.
type Gaze struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Detection is one labeled object reported by the upstream object detector.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Sample is one periodic observation bundle produced by the external signal
// front end. The detector consumes already-extracted signals only; it never
// sees pixels or audio buffers.
//
// A producer with no working detector sends FaceCount 0 and empty
// detections, which is indistinguishable from genuine absence. That is a
// documented limitation, not special-cased here.
type Sample struct {
	FaceCount  int         `json:"faceCount"`
	Gaze       *Gaze       `json:"gazeVector,omitempty"` // nil unless at least one face
	EyesClosed *bool       `json:"eyeClosed,omitempty"`
	AudioLevel float64     `json:"audioLevel"` // 0 when the audio signal is unavailable
	Objects    []Detection `json:"detectedObjects,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Validate reports whether the sample is well formed.
func (s *Sample) Validate() error {
	if s.FaceCount < 0 {
		return ErrInvalidSample
	}
	if s.Timestamp.IsZero() {
		return ErrInvalidSample
	}
	if s.AudioLevel < 0 {
		return ErrInvalidSample
	}
	for _, d := range s.Objects {
		if d.Label == "" || d.Confidence < 0 || d.Confidence > 1 {
			return ErrInvalidSample
		}
	}
	return nil
}
