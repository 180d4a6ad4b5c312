package ai

import (
	"errors"
)

var (
	// ErrOutputShape is returned when the detector output does not have the
	// expected [4+classes, predictions] layout.
	ErrOutputShape = errors.New("unexpected detector output shape")
	// ErrLabelIndex is returned when a model predicts a class index that is
	// outside the label table.
	ErrLabelIndex = errors.New("class index outside label table")
)

// Box is an axis-aligned box in center form. Coordinates are fractions of
// the letterboxed canvas.
type Box struct {
	CX, CY, W, H float64
}

// Corners returns the box as x1, y1, x2, y2.
func (b Box) Corners() (x1, y1, x2, y2 float64) {
	return b.CX - b.W/2, b.CY - b.H/2, b.CX + b.W/2, b.CY + b.H/2
}

// Area returns the box area in canvas fractions squared.
func (b Box) Area() float64 {
	return b.W * b.H
}

// Detection is one decoded detector candidate.
type Detection struct {
	Box
	ClassID int
	Score   float64
}

// Classification is the classifier verdict for one crop.
type Classification struct {
	Label      string
	Confidence float64
}

// Payload is the outbound message for one classified detection.
type Payload struct {
	ImageID    string  `json:"image_id"`
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
	ImageData  string  `json:"image_data"`
}

// Boxes returns the boxes and scores of a detection set in order, the
// input form of Suppress.
func Boxes(dets []Detection) ([]Box, []float64) {
	boxes := make([]Box, len(dets))
	scores := make([]float64, len(dets))
	for i, d := range dets {
		boxes[i] = d.Box
		scores[i] = d.Score
	}
	return boxes, scores
}
