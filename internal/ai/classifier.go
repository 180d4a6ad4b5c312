package ai

import (
	"context"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"

	"github.com/plantguard/edge/internal/model"
)

// DefaultMinCropArea is the smallest crop, in canvas pixels, worth
// classifying.
const DefaultMinCropArea = 224

// Classifier labels leaf crops with a second-stage model.
type Classifier struct {
	model       model.Model
	labels      []string
	minCropArea int
	layout      Layout
	width       int
	height      int
}

// NewClassifier wraps m. The input size and tensor layout come from the
// model's 4-D input shape.
func NewClassifier(m model.Model, labels []string, minCropArea int) (*Classifier, error) {
	shape := m.InputShape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("classifier input must be 4-D, got %v", shape)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("classifier needs a label table")
	}

	layout := LayoutOf(shape)
	h, w := shape[1], shape[2]
	if layout == LayoutNCHW {
		h, w = shape[2], shape[3]
	}

	return &Classifier{
		model:       m,
		labels:      labels,
		minCropArea: minCropArea,
		layout:      layout,
		width:       w,
		height:      h,
	}, nil
}

// Accepts reports whether a crop is large enough to classify.
func (c *Classifier) Accepts(r image.Rectangle) bool {
	return r.Dx() > 0 && r.Dy() > 0 && r.Dx()*r.Dy() >= c.minCropArea
}

// Classify returns the arg-max label of the crop. ok is false when the crop
// is below the minimum area; such crops are skipped, not errors.
func (c *Classifier) Classify(ctx context.Context, crop image.Image) (Classification, bool, error) {
	if !c.Accepts(crop.Bounds()) {
		return Classification{}, false, nil
	}

	input := ImageToTensor(fit(crop, c.width, c.height), c.layout)
	out, err := c.model.Run(ctx, input)
	if err != nil {
		return Classification{}, false, fmt.Errorf("classifier inference failed: %w", err)
	}
	if out.Len() == 0 {
		return Classification{}, false, fmt.Errorf("%w: classifier returned no scores", ErrOutputShape)
	}

	probs := make([]float64, out.Len())
	for i, v := range out.Data {
		probs[i] = float64(v)
	}
	if !isDistribution(probs) {
		softmax(probs)
	}

	idx := floats.MaxIdx(probs)
	if idx >= len(c.labels) {
		return Classification{}, false, fmt.Errorf("%w: index %d, %d labels", ErrLabelIndex, idx, len(c.labels))
	}
	return Classification{Label: c.labels[idx], Confidence: probs[idx]}, true, nil
}

// fit center-crops src to the target aspect ratio and resizes it to w x h.
func fit(src image.Image, w, h int) image.Image {
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()

	crop := b
	target := float64(w) / float64(h)
	if float64(sw)/float64(sh) > target {
		cw := max(1, int(math.Round(float64(sh)*target)))
		x0 := b.Min.X + (sw-cw)/2
		crop = image.Rect(x0, b.Min.Y, x0+cw, b.Max.Y)
	} else {
		ch := max(1, int(math.Round(float64(sw)/target)))
		y0 := b.Min.Y + (sh-ch)/2
		crop = image.Rect(b.Min.X, y0, b.Max.X, y0+ch)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	return dst
}

// isDistribution reports whether v already looks like probabilities.
func isDistribution(v []float64) bool {
	for _, x := range v {
		if x < 0 || x > 1 || math.IsNaN(x) {
			return false
		}
	}
	return math.Abs(floats.Sum(v)-1) < 1e-3
}

func softmax(v []float64) {
	m := floats.Max(v)
	for i := range v {
		v[i] = math.Exp(v[i] - m)
	}
	floats.Scale(1/floats.Sum(v), v)
}
