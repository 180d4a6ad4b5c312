package ai

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/plantguard/edge/internal/model"
)

// DefaultConfidenceThreshold is the minimum class score a candidate needs.
const DefaultConfidenceThreshold = 0.6

// Decoder turns raw detector rows into scored candidates.
type Decoder struct {
	// ConfidenceThreshold drops candidates scoring below it. A candidate
	// exactly at the threshold is kept.
	ConfidenceThreshold float64
	// NumClasses, when non-zero, is checked against the row width and
	// used to tell the two possible output orientations apart.
	NumClasses int
	// BoxScale divides the box fields. Set it to the input size for
	// models that emit pixel coordinates; zero means already normalized.
	BoxScale float64
}

// Decode scores each row [cx, cy, w, h, logit_0 .. logit_C-1]. The class
// score is the sigmoid of the logit; the first maximal class wins ties.
// Output order follows input order.
func (d Decoder) Decode(rows [][]float32) ([]Detection, error) {
	if len(rows) == 0 {
		return []Detection{}, nil
	}

	width := len(rows[0])
	if width < 5 {
		return nil, fmt.Errorf("%w: rows have %d fields, need at least 5", ErrOutputShape, width)
	}
	if d.NumClasses > 0 && width != 4+d.NumClasses {
		return nil, fmt.Errorf("%w: rows have %d fields, expected %d", ErrOutputShape, width, 4+d.NumClasses)
	}

	scale := d.BoxScale
	if scale <= 0 {
		scale = 1
	}

	scores := make([]float64, width-4)
	dets := make([]Detection, 0)
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d fields, expected %d", ErrOutputShape, i, len(row), width)
		}
		for c := range scores {
			scores[c] = sigmoid(float64(row[4+c]))
		}
		class := floats.MaxIdx(scores)
		score := scores[class]
		if score < d.ConfidenceThreshold {
			continue
		}
		dets = append(dets, Detection{
			Box: Box{
				CX: float64(row[0]) / scale,
				CY: float64(row[1]) / scale,
				W:  float64(row[2]) / scale,
				H:  float64(row[3]) / scale,
			},
			ClassID: class,
			Score:   score,
		})
	}
	return dets, nil
}

// DecodeTensor accepts the detector's native output, [1, 4+C, N] or
// [4+C, N], and decodes it. A [N, 4+C] layout is accepted when NumClasses
// disambiguates it. An empty tensor decodes to no detections.
func (d Decoder) DecodeTensor(t model.Tensor) ([]Detection, error) {
	if t.Len() == 0 {
		return []Detection{}, nil
	}
	t = t.Squeeze(2)
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("%w: %v", ErrOutputShape, t.Shape)
	}
	if n, err := model.NumElements(t.Shape); err != nil || n != t.Len() {
		return nil, fmt.Errorf("%w: shape %v does not match %d values", ErrOutputShape, t.Shape, t.Len())
	}

	r, c := t.Shape[0], t.Shape[1]
	values := make([]float64, len(t.Data))
	for i, v := range t.Data {
		values[i] = float64(v)
	}
	m := mat.NewDense(r, c, values)

	var rowsView mat.Matrix = m.T()
	if d.NumClasses > 0 && c == 4+d.NumClasses && r != 4+d.NumClasses {
		rowsView = m
	}

	n, width := rowsView.Dims()
	rows := make([][]float32, n)
	for i := 0; i < n; i++ {
		row := make([]float32, width)
		for j := 0; j < width; j++ {
			row[j] = float32(rowsView.At(i, j))
		}
		rows[i] = row
	}
	return d.Decode(rows)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
