package ai

import (
	"fmt"
	"math"
	"sort"
)

// DefaultIoUThreshold is the overlap at which a lower-scored box is
// suppressed.
const DefaultIoUThreshold = 0.5

// iouEpsilon is the smallest union used as IoU denominator, so degenerate
// boxes yield 0 instead of NaN while regular boxes divide exactly.
const iouEpsilon = 1e-6

// IoU returns the intersection-over-union of two center-form boxes.
func IoU(a, b Box) float64 {
	ax1, ay1, ax2, ay2 := a.Corners()
	bx1, by1, bx2, by2 := b.Corners()

	iw := math.Max(0, math.Min(ax2, bx2)-math.Max(ax1, bx1))
	ih := math.Max(0, math.Min(ay2, by2)-math.Max(ay1, by1))
	inter := iw * ih

	union := (ax2-ax1)*(ay2-ay1) + (bx2-bx1)*(by2-by1) - inter
	if union < iouEpsilon {
		union = iouEpsilon
	}
	return inter / union
}

// Suppress runs greedy non-maximum suppression and returns a keep-mask
// aligned with the input. Boxes are visited by descending score, equal
// scores in input order; a box is dropped when its IoU with an already
// kept box is >= iouThreshold. Suppression is class-agnostic.
func Suppress(boxes []Box, scores []float64, iouThreshold float64) []bool {
	if len(boxes) != len(scores) {
		panic(fmt.Sprintf("ai: suppress with %d boxes and %d scores", len(boxes), len(scores)))
	}

	keep := make([]bool, len(boxes))
	order := make([]int, len(boxes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	suppressed := make([]bool, len(boxes))
	for pos, i := range order {
		if suppressed[i] {
			continue
		}
		keep[i] = true
		for _, j := range order[pos+1:] {
			if !suppressed[j] && IoU(boxes[i], boxes[j]) >= iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return keep
}

// Kept returns the detections whose mask entry is true, in input order.
func Kept(dets []Detection, mask []bool) []Detection {
	out := make([]Detection, 0, len(dets))
	for i, d := range dets {
		if mask[i] {
			out = append(out, d)
		}
	}
	return out
}
