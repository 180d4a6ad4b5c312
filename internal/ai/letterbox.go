package ai

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"github.com/plantguard/edge/internal/model"
)

// DefaultPadValue is the gray level used for letterbox padding.
const DefaultPadValue = 114

// Letterboxed is a frame resized onto a square canvas with its aspect
// ratio preserved.
type Letterboxed struct {
	Image   *image.RGBA
	Size    int
	Scale   float64
	OffsetX int
	OffsetY int
}

// Letterbox scales frame by min(T/W, T/H), centers it on a size x size
// canvas filled with pad, and records the transform. The frame must have
// positive width and height.
func Letterbox(frame image.Image, size int, pad uint8) Letterboxed {
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 || size <= 0 {
		panic(fmt.Sprintf("ai: letterbox of %dx%d frame onto %d canvas", w, h, size))
	}

	t := float64(size)
	scale := math.Min(t/float64(w), t/float64(h))
	rw := int(float64(w) * scale)
	rh := int(float64(h) * scale)
	x0 := int(t/2 - float64(rw)/2)
	y0 := int(t/2 - float64(rh)/2)

	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.RGBA{pad, pad, pad, 255}), image.Point{}, draw.Src)

	dst := image.Rect(x0, y0, x0+rw, y0+rh)
	if rw == w && rh == h {
		draw.Draw(canvas, dst, frame, b.Min, draw.Src)
	} else {
		draw.BiLinear.Scale(canvas, dst, frame, b, draw.Src, nil)
	}

	return Letterboxed{
		Image:   canvas,
		Size:    size,
		Scale:   scale,
		OffsetX: x0,
		OffsetY: y0,
	}
}

// ToFrame maps a point given in canvas fractions back to source frame
// pixels.
func (l Letterboxed) ToFrame(x, y float64) (float64, float64) {
	t := float64(l.Size)
	return (x*t - float64(l.OffsetX)) / l.Scale, (y*t - float64(l.OffsetY)) / l.Scale
}

// CropRect converts a normalized box to integer canvas pixels, truncating
// and clamping to [0, size]. The result may be empty.
func CropRect(b Box, size int) image.Rectangle {
	x1, y1, x2, y2 := b.Corners()
	t := float64(size)
	r := image.Rectangle{
		Min: image.Pt(max(0, int(x1*t)), max(0, int(y1*t))),
		Max: image.Pt(min(size, int(x2*t)), min(size, int(y2*t))),
	}
	if r.Dx() <= 0 || r.Dy() <= 0 {
		return image.Rectangle{}
	}
	return r
}

// Layout is the memory order of an image tensor.
type Layout int

const (
	// LayoutNHWC is [1, H, W, 3], the order of TFLite exports.
	LayoutNHWC Layout = iota
	// LayoutNCHW is [1, 3, H, W], the order of most ONNX exports.
	LayoutNCHW
)

// ParseLayout parses "nhwc" or "nchw".
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "nhwc", "NHWC", "":
		return LayoutNHWC, nil
	case "nchw", "NCHW":
		return LayoutNCHW, nil
	}
	return 0, fmt.Errorf("unknown tensor layout %q", s)
}

// LayoutOf guesses the layout from a 4-D model input shape.
func LayoutOf(shape []int) Layout {
	if len(shape) == 4 && shape[1] == 3 && shape[3] != 3 {
		return LayoutNCHW
	}
	return LayoutNHWC
}

// ImageToTensor converts an image to a float32 RGB tensor scaled to [0,1].
func ImageToTensor(img image.Image, layout Layout) model.Tensor {
	rgba := toRGBA(img)
	w, h := rgba.Rect.Dx(), rgba.Rect.Dy()
	data := make([]float32, 3*w*h)
	plane := w * h

	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+3]
			i := y*w + x
			if layout == LayoutNCHW {
				data[i] = float32(p[0]) / 255
				data[plane+i] = float32(p[1]) / 255
				data[2*plane+i] = float32(p[2]) / 255
			} else {
				data[i*3] = float32(p[0]) / 255
				data[i*3+1] = float32(p[1]) / 255
				data[i*3+2] = float32(p[2]) / 255
			}
		}
	}

	shape := []int{1, h, w, 3}
	if layout == LayoutNCHW {
		shape = []int{1, 3, h, w}
	}
	return model.Tensor{Shape: shape, Data: data}
}

// toRGBA returns img as an *image.RGBA whose bounds start at the origin.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
	return rgba
}
