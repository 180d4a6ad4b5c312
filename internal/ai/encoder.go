package ai

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"math"
)

// DefaultJPEGQuality is used when an Encoder has no quality set.
const DefaultJPEGQuality = 95

// Encoder builds outbound payloads.
type Encoder struct {
	Quality int
}

// Encode builds the payload for the detection at index (0-based) of a
// capture taken at unix time ts. The crop is JPEG encoded and base64
// wrapped; the confidence is rounded to six decimals.
func (e Encoder) Encode(index int, crop image.Image, label string, confidence float64, ts int64) (Payload, error) {
	quality := e.Quality
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, crop, &jpeg.Options{Quality: quality}); err != nil {
		return Payload{}, fmt.Errorf("failed to encode crop: %w", err)
	}

	return Payload{
		ImageID:    fmt.Sprintf("%d_%d", ts, index+1),
		Prediction: label,
		Confidence: Round6(confidence),
		ImageData:  base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// Encode uses the default quality.
func Encode(index int, crop image.Image, label string, confidence float64, ts int64) (Payload, error) {
	return Encoder{}.Encode(index, crop, label, confidence, ts)
}

// Round6 rounds to six decimal places.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
