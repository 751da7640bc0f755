// Package normalizer converts user-selected images into the fixed-size,
// fixed-quality JPEG representation expected by the prediction endpoint.
package normalizer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	"go.uber.org/zap"
)

// ErrDecode reports source bytes that cannot be interpreted as an image.
// ErrEncode reports a re-encoding that produced no usable output.
// Both are terminal for the current submission attempt.
var (
	ErrDecode = fmt.Errorf("image bytes cannot be decoded")
	ErrEncode = fmt.Errorf("image re-encoding produced no output")
)

// SelectedImage is the raw user selection: bytes plus declared metadata.
type SelectedImage struct {
	Name     string
	Data     []byte
	Size     int64
	MIMEType string
}

// NormalizedImage is the per-submission transfer form. It is never retained
// across submissions.
type NormalizedImage struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// Normalizer resizes to a fixed square and re-encodes at a fixed quality.
type Normalizer struct {
	targetSize int
	quality    int
	logger     *zap.Logger
}

// New builds a Normalizer. Non-positive parameters fall back to 50px / quality 75.
func New(targetSize, quality int, logger *zap.Logger) *Normalizer {
	if targetSize <= 0 {
		targetSize = 50
	}
	if quality <= 0 || quality > 100 {
		quality = 75
	}
	return &Normalizer{
		targetSize: targetSize,
		quality:    quality,
		logger:     logger.Named("normalizer"),
	}
}

// Normalize decodes the selection, resizes it to the target square with
// Lanczos resampling and re-encodes it as JPEG. It assumes the caller already
// validated size and declared type; undecodable bytes fail with ErrDecode.
func (n *Normalizer) Normalize(ctx context.Context, img SelectedImage) (*NormalizedImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, format, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	resized := resize.Resize(uint(n.targetSize), uint(n.targetSize), src, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: n.quality}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if buf.Len() == 0 {
		return nil, ErrEncode
	}

	n.logger.Debug("image normalized",
		zap.String("file", img.Name),
		zap.String("source_format", format),
		zap.Int("target_size", n.targetSize),
		zap.Int("encoded_bytes", buf.Len()),
	)

	bounds := resized.Bounds()
	return &NormalizedImage{
		Data:     buf.Bytes(),
		MIMEType: "image/jpeg",
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
	}, nil
}
