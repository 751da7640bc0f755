package normalizer

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalizeResizesToTargetSquare(t *testing.T) {
	data := encodePNG(t, 200, 150)
	n := New(50, 75, zap.NewNop())

	normalized, err := n.Normalize(context.Background(), SelectedImage{
		Name:     "scan.png",
		Data:     data,
		Size:     int64(len(data)),
		MIMEType: "image/png",
	})
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", normalized.MIMEType)
	require.Equal(t, 50, normalized.Width)
	require.Equal(t, 50, normalized.Height)
	require.NotEmpty(t, normalized.Data)

	decoded, format, err := image.Decode(bytes.NewReader(normalized.Data))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	require.Equal(t, 50, decoded.Bounds().Dx())
	require.Equal(t, 50, decoded.Bounds().Dy())
}

func TestNormalizeFallsBackToDefaultsOnBadParameters(t *testing.T) {
	data := encodePNG(t, 10, 10)
	n := New(0, 400, zap.NewNop())

	normalized, err := n.Normalize(context.Background(), SelectedImage{Name: "a.png", Data: data, MIMEType: "image/png"})
	require.NoError(t, err)
	require.Equal(t, 50, normalized.Width)
	require.Equal(t, 50, normalized.Height)
}

func TestNormalizeRejectsUndecodableBytes(t *testing.T) {
	n := New(50, 75, zap.NewNop())

	_, err := n.Normalize(context.Background(), SelectedImage{
		Name:     "broken.png",
		Data:     []byte("not an image"),
		MIMEType: "image/png",
	})
	require.ErrorIs(t, err, ErrDecode)
}

func TestNormalizeHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := New(50, 75, zap.NewNop())
	_, err := n.Normalize(ctx, SelectedImage{Name: "a.png", Data: encodePNG(t, 10, 10), MIMEType: "image/png"})
	require.ErrorIs(t, err, context.Canceled)
}
