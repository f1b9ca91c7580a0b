package imaging_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/receipt-capture/internal/imaging"
)

func gradient(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func noise(w, h int) image.Image {
	r := rand.New(rand.NewSource(1))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(r.Intn(256))
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestMarginFor(t *testing.T) {
	tests := []struct {
		name string
		w, h int
		want float64
	}{
		{"small", 640, 480, 0.10},
		{"just under 1000", 999, 999, 0.10},
		{"exactly 1000", 1000, 1000, 0.15},
		{"exactly 2000", 2000, 2000, 0.15},
		{"just over 2000", 2001, 2001, 0.20},
		{"phone camera", 3000, 4000, 0.20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, imaging.MarginFor(tt.w, tt.h), 1e-9)
		})
	}
}

func TestCropRect(t *testing.T) {
	r, ok := imaging.CropRect(image.Rect(0, 0, 3000, 4000), 0.20)
	require.True(t, ok)
	assert.Equal(t, image.Rect(600, 800, 2400, 3200), r)

	full := image.Rect(0, 0, 2, 2)
	r, ok = imaging.CropRect(full, 0.5)
	assert.False(t, ok)
	assert.Equal(t, full, r)
}

func TestTargetSize(t *testing.T) {
	tests := []struct {
		name         string
		w, h, max    int
		wantW, wantH int
	}{
		{"portrait", 1800, 2400, 2048, 1536, 2048},
		{"landscape", 3000, 1000, 2048, 2048, 683},
		{"already small", 800, 600, 2048, 800, 600},
		{"no limit", 5000, 5000, 0, 5000, 5000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := imaging.TargetSize(tt.w, tt.h, tt.max)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestNormalize_PhoneCapture(t *testing.T) {
	src := encodeJPEG(t, gradient(3000, 4000))

	out := imaging.Normalize(src, imaging.DefaultOptions())

	require.False(t, out.FellBack, "unexpected fallback: %v", out.Reason)
	assert.Equal(t, imaging.MIMETypeJPEG, out.MIMEType)
	assert.InDelta(t, 0.20, out.Margin, 1e-9)
	assert.Equal(t, image.Rect(600, 800, 2400, 3200), out.Crop)
	assert.Equal(t, 1536, out.Width)
	assert.Equal(t, 2048, out.Height)
	assert.LessOrEqual(t, out.ByteSize(), 2*1024*1024)
	assert.LessOrEqual(t, out.Quality, 0.85)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 1536, cfg.Width)
	assert.Equal(t, 2048, cfg.Height)
}

func TestNormalize_SmallImageIsOnlyCropped(t *testing.T) {
	src := encodePNG(t, gradient(100, 50))

	out := imaging.Normalize(src, imaging.DefaultOptions())

	require.False(t, out.FellBack)
	assert.Equal(t, 100, out.SourceWidth)
	assert.Equal(t, 50, out.SourceHeight)
	assert.Equal(t, 80, out.Width)
	assert.Equal(t, 40, out.Height)
	assert.Equal(t, 1, out.Encodes)
	assert.InDelta(t, 0.85, out.Quality, 1e-9)
}

func TestNormalize_AutoCropDisabled(t *testing.T) {
	src := encodePNG(t, gradient(120, 90))
	opts := imaging.DefaultOptions()
	opts.AutoCrop = false

	out := imaging.Normalize(src, opts)

	require.False(t, out.FellBack)
	assert.Zero(t, out.Margin)
	assert.Equal(t, image.Rect(0, 0, 120, 90), out.Crop)
	assert.Equal(t, 120, out.Width)
	assert.Equal(t, 90, out.Height)
}

func TestNormalize_QualityStepsDownToFloor(t *testing.T) {
	src := encodePNG(t, noise(256, 256))
	opts := imaging.DefaultOptions()
	opts.MaxBytes = 1

	out := imaging.Normalize(src, opts)

	require.False(t, out.FellBack)
	// 0.85, 0.75, 0.65, 0.55, 0.50
	assert.Equal(t, 5, out.Encodes)
	assert.InDelta(t, 0.50, out.Quality, 1e-9)
	assert.Greater(t, out.ByteSize(), opts.MaxBytes)
}

func TestNormalize_BudgetMet(t *testing.T) {
	src := encodePNG(t, noise(256, 256))
	opts := imaging.DefaultOptions()

	atFull := imaging.Normalize(src, opts)
	require.False(t, atFull.FellBack)

	opts.MaxBytes = atFull.ByteSize() - 1
	out := imaging.Normalize(src, opts)

	require.False(t, out.FellBack)
	assert.Greater(t, out.Encodes, 1)
	assert.Less(t, out.Quality, 0.85)
	if out.Quality > 0.5 {
		assert.LessOrEqual(t, out.ByteSize(), opts.MaxBytes)
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	src := encodePNG(t, noise(300, 200))

	a := imaging.Normalize(src, imaging.DefaultOptions())
	b := imaging.Normalize(src, imaging.DefaultOptions())

	assert.Equal(t, a.Data, b.Data)
}

func TestNormalize_FallsBackOnBadInput(t *testing.T) {
	tests := []struct {
		name string
		src  []byte
	}{
		{"empty", nil},
		{"not an image", []byte("definitely not a picture")},
		{"truncated jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := imaging.Normalize(tt.src, imaging.DefaultOptions())

			assert.True(t, out.FellBack)
			assert.Error(t, out.Reason)
			assert.Equal(t, tt.src, out.Data)
		})
	}
}

func TestNormalizer_LogsFallback(t *testing.T) {
	n := imaging.NewNormalizer()

	out := n.Normalize(context.Background(), []byte("garbage"), imaging.DefaultOptions())

	assert.True(t, out.FellBack)
	assert.Equal(t, []byte("garbage"), out.Data)
}
