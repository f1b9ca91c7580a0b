package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"net/http"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/dvloznov/receipt-capture/internal/logger"
)

const (
	// MIMETypeJPEG is the content type of every successfully normalized image.
	MIMETypeJPEG = "image/jpeg"

	// Quality is stepped in whole percent to keep the loop exact.
	qualityFloor = 50
	qualityStep  = 10

	// Sources above this pixel count are passed through untouched.
	maxSourcePixels = 80_000_000
)

// ErrEmptySource is returned for zero-length input.
var ErrEmptySource = errors.New("empty image source")

// Options controls one normalization run.
type Options struct {
	AutoCrop     bool
	Quality      float64 // 0..1
	MaxDimension int
	MaxBytes     int
}

// DefaultOptions matches the capture defaults of the mobile client.
func DefaultOptions() Options {
	return Options{
		AutoCrop:     true,
		Quality:      0.85,
		MaxDimension: 2048,
		MaxBytes:     2 * 1024 * 1024,
	}
}

// NormalizedImage is the upload-ready result of Normalize. It only lives for
// the duration of one capture.
type NormalizedImage struct {
	Data     []byte
	MIMEType string

	SourceWidth  int
	SourceHeight int
	Margin       float64
	Crop         image.Rectangle
	Width        int
	Height       int
	Quality      float64
	Encodes      int

	// FellBack is set when Data is the untouched source.
	FellBack bool
	Reason   error
}

// ByteSize is the size of the encoded payload.
func (n NormalizedImage) ByteSize() int {
	return len(n.Data)
}

// Normalizer adapts Normalize to the pipeline's step interface.
type Normalizer struct{}

// NewNormalizer returns a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize runs Normalize and logs a fallback as a recoverable failure.
func (n *Normalizer) Normalize(ctx context.Context, source []byte, opts Options) NormalizedImage {
	out := Normalize(source, opts)
	if out.FellBack {
		log := logger.FromContext(ctx)
		log.Warn().
			Err(out.Reason).
			Int("bytes", len(source)).
			Msg("Image normalization failed, uploading original")
	}
	return out
}

// Normalize crops, downscales and re-encodes source. It never fails: on any
// problem the original bytes are returned with FellBack set.
func Normalize(source []byte, opts Options) (out NormalizedImage) {
	defer func() {
		if r := recover(); r != nil {
			out = fallback(source, fmt.Errorf("normalize panicked: %v", r))
		}
	}()

	if len(source) == 0 {
		return fallback(source, ErrEmptySource)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(source))
	if err != nil {
		return fallback(source, fmt.Errorf("reading image header: %w", err))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fallback(source, fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height))
	}
	if cfg.Width*cfg.Height > maxSourcePixels {
		return fallback(source, fmt.Errorf("image too large: %dx%d", cfg.Width, cfg.Height))
	}

	src, _, err := image.Decode(bytes.NewReader(source))
	if err != nil {
		return fallback(source, fmt.Errorf("decoding image: %w", err))
	}

	bounds := src.Bounds()
	out.SourceWidth, out.SourceHeight = bounds.Dx(), bounds.Dy()

	crop := bounds
	if opts.AutoCrop {
		out.Margin = MarginFor(bounds.Dx(), bounds.Dy())
		if r, ok := CropRect(bounds, out.Margin); ok {
			crop = r
		} else {
			out.Margin = 0
		}
	}
	out.Crop = crop

	tw, th := TargetSize(crop.Dx(), crop.Dy(), opts.MaxDimension)
	img := resize(src, crop, tw, th)

	data, quality, encodes, err := encodeWithinBudget(img, opts.Quality, opts.MaxBytes)
	if err != nil {
		return fallback(source, fmt.Errorf("encoding jpeg: %w", err))
	}

	out.Data = data
	out.MIMEType = MIMETypeJPEG
	out.Width, out.Height = tw, th
	out.Quality = quality
	out.Encodes = encodes
	return out
}

// MarginFor returns the inset fraction used to approximate where the receipt
// sits in the frame, staged on the average dimension.
func MarginFor(width, height int) float64 {
	avg := float64(width+height) / 2
	switch {
	case avg < 1000:
		return 0.10
	case avg > 2000:
		return 0.20
	default:
		return 0.15
	}
}

// CropRect insets bounds by margin on every side. ok is false when the
// result would be empty.
func CropRect(bounds image.Rectangle, margin float64) (image.Rectangle, bool) {
	dx := int(math.Round(float64(bounds.Dx()) * margin))
	dy := int(math.Round(float64(bounds.Dy()) * margin))

	r := image.Rect(bounds.Min.X+dx, bounds.Min.Y+dy, bounds.Max.X-dx, bounds.Max.Y-dy)
	if r.Dx() <= 0 || r.Dy() <= 0 {
		return bounds, false
	}
	return r, true
}

// TargetSize scales (w, h) down so the long edge equals maxDim, keeping the
// aspect ratio. Images already within maxDim are unchanged.
func TargetSize(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}

	if w >= h {
		nh := int(math.Round(float64(h) * float64(maxDim) / float64(w)))
		return maxDim, max(nh, 1)
	}
	nw := int(math.Round(float64(w) * float64(maxDim) / float64(h)))
	return max(nw, 1), maxDim
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func resize(src image.Image, crop image.Rectangle, w, h int) image.Image {
	if crop.Dx() == w && crop.Dy() == h {
		if si, ok := src.(subImager); ok {
			return si.SubImage(crop)
		}
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(dst, dst.Bounds(), src, crop.Min, draw.Src)
		return dst
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	return dst
}

// encodeWithinBudget encodes img as JPEG, lowering quality by 0.1 down to 0.5
// until the payload fits maxBytes. A non-positive maxBytes disables the budget.
func encodeWithinBudget(img image.Image, quality float64, maxBytes int) ([]byte, float64, int, error) {
	q := int(math.Round(quality * 100))
	q = min(max(q, 1), 100)

	var buf bytes.Buffer
	encodes := 0
	for {
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return nil, 0, encodes, err
		}
		encodes++

		if maxBytes <= 0 || buf.Len() <= maxBytes || q <= qualityFloor {
			break
		}
		q = max(q-qualityStep, qualityFloor)
	}

	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())
	return data, float64(q) / 100, encodes, nil
}

func fallback(source []byte, reason error) NormalizedImage {
	mime := "application/octet-stream"
	if len(source) > 0 {
		mime = http.DetectContentType(source)
	}
	return NormalizedImage{
		Data:     source,
		MIMEType: mime,
		FellBack: true,
		Reason:   reason,
	}
}
