package transform

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

// Output formats
const (
	FormatWebP = "webp"
	FormatJPEG = "jpeg"
)

// ErrUnreadableImage - the source bytes cannot be decoded; validation-class,
// never worth a retry
var ErrUnreadableImage = errors.New("unreadable or unsupported image")

// Spec - one derivative to produce: size class × format × quality
type Spec struct {
	SizeName    string
	TargetWidth int
	Quality     int
	Format      string
}

// Variants - the full derivative table: 3 size classes × 2 formats. The
// untouched original is uploaded alongside these.
var Variants = []Spec{
	{SizeName: "small", TargetWidth: 400, Quality: 80, Format: FormatWebP},
	{SizeName: "small", TargetWidth: 400, Quality: 85, Format: FormatJPEG},
	{SizeName: "medium", TargetWidth: 800, Quality: 80, Format: FormatWebP},
	{SizeName: "medium", TargetWidth: 800, Quality: 85, Format: FormatJPEG},
	{SizeName: "large", TargetWidth: 1200, Quality: 80, Format: FormatWebP},
	{SizeName: "large", TargetWidth: 1200, Quality: 85, Format: FormatJPEG},
}

// Preview - the single fast derivative shown while variants are still being
// generated
var Preview = Spec{SizeName: "preview", TargetWidth: 800, Quality: 75, Format: FormatWebP}

// FileName - deterministic object name for one media's derivative, so reruns
// overwrite instead of duplicating
func (s Spec) FileName(mediaID string) string {
	if s.Format == FormatJPEG {
		return mediaID + ".jpg"
	}
	return mediaID + ".webp"
}

// ContentType - MIME type of the encoded output
func (s Spec) ContentType() string {
	if s.Format == FormatJPEG {
		return "image/jpeg"
	}
	return "image/webp"
}

// Result - encoded derivative with its measured output dimensions
type Result struct {
	Data   []byte
	Width  int
	Height int
}

// Decode - decode source bytes once; the decoded frame can be rendered into
// every variant concurrently. EXIF orientation is applied here.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}
	return img, nil
}

// Render - resize a decoded frame so its longer edge is at most
// spec.TargetWidth (never upscaling, aspect preserved) and encode it
func Render(img image.Image, spec Spec) (*Result, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	longer := width
	if height > width {
		longer = height
	}

	resized := img
	if longer > spec.TargetWidth {
		if width >= height {
			resized = imaging.Resize(img, spec.TargetWidth, 0, imaging.Lanczos)
		} else {
			resized = imaging.Resize(img, 0, spec.TargetWidth, imaging.Lanczos)
		}
	}

	outBounds := resized.Bounds()

	var buf bytes.Buffer
	switch spec.Format {
	case FormatWebP:
		options, err := encoder.NewLossyEncoderOptions(encoder.PresetPhoto, float32(spec.Quality))
		if err != nil {
			return nil, fmt.Errorf("failed to create webp encoder options: %w", err)
		}
		if err := webp.Encode(&buf, resized, options); err != nil {
			return nil, fmt.Errorf("failed to encode webp: %w", err)
		}
	case FormatJPEG:
		if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(spec.Quality)); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown variant format: %s", spec.Format)
	}

	return &Result{
		Data:   buf.Bytes(),
		Width:  outBounds.Dx(),
		Height: outBounds.Dy(),
	}, nil
}

// Transform - decode + render in one call, for callers producing a single
// derivative
func Transform(data []byte, spec Spec) (*Result, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Render(img, spec)
}
