package transform

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

// testImageBytes - solid-color PNG of the given dimensions
func testImageBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 120, G: 80, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestVariantTableShape(t *testing.T) {
	if len(Variants) != 6 {
		t.Fatalf("variant table has %d entries, want 6", len(Variants))
	}

	counts := map[string]map[string]bool{}
	for _, spec := range Variants {
		if counts[spec.SizeName] == nil {
			counts[spec.SizeName] = map[string]bool{}
		}
		if counts[spec.SizeName][spec.Format] {
			t.Errorf("duplicate spec %s/%s", spec.SizeName, spec.Format)
		}
		counts[spec.SizeName][spec.Format] = true
	}
	for _, size := range []string{"small", "medium", "large"} {
		for _, format := range []string{FormatWebP, FormatJPEG} {
			if !counts[size][format] {
				t.Errorf("missing spec %s/%s", size, format)
			}
		}
	}
}

func TestRenderRespectsSizeCeilings(t *testing.T) {
	src := testImageBytes(t, 2000, 1500)
	img, err := Decode(src)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	ceilings := map[string]int{"small": 400, "medium": 800, "large": 1200}
	for _, spec := range Variants {
		if spec.Format != FormatJPEG {
			continue // jpeg path is enough to verify the geometry
		}
		res, err := Render(img, spec)
		if err != nil {
			t.Fatalf("render %s: %v", spec.SizeName, err)
		}
		ceiling := ceilings[spec.SizeName]
		if res.Width > ceiling {
			t.Errorf("%s width %d exceeds ceiling %d", spec.SizeName, res.Width, ceiling)
		}
		if res.Height > ceiling {
			t.Errorf("%s height %d exceeds ceiling %d", spec.SizeName, res.Height, ceiling)
		}
		// 4:3 source must stay 4:3 within a pixel of rounding
		wantHeight := res.Width * 3 / 4
		if diff := res.Height - wantHeight; diff < -1 || diff > 1 {
			t.Errorf("%s aspect drifted: %dx%d", spec.SizeName, res.Width, res.Height)
		}
	}
}

func TestRenderPreservesPortraitOrientation(t *testing.T) {
	src := testImageBytes(t, 900, 1800)
	res, err := Transform(src, Spec{SizeName: "large", TargetWidth: 1200, Quality: 85, Format: FormatJPEG})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	// longer edge is the height here and must hit the ceiling
	if res.Height != 1200 {
		t.Errorf("height = %d, want 1200", res.Height)
	}
	if res.Width != 600 {
		t.Errorf("width = %d, want 600", res.Width)
	}
}

func TestRenderNeverUpscales(t *testing.T) {
	src := testImageBytes(t, 300, 200)
	res, err := Transform(src, Spec{SizeName: "large", TargetWidth: 1200, Quality: 85, Format: FormatJPEG})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if res.Width != 300 || res.Height != 200 {
		t.Errorf("small source was upscaled to %dx%d", res.Width, res.Height)
	}
}

func TestDecodeRejectsCorruptInput(t *testing.T) {
	_, err := Decode([]byte("definitely not an image"))
	if !errors.Is(err, ErrUnreadableImage) {
		t.Fatalf("expected ErrUnreadableImage, got %v", err)
	}
}

func TestFileNameIsDeterministic(t *testing.T) {
	spec := Variants[0]
	if spec.FileName("m-1") != spec.FileName("m-1") {
		t.Error("file name must be stable for the same media")
	}
	jpeg := Spec{Format: FormatJPEG}
	if got := jpeg.FileName("m-1"); got != "m-1.jpg" {
		t.Errorf("jpeg file name = %q", got)
	}
	webp := Spec{Format: FormatWebP}
	if got := webp.FileName("m-1"); got != "m-1.webp" {
		t.Errorf("webp file name = %q", got)
	}
}
