package imgx

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func TestFanartFromPosterJPEGDimensionsAndMirror(t *testing.T) {
	const w, h = 100, 150
	poster := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				poster.Set(x, y, color.RGBA{0, 0, 0, 255})
			} else {
				poster.Set(x, y, color.RGBA{255, 255, 255, 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, poster, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatalf("encode poster: %v", err)
	}

	out, err := FanartFromPosterJPEG(buf.Bytes())
	if err != nil {
		t.Fatalf("FanartFromPosterJPEG: %v", err)
	}

	got, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode fanart: %v", err)
	}
	gb := got.Bounds()
	if gb.Dx() != w*2 || gb.Dy() != h {
		t.Fatalf("unexpected fanart size %dx%d, want %dx%d", gb.Dx(), gb.Dy(), w*2, h)
	}

	// Right half should match the original poster's right (white) half.
	rc := color.RGBAModel.Convert(got.At(gb.Min.X+w+3*w/4, gb.Min.Y+h/2)).(color.RGBA)
	if rc.R < 200 || rc.G < 200 || rc.B < 200 {
		t.Fatalf("right half should be near-white, got %v", rc)
	}

	// Left edge of the canvas mirrors the poster's right edge (white),
	// since column 0 maps to source column w-1.
	lc := color.RGBAModel.Convert(got.At(gb.Min.X, gb.Min.Y+h/2)).(color.RGBA)
	if lc.R < 200 || lc.G < 200 || lc.B < 200 {
		t.Fatalf("mirrored left edge should be near-white, got %v", lc)
	}
}

func TestFanartFromPosterJPEGEmptyInput(t *testing.T) {
	if _, err := FanartFromPosterJPEG(nil); err == nil {
		t.Fatalf("expected error for empty input")
	}
}
