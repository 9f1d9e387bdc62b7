// Package imgx derives the fanart image spec.md §6 wants alongside
// every video's poster.jpg, from the poster itself — bilibili's video
// detail response gives a single cover/poster image and nothing wider.
//
// AVMC runs the opposite direction: its provider hands back one wide
// fanart image, and internal/infra/imgx.PosterFromFanartRightHalfJPEG
// crops its right half into the tall poster.jpg a media server expects.
// This package keeps AVMC's exact technique — stdlib image decode,
// image/draw composition, JPEG re-encode — but reverses the data flow:
// the poster becomes the right half of a synthesized widescreen fanart,
// with a horizontally mirrored copy of itself filling the left half.
package imgx

import (
	"bytes"
	"errors"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png" // register the PNG decoder; bilibili covers aren't always JPEG
)

// FanartFromPosterJPEG synthesizes a fanart.jpg from a poster image:
// the canvas is twice the poster's width and the same height, with the
// poster placed unmodified on the right half and a horizontally
// mirrored copy of it filling the left half.
func FanartFromPosterJPEG(poster []byte) ([]byte, error) {
	if len(poster) == 0 {
		return nil, errors.New("imgx: poster is empty")
	}

	img, _, err := image.Decode(bytes.NewReader(poster))
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("imgx: invalid poster dimensions")
	}
	w, h := b.Dx(), b.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, w*2, h))

	// Right half: the poster, unmodified.
	draw.Draw(dst, image.Rect(w, 0, w*2, h), img, b.Min, draw.Src)

	// Left half: the poster mirrored horizontally, column by column.
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src := img.At(b.Min.X+w-1-x, b.Min.Y+y)
			dst.Set(x, y, src)
		}
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
