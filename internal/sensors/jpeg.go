package sensors

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// Reencode decodes a JPEG, downscales it to fit within width x height while
// keeping the aspect ratio, and encodes it at quality (1-100).
func Reencode(src []byte, width, height, quality int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("sensors: decode jpeg: %w", err)
	}
	img = fit(img, width, height)
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("sensors: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fit scales with nearest-neighbour sampling; only ever shrinks.
func fit(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxW <= 0 || maxH <= 0 || (w <= maxW && h <= maxH) {
		return img
	}
	scale := float64(maxW) / float64(w)
	if s := float64(maxH) / float64(h); s < scale {
		scale = s
	}
	dw, dh := int(float64(w)*scale), int(float64(h)*scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < dh; y++ {
		sy := b.Min.Y + y*h/dh
		for x := 0; x < dw; x++ {
			dst.Set(x, y, img.At(b.Min.X+x*w/dw, sy))
		}
	}
	return dst
}
