package main

import (
	"bytes"
	"hash/fnv"
	"image/color"

	"github.com/fogleman/gg"
)

// renderPlaceholderPNG draws a seeded gradient tile used as the cover for
// items that reach publish with no image, so the public page always has
// something to render.
func renderPlaceholderPNG(seed string, w, h int) ([]byte, error) {
	dc := gg.NewContext(w, h)

	c1, c2 := gradientStops(seed)
	grad := gg.NewLinearGradient(0, 0, float64(w), float64(h))
	grad.AddColorStop(0, c1)
	grad.AddColorStop(1, c2)
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, float64(w), float64(h))
	dc.Fill()

	// Soft highlight disc in the center.
	side := w
	if h < side {
		side = h
	}
	dc.SetRGBA(1, 1, 1, 0.18)
	dc.DrawCircle(float64(w)/2, float64(h)/2, float64(side)/4)
	dc.Fill()

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Two related hues derived from the seed so the same item always gets the
// same tile.
func gradientStops(seed string) (color.RGBA, color.RGBA) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	sum := h.Sum32()

	c1 := color.RGBA{
		R: uint8(32 + (sum & 0x7F)),
		G: uint8(24 + ((sum >> 7) & 0x7F)),
		B: uint8(48 + ((sum >> 14) & 0x7F)),
		A: 255,
	}
	c2 := color.RGBA{
		R: uint8(24 + ((sum >> 5) & 0x7F)),
		G: uint8(48 + ((sum >> 12) & 0x7F)),
		B: uint8(32 + ((sum >> 19) & 0x7F)),
		A: 255,
	}
	return c1, c2
}
