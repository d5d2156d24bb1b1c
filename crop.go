package main

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
)

const jpegQuality = 95

// Rect is a selection rectangle in screen-space (displayed) coordinates.
type Rect struct {
	X, Y, W, H float64
}

// CropSession is the interactive rectangle selection over one source
// image. Coordinates are screen-space; Rasterize maps them back to native
// pixels through the display scale.
type CropSession struct {
	src      image.Image
	naturalW int
	naturalH int

	// displayScale is displayed pixels per native pixel; pixelDensity is
	// the device-pixel factor applied to the output raster.
	displayScale float64
	pixelDensity float64

	ratio float64 // width/height, AspectFree for an unconstrained rect
	rect  Rect
}

// NewCropSession decodes the raw picture and opens a session with a
// centered rectangle fitted to the requested aspect ratio.
func NewCropSession(raw []byte, ratio, displayScale, pixelDensity float64) (*CropSession, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, validationErr("file", "decode image: %v", err)
	}
	if displayScale <= 0 {
		displayScale = 1
	}
	if pixelDensity <= 0 {
		pixelDensity = 1
	}
	b := img.Bounds()
	c := &CropSession{
		src:          img,
		naturalW:     b.Dx(),
		naturalH:     b.Dy(),
		displayScale: displayScale,
		pixelDensity: pixelDensity,
	}
	c.SetRatio(ratio)
	return c, nil
}

// NaturalSize returns the source image's native pixel dimensions.
func (c *CropSession) NaturalSize() (int, int) { return c.naturalW, c.naturalH }

// Ratio returns the currently selected aspect ratio.
func (c *CropSession) Ratio() float64 { return c.ratio }

// Rect returns the current screen-space selection.
func (c *CropSession) Rect() Rect { return c.rect }

// SetRatio switches the aspect ratio and recenters the selection against
// the natural image dimensions.
func (c *CropSession) SetRatio(ratio float64) {
	c.ratio = ratio
	dispW := float64(c.naturalW) * c.displayScale
	dispH := float64(c.naturalH) * c.displayScale
	c.rect = fitCenteredRect(dispW, dispH, ratio)
}

// SetRect replaces the selection with a user-dragged rectangle, clamped to
// the displayed image. Under a fixed ratio the height follows the width.
func (c *CropSession) SetRect(r Rect) error {
	dispW := float64(c.naturalW) * c.displayScale
	dispH := float64(c.naturalH) * c.displayScale
	if r.W <= 0 || r.H <= 0 {
		return validationErr("rect", "selection must have positive size")
	}
	if c.ratio != AspectFree {
		r.H = r.W / c.ratio
	}
	if r.X < 0 {
		r.X = 0
	}
	if r.Y < 0 {
		r.Y = 0
	}
	if r.X+r.W > dispW {
		r.X = dispW - r.W
	}
	if r.Y+r.H > dispH {
		r.Y = dispH - r.H
	}
	if r.X < 0 || r.Y < 0 {
		return validationErr("rect", "selection larger than image")
	}
	c.rect = r
	return nil
}

// fitCenteredRect returns the largest rectangle of the given width/height
// ratio that fits inside dispW x dispH, centered. AspectFree covers the
// whole image.
func fitCenteredRect(dispW, dispH, ratio float64) Rect {
	if ratio == AspectFree {
		return Rect{X: 0, Y: 0, W: dispW, H: dispH}
	}
	w := dispW
	h := w / ratio
	if h > dispH {
		h = dispH
		w = h * ratio
	}
	return Rect{X: (dispW - w) / 2, Y: (dispH - h) / 2, W: w, H: h}
}

// Rasterize draws only the selected region into an offscreen raster sized
// to the rectangle's native pixel dimensions scaled by the pixel density,
// and encodes it as JPEG. The result is a local ImageRef tagged with the
// session's aspect ratio.
func (c *CropSession) Rasterize() (ImageRef, error) {
	// Screen-space back to the image's native pixel space.
	nx := c.rect.X / c.displayScale
	ny := c.rect.Y / c.displayScale
	nw := c.rect.W / c.displayScale
	nh := c.rect.H / c.displayScale

	b := c.src.Bounds()
	srcRect := image.Rect(
		b.Min.X+int(math.Round(nx)),
		b.Min.Y+int(math.Round(ny)),
		b.Min.X+int(math.Round(nx+nw)),
		b.Min.Y+int(math.Round(ny+nh)),
	).Intersect(b)
	if srcRect.Empty() {
		return ImageRef{}, validationErr("rect", "selection outside the image")
	}

	dstW := int(math.Round(nw * c.pixelDensity))
	dstH := int(math.Round(nh * c.pixelDensity))
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), c.src, srcRect, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return ImageRef{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return ImageRef{
		URL:         EncodeDataURI("image/jpeg", buf.Bytes()),
		AspectRatio: c.ratio,
	}, nil
}
