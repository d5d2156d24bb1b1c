package main

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// ValidatePickedImage checks a freshly selected file before it enters a
// crop session: the bytes must sniff as an image MIME type and stay under
// the configured ceiling. On error the caller's prior state is untouched.
func ValidatePickedImage(data []byte, maxBytes int64) (string, error) {
	if len(data) == 0 {
		return "", validationErr("file", "empty file")
	}
	if int64(len(data)) > maxBytes {
		return "", validationErr("file", "file exceeds %d bytes", maxBytes)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", validationErr("file", "unsupported file type %s", mime)
	}
	return mime, nil
}

// EncodeDataURI wraps raw bytes as an inline data URI, the local ImageRef
// representation.
func EncodeDataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI unwraps a local ImageRef back into MIME type and bytes.
func DecodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URI")
	}
	mime, enc := meta, ""
	if m, e, found := strings.Cut(meta, ";"); found {
		mime, enc = m, e
	}
	if enc != "base64" {
		return "", nil, fmt.Errorf("unsupported data URI encoding %q", enc)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URI: %w", err)
	}
	return mime, data, nil
}

type stageState int

const (
	stageEmpty stageState = iota
	stageSelected
	stageCropped
)

// ImageSession tracks one picture from file selection through cropping to
// a staged local ImageRef: Empty -> Selected -> Cropped -> Local. The
// session never touches the item store until the caller commits the
// result; Cancel is a pure discard.
type ImageSession struct {
	state stageState
	crop  *CropSession

	// editIndex is the image slot being re-edited, or -1 for a new image.
	editIndex int

	result ImageRef
}

// NewImageSession starts an empty session. editIndex < 0 appends.
func NewImageSession(editIndex int) *ImageSession {
	return &ImageSession{state: stageEmpty, editIndex: editIndex}
}

// Select validates the picked bytes and opens a crop session over them
// with the given aspect ratio. A failed selection leaves the session in
// its prior state.
func (is *ImageSession) Select(raw []byte, maxBytes int64, ratio, displayScale, pixelDensity float64) error {
	if _, err := ValidatePickedImage(raw, maxBytes); err != nil {
		return err
	}
	crop, err := NewCropSession(raw, ratio, displayScale, pixelDensity)
	if err != nil {
		return err
	}
	is.crop = crop
	is.state = stageSelected
	return nil
}

// Crop exposes the live crop session, nil before a selection.
func (is *ImageSession) Crop() *CropSession { return is.crop }

// Confirm rasterizes the current selection into a local ImageRef.
func (is *ImageSession) Confirm() (ImageRef, error) {
	if is.state != stageSelected || is.crop == nil {
		return ImageRef{}, validationErr("crop", "no image selected")
	}
	ref, err := is.crop.Rasterize()
	if err != nil {
		return ImageRef{}, err
	}
	is.result = ref
	is.state = stageCropped
	return ref, nil
}

// EditIndex returns the slot being re-edited, -1 for a new image.
func (is *ImageSession) EditIndex() int { return is.editIndex }

// Cancel discards all session-local state. The item store is untouched.
func (is *ImageSession) Cancel() {
	is.crop = nil
	is.result = ImageRef{}
	is.state = stageEmpty
}

// clampActiveIndex shifts the active display index after a removal so it
// never points past the shortened list.
func clampActiveIndex(active, length int) int {
	if length == 0 {
		return 0
	}
	if active >= length {
		return length - 1
	}
	return active
}
