// Package imaging turns a captured JPEG frame into a fixed-size RGBA raster
// and provides the small amount of drawing the overlay needs.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register the JPEG format for image.Decode

	"golang.org/x/image/draw"

	"github.com/ziziccc/embedded-prj3/internal/config"
	"github.com/ziziccc/embedded-prj3/internal/monitoring"
)

// ErrMalformed marks a payload rejected before decoding.
var ErrMalformed = errors.New("malformed image payload")

// DecodeError reports a frame that could not be turned into a raster. The
// capture may be retried.
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %d byte frame: %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DimensionMismatchError reports a raster that does not match the capture
// resolution after any resize.
type DimensionMismatchError struct {
	Got  image.Point
	Want image.Point
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("raster is %dx%d, want %dx%d", e.Got.X, e.Got.Y, e.Want.X, e.Want.Y)
}

// Decoder converts an encoded frame into a raster of the capture resolution.
type Decoder interface {
	Decode(frame []byte) (*image.RGBA, error)
}

// StdDecoder decodes with the standard image codecs. Frames of another size
// are rescaled to Width×Height unless Strict is set, in which case any
// mismatch is an error.
type StdDecoder struct {
	Width  int
	Height int
	Strict bool
}

// NewStdDecoder returns a decoder for the configured resolution.
func NewStdDecoder(r config.RasterConfig) *StdDecoder {
	return &StdDecoder{Width: r.Width, Height: r.Height, Strict: r.Strict}
}

// Decode implements Decoder.
func (d *StdDecoder) Decode(frame []byte) (*image.RGBA, error) {
	if err := CheckStructure(frame); err != nil {
		return nil, &DecodeError{Size: len(frame), Err: err}
	}
	src, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, &DecodeError{Size: len(frame), Err: err}
	}
	want := image.Pt(d.Width, d.Height)
	got := src.Bounds().Size()
	if got != want {
		if d.Strict || got.X == 0 || got.Y == 0 {
			return nil, &DimensionMismatchError{Got: got, Want: want}
		}
		monitoring.Logf("resizing frame %dx%d -> %dx%d", got.X, got.Y, want.X, want.Y)
		dst := image.NewRGBA(image.Rect(0, 0, want.X, want.Y))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		return dst, nil
	}
	return ToRGBA(src), nil
}

// CheckStructure performs the cheap checks that catch line noise mistaken
// for a frame: the payload must open with the JPEG start marker followed by
// another marker, and close with the end marker.
func CheckStructure(frame []byte) error {
	switch {
	case len(frame) < 4:
		return fmt.Errorf("%w: %d bytes", ErrMalformed, len(frame))
	case frame[0] != 0xFF || frame[1] != 0xD8:
		return fmt.Errorf("%w: missing start marker", ErrMalformed)
	case frame[2] != 0xFF:
		return fmt.Errorf("%w: no marker after start (0x%02x)", ErrMalformed, frame[2])
	case frame[len(frame)-2] != 0xFF || frame[len(frame)-1] != 0xD9:
		return fmt.Errorf("%w: missing end marker", ErrMalformed)
	}
	return nil
}

// ToRGBA returns img as an *image.RGBA anchored at the origin, copying only
// when needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Clone returns a deep copy of img.
func Clone(img *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(img.Rect)
	if img.Stride == dst.Stride && len(img.Pix) == len(dst.Pix) {
		copy(dst.Pix, img.Pix)
		return dst
	}
	draw.Draw(dst, dst.Rect, img, img.Rect.Min, draw.Src)
	return dst
}

// NewDecoder returns the decoder named by the raster configuration.
func NewDecoder(r config.RasterConfig) (Decoder, error) {
	switch r.Decoder {
	case config.DecoderGoCV:
		return NewGoCVDecoder(r)
	case config.DecoderStd, "":
		return NewStdDecoder(r), nil
	default:
		return nil, fmt.Errorf("unknown decoder %q", r.Decoder)
	}
}
