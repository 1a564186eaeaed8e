//go:build gocv

package imaging

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/ziziccc/embedded-prj3/internal/config"
)

// GoCVAvailable reports whether the binary was built with OpenCV support.
const GoCVAvailable = true

// GoCVDecoder decodes with OpenCV and resizes mismatched frames with area
// interpolation unless Strict is set.
type GoCVDecoder struct {
	Width  int
	Height int
	Strict bool
}

// NewGoCVDecoder returns an OpenCV-backed decoder.
func NewGoCVDecoder(r config.RasterConfig) (*GoCVDecoder, error) {
	return &GoCVDecoder{Width: r.Width, Height: r.Height, Strict: r.Strict}, nil
}

// Decode implements Decoder.
func (d *GoCVDecoder) Decode(frame []byte) (*image.RGBA, error) {
	if err := CheckStructure(frame); err != nil {
		return nil, &DecodeError{Size: len(frame), Err: err}
	}
	mat, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return nil, &DecodeError{Size: len(frame), Err: err}
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, &DecodeError{Size: len(frame), Err: fmt.Errorf("opencv returned an empty image")}
	}

	if mat.Cols() != d.Width || mat.Rows() != d.Height {
		if d.Strict {
			return nil, &DimensionMismatchError{Got: image.Pt(mat.Cols(), mat.Rows()), Want: image.Pt(d.Width, d.Height)}
		}
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(mat, &resized, image.Pt(d.Width, d.Height), 0, 0, gocv.InterpolationArea)
		return matToRGBA(resized, d.Width, d.Height)
	}
	return matToRGBA(mat, d.Width, d.Height)
}

func matToRGBA(m gocv.Mat, w, h int) (*image.RGBA, error) {
	img, err := m.ToImage()
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	out := ToRGBA(img)
	if got := out.Bounds().Size(); got != image.Pt(w, h) {
		return nil, &DimensionMismatchError{Got: got, Want: image.Pt(w, h)}
	}
	return out, nil
}
