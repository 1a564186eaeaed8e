//go:build !gocv

package imaging

import (
	"errors"
	"image"

	"github.com/ziziccc/embedded-prj3/internal/config"
)

// GoCVAvailable reports whether the binary was built with OpenCV support.
const GoCVAvailable = false

// ErrNoGoCV is returned when OpenCV support was not compiled in.
var ErrNoGoCV = errors.New("built without OpenCV support (rebuild with -tags gocv)")

// GoCVDecoder is unavailable in this build.
type GoCVDecoder struct{}

// NewGoCVDecoder always fails in builds without the gocv tag.
func NewGoCVDecoder(config.RasterConfig) (*GoCVDecoder, error) {
	return nil, ErrNoGoCV
}

// Decode implements Decoder.
func (*GoCVDecoder) Decode([]byte) (*image.RGBA, error) {
	return nil, ErrNoGoCV
}
