//go:build !gocv

package classifier

import "errors"

// ErrNoONNX is returned when OpenCV support was not compiled in.
var ErrNoONNX = errors.New("ONNX backend requires a build with -tags gocv")

// ONNX is unavailable in this build.
type ONNX struct{}

// NewONNX always fails in builds without the gocv tag.
func NewONNX(path string, size, classes int, rescales bool) (*ONNX, error) {
	return nil, ErrNoONNX
}

// Predict implements Classifier.
func (*ONNX) Predict([][]float32) ([][]float64, error) { return nil, ErrNoONNX }

// RescalesInput implements Classifier.
func (*ONNX) RescalesInput() bool { return false }
