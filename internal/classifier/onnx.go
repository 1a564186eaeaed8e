//go:build gocv

package classifier

import (
	"fmt"
	"image"
	"os"
	"sync"
	"unsafe"

	"gocv.io/x/gocv"
)

// ONNX runs an exported network through OpenCV's DNN module. The model must
// take a 1×1×size×size float input and produce one probability row.
type ONNX struct {
	mu       sync.Mutex
	net      gocv.Net
	size     int
	classes  int
	rescales bool
}

// NewONNX loads the model at path.
func NewONNX(path string, size, classes int, rescales bool) (*ONNX, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}
	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load ONNX model from %s", path)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	return &ONNX{net: net, size: size, classes: classes, rescales: rescales}, nil
}

// Predict implements Classifier.
func (o *ONNX) Predict(batch [][]float32) ([][]float64, error) {
	if err := checkInputs(batch, o.size); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([][]float64, len(batch))
	for i, patch := range batch {
		raw := unsafe.Slice((*byte)(unsafe.Pointer(&patch[0])), len(patch)*4)
		img, err := gocv.NewMatFromBytes(o.size, o.size, gocv.MatTypeCV32F, raw)
		if err != nil {
			return nil, fmt.Errorf("patch %d: %w", i, err)
		}
		blob := gocv.BlobFromImage(img, 1.0, image.Pt(o.size, o.size), gocv.NewScalar(0, 0, 0, 0), false, false)
		o.net.SetInput(blob, "")
		res := o.net.Forward("")
		row := make([]float64, res.Total())
		for k := range row {
			row[k] = float64(res.GetFloatAt(0, k))
		}
		res.Close()
		blob.Close()
		img.Close()
		out[i] = row
	}
	return out, nil
}

// RescalesInput implements Classifier.
func (o *ONNX) RescalesInput() bool { return o.rescales }

// Close releases the network.
func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.net.Close()
	return nil
}
