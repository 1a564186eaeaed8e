// Package classifier defines the seat classification contract and its
// backends. A backend takes a batch of single-channel patches and returns one
// probability row per patch.
package classifier

import (
	"errors"
	"fmt"
	"io"

	"github.com/ziziccc/embedded-prj3/internal/config"
)

// Classifier is the batch prediction capability.
type Classifier interface {
	// Predict returns an N×K probability matrix for N patches. Each input is
	// a row-major size×size patch.
	Predict(batch [][]float32) ([][]float64, error)
	// RescalesInput reports whether the model divides inputs by 255 itself.
	RescalesInput() bool
}

// ShapeError reports a prediction matrix that does not match the batch or
// the class table. It is a configuration error and is never retried.
type ShapeError struct {
	Rows     int // rows returned
	WantRows int
	Cols     int // width of the first offending row
	WantCols int
}

func (e *ShapeError) Error() string {
	if e.Rows != e.WantRows {
		return fmt.Sprintf("classifier returned %d rows for a batch of %d", e.Rows, e.WantRows)
	}
	return fmt.Sprintf("classifier returned %d classes, class table has %d", e.Cols, e.WantCols)
}

// ErrInputSize is returned when a patch has the wrong number of samples.
var ErrInputSize = errors.New("patch size does not match model input")

// CheckOutput validates probs against the batch size n and class count k.
func CheckOutput(probs [][]float64, n, k int) error {
	if len(probs) != n {
		return &ShapeError{Rows: len(probs), WantRows: n, WantCols: k}
	}
	for _, row := range probs {
		if len(row) != k {
			return &ShapeError{Rows: n, WantRows: n, Cols: len(row), WantCols: k}
		}
	}
	return nil
}

func checkInputs(batch [][]float32, size int) error {
	for i, p := range batch {
		if len(p) != size*size {
			return fmt.Errorf("%w: patch %d has %d samples, want %d", ErrInputSize, i, len(p), size*size)
		}
	}
	return nil
}

// Open builds the backend named in the configuration.
func Open(cfg config.ClassifierConfig) (Classifier, error) {
	switch cfg.Backend {
	case config.BackendCNN:
		b, err := ReadBundleFile(cfg.ModelPath)
		if err != nil {
			return nil, err
		}
		if err := b.CheckClasses(cfg.ClassNames); err != nil {
			return nil, err
		}
		if b.InputSize != cfg.InputSize {
			return nil, fmt.Errorf("model %s takes %dx%d input, config says %d", cfg.ModelPath, b.InputSize, b.InputSize, cfg.InputSize)
		}
		return NewCNN(b)
	case config.BackendONNX:
		return NewONNX(cfg.ModelPath, cfg.InputSize, len(cfg.ClassNames), cfg.ModelRescales)
	case config.BackendConstant:
		return NewConstantFor(cfg.ClassNames, cfg.ConstantClass, cfg.InputSize), nil
	default:
		return nil, fmt.Errorf("unknown classifier backend %q", cfg.Backend)
	}
}

// Close releases backend resources if the backend holds any.
func Close(c Classifier) error {
	if closer, ok := c.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
