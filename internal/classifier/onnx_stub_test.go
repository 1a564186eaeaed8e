//go:build !gocv

package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ziziccc/embedded-prj3/internal/config"
)

func TestOpen_ONNXUnavailable(t *testing.T) {
	cfg := config.Default().Classifier
	cfg.Backend = config.BackendONNX
	cfg.ModelPath = "seat.onnx"
	_, err := Open(cfg)
	assert.ErrorIs(t, err, ErrNoONNX)
}
