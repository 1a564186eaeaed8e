package classifier

import (
	"bytes"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziziccc/embedded-prj3/internal/config"
)

var seatClasses = []string{"PERSON", "BAG", "EMPTY"}

// tinyBundle: 2x2 input, 1x1 identity conv, 2x2 max pool, dense 1->2.
func tinyBundle() *Bundle {
	return &Bundle{
		Format:    BundleFormat,
		InputSize: 2,
		Classes:   []string{"A", "B"},
		Rescale:   1.0 / 255.0,
		Layers: []Layer{
			{Kind: KindConv2D, Activation: ActReLU, KH: 1, KW: 1, In: 1, Out: 1, Weights: []float32{1}, Bias: []float32{0}},
			{Kind: KindMaxPool2D, Pool: 2},
			{Kind: KindFlatten},
			{Kind: KindDense, Activation: ActSoftmax, In: 1, Out: 2, Weights: []float32{1, -1}, Bias: []float32{0, 0}},
		},
	}
}

func TestCNN_TinyNetwork(t *testing.T) {
	c, err := NewCNN(tinyBundle())
	require.NoError(t, err)
	assert.True(t, c.RescalesInput())

	probs, err := c.Predict([][]float32{
		{0, 0, 0, 255}, // max pool picks the 255 -> logit 1
		{0, 0, 0, 0},   // logits 0, 0
	})
	require.NoError(t, err)
	require.Len(t, probs, 2)

	want := 1 / (1 + math.Exp(-2))
	assert.InDelta(t, want, probs[0][0], 1e-9)
	assert.InDelta(t, 1-want, probs[0][1], 1e-9)
	assert.InDelta(t, 0.5, probs[1][0], 1e-9)
}

func TestCNN_InputSizeChecked(t *testing.T) {
	c, err := NewCNN(tinyBundle())
	require.NoError(t, err)
	_, err = c.Predict([][]float32{{1, 2, 3}})
	assert.ErrorIs(t, err, ErrInputSize)

	probs, err := c.Predict(nil)
	require.NoError(t, err)
	assert.Empty(t, probs)
}

func TestConv2D_SamePadding(t *testing.T) {
	in := tensor{h: 3, w: 3, c: 1, data: []float64{1, 1, 1, 1, 1, 1, 1, 1, 1}}
	ones := make([]float64, 9)
	for i := range ones {
		ones[i] = 1
	}
	l := &layer{Layer: Layer{Kind: KindConv2D, KH: 3, KW: 3, In: 1, Out: 1}, w: ones, b: []float64{0}}

	out := conv2d(in, l)
	assert.Equal(t, []float64{4, 6, 4, 6, 9, 6, 4, 6, 4}, out.data)
}

func TestMaxPool_DropsRemainder(t *testing.T) {
	in := tensor{h: 3, w: 3, c: 1, data: []float64{1, 2, 9, 3, 4, 9, 9, 9, 9}}
	out := maxPool(in, 2)
	assert.Equal(t, 1, out.h)
	assert.Equal(t, 1, out.w)
	assert.Equal(t, []float64{4}, out.data)
}

func TestSeatBundle_RoundTripAndPredict(t *testing.T) {
	b := NewSeatBundle(32, seatClasses, 42)

	var buf bytes.Buffer
	require.NoError(t, WriteBundle(&buf, b))
	decoded, err := ReadBundle(&buf)
	require.NoError(t, err)
	assert.Equal(t, b.Classes, decoded.Classes)
	assert.Len(t, decoded.Layers, len(b.Layers))

	c, err := NewCNN(decoded)
	require.NoError(t, err)

	batch := make([][]float32, 3)
	for i := range batch {
		batch[i] = make([]float32, 32*32)
		for j := range batch[i] {
			batch[i][j] = float32((j*(i+1))%256)
		}
	}
	probs, err := c.Predict(batch)
	require.NoError(t, err)
	require.NoError(t, CheckOutput(probs, 3, 3))
	for _, row := range probs {
		sum := 0.0
		for _, p := range row {
			assert.GreaterOrEqual(t, p, 0.0)
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestReadBundle_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Bundle)
	}{
		{"format", func(b *Bundle) { b.Format = "keras-h5" }},
		{"dense width", func(b *Bundle) { b.Layers[3].In = 4 }},
		{"missing bias", func(b *Bundle) { b.Layers[0].Bias = nil }},
		{"unknown kind", func(b *Bundle) { b.Layers[1].Kind = "avgpool" }},
		{"unknown activation", func(b *Bundle) { b.Layers[0].Activation = "gelu" }},
		{"dense before flatten", func(b *Bundle) { b.Layers = append(b.Layers[3:], b.Layers[:3]...) }},
		{"class count", func(b *Bundle) { b.Classes = seatClasses }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tinyBundle()
			tt.mutate(b)
			var buf bytes.Buffer
			require.NoError(t, WriteBundle(&buf, b))
			_, err := ReadBundle(&buf)
			assert.Error(t, err)
		})
	}

	b := tinyBundle()
	b.Classes = seatClasses
	_, err := NewCNN(b)
	var se *ShapeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 2, se.Cols)
	assert.Equal(t, 3, se.WantCols)
}

func TestCheckOutput(t *testing.T) {
	assert.NoError(t, CheckOutput([][]float64{{1, 0, 0}, {0, 1, 0}}, 2, 3))

	err := CheckOutput([][]float64{{1, 0}}, 1, 3)
	var se *ShapeError
	require.True(t, errors.As(err, &se))
	assert.Contains(t, se.Error(), "2 classes")

	err = CheckOutput([][]float64{{1, 0, 0}}, 2, 3)
	require.True(t, errors.As(err, &se))
	assert.Contains(t, se.Error(), "1 rows for a batch of 2")
}

func TestSoftmax(t *testing.T) {
	v := []float64{1000, 1000, 1000}
	Softmax(v)
	for _, p := range v {
		assert.InDelta(t, 1.0/3, p, 1e-12)
	}
	Softmax(nil)
}

func TestConstant(t *testing.T) {
	c := NewConstantFor(seatClasses, "BAG", 32)
	probs, err := c.Predict(make([][]float32, 2))
	assert.ErrorIs(t, err, ErrInputSize)

	probs, err = c.Predict([][]float32{make([]float32, 1024), make([]float32, 1024)})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 1, 0}, {0, 1, 0}}, probs)
	probs[0][1] = 5
	assert.Equal(t, 1.0, c.Probs[1], "rows must not alias")

	u := NewConstantFor(seatClasses, "", 0)
	assert.InDeltaSlice(t, []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}, u.Probs, 1e-12)
}

func TestOpen(t *testing.T) {
	cfg := config.Default().Classifier

	path := filepath.Join(t.TempDir(), "seat.cbor")
	require.NoError(t, WriteBundleFile(path, NewSeatBundle(32, seatClasses, 1)))
	cfg.ModelPath = path
	c, err := Open(cfg)
	require.NoError(t, err)
	assert.IsType(t, &CNN{}, c)
	assert.NoError(t, Close(c))

	wrong := cfg
	wrong.ClassNames = []string{"PERSON", "EMPTY", "BAG"}
	_, err = Open(wrong)
	assert.ErrorContains(t, err, "do not match")

	small := cfg
	small.InputSize = 16
	_, err = Open(small)
	assert.ErrorContains(t, err, "input")

	missing := cfg
	missing.ModelPath = filepath.Join(t.TempDir(), "absent.cbor")
	_, err = Open(missing)
	assert.Error(t, err)

	constant := cfg
	constant.Backend = config.BackendConstant
	constant.ConstantClass = "EMPTY"
	c, err = Open(constant)
	require.NoError(t, err)
	assert.IsType(t, &Constant{}, c)
}
