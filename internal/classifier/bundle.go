package classifier

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"slices"

	"github.com/fxamacker/cbor/v2"
)

// BundleFormat identifies the weight bundle encoding.
const BundleFormat = "seatcam-cnn/1"

// Layer kinds and activations understood by the CNN backend.
const (
	KindConv2D    = "conv2d"
	KindMaxPool2D = "maxpool2d"
	KindFlatten   = "flatten"
	KindDense     = "dense"

	ActLinear  = "linear"
	ActReLU    = "relu"
	ActSoftmax = "softmax"
)

// Layer is one stage of the network. Conv kernels are stored kh×kw×in×out
// and dense weights in×out, both row-major.
type Layer struct {
	Kind       string    `cbor:"kind"`
	Activation string    `cbor:"activation,omitempty"`
	KH         int       `cbor:"kh,omitempty"`
	KW         int       `cbor:"kw,omitempty"`
	In         int       `cbor:"in,omitempty"`
	Out        int       `cbor:"out,omitempty"`
	Pool       int       `cbor:"pool,omitempty"`
	Weights    []float32 `cbor:"weights,omitempty"`
	Bias       []float32 `cbor:"bias,omitempty"`
}

// Bundle is a serialized network: input contract, class table and layers.
type Bundle struct {
	Format    string   `cbor:"format"`
	Name      string   `cbor:"name,omitempty"`
	InputSize int      `cbor:"input_size"`
	Classes   []string `cbor:"classes"`
	// Rescale, when non-zero, multiplies every input sample before the first
	// layer (1/255 for networks trained on raw intensities).
	Rescale float64 `cbor:"rescale,omitempty"`
	Layers  []Layer `cbor:"layers"`
}

// ReadBundle decodes a bundle and validates its layer chain.
func ReadBundle(r io.Reader) (*Bundle, error) {
	var b Bundle
	if err := cbor.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode model bundle: %w", err)
	}
	if b.Format != BundleFormat {
		return nil, fmt.Errorf("unsupported model bundle format %q", b.Format)
	}
	if _, err := b.outputWidth(); err != nil {
		return nil, err
	}
	return &b, nil
}

// ReadBundleFile reads a bundle from disk.
func ReadBundleFile(path string) (*Bundle, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer f.Close()
	return ReadBundle(f)
}

// WriteBundle encodes b.
func WriteBundle(w io.Writer, b *Bundle) error {
	return cbor.NewEncoder(w).Encode(b)
}

// WriteBundleFile writes b to path, replacing any existing file.
func WriteBundleFile(path string, b *Bundle) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	if err := WriteBundle(f, b); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// CheckClasses verifies the bundle's class table against the configured one.
func (b *Bundle) CheckClasses(names []string) error {
	if !slices.Equal(b.Classes, names) {
		return fmt.Errorf("model classes %v do not match configured classes %v", b.Classes, names)
	}
	return nil
}

// outputWidth walks the layer chain, checking every shape, and returns the
// width of the final layer.
func (b *Bundle) outputWidth() (int, error) {
	if b.InputSize <= 0 {
		return 0, fmt.Errorf("model input size must be positive, got %d", b.InputSize)
	}
	h, w, c := b.InputSize, b.InputSize, 1
	flat := 0 // non-zero once the tensor is flat
	for i, l := range b.Layers {
		switch l.Activation {
		case "", ActLinear, ActReLU, ActSoftmax:
		default:
			return 0, fmt.Errorf("layer %d: unknown activation %q", i, l.Activation)
		}
		switch l.Kind {
		case KindConv2D:
			if flat != 0 {
				return 0, fmt.Errorf("layer %d: conv2d after flatten", i)
			}
			if l.In != c || l.KH <= 0 || l.KW <= 0 || l.Out <= 0 {
				return 0, fmt.Errorf("layer %d: conv2d %dx%dx%d->%d does not fit %d channels", i, l.KH, l.KW, l.In, l.Out, c)
			}
			if len(l.Weights) != l.KH*l.KW*l.In*l.Out || len(l.Bias) != l.Out {
				return 0, fmt.Errorf("layer %d: conv2d has %d weights and %d biases", i, len(l.Weights), len(l.Bias))
			}
			c = l.Out
		case KindMaxPool2D:
			if flat != 0 || l.Pool <= 0 {
				return 0, fmt.Errorf("layer %d: invalid maxpool2d", i)
			}
			h, w = h/l.Pool, w/l.Pool
			if h == 0 || w == 0 {
				return 0, fmt.Errorf("layer %d: pooling reduced the feature map to nothing", i)
			}
		case KindFlatten:
			if flat == 0 {
				flat = h * w * c
			}
		case KindDense:
			if flat == 0 {
				return 0, fmt.Errorf("layer %d: dense before flatten", i)
			}
			if l.In != flat || l.Out <= 0 || len(l.Weights) != l.In*l.Out || len(l.Bias) != l.Out {
				return 0, fmt.Errorf("layer %d: dense %d->%d does not fit input %d", i, l.In, l.Out, flat)
			}
			flat = l.Out
		default:
			return 0, fmt.Errorf("layer %d: unknown kind %q", i, l.Kind)
		}
	}
	if flat == 0 {
		return 0, fmt.Errorf("model has no dense output")
	}
	if flat != len(b.Classes) {
		return 0, &ShapeError{Cols: flat, WantCols: len(b.Classes)}
	}
	return flat, nil
}

// NewSeatBundle returns the seat network with He-initialised random weights:
// three conv(3x3, same)+maxpool(2) stages of 16, 32 and 64 filters, a 64-unit
// hidden layer and a softmax over classes. Useful for bring-up before a
// trained bundle exists.
func NewSeatBundle(inputSize int, classes []string, seed int64) *Bundle {
	r := rand.New(rand.NewSource(seed))
	b := &Bundle{
		Format:    BundleFormat,
		Name:      "seat_softmax_cnn",
		InputSize: inputSize,
		Classes:   append([]string(nil), classes...),
		Rescale:   1.0 / 255.0,
	}
	c, hw := 1, inputSize
	for _, filters := range []int{16, 32, 64} {
		b.Layers = append(b.Layers,
			Layer{Kind: KindConv2D, Activation: ActReLU, KH: 3, KW: 3, In: c, Out: filters,
				Weights: heInit(r, 9*c, 9*c*filters), Bias: make([]float32, filters)},
			Layer{Kind: KindMaxPool2D, Pool: 2},
		)
		c, hw = filters, hw/2
	}
	flat := hw * hw * c
	b.Layers = append(b.Layers,
		Layer{Kind: KindFlatten},
		Layer{Kind: KindDense, Activation: ActReLU, In: flat, Out: 64,
			Weights: heInit(r, flat, flat*64), Bias: make([]float32, 64)},
		Layer{Kind: KindDense, Activation: ActSoftmax, In: 64, Out: len(classes),
			Weights: heInit(r, 64, 64*len(classes)), Bias: make([]float32, len(classes))},
	)
	return b
}

func heInit(r *rand.Rand, fanIn, n int) []float32 {
	std := math.Sqrt(2 / float64(fanIn))
	w := make([]float32, n)
	for i := range w {
		w[i] = float32(r.NormFloat64() * std)
	}
	return w
}
