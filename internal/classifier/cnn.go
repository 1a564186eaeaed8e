package classifier

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// CNN runs a Bundle in pure Go. Convolutions are evaluated per patch; the
// dense head runs on the whole batch as one matrix product.
type CNN struct {
	bundle *Bundle
	layers []layer
	width  int
}

// layer is a Layer with weights widened to float64 and dense weights held
// as matrices.
type layer struct {
	Layer
	w     []float64
	b     []float64
	dense *mat.Dense
}

// NewCNN prepares a validated bundle for inference.
func NewCNN(b *Bundle) (*CNN, error) {
	width, err := b.outputWidth()
	if err != nil {
		return nil, err
	}
	c := &CNN{bundle: b, width: width}
	for _, l := range b.Layers {
		ll := layer{Layer: l, w: widen(l.Weights), b: widen(l.Bias)}
		if l.Kind == KindDense {
			ll.dense = mat.NewDense(l.In, l.Out, ll.w)
		}
		c.layers = append(c.layers, ll)
	}
	return c, nil
}

// RescalesInput implements Classifier.
func (c *CNN) RescalesInput() bool { return c.bundle.Rescale != 0 }

// Classes returns the bundle's class table.
func (c *CNN) Classes() []string { return c.bundle.Classes }

// tensor is an h×w×c feature map stored channel-last.
type tensor struct {
	h, w, c int
	data    []float64
}

// Predict implements Classifier.
func (c *CNN) Predict(batch [][]float32) ([][]float64, error) {
	size := c.bundle.InputSize
	if err := checkInputs(batch, size); err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return [][]float64{}, nil
	}

	// Spatial stages, one patch at a time.
	maps := make([]tensor, len(batch))
	for i, patch := range batch {
		t := tensor{h: size, w: size, c: 1, data: widen(patch)}
		if c.bundle.Rescale != 0 {
			floats.Scale(c.bundle.Rescale, t.data)
		}
		maps[i] = t
	}
	first := len(c.layers)
	for li, l := range c.layers {
		if l.Kind == KindFlatten || l.Kind == KindDense {
			first = li
			break
		}
		for i := range maps {
			switch l.Kind {
			case KindConv2D:
				maps[i] = conv2d(maps[i], &c.layers[li])
			case KindMaxPool2D:
				maps[i] = maxPool(maps[i], l.Pool)
			}
		}
	}

	// Dense head on the batch matrix.
	n := len(maps[0].data)
	x := mat.NewDense(len(maps), n, nil)
	for i, t := range maps {
		x.SetRow(i, t.data)
	}
	for _, l := range c.layers[first:] {
		if l.Kind != KindDense {
			continue
		}
		var y mat.Dense
		y.Mul(x, l.dense)
		rows, _ := y.Dims()
		for r := 0; r < rows; r++ {
			row := y.RawRowView(r)
			floats.Add(row, l.b)
			activate(row, l.Activation)
		}
		x = &y
	}

	rows, cols := x.Dims()
	if cols != c.width {
		return nil, fmt.Errorf("network produced %d outputs, expected %d", cols, c.width)
	}
	out := make([][]float64, rows)
	for r := range out {
		out[r] = mat.Row(nil, r, x)
	}
	return out, nil
}

// conv2d applies a stride-1 convolution with zero "same" padding.
func conv2d(in tensor, l *layer) tensor {
	out := tensor{h: in.h, w: in.w, c: l.Out, data: make([]float64, in.h*in.w*l.Out)}
	py, px := (l.KH-1)/2, (l.KW-1)/2
	for y := 0; y < in.h; y++ {
		for x := 0; x < in.w; x++ {
			acc := out.data[(y*out.w+x)*out.c:][:out.c]
			copy(acc, l.b)
			for ky := 0; ky < l.KH; ky++ {
				iy := y + ky - py
				if iy < 0 || iy >= in.h {
					continue
				}
				for kx := 0; kx < l.KW; kx++ {
					ix := x + kx - px
					if ix < 0 || ix >= in.w {
						continue
					}
					src := in.data[(iy*in.w+ix)*in.c:][:in.c]
					kbase := (ky*l.KW + kx) * l.In * l.Out
					for ci, v := range src {
						if v == 0 {
							continue
						}
						floats.AddScaled(acc, v, l.w[kbase+ci*l.Out:][:l.Out])
					}
				}
			}
			activate(acc, l.Activation)
		}
	}
	return out
}

// maxPool takes the maximum over non-overlapping p×p windows, dropping any
// remainder rows and columns.
func maxPool(in tensor, p int) tensor {
	out := tensor{h: in.h / p, w: in.w / p, c: in.c}
	out.data = make([]float64, out.h*out.w*out.c)
	for y := 0; y < out.h; y++ {
		for x := 0; x < out.w; x++ {
			dst := out.data[(y*out.w+x)*out.c:][:out.c]
			for i := range dst {
				dst[i] = math.Inf(-1)
			}
			for dy := 0; dy < p; dy++ {
				for dx := 0; dx < p; dx++ {
					src := in.data[((y*p+dy)*in.w+(x*p+dx))*in.c:][:in.c]
					for i, v := range src {
						dst[i] = math.Max(dst[i], v)
					}
				}
			}
		}
	}
	return out
}

func activate(v []float64, act string) {
	switch act {
	case ActReLU:
		for i, x := range v {
			if x < 0 {
				v[i] = 0
			}
		}
	case ActSoftmax:
		Softmax(v)
	}
}

// Softmax turns logits into a probability distribution in place.
func Softmax(v []float64) {
	if len(v) == 0 {
		return
	}
	m := floats.Max(v)
	for i, x := range v {
		v[i] = math.Exp(x - m)
	}
	floats.Scale(1/floats.Sum(v), v)
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
