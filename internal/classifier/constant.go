package classifier

// Constant answers every patch with the same probability row. It backs the
// simulated station and pipeline tests.
type Constant struct {
	Probs    []float64
	Size     int
	Rescales bool
}

// NewConstantFor returns a Constant that is certain of class, or uniform
// over classes when class is empty or unknown.
func NewConstantFor(classes []string, class string, size int) *Constant {
	probs := make([]float64, len(classes))
	hit := -1
	for i, name := range classes {
		if name == class {
			hit = i
		}
	}
	for i := range probs {
		switch {
		case hit < 0:
			probs[i] = 1 / float64(len(classes))
		case i == hit:
			probs[i] = 1
		}
	}
	return &Constant{Probs: probs, Size: size}
}

// Predict implements Classifier.
func (c *Constant) Predict(batch [][]float32) ([][]float64, error) {
	if c.Size > 0 {
		if err := checkInputs(batch, c.Size); err != nil {
			return nil, err
		}
	}
	out := make([][]float64, len(batch))
	for i := range out {
		out[i] = append([]float64(nil), c.Probs...)
	}
	return out, nil
}

// RescalesInput implements Classifier.
func (c *Constant) RescalesInput() bool { return c.Rescales }
