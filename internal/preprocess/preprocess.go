// Package preprocess turns included grid tiles into the fixed-size,
// single-channel patches the classifier consumes.
package preprocess

import (
	"fmt"
	"image"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ziziccc/embedded-prj3/internal/fsutil"
	"github.com/ziziccc/embedded-prj3/internal/grid"
	"github.com/ziziccc/embedded-prj3/internal/imaging"
	"github.com/ziziccc/embedded-prj3/internal/monitoring"
)

// Patch is one normalized classifier input, Size×Size samples row-major.
type Patch struct {
	Tile   grid.Tile
	Pixels []float32
}

// Batch is the ordered classifier input for one capture. Patches follow the
// order of the tiles they were built from.
type Batch struct {
	Size     int
	Rescaled bool // samples are in 0..1 rather than 0..255
	Patches  []Patch
}

// Len returns the number of patches.
func (b *Batch) Len() int { return len(b.Patches) }

// Inputs returns the pixel slices in batch order.
func (b *Batch) Inputs() [][]float32 {
	out := make([][]float32, len(b.Patches))
	for i, p := range b.Patches {
		out[i] = p.Pixels
	}
	return out
}

// Preprocessor builds patches. rescale must reflect the classifier: when the
// model already divides by 255 internally, patches stay in 0..255.
type Preprocessor struct {
	size    int
	rescale bool
	fs      fsutil.FileSystem
	dumpDir string
}

// Option configures a Preprocessor.
type Option func(*Preprocessor)

// WithPatchDump writes each included patch as patch_<n>.txt under dir.
func WithPatchDump(fs fsutil.FileSystem, dir string) Option {
	return func(p *Preprocessor) {
		p.fs = fs
		p.dumpDir = dir
	}
}

// New creates a Preprocessor for size×size inputs. modelRescales is the
// classifier's answer to whether it scales by 1/255 itself.
func New(size int, modelRescales bool, opts ...Option) *Preprocessor {
	p := &Preprocessor{size: size, rescale: !modelRescales}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Prepare crops, converts and resamples every included tile.
func (p *Preprocessor) Prepare(raster *image.RGBA, tiles []grid.Tile) (*Batch, error) {
	if p.size <= 0 {
		return nil, fmt.Errorf("invalid patch size %d", p.size)
	}
	if p.dumpDir != "" {
		if err := p.fs.MkdirAll(p.dumpDir, 0o755); err != nil {
			return nil, fmt.Errorf("create patch dump dir: %w", err)
		}
	}

	b := &Batch{Size: p.size, Rescaled: p.rescale}
	for _, t := range tiles {
		if !t.Included {
			continue
		}
		if !t.Bounds.In(raster.Bounds()) {
			return nil, fmt.Errorf("tile %v outside raster %v", t, raster.Bounds())
		}
		px := imaging.ResizeArea(imaging.Luminance(raster, t.Bounds), p.size, p.size)
		if p.dumpDir != "" {
			if err := p.dump(len(b.Patches), px); err != nil {
				return nil, err
			}
		}
		if p.rescale {
			for i := range px {
				px[i] *= 1.0 / 255.0
			}
		}
		b.Patches = append(b.Patches, Patch{Tile: t, Pixels: px})
	}
	monitoring.Logf("prepared %d patches of %dx%d (rescaled=%t)", len(b.Patches), p.size, p.size, p.rescale)
	return b, nil
}

// dump writes integer gray values, one text row per pixel row.
func (p *Preprocessor) dump(n int, px []float32) error {
	var sb strings.Builder
	for y := 0; y < p.size; y++ {
		for x := 0; x < p.size; x++ {
			if x > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(strconv.Itoa(int(px[y*p.size+x])))
		}
		sb.WriteByte('\n')
	}
	name := filepath.Join(p.dumpDir, fmt.Sprintf("patch_%d.txt", n))
	if err := p.fs.WriteFile(name, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
