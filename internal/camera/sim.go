package camera

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"

	"github.com/ziziccc/embedded-prj3/internal/seriallink"
)

// SceneFunc renders the picture the simulated board "sees".
type SceneFunc func(w, h int) image.Image

// NoiseScene is a textured gray scene. Plain scenes compress below the
// minimum frame size, so the texture is deliberate.
func NoiseScene(seed int64) SceneFunc {
	return func(w, h int) image.Image {
		r := rand.New(rand.NewSource(seed))
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				base := uint8(96 + (x+y)%64)
				n := uint8(r.Intn(48))
				img.Set(x, y, color.RGBA{base + n, base + n/2, base, 255})
			}
		}
		return img
	}
}

// EncodeJPEG renders scene at w×h and returns the JPEG bytes.
func EncodeJPEG(scene SceneFunc, w, h, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scene(w, h), &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SimulatedBoard answers capture commands the way the camera firmware does:
// some line noise, then the JPEG split into UART-sized chunks.
type SimulatedBoard struct {
	Width, Height int
	Scene         SceneFunc
	ChunkSize     int
	Preamble      []byte
}

// NewSimulatedBoard returns a board rendering noise at w×h.
func NewSimulatedBoard(w, h int) *SimulatedBoard {
	return &SimulatedBoard{
		Width:     w,
		Height:    h,
		Scene:     NoiseScene(1),
		ChunkSize: 512,
		Preamble:  []byte{0x00, 0x0A, 0xFF, 0x00},
	}
}

// Port wires the board to a TestablePort so it can back a seriallink.Link.
func (b *SimulatedBoard) Port() *seriallink.TestablePort {
	p := seriallink.NewTestablePort()
	p.Respond = b.respond
	return p
}

func (b *SimulatedBoard) respond(written []byte) [][]byte {
	if !bytes.Contains(written, []byte{CommandCapture}) {
		return nil
	}
	frame, err := EncodeJPEG(b.Scene, b.Width, b.Height, 90)
	if err != nil {
		return nil
	}
	stream := append(append([]byte(nil), b.Preamble...), frame...)
	size := b.ChunkSize
	if size <= 0 {
		size = len(stream)
	}
	var chunks [][]byte
	for len(stream) > 0 {
		n := min(size, len(stream))
		chunks = append(chunks, stream[:n])
		stream = stream[n:]
	}
	return chunks
}
