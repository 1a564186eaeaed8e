package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the example configuration shipped with the
// repository.
const DefaultConfigPath = "config/seatcam.defaults.json"

// Fill policies for excluded grid rows.
const (
	FillBlack   = "black"
	FillWhite   = "white"
	FillOutline = "outline"
	FillNone    = "none"
)

// Decision policies for turning a probability vector into a label.
const (
	PolicyArgmax    = "argmax"
	PolicyThreshold = "threshold"
)

// Frame decoders.
const (
	DecoderStd  = "std"
	DecoderGoCV = "gocv"
)

// Classifier backends.
const (
	BackendCNN      = "cnn"
	BackendONNX     = "onnx"
	BackendConstant = "constant"
)

// Config is the root configuration of a capture station. It is loaded once at
// startup and handed by value to every component; nothing mutates it after
// Validate succeeds.
type Config struct {
	Serial     SerialConfig     `json:"serial"`
	Capture    CaptureConfig    `json:"capture"`
	Raster     RasterConfig     `json:"raster"`
	Grid       GridConfig       `json:"grid"`
	Classifier ClassifierConfig `json:"classifier"`
	Output     OutputConfig     `json:"output"`
}

// SerialConfig describes the serial link to the camera board.
type SerialConfig struct {
	Port       string `json:"port"`
	BaudRate   int    `json:"baud_rate"`
	DataBits   int    `json:"data_bits"`
	StopBits   int    `json:"stop_bits"`
	Parity     string `json:"parity"`
	OpenSettle string `json:"open_settle"` // duration string like "2s"
}

// CaptureConfig holds the command byte and the frame extraction bounds.
type CaptureConfig struct {
	Command          int    `json:"command"`
	Settle           string `json:"settle"`
	ResetPause       string `json:"reset_pause"`
	OverallTimeout   string `json:"overall_timeout"`
	InterByteTimeout string `json:"inter_byte_timeout"`
	PollInterval     string `json:"poll_interval"`
	MinFrameBytes    int    `json:"min_frame_bytes"`
	MaxFrameBytes    int    `json:"max_frame_bytes"`
	ReadChunk        int    `json:"read_chunk"`
}

// RasterConfig is the capture resolution every decoded frame must match.
type RasterConfig struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Decoder string `json:"decoder"`
	Strict  bool   `json:"strict"` // fail instead of resizing mismatched frames
}

// GridConfig describes how the raster is tiled.
type GridConfig struct {
	Rows        int    `json:"rows"`
	Cols        int    `json:"cols"`
	ExcludeRows []int  `json:"exclude_rows"`
	Fill        string `json:"fill"`
}

// ClassThreshold is one rule of the threshold decision policy.
type ClassThreshold struct {
	Class string  `json:"class"`
	Min   float64 `json:"min"`
}

// ClassifierConfig selects the classifier backend and the label contract.
type ClassifierConfig struct {
	Backend       string           `json:"backend"`
	ModelPath     string           `json:"model_path"`
	InputSize     int              `json:"input_size"`
	ClassNames    []string         `json:"class_names"`
	Policy        string           `json:"policy"`
	Thresholds    []ClassThreshold `json:"thresholds,omitempty"`
	Fallback      string           `json:"fallback,omitempty"`
	ConstantClass string           `json:"constant_class,omitempty"`
	// ModelRescales declares that an ONNX model divides by 255 itself. CNN
	// bundles carry this in the bundle.
	ModelRescales bool `json:"model_rescales,omitempty"`
}

// OutputConfig lists the optional sinks for capture results.
type OutputConfig struct {
	DBPath        string `json:"db_path"`
	CaptureLogDir string `json:"capture_log_dir"`
	PatchDumpDir  string `json:"patch_dump_dir"`
	PlotDir       string `json:"plot_dir"`
}

// Default returns the configuration of the reference station: an ArduCAM
// board at 256000 baud producing 320x240 JPEGs, tiled 3x4 with the middle row
// masked out.
func Default() Config {
	return Config{
		Serial: SerialConfig{
			Port:       "/dev/ttyUSB0",
			BaudRate:   256000,
			DataBits:   8,
			StopBits:   1,
			Parity:     "N",
			OpenSettle: "2s",
		},
		Capture: CaptureConfig{
			Command:          0x10,
			Settle:           "100ms",
			ResetPause:       "20ms",
			OverallTimeout:   "12s",
			InterByteTimeout: "1500ms",
			PollInterval:     "10ms",
			MinFrameBytes:    4000,
			MaxFrameBytes:    500000,
			ReadChunk:        512,
		},
		Raster: RasterConfig{Width: 320, Height: 240, Decoder: DecoderStd},
		Grid: GridConfig{
			Rows:        3,
			Cols:        4,
			ExcludeRows: []int{1},
			Fill:        FillBlack,
		},
		Classifier: ClassifierConfig{
			Backend:    BackendCNN,
			ModelPath:  "models/seat_cnn.cbor",
			InputSize:  32,
			ClassNames: []string{"PERSON", "BAG", "EMPTY"},
			Policy:     PolicyArgmax,
			Thresholds: []ClassThreshold{
				{Class: "PERSON", Min: 0.5},
				{Class: "BAG", Min: 0.5},
			},
			Fallback: "EMPTY",
		},
	}
}

// Load reads a JSON configuration file. Fields omitted from the file keep the
// values from Default, so partial configs are safe. The file must have a .json
// extension and be under 1MB.
func Load(path string) (Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return Config{}, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return Config{}, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Serial.BaudRate < 0 {
		return fmt.Errorf("baud_rate must be non-negative, got %d", c.Serial.BaudRate)
	}
	if err := checkDuration("open_settle", c.Serial.OpenSettle, true); err != nil {
		return err
	}

	cc := c.Capture
	if cc.Command < 0 || cc.Command > 0xFF {
		return fmt.Errorf("command must fit in one byte, got %d", cc.Command)
	}
	for _, d := range []struct {
		name, value string
		zeroOK      bool
	}{
		{"settle", cc.Settle, true},
		{"reset_pause", cc.ResetPause, true},
		{"overall_timeout", cc.OverallTimeout, false},
		{"inter_byte_timeout", cc.InterByteTimeout, false},
		{"poll_interval", cc.PollInterval, false},
	} {
		if err := checkDuration(d.name, d.value, d.zeroOK); err != nil {
			return err
		}
	}
	if cc.MinFrameBytes < 4 {
		return fmt.Errorf("min_frame_bytes must be at least 4 (two markers), got %d", cc.MinFrameBytes)
	}
	if cc.MaxFrameBytes < cc.MinFrameBytes {
		return fmt.Errorf("max_frame_bytes (%d) must not be below min_frame_bytes (%d)", cc.MaxFrameBytes, cc.MinFrameBytes)
	}
	if cc.ReadChunk <= 0 {
		return fmt.Errorf("read_chunk must be positive, got %d", cc.ReadChunk)
	}

	if c.Raster.Width <= 0 || c.Raster.Height <= 0 {
		return fmt.Errorf("raster size must be positive, got %dx%d", c.Raster.Width, c.Raster.Height)
	}
	switch c.Raster.Decoder {
	case DecoderStd, DecoderGoCV:
	default:
		return fmt.Errorf("unsupported decoder %q: expected std or gocv", c.Raster.Decoder)
	}

	g := c.Grid
	if g.Rows <= 0 || g.Cols <= 0 {
		return fmt.Errorf("grid must have positive rows and cols, got %dx%d", g.Rows, g.Cols)
	}
	if c.Raster.Width/g.Cols < 1 || c.Raster.Height/g.Rows < 1 {
		return fmt.Errorf("grid %dx%d is finer than the %dx%d raster", g.Rows, g.Cols, c.Raster.Width, c.Raster.Height)
	}
	for _, r := range g.ExcludeRows {
		if r < 0 || r >= g.Rows {
			return fmt.Errorf("exclude_rows entry %d outside 0..%d", r, g.Rows-1)
		}
	}
	switch g.Fill {
	case FillBlack, FillWhite, FillOutline, FillNone:
	default:
		return fmt.Errorf("unsupported fill %q: expected black, white, outline or none", g.Fill)
	}

	cl := c.Classifier
	switch cl.Backend {
	case BackendCNN, BackendONNX:
		if cl.ModelPath == "" {
			return fmt.Errorf("classifier backend %q requires model_path", cl.Backend)
		}
	case BackendConstant:
	default:
		return fmt.Errorf("unsupported classifier backend %q", cl.Backend)
	}
	if cl.InputSize <= 0 {
		return fmt.Errorf("input_size must be positive, got %d", cl.InputSize)
	}
	if len(cl.ClassNames) == 0 {
		return fmt.Errorf("class_names must not be empty")
	}
	seen := make(map[string]bool, len(cl.ClassNames))
	for _, name := range cl.ClassNames {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("class_names must not contain blank names")
		}
		if seen[name] {
			return fmt.Errorf("duplicate class name %q", name)
		}
		seen[name] = true
	}
	switch cl.Policy {
	case PolicyArgmax:
	case PolicyThreshold:
		for _, th := range cl.Thresholds {
			if !seen[th.Class] {
				return fmt.Errorf("threshold refers to unknown class %q", th.Class)
			}
			if th.Min < 0 || th.Min > 1 {
				return fmt.Errorf("threshold for %q must be between 0 and 1, got %f", th.Class, th.Min)
			}
		}
		if !seen[cl.Fallback] {
			return fmt.Errorf("fallback refers to unknown class %q", cl.Fallback)
		}
	default:
		return fmt.Errorf("unsupported policy %q: expected argmax or threshold", cl.Policy)
	}
	if cl.Backend == BackendConstant && cl.ConstantClass != "" && !seen[cl.ConstantClass] {
		return fmt.Errorf("constant_class refers to unknown class %q", cl.ConstantClass)
	}
	return nil
}

func checkDuration(name, value string, zeroOK bool) error {
	if value == "" {
		if zeroOK {
			return nil
		}
		return fmt.Errorf("%s is required", name)
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, value, err)
	}
	if d < 0 || (d == 0 && !zeroOK) {
		return fmt.Errorf("%s must be positive, got %s", name, value)
	}
	return nil
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// GetOpenSettle returns how long to wait after opening the port.
func (c SerialConfig) GetOpenSettle() time.Duration {
	return parseDuration(c.OpenSettle, 0)
}

// GetSettle returns the pause after writing the trigger command.
func (c CaptureConfig) GetSettle() time.Duration {
	return parseDuration(c.Settle, 100*time.Millisecond)
}

// GetResetPause returns the pause after clearing the transport buffers.
func (c CaptureConfig) GetResetPause() time.Duration {
	return parseDuration(c.ResetPause, 20*time.Millisecond)
}

// GetOverallTimeout returns the deadline for a whole frame transfer.
func (c CaptureConfig) GetOverallTimeout() time.Duration {
	return parseDuration(c.OverallTimeout, 12*time.Second)
}

// GetInterByteTimeout returns the allowed silence once a frame has started.
func (c CaptureConfig) GetInterByteTimeout() time.Duration {
	return parseDuration(c.InterByteTimeout, 1500*time.Millisecond)
}

// GetPollInterval returns the sleep between reads when no bytes are waiting.
func (c CaptureConfig) GetPollInterval() time.Duration {
	return parseDuration(c.PollInterval, 10*time.Millisecond)
}

// TileSize returns the pixel size of one grid cell using truncating division.
func (c Config) TileSize() (w, h int) {
	return c.Raster.Width / c.Grid.Cols, c.Raster.Height / c.Grid.Rows
}
