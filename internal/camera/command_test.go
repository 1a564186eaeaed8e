package camera

import (
	"bytes"
	"errors"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziziccc/embedded-prj3/internal/config"
	"github.com/ziziccc/embedded-prj3/internal/seriallink"
	"github.com/ziziccc/embedded-prj3/internal/timeutil"
)

func TestCommander_PrepareCapture(t *testing.T) {
	port := seriallink.NewTestablePort()
	port.QueueChunks([]byte("stale bytes from last time"))
	clock := timeutil.NewMockClock(epoch)
	cfg := config.Default().Capture
	cmd := NewCommander(seriallink.NewLink(port, "test"), cfg, clock)

	require.NoError(t, cmd.PrepareCapture())
	assert.Equal(t, 1, port.OutputResets)
	assert.Equal(t, 1, port.InputResets)
	assert.Equal(t, 0, port.Pending())
	assert.Equal(t, []time.Duration{cfg.GetResetPause()}, clock.Sleeps())
}

func TestCommander_Trigger(t *testing.T) {
	port := seriallink.NewTestablePort()
	clock := timeutil.NewMockClock(epoch)
	cfg := config.Default().Capture
	cmd := NewCommander(seriallink.NewLink(port, "test"), cfg, clock)

	require.NoError(t, cmd.Trigger())
	assert.Equal(t, []byte{CommandCapture}, port.Written())
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, clock.Sleeps())
	// Fire-and-forget: nothing is read back.
	assert.Equal(t, 0, port.ReadCalls)
}

func TestCommander_SendRaw(t *testing.T) {
	port := seriallink.NewTestablePort()
	cmd := NewCommander(seriallink.NewLink(port, "test"), config.Default().Capture, timeutil.NewMockClock(epoch))

	require.NoError(t, cmd.SendRaw(0x42))
	assert.Equal(t, []byte{0x42}, port.Written())
}

func TestCommander_WriteFailure(t *testing.T) {
	port := seriallink.NewTestablePort()
	port.WriteError = errors.New("io error")
	clock := timeutil.NewMockClock(epoch)
	cmd := NewCommander(seriallink.NewLink(port, "test"), config.Default().Capture, clock)

	err := cmd.Trigger()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Empty(t, clock.Sleeps(), "no settle after a failed write")

	port.ShortWrite = true
	err = cmd.Trigger()
	assert.ErrorIs(t, err, seriallink.ErrWriteFailed)
}

func TestSimulatedBoard_CaptureRoundTrip(t *testing.T) {
	board := NewSimulatedBoard(320, 240)
	port := board.Port()
	link := seriallink.NewLink(port, "sim")
	clock := timeutil.NewMockClock(epoch)
	cfg := config.Default().Capture

	cmd := NewCommander(link, cfg, clock)
	require.NoError(t, cmd.PrepareCapture())
	require.NoError(t, cmd.Trigger())

	frame, stats, err := NewExtractor(link, cfg, clock).Extract()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(frame), cfg.MinFrameBytes)
	assert.Equal(t, len(board.Preamble), stats.Discarded)

	img, err := jpeg.Decode(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 240, img.Bounds().Dy())
}

func TestSimulatedBoard_IgnoresOtherCommands(t *testing.T) {
	board := NewSimulatedBoard(64, 48)
	port := board.Port()
	link := seriallink.NewLink(port, "sim")

	_, err := link.Write([]byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, 0, port.Pending())
}
