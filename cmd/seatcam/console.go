package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ziziccc/embedded-prj3/internal/fsutil"
	"github.com/ziziccc/embedded-prj3/internal/pipeline"
	"github.com/ziziccc/embedded-prj3/internal/report"
	"github.com/ziziccc/embedded-prj3/internal/seriallink"
)

// consoleSession is the part of pipeline.Session the console drives.
type consoleSession interface {
	Capture() (*pipeline.Result, error)
	SendRaw(b byte) error
}

// console is the line-oriented operator prompt.
type console struct {
	session    consoleSession
	fs         fsutil.FileSystem
	overlayOut string
	retries    int
	out        io.Writer
}

const consoleHelp = `commands:
  c        capture, classify and print the tile table
  <n>      send byte n to the board (decimal, or 0x hex)
  h        this help
  q        quit
`

// Run reads commands from in until q, EOF or ctx is cancelled.
func (c *console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	fmt.Fprint(c.out, consoleHelp)
	for {
		fmt.Fprint(c.out, "\n> ")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case line := <-lines:
			if quit := c.handle(strings.ToLower(strings.TrimSpace(line))); quit {
				return nil
			}
		}
	}
}

func (c *console) handle(cmd string) (quit bool) {
	switch {
	case cmd == "":
	case cmd == "q":
		return true
	case cmd == "h" || cmd == "?":
		fmt.Fprint(c.out, consoleHelp)
	case cmd == "c":
		c.capture()
	default:
		b, err := parseRawCommand(cmd)
		if err != nil {
			fmt.Fprintf(c.out, "unknown command %q (h for help)\n", cmd)
			return false
		}
		if err := c.session.SendRaw(b); err != nil {
			fmt.Fprintf(c.out, "send 0x%02X failed: %v\n", b, err)
			return false
		}
		fmt.Fprintf(c.out, "sent 0x%02X\n", b)
	}
	return false
}

// parseRawCommand accepts a decimal byte value or 0x hex.
func parseRawCommand(s string) (byte, error) {
	if strings.HasPrefix(s, "0x") {
		return seriallink.ParseCommandByte(s)
	}
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, err
	}
	return byte(v), nil
}

func (c *console) capture() {
	var res *pipeline.Result
	var err error
	for attempt := 0; ; attempt++ {
		res, err = c.session.Capture()
		if err == nil || !pipeline.Retryable(err) || attempt >= c.retries {
			break
		}
		fmt.Fprintf(c.out, "capture failed (%v), retrying %d/%d\n", err, attempt+1, c.retries)
	}
	if err != nil {
		if pipeline.Retryable(err) {
			fmt.Fprintf(c.out, "frame receive failed: %v\nthe board may still be fine; press c to try again\n", err)
		} else if errors.Is(err, pipeline.ErrBusy) {
			fmt.Fprintln(c.out, "a capture is already running")
		} else {
			fmt.Fprintf(c.out, "capture failed: %v\n", err)
		}
		return
	}

	fmt.Fprintf(c.out, "capture %s: %d bytes, %d tiles (%d excluded) in %s\n",
		res.ID, len(res.Frame), res.Included, res.Excluded, res.Duration)
	_ = report.WriteTable(c.out, res.Classes, res.Records)
	counts := report.Counts(res.Classes, res.Records)
	parts := make([]string, 0, len(res.Classes))
	for _, name := range res.Classes {
		parts = append(parts, fmt.Sprintf("%s=%d", name, counts[name]))
	}
	fmt.Fprintln(c.out, strings.Join(parts, " "))

	if c.overlayOut != "" {
		if err := c.writeOverlay(res); err != nil {
			fmt.Fprintf(c.out, "overlay: %v\n", err)
		} else {
			fmt.Fprintf(c.out, "overlay written to %s\n", c.overlayOut)
		}
	}
}

func (c *console) writeOverlay(res *pipeline.Result) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, res.Overlay); err != nil {
		return err
	}
	if err := c.fs.MkdirAll(filepath.Dir(c.overlayOut), 0o755); err != nil {
		return err
	}
	return c.fs.WriteFile(c.overlayOut, buf.Bytes(), 0o644)
}
