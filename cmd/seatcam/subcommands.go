package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ziziccc/embedded-prj3/internal/api"
	"github.com/ziziccc/embedded-prj3/internal/capturelog"
	"github.com/ziziccc/embedded-prj3/internal/classifier"
	"github.com/ziziccc/embedded-prj3/internal/config"
	"github.com/ziziccc/embedded-prj3/internal/db"
	"github.com/ziziccc/embedded-prj3/internal/fsutil"
	"github.com/ziziccc/embedded-prj3/internal/security"
)

// errNoSubcommand means the first argument is not a subcommand and should be
// parsed as a flag.
var errNoSubcommand = errors.New("not a subcommand")

// subcommandFS is where dump-log reads logs and writes frames.
var subcommandFS fsutil.FileSystem = fsutil.OSFileSystem{}

var subcommands = map[string]func(args []string, out io.Writer) error{
	"migrate":    runMigrate,
	"init-model": runInitModel,
	"dump-log":   runDumpLog,
	"trigger":    runTrigger,
}

func runSubcommand(name string, args []string) error {
	run, ok := subcommands[name]
	if !ok {
		return errNoSubcommand
	}
	return run(args, os.Stdout)
}

func runMigrate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	path := fs.String("db", "", "SQLite capture database (default from -config, then seatcam.db)")
	cfgPath := fs.String("config", "", "Path to a JSON config file")
	// Flags may follow the action: seatcam migrate up -db x.db
	var action []string
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		action, args = args[:1], args[1:]
		for len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
			action, args = append(action, args[0]), args[1:]
		}
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	action = append(action, fs.Args()...)

	dbFile := *path
	if dbFile == "" && *cfgPath != "" {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		dbFile = cfg.Output.DBPath
	}
	if dbFile == "" {
		dbFile = "seatcam.db"
	}
	return db.RunMigrateCommand(action, dbFile, out)
}

func runInitModel(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("init-model", flag.ContinueOnError)
	outPath := fs.String("out", "", "Bundle path (default: the configured model path)")
	cfgPath := fs.String("config", "", "Path to a JSON config file")
	seed := fs.Int64("seed", 1, "Weight initialisation seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			return err
		}
	}
	path := *outPath
	if path == "" {
		path = cfg.Classifier.ModelPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b := classifier.NewSeatBundle(cfg.Classifier.InputSize, cfg.Classifier.ClassNames, *seed)
	if err := classifier.WriteBundleFile(path, b); err != nil {
		return fmt.Errorf("write bundle: %w", err)
	}
	fmt.Fprintf(out, "wrote untrained %s bundle (%dx%d, classes %v) to %s\n",
		b.Name, b.InputSize, b.InputSize, b.Classes, path)
	return nil
}

// dumpEntry is the JSON line printed per capture log record.
type dumpEntry struct {
	Written    time.Time              `json:"written"`
	ID         string                 `json:"id"`
	Started    int64                  `json:"started_ns"`
	DurationNS int64                  `json:"duration_ns"`
	FrameBytes int                    `json:"frame_bytes"`
	Discarded  int                    `json:"discarded"`
	Chunks     int                    `json:"chunks"`
	Included   int                    `json:"included"`
	Excluded   int                    `json:"excluded"`
	Classes    []string               `json:"classes"`
	Tiles      []capturelog.TileEntry `json:"tiles"`
}

func runDumpLog(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("dump-log", flag.ContinueOnError)
	path := fs.String("path", "", "Capture log file")
	limit := fs.Int("limit", 0, "Stop after this many records (0 for all)")
	frames := fs.String("frames", "", "Write each record's JPEG into this directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("dump-log: -path is required")
	}

	data, err := subcommandFS.ReadFile(*path)
	if err != nil {
		return err
	}
	r, err := capturelog.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if *frames != "" {
		if err := subcommandFS.MkdirAll(*frames, 0o755); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(out)
	for n := 0; *limit == 0 || n < *limit; n++ {
		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", n, err)
		}
		e := rec.Entry
		if err := enc.Encode(dumpEntry{
			Written: rec.Written, ID: e.ID, Started: e.Started, DurationNS: e.DurationNS,
			FrameBytes: len(e.Frame), Discarded: e.Discarded, Chunks: e.Chunks,
			Included: e.Included, Excluded: e.Excluded, Classes: e.Classes, Tiles: e.Tiles,
		}); err != nil {
			return err
		}
		if *frames != "" && len(e.Frame) > 0 {
			name := filepath.Join(*frames, security.SanitizeFilename(e.ID)+".jpg")
			if err := subcommandFS.WriteFile(name, e.Frame, 0o644); err != nil {
				return err
			}
		}
	}
	return nil
}

func runTrigger(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
	remote := fs.String("remote", "http://localhost:8080", "Base URL of a running seatcam -listen")
	if err := fs.Parse(args); err != nil {
		return err
	}

	v, err := api.NewClient(*remote, nil).Capture()
	if err != nil {
		var re *api.RemoteError
		if errors.As(err, &re) && re.Retryable() {
			return fmt.Errorf("%w (retryable, try again)", err)
		}
		return err
	}
	fmt.Fprintf(out, "capture %s: %d bytes, %d tiles (%d excluded) in %.1fms\n",
		v.ID, v.FrameBytes, v.Included, v.Excluded, v.DurationMS)
	fmt.Fprintf(out, "%-5s %-4s %-4s %-20s %-8s %s\n", "tile", "row", "col", "bbox", "label", "conf")
	for _, t := range v.Tiles {
		b := t.Bounds
		fmt.Fprintf(out, "%-5d %-4d %-4d %-20s %-8s %.3f\n", t.Index, t.Row, t.Col,
			fmt.Sprintf("(%d,%d)-(%d,%d)", b[0], b[1], b[2], b[3]), t.Label, t.Confidence)
	}
	return nil
}
