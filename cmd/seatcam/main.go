// Command seatcam drives a serial JPEG camera board, splits each frame into
// seat tiles, classifies them and reports the labels on a console, over HTTP
// and into a capture database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ziziccc/embedded-prj3/internal/api"
	"github.com/ziziccc/embedded-prj3/internal/config"
	"github.com/ziziccc/embedded-prj3/internal/seriallink"
	"github.com/ziziccc/embedded-prj3/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON config file (defaults are used when empty)")
	portPath    = flag.String("port", "", "Serial port (overrides config)")
	baud        = flag.Int("baud", 0, "Baud rate (overrides config)")
	devMode     = flag.Bool("dev", false, "Use a simulated camera board instead of the serial port")
	modelPath   = flag.String("model", "", "Classifier model path (overrides config)")
	backend     = flag.String("backend", "", "Classifier backend: cnn, onnx or constant (overrides config)")
	listen      = flag.String("listen", "", "Serve the HTTP API on this address, e.g. :8080")
	dbPath      = flag.String("db", "", "SQLite capture database (overrides config)")
	captureLog  = flag.String("capture-log", "", "Directory for the binary capture log (overrides config)")
	dumpPatches = flag.String("dump-patches", "", "Directory for per-tile patch text dumps (overrides config)")
	plotDir     = flag.String("plot-dir", "", "Directory for probability chart PNGs (overrides config)")
	overlayOut  = flag.String("overlay-out", "", "Write the newest overlay PNG to this path after each console capture")
	retries     = flag.Int("retries", 0, "Automatic retries for retryable capture failures on the console")
	interactive = flag.Bool("console", true, "Read commands from stdin (c capture, q quit, digits send a raw byte)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [flags]\n", os.Args[0])
	fmt.Fprintf(out, "       %s migrate <action> [-db path]\n", os.Args[0])
	fmt.Fprintf(out, "       %s init-model [-out path]\n", os.Args[0])
	fmt.Fprintf(out, "       %s dump-log -path file [-limit n] [-frames dir]\n", os.Args[0])
	fmt.Fprintf(out, "       %s trigger [-remote url]\n\nFlags:\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	if len(os.Args) > 1 {
		if err := runSubcommand(os.Args[1], os.Args[2:]); err != errNoSubcommand {
			if err != nil {
				log.Fatal(err)
			}
			return
		}
	}

	flag.Usage = usage
	flag.Parse()
	if *showVersion {
		fmt.Println(version.Current())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	st, err := openStation(cfg, stationOptions{dev: *devMode})
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(ctx, st)
		}()
	}

	if *interactive {
		c := &console{
			session:    st.session,
			fs:         st.fs,
			overlayOut: *overlayOut,
			retries:    *retries,
			out:        os.Stdout,
		}
		if err := c.Run(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("console: %v", err)
		}
		stop()
	} else {
		<-ctx.Done()
	}

	wg.Wait()
	log.Printf("graceful shutdown complete")
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return cfg, err
		}
	}
	if *portPath != "" {
		cfg.Serial.Port = *portPath
	}
	if *baud != 0 {
		cfg.Serial.BaudRate = *baud
	}
	if *modelPath != "" {
		cfg.Classifier.ModelPath = *modelPath
	}
	if *backend != "" {
		cfg.Classifier.Backend = *backend
	}
	if *devMode && *backend == "" && *modelPath == "" {
		if _, err := os.Stat(cfg.Classifier.ModelPath); err != nil {
			log.Printf("dev mode: %s not found, using the constant classifier", cfg.Classifier.ModelPath)
			cfg.Classifier.Backend = config.BackendConstant
		}
	}
	if *dbPath != "" {
		cfg.Output.DBPath = *dbPath
	}
	if *captureLog != "" {
		cfg.Output.CaptureLogDir = *captureLog
	}
	if *dumpPatches != "" {
		cfg.Output.PatchDumpDir = *dumpPatches
	}
	if *plotDir != "" {
		cfg.Output.PlotDir = *plotDir
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func serveHTTP(ctx context.Context, st *station) {
	mux := st.api.ServeMux()

	seriallink.AttachAdminRoutes(mux, st.session.SendRaw)
	if st.db != nil {
		if err := st.db.AttachAdminRoutes(mux); err != nil {
			log.Printf("db admin routes disabled: %v", err)
		}
	}

	server := &http.Server{
		Addr:              *listen,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()
	log.Printf("serving on %s", *listen)

	<-ctx.Done()
	log.Println("shutting down HTTP server...")
	_ = st.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}
