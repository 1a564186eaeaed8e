package main

import (
	"fmt"
	"log"

	"github.com/ziziccc/embedded-prj3/internal/api"
	"github.com/ziziccc/embedded-prj3/internal/camera"
	"github.com/ziziccc/embedded-prj3/internal/capturelog"
	"github.com/ziziccc/embedded-prj3/internal/classifier"
	"github.com/ziziccc/embedded-prj3/internal/config"
	"github.com/ziziccc/embedded-prj3/internal/db"
	"github.com/ziziccc/embedded-prj3/internal/fsutil"
	"github.com/ziziccc/embedded-prj3/internal/imaging"
	"github.com/ziziccc/embedded-prj3/internal/pipeline"
	"github.com/ziziccc/embedded-prj3/internal/seriallink"
	"github.com/ziziccc/embedded-prj3/internal/timeutil"
)

type stationOptions struct {
	dev     bool
	factory seriallink.PortFactory // nil opens the real port
	clock   timeutil.Clock
	fs      fsutil.FileSystem
}

// station is everything one running seatcam owns.
type station struct {
	cfg     config.Config
	link    *seriallink.Link
	cls     classifier.Classifier
	session *pipeline.Session
	db      *db.DB
	log     *capturelog.Writer
	hub     *api.Hub
	api     *api.Server
	fs      fsutil.FileSystem
}

func openStation(cfg config.Config, o stationOptions) (_ *station, err error) {
	st := &station{cfg: cfg, fs: o.fs}
	if st.fs == nil {
		st.fs = fsutil.OSFileSystem{}
	}
	defer func() {
		if err != nil {
			st.Close()
		}
	}()

	if o.dev {
		board := camera.NewSimulatedBoard(cfg.Raster.Width, cfg.Raster.Height)
		st.link = seriallink.NewLink(board.Port(), "simulated")
		log.Printf("dev mode: simulated %dx%d camera board", cfg.Raster.Width, cfg.Raster.Height)
	} else {
		factory := o.factory
		if factory == nil {
			factory = seriallink.NewRealPortFactory()
		}
		st.link, err = seriallink.Open(factory, cfg.Serial.Port, seriallink.OptionsFromConfig(cfg.Serial), cfg.Serial.GetOpenSettle())
		if err != nil {
			return nil, err
		}
	}

	dec, err := imaging.NewDecoder(cfg.Raster)
	if err != nil {
		return nil, err
	}
	st.cls, err = classifier.Open(cfg.Classifier)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}

	var sinks []pipeline.Sink
	if cfg.Output.DBPath != "" {
		if st.db, err = db.NewDB(cfg.Output.DBPath); err != nil {
			return nil, fmt.Errorf("capture database: %w", err)
		}
		sinks = append(sinks, st.db)
	}
	if cfg.Output.CaptureLogDir != "" {
		if st.log, err = capturelog.NewWriter(st.fs, cfg.Output.CaptureLogDir, o.clock); err != nil {
			return nil, fmt.Errorf("capture log: %w", err)
		}
		log.Printf("logging captures to %s", st.log.Name())
		sinks = append(sinks, st.log)
	}

	st.hub = api.NewHub(cfg)
	sinks = append(sinks, st.hub)

	popts := []pipeline.Option{pipeline.WithSinks(sinks...), pipeline.WithFileSystem(st.fs)}
	if o.clock != nil {
		popts = append(popts, pipeline.WithClock(o.clock))
	}
	st.session, err = pipeline.NewSession(cfg, st.link, dec, st.cls, popts...)
	if err != nil {
		return nil, err
	}

	aopts := []api.Option{api.WithHub(st.hub), api.WithFileSystem(st.fs)}
	if st.db != nil {
		aopts = append(aopts, api.WithStore(st.db))
	}
	st.api = api.NewServer(st.session, aopts...)
	st.session.AddSink(st.api)
	return st, nil
}

func (st *station) Close() {
	if st.hub != nil {
		_ = st.hub.Close()
	}
	if st.log != nil {
		if err := st.log.Close(); err != nil {
			log.Printf("capture log close: %v", err)
		}
	}
	if st.db != nil {
		_ = st.db.Close()
	}
	if st.cls != nil {
		_ = classifier.Close(st.cls)
	}
	if st.link != nil {
		_ = st.link.Close()
	}
}
