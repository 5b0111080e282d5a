package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gethiox/midmx/internal/pkg/api"
	"github.com/gethiox/midmx/internal/pkg/dmx"
	"github.com/gethiox/midmx/internal/pkg/logger"
	"github.com/gethiox/midmx/internal/pkg/midi"
	"github.com/gethiox/midmx/internal/pkg/midi/driver"
	"github.com/gethiox/midmx/internal/pkg/persistence"
	"github.com/gethiox/midmx/internal/pkg/server"
	"github.com/logrusorgru/aurora"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // autoregisters driver
	"go.uber.org/zap"
)

var log = logger.GetLogger()

var (
	configPath = flag.String("config", configDir+"/midmx.config", "path to daemon configuration")
	profile    = flag.Bool("profile", false, "runs web server for performance profiling (go tool pprof)")
	nocolor    = flag.Bool("nocolor", false, "disable color")
	silent     = flag.Bool("silent", false, "no output logging")
	logLevel   = flag.Int("loglevel", logger.ActionLvl,
		"logging level, each level enables additional information class (default: 3)\n"+
			"\navailable options:\n"+
			"0: errors\n"+
			"1: warnings\n"+
			"2: general info (eg. midi input appearance)\n"+
			"3: actions (learn sessions, scene loads)\n"+
			"4: routed midi messages\n"+
			"5: dmx channel writes\n"+
			"378: debug",
	)
)

func handleSigs(wg *sync.WaitGroup, sigs <-chan os.Signal, cancel func(), profileServer *http.Server, status func()) {
	defer wg.Done()
	var counter int
	for sig := range sigs {
		if sig == syscall.SIGUSR1 {
			status()
			continue
		}
		if counter > 0 {
			fmt.Println("Dirty exit")
			os.Exit(1)
		}
		log.Info(fmt.Sprintf("signal received: %v", sig), logger.Debug)
		cancel()
		if profileServer != nil {
			err := profileServer.Close()
			if err != nil {
				log.Info(fmt.Sprintf("failed to close server: %v", err), logger.Warning)
			}
		}
		counter++
	}
}

func runProfileServer(wg *sync.WaitGroup) *http.Server {
	var srv *http.Server
	if *profile {
		addr := "0.0.0.0:8080"
		log.Info(fmt.Sprintf("profiling enabled and hosted on %s", addr), logger.Info)
		srv = &http.Server{Addr: addr, Handler: nil}
		wg.Add(1)
		go func() {
			log.Info(fmt.Sprintf("profiling server exited: %v", srv.ListenAndServe()), logger.Info)
			wg.Done()
		}()
	}
	return srv
}

func newGateway(cfg Storage) (persistence.Gateway, error) {
	if cfg.Backend == "memory" {
		log.Info("documents are kept in memory only", logger.Warning)
		return persistence.NewMemoryGateway(), nil
	}
	return persistence.NewFileGateway(cfg.ConfigFile, cfg.ScenesFile)
}

func main() {
	flag.Parse()

	consoleDone := make(chan struct{})
	stdout := int(os.Stdout.Fd())
	c := console{
		out:      os.Stdout,
		au:       aurora.NewAurora(!*nocolor),
		logLevel: *logLevel,
		width:    func() int { return terminalWidth(stdout) },
	}
	go c.printLogs(consoleDone, logger.Messages, *silent)

	code := run()

	close(logger.Messages)
	<-consoleDone
	os.Exit(code)
}

func run() int {
	err := createConfigDirectoryIfNeeded()
	if err != nil {
		log.Info(fmt.Sprintf("config tree generation failed: %s", err), logger.Error)
		return 1
	}

	cfg, err := LoadMIDMXConfig(*configPath)
	if err != nil {
		log.Info(fmt.Sprintf("cannot load config: %s", err), zap.String("path", *configPath), logger.Error)
		return 1
	}
	log.Info(fmt.Sprintf("MIDMX config: %+v", cfg), logger.Debug)

	gateway, err := newGateway(cfg.Storage)
	if err != nil {
		log.Info(fmt.Sprintf("cannot prepare storage: %s", err), logger.Error)
		return 1
	}

	var sigs = make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// this wait-group has to be propagated everywhere where usual logging appear
	wg := sync.WaitGroup{}

	profileServer := runProfileServer(&wg)

	sink := dmx.NewArtNetSink(cfg.ArtNet)
	srv := server.New(gateway, sink, server.Options{
		ArtNet:       cfg.ArtNet,
		LearnTimeout: cfg.MIDMX.LearnTimeout,
	})

	err = srv.Load()
	if err != nil {
		log.Info(fmt.Sprintf("stored state not fully loaded: %s", err), logger.Warning)
	}
	err = srv.OpenOutput()
	if err != nil {
		log.Info(fmt.Sprintf("ArtNet output unavailable: %s", err), logger.Warning)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sink.Run(ctx)
	}()

	var events = make(chan midi.Event, cfg.MIDMX.EventBuffer)
	monitor := driver.NewMonitor(events, cfg.MIDMX.DiscoveryRate, cfg.MIDMX.IgnorePorts)

	au := aurora.NewAurora(!*nocolor)
	status := func() {
		if !*silent {
			fmt.Println(overview(au, monitor.Ports(), srv.Mappings(), srv.LearnState()))
		}
	}
	wg.Add(1)
	go handleSigs(&wg, sigs, cancel, profileServer, status)

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()

	if files, ok := gateway.(*persistence.FileGateway); ok && cfg.Storage.Watch {
		changes, err := persistence.Watch(ctx, files.ConfigPath(), files.ScenesPath())
		if err != nil {
			log.Info(fmt.Sprintf("documents will not be reloaded: %s", err), logger.Warning)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				srv.WatchDocuments(ctx, changes)
			}()
		}
	}

	if cfg.HTTP.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := api.New(srv).Serve(ctx, cfg.HTTP.Address)
			if err != nil {
				log.Info(fmt.Sprintf("http server failed: %s", err), logger.Error)
			}
		}()
	}

	srv.Run(ctx, events)

	cancel()
	signal.Stop(sigs)
	close(sigs)
	wg.Wait()

	err = srv.Close()
	if err != nil {
		log.Info(fmt.Sprintf("shutdown finished with errors: %s", err), logger.Warning)
		return 1
	}
	log.Info("bye", logger.Info)
	return 0
}
