package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gethiox/midmx/internal/pkg/dmx"
	"github.com/gethiox/midmx/internal/pkg/learn"
	"github.com/gethiox/midmx/internal/pkg/logger"
	"github.com/gethiox/midmx/internal/pkg/mapping"
	"github.com/gethiox/midmx/internal/pkg/midi"
	"github.com/gethiox/midmx/internal/pkg/notify"
	"github.com/gethiox/midmx/internal/pkg/persistence"
	"github.com/gethiox/midmx/internal/pkg/router"
	"github.com/gethiox/midmx/internal/pkg/scene"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

var ErrInvalidValue = errors.New("invalid channel value")

// Sink is a DMX sink that can be pointed at another ArtNet node.
type Sink interface {
	dmx.Sink
	Reconfigure(cfg dmx.ArtNetConfig) error
}

type Options struct {
	// ArtNet is used when the configuration document has no ArtNet host.
	ArtNet       dmx.ArtNetConfig
	LearnTimeout time.Duration
	Clock        func() time.Time
	HubBuffer    int
}

// Server is the application context, it owns every piece of mutable state.
type Server struct {
	universe *dmx.Universe
	output   *dmx.Output
	sink     Sink
	table    *mapping.Table
	scenes   *scene.Store
	engine   *learn.Engine
	router   *router.Router
	hub      *notify.Hub
	gateway  persistence.Gateway
	writer   *persistence.Writer
	now      func() time.Time

	injected chan midi.Event

	mutex  sync.Mutex
	artnet dmx.ArtNetConfig
}

func New(gateway persistence.Gateway, sink Sink, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.HubBuffer < 1 {
		opts.HubBuffer = 64
	}

	s := &Server{
		universe: dmx.NewUniverse(),
		sink:     sink,
		table:    mapping.NewTable(),
		scenes:   scene.NewStore(),
		hub:      notify.NewHub(opts.HubBuffer),
		gateway:  gateway,
		writer:   persistence.NewWriter(gateway),
		now:      opts.Clock,
		injected: make(chan midi.Event, 16),
		artnet:   opts.ArtNet,
	}
	s.output = dmx.NewOutput(s.universe, sink, s.hub)

	var learnOpts = []learn.Option{learn.WithClock(opts.Clock)}
	if opts.LearnTimeout > 0 {
		learnOpts = append(learnOpts, learn.WithTimeout(opts.LearnTimeout))
	}
	s.engine = learn.NewEngine(s.table, s.scenes, s.hub, s, learnOpts...)
	s.router = router.NewRouter(s.engine, s.table, s.scenes, s.hub, s.output, s)
	return s
}

func (s *Server) Hub() *notify.Hub {
	return s.hub
}

// Load reads both documents and replaces in-memory state with their content.
// A document that cannot be read leaves the corresponding state untouched.
func (s *Server) Load() error {
	return multierr.Append(s.loadConfig(), s.loadScenes())
}

func (s *Server) loadConfig() error {
	c, err := s.gateway.LoadConfig()
	if err != nil {
		return err
	}
	table, rejected := c.Table()
	if len(rejected) > 0 {
		log.Info(fmt.Sprintf("skipped %d invalid mappings", len(rejected)), zap.Strings("keys", rejected), logger.Warning)
	}
	s.table.Replace(table)

	if c.ArtNet.Host != "" {
		s.mutex.Lock()
		s.artnet = c.ArtNet
		s.mutex.Unlock()
	}
	log.Info("configuration loaded", zap.Int("mappings", len(table)), logger.Info)
	s.hub.Broadcast(notify.MidiMappingUpdate, s.table.Snapshot())
	return nil
}

func (s *Server) loadScenes() error {
	scenes, err := s.gateway.LoadScenes()
	if err != nil {
		return err
	}
	err = s.scenes.Replace(scenes)
	if err != nil {
		return fmt.Errorf("scenes document rejected: %w", err)
	}
	log.Info("scenes loaded", zap.Int("scenes", len(scenes)), logger.Info)
	s.hub.Broadcast(notify.ScenesUpdate, s.scenes.All())
	return nil
}

// OpenOutput points the sink at configured ArtNet node.
func (s *Server) OpenOutput() error {
	err := s.sink.Reconfigure(s.ArtNet())
	if err != nil {
		return err
	}
	s.output.Resync()
	return nil
}

// Run processes midi events one at a time until context is done or events channel is closed.
// Synthetic events injected by clients share the same loop.
func (s *Server) Run(ctx context.Context, events <-chan midi.Event) {
	writerCtx, stopWriter := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writer.Run(writerCtx)
	}()

root:
	for {
		select {
		case <-ctx.Done():
			break root
		case ev, ok := <-events:
			if !ok {
				break root
			}
			s.dispatch(ev)
		case ev := <-s.injected:
			s.dispatch(ev)
		}
	}
	stopWriter()
	wg.Wait()
	log.Info("event loop stopped", logger.Debug)
}

func (s *Server) dispatch(ev midi.Event) {
	if ev.Message == nil {
		log.Info("event without message dropped", zap.String("source", ev.Source), logger.Warning)
		return
	}
	s.router.Dispatch(ev)
}

// WatchDocuments reloads documents changed by someone else than this process.
func (s *Server) WatchDocuments(ctx context.Context, changes <-chan string) {
	files, ok := s.gateway.(*persistence.FileGateway)
	if !ok {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-changes:
			if !ok {
				return
			}
			if !files.Modified(path) {
				continue
			}
			var err error
			switch path {
			case files.ConfigPath():
				err = s.loadConfig()
				if err == nil {
					err = s.OpenOutput()
				}
			case files.ScenesPath():
				err = s.loadScenes()
			default:
				continue
			}
			if err != nil {
				log.Info(fmt.Sprintf("reloading %s failed: %s", path, err), logger.Warning)
			} else {
				log.Info("document reloaded after external change", zap.String("path", path), logger.Info)
			}
		}
	}
}

// PersistMappings schedules saving of configuration document.
func (s *Server) PersistMappings() {
	s.writer.ConfigChanged(func() persistence.Config {
		return persistence.NewConfig(s.ArtNet(), s.table.Snapshot())
	})
}

// PersistScenes schedules saving of scenes document.
func (s *Server) PersistScenes() {
	s.writer.ScenesChanged(s.scenes.All)
}

// Flush writes pending documents synchronously.
func (s *Server) Flush() error {
	return s.writer.Flush()
}

func (s *Server) Close() error {
	s.engine.Close()
	err := multierr.Combine(
		s.writer.Flush(),
		s.sink.Close(),
	)
	s.hub.Close()
	return err
}
