package server

import (
	"context"
	"fmt"

	"github.com/gethiox/midmx/internal/pkg/dmx"
	"github.com/gethiox/midmx/internal/pkg/learn"
	"github.com/gethiox/midmx/internal/pkg/logger"
	"github.com/gethiox/midmx/internal/pkg/mapping"
	"github.com/gethiox/midmx/internal/pkg/midi"
	"github.com/gethiox/midmx/internal/pkg/notify"
	"github.com/gethiox/midmx/internal/pkg/scene"
	"go.uber.org/zap"
)

type SceneLoaded struct {
	Name          string `json:"name"`
	ChannelValues []int  `json:"channelValues"`
}

type SceneRef struct {
	Name string `json:"name"`
}

func (s *Server) StartLearn(channel int) (learn.Session, error) {
	return s.engine.StartLearn(channel)
}

func (s *Server) StartSceneLearn(name string) (learn.Session, error) {
	return s.engine.StartSceneLearn(name)
}

func (s *Server) CancelLearn() bool {
	return s.engine.CancelLearn()
}

func (s *Server) CancelSceneLearn() bool {
	return s.engine.CancelSceneLearn()
}

// LearnState returns active sessions.
func (s *Server) LearnState() []learn.Session {
	var sessions = []learn.Session{}
	for _, kind := range []learn.Kind{learn.ChannelKind, learn.SceneKind} {
		if session, ok := s.engine.Active(kind); ok {
			sessions = append(sessions, session)
		}
	}
	return sessions
}

func (s *Server) Mappings() map[int]mapping.Binding {
	return s.table.Snapshot()
}

// RemoveMapping forgets binding of given channel, it reports whether there was one.
func (s *Server) RemoveMapping(channel int) (bool, error) {
	if err := dmx.ValidChannel(channel); err != nil {
		return false, err
	}
	removed := s.table.Remove(channel)
	if removed {
		s.PersistMappings()
		s.hub.Broadcast(notify.MidiMappingUpdate, s.table.Snapshot())
		log.Info("mapping removed", zap.Int("channel", channel), logger.Action)
	}
	return removed, nil
}

// ClearMappings forgets every channel binding.
func (s *Server) ClearMappings() {
	s.table.Clear()
	s.PersistMappings()
	s.hub.Broadcast(notify.MidiMappingUpdate, s.table.Snapshot())
	log.Info("all mappings removed", logger.Action)
}

func (s *Server) SetChannel(channel, value int) error {
	if value < 0 || value > 255 {
		return fmt.Errorf("%w: %d out of range 0-255", ErrInvalidValue, value)
	}
	return s.output.Set(channel, uint8(value))
}

func (s *Server) Channels() []uint8 {
	return s.output.Snapshot()
}

func (s *Server) Blackout() {
	s.output.Blackout()
	log.Info("blackout", logger.Action)
}

// SaveScene stores given channel values under name, nil values capture current universe.
func (s *Server) SaveScene(name, oscAddress string, values interface{}) error {
	var normalized []int
	if values == nil {
		for _, v := range s.output.Snapshot() {
			normalized = append(normalized, int(v))
		}
	} else {
		var err error
		normalized, err = scene.Normalize(values)
		if err != nil {
			return err
		}
	}

	replaced, err := s.scenes.Save(name, oscAddress, normalized)
	if err != nil {
		return err
	}
	s.PersistScenes()
	log.Info(fmt.Sprintf("scene %q saved", name), zap.String("scene", name), zap.Bool("replaced", replaced), logger.Action)
	s.hub.Broadcast(notify.SceneSaved, SceneRef{Name: name})
	s.hub.Broadcast(notify.ScenesUpdate, s.scenes.All())
	return nil
}

// LoadScene writes scene values to the universe.
func (s *Server) LoadScene(name string) error {
	values, err := s.scenes.Load(name)
	if err != nil {
		return err
	}
	var levels = make([]uint8, len(values))
	for i, v := range values {
		levels[i] = uint8(v)
	}
	s.output.Apply(levels)

	log.Info(fmt.Sprintf("scene %q loaded", name), zap.String("scene", name), logger.Action)
	s.hub.Broadcast(notify.SceneLoaded, SceneLoaded{Name: name, ChannelValues: values})
	return nil
}

func (s *Server) DeleteScene(name string) error {
	if !s.scenes.Delete(name) {
		return fmt.Errorf("%w: %q", scene.ErrNotFound, name)
	}
	s.PersistScenes()
	log.Info(fmt.Sprintf("scene %q deleted", name), zap.String("scene", name), logger.Action)
	s.hub.Broadcast(notify.SceneDeleted, SceneRef{Name: name})
	s.hub.Broadcast(notify.ScenesUpdate, s.scenes.All())
	return nil
}

func (s *Server) Scenes() []scene.Scene {
	return s.scenes.All()
}

// ImportScenes replaces the whole scene collection.
func (s *Server) ImportScenes(scenes []scene.Scene) error {
	err := s.scenes.Replace(scenes)
	if err != nil {
		return err
	}
	s.PersistScenes()
	log.Info(fmt.Sprintf("%d scenes imported", len(scenes)), logger.Action)
	s.hub.Broadcast(notify.ScenesUpdate, s.scenes.All())
	return nil
}

func (s *Server) ArtNet() dmx.ArtNetConfig {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.artnet
}

// SetArtNet points output at another node and persists the setting.
func (s *Server) SetArtNet(cfg dmx.ArtNetConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mutex.Lock()
	s.artnet = cfg
	s.mutex.Unlock()

	s.PersistMappings()
	return s.OpenOutput()
}

// InjectSynthetic queues a client forwarded event into the event loop.
func (s *Server) InjectSynthetic(ctx context.Context, synthetic midi.Synthetic) error {
	ev, err := synthetic.Event(s.now())
	if err != nil {
		log.Info(fmt.Sprintf("synthetic event dropped: %s", err), zap.String("source", synthetic.Source), logger.Warning)
		return err
	}
	select {
	case s.injected <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
