package persistence

import (
	"sync"

	"github.com/gethiox/midmx/internal/pkg/mapping"
	"github.com/gethiox/midmx/internal/pkg/scene"
)

// MemoryGateway keeps documents in memory, state is lost with the process.
type MemoryGateway struct {
	mutex  sync.Mutex
	config *Config
	scenes []scene.Scene

	// FailSave makes every save fail, used to exercise error paths
	FailSave error
	Saves    int
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{}
}

func (g *MemoryGateway) LoadConfig() (Config, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.config == nil {
		return defaultConfig(), nil
	}
	return copyConfig(*g.config), nil
}

func (g *MemoryGateway) SaveConfig(c Config) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.Saves++
	if g.FailSave != nil {
		return wrap("save", "memory", g.FailSave)
	}
	c = copyConfig(c)
	g.config = &c
	return nil
}

func (g *MemoryGateway) LoadScenes() ([]scene.Scene, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return copyScenes(g.scenes), nil
}

func (g *MemoryGateway) SaveScenes(scenes []scene.Scene) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.Saves++
	if g.FailSave != nil {
		return wrap("save", "memory", g.FailSave)
	}
	g.scenes = copyScenes(scenes)
	return nil
}

func copyConfig(c Config) Config {
	var out = Config{ArtNet: c.ArtNet, Mappings: make(map[string]mapping.Binding, len(c.Mappings))}
	for k, v := range c.Mappings {
		out.Mappings[k] = v
	}
	return out
}

func copyScenes(scenes []scene.Scene) []scene.Scene {
	var out = make([]scene.Scene, len(scenes))
	for i, sc := range scenes {
		out[i] = sc
		out[i].ChannelValues = append([]int{}, sc.ChannelValues...)
		if sc.MidiMapping != nil {
			b := *sc.MidiMapping
			out[i].MidiMapping = &b
		}
	}
	return out
}
