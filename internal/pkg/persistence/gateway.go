package persistence

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/gethiox/midmx/internal/pkg/dmx"
	"github.com/gethiox/midmx/internal/pkg/logger"
	"github.com/gethiox/midmx/internal/pkg/mapping"
	"github.com/gethiox/midmx/internal/pkg/scene"
)

var log = logger.GetLogger()

var ErrPersistence = errors.New("persistence failure")

// Gateway loads and saves the configuration document and the scenes document.
// A missing backing store yields empty defaults, not an error.
type Gateway interface {
	LoadConfig() (Config, error)
	SaveConfig(Config) error
	LoadScenes() ([]scene.Scene, error)
	SaveScenes([]scene.Scene) error
}

// Config is the configuration document. Mapping keys are decimal DMX channel indexes.
type Config struct {
	ArtNet   dmx.ArtNetConfig           `json:"artnet" yaml:"artnet" toml:"artnet"`
	Mappings map[string]mapping.Binding `json:"mappings" yaml:"mappings" toml:"mappings"`
}

func NewConfig(artnet dmx.ArtNetConfig, table map[int]mapping.Binding) Config {
	var c = Config{ArtNet: artnet, Mappings: make(map[string]mapping.Binding, len(table))}
	for ch, b := range table {
		c.Mappings[strconv.Itoa(ch)] = b
	}
	return c
}

// Table converts document mappings into a mapping table content.
// Entries with a key that is not a channel index or with an invalid binding are skipped and returned as rejected.
func (c Config) Table() (table map[int]mapping.Binding, rejected []string) {
	table = make(map[int]mapping.Binding, len(c.Mappings))
	for key, b := range c.Mappings {
		ch, err := strconv.Atoi(key)
		if err != nil || dmx.ValidChannel(ch) != nil || b.Validate() != nil {
			rejected = append(rejected, key)
			continue
		}
		table[ch] = b
	}
	sort.Strings(rejected)
	return table, rejected
}

func defaultConfig() Config {
	return Config{Mappings: map[string]mapping.Binding{}}
}

func wrap(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %s", ErrPersistence, op, path, err)
}
