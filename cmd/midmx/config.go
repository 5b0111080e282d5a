package main

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/gethiox/midmx/internal/pkg/dmx"
	"github.com/gethiox/midmx/internal/pkg/logger"
	"github.com/go-ini/ini"
)

type MIDMX struct {
	EventBuffer   int
	DiscoveryRate time.Duration
	LearnTimeout  time.Duration
	IgnorePorts   []string
}

type Storage struct {
	Backend    string
	ConfigFile string
	ScenesFile string
	Watch      bool
}

type HTTP struct {
	Enabled bool
	Address string
}

type MIDMXConfig struct {
	MIDMX   MIDMX
	Storage Storage
	ArtNet  dmx.ArtNetConfig
	HTTP    HTTP
}

func LoadMIDMXConfig(path string) (MIDMXConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MIDMXConfig{}, err
	}
	return parseMIDMXConfig(data)
}

func parseMIDMXConfig(data []byte) (MIDMXConfig, error) {
	cfg, err := ini.Load(data)
	if err != nil {
		return MIDMXConfig{}, fmt.Errorf("cannot parse config: %w", err)
	}

	var c MIDMXConfig

	// [midmx]
	midmx := cfg.Section("midmx")
	c.MIDMX.EventBuffer = midmx.Key("event_buffer").MustInt(64)
	if c.MIDMX.EventBuffer < 0 {
		return c, fmt.Errorf("event_buffer cannot be negative: %d", c.MIDMX.EventBuffer)
	}
	discoveryRate := midmx.Key("discovery_rate").MustInt(1)
	if discoveryRate < 1 {
		return c, fmt.Errorf("discovery_rate has to be positive: %d", discoveryRate)
	}
	c.MIDMX.DiscoveryRate = time.Second / time.Duration(discoveryRate)
	learnTimeout := midmx.Key("learn_timeout_ms").MustInt(30000)
	if learnTimeout < 1 {
		return c, fmt.Errorf("learn_timeout_ms has to be positive: %d", learnTimeout)
	}
	c.MIDMX.LearnTimeout = time.Millisecond * time.Duration(learnTimeout)
	for _, pattern := range midmx.Key("ignore_ports").Strings(",") {
		if pattern = strings.TrimSpace(pattern); pattern != "" {
			c.MIDMX.IgnorePorts = append(c.MIDMX.IgnorePorts, pattern)
		}
	}

	// [storage]
	storage := cfg.Section("storage")
	c.Storage.Backend = storage.Key("backend").In("file", []string{"file", "memory"})
	c.Storage.ConfigFile = storage.Key("config_file").MustString("midmx-config/config.yaml")
	c.Storage.ScenesFile = storage.Key("scenes_file").MustString("midmx-config/scenes.yaml")
	c.Storage.Watch = storage.Key("watch").MustBool(true)

	// [artnet]
	artnet := cfg.Section("artnet")
	c.ArtNet.Host = artnet.Key("host").MustString("255.255.255.255")
	c.ArtNet.Port = artnet.Key("port").MustInt(dmx.ArtNetPort)
	c.ArtNet.Universe = uint16(artnet.Key("universe").MustUint(0))
	c.ArtNet.RefreshRate = artnet.Key("refresh_rate").MustInt(1)
	if err := c.ArtNet.Validate(); err != nil {
		return c, err
	}

	// [http]
	httpSection := cfg.Section("http")
	c.HTTP.Enabled = httpSection.Key("enabled").MustBool(true)
	c.HTTP.Address = httpSection.Key("address").MustString("0.0.0.0:8000")

	return c, nil
}

//go:embed midmx-config/midmx.config
var templateConfig embed.FS

const configDir = "midmx-config"

// createConfigDirectoryIfNeeded generates config tree from template when missing,
// existing files are never touched.
func createConfigDirectoryIfNeeded() error {
	_, err := os.Stat(configDir)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cannot open config directory: %w", err)
	}
	log.Info("config not exist, generating tree...", logger.Info)

	err = fs.WalkDir(templateConfig, configDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			err := os.Mkdir(path, 0o777)
			if err != nil {
				return fmt.Errorf("cannot create \"%s\" directory: %w", path, err)
			}
			return nil
		}

		data, err := fs.ReadFile(templateConfig, path)
		if err != nil {
			return fmt.Errorf("cannot read \"%s\" template file: %w", path, err)
		}
		err = os.WriteFile(path, data, 0o666)
		if err != nil {
			return fmt.Errorf("cannot write data into \"%s\" file: %w", path, err)
		}

		log.Info(fmt.Sprintf("Created \"%s\" file", path), logger.Debug)
		return nil
	})
	if err != nil {
		return err
	}
	log.Info("config generation done", logger.Info)
	return nil
}
