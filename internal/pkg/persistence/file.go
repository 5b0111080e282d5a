package persistence

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gethiox/midmx/internal/pkg/scene"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type codec struct {
	marshal   func(v interface{}) ([]byte, error)
	unmarshal func(data []byte, v interface{}) error
	// top level arrays are not representable in toml
	wrapScenes bool
}

var codecs = map[string]codec{
	".yaml": {marshal: yaml.Marshal, unmarshal: yaml.Unmarshal},
	".yml":  {marshal: yaml.Marshal, unmarshal: yaml.Unmarshal},
	".toml": {marshal: toml.Marshal, unmarshal: toml.Unmarshal, wrapScenes: true},
	".json": {
		marshal: func(v interface{}) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		},
		unmarshal: json.Unmarshal,
	},
}

func codecFor(path string) (codec, error) {
	ext := strings.ToLower(filepath.Ext(path))
	c, ok := codecs[ext]
	if !ok {
		return codec{}, fmt.Errorf("unsupported document extension %q (%s)", ext, path)
	}
	return c, nil
}

type scenesDocument struct {
	Scenes []scene.Scene `json:"scenes" yaml:"scenes" toml:"scenes"`
}

// FileGateway keeps both documents as files, the format is picked by file extension.
type FileGateway struct {
	configPath, scenesPath string
	configCodec            codec
	scenesCodec            codec

	mutex  sync.Mutex
	hashes map[string][sha256.Size]byte // content last read or written by the gateway
}

func NewFileGateway(configPath, scenesPath string) (*FileGateway, error) {
	cc, err := codecFor(configPath)
	if err != nil {
		return nil, err
	}
	sc, err := codecFor(scenesPath)
	if err != nil {
		return nil, err
	}
	configPath, err = filepath.Abs(configPath)
	if err != nil {
		return nil, err
	}
	scenesPath, err = filepath.Abs(scenesPath)
	if err != nil {
		return nil, err
	}
	return &FileGateway{
		configPath:  configPath,
		scenesPath:  scenesPath,
		configCodec: cc,
		scenesCodec: sc,
		hashes:      make(map[string][sha256.Size]byte),
	}, nil
}

func (g *FileGateway) ConfigPath() string { return g.configPath }
func (g *FileGateway) ScenesPath() string { return g.scenesPath }

func (g *FileGateway) LoadConfig() (Config, error) {
	data, err := g.read(g.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return defaultConfig(), nil
	}
	if err != nil {
		return defaultConfig(), wrap("read", g.configPath, err)
	}

	var c = defaultConfig()
	if len(bytes.TrimSpace(data)) == 0 {
		return c, nil
	}
	if err := g.configCodec.unmarshal(data, &c); err != nil {
		return defaultConfig(), wrap("decode", g.configPath, err)
	}
	if c.Mappings == nil {
		c.Mappings = defaultConfig().Mappings
	}
	return c, nil
}

func (g *FileGateway) SaveConfig(c Config) error {
	data, err := g.configCodec.marshal(c)
	if err != nil {
		return wrap("encode", g.configPath, err)
	}
	return g.write(g.configPath, data)
}

func (g *FileGateway) LoadScenes() ([]scene.Scene, error) {
	data, err := g.read(g.scenesPath)
	if errors.Is(err, fs.ErrNotExist) {
		return []scene.Scene{}, nil
	}
	if err != nil {
		return []scene.Scene{}, wrap("read", g.scenesPath, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []scene.Scene{}, nil
	}

	var scenes []scene.Scene
	if g.scenesCodec.wrapScenes {
		var doc scenesDocument
		err = g.scenesCodec.unmarshal(data, &doc)
		scenes = doc.Scenes
	} else {
		err = g.scenesCodec.unmarshal(data, &scenes)
	}
	if err != nil {
		return []scene.Scene{}, wrap("decode", g.scenesPath, err)
	}
	if scenes == nil {
		scenes = []scene.Scene{}
	}
	return scenes, nil
}

func (g *FileGateway) SaveScenes(scenes []scene.Scene) error {
	if scenes == nil {
		scenes = []scene.Scene{}
	}
	var doc interface{} = scenes
	if g.scenesCodec.wrapScenes {
		doc = scenesDocument{Scenes: scenes}
	}
	data, err := g.scenesCodec.marshal(doc)
	if err != nil {
		return wrap("encode", g.scenesPath, err)
	}
	return g.write(g.scenesPath, data)
}

// Modified reports whether file content differs from what the gateway last read or wrote.
func (g *FileGateway) Modified(path string) bool {
	path, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	g.mutex.Lock()
	defer g.mutex.Unlock()
	last, ok := g.hashes[path]
	return !ok || last != sha256.Sum256(data)
}

func (g *FileGateway) read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	g.remember(path, data)
	return data, nil
}

// write replaces the file atomically with a temporary file and rename.
func (g *FileGateway) write(path string, data []byte) error {
	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return wrap("create directory", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return wrap("create", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return wrap("write", path, err)
	}

	// remembered before rename so watcher never sees unknown content
	g.remember(path, data)
	err = os.Rename(tmpName, path)
	if err != nil {
		return wrap("rename", path, err)
	}
	return nil
}

func (g *FileGateway) remember(path string, data []byte) {
	g.mutex.Lock()
	g.hashes[path] = sha256.Sum256(data)
	g.mutex.Unlock()
}
