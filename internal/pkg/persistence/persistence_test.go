package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gethiox/midmx/internal/pkg/dmx"
	"github.com/gethiox/midmx/internal/pkg/logger"
	"github.com/gethiox/midmx/internal/pkg/mapping"
	"github.com/gethiox/midmx/internal/pkg/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.Discard()
	os.Exit(m.Run())
}

func sampleTable() map[int]mapping.Binding {
	return map[int]mapping.Binding{
		0:   mapping.ControllerBinding(0, 0),
		5:   mapping.ControllerBinding(1, 7),
		6:   mapping.ControllerBinding(1, 7),
		511: mapping.NoteBinding(15, 127),
	}
}

func sampleScenes() []scene.Scene {
	b := mapping.NoteBinding(2, 60)
	return []scene.Scene{
		{Name: "Sunrise", ChannelValues: []int{0, 128, 255}, OSCAddress: "/scene/sunrise"},
		{Name: "Sunset", ChannelValues: []int{10}, MidiMapping: &b},
	}
}

func assertSameTable(t *testing.T, expected, actual map[int]mapping.Binding) {
	require.Len(t, actual, len(expected))
	for ch, b := range expected {
		got, ok := actual[ch]
		require.True(t, ok, "channel %d missing", ch)
		assert.True(t, b.Equal(got), "channel %d: expected %s, got %s", ch, b, got)
	}
}

func TestFileGatewayRoundTrip(t *testing.T) {
	for i, ext := range []string{".yaml", ".yml", ".toml", ".json"} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			dir := t.TempDir()
			g, err := NewFileGateway(filepath.Join(dir, "config"+ext), filepath.Join(dir, "scenes"+ext))
			require.NoError(t, err)

			art := dmx.ArtNetConfig{Host: "10.0.0.2", Port: 6454, Universe: 3, RefreshRate: 2}
			require.NoError(t, g.SaveConfig(NewConfig(art, sampleTable())))
			require.NoError(t, g.SaveScenes(sampleScenes()))

			c, err := g.LoadConfig()
			require.NoError(t, err)
			assert.Equal(t, art, c.ArtNet)
			table, rejected := c.Table()
			assert.Empty(t, rejected)
			assertSameTable(t, sampleTable(), table)

			scenes, err := g.LoadScenes()
			require.NoError(t, err)
			assert.Equal(t, sampleScenes(), scenes)
		})
	}
}

func TestFileGatewayMissingFiles(t *testing.T) {
	dir := t.TempDir()
	g, err := NewFileGateway(filepath.Join(dir, "nested", "config.yaml"), filepath.Join(dir, "nested", "scenes.json"))
	require.NoError(t, err)

	c, err := g.LoadConfig()
	require.NoError(t, err)
	assert.NotNil(t, c.Mappings)
	assert.Empty(t, c.Mappings)

	scenes, err := g.LoadScenes()
	require.NoError(t, err)
	assert.Equal(t, []scene.Scene{}, scenes)

	// directories are created on first save
	require.NoError(t, g.SaveScenes(nil))
	scenes, err = g.LoadScenes()
	require.NoError(t, err)
	assert.Equal(t, []scene.Scene{}, scenes)
}

func TestFileGatewayErrors(t *testing.T) {
	_, err := NewFileGateway("config.ini", "scenes.json")
	assert.Error(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	g, err := NewFileGateway(path, filepath.Join(dir, "scenes.json"))
	require.NoError(t, err)
	_, err = g.LoadConfig()
	assert.True(t, errors.Is(err, ErrPersistence))
}

func TestFileGatewayModified(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	g, err := NewFileGateway(path, filepath.Join(dir, "scenes.yaml"))
	require.NoError(t, err)

	require.NoError(t, g.SaveConfig(NewConfig(dmx.ArtNetConfig{Host: "a"}, nil)))
	assert.False(t, g.Modified(path))

	require.NoError(t, os.WriteFile(path, []byte("mappings: {}\n"), 0644))
	assert.True(t, g.Modified(path))

	_, err = g.LoadConfig()
	require.NoError(t, err)
	assert.False(t, g.Modified(path))
}

func TestConfigTableRejects(t *testing.T) {
	c := Config{Mappings: map[string]mapping.Binding{
		"1":   mapping.ControllerBinding(0, 1),
		"512": mapping.ControllerBinding(0, 1),
		"x":   mapping.ControllerBinding(0, 1),
		"2":   {Channel: 0},
	}}
	table, rejected := c.Table()
	assert.Len(t, table, 1)
	assert.Equal(t, []string{"2", "512", "x"}, rejected)
}

func TestWriterCoalescesAndFlushes(t *testing.T) {
	g := NewMemoryGateway()
	w := NewWriter(g)

	w.ConfigChanged(func() Config { return NewConfig(dmx.ArtNetConfig{Host: "first"}, nil) })
	w.ConfigChanged(func() Config { return NewConfig(dmx.ArtNetConfig{Host: "second"}, sampleTable()) })
	w.ScenesChanged(sampleScenes)
	require.NoError(t, w.Flush())

	assert.Equal(t, 2, g.Saves)
	c, _ := g.LoadConfig()
	assert.Equal(t, "second", c.ArtNet.Host)
	scenes, _ := g.LoadScenes()
	assert.Equal(t, sampleScenes(), scenes)

	// nothing pending
	require.NoError(t, w.Flush())
	assert.Equal(t, 2, g.Saves)
}

func TestWriterReadsLatestStateAtFlush(t *testing.T) {
	g := NewMemoryGateway()
	w := NewWriter(g)

	var mutex sync.Mutex
	table := sampleTable()
	source := func() Config {
		mutex.Lock()
		defer mutex.Unlock()
		return NewConfig(dmx.ArtNetConfig{}, table)
	}

	// a clear marks the document after a learn did, the learn marker must not bring back its table
	w.ConfigChanged(source)
	mutex.Lock()
	table = map[int]mapping.Binding{}
	mutex.Unlock()
	w.ConfigChanged(source)
	require.NoError(t, w.Flush())

	c, err := g.LoadConfig()
	require.NoError(t, err)
	assert.Empty(t, c.Mappings)

	// change without a new mark is picked up by the next marked flush only
	mutex.Lock()
	table = map[int]mapping.Binding{3: mapping.ControllerBinding(0, 1)}
	mutex.Unlock()
	require.NoError(t, w.Flush())
	c, _ = g.LoadConfig()
	assert.Empty(t, c.Mappings)

	w.ConfigChanged(source)
	require.NoError(t, w.Flush())
	c, _ = g.LoadConfig()
	assert.Equal(t, map[string]mapping.Binding{"3": mapping.ControllerBinding(0, 1)}, c.Mappings)
}

func TestWriterFailureIsCounted(t *testing.T) {
	g := NewMemoryGateway()
	g.FailSave = errors.New("disk full")
	w := NewWriter(g)

	w.ScenesChanged(sampleScenes)
	err := w.Flush()
	assert.True(t, errors.Is(err, ErrPersistence))
	assert.Equal(t, 1, w.Failures())
}

func TestWriterRun(t *testing.T) {
	g := NewMemoryGateway()
	w := NewWriter(g)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	w.ScenesChanged(sampleScenes)
	cancel()
	<-done

	scenes, _ := g.LoadScenes()
	assert.Equal(t, sampleScenes(), scenes)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenes.yaml")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := Watch(ctx, path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0644))

	abs, _ := filepath.Abs(path)
	select {
	case got := <-changes:
		assert.Equal(t, abs, got)
	case <-time.After(5 * time.Second):
		t.Fatal("change not reported")
	}
}
