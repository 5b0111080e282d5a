package learn

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gethiox/midmx/internal/pkg/logger"
	"github.com/gethiox/midmx/internal/pkg/mapping"
	"github.com/gethiox/midmx/internal/pkg/midi"
	"github.com/gethiox/midmx/internal/pkg/notify"
	"github.com/gethiox/midmx/internal/pkg/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.Discard()
	os.Exit(m.Run())
}

type notification struct {
	name    string
	payload interface{}
}

type recordingNotifier struct {
	mutex sync.Mutex
	sent  []notification
}

func (n *recordingNotifier) Broadcast(name string, payload interface{}) {
	n.mutex.Lock()
	n.sent = append(n.sent, notification{name: name, payload: payload})
	n.mutex.Unlock()
}

func (n *recordingNotifier) named(name string) []notification {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	var out []notification
	for _, s := range n.sent {
		if s.name == name {
			out = append(out, s)
		}
	}
	return out
}

type countingPersister struct {
	mutex            sync.Mutex
	mappings, scenes int
}

func (p *countingPersister) PersistMappings() {
	p.mutex.Lock()
	p.mappings++
	p.mutex.Unlock()
}

func (p *countingPersister) PersistScenes() {
	p.mutex.Lock()
	p.scenes++
	p.mutex.Unlock()
}

type fixture struct {
	engine    *Engine
	table     *mapping.Table
	scenes    *scene.Store
	notifier  *recordingNotifier
	persister *countingPersister
}

func newFixture(opts ...Option) fixture {
	f := fixture{
		table:     mapping.NewTable(),
		scenes:    scene.NewStore(),
		notifier:  &recordingNotifier{},
		persister: &countingPersister{},
	}
	f.engine = NewEngine(f.table, f.scenes, f.notifier, f.persister, opts...)
	return f
}

func cc(channel, controller, value uint8) midi.Event {
	return midi.Event{Source: "test", Message: midi.ControlChange{Channel: channel, Controller: controller, Value: value}}
}

func noteOn(channel, note uint8) midi.Event {
	return midi.Event{Source: "test", Message: midi.NoteOn{Channel: channel, Note: note, Velocity: 100}}
}

func TestStartLearnInvalidChannel(t *testing.T) {
	f := newFixture()
	for _, ch := range []int{-1, 512} {
		_, err := f.engine.StartLearn(ch)
		assert.True(t, errors.Is(err, ErrInvalidTarget))
	}
	assert.False(t, f.engine.Listening())
	assert.Empty(t, f.notifier.named(notify.MidiLearnStarted))
}

func TestRelearnCancelsPrevious(t *testing.T) {
	f := newFixture()
	defer f.engine.Close()

	first, err := f.engine.StartLearn(3)
	require.NoError(t, err)
	second, err := f.engine.StartLearn(3)
	require.NoError(t, err)

	cancelled := f.notifier.named(notify.MidiLearnCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, first.ID, cancelled[0].payload.(Session).ID)
	assert.Len(t, f.notifier.named(notify.MidiLearnStarted), 2)

	active, ok := f.engine.Active(ChannelKind)
	require.True(t, ok)
	assert.Equal(t, second.ID, active.ID)
}

func TestCancel(t *testing.T) {
	f := newFixture()
	assert.False(t, f.engine.CancelLearn())

	_, err := f.engine.StartLearn(1)
	require.NoError(t, err)
	assert.True(t, f.engine.CancelLearn())
	assert.False(t, f.engine.Listening())
	assert.Len(t, f.notifier.named(notify.MidiLearnCancelled), 1)

	assert.False(t, f.engine.Capture(cc(0, 1, 1)))
	assert.Equal(t, 0, f.table.Len())
}

func TestCaptureScenario(t *testing.T) {
	f := newFixture()
	_, err := f.engine.StartLearn(5)
	require.NoError(t, err)

	assert.True(t, f.engine.Capture(cc(1, 7, 100)))
	assert.False(t, f.engine.Listening())

	b, ok := f.table.Get(5)
	require.True(t, ok)
	assert.True(t, b.Equal(mapping.ControllerBinding(1, 7)))

	complete := f.notifier.named(notify.MidiLearnComplete)
	require.Len(t, complete, 1)
	payload := complete[0].payload.(Complete)
	assert.Equal(t, 5, payload.Channel)
	assert.True(t, payload.Mapping.Equal(mapping.ControllerBinding(1, 7)))
	assert.Len(t, f.notifier.named(notify.MidiMappingUpdate), 1)
	assert.Equal(t, 1, f.persister.mappings)
}

func TestCaptureIgnoresNonQualifying(t *testing.T) {
	f := newFixture()
	defer f.engine.Close()
	_, err := f.engine.StartLearn(5)
	require.NoError(t, err)

	for _, m := range []midi.Message{
		midi.NoteOff{Channel: 0, Note: 60},
		midi.Other{Type: "pitchbend"},
	} {
		assert.False(t, f.engine.Capture(midi.Event{Message: m}))
	}
	assert.True(t, f.engine.Listening())
	assert.Equal(t, 0, f.table.Len())
}

func TestExclusiveConsumption(t *testing.T) {
	f := newFixture()
	_, err := f.engine.StartLearn(2)
	require.NoError(t, err)

	assert.True(t, f.engine.Capture(cc(0, 10, 1)))
	assert.False(t, f.engine.Capture(cc(0, 11, 1)))

	b, _ := f.table.Get(2)
	assert.True(t, b.Equal(mapping.ControllerBinding(0, 10)))
	assert.Len(t, f.notifier.named(notify.MidiLearnComplete), 1)
}

func TestExclusiveConsumptionConcurrent(t *testing.T) {
	f := newFixture()
	_, err := f.engine.StartLearn(2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mutex sync.Mutex
	var consumed int
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if f.engine.Capture(cc(0, uint8(i), 1)) {
				mutex.Lock()
				consumed++
				mutex.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, consumed)
	assert.Equal(t, 1, f.table.Len())
	assert.Len(t, f.notifier.named(notify.MidiLearnComplete), 1)
}

func TestTimeoutFiresOnce(t *testing.T) {
	f := newFixture(WithTimeout(20 * time.Millisecond))
	_, err := f.engine.StartLearn(9)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(f.notifier.named(notify.MidiLearnTimeout)) > 0
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Len(t, f.notifier.named(notify.MidiLearnTimeout), 1)
	assert.False(t, f.engine.Listening())
	assert.False(t, f.engine.Capture(cc(0, 1, 1)))
}

func TestDeadlineBoundary(t *testing.T) {
	var now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var clock = func() time.Time { return now }

	f := newFixture(WithClock(clock))
	s, err := f.engine.StartLearn(1)
	require.NoError(t, err)
	now = s.Deadline.Add(-time.Millisecond)
	assert.True(t, f.engine.Capture(cc(0, 1, 1)))
	assert.Empty(t, f.notifier.named(notify.MidiLearnTimeout))

	s, err = f.engine.StartLearn(2)
	require.NoError(t, err)
	now = s.Deadline
	assert.False(t, f.engine.Capture(cc(0, 2, 1)))
	assert.Len(t, f.notifier.named(notify.MidiLearnTimeout), 1)
	_, ok := f.table.Get(2)
	assert.False(t, ok)
}

func TestStaleTimerIgnored(t *testing.T) {
	f := newFixture()
	defer f.engine.Close()

	first, err := f.engine.StartLearn(1)
	require.NoError(t, err)
	second, err := f.engine.StartLearn(1)
	require.NoError(t, err)

	f.engine.expire(ChannelKind, first.ID)
	active, ok := f.engine.Active(ChannelKind)
	require.True(t, ok)
	assert.Equal(t, second.ID, active.ID)
	assert.Empty(t, f.notifier.named(notify.MidiLearnTimeout))
}

func TestSceneLearn(t *testing.T) {
	f := newFixture()
	_, err := f.scenes.Save("Sunset", "", []int{1, 2, 3})
	require.NoError(t, err)

	_, err = f.engine.StartSceneLearn("missing")
	assert.True(t, errors.Is(err, ErrInvalidTarget))

	_, err = f.engine.StartSceneLearn("Sunset")
	require.NoError(t, err)
	assert.True(t, f.engine.Capture(noteOn(3, 64)))

	sc, err := f.scenes.Get("Sunset")
	require.NoError(t, err)
	require.NotNil(t, sc.MidiMapping)
	assert.True(t, sc.MidiMapping.Equal(mapping.NoteBinding(3, 64)))

	learned := f.notifier.named(notify.SceneMidiMappingLearned)
	require.Len(t, learned, 1)
	assert.Equal(t, "Sunset", learned[0].payload.(SceneLearned).Scene)
	assert.Equal(t, 1, f.persister.scenes)
	assert.Equal(t, 0, f.persister.mappings)
}

func TestSceneRemovedBeforeCommit(t *testing.T) {
	f := newFixture()
	_, err := f.scenes.Save("Sunset", "", nil)
	require.NoError(t, err)
	_, err = f.engine.StartSceneLearn("Sunset")
	require.NoError(t, err)
	f.scenes.Delete("Sunset")

	assert.True(t, f.engine.Capture(noteOn(0, 1)))
	assert.False(t, f.engine.Listening())
	assert.Empty(t, f.notifier.named(notify.SceneMidiMappingLearned))
	assert.Equal(t, 0, f.persister.scenes)
}

func TestChannelSessionTakesPriority(t *testing.T) {
	f := newFixture()
	_, err := f.scenes.Save("Night", "", nil)
	require.NoError(t, err)
	_, err = f.engine.StartSceneLearn("Night")
	require.NoError(t, err)
	_, err = f.engine.StartLearn(7)
	require.NoError(t, err)

	assert.True(t, f.engine.Capture(noteOn(0, 1)))
	_, ok := f.table.Get(7)
	assert.True(t, ok)
	_, ok = f.engine.Active(SceneKind)
	assert.True(t, ok)

	assert.True(t, f.engine.Capture(noteOn(0, 2)))
	sc, _ := f.scenes.Get("Night")
	require.NotNil(t, sc.MidiMapping)
	assert.True(t, sc.MidiMapping.Equal(mapping.NoteBinding(0, 2)))
	assert.False(t, f.engine.Listening())
}
