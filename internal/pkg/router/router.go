package router

import (
	"fmt"

	"github.com/gethiox/midmx/internal/pkg/logger"
	"github.com/gethiox/midmx/internal/pkg/mapping"
	"github.com/gethiox/midmx/internal/pkg/midi"
	"github.com/gethiox/midmx/internal/pkg/notify"
	"github.com/gethiox/midmx/internal/pkg/scene"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// Learner takes events while a learn session is active.
type Learner interface {
	Capture(ev midi.Event) bool
}

type ChannelWriter interface {
	Set(index int, value uint8) error
}

type SceneLoader interface {
	LoadScene(name string) error
}

type Write struct {
	Channel int
	Value   uint8
}

// Result of routing a single event. Learned events never produce writes or loads.
type Result struct {
	Learned    bool
	Writes     []Write
	SceneLoads []string
}

// ScaleMidi maps midi value range 0-127 onto DMX range 0-255 rounding down.
func ScaleMidi(v uint8) uint8 {
	if v > 127 {
		v = 127
	}
	return uint8(int(v) * 255 / 127)
}

type Router struct {
	learner  Learner
	table    *mapping.Table
	scenes   *scene.Store
	notifier notify.Notifier
	output   ChannelWriter
	loader   SceneLoader
}

func NewRouter(learner Learner, table *mapping.Table, scenes *scene.Store, notifier notify.Notifier, output ChannelWriter, loader SceneLoader) *Router {
	return &Router{
		learner:  learner,
		table:    table,
		scenes:   scenes,
		notifier: notifier,
		output:   output,
		loader:   loader,
	}
}

// Route computes what given event does. Every event is broadcast first, learning then takes priority
// over control change fan-out and note on scene triggers. Other messages are routed nowhere.
func (r *Router) Route(ev midi.Event) Result {
	r.notifier.Broadcast(notify.MidiMessage, ev.Payload())

	if r.learner.Capture(ev) {
		log.Info(fmt.Sprintf("consumed by learn: %s", ev.Message), zap.String("source", ev.Source), logger.Midi)
		return Result{Learned: true}
	}

	var result Result
	switch m := ev.Message.(type) {
	case midi.ControlChange:
		value := ScaleMidi(m.Value)
		for _, ch := range r.table.MatchControl(m.Channel, m.Controller) {
			result.Writes = append(result.Writes, Write{Channel: ch, Value: value})
		}
	case midi.NoteOn:
		result.SceneLoads = r.scenes.MatchNote(m.Channel, m.Note)
		if len(result.SceneLoads) > 1 {
			log.Info(fmt.Sprintf("%d scenes share trigger %s", len(result.SceneLoads), mapping.NoteBinding(m.Channel, m.Note)),
				zap.Strings("scenes", result.SceneLoads), logger.Warning)
		}
	}

	log.Info(ev.Message.String(),
		zap.String("source", ev.Source),
		zap.Int("writes", len(result.Writes)),
		zap.Int("scenes", len(result.SceneLoads)),
		logger.Midi,
	)
	return result
}

// Dispatch routes event and applies the result. Failures are logged per write and per scene.
func (r *Router) Dispatch(ev midi.Event) Result {
	result := r.Route(ev)
	for _, w := range result.Writes {
		err := r.output.Set(w.Channel, w.Value)
		if err != nil {
			log.Info(fmt.Sprintf("channel write failed: %s", err), zap.Int("channel", w.Channel), logger.Warning)
		}
	}
	for _, name := range result.SceneLoads {
		err := r.loader.LoadScene(name)
		if err != nil {
			log.Info(fmt.Sprintf("scene trigger failed: %s", err), zap.String("scene", name), logger.Warning)
		}
	}
	return result
}
