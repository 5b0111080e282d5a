package learn

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gethiox/midmx/internal/pkg/dmx"
	"github.com/gethiox/midmx/internal/pkg/logger"
	"github.com/gethiox/midmx/internal/pkg/mapping"
	"github.com/gethiox/midmx/internal/pkg/midi"
	"github.com/gethiox/midmx/internal/pkg/notify"
	"github.com/gethiox/midmx/internal/pkg/scene"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

var ErrInvalidTarget = errors.New("invalid learn target")

const DefaultTimeout = 30 * time.Second

// Persister schedules saving of documents changed by a learned binding.
type Persister interface {
	PersistMappings()
	PersistScenes()
}

type Option func(e *Engine)

func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithClock replaces clock used for deadline checks during capture.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine runs two independent learn tracks, one for DMX channels and one for scenes.
// Capture and every state transition happen under a single lock, so one event completes at most one session.
type Engine struct {
	table     *mapping.Table
	scenes    *scene.Store
	notifier  notify.Notifier
	persister Persister
	timeout   time.Duration
	now       func() time.Time

	mutex    sync.Mutex
	sessions [2]*Session
}

func NewEngine(table *mapping.Table, scenes *scene.Store, notifier notify.Notifier, persister Persister, opts ...Option) *Engine {
	e := &Engine{
		table:     table,
		scenes:    scenes,
		notifier:  notifier,
		persister: persister,
		timeout:   DefaultTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Timeout() time.Duration {
	return e.timeout
}

// StartLearn begins listening for a binding of given DMX channel, previous channel session is cancelled.
func (e *Engine) StartLearn(channel int) (Session, error) {
	if err := dmx.ValidChannel(channel); err != nil {
		return Session{}, fmt.Errorf("%w: %s", ErrInvalidTarget, err)
	}
	return e.start(Session{Kind: ChannelKind, Channel: &channel}), nil
}

// StartSceneLearn begins listening for a binding of an existing scene, previous scene session is cancelled.
func (e *Engine) StartSceneLearn(name string) (Session, error) {
	if _, err := e.scenes.Get(name); err != nil {
		return Session{}, fmt.Errorf("%w: %s", ErrInvalidTarget, err)
	}
	return e.start(Session{Kind: SceneKind, Scene: name}), nil
}

func (e *Engine) start(s Session) Session {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.cancelLocked(s.Kind)

	s.ID = uuid.New()
	s.Started = e.now()
	s.Deadline = s.Started.Add(e.timeout)
	kind, id := s.Kind, s.ID
	s.timer = time.AfterFunc(e.timeout, func() {
		e.expire(kind, id)
	})
	e.sessions[kind] = &s

	log.Info(fmt.Sprintf("learn started for %s", s.Target()), zap.String("session", s.ID.String()), logger.Action)
	e.notifier.Broadcast(notify.MidiLearnStarted, s)
	return s
}

// CancelLearn ends channel session, it reports whether one was active.
func (e *Engine) CancelLearn() bool {
	return e.cancel(ChannelKind)
}

// CancelSceneLearn ends scene session, it reports whether one was active.
func (e *Engine) CancelSceneLearn() bool {
	return e.cancel(SceneKind)
}

func (e *Engine) cancel(kind Kind) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.cancelLocked(kind)
}

func (e *Engine) cancelLocked(kind Kind) bool {
	s := e.sessions[kind]
	if s == nil {
		return false
	}
	s.stop()
	e.sessions[kind] = nil

	log.Info(fmt.Sprintf("learn cancelled for %s", s.Target()), zap.String("session", s.ID.String()), logger.Action)
	e.notifier.Broadcast(notify.MidiLearnCancelled, *s)
	return true
}

// expire is called by session timer.
func (e *Engine) expire(kind Kind, id uuid.UUID) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	s := e.sessions[kind]
	if s == nil || s.ID != id {
		return
	}
	e.timeoutLocked(s)
}

func (e *Engine) timeoutLocked(s *Session) {
	s.stop()
	e.sessions[s.Kind] = nil
	log.Info(fmt.Sprintf("learn timed out for %s", s.Target()), zap.String("session", s.ID.String()), logger.Action)
	e.notifier.Broadcast(notify.MidiLearnTimeout, *s)
}

// Listening reports whether any session is active.
func (e *Engine) Listening() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.sessions[ChannelKind] != nil || e.sessions[SceneKind] != nil
}

// Active returns copy of the session of given kind.
func (e *Engine) Active(kind Kind) (Session, bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	s := e.sessions[kind]
	if s == nil {
		return Session{}, false
	}
	return *s, true
}

// Capture offers an event to active sessions and reports whether the event was consumed.
// Only note on and control change qualify. Channel session takes the event when both are active.
// A session past its deadline times out here and does not consume the event.
func (e *Engine) Capture(ev midi.Event) bool {
	var b mapping.Binding
	switch m := ev.Message.(type) {
	case midi.NoteOn:
		b = mapping.NoteBinding(m.Channel, m.Note)
	case midi.ControlChange:
		b = mapping.ControllerBinding(m.Channel, m.Controller)
	default:
		return false
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	now := e.now()
	for _, kind := range []Kind{ChannelKind, SceneKind} {
		s := e.sessions[kind]
		if s == nil {
			continue
		}
		if !now.Before(s.Deadline) {
			e.timeoutLocked(s)
			continue
		}

		s.stop()
		e.sessions[kind] = nil
		if kind == ChannelKind {
			e.commitChannel(s, b, ev.Source)
		} else {
			e.commitScene(s, b, ev.Source)
		}
		return true
	}
	return false
}

func (e *Engine) commitChannel(s *Session, b mapping.Binding, source string) {
	channel := *s.Channel
	err := e.table.Set(channel, b)
	if err != nil {
		log.Info(fmt.Sprintf("learned binding rejected: %s", err), zap.Int("channel", channel), logger.Warning)
		return
	}
	e.persister.PersistMappings()

	log.Info(fmt.Sprintf("learned %s for channel %d", b, channel),
		zap.Int("channel", channel), zap.String("source", source), logger.Action)
	e.notifier.Broadcast(notify.MidiLearnComplete, Complete{Channel: channel, Mapping: b})
	e.notifier.Broadcast(notify.MidiMappingUpdate, e.table.Snapshot())
}

func (e *Engine) commitScene(s *Session, b mapping.Binding, source string) {
	err := e.scenes.SetMidiMapping(s.Scene, b)
	if err != nil {
		log.Info(fmt.Sprintf("learned binding discarded: %s", err), zap.String("scene", s.Scene), logger.Warning)
		return
	}
	e.persister.PersistScenes()

	log.Info(fmt.Sprintf("learned %s for scene %q", b, s.Scene),
		zap.String("scene", s.Scene), zap.String("source", source), logger.Action)
	e.notifier.Broadcast(notify.SceneMidiMappingLearned, SceneLearned{Scene: s.Scene, Mapping: b})
}

// Close stops all sessions without notifications.
func (e *Engine) Close() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	for kind, s := range e.sessions {
		if s != nil {
			s.stop()
			e.sessions[kind] = nil
		}
	}
}
