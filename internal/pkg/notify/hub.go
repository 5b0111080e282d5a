package notify

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Names of notifications emitted by the server.
const (
	MidiLearnStarted        = "midiLearnStarted"
	MidiLearnCancelled      = "midiLearnCancelled"
	MidiLearnComplete       = "midiLearnComplete"
	MidiLearnTimeout        = "midiLearnTimeout"
	MidiMappingUpdate       = "midiMappingUpdate"
	SceneMidiMappingLearned = "sceneMidiMappingLearned"
	DmxUpdate               = "dmxUpdate"
	SceneLoaded             = "sceneLoaded"
	SceneSaved              = "sceneSaved"
	SceneDeleted            = "sceneDeleted"
	ScenesUpdate            = "scenesUpdate"
	MidiMessage             = "midiMessage"
)

var ErrClosed = errors.New("hub is closed")

// Notifier is a fire-and-forget broadcast sink.
type Notifier interface {
	Broadcast(name string, payload interface{})
}

type Notification struct {
	Name    string      `json:"event"`
	Payload interface{} `json:"payload"`
	Time    time.Time   `json:"time"`
}

// Hub delivers every broadcast to all current subscribers.
// Delivery never blocks the caller: a subscriber with a full buffer misses the notification.
type Hub struct {
	size int

	mutex   sync.Mutex
	closed  bool
	nextID  int64
	outputs map[int64]chan Notification
	dropped map[int64]int
}

func NewHub(size int) *Hub {
	if size < 1 {
		size = 1
	}
	return &Hub{
		size:    size,
		outputs: make(map[int64]chan Notification),
		dropped: make(map[int64]int),
	}
}

func (h *Hub) Broadcast(name string, payload interface{}) {
	n := Notification{Name: name, Payload: payload, Time: time.Now()}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for id, o := range h.outputs {
		select {
		case o <- n:
		default:
			h.dropped[id]++
		}
	}
}

// Subscribe creates new output channel and its ID for later unsubscribing.
func (h *Hub) Subscribe() (int64, <-chan Notification, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return 0, nil, ErrClosed
	}

	id := h.nextID
	h.nextID++
	c := make(chan Notification, h.size)
	h.outputs[id] = c
	return id, c, nil
}

// Unsubscribe removes and closes output channel with given ID, it returns number of notifications
// the subscriber missed because of full buffer.
func (h *Hub) Unsubscribe(id int64) (int, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	c, ok := h.outputs[id]
	if !ok {
		return 0, fmt.Errorf("subscriber id %d not found", id)
	}
	close(c)
	delete(h.outputs, id)
	dropped := h.dropped[id]
	delete(h.dropped, id)
	return dropped, nil
}

func (h *Hub) Subscribers() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.outputs)
}

// Close closes all subscriber channels, subsequent broadcasts are no-ops.
func (h *Hub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for id, c := range h.outputs {
		close(c)
		delete(h.outputs, id)
	}
	h.closed = true
}
