package driver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gethiox/midmx/internal/pkg/logger"
	"github.com/gethiox/midmx/internal/pkg/midi"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// Monitor keeps every available midi input open and forwards its messages, tagged with the port name,
// into a single events channel. All inputs are treated the same, there is no "default" device.
type Monitor struct {
	events        chan<- midi.Event
	discoveryRate time.Duration
	ignore        []string

	done  <-chan struct{}
	mutex sync.Mutex
	ports map[string]func() // port name: stop listening
}

func NewMonitor(events chan<- midi.Event, discoveryRate time.Duration, ignore []string) *Monitor {
	return &Monitor{
		events:        events,
		discoveryRate: discoveryRate,
		ignore:        ignore,
		ports:         make(map[string]func()),
	}
}

// Run polls available input ports until ctx is done, then closes all of them.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.discoveryRate)
	defer ticker.Stop()

	m.done = ctx.Done()
	m.scan()
root:
	for {
		select {
		case <-ctx.Done():
			break root
		case <-ticker.C:
			m.scan()
		}
	}

	m.mutex.Lock()
	for name, stop := range m.ports {
		stop()
		delete(m.ports, name)
		log.Info("MIDI input closed", zap.String("source", name), logger.Debug)
	}
	m.mutex.Unlock()
}

// Ports returns sorted names of currently open inputs.
func (m *Monitor) Ports() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var names = make([]string, 0, len(m.ports))
	for name := range m.ports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Monitor) ignored(name string) bool {
	for _, pattern := range m.ignore {
		if pattern != "" && strings.Contains(strings.ToLower(name), strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

func (m *Monitor) scan() {
	available := make(map[string]drivers.In)
	for _, in := range gomidi.GetInPorts() {
		if m.ignored(in.String()) {
			continue
		}
		available[in.String()] = in
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	for name, stop := range m.ports {
		if _, ok := available[name]; ok {
			continue
		}
		stop()
		delete(m.ports, name)
		log.Info("MIDI input disconnected", zap.String("source", name), logger.Info)
	}

	for name, in := range available {
		if _, ok := m.ports[name]; ok {
			continue
		}
		stop, err := m.listen(name, in)
		if err != nil {
			log.Info(fmt.Sprintf("failed to open MIDI input: %s", err), zap.String("source", name), logger.Warning)
			continue
		}
		m.ports[name] = stop
		log.Info("MIDI input connected", zap.String("source", name), logger.Info)
	}
}

func (m *Monitor) listen(name string, in drivers.In) (func(), error) {
	stop, err := gomidi.ListenTo(in, func(msg gomidi.Message, timestampms int32) {
		decoded, err := midi.Decode(msg)
		if err != nil {
			log.Info(fmt.Sprintf("dropping input event: %s", err), zap.String("source", name), logger.Debug)
			return
		}
		select {
		case m.events <- midi.Event{Source: name, Message: decoded, Time: time.Now()}:
		case <-m.done:
		}
	}, gomidi.HandleError(func(err error) {
		log.Info(fmt.Sprintf("input error: %s", err), zap.String("source", name), logger.Warning)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on device: %w", err)
	}

	return func() {
		stop()
		err := in.Close()
		if err != nil {
			log.Info(fmt.Sprintf("failed to close input: %s", err), zap.String("source", name), logger.Debug)
		}
	}, nil
}
