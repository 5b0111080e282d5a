package dmx

import (
	"fmt"

	"github.com/gethiox/midmx/internal/pkg/logger"
	"github.com/gethiox/midmx/internal/pkg/notify"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

type ChannelUpdate struct {
	Channel int   `json:"channel"`
	Value   uint8 `json:"value"`
}

type UniverseUpdate struct {
	Channels []int `json:"channels"`
}

// Output applies writes to the in-memory universe first and then forwards them to the sink.
// Sink failures are logged per write and never stop the remaining writes.
type Output struct {
	universe *Universe
	sink     Sink
	notifier notify.Notifier
}

func NewOutput(universe *Universe, sink Sink, notifier notify.Notifier) *Output {
	return &Output{universe: universe, sink: sink, notifier: notifier}
}

func (o *Output) Universe() *Universe {
	return o.universe
}

// Set returns only validation errors, sink errors are logged.
func (o *Output) Set(index int, value uint8) error {
	if err := o.universe.Set(index, value); err != nil {
		return err
	}
	o.forward(index, value)
	o.notifier.Broadcast(notify.DmxUpdate, ChannelUpdate{Channel: index, Value: value})
	return nil
}

// Apply writes values starting from channel 0, values beyond universe size are ignored.
func (o *Output) Apply(values []uint8) {
	if len(values) > Channels {
		values = values[:Channels]
	}
	for i, v := range values {
		_ = o.universe.Set(i, v)
	}
	for i, v := range values {
		o.forward(i, v)
	}
	o.notifier.Broadcast(notify.DmxUpdate, o.snapshotUpdate())
}

// Blackout zeroes every channel.
func (o *Output) Blackout() {
	o.Apply(make([]uint8, Channels))
}

// Resync forwards the whole universe to the sink, used after the sink reconnects.
func (o *Output) Resync() {
	snap := o.universe.Snapshot()
	for i, v := range snap {
		_ = o.sink.SetChannel(i, v)
	}
}

func (o *Output) Snapshot() []uint8 {
	snap := o.universe.Snapshot()
	return snap[:]
}

func (o *Output) snapshotUpdate() UniverseUpdate {
	snap := o.universe.Snapshot()
	channels := make([]int, Channels)
	for i, v := range snap {
		channels[i] = int(v)
	}
	return UniverseUpdate{Channels: channels}
}

func (o *Output) forward(index int, value uint8) {
	err := o.sink.SetChannel(index, value)
	if err != nil {
		log.Info(fmt.Sprintf("dmx write dropped: %s", err), zap.Int("channel", index), zap.Uint8("value", value), logger.Warning)
		return
	}
	log.Info("dmx write", zap.Int("channel", index), zap.Uint8("value", value), logger.Dmx)
}
