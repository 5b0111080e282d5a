package dmx

// Sink transmits channel values to the lighting network.
// Writes before the sink is ready fail with ErrSinkUnavailable.
type Sink interface {
	SetChannel(index int, value uint8) error
	Transmit() error
	Close() error
}

// NullSink discards everything, used when no ArtNet output is configured.
type NullSink struct{}

func (NullSink) SetChannel(index int, value uint8) error { return ValidChannel(index) }
func (NullSink) Transmit() error                         { return nil }
func (NullSink) Close() error                            { return nil }
