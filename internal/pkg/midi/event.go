package midi

import (
	"errors"
	"fmt"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
)

const (
	// message types
	NoteOffType               uint8 = 0b1000 << 4
	NoteOnType                uint8 = 0b1001 << 4
	PolyphonicKeyPressureType uint8 = 0b1010 << 4 // After-touch
	ControlChangeType         uint8 = 0b1011 << 4
	ProgramChangeType         uint8 = 0b1100 << 4
	ChannelPressureType       uint8 = 0b1101 << 4 // After-touch
	PitchWheelChangeType      uint8 = 0b1110 << 4
	SystemType                uint8 = 0b1111 << 4
)

var ErrMalformedEvent = errors.New("malformed midi event")

// Message is one of NoteOn, NoteOff, ControlChange or Other.
type Message interface {
	// Kind returns short type name used in notifications: noteon, noteoff, cc, program etc.
	Kind() string
	String() string
	message()
}

type NoteOn struct {
	Channel  uint8
	Note     uint8
	Velocity uint8
}

type NoteOff struct {
	Channel  uint8
	Note     uint8
	Velocity uint8
}

type ControlChange struct {
	Channel    uint8
	Controller uint8
	Value      uint8
}

// Other carries every message that takes no part in learning and routing.
type Other struct {
	Type string
	Raw  []byte
}

func (NoteOn) message()        {}
func (NoteOff) message()       {}
func (ControlChange) message() {}
func (Other) message()         {}

func (NoteOn) Kind() string        { return "noteon" }
func (NoteOff) Kind() string       { return "noteoff" }
func (ControlChange) Kind() string { return "cc" }
func (m Other) Kind() string       { return m.Type }

func (m NoteOn) String() string {
	return fmt.Sprintf("Note On : %s (channel: %2d, velocity: %3d)", noteToString(m.Note), m.Channel+1, m.Velocity)
}

func (m NoteOff) String() string {
	return fmt.Sprintf("Note Off: %s (channel: %2d, velocity: %3d)", noteToString(m.Note), m.Channel+1, m.Velocity)
}

func (m ControlChange) String() string {
	return fmt.Sprintf("Control Change: %3d, value: %3d (channel: %2d)", m.Controller, m.Value, m.Channel+1)
}

func (m Other) String() string {
	if len(m.Raw) == 0 {
		return fmt.Sprintf("Other: %s", m.Type)
	}
	msg := fmt.Sprintf("Other: %s ", m.Type)
	for _, v := range m.Raw {
		msg += fmt.Sprintf("0x%02x ", v)
	}
	return msg
}

// Event is a message tagged with the name of the input it came from.
type Event struct {
	Source  string
	Message Message
	Time    time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s", e.Source, e.Message)
}

var typeNames = map[uint8]string{
	NoteOffType:               "noteoff",
	NoteOnType:                "noteon",
	PolyphonicKeyPressureType: "poly aftertouch",
	ControlChangeType:         "cc",
	ProgramChangeType:         "program",
	ChannelPressureType:       "channel aftertouch",
	PitchWheelChangeType:      "pitch",
	SystemType:                "system",
}

// Decode converts raw midi bytes into a Message.
// NoteOn with zero velocity is reported as NoteOff, as the MIDI running-status convention intends.
func Decode(raw []byte) (Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformedEvent)
	}
	if raw[0]&0b10000000 == 0 {
		return nil, fmt.Errorf("%w: missing status byte (0x%02x)", ErrMalformedEvent, raw[0])
	}

	status := raw[0] & 0b11110000
	if (status == NoteOnType || status == NoteOffType || status == ControlChangeType) && len(raw) < 3 {
		return nil, fmt.Errorf("%w: %s message too short (%d bytes)", ErrMalformedEvent, typeNames[status], len(raw))
	}

	if status == NoteOnType && raw[2] == 0 {
		return NoteOff{Channel: raw[0] & 0b1111, Note: raw[1]}, nil
	}

	msg := gomidi.Message(raw)
	var channel, key, value uint8
	switch {
	case msg.GetNoteOn(&channel, &key, &value):
		return NoteOn{Channel: channel, Note: key, Velocity: value}, nil
	case msg.GetNoteOff(&channel, &key, &value):
		return NoteOff{Channel: channel, Note: key, Velocity: value}, nil
	case msg.GetControlChange(&channel, &key, &value):
		return ControlChange{Channel: channel, Controller: key, Value: value}, nil
	}

	var rawCopy = make([]byte, len(raw))
	copy(rawCopy, raw)
	return Other{Type: typeNames[status], Raw: rawCopy}, nil
}
