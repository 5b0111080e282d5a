package midi

import (
	"fmt"
	"time"
)

// Synthetic is the loosely typed event shape forwarded by browser clients.
type Synthetic struct {
	Type       string `json:"type"`
	Channel    *int   `json:"channel"`
	Note       *int   `json:"note,omitempty"`
	Velocity   *int   `json:"velocity,omitempty"`
	Controller *int   `json:"controller,omitempty"`
	Value      *int   `json:"value,omitempty"`
	Source     string `json:"source,omitempty"`
}

const SyntheticSource = "browser"

func field(name string, v *int, max int) (uint8, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: missing %s", ErrMalformedEvent, name)
	}
	if *v < 0 || *v > max {
		return 0, fmt.Errorf("%w: %s out of range 0-%d: %d", ErrMalformedEvent, name, max, *v)
	}
	return uint8(*v), nil
}

func optional(name string, v *int, max int) (uint8, error) {
	if v == nil {
		return 0, nil
	}
	return field(name, v, max)
}

// Event converts the synthetic shape into a typed Event.
// A noteon/noteoff without note or a cc without controller is rejected instead of defaulting to 0,
// which would silently alias a legitimate note/controller 0 binding.
func (s Synthetic) Event(now time.Time) (Event, error) {
	source := s.Source
	if source == "" {
		source = SyntheticSource
	}
	ev := Event{Source: source, Time: now}

	switch s.Type {
	case "noteon", "noteoff", "cc":
	default:
		if s.Type == "" {
			return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
		}
		ev.Message = Other{Type: s.Type}
		return ev, nil
	}

	channel, err := field("channel", s.Channel, 15)
	if err != nil {
		return Event{}, err
	}

	switch s.Type {
	case "noteon", "noteoff":
		note, err := field("note", s.Note, 127)
		if err != nil {
			return Event{}, err
		}
		velocity, err := optional("velocity", s.Velocity, 127)
		if err != nil {
			return Event{}, err
		}
		if s.Type == "noteoff" || (velocity == 0 && s.Velocity != nil) {
			ev.Message = NoteOff{Channel: channel, Note: note, Velocity: velocity}
		} else {
			if s.Velocity == nil {
				velocity = 127
			}
			ev.Message = NoteOn{Channel: channel, Note: note, Velocity: velocity}
		}
	case "cc":
		controller, err := field("controller", s.Controller, 127)
		if err != nil {
			return Event{}, err
		}
		value, err := field("value", s.Value, 127)
		if err != nil {
			return Event{}, err
		}
		ev.Message = ControlChange{Channel: channel, Controller: controller, Value: value}
	}
	return ev, nil
}

// Payload is the verbatim shape broadcast to subscribers as "midiMessage".
type Payload struct {
	Type       string `json:"type"`
	Channel    *uint8 `json:"channel,omitempty"`
	Note       *uint8 `json:"note,omitempty"`
	Velocity   *uint8 `json:"velocity,omitempty"`
	Controller *uint8 `json:"controller,omitempty"`
	Value      *uint8 `json:"value,omitempty"`
	Raw        []byte `json:"raw,omitempty"`
	Source     string `json:"source"`
}

func u8(v uint8) *uint8 {
	return &v
}

func (e Event) Payload() Payload {
	p := Payload{Source: e.Source}
	if e.Message == nil {
		return p
	}
	p.Type = e.Message.Kind()
	switch m := e.Message.(type) {
	case NoteOn:
		p.Channel, p.Note, p.Velocity = u8(m.Channel), u8(m.Note), u8(m.Velocity)
	case NoteOff:
		p.Channel, p.Note, p.Velocity = u8(m.Channel), u8(m.Note), u8(m.Velocity)
	case ControlChange:
		p.Channel, p.Controller, p.Value = u8(m.Channel), u8(m.Controller), u8(m.Value)
	case Other:
		p.Raw = m.Raw
		if len(m.Raw) > 0 && m.Raw[0]&0b11110000 != SystemType {
			p.Channel = u8(m.Raw[0] & 0b1111)
		}
	}
	return p
}
