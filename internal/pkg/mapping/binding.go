package mapping

import (
	"errors"
	"fmt"
)

var ErrInvalidBinding = errors.New("invalid midi binding")

// Binding is a learned midi control: channel plus exactly one of note or controller.
type Binding struct {
	Channel    uint8  `json:"channel" yaml:"channel" toml:"channel"`
	Note       *uint8 `json:"note,omitempty" yaml:"note,omitempty" toml:"note,omitempty"`
	Controller *uint8 `json:"controller,omitempty" yaml:"controller,omitempty" toml:"controller,omitempty"`
}

func NoteBinding(channel, note uint8) Binding {
	return Binding{Channel: channel, Note: &note}
}

func ControllerBinding(channel, controller uint8) Binding {
	return Binding{Channel: channel, Controller: &controller}
}

func (b Binding) IsNote() bool {
	return b.Note != nil
}

func (b Binding) IsController() bool {
	return b.Controller != nil
}

func (b Binding) Validate() error {
	switch {
	case b.Note != nil && b.Controller != nil:
		return fmt.Errorf("%w: both note and controller set", ErrInvalidBinding)
	case b.Note == nil && b.Controller == nil:
		return fmt.Errorf("%w: neither note nor controller set", ErrInvalidBinding)
	case b.Channel > 15:
		return fmt.Errorf("%w: channel out of range 0-15: %d", ErrInvalidBinding, b.Channel)
	case b.Note != nil && *b.Note > 127:
		return fmt.Errorf("%w: note out of range 0-127: %d", ErrInvalidBinding, *b.Note)
	case b.Controller != nil && *b.Controller > 127:
		return fmt.Errorf("%w: controller out of range 0-127: %d", ErrInvalidBinding, *b.Controller)
	}
	return nil
}

func (b Binding) MatchesControl(channel, controller uint8) bool {
	return b.Controller != nil && b.Channel == channel && *b.Controller == controller
}

func (b Binding) MatchesNote(channel, note uint8) bool {
	return b.Note != nil && b.Channel == channel && *b.Note == note
}

func (b Binding) Equal(o Binding) bool {
	if b.Channel != o.Channel || b.IsNote() != o.IsNote() || b.IsController() != o.IsController() {
		return false
	}
	if b.IsNote() && *b.Note != *o.Note {
		return false
	}
	if b.IsController() && *b.Controller != *o.Controller {
		return false
	}
	return true
}

func (b Binding) String() string {
	switch {
	case b.Note != nil:
		return fmt.Sprintf("note %d (channel: %2d)", *b.Note, b.Channel+1)
	case b.Controller != nil:
		return fmt.Sprintf("cc %d (channel: %2d)", *b.Controller, b.Channel+1)
	default:
		return "unbound"
	}
}
