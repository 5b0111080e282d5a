package scene

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/gethiox/midmx/internal/pkg/dmx"
	"github.com/gethiox/midmx/internal/pkg/mapping"
)

var (
	ErrNotFound      = errors.New("scene not found")
	ErrInvalidFormat = errors.New("invalid scene format")
)

type Scene struct {
	Name          string           `json:"name" yaml:"name" toml:"name"`
	ChannelValues []int            `json:"channelValues" yaml:"channel_values" toml:"channel_values"`
	OSCAddress    string           `json:"oscAddress" yaml:"osc_address" toml:"osc_address"`
	MidiMapping   *mapping.Binding `json:"midiMapping,omitempty" yaml:"midi_mapping,omitempty" toml:"midi_mapping,omitempty"`
}

func (s Scene) clone() Scene {
	c := s
	c.ChannelValues = append([]int{}, s.ChannelValues...)
	if s.MidiMapping != nil {
		b := *s.MidiMapping
		c.MidiMapping = &b
	}
	return c
}

// Bytes returns channel values as DMX levels.
func (s Scene) Bytes() []uint8 {
	var out = make([]uint8, len(s.ChannelValues))
	for i, v := range s.ChannelValues {
		out[i] = uint8(v)
	}
	return out
}

func (s Scene) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidFormat)
	}
	if err := ValidateValues(s.ChannelValues); err != nil {
		return err
	}
	if s.MidiMapping != nil {
		if err := s.MidiMapping.Validate(); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidFormat, err)
		}
	}
	return nil
}

func ValidateValues(values []int) error {
	if len(values) > dmx.Channels {
		return fmt.Errorf("%w: %d channel values, at most %d allowed", ErrInvalidFormat, len(values), dmx.Channels)
	}
	for i, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("%w: value %d at index %d out of range 0-255", ErrInvalidFormat, v, i)
		}
	}
	return nil
}

// Normalize turns decoded JSON channel values into an index ordered sequence.
// An array is taken as is. An object must be keyed by channel index ("0".."511"), it is ordered by
// that index and gaps are filled with 0. Anything else is rejected.
func Normalize(raw interface{}) ([]int, error) {
	switch v := raw.(type) {
	case []int:
		return v, ValidateValues(v)
	case []interface{}:
		var values = make([]int, 0, len(v))
		for i, x := range v {
			n, err := number(x)
			if err != nil {
				return nil, fmt.Errorf("%w: index %d: %s", ErrInvalidFormat, i, err)
			}
			values = append(values, n)
		}
		return values, ValidateValues(values)
	case map[string]interface{}:
		var indexes = make([]int, 0, len(v))
		var byIndex = make(map[int]int, len(v))
		for key, x := range v {
			idx, err := strconv.Atoi(key)
			if err != nil || dmx.ValidChannel(idx) != nil {
				return nil, fmt.Errorf("%w: key %q is not a channel index", ErrInvalidFormat, key)
			}
			n, err := number(x)
			if err != nil {
				return nil, fmt.Errorf("%w: key %q: %s", ErrInvalidFormat, key, err)
			}
			indexes = append(indexes, idx)
			byIndex[idx] = n
		}
		if len(indexes) == 0 {
			return []int{}, nil
		}
		sort.Ints(indexes)
		var values = make([]int, indexes[len(indexes)-1]+1)
		for _, idx := range indexes {
			values[idx] = byIndex[idx]
		}
		return values, ValidateValues(values)
	default:
		return nil, fmt.Errorf("%w: channel values must be an array or an object, got %T", ErrInvalidFormat, raw)
	}
}

func number(x interface{}) (int, error) {
	switch n := x.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("not a number: %v", x)
	}
}
