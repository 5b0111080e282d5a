package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/gethiox/midmx/internal/pkg/mapping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveReplacesInPlace(t *testing.T) {
	s := NewStore()

	replaced, err := s.Save("Sunrise", "/scene/1", []int{1, 2})
	require.NoError(t, err)
	assert.False(t, replaced)
	_, err = s.Save("Sunset", "/scene/2", []int{10, 20, 30})
	require.NoError(t, err)
	_, err = s.Save("Night", "/scene/3", []int{0})
	require.NoError(t, err)
	require.NoError(t, s.SetMidiMapping("Sunset", mapping.NoteBinding(0, 60)))

	replaced, err = s.Save("Sunset", "/scene/2b", []int{255, 128})
	require.NoError(t, err)
	assert.True(t, replaced)

	assert.Equal(t, []string{"Sunrise", "Sunset", "Night"}, s.Names())
	sc, err := s.Get("Sunset")
	require.NoError(t, err)
	assert.Equal(t, []int{255, 128}, sc.ChannelValues)
	assert.Equal(t, "/scene/2b", sc.OSCAddress)
	require.NotNil(t, sc.MidiMapping)
	assert.True(t, sc.MidiMapping.Equal(mapping.NoteBinding(0, 60)))
}

func TestSaveValidates(t *testing.T) {
	s := NewStore()
	_, err := s.Save("", "", nil)
	assert.True(t, errors.Is(err, ErrInvalidFormat))
	_, err = s.Save("x", "", []int{256})
	assert.True(t, errors.Is(err, ErrInvalidFormat))
	_, err = s.Save("x", "", make([]int, 513))
	assert.True(t, errors.Is(err, ErrInvalidFormat))
	assert.Empty(t, s.Names())
}

func TestLoadAndDelete(t *testing.T) {
	s := NewStore()
	_, err := s.Load("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.Save("a", "", []int{7})
	require.NoError(t, err)
	values, err := s.Load("a")
	require.NoError(t, err)
	assert.Equal(t, []int{7}, values)

	// returned values are a copy
	values[0] = 100
	values, _ = s.Load("a")
	assert.Equal(t, []int{7}, values)

	assert.True(t, s.Delete("a"))
	assert.False(t, s.Delete("a"))
}

func TestReplace(t *testing.T) {
	s := NewStore()
	_, err := s.Save("old", "", []int{1})
	require.NoError(t, err)

	err = s.Replace([]Scene{{Name: "a"}, {Name: "a"}})
	assert.True(t, errors.Is(err, ErrInvalidFormat))
	assert.Equal(t, []string{"old"}, s.Names())

	err = s.Replace([]Scene{{Name: "a", ChannelValues: []int{1}}, {Name: "b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, s.Names())
	sc, _ := s.Get("b")
	assert.Equal(t, []int{}, sc.ChannelValues)
}

func TestEmptyValuesStayEmpty(t *testing.T) {
	s := NewStore()
	_, err := s.Save("dark", "", nil)
	require.NoError(t, err)
	require.NoError(t, s.Replace(append(s.All(), Scene{Name: "blank", ChannelValues: []int{}})))

	for _, name := range []string{"dark", "blank"} {
		sc, err := s.Get(name)
		require.NoError(t, err)
		assert.NotNil(t, sc.ChannelValues, name)
		assert.Empty(t, sc.ChannelValues, name)
	}

	data, err := json.Marshal(s.All())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"channelValues":[]`)
	assert.NotContains(t, string(data), "null")
}

func TestMatchNote(t *testing.T) {
	s := NewStore()
	for _, name := range []string{"a", "b", "c"} {
		_, err := s.Save(name, "", nil)
		require.NoError(t, err)
	}
	require.NoError(t, s.SetMidiMapping("a", mapping.NoteBinding(0, 60)))
	require.NoError(t, s.SetMidiMapping("c", mapping.NoteBinding(0, 60)))
	require.NoError(t, s.SetMidiMapping("b", mapping.ControllerBinding(0, 60)))

	assert.Equal(t, []string{"a", "c"}, s.MatchNote(0, 60))
	assert.Nil(t, s.MatchNote(1, 60))

	assert.True(t, errors.Is(s.SetMidiMapping("zzz", mapping.NoteBinding(0, 1)), ErrNotFound))
	assert.Equal(t, 3, s.ClearMidiMappings())
	assert.Nil(t, s.MatchNote(0, 60))
}

func TestNormalize(t *testing.T) {
	for i, tc := range []struct {
		raw      interface{}
		expected []int
		err      error
	}{
		{raw: []interface{}{float64(1), float64(2), float64(255)}, expected: []int{1, 2, 255}},
		{raw: []int{3, 4}, expected: []int{3, 4}},
		{raw: map[string]interface{}{"2": float64(9), "0": float64(1)}, expected: []int{1, 0, 9}},
		{raw: map[string]interface{}{}, expected: []int{}},
		{raw: map[string]interface{}{"red": float64(1)}, err: ErrInvalidFormat},
		{raw: map[string]interface{}{"512": float64(1)}, err: ErrInvalidFormat},
		{raw: []interface{}{"1"}, err: ErrInvalidFormat},
		{raw: []interface{}{1.5}, err: ErrInvalidFormat},
		{raw: []interface{}{float64(300)}, err: ErrInvalidFormat},
		{raw: "1,2,3", err: ErrInvalidFormat},
		{raw: nil, err: ErrInvalidFormat},
	} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			values, err := Normalize(tc.raw)
			if tc.err != nil {
				assert.True(t, errors.Is(err, tc.err), "got: %v", err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, values)
		})
	}
}
