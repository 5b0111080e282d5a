package scene

import (
	"fmt"
	"sync"

	"github.com/gethiox/midmx/internal/pkg/mapping"
)

// Store is an ordered collection of scenes with unique names.
type Store struct {
	mutex  sync.RWMutex
	scenes []Scene
}

func NewStore() *Store {
	return &Store{scenes: []Scene{}}
}

func (s *Store) index(name string) int {
	for i, sc := range s.scenes {
		if sc.Name == name {
			return i
		}
	}
	return -1
}

// Save replaces scene with the same name in place or appends a new one.
// Midi mapping of a replaced scene is retained.
func (s *Store) Save(name, oscAddress string, values []int) (replaced bool, err error) {
	sc := Scene{Name: name, OSCAddress: oscAddress, ChannelValues: append([]int{}, values...)}
	if err := sc.Validate(); err != nil {
		return false, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if i := s.index(name); i >= 0 {
		sc.MidiMapping = s.scenes[i].MidiMapping
		s.scenes[i] = sc
		return true, nil
	}
	s.scenes = append(s.scenes, sc)
	return false, nil
}

func (s *Store) Get(name string) (Scene, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	i := s.index(name)
	if i < 0 {
		return Scene{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return s.scenes[i].clone(), nil
}

// Load returns channel values of the named scene.
func (s *Store) Load(name string) ([]int, error) {
	sc, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	if err := ValidateValues(sc.ChannelValues); err != nil {
		return nil, fmt.Errorf("scene %q: %w", name, err)
	}
	return sc.ChannelValues, nil
}

// Delete removes the named scene, it reports whether the scene existed.
func (s *Store) Delete(name string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	i := s.index(name)
	if i < 0 {
		return false
	}
	s.scenes = append(s.scenes[:i], s.scenes[i+1:]...)
	return true
}

func (s *Store) Names() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var names = make([]string, len(s.scenes))
	for i, sc := range s.scenes {
		names[i] = sc.Name
	}
	return names
}

// All returns a deep copy of all scenes in order.
func (s *Store) All() []Scene {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var out = make([]Scene, len(s.scenes))
	for i, sc := range s.scenes {
		out[i] = sc.clone()
	}
	return out
}

// Replace swaps the whole collection, used for import and for loading the scenes document.
// Nothing is replaced when any scene is invalid or names repeat.
func (s *Store) Replace(scenes []Scene) error {
	var fresh = make([]Scene, 0, len(scenes))
	var seen = make(map[string]bool, len(scenes))
	for i, sc := range scenes {
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("scene %d (%q): %w", i, sc.Name, err)
		}
		if seen[sc.Name] {
			return fmt.Errorf("%w: duplicated scene name %q", ErrInvalidFormat, sc.Name)
		}
		seen[sc.Name] = true
		fresh = append(fresh, sc.clone())
	}

	s.mutex.Lock()
	s.scenes = fresh
	s.mutex.Unlock()
	return nil
}

func (s *Store) SetMidiMapping(name string, b mapping.Binding) error {
	if err := b.Validate(); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	i := s.index(name)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	s.scenes[i].MidiMapping = &b
	return nil
}

func (s *Store) ClearMidiMapping(name string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	i := s.index(name)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	s.scenes[i].MidiMapping = nil
	return nil
}

// ClearMidiMappings removes midi mapping from every scene, it returns how many were removed.
func (s *Store) ClearMidiMappings() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var n int
	for i := range s.scenes {
		if s.scenes[i].MidiMapping != nil {
			s.scenes[i].MidiMapping = nil
			n++
		}
	}
	return n
}

// MatchNote returns names of all scenes triggered by the given note, in store order.
func (s *Store) MatchNote(channel, note uint8) []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var names []string
	for _, sc := range s.scenes {
		if sc.MidiMapping != nil && sc.MidiMapping.MatchesNote(channel, note) {
			names = append(names, sc.Name)
		}
	}
	return names
}
