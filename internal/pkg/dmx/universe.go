package dmx

import (
	"errors"
	"fmt"
	"sync"
)

// Channels is the number of channels in one DMX512 universe.
const Channels = 512

var (
	ErrInvalidChannel  = errors.New("invalid dmx channel")
	ErrSinkUnavailable = errors.New("dmx sink not initialized")
	ErrInvalidConfig   = errors.New("invalid artnet configuration")
)

// ValidChannel checks zero-based channel index, DMX address is index+1.
func ValidChannel(index int) error {
	if index < 0 || index >= Channels {
		return fmt.Errorf("%w: %d (expected 0-%d)", ErrInvalidChannel, index, Channels-1)
	}
	return nil
}

type Universe struct {
	mutex    sync.RWMutex
	channels [Channels]uint8
}

func NewUniverse() *Universe {
	return &Universe{}
}

func (u *Universe) Set(index int, value uint8) error {
	if err := ValidChannel(index); err != nil {
		return err
	}
	u.mutex.Lock()
	u.channels[index] = value
	u.mutex.Unlock()
	return nil
}

func (u *Universe) Get(index int) (uint8, error) {
	if err := ValidChannel(index); err != nil {
		return 0, err
	}
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	return u.channels[index], nil
}

func (u *Universe) Snapshot() [Channels]uint8 {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	return u.channels
}
