package learn

import (
	"fmt"
	"time"

	"github.com/gethiox/midmx/internal/pkg/mapping"
	"github.com/google/uuid"
)

type Kind int

const (
	ChannelKind Kind = iota
	SceneKind
)

var kindNames = map[Kind]string{
	ChannelKind: "channel",
	SceneKind:   "scene",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return name
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Session is a pending capture. Its timer belongs to the session and is stopped whenever
// the session ends, the ID keeps a late timer fire from ending a newer session.
type Session struct {
	ID       uuid.UUID `json:"id"`
	Kind     Kind      `json:"kind"`
	Channel  *int      `json:"channel,omitempty"`
	Scene    string    `json:"scene,omitempty"`
	Started  time.Time `json:"started"`
	Deadline time.Time `json:"deadline"`

	timer *time.Timer
}

func (s Session) Target() string {
	if s.Kind == ChannelKind && s.Channel != nil {
		return fmt.Sprintf("channel %d", *s.Channel)
	}
	return fmt.Sprintf("scene %q", s.Scene)
}

func (s *Session) stop() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

// Complete is broadcast when a channel binding is learned.
type Complete struct {
	Channel int             `json:"channel"`
	Mapping mapping.Binding `json:"mapping"`
}

// SceneLearned is broadcast when a scene binding is learned.
type SceneLearned struct {
	Scene   string          `json:"scene"`
	Mapping mapping.Binding `json:"mapping"`
}
