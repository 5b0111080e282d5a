package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubBroadcast(t *testing.T) {
	h := NewHub(4)
	id1, c1, err := h.Subscribe()
	require.NoError(t, err)
	_, c2, err := h.Subscribe()
	require.NoError(t, err)
	assert.Equal(t, 2, h.Subscribers())

	h.Broadcast(SceneLoaded, map[string]string{"name": "Sunset"})

	for _, c := range []<-chan Notification{c1, c2} {
		n := <-c
		assert.Equal(t, SceneLoaded, n.Name)
		assert.Equal(t, map[string]string{"name": "Sunset"}, n.Payload)
	}

	dropped, err := h.Unsubscribe(id1)
	assert.NoError(t, err)
	assert.Equal(t, 0, dropped)
	_, ok := <-c1
	assert.False(t, ok)

	_, err = h.Unsubscribe(id1)
	assert.Error(t, err)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub(1)
	id, c, err := h.Subscribe()
	require.NoError(t, err)

	h.Broadcast(DmxUpdate, 1)
	h.Broadcast(DmxUpdate, 2)
	h.Broadcast(DmxUpdate, 3)

	n := <-c
	assert.Equal(t, 1, n.Payload)

	dropped, err := h.Unsubscribe(id)
	assert.NoError(t, err)
	assert.Equal(t, 2, dropped)
}

func TestHubClose(t *testing.T) {
	h := NewHub(1)
	_, c, err := h.Subscribe()
	require.NoError(t, err)

	h.Close()
	_, ok := <-c
	assert.False(t, ok)

	h.Broadcast(DmxUpdate, 1)
	_, _, err = h.Subscribe()
	assert.ErrorIs(t, err, ErrClosed)
}
