package clients

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientManager_SendToAccount(t *testing.T) {
	cm := NewClientManager(NewClientManagerOptions{SendBufferSize: 1})

	a, err := cm.AddClient("account-1")
	require.NoError(t, err)
	b, err := cm.AddClient("account-2")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, cm.GetClients(), 2)

	assert.Equal(t, 1, cm.SendToAccount("account-1", []byte("first")))
	assert.Equal(t, []byte("first"), <-a.Send)
	assert.Empty(t, b.Send)

	// a full buffer drops the frame instead of blocking
	assert.Equal(t, 1, cm.SendToAccount("account-1", []byte("second")))
	assert.Equal(t, 0, cm.SendToAccount("account-1", []byte("third")))
	assert.Equal(t, []byte("second"), <-a.Send)
}

func TestClientManager_RemoveClient(t *testing.T) {
	cm := NewClientManager(NewClientManagerOptions{})

	client, err := cm.AddClient("account-1")
	require.NoError(t, err)
	require.Len(t, cm.GetClients(), 1)

	cm.RemoveClient(client.ID)
	assert.Empty(t, cm.GetClients())
	_, open := <-client.Send
	assert.False(t, open)

	// removing twice is a no-op
	cm.RemoveClient(client.ID)
	assert.Equal(t, 0, cm.SendToAccount("account-1", []byte("frame")))
}

func TestClientManager_Events(t *testing.T) {
	events := NewClientEventManager()
	received := make(chan ClientEvent, 2)
	events.RegisterHandler(func(event ClientEvent) {
		received <- event
	})
	cm := NewClientManager(NewClientManagerOptions{Events: events})

	client, err := cm.AddClient("account-1")
	require.NoError(t, err)
	cm.RemoveClient(client.ID)

	got := map[ClientEventType]ClientEvent{}
	for i := 0; i < 2; i++ {
		select {
		case event := <-received:
			got[event.Type] = event
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for client events")
		}
	}
	assert.Equal(t, client.ID, got[ClientEventConnected].ClientID)
	assert.Equal(t, client.ID, got[ClientEventDisconnected].ClientID)
}
