package clients

import (
	"fmt"
	"sync"

	"github.com/cbodonnell/flywheel-exchange/pkg/exchange"
)

const (
	// ClientIDMaxRetries represents the maximum number of retries when generating a unique ID
	ClientIDMaxRetries = 1024
	// DefaultSendBufferSize is the number of frames queued per subscriber
	DefaultSendBufferSize = 64
)

// Client is a receipt feed subscriber
type Client struct {
	ID        uint32
	AccountID exchange.AccountID
	// Send carries serialized frames to the subscriber's connection.
	// It is closed when the client is removed.
	Send chan []byte
}

// ClientManager tracks feed subscribers by account
type ClientManager struct {
	clients        map[uint32]*Client
	clientsLock    sync.RWMutex
	nextID         uint32
	sendBufferSize int
	events         *ClientEventManager
}

type NewClientManagerOptions struct {
	SendBufferSize int
	// Events is optional and receives connect and disconnect events
	Events *ClientEventManager
}

// NewClientManager creates a new ClientManager
func NewClientManager(opts NewClientManagerOptions) *ClientManager {
	sendBufferSize := opts.SendBufferSize
	if sendBufferSize <= 0 {
		sendBufferSize = DefaultSendBufferSize
	}
	return &ClientManager{
		clients:        make(map[uint32]*Client),
		nextID:         1,
		sendBufferSize: sendBufferSize,
		events:         opts.Events,
	}
}

// GetClients returns a list of all connected clients
func (cm *ClientManager) GetClients() []*Client {
	cm.clientsLock.RLock()
	defer cm.clientsLock.RUnlock()
	clients := make([]*Client, 0, len(cm.clients))
	for _, client := range cm.clients {
		clients = append(clients, client)
	}
	return clients
}

// AddClient subscribes a new client to the receipts of accountID
func (cm *ClientManager) AddClient(accountID exchange.AccountID) (*Client, error) {
	cm.clientsLock.Lock()
	clientID, err := cm.GenerateUniqueID(ClientIDMaxRetries)
	if err != nil {
		cm.clientsLock.Unlock()
		return nil, fmt.Errorf("failed to generate a unique ID: %v", err)
	}
	client := &Client{
		ID:        clientID,
		AccountID: accountID,
		Send:      make(chan []byte, cm.sendBufferSize),
	}
	cm.clients[clientID] = client
	cm.clientsLock.Unlock()

	cm.trigger(ClientEvent{Type: ClientEventConnected, ClientID: clientID, AccountID: accountID})
	return client, nil
}

// RemoveClient removes a client from the manager and closes its send channel.
func (cm *ClientManager) RemoveClient(clientID uint32) {
	cm.clientsLock.Lock()
	client, exists := cm.clients[clientID]
	if exists {
		delete(cm.clients, clientID)
		close(client.Send)
	}
	cm.clientsLock.Unlock()

	if exists {
		cm.trigger(ClientEvent{Type: ClientEventDisconnected, ClientID: clientID, AccountID: client.AccountID})
	}
}

// SendToAccount queues frame for every subscriber of accountID. Subscribers
// whose buffer is full miss the frame. It returns the number of subscribers
// the frame was queued for.
func (cm *ClientManager) SendToAccount(accountID exchange.AccountID, frame []byte) int {
	cm.clientsLock.RLock()
	defer cm.clientsLock.RUnlock()

	sent := 0
	for _, client := range cm.clients {
		if client.AccountID != accountID {
			continue
		}
		select {
		case client.Send <- frame:
			sent++
		default:
		}
	}
	return sent
}

// GenerateUniqueID generates a unique client ID with a maximum number of retries
// it reads from the clients, so it needs to be locked before calling
func (cm *ClientManager) GenerateUniqueID(maxRetries int) (uint32, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		id := cm.nextID
		cm.nextID++
		if id == 0 {
			continue
		}
		if _, ok := cm.clients[id]; !ok {
			return id, nil
		}
	}

	return 0, fmt.Errorf("failed to generate a unique ID after %d attempts", maxRetries)
}

func (cm *ClientManager) trigger(event ClientEvent) {
	if cm.events != nil {
		cm.events.Trigger(event)
	}
}
