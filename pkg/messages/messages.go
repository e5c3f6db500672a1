package messages

import "encoding/json"

const (
	// MessageBufferSize is the largest frame a feed subscriber accepts
	MessageBufferSize = 64 * 1024
)

// Message types
const (
	MessageTypeServerReceipt = "receipt"
)

// Message is the frame sent over the receipt feed
type Message struct {
	AccountID string          `json:"accountID"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}
