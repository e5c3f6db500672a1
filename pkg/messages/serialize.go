package messages

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cbodonnell/flywheel-exchange/pkg/exchange"
	"github.com/klauspost/compress/zstd"
)

// SerializeMessage encodes m as zstd-compressed JSON.
func SerializeMessage(m *Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %v", err)
	}

	compressed := bytes.NewBuffer(nil)
	compWriter, err := zstd.NewWriter(compressed, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %v", err)
	}
	if _, err := compWriter.Write(b); err != nil {
		return nil, fmt.Errorf("failed to compress message: %v", err)
	}
	if err := compWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zstd writer: %v", err)
	}

	return compressed.Bytes(), nil
}

func DeserializeMessage(data []byte) (*Message, error) {
	compReader, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %v", err)
	}
	defer compReader.Close()

	b, err := io.ReadAll(io.LimitReader(compReader, MessageBufferSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read decompressed message: %v", err)
	}
	if len(b) > MessageBufferSize {
		return nil, fmt.Errorf("message exceeds %d bytes", MessageBufferSize)
	}

	message := &Message{}
	if err := json.Unmarshal(b, message); err != nil {
		return nil, fmt.Errorf("failed to deserialize message: %v", err)
	}

	return message, nil
}

// NewReceiptMessage wraps a committed receipt in a feed frame.
func NewReceiptMessage(receipt *exchange.Receipt) (*Message, error) {
	payload, err := json.Marshal(receipt)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize receipt: %v", err)
	}
	return &Message{
		AccountID: string(receipt.AccountID),
		Type:      MessageTypeServerReceipt,
		Payload:   payload,
	}, nil
}

func DeserializeReceipt(m *Message) (*exchange.Receipt, error) {
	if m.Type != MessageTypeServerReceipt {
		return nil, fmt.Errorf("unexpected message type %s", m.Type)
	}
	receipt := &exchange.Receipt{}
	if err := json.Unmarshal(m.Payload, receipt); err != nil {
		return nil, fmt.Errorf("failed to deserialize receipt: %v", err)
	}
	return receipt, nil
}
