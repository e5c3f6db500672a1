package network

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cbodonnell/flywheel-exchange/pkg/log"
	"github.com/cbodonnell/flywheel-exchange/pkg/messages"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Upgrade upgrades an HTTP request to a WebSocket connection.
// On failure a response has already been written.
func Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade to WebSocket: %v", err)
	}
	log.Debug("New WebSocket connection from %s", conn.RemoteAddr().String())
	return conn, nil
}

// ServeFeed writes the frames received on send to conn until send is closed,
// ctx is done or the peer goes away. Messages from the peer are discarded.
// conn is closed on return.
func ServeFeed(ctx context.Context, conn *websocket.Conn, send <-chan []byte) error {
	defer conn.Close()

	conn.SetReadLimit(messages.MessageBufferSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			writeClose(conn, websocket.CloseGoingAway)
			return nil
		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return fmt.Errorf("error reading from %s: %v", conn.RemoteAddr().String(), err)
			}
			log.Trace("Connection closed for %s", conn.RemoteAddr().String())
			return nil
		case frame, ok := <-send:
			if !ok {
				writeClose(conn, websocket.CloseNormalClosure)
				return nil
			}
			if err := WriteFrameToWS(conn, frame); err != nil {
				return err
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("failed to ping %s: %v", conn.RemoteAddr().String(), err)
			}
		}
	}
}

// WriteFrameToWS writes a serialized message to a WebSocket connection
func WriteFrameToWS(conn *websocket.Conn, frame []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("failed to write message to WebSocket connection: %v", err)
	}
	return nil
}

func writeClose(conn *websocket.Conn, code int) {
	msg := websocket.FormatCloseMessage(code, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		log.Trace("Failed to write close to %s: %v", conn.RemoteAddr().String(), err)
	}
}
