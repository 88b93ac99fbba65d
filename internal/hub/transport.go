package hub

import (
	"github.com/gorilla/websocket"
)

// wsTransport adapts a gorilla connection to the Transport interface.
type wsTransport struct {
	conn *websocket.Conn
}

// NewWebSocketTransport wraps an upgraded gorilla connection.
func NewWebSocketTransport(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) WriteJSON(v any) error {
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) ReadText() ([]byte, error) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage {
			return data, nil
		}
		// Binary and control frames are ignored; clients speak JSON
		// text frames only.
	}
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
