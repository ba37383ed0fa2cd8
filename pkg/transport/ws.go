// Package transport carries now-playing frames to an external surface over
// a websocket and reads transport commands back. It is the daemon-side end
// of the lock-screen-equivalent control channel.
package transport

import (
	"encoding/json"
	log "log/slog"
	"time"

	ws "github.com/gorilla/websocket"
)

type Conn struct {
	conn   *ws.Conn
	url    string
	reconn time.Duration
}

func Dial(url string, reconn time.Duration) (*Conn, error) {
	log.Debug("dial transport surface", "url", url)

	c := &Conn{url: url, reconn: reconn}
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Error("Failed to dial transport surface", "url", url, "err", err)
		return nil, err
	}
	c.conn = conn
	return c, nil
}

// Frame is one outbound message; Kind names the payload type.
type Frame struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (c *Conn) WriteFrame(kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Frame{Kind: kind, Payload: raw})
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(ws.TextMessage, data)
}

type IncomeKind uint

const (
	CONN_CLOSE IncomeKind = iota
	READ_FAILURE
	READ_OK
)

type Income struct {
	Kind IncomeKind
	Msg  []byte
	Err  error
}

func (c *Conn) Read() Income {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		if IsClosed(err) {
			return Income{Kind: CONN_CLOSE, Err: err}
		}
		return Income{Kind: READ_FAILURE, Err: err}
	}
	log.Debug("Read transport command", "msg", string(msg))
	return Income{Kind: READ_OK, Msg: msg}
}

func (c *Conn) TryReconn() {
	for {
		conn, _, err := ws.DefaultDialer.Dial(c.url, nil)
		if err == nil {
			c.conn = conn
			break
		}
		time.Sleep(c.reconn)
	}
}

func (c *Conn) Close() error { return c.conn.Close() }

func IsClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
