package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Wyydra/yacall/internal/core/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 * 1024
	sendBufferSize = 64
)

var (
	ErrClosed       = errors.New("connection closed")
	ErrSlowConsumer = errors.New("send buffer full")
)

// Conn is one authenticated signaling socket. Writes go through a buffered
// queue drained by WritePump, reads happen on the caller's goroutine.
type Conn struct {
	id     string
	userID domain.UserID
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func NewConn(userID domain.UserID, conn *websocket.Conn) *Conn {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &Conn{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) UserID() domain.UserID {
	return c.userID
}

func (c *Conn) Send(e domain.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSlowConsumer
	}
}

// ReadEvent blocks for the next frame. Any error ends the socket.
func (c *Conn) ReadEvent() (domain.Event, error) {
	var e domain.Event
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return e, err
	}
	if err := json.Unmarshal(data, &e); err != nil {
		return domain.Event{}, &FrameError{Err: err}
	}
	if e.Name == "" {
		return domain.Event{}, &FrameError{Err: errors.New("missing event name")}
	}
	return e, nil
}

// WritePump drains the send queue and keeps the peer alive with pings until
// the connection closes.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close stops the write pump, which sends a close frame and releases the
// socket.
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// FrameError marks a frame that arrived intact but could not be decoded.
// The socket stays usable.
type FrameError struct {
	Err error
}

func (e *FrameError) Error() string {
	return "bad frame: " + e.Err.Error()
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
