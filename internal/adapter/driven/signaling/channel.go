// Package signaling is the client end of the websocket rendezvous channel.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

var ErrNotConnected = errors.New("signaling channel not connected")

type Config struct {
	ServerURL    string
	Token        string
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Channel keeps one socket to the server open, redialing with exponential
// backoff. A drop after a successful connect is reported to the sink as
// connection.lost, the next successful dial as connection.restored.
type Channel struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	min    time.Duration
	max    time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
	sink port.EventSink

	writeMu sync.Mutex
}

func NewChannel(cfg Config) (*Channel, error) {
	u, err := socketURL(cfg.ServerURL)
	if err != nil {
		return nil, err
	}
	lo, hi := cfg.ReconnectMin, cfg.ReconnectMax
	if lo <= 0 {
		lo = time.Second
	}
	if hi < lo {
		hi = lo
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.Token)
	return &Channel{
		url:    u,
		header: header,
		dialer: &websocket.Dialer{HandshakeTimeout: writeWait, Proxy: http.ProxyFromEnvironment},
		min:    lo,
		max:    hi,
	}, nil
}

// socketURL turns the registry base URL into the /ws endpoint.
func socketURL(serverURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("server url: unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

func (c *Channel) Attach(sink port.EventSink) func() {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.sink = nil
	}
}

func (c *Channel) emit(e domain.Event) {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink != nil {
		sink(e)
	}
}

func (c *Channel) Send(ctx context.Context, e domain.Event) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(e); err != nil {
		return fmt.Errorf("send %s: %w", e.Name, err)
	}
	return nil
}

// Run dials and reads until ctx is done.
func (c *Channel) Run(ctx context.Context) error {
	backoff := c.min
	everConnected := false
	lost := false

	for {
		conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("Signaling dial failed")
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, c.max)
			continue
		}

		backoff = c.min
		c.setConn(conn)
		log.Info().Str("url", c.url).Msg("Signaling connected")
		if lost {
			c.emit(domain.Event{Name: domain.EventConnectionRestored})
			lost = false
		}
		everConnected = true

		stop := context.AfterFunc(ctx, func() { conn.Close() })
		err = c.readLoop(conn)
		stop()
		c.setConn(nil)
		conn.Close()

		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Err(err).Msg("Signaling connection lost")
		if everConnected && !lost {
			c.emit(domain.Event{Name: domain.EventConnectionLost})
			lost = true
		}
		if !sleep(ctx, backoff) {
			return nil
		}
	}
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *Channel) readLoop(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var e domain.Event
		if err := json.Unmarshal(data, &e); err != nil || e.Name == "" {
			log.Warn().Err(err).Int("len", len(data)).Msg("Dropping undecodable frame")
			continue
		}
		c.emit(e)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
