// Package signal is the client end of the signaling channel.
package signal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var ErrClosed = errors.New("signaling client closed")

// Client manages the WebSocket connection to the signaling server. Messages
// are delivered on Incoming in the order the server sent them; the channel is
// closed when the connection ends.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	incoming  chan protocol.Message
	outgoing  chan protocol.Message
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		incoming:  make(chan protocol.Message, sendBuffer),
		outgoing:  make(chan protocol.Message, sendBuffer),
		done:      make(chan struct{}),
	}
}

// Connect dials the server and starts the pumps.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	log.Info().Str("module", "client.signal").Str("server", u.String()).Msg("connected")

	go c.readPump()
	go c.writePump()
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		close(c.incoming)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "client.signal").Msg("read")
			}
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client.signal").Msg("bad message from server")
			continue
		}
		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Str("module", "client.signal").Msg("write")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues msg for the server. It blocks only while the outbound buffer
// is full and fails once the client is closed.
func (c *Client) Send(msg protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) Incoming() <-chan protocol.Message {
	return c.incoming
}

// Done is closed once the client is closed, locally or by the server.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close stops both pumps. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
