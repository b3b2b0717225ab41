package server

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 1 * time.Second
	// Time to wait for pending writers before giving up on a send.
	writeAcquireWait = 1 * time.Second
	// Bounded client silence before the server probes with a ping.
	clientSilenceWait = 30 * time.Second
	// Time to wait before force close on connection.
	closeGracePeriod = 1 * time.Second
)

// ErrSendCongestion indicates too many concurrent waiters on a client's
// write path; the client is treated as dead.
var ErrSendCongestion = errors.New("client send failed due to congestion")

// Client serializes writes to one websocket peer. The websocket permits
// only one concurrent writer; the semaphore channel arbitrates between
// the broadcaster and the per-connection reply path.
type Client struct {
	ws       *websocket.Conn
	writeSem chan struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(ws *websocket.Conn) *Client {
	return &Client{
		ws:       ws,
		writeSem: make(chan struct{}, 1),
	}
}

// WriteJSON sends one message under the write deadline. Any error is
// permanent for this connection; callers prune the client on failure.
func (c *Client) WriteJSON(v interface{}) error {
	select {
	case c.writeSem <- struct{}{}:
		defer func() { <-c.writeSem }()
	case <-time.After(writeAcquireWait):
		return ErrSendCongestion
	}

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

// Close performs the close handshake and tears down the connection.
// Call only after the reader has exited.
func (c *Client) Close() {
	select {
	case c.writeSem <- struct{}{}:
	case <-time.After(writeAcquireWait):
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	time.Sleep(closeGracePeriod)
	_ = c.ws.Close()
}
