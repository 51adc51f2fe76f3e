// Package remote implements backend.Channel against a termmux daemon running
// elsewhere. Session lifecycle goes over the host REST API; output streaming,
// input and resize go over a single WebSocket.
package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentshell/termmux/internal/backend"
	"github.com/agentshell/termmux/internal/logging"
	"github.com/agentshell/termmux/internal/protocol"
)

const (
	dialTimeout    = 10 * time.Second
	requestTimeout = 15 * time.Second
)

// Channel implements backend.Channel over HTTP + WebSocket.
type Channel struct {
	rest   *resty.Client
	hub    *backend.Hub
	logger *logging.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex // gorilla allows one concurrent writer

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the host at addr (e.g. "http://127.0.0.1:7682") and
// establishes the event stream. A failed dial is fatal for the mount; the
// caller surfaces it, there is no internal retry.
func Dial(ctx context.Context, addr string, logger *logging.Logger) (*Channel, error) {
	base := strings.TrimRight(addr, "/")

	rest := resty.New().
		SetBaseURL(base).
		SetTimeout(requestTimeout).
		SetHeader("Accept", "application/json")

	wsURL, err := streamURL(base)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial host stream (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to dial host stream: %w", err)
	}

	c := &Channel{
		rest:   rest,
		hub:    backend.NewHub(),
		logger: logger,
		conn:   conn,
		done:   make(chan struct{}),
	}
	go c.readLoop()

	logger.Info("connected to remote host", zap.String("addr", base))
	return c, nil
}

// readLoop translates stream frames into events. A single goroutine both
// reads and publishes, preserving per-session order.
func (c *Channel) readLoop() {
	defer c.hub.Close()
	for {
		var msg protocol.StreamMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("host stream closed", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case protocol.TypeOutput:
			c.hub.Publish(backend.Event{
				Type:      backend.EventOutput,
				SessionID: msg.SessionID,
				Data:      msg.Data,
			})
		case protocol.TypeExit:
			c.hub.Publish(backend.Event{
				Type:      backend.EventExit,
				SessionID: msg.SessionID,
				Code:      msg.Code,
			})
		default:
			c.logger.Debug("ignoring unknown stream frame", zap.String("type", msg.Type))
		}
	}
}

// Create asks the host to spawn a session.
func (c *Channel) Create(ctx context.Context, cfg backend.SessionConfig) (string, error) {
	var out protocol.CreateSessionResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(protocol.CreateSessionRequest{
			Kind: cfg.Kind,
			Cwd:  cfg.Cwd,
			Rows: cfg.Rows,
			Cols: cfg.Cols,
		}).
		SetResult(&out).
		Post("/api/sessions")
	if err != nil {
		return "", fmt.Errorf("failed to create remote session: %w", err)
	}
	if resp.StatusCode() != http.StatusCreated {
		return "", fmt.Errorf("failed to create remote session: %s", resp.Status())
	}
	return out.SessionID, nil
}

// Write forwards keystrokes over the stream.
func (c *Channel) Write(sessionID string, data []byte) error {
	return c.send(protocol.StreamMessage{
		Type:      protocol.TypeWrite,
		SessionID: sessionID,
		Data:      string(data),
	})
}

// Resize forwards a geometry change over the stream.
func (c *Channel) Resize(sessionID string, rows, cols int) error {
	return c.send(protocol.StreamMessage{
		Type:      protocol.TypeResize,
		SessionID: sessionID,
		Rows:      rows,
		Cols:      cols,
	})
}

// Close terminates the remote session.
func (c *Channel) Close(sessionID string) error {
	resp, err := c.rest.R().Delete("/api/sessions/" + url.PathEscape(sessionID))
	if err != nil {
		return fmt.Errorf("failed to close remote session: %w", err)
	}
	if resp.StatusCode() != http.StatusNoContent && resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("failed to close remote session: %s", resp.Status())
	}
	return nil
}

// Subscribe registers a listener on the event feed.
func (c *Channel) Subscribe() *backend.Subscription {
	return c.hub.Subscribe()
}

// Shutdown closes the stream. Remote sessions keep running on the host.
func (c *Channel) Shutdown() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Channel) send(msg protocol.StreamMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return fmt.Errorf("channel is shut down")
	default:
	}
	return c.conn.WriteJSON(msg)
}

func streamURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid host address %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid host address scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/stream"
	return u.String(), nil
}
