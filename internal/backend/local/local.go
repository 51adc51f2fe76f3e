// Package local hosts PTY sessions in-process. Each session spawns a shell
// under a pseudo-terminal via creack/pty, reads its output on a dedicated
// goroutine and publishes per-session ordered events on the channel's hub.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/agentshell/termmux/internal/backend"
	"github.com/agentshell/termmux/internal/logging"
	"github.com/agentshell/termmux/internal/shared/id"
)

// ErrSessionNotFound is returned for operations on unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionClosed is returned for writes to a terminated session.
var ErrSessionClosed = errors.New("session is closed")

// Channel implements backend.Channel with in-process PTYs.
type Channel struct {
	hub    *backend.Hub
	logger *logging.Logger
	shell  string // overrides $SHELL when set

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id   string
	cmd  *exec.Cmd
	ptmx *os.File

	mu     sync.Mutex
	closed bool
}

// Option configures the channel.
type Option func(*Channel)

// WithShell overrides the shell binary used for new sessions.
func WithShell(shell string) Option {
	return func(c *Channel) { c.shell = shell }
}

// New creates a local PTY channel.
func New(logger *logging.Logger, opts ...Option) *Channel {
	c := &Channel{
		hub:      backend.NewHub(),
		logger:   logger,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create spawns a shell under a new PTY and starts its output reader.
func (c *Channel) Create(ctx context.Context, cfg backend.SessionConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	shell := c.resolveShell(cfg.Kind)
	cwd := cfg.Cwd
	if cwd == "" {
		cwd = os.Getenv("HOME")
		if cwd == "" {
			cwd = "/tmp"
		}
	}
	rows, cols := cfg.Rows, cfg.Cols
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}

	cmd := exec.Command(shell)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "COLORTERM=truecolor")
	for key, value := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return "", fmt.Errorf("failed to start PTY: %w", err)
	}

	sess := &session{
		id:   id.NewSessionID().String(),
		cmd:  cmd,
		ptmx: ptmx,
	}

	c.mu.Lock()
	c.sessions[sess.id] = sess
	c.mu.Unlock()

	go c.readOutput(sess)

	c.logger.Info("session created",
		zap.String("session_id", sess.id),
		zap.String("shell", shell),
		zap.String("cwd", cwd),
		zap.Int("pid", cmd.Process.Pid),
	)
	return sess.id, nil
}

// readOutput pumps PTY output into the hub until EOF, then reaps the process
// and publishes the exit event. Running publish and read on one goroutine is
// what keeps the per-session FIFO guarantee.
func (c *Channel) readOutput(sess *session) {
	buf := make([]byte, 4096)
	for {
		n, err := sess.ptmx.Read(buf)
		if n > 0 {
			c.hub.Publish(backend.Event{
				Type:      backend.EventOutput,
				SessionID: sess.id,
				Data:      string(buf[:n]),
			})
		}
		if err != nil {
			if err != io.EOF {
				c.logger.Debug("pty read ended",
					zap.String("session_id", sess.id),
					zap.Error(err),
				)
			}
			break
		}
	}

	var code *int
	if err := sess.cmd.Wait(); err == nil {
		code = intPtr(0)
	} else {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = intPtr(exitErr.ExitCode())
		}
	}

	sess.mu.Lock()
	sess.closed = true
	sess.mu.Unlock()
	sess.ptmx.Close()

	c.mu.Lock()
	delete(c.sessions, sess.id)
	c.mu.Unlock()

	c.hub.Publish(backend.Event{
		Type:      backend.EventExit,
		SessionID: sess.id,
		Code:      code,
	})
	c.logger.Info("session exited", zap.String("session_id", sess.id))
}

// Write forwards keystrokes to the session's PTY.
func (c *Channel) Write(sessionID string, data []byte) error {
	sess, err := c.lookup(sessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	closed := sess.closed
	sess.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: %s", ErrSessionClosed, sessionID)
	}

	_, err = sess.ptmx.Write(data)
	return err
}

// Resize changes the PTY geometry.
func (c *Channel) Resize(sessionID string, rows, cols int) error {
	sess, err := c.lookup(sessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return fmt.Errorf("%w: %s", ErrSessionClosed, sessionID)
	}
	return pty.Setsize(sess.ptmx, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

// Close terminates the session's process. The exit event is published by the
// reader goroutine when the PTY drains.
func (c *Channel) Close(sessionID string) error {
	sess, err := c.lookup(sessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return nil
	}
	if sess.cmd.Process != nil {
		sess.cmd.Process.Kill()
	}
	return nil
}

// Subscribe registers a listener on the event feed.
func (c *Channel) Subscribe() *backend.Subscription {
	return c.hub.Subscribe()
}

// Shutdown kills every live session and releases all subscriptions.
func (c *Channel) Shutdown() error {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for sid := range c.sessions {
		ids = append(ids, sid)
	}
	c.mu.Unlock()

	for _, sid := range ids {
		if err := c.Close(sid); err != nil && !errors.Is(err, ErrSessionNotFound) {
			c.logger.Warn("failed to close session during shutdown",
				zap.String("session_id", sid),
				zap.Error(err),
			)
		}
	}
	c.hub.Close()
	return nil
}

func (c *Channel) lookup(sessionID string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

func (c *Channel) resolveShell(kind string) string {
	switch kind {
	case "bash":
		return "/bin/bash"
	case "zsh":
		return "/bin/zsh"
	case "sh":
		return "/bin/sh"
	case "fish":
		if path, err := exec.LookPath("fish"); err == nil {
			return path
		}
	}
	if c.shell != "" {
		return c.shell
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/bash"
}

func intPtr(v int) *int { return &v }
