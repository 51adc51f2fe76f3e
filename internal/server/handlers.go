package server

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentshell/termmux/internal/backend"
	"github.com/agentshell/termmux/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the daemon binds to loopback; the shell's origin varies
	},
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"uptime":   s.metrics.Uptime().String(),
		"sessions": len(s.registry.Sessions()),
	})
}

func (s *Server) handleCreateSession(c *gin.Context) {
	// An empty body means "a default session".
	var req protocol.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, protocol.ErrorResponse{Error: err.Error()})
		return
	}

	sess, err := s.registry.CreateSession(c.Request.Context(), backend.SessionConfig{
		Kind: req.Kind,
		Cwd:  req.Cwd,
		Rows: req.Rows,
		Cols: req.Cols,
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, protocol.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sessionInfo(s, sess.ID))
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions := s.registry.Sessions()
	out := make([]protocol.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionInfo(s, sess.ID))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleCloseSession(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.registry.Get(id); !ok {
		c.JSON(http.StatusNotFound, protocol.ErrorResponse{Error: "session not found"})
		return
	}
	s.registry.CloseSession(id)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleActivateSession(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.registry.Get(id); !ok {
		c.JSON(http.StatusNotFound, protocol.ErrorResponse{Error: "session not found"})
		return
	}
	s.registry.SetActive(id)
	c.JSON(http.StatusOK, sessionInfo(s, id))
}

// handleAttach upgrades the connection and binds it as the rendering
// surface. Connecting marks the panel visible, which auto-provisions a
// first session; disconnecting detaches cleanly and leaves buffers intact
// for the next attach.
func (s *Server) handleAttach(c *gin.Context) {
	s.attachMu.Lock()
	if s.attached {
		s.attachMu.Unlock()
		c.JSON(http.StatusConflict, protocol.ErrorResponse{Error: "a surface is already attached"})
		return
	}
	s.attached = true
	s.attachMu.Unlock()
	defer func() {
		s.attachMu.Lock()
		s.attached = false
		s.attachMu.Unlock()
	}()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("attach upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	surface := newWSSurface(conn, s.logger)
	s.controller.AttachSurface(surface)
	s.metrics.SurfaceConnections.Inc()

	// Track the surface's last reported fitted geometry so a switch can
	// renegotiate immediately after replay, without waiting for the next
	// resize report.
	var geoMu sync.Mutex
	var rows, cols int
	s.registry.SetGeometrySource(func() (int, int) {
		geoMu.Lock()
		defer geoMu.Unlock()
		return rows, cols
	})

	defer func() {
		s.registry.SetGeometrySource(nil)
		s.metrics.SurfaceConnections.Dec()
		s.controller.DetachSurface()
		s.registry.SetVisible(c.Request.Context(), false)
	}()

	s.registry.SetVisible(c.Request.Context(), true)
	if active := s.registry.Active(); active != "" {
		// A remount reattaches to the session that was active before.
		s.registry.SetActive(active)
	}

	for {
		var msg protocol.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			s.logger.Debug("surface disconnected", zap.Error(err))
			return
		}

		switch msg.Type {
		case protocol.TypeInput:
			s.registry.HandleInput([]byte(msg.Data))
		case protocol.TypeResize:
			geoMu.Lock()
			rows, cols = msg.Rows, msg.Cols
			geoMu.Unlock()
			s.registry.HandleResize(msg.Rows, msg.Cols)
		case protocol.TypeActivate:
			s.registry.SetActive(msg.SessionID)
		default:
			s.logger.Debug("ignoring unknown attach frame", zap.String("type", msg.Type))
		}
	}
}

// Host API: this daemon as a PTY host for a remote channel elsewhere.

func (s *Server) handleHostCreate(c *gin.Context) {
	var req protocol.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, protocol.ErrorResponse{Error: err.Error()})
		return
	}

	sid, err := s.channel.Create(c.Request.Context(), backend.SessionConfig{
		Kind: req.Kind,
		Cwd:  req.Cwd,
		Rows: req.Rows,
		Cols: req.Cols,
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, protocol.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, protocol.CreateSessionResponse{SessionID: sid})
}

func (s *Server) handleHostClose(c *gin.Context) {
	if err := s.channel.Close(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, protocol.ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// handleHostStream forwards the raw backend feed to a remote channel and
// accepts write/resize frames back.
func (s *Server) handleHostStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("host stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := s.channel.Subscribe()
	defer sub.Close()

	var writeMu sync.Mutex
	go func() {
		for {
			select {
			case ev := <-sub.C:
				msg := protocol.StreamMessage{SessionID: ev.SessionID}
				switch ev.Type {
				case backend.EventOutput:
					msg.Type = protocol.TypeOutput
					msg.Data = ev.Data
				case backend.EventExit:
					msg.Type = protocol.TypeExit
					msg.Code = ev.Code
				}
				writeMu.Lock()
				err := conn.WriteJSON(msg)
				writeMu.Unlock()
				if err != nil {
					sub.Close()
					return
				}
			case <-sub.Done():
				return
			}
		}
	}()

	for {
		var msg protocol.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case protocol.TypeWrite:
			if err := s.channel.Write(msg.SessionID, []byte(msg.Data)); err != nil {
				s.logger.Warn("host write failed",
					zap.String("session_id", msg.SessionID),
					zap.Error(err),
				)
			}
		case protocol.TypeResize:
			if err := s.channel.Resize(msg.SessionID, msg.Rows, msg.Cols); err != nil {
				s.logger.Warn("host resize failed",
					zap.String("session_id", msg.SessionID),
					zap.Error(err),
				)
			}
		}
	}
}

func sessionInfo(s *Server, sid string) protocol.SessionInfo {
	sess, _ := s.registry.Get(sid)
	return protocol.SessionInfo{
		ID:        sess.ID,
		Kind:      sess.Kind,
		Status:    string(sess.Status),
		Cwd:       sess.Cwd,
		CreatedAt: sess.CreatedAt.Format(time.RFC3339),
		Active:    s.registry.Active() == sess.ID,
	}
}
