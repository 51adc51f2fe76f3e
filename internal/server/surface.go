package server

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentshell/termmux/internal/logging"
	"github.com/agentshell/termmux/internal/protocol"
)

// wsSurface adapts one attach WebSocket to mux.Surface. The terminal
// emulation widget lives on the other end of the socket; this side only
// ships raw bytes and reset frames at it.
//
// Surface operations cannot fail by contract, so transport errors are
// absorbed and logged here. A broken socket surfaces as a read error in the
// attach handler, which detaches cleanly.
type wsSurface struct {
	conn   *websocket.Conn
	logger *logging.Logger

	mu sync.Mutex // gorilla allows one concurrent writer
}

func newWSSurface(conn *websocket.Conn, logger *logging.Logger) *wsSurface {
	return &wsSurface{conn: conn, logger: logger}
}

func (s *wsSurface) Write(data string) {
	s.send(protocol.StreamMessage{Type: protocol.TypeOutput, Data: data})
}

func (s *wsSurface) Reset() {
	s.send(protocol.StreamMessage{Type: protocol.TypeReset})
}

func (s *wsSurface) Focus() {
	// Focus is a client-side concern; the widget grabs keyboard focus when
	// it processes the replay that follows activation.
}

func (s *wsSurface) send(msg protocol.StreamMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Debug("surface write failed", zap.Error(err))
	}
}
