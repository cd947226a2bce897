// Package ws is the fan-out server: it accepts websocket connections from
// browsers and runs one Session per connection, relaying authorized,
// filtered change traffic from the bus.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aferrand/changesd/internal/token"
)

// Server accepts client websocket connections, one Session each (one per
// browser tab).
type Server struct {
	codec     *token.Codec
	auth      Authorizer
	subscribe SubscribeFunc
	registry  *Registry
	upgrader  websocket.Upgrader
	log       *zap.Logger
}

// New constructs a Server.
func New(codec *token.Codec, auth Authorizer, subscribe SubscribeFunc, log *zap.Logger) *Server {
	return &Server{
		codec:     codec,
		auth:      auth,
		subscribe: subscribe,
		registry:  NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// tokens, not origins, gate access; browser clients may be
			// served from any frontend host
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Registry exposes the session registry for shutdown.
func (s *Server) Registry() *Registry { return s.registry }

// ServeHTTP upgrades the request and drives the session until the client
// goes away. Control frames below text level (ping/pong) are the
// transport's business; this loop only sees text frames.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	id, err := uuid.NewV4()
	if err != nil {
		s.log.Error("session id", zap.Error(err))
		_ = conn.Close()
		return
	}

	sess := newSession(id, &wsConn{conn: conn}, s.codec, s.auth, s.subscribe,
		s.registry.remove, s.log.With(zap.Stringer("session", id)))
	s.registry.add(sess)
	defer sess.Close()
	s.log.Info("client connected", zap.Stringer("session", id), zap.String("remote", conn.RemoteAddr().String()))

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		sess.HandleFrame(r.Context(), string(data))
		if sess.Closed() {
			return
		}
	}
}

// writeTimeout bounds a single frame write so a stalled client cannot
// block session teardown.
const writeTimeout = 10 * time.Second

// wsConn adapts a gorilla connection to the session's Conn and serializes
// writers: gorilla/websocket permits only one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) WriteText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
