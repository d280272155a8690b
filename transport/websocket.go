package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fbarrella/reson8/session"
)

// Ping/pong tuning per spec.md §5: "~10s interval and ~5s timeout so
// dead connections are detected promptly."
const (
	pongWait   = 10 * time.Second
	pingPeriod = 8 * time.Second
	writeWait  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// wsConn adapts a *websocket.Conn to session.Conn. Every write — ack
// replies, direct pushes, and broker fan-out delivered via
// session.Manager.Send — passes through the owning Session's writeMu,
// so this type itself holds no lock of its own.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) WriteMessage(data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// WebSocketServer upgrades incoming HTTP connections and hands each one
// to the session.Manager as an actor-like owner loop: one goroutine per
// connection, reading frames sequentially and dispatching them
// synchronously, which is what gives per-Session ordering (spec.md §5,
// §9) without an explicit per-Session lock around handler execution.
type WebSocketServer struct {
	Manager *session.Manager
	Sugar   *zap.SugaredLogger
}

func NewWebSocketServer(manager *session.Manager, sugar *zap.SugaredLogger) *WebSocketServer {
	return &WebSocketServer{Manager: manager, Sugar: sugar}
}

func (srv *WebSocketServer) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.Sugar.Errorf("transport: upgrading connection: %v", err)
		return
	}

	s := srv.Manager.Connect(&wsConn{conn: conn})
	srv.Sugar.Debugf("transport: connection %s established", s.ConnectionID)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	go srv.pingLoop(conn, stop)

	ctx := context.Background()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}
		srv.Manager.Dispatch(ctx, s, message)
	}

	close(stop)
	srv.Manager.Disconnect(ctx, s)
	_ = conn.Close()
	srv.Sugar.Debugf("transport: connection %s closed", s.ConnectionID)
}

func (srv *WebSocketServer) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
