package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/smazurov/biu/internal/control"
	"github.com/smazurov/biu/internal/events"
	"github.com/smazurov/biu/internal/logging"
	"github.com/smazurov/biu/internal/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxMessage = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// session is one connected WebSocket viewer.
type session struct {
	id     string
	conn   *websocket.Conn
	logger logging.Logger
	cancel context.CancelFunc

	inflight sync.WaitGroup // commands waiting for their outcome
}

type sessionSet struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func (ss *sessionSet) add(s *session) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.sessions[s.id] = s
}

func (ss *sessionSet) remove(id string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.sessions, id)
}

func (ss *sessionSet) closeAll() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for _, s := range ss.sessions {
		s.cancel()
		_ = s.conn.Close()
	}
}

// handleWebSocket upgrades a viewer connection. The session receives the
// initialize snapshot, then live events, and may send commands.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	sess := &session{
		id:     id,
		conn:   conn,
		logger: logging.GetLogger("ws").With("session_id", id, "remote_addr", r.RemoteAddr),
		cancel: cancel,
	}

	s.sessions.add(sess)
	metrics.ViewerConnected("ws")
	sess.logger.Info("Viewer connected")

	defer func() {
		cancel()
		_ = conn.Close()
		s.sessions.remove(sess.id)
		metrics.ViewerDisconnected("ws")
		sess.logger.Info("Viewer disconnected")
	}()

	snapshot, sub := s.sup.Connect()
	defer sub.Close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		sess.writeLoop(ctx, events.Message{Kind: events.KindInitialize, Data: snapshot}, sub)
	}()

	s.readLoop(ctx, sess)
	cancel()
	<-writerDone
	sess.inflight.Wait()
}

// writeLoop owns every write on the connection.
func (sess *session) writeLoop(ctx context.Context, first events.Message, sub *events.Subscription) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	if err := sess.write(first); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(wsWriteWait)
			_ = sess.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server closing"), deadline)
			return
		case msg := <-sub.C:
			if err := sess.write(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (sess *session) write(msg events.Message) error {
	_ = sess.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := sess.conn.WriteJSON(msg); err != nil {
		sess.logger.Debug("WebSocket write failed", "error", err)
		return err
	}
	return nil
}

// readLoop enqueues commands in arrival order until the peer goes away.
func (s *Server) readLoop(ctx context.Context, sess *session) {
	sess.conn.SetReadLimit(wsMaxMessage)
	_ = sess.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		msgType, raw, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.logger.Warn("WebSocket read failed", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		cmd, err := control.ParseEnvelope(raw)
		if err != nil {
			sess.logger.Warn("Ignoring invalid command", "error", err)
			continue
		}
		s.submit(ctx, sess, cmd)
	}
}

// submit enqueues cmd and collects its outcome in the background. Only
// commands for the same instance wait on each other.
func (s *Server) submit(ctx context.Context, sess *session, cmd control.Command) {
	p, err := s.sup.Enqueue(ctx, cmd)
	if err != nil {
		sess.logger.Warn("Command failed", "command", cmd.Type, "error", err)
		return
	}

	sess.inflight.Add(1)
	go func() {
		defer sess.inflight.Done()
		if _, err := p.Wait(ctx); err != nil && ctx.Err() == nil {
			sess.logger.Warn("Command failed", "command", cmd.Type, "id", cmd.ID, "error", err)
		}
	}()
}
