package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nan0silver/AIBitcoinTrading/internal/model"
)

const (
	pongWait       = 60 * time.Second
	maxMessageSize = 4096
)

// clientCommand is a message sent by a browser component.
type clientCommand struct {
	Type     string `json:"type"` // "refresh" or "chart_interval"
	Domain   string `json:"domain,omitempty"`
	Interval string `json:"interval,omitempty"`
}

// client is one WebSocket connection.
type client struct {
	id   uuid.UUID
	s    *Server
	conn *websocket.Conn
	send chan model.StateEntry
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	closed bool
	unsubs []func()

	// Owned by writePump
	lastSeq map[model.Domain]uint64
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", "err", err)
		return
	}

	cl := &client{
		id:      uuid.New(),
		s:       s,
		conn:    conn,
		send:    make(chan model.StateEntry, s.cfg.SendBuffer),
		done:    make(chan struct{}),
		lastSeq: make(map[model.Domain]uint64, len(model.Domains)),
	}
	if !s.register(cl) {
		conn.Close()
		return
	}
	s.logger.Info("client connected", "client", cl.id, "remote", c.ClientIP())

	// Subscribe first so no commit between the snapshot and the
	// subscription is missed; writePump drops the overlap.
	for _, d := range model.Domains {
		unsub, err := s.state.Subscribe(d, cl.push)
		if err != nil {
			s.logger.Error("subscribe failed", "client", cl.id, "domain", d, "err", err)
			cl.close()
			break
		}
		cl.track(unsub)
	}
	for _, e := range s.state.SnapshotAll() {
		cl.push(e)
	}

	go cl.writePump()
	go cl.readPump()
}

// push queues an entry. A client whose buffer is full is disconnected
// rather than allowed to stall delivery to others.
func (c *client) push(e model.StateEntry) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- e:
	default:
		c.s.logger.Warn("client too slow, disconnecting", "client", c.id)
		c.close()
	}
}

// track keeps unsub for close, or runs it at once if the client is
// already gone.
func (c *client) track(unsub func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		unsub()
		return
	}
	c.unsubs = append(c.unsubs, unsub)
	c.mu.Unlock()
}

// close tears the client down once. Safe from any goroutine.
func (c *client) close() {
	c.once.Do(func() {
		close(c.done)

		c.mu.Lock()
		c.closed = true
		unsubs := c.unsubs
		c.unsubs = nil
		c.mu.Unlock()
		for _, unsub := range unsubs {
			unsub()
		}
		c.conn.Close()
		c.s.unregister(c)
		c.s.logger.Info("client disconnected", "client", c.id)
	})
}

// readPump handles client commands and acts as the liveness watchdog.
func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.s.logger.Debug("websocket read error", "client", c.id, "err", err)
			}
			return
		}
		c.handleCommand(message)
	}
}

func (c *client) handleCommand(message []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.s.logger.Debug("ignoring malformed client message", "client", c.id, "err", err)
		return
	}

	var err error
	switch cmd.Type {
	case "refresh":
		var d model.Domain
		if d, err = model.ParseDomain(cmd.Domain); err == nil {
			err = c.s.state.Refresh(d)
		}
	case "chart_interval":
		err = c.s.state.SetChartInterval(cmd.Interval)
	default:
		return
	}
	if err != nil {
		c.s.logger.Debug("client command failed", "client", c.id, "type", cmd.Type, "err", err)
	}
}

// writePump sends queued entries and keeps the connection alive.
func (c *client) writePump() {
	ticker := time.NewTicker(c.s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return

		case e := <-c.send:
			if e.Sequence <= c.lastSeq[e.Domain] {
				continue
			}
			c.lastSeq[e.Domain] = e.Sequence

			c.conn.SetWriteDeadline(time.Now().Add(c.s.cfg.WriteTimeout))
			if err := c.conn.WriteJSON(newStateMessage(e)); err != nil {
				c.s.logger.Debug("websocket write error", "client", c.id, "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.s.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
