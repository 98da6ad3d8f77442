package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/z-therapist/backend/internal/session"
)

const writeWait = 10 * time.Second

// client 是一条实时连接，出站事件经有界队列由 writePump 串行写出。
type client struct {
	id     string
	conn   *websocket.Conn
	send   chan session.Event
	frames *rate.Limiter
	done   chan struct{}
	once   sync.Once
	log    *logrus.Entry
}

func newClient(id string, conn *websocket.Conn, buffer int, frameRate float64, frameBurst int) *client {
	return &client{
		id:     id,
		conn:   conn,
		send:   make(chan session.Event, buffer),
		frames: rate.NewLimiter(rate.Limit(frameRate), frameBurst),
		done:   make(chan struct{}),
		log:    logrus.WithFields(logrus.Fields{"component": "realtime", "connection_id": id}),
	}
}

// ID implements session.Peer.
func (c *client) ID() string { return c.id }

// Send implements session.Peer. It never blocks; a full queue or a closed
// connection drops the event.
func (c *client) Send(evt session.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- evt:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *client) sendError(message string) {
	if !c.Send(session.NewEvent(session.EventError, "", map[string]string{"message": message})) {
		c.log.Warn("error event dropped")
	}
}

// writePump 串行写出队列中的事件并定期发送 ping。
func (c *client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case evt := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(evt); err != nil {
				c.log.WithError(err).Debug("write failed")
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}
