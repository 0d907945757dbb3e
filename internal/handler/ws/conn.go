package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/safe-connect/backend/internal/model/chat"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	maxFrame   = 16 << 10
)

// conn 把 websocket 连接适配为 chat.Conn。所有写操作都在 writePump 中完成。
type conn struct {
	ws   *websocket.Conn
	out  chan chat.Envelope
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func newConn(ws *websocket.Conn) *conn {
	c := &conn{
		ws:   ws,
		out:  make(chan chat.Envelope, sendBuffer),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Send 非阻塞入队；连接已关闭或缓冲已满时返回 false。
func (c *conn) Send(e chat.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- e:
		return true
	default:
		log.Warn().Str("type", e.Type).Msg("[websocket] send buffer full, frame dropped")
		return false
	}
}

// Close 在已排队的帧写完后关闭连接，可重复调用。
func (c *conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case e, ok := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := writeJSON(c.ws, e); err != nil {
				log.Debug().Err(err).Msg("[websocket] write failed")
				c.drain()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.drain()
				return
			}
		}
	}
}

// drain 在写失败后丢弃剩余帧，直到 Close 被调用。
func (c *conn) drain() {
	c.ws.Close()
	go func() {
		for range c.out {
		}
	}()
}

// writeJSON 关闭 HTML 转义，文本已在服务端清洗过。
func writeJSON(ws *websocket.Conn, v any) error {
	w, err := ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return w.Close()
}
