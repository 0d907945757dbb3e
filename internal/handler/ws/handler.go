// Package ws serves the visitor websocket endpoint.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/safe-connect/backend/internal/model/chat"
	"github.com/zhouzirui/safe-connect/backend/internal/service/bridge"
)

const closeWait = 15 * time.Second

// Sessions 是 websocket 处理器依赖的会话桥接能力。
type Sessions interface {
	Open(ctx context.Context, conn chat.Conn) (string, error)
	Submit(ctx context.Context, id string, env chat.Envelope) error
	Disconnect(id string)
}

// Handler WebSocket 会话处理器
type Handler struct {
	sessions Sessions
	upgrader websocket.Upgrader
}

// New 创建处理器。allowedOrigins 为空时只接受同源请求，"*" 表示放行所有来源。
func New(sessions Sessions, allowedOrigins []string) *Handler {
	return &Handler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册 WebSocket 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		// gorilla 默认的同源检查
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

// handleWebSocket 每个连接对应一个匿名会话，连接断开即触发擦除。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("[websocket] upgrade failed")
		return
	}

	c := newConn(ws)
	defer func() {
		c.Close()
		select {
		case <-c.done:
		case <-time.After(closeWait):
		}
	}()

	// 会话不绑定请求上下文，断开由 Disconnect 显式处理。
	ctx := context.Background()
	id, err := h.sessions.Open(ctx, c)
	if err != nil {
		log.Error().Err(err).Msg("[websocket] open session failed")
		c.Send(chat.ErrorEnvelope(bridge.NoticeNotReady, ""))
		return
	}
	defer h.sessions.Disconnect(id)

	ws.SetReadLimit(maxFrame)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("[websocket] read error")
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		var env chat.Envelope
		if err := json.Unmarshal(payload, &env); err != nil || env.Type == "" {
			c.Send(chat.ErrorEnvelope(bridge.NoticeBadPayload, ""))
			continue
		}
		if err := h.sessions.Submit(ctx, id, env); err != nil {
			log.Debug().Err(err).Msg("[websocket] submit after bridge stop")
			return
		}
	}
}
