// Package status exposes service health and the quick-exit catalogue.
package status

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/safe-connect/backend/internal/model/exit"
	"github.com/zhouzirui/safe-connect/backend/pkg/utils"
)

// Reporter 提供桥接服务的运行状态。
type Reporter interface {
	Ready() bool
	ActiveSessions(ctx context.Context) (int, error)
}

// Response 只暴露计数，不暴露任何会话标识。
type Response struct {
	Ready          bool `json:"ready"`
	ActiveSessions int  `json:"activeSessions"`
}

// Handler 状态查询处理器
type Handler struct {
	reporter     Reporter
	destinations exit.Store
}

// New 创建状态处理器
func New(reporter Reporter, destinations exit.Store) *Handler {
	return &Handler{reporter: reporter, destinations: destinations}
}

// RegisterRoutes 注册状态相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.handleStatus)
	r.Get("/exits", h.handleListExits)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	n, err := h.reporter.ActiveSessions(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "bridge unavailable")
		return
	}
	utils.RespondJSON(w, http.StatusOK, Response{Ready: h.reporter.Ready(), ActiveSessions: n})
}

// handleListExits 列出前端可用的快速退出选项
func (h *Handler) handleListExits(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.destinations.List())
}
