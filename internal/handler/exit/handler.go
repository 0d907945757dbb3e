// Package exit serves the quick-exit route that wipes browser state before
// leaving the site.
package exit

import (
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	exitModel "github.com/zhouzirui/safe-connect/backend/internal/model/exit"
	"github.com/zhouzirui/safe-connect/backend/internal/service/erasure"
	"github.com/zhouzirui/safe-connect/backend/pkg/utils"
)

// ClearSiteData 要求浏览器清除本站的缓存、cookie 和存储。
const ClearSiteData = `"cache", "cookies", "storage"`

// 浏览器不会跟随指向 about:blank 的 Location，这里用页面脚本替换当前历史项。
var blankPage = template.Must(template.New("blank").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><meta name="referrer" content="no-referrer"><title></title></head>
<body><script>window.location.replace({{.}});</script></body></html>
`))

// Handler 快速退出处理器
type Handler struct {
	destinations exitModel.Store
}

// New 创建快速退出处理器
func New(destinations exitModel.Store) *Handler {
	return &Handler{destinations: destinations}
}

// RegisterRoutes 注册退出路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get(erasure.ExitPath, h.handleExit)
}

func (h *Handler) handleExit(w http.ResponseWriter, r *http.Request) {
	variant := r.URL.Query().Get("to")

	utils.NoStore(w)
	w.Header().Set("Clear-Site-Data", ClearSiteData)

	if variant == erasure.VariantRestart {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	dest := exitModel.Resolve(h.destinations, variant)
	if dest.URL == exitModel.BlankURL {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := blankPage.Execute(w, dest.URL); err != nil {
			log.Warn().Err(err).Msg("[exit] render blank page failed")
		}
		return
	}
	http.Redirect(w, r, dest.URL, http.StatusSeeOther)
}
