package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router HTTP 路由器
type Router struct {
	mux     *http.ServeMux
	handler *Handler
	logger  *zap.Logger
}

// NewRouter 创建路由器并注册全部路由
func NewRouter(handler *Handler, logger *zap.Logger) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		handler: handler,
		logger:  logger,
	}
	r.registerRoutes()
	return r
}

func (r *Router) registerRoutes() {
	// 事件与回应
	r.mux.HandleFunc("/inactivity/api/v1/events", r.handler.HandleEvents)
	r.mux.HandleFunc("/inactivity/api/v1/responses", r.handler.HandleResponses)

	// 设备
	r.mux.HandleFunc("/inactivity/api/v1/devices", r.handler.HandleDevices)
	r.mux.HandleFunc("/inactivity/api/v1/devices/", r.handler.HandleDeviceSubtree)

	// 会话
	r.mux.HandleFunc("/inactivity/api/v1/sessions", r.handler.HandleSessions)
	r.mux.HandleFunc("/inactivity/api/v1/sessions/", r.handler.HandleSessionSubtree)

	// 报警
	r.mux.HandleFunc("/inactivity/api/v1/alerts", r.handler.HandleAlerts)
	r.mux.HandleFunc("/inactivity/api/v1/alerts/", r.handler.HandleAlertSubtree)

	// 健康检查
	r.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
}

// ServeHTTP 实现 http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}
