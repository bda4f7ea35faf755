package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/guardian/internal/metrics"
	"github.com/loykin/guardian/internal/registry"
)

// Router exposes the guardian's read-only status API.
// Endpoints under basePath:
//
//	GET /status          all services
//	GET /status/:name    one service
//	GET /healthz         guardian's own liveness
//	GET /metrics         Prometheus metrics
type Router struct {
	reg      *registry.Registry
	basePath string
}

func NewRouter(reg *registry.Registry, basePath string) *Router {
	return &Router{reg: reg, basePath: sanitizeBase(basePath)}
}

// ServiceStatus is the wire form of one registry snapshot.
type ServiceStatus struct {
	Name                string `json:"name"`
	Ownership           string `json:"ownership"`
	PID                 int    `json:"pid,omitempty"`
	Health              string `json:"health"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	RestartCount        int    `json:"restart_count"`
	LastRestartAt       string `json:"last_restart_at,omitempty"`
	StartedAt           string `json:"started_at,omitempty"`
}

func toStatus(st registry.State) ServiceStatus {
	out := ServiceStatus{
		Name:                st.Name,
		Ownership:           st.Ownership.String(),
		PID:                 st.PID,
		Health:              st.LastHealth.String(),
		ConsecutiveFailures: st.ConsecutiveFailures,
		RestartCount:        st.RestartCount,
	}
	if !st.LastRestartAt.IsZero() {
		out.LastRestartAt = st.LastRestartAt.UTC().Format(time.RFC3339)
	}
	if !st.StartedAt.IsZero() {
		out.StartedAt = st.StartedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// Handler returns a gin-powered http.Handler mountable in any mux.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatusAll)
	group.GET("/status/:name", r.handleStatusOne)
	group.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "guardian"})
	})
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

func (r *Router) handleStatusAll(c *gin.Context) {
	all := r.reg.SnapshotAll()
	out := make([]ServiceStatus, 0, len(all))
	for _, st := range all {
		out = append(out, toStatus(st))
	}
	c.JSON(http.StatusOK, out)
}

func (r *Router) handleStatusOne(c *gin.Context) {
	name := c.Param("name")
	st, ok := r.reg.Snapshot(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown service: " + name})
		return
	}
	c.JSON(http.StatusOK, toStatus(st))
}

// NewServer starts a standalone status server on addr. Callers shut it down
// via http.Server.Shutdown or Close.
func NewServer(addr, basePath string, reg *registry.Registry) *http.Server {
	r := NewRouter(reg, basePath)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}
