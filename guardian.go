// Package guardian embeds the process supervisor: it launches a fixed set
// of worker processes in order, monitors their liveness and HTTP health,
// restarts failures with exponential backoff, and shuts them down in
// reverse order.
package guardian

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/loykin/guardian/internal/config"
	"github.com/loykin/guardian/internal/health"
	"github.com/loykin/guardian/internal/history"
	"github.com/loykin/guardian/internal/logger"
	"github.com/loykin/guardian/internal/manager"
	"github.com/loykin/guardian/internal/orchestrator"
	"github.com/loykin/guardian/internal/probe"
	"github.com/loykin/guardian/internal/registry"
	"github.com/loykin/guardian/internal/server"
)

// Re-export core types for external consumers; aliases are zero-cost.

type Config = config.File

type Service = config.Service

type MonitorConfig = config.Monitor

type ServerConfig = config.Server

type HistoryConfig = config.History

type LogConfig = logger.Config

type HistorySink = history.Sink

type Phase = orchestrator.Phase

// LoadConfig reads and validates a TOML config file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// NewLogger builds the guardian logger (colored stdout + rolling file).
func NewLogger(c LogConfig) *slog.Logger { return logger.New(c) }

// NewHistorySink opens a SQL-backed lifecycle event sink for the DSN
// (SQLite path, sqlite:// or postgres://).
func NewHistorySink(dsn string) (HistorySink, error) { return history.NewSQLSink(dsn) }

// Guardian wires the registry, service manager, health checker, and
// orchestrator from one Config.
type Guardian struct {
	cfg  *Config
	reg  *registry.Registry
	orch *orchestrator.Orchestrator
}

// New builds a Guardian. log may be nil (slog default); sinks are optional.
func New(cfg *Config, log *slog.Logger, sinks ...HistorySink) *Guardian {
	reg := registry.New()
	mgr := manager.New(reg, probe.TCP{}, nil, cfg.Monitor.StartSettle, cfg.Log, log)
	hc := health.NewChecker(cfg.Monitor.HealthTimeout)
	orch := orchestrator.New(cfg, reg, mgr, hc, log, sinks...)
	return &Guardian{cfg: cfg, reg: reg, orch: orch}
}

// Run executes the full supervision lifecycle until ctx is cancelled, then
// performs the ordered shutdown. See orchestrator.Orchestrator.Run.
func (g *Guardian) Run(ctx context.Context) error { return g.orch.Run(ctx) }

// Phase reports the orchestrator's current lifecycle phase.
func (g *Guardian) Phase() Phase { return g.orch.Phase() }

// StatusServer starts the read-only status API for this guardian when the
// config enables it, returning nil otherwise.
func (g *Guardian) StatusServer() *http.Server {
	if !g.cfg.Server.Enabled {
		return nil
	}
	return server.NewServer(g.cfg.Server.Listen, g.cfg.Server.BasePath, g.reg)
}
