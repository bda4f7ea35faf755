package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/guardian/internal/logger"
)

// Configuration errors are fatal: they abort before any service is spawned.
var (
	ErrNoServices    = fmt.Errorf("config: no services defined")
	ErrDuplicateName = fmt.Errorf("config: duplicate service name")
	ErrDuplicatePort = fmt.Errorf("config: duplicate service port")
)

// Service is one supervised worker descriptor. The list order is the start
// order; shutdown runs in reverse.
type Service struct {
	Name       string   `mapstructure:"name"`
	Port       int      `mapstructure:"port"`
	Command    string   `mapstructure:"command"`
	WorkDir    string   `mapstructure:"workdir"`
	HealthPath string   `mapstructure:"health_path"`
	Env        []string `mapstructure:"env"`
}

// Monitor holds the timing policy of the supervision loop.
type Monitor struct {
	Interval      time.Duration `mapstructure:"interval"`       // monitoring cycle period
	InitialDelay  time.Duration `mapstructure:"initial_delay"`  // before the first cycle
	StartSettle   time.Duration `mapstructure:"start_settle"`   // after spawn, before bind check
	StartSpacing  time.Duration `mapstructure:"start_spacing"`  // between ordered service starts
	HealthTimeout time.Duration `mapstructure:"health_timeout"` // per HTTP probe
	StopGrace     time.Duration `mapstructure:"stop_grace"`     // TERM wait
	StopKill      time.Duration `mapstructure:"stop_kill"`      // KILL wait
}

// Server configures the optional read-only status API.
type Server struct {
	Enabled  bool   `mapstructure:"enabled"`
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

// History configures the optional lifecycle-event sink. The DSN selects the
// backend: a filesystem path or sqlite:// for SQLite, postgres:// for
// PostgreSQL. Empty disables it.
type History struct {
	DSN string `mapstructure:"dsn"`
}

// File is the top-level TOML structure.
type File struct {
	Log      logger.Config `mapstructure:"log"`
	Monitor  Monitor       `mapstructure:"monitor"`
	Server   Server        `mapstructure:"server"`
	History  History       `mapstructure:"history"`
	Services []Service     `mapstructure:"services"`
}

// Load reads and validates a TOML config file.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc File
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	fc.applyDefaults()
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (f *File) applyDefaults() {
	m := &f.Monitor
	if m.Interval <= 0 {
		m.Interval = 30 * time.Second
	}
	if m.InitialDelay < 0 {
		m.InitialDelay = 0
	}
	if m.StartSettle <= 0 {
		m.StartSettle = 2 * time.Second
	}
	if m.StartSpacing <= 0 {
		m.StartSpacing = 3 * time.Second
	}
	if m.HealthTimeout <= 0 {
		m.HealthTimeout = 5 * time.Second
	}
	if m.StopGrace <= 0 {
		m.StopGrace = 10 * time.Second
	}
	if m.StopKill <= 0 {
		m.StopKill = 5 * time.Second
	}
	if f.Server.Listen == "" {
		f.Server.Listen = "127.0.0.1:8090"
	}
	for i := range f.Services {
		if f.Services[i].HealthPath == "" {
			f.Services[i].HealthPath = "/health"
		}
	}
}

// Validate enforces the descriptor invariants: at least one service, and
// unique names and ports across the set.
func (f *File) Validate() error {
	if len(f.Services) == 0 {
		return ErrNoServices
	}
	names := make(map[string]struct{}, len(f.Services))
	ports := make(map[int]struct{}, len(f.Services))
	for _, s := range f.Services {
		if s.Name == "" {
			return fmt.Errorf("config: service with empty name")
		}
		if s.Port <= 0 {
			return fmt.Errorf("config: service %q: port must be positive, got %d", s.Name, s.Port)
		}
		if s.Command == "" {
			return fmt.Errorf("config: service %q: empty command", s.Name)
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateName, s.Name)
		}
		if _, dup := ports[s.Port]; dup {
			return fmt.Errorf("%w: %d (service %q)", ErrDuplicatePort, s.Port, s.Name)
		}
		names[s.Name] = struct{}{}
		ports[s.Port] = struct{}{}
	}
	return nil
}
