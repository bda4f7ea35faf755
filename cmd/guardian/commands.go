package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/guardian"
	"github.com/loykin/guardian/internal/metrics"
)

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	ConfigPath string
}

// StatusFlags holds flags for the status command.
type StatusFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Name       string
}

func newServeCmd() *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start all configured services and supervise them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags)
		},
	}
	cmd.Flags().StringVarP(&flags.ConfigPath, "config", "c", "guardian.toml", "path to TOML config")
	return cmd
}

func runServe(flags *ServeFlags) error {
	cfg, err := guardian.LoadConfig(flags.ConfigPath)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}
	log := guardian.NewLogger(cfg.Log)
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	var sinks []guardian.HistorySink
	if cfg.History.DSN != "" {
		sink, err := guardian.NewHistorySink(cfg.History.DSN)
		if err != nil {
			log.Error("history sink unavailable, continuing without it", "error", err)
		} else {
			defer func() { _ = sink.Close() }()
			sinks = append(sinks, sink)
		}
	}

	g := guardian.New(cfg, log, sinks...)
	if srv := g.StatusServer(); srv != nil {
		log.Info("status API listening", "addr", cfg.Server.Listen)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		log.Info("shutdown signal received", "signal", s.String())
		cancel()
		// A second signal bypasses graceful shutdown.
		s = <-sigc
		log.Warn("second signal, hard exit", "signal", s.String())
		os.Exit(exitRun)
	}()

	if err := g.Run(ctx); err != nil {
		log.Error("shutdown incomplete", "error", err)
		os.Exit(exitRun)
	}
	log.Info("shutdown complete")
	return nil
}

func newValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config without starting any service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := guardian.LoadConfig(configPath)
			if err != nil {
				_, _ = fmt.Fprintln(os.Stderr, err)
				os.Exit(exitConfig)
			}
			fmt.Printf("config ok: %d services\n", len(cfg.Services))
			for _, s := range cfg.Services {
				fmt.Printf("  %-24s port %-6d %s\n", s.Name, s.Port, s.HealthPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "guardian.toml", "path to TOML config")
	return cmd
}

func newStatusCmd() *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running guardian's status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(flags)
		},
	}
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "http://127.0.0.1:8090", "guardian status API base URL")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 5*time.Second, "request timeout")
	cmd.Flags().StringVar(&flags.Name, "name", "", "only this service")
	return cmd
}

type serviceStatus struct {
	Name                string `json:"name"`
	Ownership           string `json:"ownership"`
	PID                 int    `json:"pid"`
	Health              string `json:"health"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	RestartCount        int    `json:"restart_count"`
}

func runStatus(flags *StatusFlags) error {
	url := flags.APIUrl + "/status"
	if flags.Name != "" {
		url += "/" + flags.Name
	}
	client := &http.Client{Timeout: flags.APITimeout}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("guardian unreachable at %s: %w", flags.APIUrl, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status API returned %d", resp.StatusCode)
	}

	var list []serviceStatus
	if flags.Name != "" {
		var one serviceStatus
		if err := json.NewDecoder(resp.Body).Decode(&one); err != nil {
			return err
		}
		list = []serviceStatus{one}
	} else if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return err
	}
	fmt.Printf("%-24s %-10s %-8s %-12s %-8s %s\n",
		"SERVICE", "OWNER", "PID", "HEALTH", "FAILS", "RESTARTS")
	for _, s := range list {
		fmt.Printf("%-24s %-10s %-8d %-12s %-8d %d\n",
			s.Name, s.Ownership, s.PID, s.Health, s.ConsecutiveFailures, s.RestartCount)
	}
	return nil
}
