package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/loykin/guardian/internal/config"
)

// Verdict is the outcome of one HTTP health probe.
type Verdict int

const (
	VerdictHealthy Verdict = iota
	VerdictUnhealthy
	VerdictUnreachable
)

func (v Verdict) String() string {
	switch v {
	case VerdictHealthy:
		return "healthy"
	case VerdictUnhealthy:
		return "unhealthy"
	default:
		return "unreachable"
	}
}

// Report carries the verdict plus diagnostics for logging. Unhealthy and
// Unreachable are treated identically by the restart policy but logged with
// their distinct causes.
type Report struct {
	Verdict    Verdict
	StatusCode int
	Err        error
}

// healthBody is the contract every worker's health endpoint must satisfy:
// HTTP 200 with at least {"status":"healthy","service":...,"port":...}.
type healthBody struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Port    int    `json:"port"`
}

// Checker probes worker health endpoints over HTTP.
type Checker struct {
	client  *http.Client
	timeout time.Duration
}

func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Check issues GET http://localhost:{port}{health_path}. Connection failure
// or timeout is Unreachable; any non-200 status, malformed body, or status
// field mismatch is Unhealthy.
func (c *Checker) Check(ctx context.Context, svc config.Service) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("http://localhost:%d%s", svc.Port, svc.HealthPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Report{Verdict: VerdictUnreachable, Err: err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Report{Verdict: VerdictUnreachable, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Report{
			Verdict:    VerdictUnhealthy,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("health endpoint returned %d", resp.StatusCode),
		}
	}
	var body healthBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Report{
			Verdict:    VerdictUnhealthy,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("malformed health body: %w", err),
		}
	}
	if body.Status != "healthy" {
		return Report{
			Verdict:    VerdictUnhealthy,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("health status %q", body.Status),
		}
	}
	return Report{Verdict: VerdictHealthy, StatusCode: resp.StatusCode}
}
