package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"supermafia/judge/internal/config"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK      bool          `json:"ok"`
	Checks  []CheckResult `json:"checks"`
	CheckedAt time.Time   `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// Pinger checks that the reasoning service answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckAll runs all health checks and returns combined status
func CheckAll(ctx context.Context, cfg config.Config, host Pinger, client *http.Client) HealthStatus {
	if client == nil {
		client = http.DefaultClient
	}
	checks := []CheckResult{
		checkLiveKit(ctx, cfg, client),
		checkHost(ctx, host),
	}

	allOK := true
	for _, c := range checks {
		if !c.OK {
			allOK = false
		}
	}

	return HealthStatus{
		OK:        allOK,
		Checks:    checks,
		CheckedAt: time.Now().UTC(),
	}
}

// httpURL maps a LiveKit signalling URL onto the server's HTTP endpoint.
func httpURL(u string) string {
	switch {
	case strings.HasPrefix(u, "wss://"):
		return "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		return "http://" + strings.TrimPrefix(u, "ws://")
	}
	return u
}

func checkLiveKit(ctx context.Context, cfg config.Config, client *http.Client) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "livekit"}

	if !cfg.HasLiveKitCredentials() {
		result.Error = "LIVEKIT_URL, LIVEKIT_API_KEY or LIVEKIT_API_SECRET not set"
		result.Latency = time.Since(start)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, "GET", httpURL(cfg.LiveKit.URL), nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}

	resp, err := client.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	result.Latency = time.Since(start)

	if resp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body))
		return result
	}

	io.Copy(io.Discard, resp.Body)

	result.OK = true
	return result
}

func checkHost(ctx context.Context, host Pinger) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "host"}

	if host == nil {
		result.Error = "host client not configured"
		return result
	}
	err := host.Ping(ctx)
	result.Latency = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.OK = true
	return result
}
