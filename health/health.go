package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"
)

// DefaultTimeout bounds each check run by a Checker.
const DefaultTimeout = 5 * time.Second

// CheckFunc reports the health of one dependency.
type CheckFunc func(ctx context.Context) Status

// Check is a named CheckFunc.
type Check struct {
	Name string
	Run  CheckFunc
}

// PingCheck is healthy when ping returns nil.
//
// Example:
//
//	health.PingCheck("redis", queue.Ping)
func PingCheck(name string, ping func(ctx context.Context) error) Check {
	return Check{Name: name, Run: func(ctx context.Context) Status {
		if err := ping(ctx); err != nil {
			return Unhealthy(
				fmt.Sprintf("%s ping failed", name),
				map[string]any{"error": err.Error()},
			)
		}
		return Healthy(fmt.Sprintf("%s reachable", name))
	}}
}

// NetworkCheck verifies TCP connectivity to host:port.
func NetworkCheck(ctx context.Context, host string, port int) Status {
	if host == "" {
		return Unhealthy("host cannot be empty", nil)
	}
	if port <= 0 || port > 65535 {
		return Unhealthy(
			fmt.Sprintf("invalid port number: %d", port),
			map[string]any{"port": port},
		)
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return Unhealthy(
			fmt.Sprintf("failed to connect to %s", address),
			map[string]any{
				"host":  host,
				"port":  port,
				"error": err.Error(),
			},
		)
	}
	conn.Close()

	return Healthy(fmt.Sprintf("successfully connected to %s", address))
}

// EndpointCheck dials the host of rawURL. A feed that cannot be reached only
// degrades the process, since findings from other sources still flow.
func EndpointCheck(name, rawURL string) Check {
	return Check{Name: name, Run: func(ctx context.Context) Status {
		u, err := url.Parse(rawURL)
		if err != nil || u.Hostname() == "" {
			return Unhealthy(fmt.Sprintf("invalid %s url", name), map[string]any{"url": rawURL})
		}

		port := 443
		if u.Scheme == "http" {
			port = 80
		}
		if p := u.Port(); p != "" {
			port, _ = strconv.Atoi(p)
		}

		status := NetworkCheck(ctx, u.Hostname(), port)
		if status.IsUnhealthy() {
			return Degraded(status.Message, status.Details)
		}
		return status
	}}
}

// FileCheck verifies that path exists, e.g. a kubeconfig.
func FileCheck(name, path string) Check {
	return Check{Name: name, Run: func(context.Context) Status {
		if path == "" {
			return Unhealthy("path cannot be empty", nil)
		}
		if _, err := os.Stat(path); err != nil {
			return Unhealthy(
				fmt.Sprintf("path '%s' is not accessible", path),
				map[string]any{"path": path, "error": err.Error()},
			)
		}
		return Healthy(fmt.Sprintf("path '%s' exists", path))
	}}
}

// WorkerCheck is degraded when fewer than min workers are registered.
func WorkerCheck(count func(ctx context.Context) (int, error), min int) Check {
	return Check{Name: "workers", Run: func(ctx context.Context) Status {
		n, err := count(ctx)
		if err != nil {
			return Unhealthy("failed to read worker count", map[string]any{"error": err.Error()})
		}
		if n < min {
			return Degraded(
				fmt.Sprintf("%d worker(s) registered, want at least %d", n, min),
				map[string]any{"workers": n, "min": min},
			)
		}
		return Healthy(fmt.Sprintf("%d worker(s) registered", n))
	}}
}

// BacklogCheck is degraded when more than max events are waiting.
func BacklogCheck(depth func(ctx context.Context) (int64, error), max int64) Check {
	return Check{Name: "backlog", Run: func(ctx context.Context) Status {
		n, err := depth(ctx)
		if err != nil {
			return Unhealthy("failed to read queue depth", map[string]any{"error": err.Error()})
		}
		if max > 0 && n > max {
			return Degraded(
				fmt.Sprintf("%d event(s) waiting, above %d", n, max),
				map[string]any{"depth": n, "max": max},
			)
		}
		return Healthy(fmt.Sprintf("%d event(s) waiting", n))
	}}
}

// Combine aggregates statuses into one:
//   - If any status is unhealthy, the result is unhealthy
//   - If any status is degraded (and none unhealthy), the result is degraded
//   - Otherwise the result is healthy
func Combine(statuses ...Status) Status {
	if len(statuses) == 0 {
		return Healthy("no checks provided")
	}

	var unhealthy, degraded []string
	var healthyCount int

	for _, s := range statuses {
		msg := s.Message
		if msg == "" {
			msg = "unnamed check"
		}
		switch s.Status {
		case StatusUnhealthy:
			unhealthy = append(unhealthy, msg)
		case StatusDegraded:
			degraded = append(degraded, msg)
		case StatusHealthy:
			healthyCount++
		}
	}

	if len(unhealthy) > 0 {
		return Unhealthy(
			fmt.Sprintf("%d check(s) failed", len(unhealthy)),
			map[string]any{
				"total":         len(statuses),
				"unhealthy":     len(unhealthy),
				"degraded":      len(degraded),
				"healthy":       healthyCount,
				"failed_checks": unhealthy,
			},
		)
	}

	if len(degraded) > 0 {
		return Degraded(
			fmt.Sprintf("%d check(s) degraded", len(degraded)),
			map[string]any{
				"total":           len(statuses),
				"degraded":        len(degraded),
				"healthy":         healthyCount,
				"degraded_checks": degraded,
			},
		)
	}

	return Healthy(fmt.Sprintf("all %d check(s) passed", len(statuses)))
}

// Report is the result of one Checker run.
type Report struct {
	Status
	Checks map[string]Status `json:"checks"`
}

// Checker runs a fixed set of checks concurrently.
type Checker struct {
	checks  []Check
	timeout time.Duration
}

// NewChecker creates a Checker. A non-positive timeout uses DefaultTimeout.
func NewChecker(timeout time.Duration, checks ...Check) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{checks: checks, timeout: timeout}
}

// Names returns the check names in sorted order.
func (c *Checker) Names() []string {
	names := make([]string, 0, len(c.checks))
	for _, check := range c.checks {
		names = append(names, check.Name)
	}
	sort.Strings(names)
	return names
}

// Run executes every check and combines the results.
func (c *Checker) Run(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var mu sync.Mutex
	var wg sync.WaitGroup
	results := make(map[string]Status, len(c.checks))

	for _, check := range c.checks {
		wg.Add(1)
		go func(check Check) {
			defer wg.Done()
			s := check.Run(ctx)
			if s.Message == "" {
				s.Message = check.Name
			}
			mu.Lock()
			results[check.Name] = s
			mu.Unlock()
		}(check)
	}
	wg.Wait()

	statuses := make([]Status, 0, len(results))
	for _, name := range c.Names() {
		statuses = append(statuses, results[name])
	}
	return Report{Status: Combine(statuses...), Checks: results}
}
