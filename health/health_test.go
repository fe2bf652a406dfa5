package health

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPingCheck(t *testing.T) {
	ok := PingCheck("redis", func(ctx context.Context) error { return nil })
	assert.True(t, ok.Run(context.Background()).IsHealthy())

	down := PingCheck("redis", func(ctx context.Context) error { return errors.New("connection refused") })
	s := down.Run(context.Background())
	assert.True(t, s.IsUnhealthy())
	assert.Equal(t, "connection refused", s.Details["error"])
}

func TestNetworkCheck(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.True(t, NetworkCheck(ctx, "127.0.0.1", port).IsHealthy())
	assert.True(t, NetworkCheck(ctx, "", port).IsUnhealthy())
	assert.True(t, NetworkCheck(ctx, "127.0.0.1", 70000).IsUnhealthy())
}

func TestEndpointCheckDegradesWhenUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	up := EndpointCheck("feed", "http://"+addr+"/feed.json")
	assert.True(t, up.Run(context.Background()).IsHealthy())

	require.NoError(t, ln.Close())
	down := EndpointCheck("feed", "http://"+addr+"/feed.json")
	assert.True(t, down.Run(context.Background()).IsDegraded())

	bad := EndpointCheck("feed", "::not a url")
	assert.True(t, bad.Run(context.Background()).IsUnhealthy())
}

func TestFileCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kubeconfig")
	require.NoError(t, os.WriteFile(path, []byte("apiVersion: v1"), 0o600))

	assert.True(t, FileCheck("kubeconfig", path).Run(context.Background()).IsHealthy())
	assert.True(t, FileCheck("kubeconfig", path+".missing").Run(context.Background()).IsUnhealthy())
	assert.True(t, FileCheck("kubeconfig", "").Run(context.Background()).IsUnhealthy())
}

func TestWorkerCheck(t *testing.T) {
	count := func(n int, err error) func(context.Context) (int, error) {
		return func(context.Context) (int, error) { return n, err }
	}

	assert.True(t, WorkerCheck(count(4, nil), 1).Run(context.Background()).IsHealthy())
	assert.True(t, WorkerCheck(count(0, nil), 1).Run(context.Background()).IsDegraded())
	assert.True(t, WorkerCheck(count(0, errors.New("down")), 1).Run(context.Background()).IsUnhealthy())
}

func TestBacklogCheck(t *testing.T) {
	depth := func(n int64) func(context.Context) (int64, error) {
		return func(context.Context) (int64, error) { return n, nil }
	}

	assert.True(t, BacklogCheck(depth(10), 100).Run(context.Background()).IsHealthy())
	assert.True(t, BacklogCheck(depth(101), 100).Run(context.Background()).IsDegraded())
	assert.True(t, BacklogCheck(depth(1_000_000), 0).Run(context.Background()).IsHealthy())
}

func TestCombine(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     string
	}{
		{name: "empty", want: StatusHealthy},
		{name: "all healthy", statuses: []Status{Healthy("a"), Healthy("b")}, want: StatusHealthy},
		{name: "one degraded", statuses: []Status{Healthy("a"), Degraded("b", nil)}, want: StatusDegraded},
		{name: "unhealthy wins", statuses: []Status{Degraded("a", nil), Unhealthy("b", nil)}, want: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Combine(tt.statuses...).Status)
		})
	}
}

func TestCheckerRun(t *testing.T) {
	slow := Check{Name: "slow", Run: func(ctx context.Context) Status {
		<-ctx.Done()
		return Unhealthy("slow timed out", nil)
	}}
	fast := PingCheck("redis", func(context.Context) error { return nil })

	c := NewChecker(50*time.Millisecond, fast, slow)
	assert.Equal(t, []string{"redis", "slow"}, c.Names())

	report := c.Run(context.Background())
	assert.True(t, report.IsUnhealthy())
	require.Len(t, report.Checks, 2)
	assert.True(t, report.Checks["redis"].IsHealthy())
	assert.True(t, report.Checks["slow"].IsUnhealthy())
	assert.Equal(t, []string{"slow timed out"}, report.Details["failed_checks"])
}

func TestCheckerFillsMissingMessage(t *testing.T) {
	c := NewChecker(0, Check{Name: "quiet", Run: func(context.Context) Status {
		return Status{Status: StatusDegraded}
	}})

	report := c.Run(context.Background())
	assert.Equal(t, "quiet", report.Checks["quiet"].Message)
	assert.Equal(t, []string{"quiet"}, report.Details["degraded_checks"])
}
