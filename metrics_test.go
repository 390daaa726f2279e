package rcon_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/schultz-is/rcon-go/v2"
	"github.com/schultz-is/rcon-go/v2/internal/rcontest"
)

func TestMetricsRecordRequests(t *testing.T) {
	srv := rcontest.NewServer(t, "abc123", func(cmd string) (string, bool) {
		return cmd, cmd != "hang"
	})

	reg := prometheus.NewRegistry()
	cfg := srv.Config()
	cfg.Timeout = 100 * time.Millisecond
	cfg.Metrics = rcon.NewMetrics(rcon.MetricsConfig{
		Registry:    reg,
		ConstLabels: prometheus.Labels{"server": "test"},
	})

	ctx := context.Background()
	c, err := rcon.Dial(ctx, cfg)
	require.NoError(t, err)

	_, err = c.Send(ctx, "ping")
	require.NoError(t, err)
	_, err = c.Send(ctx, "hang")
	require.ErrorIs(t, err, rcon.ErrTimeout)
	require.NoError(t, c.End(ctx))

	// The authorization request counts as a request too.
	expected := `
# HELP rcon_client_connections_total Total number of connection attempts by result
# TYPE rcon_client_connections_total counter
rcon_client_connections_total{result="ok",server="test"} 1
# HELP rcon_client_pending_requests Number of requests awaiting a response
# TYPE rcon_client_pending_requests gauge
rcon_client_pending_requests{server="test"} 0
# HELP rcon_client_requests_total Total number of settled RCON requests by result
# TYPE rcon_client_requests_total counter
rcon_client_requests_total{result="ok",server="test"} 2
rcon_client_requests_total{result="timeout",server="test"} 1
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"rcon_client_connections_total",
		"rcon_client_pending_requests",
		"rcon_client_requests_total",
	)
	require.NoError(t, err)

	sent, err := testutil.GatherAndCount(reg, "rcon_client_packets_sent_total")
	require.NoError(t, err)
	require.Equal(t, 2, sent, "expected auth and exec_command series")
}

func TestMetricsRecordFailedConnections(t *testing.T) {
	srv := rcontest.NewServer(t, "abc123", nil)

	reg := prometheus.NewRegistry()
	cfg := srv.Config()
	cfg.Password = "wrong"
	cfg.Metrics = rcon.NewMetrics(rcon.MetricsConfig{Registry: reg, Namespace: "mc", Subsystem: "rcon"})

	_, err := rcon.Dial(context.Background(), cfg)
	require.ErrorIs(t, err, rcon.ErrAuthenticationFailed)

	expected := `
# HELP mc_rcon_connections_total Total number of connection attempts by result
# TYPE mc_rcon_connections_total counter
mc_rcon_connections_total{result="auth_failed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "mc_rcon_connections_total"))
}
