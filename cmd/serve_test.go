package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinecard/cinecard/internal/api"
	"github.com/cinecard/cinecard/internal/config"
)

func TestResolvePort(t *testing.T) {
	assert.Equal(t, 9090, resolvePort(9090, 8080))
	assert.Equal(t, 8080, resolvePort(0, 8080))
	assert.Equal(t, 0, resolvePort(0, 0))
}

func TestStartServer_GracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := api.NewServer(api.Deps{}, api.Options{}).Handler()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	errCh := make(chan error, 1)
	go func() {
		errCh <- startServer(ctx, handler, port)
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	var resp *http.Response
	for range 50 {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err, "server did not become ready in time")
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestBackgroundLoops_IntervalsFromConfig(t *testing.T) {
	cfg = &config.Config{
		Refresh:   config.RefreshConfig{IntervalSecs: 60, SweepIntervalMins: 0},
		Discovery: config.DiscoveryConfig{Source: "bogus", IntervalMins: 30},
	}

	loops := backgroundLoops(&appEnv{})
	require.Len(t, loops, 3)

	enabled := map[string]bool{}
	for _, l := range loops {
		enabled[l.Name()] = l.Enabled()
	}
	assert.Equal(t, map[string]bool{"refresh": true, "sweep": false, "discovery": true}, enabled)
}
