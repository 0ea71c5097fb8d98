package metrics

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineEvents(t *testing.T) {
	c := New()
	c.EngineStarted("v2ray")
	c.EngineOutput("v2ray", 3)
	c.EngineStopped("v2ray")
	c.EngineStarted("v2ray")
	c.EngineFailed("xray-embedded")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.engineStarts.WithLabelValues("v2ray")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.engineStops.WithLabelValues("v2ray")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.engineRunning.WithLabelValues("v2ray")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.outputLines.WithLabelValues("v2ray")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.engineFailures.WithLabelValues("xray-embedded")))
}

func TestClassify(t *testing.T) {
	cases := map[string]string{
		"dial tcp: i/o timeout":              "timeout",
		"context deadline exceeded":          "timeout",
		"connect: connection refused":        "refused",
		"read: connection reset by peer":     "reset",
		"unexpected EOF":                     "eof",
		"lookup x.invalid: no such host":     "dns",
		"socks connect tcp: general failure": "other",
	}
	for msg, want := range cases {
		assert.Equal(t, want, Classify(errors.New(msg)), msg)
	}
}

func TestReport(t *testing.T) {
	c := New()
	c.RecordSuccess(100 * time.Millisecond)
	c.RecordSuccess(300 * time.Millisecond)
	c.RecordFailure(errors.New("i/o timeout"))
	c.RecordFailure(errors.New("connection refused"))

	var buf bytes.Buffer
	c.PrintReport(&buf, 5*time.Second)
	out := buf.String()
	assert.Contains(t, out, "Reachable:")
	assert.Contains(t, out, "timeout:")
	assert.Contains(t, out, "refused:")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.probeFailures.WithLabelValues("timeout")))
}

func TestHandler(t *testing.T) {
	c := New()
	c.EngineStarted("v2ray")

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `v2neko_engine_starts_total{engine="v2ray"} 1`)
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New().Serve(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
