package tester

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"v2neko/internal/config"
	"v2neko/internal/xray/schema"
)

func listenTCP(t *testing.T) (string, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	addr := l.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

// serveSOCKS5 accepts unauthenticated CONNECT requests and relays them.
func serveSOCKS5(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go relaySOCKS5(c)
		}
	}()
	return l.Addr().String()
}

func relaySOCKS5(c net.Conn) {
	defer c.Close()
	buf := make([]byte, 262)

	if _, err := io.ReadFull(c, buf[:2]); err != nil {
		return
	}
	if _, err := io.ReadFull(c, buf[:buf[1]]); err != nil {
		return
	}
	if _, err := c.Write([]byte{5, 0}); err != nil {
		return
	}

	if _, err := io.ReadFull(c, buf[:4]); err != nil {
		return
	}
	var host string
	switch buf[3] {
	case 1:
		if _, err := io.ReadFull(c, buf[:4]); err != nil {
			return
		}
		host = net.IP(buf[:4]).String()
	case 3:
		if _, err := io.ReadFull(c, buf[:1]); err != nil {
			return
		}
		n := int(buf[0])
		if _, err := io.ReadFull(c, buf[:n]); err != nil {
			return
		}
		host = string(buf[:n])
	case 4:
		if _, err := io.ReadFull(c, buf[:16]); err != nil {
			return
		}
		host = net.IP(buf[:16]).String()
	default:
		return
	}
	if _, err := io.ReadFull(c, buf[:2]); err != nil {
		return
	}
	port := binary.BigEndian.Uint16(buf[:2])

	upstream, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		_, _ = c.Write([]byte{5, 5, 0, 1, 0, 0, 0, 0, 0, 0})
		return
	}
	defer upstream.Close()
	if _, err := c.Write([]byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0}); err != nil {
		return
	}

	done := make(chan struct{}, 2)
	go func() { _, _ = io.Copy(upstream, c); done <- struct{}{} }()
	go func() { _, _ = io.Copy(c, upstream); done <- struct{}{} }()
	<-done
}

type recorder struct {
	mu       sync.Mutex
	success  int
	failures int
}

func (r *recorder) RecordSuccess(time.Duration) { r.mu.Lock(); r.success++; r.mu.Unlock() }
func (r *recorder) RecordFailure(error)         { r.mu.Lock(); r.failures++; r.mu.Unlock() }

func testConfig(url string) config.ProbeConfig {
	return config.ProbeConfig{Timeout: 2 * time.Second, Workers: 2, URL: url}
}

func outboundAt(host string, port int) schema.Outbound {
	return schema.Outbound{
		Protocol: "vmess",
		Tag:      "PROXY",
		Settings: schema.VMessSettings{Vnext: []schema.VMessServer{{
			Address: host,
			Port:    port,
			Users:   []schema.VMessUser{{ID: "b831381d-6324-4d53-ad4f-8cda48b30811", Security: "auto"}},
		}}},
	}
}

func TestNewDefaults(t *testing.T) {
	tr := New(config.ProbeConfig{}, nil)
	assert.Equal(t, 5*time.Second, tr.cfg.Timeout)
	assert.Equal(t, 1, tr.cfg.Workers)
}

func TestTCPDelay(t *testing.T) {
	host, port := listenTCP(t)
	tr := New(testConfig(""), nil)

	d, err := tr.TCPDelay(context.Background(), host, port)
	require.NoError(t, err)
	assert.Positive(t, d)

	_, err = tr.TCPDelay(context.Background(), "127.0.0.1", closedPort(t))
	assert.Error(t, err)
}

func TestProxyDelay(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer target.Close()

	tr := New(testConfig(target.URL), nil)
	d, err := tr.ProxyDelay(context.Background(), serveSOCKS5(t))
	require.NoError(t, err)
	assert.Positive(t, d)
}

func TestProxyDelayBadStatus(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer target.Close()

	tr := New(testConfig(target.URL), nil)
	_, err := tr.ProxyDelay(context.Background(), serveSOCKS5(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestProxyDelayNoProxy(t *testing.T) {
	tr := New(testConfig("http://example.invalid/"), nil)
	_, err := tr.ProxyDelay(context.Background(), net.JoinHostPort("127.0.0.1", strconv.Itoa(closedPort(t))))
	assert.Error(t, err)
}

func TestRunTCP(t *testing.T) {
	host, port := listenTCP(t)
	rec := &recorder{}
	tr := New(testConfig(""), rec)

	jobs := []Job{
		{ID: "up", Outbound: outboundAt(host, port)},
		{ID: "down", Outbound: outboundAt("127.0.0.1", closedPort(t))},
		{ID: "empty", Outbound: schema.Outbound{Protocol: "vmess", Settings: schema.VMessSettings{}}},
	}

	results := map[string]Result{}
	tr.Run(context.Background(), jobs, ModeTCP, func(r Result) { results[r.ID] = r })

	require.Len(t, results, 3)
	assert.NoError(t, results["up"].Err)
	assert.Positive(t, results["up"].Delay)
	assert.Error(t, results["down"].Err)
	assert.Error(t, results["empty"].Err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.success)
	assert.Equal(t, 2, rec.failures)
}

func TestRunCancelled(t *testing.T) {
	host, port := listenTCP(t)
	tr := New(testConfig(""), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var got []Result
	tr.Run(ctx, []Job{{ID: "a", Outbound: outboundAt(host, port)}}, ModeTCP, func(r Result) {
		got = append(got, r)
	})
	for _, r := range got {
		assert.True(t, r.Err == nil || errors.Is(r.Err, context.Canceled))
	}
}
