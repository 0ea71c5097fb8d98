package tester

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"v2neko/internal/config"
	"v2neko/internal/xray"
	"v2neko/internal/xray/schema"

	"golang.org/x/net/proxy"
)

// Mode selects how a profile's latency is measured.
type Mode string

const (
	// ModeTCP times a TCP handshake with the server.
	ModeTCP Mode = "tcp"
	// ModeProxy times an HTTP request relayed through the profile.
	ModeProxy Mode = "proxy"
)

// Recorder receives probe outcomes; *metrics.Collector satisfies it.
type Recorder interface {
	RecordSuccess(time.Duration)
	RecordFailure(error)
}

type Tester struct {
	cfg config.ProbeConfig
	rec Recorder
}

type Job struct {
	ID       string
	Outbound schema.Outbound
}

type Result struct {
	ID    string
	Delay time.Duration
	Err   error
}

func New(cfg config.ProbeConfig, rec Recorder) *Tester {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Tester{cfg: cfg, rec: rec}
}

// TCPDelay measures the time to complete a TCP handshake with address:port.
func (t *Tester) TCPDelay(ctx context.Context, address string, port int) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	var d net.Dialer
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return 0, err
	}
	elapsed := time.Since(start)
	conn.Close()
	return elapsed, nil
}

// MakeClient returns an HTTP client that dials through the SOCKS5 listener
// at socksAddr.
func (t *Tester) MakeClient(socksAddr string) (*http.Client, error) {
	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, &net.Dialer{
		Timeout:   t.cfg.Timeout,
		KeepAlive: 30 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer does not support contexts")
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           cd.DialContext,
			ResponseHeaderTimeout: t.cfg.Timeout,
			DisableKeepAlives:     true,
		},
		Timeout: t.cfg.Timeout,
	}, nil
}

// ProxyDelay times a GET of the probe URL through socksAddr.
func (t *Tester) ProxyDelay(ctx context.Context, socksAddr string) (time.Duration, error) {
	client, err := t.MakeClient(socksAddr)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	elapsed := time.Since(start)

	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("probe failed with status: %d", resp.StatusCode)
	}
	return elapsed, nil
}

// ProbeOutbound runs o in an ephemeral in-process engine and measures an
// HTTP request through it.
func (t *Tester) ProbeOutbound(ctx context.Context, o schema.Outbound) (time.Duration, error) {
	port, instance, err := xray.StartEphemeral(o)
	if err != nil {
		return 0, err
	}
	defer instance.Close()
	return t.ProxyDelay(ctx, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
}

func (t *Tester) probe(ctx context.Context, job Job, mode Mode) (time.Duration, error) {
	if mode == ModeProxy {
		return t.ProbeOutbound(ctx, job.Outbound)
	}
	srv, _, ok := job.Outbound.Primary()
	if !ok {
		return 0, fmt.Errorf("profile %s has no server", job.ID)
	}
	return t.TCPDelay(ctx, srv.Address, srv.Port)
}

// Run probes every job on a bounded worker pool. onResult is called from a
// single goroutine, in completion order.
func (t *Tester) Run(ctx context.Context, jobs []Job, mode Mode, onResult func(Result)) {
	jobCh := make(chan Job)
	resCh := make(chan Result)

	var wg sync.WaitGroup
	for i := 0; i < t.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				d, err := t.probe(ctx, job, mode)
				if t.rec != nil {
					if err != nil {
						t.rec.RecordFailure(err)
					} else {
						t.rec.RecordSuccess(d)
					}
				}
				resCh <- Result{ID: job.ID, Delay: d, Err: err}
			}
		}()
	}

	go func() {
		defer close(jobCh)
		for _, job := range jobs {
			select {
			case jobCh <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resCh)
	}()

	for res := range resCh {
		if onResult != nil {
			onResult(res)
		}
	}
}
