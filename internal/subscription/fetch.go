// Package subscription downloads subscription bodies that list share links.
package subscription

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"v2neko/internal/logger"

	"golang.org/x/net/proxy"
)

const maxBody = 16 << 20

type Options struct {
	Timeout time.Duration
	// Proxy is an optional http://, https:// or socks5:// URL to fetch through.
	Proxy string
}

// IsURL reports whether s looks like a subscription address rather than a
// file path.
func IsURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func newClient(opts Options) (*http.Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	client := &http.Client{Timeout: opts.Timeout}
	if opts.Proxy == "" {
		return client, nil
	}

	pURL, err := url.Parse(opts.Proxy)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	switch pURL.Scheme {
	case "http", "https":
		client.Transport = &http.Transport{Proxy: http.ProxyURL(pURL)}
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(pURL, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create proxy dialer: %w", err)
		}
		cd, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("proxy dialer does not support contexts")
		}
		client.Transport = &http.Transport{DialContext: cd.DialContext}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", pURL.Scheme)
	}
	logger.Log.Debugf("Subscription fetch using proxy: %s", opts.Proxy)
	return client, nil
}

// Fetch returns the body served at target.
func Fetch(ctx context.Context, target string, opts Options) (string, error) {
	client, err := newClient(opts)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	logger.Log.Debugf("Fetching URL: %s", target)
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	return string(body), nil
}
