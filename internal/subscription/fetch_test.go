package subscription

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("https://example.com/sub"))
	assert.True(t, IsURL("HTTP://example.com/sub"))
	assert.False(t, IsURL("links.txt"))
	assert.False(t, IsURL("-"))
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sub" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("dm1lc3M6Ly9hYmM="))
	}))
	defer srv.Close()

	body, err := Fetch(context.Background(), srv.URL+"/sub", Options{})
	require.NoError(t, err)
	assert.Equal(t, "dm1lc3M6Ly9hYmM=", body)

	_, err = Fetch(context.Background(), srv.URL+"/missing", Options{})
	assert.ErrorContains(t, err, "404")
}

func TestFetchThroughHTTPProxy(t *testing.T) {
	var proxied bool
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied = r.URL.IsAbs()
		w.Write([]byte("via proxy"))
	}))
	defer proxySrv.Close()

	body, err := Fetch(context.Background(), "http://subscription.invalid/sub", Options{Proxy: proxySrv.URL})
	require.NoError(t, err)
	assert.Equal(t, "via proxy", body)
	assert.True(t, proxied)
}

func TestFetchBadProxy(t *testing.T) {
	_, err := Fetch(context.Background(), "http://example.invalid/", Options{Proxy: "ftp://127.0.0.1:21"})
	assert.ErrorContains(t, err, "unsupported proxy scheme")
}
