package xray

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"v2neko/internal/config"
	"v2neko/internal/xray/schema"
	"v2neko/internal/xray/transport"
)

func testOutbound(t *testing.T) schema.Outbound {
	t.Helper()
	stream, err := transport.Resolve(transport.Params{Network: "tcp", Type: "none"}, false)
	require.NoError(t, err)
	aid := 0
	return schema.Outbound{
		Protocol: "vmess",
		Tag:      "PROXY",
		Settings: schema.VMessSettings{Vnext: []schema.VMessServer{{
			Address: "203.0.113.10",
			Port:    10086,
			Users: []schema.VMessUser{{
				ID:       "b831381d-6324-4d53-ad4f-8cda48b30811",
				AlterID:  &aid,
				Security: "auto",
			}},
		}}},
		StreamSettings: *stream,
	}
}

func TestAssembleEmpty(t *testing.T) {
	_, err := Assemble(config.Default().Settings(), nil)
	assert.ErrorIs(t, err, ErrEmptyOutbound)
}

func TestAssembleInboundToggles(t *testing.T) {
	cases := []struct {
		socks, http bool
		want        []string
	}{
		{true, false, []string{"socks"}},
		{false, true, []string{"http"}},
		{true, true, []string{"socks", "http"}},
		{false, false, nil},
	}
	for _, tc := range cases {
		s := config.Default().Settings()
		s.SocksEnabled = tc.socks
		s.HTTPEnabled = tc.http

		doc, err := Assemble(s, []schema.Outbound{testOutbound(t)})
		require.NoError(t, err)

		var got []string
		for _, in := range doc.Inbounds {
			got = append(got, in.Protocol)
		}
		assert.Equal(t, tc.want, got)
	}
}

func TestAssembleSocksOnly(t *testing.T) {
	s := config.Default().Settings()
	s.SocksEnabled = true
	s.HTTPEnabled = false
	s.SocksPort = 1080
	s.SocksBind = "0.0.0.0"

	doc, err := Assemble(s, []schema.Outbound{testOutbound(t)})
	require.NoError(t, err)
	require.Len(t, doc.Inbounds, 1)

	in := doc.Inbounds[0]
	assert.Equal(t, "socks", in.Protocol)
	assert.Equal(t, "SOCKS5_IN", in.Tag)
	assert.Equal(t, 1080, in.Port)
	assert.Equal(t, "0.0.0.0", in.Listen)
	assert.Equal(t, schema.SocksSettings{Auth: "noauth", UDP: true, IP: "127.0.0.1"}, in.Settings)
	assert.Equal(t, []string{"http", "tls", "fakedns"}, in.Sniffing.DestOverride)
	assert.True(t, in.Sniffing.Enabled)
}

func TestAssembleFixedScaffolding(t *testing.T) {
	s := config.Default().Settings()
	s.HTTPEnabled = true
	doc, err := Assemble(s, []schema.Outbound{testOutbound(t), testOutbound(t)})
	require.NoError(t, err)

	data, err := schema.Marshal(doc)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, map[string]any{"loglevel": "error"}, raw["log"])
	assert.Equal(t, map[string]any{
		"tag":      "V2Neko_API",
		"services": []any{"ReflectionService", "HandlerService", "LoggerService", "StatsService"},
	}, raw["api"])
	assert.Equal(t, map[string]any{"servers": []any{"1.1.1.1", "8.8.8.8", "8.8.4.4"}}, raw["dns"])
	assert.Equal(t, map[string]any{"system": map[string]any{
		"statsInboundUplink":    true,
		"statsInboundDownlink":  true,
		"statsOutboundUplink":   true,
		"statsOutboundDownlink": true,
	}}, raw["policy"])
	assert.Equal(t, map[string]any{
		"domainStrategy": "AsIs",
		"domainMatcher":  "mph",
		"rules": []any{map[string]any{
			"type":        "field",
			"inboundTag":  []any{"V2Neko_API_INBOUND"},
			"outboundTag": "V2Neko_API",
		}},
	}, raw["routing"])
	assert.Equal(t, map[string]any{}, raw["stats"])
	assert.Len(t, raw["outbounds"], 2)

	httpIn := raw["inbounds"].([]any)[1].(map[string]any)
	assert.Equal(t, "HTTP_IN", httpIn["tag"])
	assert.Equal(t, map[string]any{"timeout": float64(0), "allowTransparent": true}, httpIn["settings"])
}

func TestAssembleDoesNotAliasInput(t *testing.T) {
	s := config.Default().Settings()
	outs := []schema.Outbound{testOutbound(t)}
	doc, err := Assemble(s, outs)
	require.NoError(t, err)

	doc.Outbounds[0].Tag = "changed"
	doc.DNS.Servers[0] = "changed"
	assert.Equal(t, "PROXY", outs[0].Tag)
	assert.Equal(t, "1.1.1.1", s.DNS[0])
}

func TestAssembleAppliesFastOpen(t *testing.T) {
	o := testOutbound(t)
	require.NotNil(t, o.StreamSettings.Sockopt)
	require.False(t, o.StreamSettings.Sockopt.TCPFastOpen)

	s := config.Default().Settings()
	s.TCPFastOpen = true
	doc, err := Assemble(s, []schema.Outbound{o})
	require.NoError(t, err)
	require.NotNil(t, doc.Outbounds[0].StreamSettings.Sockopt)
	assert.True(t, doc.Outbounds[0].StreamSettings.Sockopt.TCPFastOpen)
	assert.False(t, o.StreamSettings.Sockopt.TCPFastOpen, "input sockopt must not change")

	bare := testOutbound(t)
	bare.StreamSettings.Sockopt = nil
	s.TCPFastOpen = false
	doc, err = Assemble(s, []schema.Outbound{bare})
	require.NoError(t, err)
	require.NotNil(t, doc.Outbounds[0].StreamSettings.Sockopt)
	assert.False(t, doc.Outbounds[0].StreamSettings.Sockopt.TCPFastOpen)
	assert.Equal(t, "off", doc.Outbounds[0].StreamSettings.Sockopt.TProxy)
}

func TestCheckConcurrent(t *testing.T) {
	doc, err := Assemble(config.Default().Settings(), []schema.Outbound{testOutbound(t)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- Check(doc)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.NotNil(t, os.Stdout)
	_, err = os.Stdout.Stat()
	assert.NoError(t, err, "stdout must stay usable")
}

func TestWriteDocumentAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data", "connection.json")

	doc, err := Assemble(config.Default().Settings(), []schema.Outbound{testOutbound(t)})
	require.NoError(t, err)
	require.NoError(t, WriteDocument(path, doc))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary file left behind")

	back, err := ReadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, doc.Outbounds, back.Outbounds)
	assert.Equal(t, doc.Inbounds, back.Inbounds)
}

func TestOutboundArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	o := testOutbound(t)
	require.NoError(t, WriteOutbound(path, &o))

	back, err := ReadOutbound(path)
	require.NoError(t, err)
	assert.Equal(t, o, *back)
}

func TestCheck(t *testing.T) {
	doc, err := Assemble(config.Default().Settings(), []schema.Outbound{testOutbound(t)})
	require.NoError(t, err)
	assert.NoError(t, Check(doc))

	bad := testOutbound(t)
	bad.Protocol = "none"
	doc, err = Assemble(config.Default().Settings(), []schema.Outbound{bad})
	require.NoError(t, err)
	assert.Error(t, Check(doc))
}
