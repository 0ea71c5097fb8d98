package xray

import (
	"encoding/json"
	"fmt"
	"net"

	"v2neko/internal/config"
	"v2neko/internal/logger"
	"v2neko/internal/xray/schema"

	"github.com/xtls/xray-core/core"
	"github.com/xtls/xray-core/infra/conf"

	// Import distro to register all protocols/transports
	_ "github.com/xtls/xray-core/main/distro/all"
)

// Build converts doc into xray-core's protobuf config. It goes through the
// same JSON loader the engine binary uses, so a document that builds here
// is accepted by the engine.
func Build(doc *schema.Document) (pb *core.Config, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Errorf("Xray config builder panic recovered: %v", r)
			pb = nil
			err = fmt.Errorf("xray config panic: %v", r)
		}
	}()

	data, err := schema.Marshal(doc)
	if err != nil {
		return nil, err
	}

	var cfg conf.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("xray config load: %w", err)
	}

	pb, err = cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("xray config build: %w", err)
	}
	return pb, nil
}

// Check reports whether the engine would accept doc.
func Check(doc *schema.Document) error {
	_, err := Build(doc)
	return err
}

// StartInstance builds doc and runs it in-process.
func StartInstance(doc *schema.Document) (instance *core.Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Errorf("CRITICAL: Xray Core Panic recovered: %v", r)
			err = fmt.Errorf("xray core panic: %v", r)
			if instance != nil {
				instance.Close()
				instance = nil
			}
		}
	}()

	pb, err := Build(doc)
	if err != nil {
		return nil, err
	}

	instance, err = core.New(pb)
	if err != nil {
		return nil, err
	}
	if err := instance.Start(); err != nil {
		instance.Close()
		return nil, err
	}
	return instance, nil
}

// StartEphemeral runs a single outbound behind a SOCKS inbound on a free
// loopback port. Used by the latency probe.
func StartEphemeral(o schema.Outbound) (int, *core.Instance, error) {
	ports, err := GetFreePorts(1)
	if err != nil {
		return 0, nil, err
	}

	o.Protocol = "vmess"
	settings := config.Settings{
		SocksEnabled: true,
		SocksBind:    "127.0.0.1",
		SocksPort:    ports[0],
		LogLevel:     "none",
	}
	doc, err := Assemble(settings, []schema.Outbound{o})
	if err != nil {
		return 0, nil, err
	}

	instance, err := StartInstance(doc)
	if err != nil {
		return 0, nil, err
	}
	return ports[0], instance, nil
}

func GetFreePorts(count int) ([]int, error) {
	var listeners []net.Listener
	var ports []int

	for i := 0; i < count; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return nil, fmt.Errorf("failed to allocate ports: %w", err)
		}
		listeners = append(listeners, l)
		ports = append(ports, l.Addr().(*net.TCPAddr).Port)
	}

	for _, l := range listeners {
		l.Close()
	}
	return ports, nil
}
