package xray

import (
	"errors"

	"v2neko/internal/config"
	"v2neko/internal/xray/schema"
)

// Tags and names the engine document uses for its control plane.
const (
	APITag        = "V2Neko_API"
	APIInboundTag = "V2Neko_API_INBOUND"
	SocksTag      = "SOCKS5_IN"
	HTTPTag       = "HTTP_IN"

	defaultLogLevel = "error"
)

var apiServices = []string{"ReflectionService", "HandlerService", "LoggerService", "StatsService"}

var ErrEmptyOutbound = errors.New("no outbound to route traffic to")

func sniffing() schema.Sniffing {
	return schema.Sniffing{Enabled: true, DestOverride: []string{"http", "tls", "fakedns"}}
}

// Assemble merges the user settings with outbounds into a complete engine
// document. Outbounds are copied in order and take the fast-open setting.
func Assemble(settings config.Settings, outbounds []schema.Outbound) (*schema.Document, error) {
	if len(outbounds) == 0 {
		return nil, ErrEmptyOutbound
	}

	inbounds := []schema.Inbound{}
	if settings.SocksEnabled {
		inbounds = append(inbounds, schema.Inbound{
			Port:     settings.SocksPort,
			Listen:   settings.SocksBind,
			Protocol: "socks",
			Settings: schema.SocksSettings{
				Auth:      "noauth",
				UDP:       true,
				IP:        "127.0.0.1",
				UserLevel: 0,
			},
			Tag:      SocksTag,
			Sniffing: sniffing(),
		})
	}
	if settings.HTTPEnabled {
		timeout := 0
		inbounds = append(inbounds, schema.Inbound{
			Port:     settings.HTTPPort,
			Listen:   settings.HTTPBind,
			Protocol: "http",
			Settings: schema.HTTPSettings{
				Timeout:          &timeout,
				AllowTransparent: true,
			},
			Tag:      HTTPTag,
			Sniffing: sniffing(),
		})
	}

	logLevel := settings.LogLevel
	if logLevel == "" {
		logLevel = defaultLogLevel
	}

	dns := append([]string{}, settings.DNS...)
	outs := make([]schema.Outbound, len(outbounds))
	for i, o := range outbounds {
		sockopt := schema.Sockopt{TProxy: "off"}
		if o.StreamSettings.Sockopt != nil {
			sockopt = *o.StreamSettings.Sockopt
		}
		sockopt.TCPFastOpen = settings.TCPFastOpen
		o.StreamSettings.Sockopt = &sockopt
		outs[i] = o
	}

	doc := &schema.Document{
		Log: schema.LogObject{LogLevel: logLevel},
		API: schema.APIObject{
			Tag:      APITag,
			Services: append([]string{}, apiServices...),
		},
		DNS:       schema.DNSObject{Servers: dns},
		Inbounds:  inbounds,
		Outbounds: outs,
		Policy: schema.PolicyObject{System: schema.SystemPolicy{
			StatsInboundUplink:    true,
			StatsInboundDownlink:  true,
			StatsOutboundUplink:   true,
			StatsOutboundDownlink: true,
		}},
		Routing: schema.RoutingObject{
			DomainStrategy: "AsIs",
			DomainMatcher:  "mph",
			Rules: []schema.Rule{{
				Type:        "field",
				InboundTag:  []string{APIInboundTag},
				OutboundTag: APITag,
			}},
		},
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}
