package schema

import (
	"encoding/json"
	"fmt"
)

// Transport network identifiers as the engine spells them.
const (
	NetworkTCP          = "tcp"
	NetworkKCP          = "kcp"
	NetworkWS           = "ws"
	NetworkHTTP         = "http"
	NetworkQUIC         = "quic"
	NetworkDomainSocket = "domainsocket"
)

var knownNetworks = map[string]bool{
	NetworkTCP:          true,
	NetworkKCP:          true,
	NetworkWS:           true,
	NetworkHTTP:         true,
	NetworkQUIC:         true,
	NetworkDomainSocket: true,
}

// StreamSettings is the transport block of an outbound. The Network field
// selects which one of the *Settings payloads may be populated.
type StreamSettings struct {
	Network      string              `json:"network"`
	Security     string              `json:"security,omitempty"`
	TCPSettings  *TCPObject          `json:"tcpSettings,omitempty"`
	KCPSettings  *KCPObject          `json:"kcpSettings,omitempty"`
	WSSettings   *WebSocketObject    `json:"wsSettings,omitempty"`
	HTTPSettings *HTTPObject         `json:"httpSettings,omitempty"`
	DSSettings   *DomainSocketObject `json:"dsSettings,omitempty"`
	QUICSettings *QUICObject         `json:"quicSettings,omitempty"`
	Sockopt      *Sockopt            `json:"sockopt,omitempty"`
}

// TCPObject carries the tcp header framing.
type TCPObject struct {
	Header TCPHeader `json:"header"`
}

// TCPHeader is either {"type":"none"} or an HTTP camouflage header.
type TCPHeader struct {
	Type     string        `json:"type"`
	Request  *HTTPRequest  `json:"request,omitempty"`
	Response *HTTPResponse `json:"response,omitempty"`
}

const (
	HeaderNone = "none"
	HeaderHTTP = "http"
)

type HTTPRequest struct {
	Version string              `json:"version,omitempty"`
	Method  string              `json:"method,omitempty"`
	Path    []string            `json:"path,omitempty"`
	Headers map[string][]string `json:"headers,omitempty"`
}

type HTTPResponse struct {
	Version string              `json:"version,omitempty"`
	Status  string              `json:"status,omitempty"`
	Reason  string              `json:"reason,omitempty"`
	Headers map[string][]string `json:"headers,omitempty"`
}

// KCPObject leaves sizing unset so the engine applies its own defaults.
type KCPObject struct {
	MTU              *int      `json:"mtu,omitempty"`
	TTI              *int      `json:"tti,omitempty"`
	UplinkCapacity   *int      `json:"uplinkCapacity,omitempty"`
	DownlinkCapacity *int      `json:"downlinkCapacity,omitempty"`
	Congestion       *bool     `json:"congestion,omitempty"`
	ReadBufferSize   *int      `json:"readBufferSize,omitempty"`
	WriteBufferSize  *int      `json:"writeBufferSize,omitempty"`
	Header           KCPHeader `json:"header"`
}

type KCPHeader struct {
	Type string `json:"type"`
}

type WebSocketObject struct {
	Path    string            `json:"path,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// HTTPObject configures the h2 transport.
type HTTPObject struct {
	Host []string `json:"host,omitempty"`
	Path string   `json:"path,omitempty"`
}

type DomainSocketObject struct {
	Path string `json:"path"`
}

type QUICObject struct {
	Security string      `json:"security"`
	Key      string      `json:"key"`
	Header   *QUICHeader `json:"header,omitempty"`
}

type QUICHeader struct {
	Type string `json:"type"`
}

// Sockopt is attached to every stream the resolver builds.
type Sockopt struct {
	Mark        int    `json:"mark"`
	TCPFastOpen bool   `json:"tcpFastOpen"`
	TProxy      string `json:"tproxy"`
}

// UnmarshalJSON defaults a missing network to tcp and an untyped tcp header
// to none, as the engine does.
func (s *StreamSettings) UnmarshalJSON(data []byte) error {
	type alias StreamSettings
	aux := alias{Network: NetworkTCP}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.TCPSettings != nil && aux.TCPSettings.Header.Type == "" {
		aux.TCPSettings.Header.Type = HeaderNone
	}
	*s = StreamSettings(aux)
	return nil
}

// payloads lists the networks whose payload is populated.
func (s *StreamSettings) payloads() []string {
	var set []string
	if s.TCPSettings != nil {
		set = append(set, NetworkTCP)
	}
	if s.KCPSettings != nil {
		set = append(set, NetworkKCP)
	}
	if s.WSSettings != nil {
		set = append(set, NetworkWS)
	}
	if s.HTTPSettings != nil {
		set = append(set, NetworkHTTP)
	}
	if s.QUICSettings != nil {
		set = append(set, NetworkQUIC)
	}
	if s.DSSettings != nil {
		set = append(set, NetworkDomainSocket)
	}
	return set
}

// PayloadCount reports how many transport payloads are populated.
func (s *StreamSettings) PayloadCount() int {
	return len(s.payloads())
}

// Validate checks that the network is known and that at
// most one payload is present, belonging to that network.
func (s *StreamSettings) Validate() error {
	if !knownNetworks[s.Network] {
		return &SchemaError{Field: "streamSettings.network", Reason: fmt.Sprintf("unknown network %q", s.Network)}
	}

	set := s.payloads()
	if len(set) > 1 {
		return &SchemaError{Field: "streamSettings", Reason: fmt.Sprintf("multiple transport payloads present: %v", set)}
	}
	if len(set) == 1 && set[0] != s.Network {
		return &SchemaError{
			Field:  "streamSettings",
			Reason: fmt.Sprintf("%s payload contradicts network %q", set[0], s.Network),
		}
	}

	if s.TCPSettings != nil {
		h := s.TCPSettings.Header
		switch h.Type {
		case HeaderNone, "":
			if h.Request != nil || h.Response != nil {
				return &SchemaError{Field: "tcpSettings.header", Reason: "type none cannot carry request/response"}
			}
		case HeaderHTTP:
		default:
			return &SchemaError{Field: "tcpSettings.header.type", Reason: fmt.Sprintf("unknown header type %q", h.Type)}
		}
	}
	return nil
}
