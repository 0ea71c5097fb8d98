package schema

import (
	"encoding/json"
	"fmt"
)

// Inbound is a local listener exposed by the engine.
type Inbound struct {
	Port     int             `json:"port"`
	Listen   string          `json:"listen"`
	Protocol string          `json:"protocol"`
	Settings InboundSettings `json:"settings"`
	Tag      string          `json:"tag"`
	Sniffing Sniffing        `json:"sniffing"`
}

// InboundSettings is implemented by the protocol-specific settings blocks.
type InboundSettings interface {
	InboundProtocol() string
}

type SocksSettings struct {
	Auth      string `json:"auth"`
	UDP       bool   `json:"udp"`
	IP        string `json:"ip"`
	UserLevel int    `json:"userLevel"`
}

func (SocksSettings) InboundProtocol() string { return "socks" }

type HTTPSettings struct {
	Timeout          *int          `json:"timeout,omitempty"`
	Accounts         []HTTPAccount `json:"accounts,omitempty"`
	AllowTransparent bool          `json:"allowTransparent"`
	UserLevel        *int          `json:"userLevel,omitempty"`
}

func (HTTPSettings) InboundProtocol() string { return "http" }

type HTTPAccount struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

type Sniffing struct {
	Enabled      bool     `json:"enabled"`
	DestOverride []string `json:"destOverride"`
}

// UnmarshalJSON picks the settings type from the protocol field.
func (in *Inbound) UnmarshalJSON(data []byte) error {
	type alias Inbound
	var aux struct {
		alias
		Settings json.RawMessage `json:"settings"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*in = Inbound(aux.alias)

	switch in.Protocol {
	case "socks":
		var s SocksSettings
		if len(aux.Settings) > 0 {
			if err := json.Unmarshal(aux.Settings, &s); err != nil {
				return fmt.Errorf("socks settings: %w", err)
			}
		}
		in.Settings = s
	case "http":
		var s HTTPSettings
		if len(aux.Settings) > 0 {
			if err := json.Unmarshal(aux.Settings, &s); err != nil {
				return fmt.Errorf("http settings: %w", err)
			}
		}
		in.Settings = s
	default:
		return &SchemaError{Field: "inbounds.protocol", Reason: fmt.Sprintf("unsupported inbound protocol %q", in.Protocol)}
	}
	return nil
}

// Validate checks that the settings block matches the declared protocol.
func (in *Inbound) Validate() error {
	if in.Settings == nil {
		return &SchemaError{Field: "inbounds.settings", Reason: fmt.Sprintf("missing settings for %q inbound", in.Tag)}
	}
	if p := in.Settings.InboundProtocol(); p != in.Protocol {
		return &SchemaError{
			Field:  "inbounds.settings",
			Reason: fmt.Sprintf("%s settings on %s inbound %q", p, in.Protocol, in.Tag),
		}
	}
	return nil
}
