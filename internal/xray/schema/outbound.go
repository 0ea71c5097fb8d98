package schema

import (
	"encoding/json"
	"fmt"
)

// Outbound is one upstream endpoint as it appears in the "outbounds" list.
type Outbound struct {
	SendThrough    string         `json:"sendThrough,omitempty"`
	Protocol       string         `json:"protocol"`
	Settings       VMessSettings  `json:"settings"`
	Tag            string         `json:"tag"`
	StreamSettings StreamSettings `json:"streamSettings"`
	ProxySettings  *ProxySettings `json:"proxySettings,omitempty"`
	Mux            Mux            `json:"mux"`
}

type VMessSettings struct {
	Vnext []VMessServer `json:"vnext"`
}

type VMessServer struct {
	Address string      `json:"address"`
	Port    int         `json:"port"`
	Users   []VMessUser `json:"users"`
}

// VMessUser is one credential. AlterID is the legacy alter-id field.
type VMessUser struct {
	ID       string `json:"id"`
	AlterID  *int   `json:"alterId,omitempty"`
	Level    *int   `json:"level,omitempty"`
	Security string `json:"security"`
}

type ProxySettings struct {
	Tag string `json:"tag"`
}

type Mux struct {
	Enabled     *bool `json:"enabled,omitempty"`
	Concurrency *int  `json:"concurrency,omitempty"`
}

// Primary returns the first server and its first user. Share links only
// address index 0, so callers that flatten an outbound go through here.
func (o *Outbound) Primary() (*VMessServer, *VMessUser, bool) {
	if len(o.Settings.Vnext) == 0 {
		return nil, nil, false
	}
	srv := &o.Settings.Vnext[0]
	if len(srv.Users) == 0 {
		return srv, nil, false
	}
	return srv, &srv.Users[0], true
}

// Validate checks the stream settings of the outbound.
func (o *Outbound) Validate() error {
	if err := o.StreamSettings.Validate(); err != nil {
		return fmt.Errorf("outbound %q: %w", o.Tag, err)
	}
	return nil
}

// MarshalOutbound serialises a single outbound, used for per-profile artifacts.
func MarshalOutbound(o *Outbound) ([]byte, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return json.MarshalIndent(o, "", "  ")
}

// UnmarshalOutbound is the inverse of MarshalOutbound.
func UnmarshalOutbound(data []byte) (*Outbound, error) {
	var o Outbound
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode outbound: %w", err)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &o, nil
}
