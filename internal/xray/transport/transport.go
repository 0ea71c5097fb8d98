// Package transport maps the flat (network, type, host, path) tuple carried by
// share links onto the engine's stream settings, and back.
package transport

import (
	"errors"
	"fmt"

	"v2neko/internal/xray/schema"
)

var ErrUnsupportedTransport = errors.New("unsupported transport")

// Params is the flat transport tuple of a share link.
// For quic the Host and Path slots hold the security and key, see QUIC.
type Params struct {
	Network string
	Type    string
	Host    string
	Path    string
}

// QUICParams names what the quic network stores in the host/path slots.
type QUICParams struct {
	Security string
	Key      string
}

// QUIC reinterprets the host/path slots for the quic network.
func (p Params) QUIC() QUICParams {
	return QUICParams{Security: p.Host, Key: p.Path}
}

func fromQUIC(subtype string, q QUICParams) Params {
	return Params{Network: schema.NetworkQUIC, Type: subtype, Host: q.Security, Path: q.Key}
}

// Resolve builds stream settings for p. Exactly one payload is populated and a
// sockopt block is always attached.
func Resolve(p Params, tcpFastOpen bool) (*schema.StreamSettings, error) {
	s := &schema.StreamSettings{
		Sockopt: &schema.Sockopt{Mark: 0, TCPFastOpen: tcpFastOpen, TProxy: "off"},
	}

	switch p.Network {
	case "", schema.NetworkTCP:
		s.Network = schema.NetworkTCP
		header := schema.TCPHeader{Type: schema.HeaderNone}
		if p.Type == schema.HeaderHTTP {
			// request/response stay unset, the engine fills its defaults
			header.Type = schema.HeaderHTTP
		}
		s.TCPSettings = &schema.TCPObject{Header: header}

	case schema.NetworkKCP:
		s.Network = schema.NetworkKCP
		ht := p.Type
		if ht == "" {
			ht = schema.HeaderNone
		}
		s.KCPSettings = &schema.KCPObject{Header: schema.KCPHeader{Type: ht}}

	case schema.NetworkWS:
		s.Network = schema.NetworkWS
		ws := &schema.WebSocketObject{Path: p.Path}
		if p.Host != "" {
			ws.Headers = map[string]string{"Host": p.Host}
		}
		s.WSSettings = ws

	case schema.NetworkHTTP, "h2":
		s.Network = schema.NetworkHTTP
		h := &schema.HTTPObject{Path: p.Path}
		if p.Host != "" {
			h.Host = []string{p.Host}
		}
		s.HTTPSettings = h

	case schema.NetworkQUIC:
		s.Network = schema.NetworkQUIC
		q := p.QUIC()
		obj := &schema.QUICObject{Security: q.Security, Key: q.Key}
		if p.Type != "" {
			obj.Header = &schema.QUICHeader{Type: p.Type}
		}
		s.QUICSettings = obj

	case schema.NetworkDomainSocket:
		s.Network = schema.NetworkDomainSocket
		s.DSSettings = &schema.DomainSocketObject{Path: p.Path}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTransport, p.Network)
	}
	return s, nil
}

// Flatten is the inverse of Resolve. The http network is reported as "h2",
// the spelling share links use. A missing payload yields defaults for the
// network rather than an error.
func Flatten(s *schema.StreamSettings) (Params, error) {
	if err := s.Validate(); err != nil {
		return Params{}, err
	}

	switch s.Network {
	case schema.NetworkTCP:
		p := Params{Network: schema.NetworkTCP, Type: schema.HeaderNone}
		if s.TCPSettings == nil {
			return p, nil
		}
		h := s.TCPSettings.Header
		if h.Type != "" {
			p.Type = h.Type
		}
		if h.Request != nil {
			if hosts := h.Request.Headers["Host"]; len(hosts) > 0 {
				p.Host = hosts[0]
			}
			if len(h.Request.Path) > 0 {
				p.Path = h.Request.Path[0]
			}
		}
		return p, nil

	case schema.NetworkKCP:
		p := Params{Network: schema.NetworkKCP, Type: schema.HeaderNone}
		if s.KCPSettings != nil && s.KCPSettings.Header.Type != "" {
			p.Type = s.KCPSettings.Header.Type
		}
		return p, nil

	case schema.NetworkWS:
		p := Params{Network: schema.NetworkWS, Type: schema.HeaderNone}
		if s.WSSettings != nil {
			p.Path = s.WSSettings.Path
			p.Host = s.WSSettings.Headers["Host"]
		}
		return p, nil

	case schema.NetworkHTTP:
		p := Params{Network: "h2", Type: schema.HeaderNone}
		if s.HTTPSettings != nil {
			p.Path = s.HTTPSettings.Path
			if len(s.HTTPSettings.Host) > 0 {
				p.Host = s.HTTPSettings.Host[0]
			}
		}
		return p, nil

	case schema.NetworkQUIC:
		if s.QUICSettings == nil {
			return fromQUIC(schema.HeaderNone, QUICParams{}), nil
		}
		subtype := schema.HeaderNone
		if s.QUICSettings.Header != nil && s.QUICSettings.Header.Type != "" {
			subtype = s.QUICSettings.Header.Type
		}
		return fromQUIC(subtype, QUICParams{Security: s.QUICSettings.Security, Key: s.QUICSettings.Key}), nil

	case schema.NetworkDomainSocket:
		p := Params{Network: schema.NetworkDomainSocket, Type: schema.HeaderNone}
		if s.DSSettings != nil {
			p.Path = s.DSSettings.Path
		}
		return p, nil
	}
	return Params{}, fmt.Errorf("%w: %q", ErrUnsupportedTransport, s.Network)
}
