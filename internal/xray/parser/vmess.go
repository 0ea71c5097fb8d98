// Package parser converts vmess:// share links to engine outbounds and back.
package parser

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"v2neko/internal/xray/schema"
	"v2neko/internal/xray/transport"
)

// OutboundTag is assigned to every decoded outbound.
const OutboundTag = "PROXY"

const (
	scheme      = "vmess://"
	linkVersion = "2"
	defaultScy  = "auto"
)

// schemePattern is matched against the input itself, so offsets stay valid.
var schemePattern = regexp.MustCompile(`(?i)vmess://`)

var (
	ErrLinkFormat          = errors.New("not a vmess link")
	ErrBase64Decode        = errors.New("vmess base64 error")
	ErrDescriptorParse     = errors.New("vmess json error")
	ErrUnsupportedEncoding = errors.New("outbound cannot be encoded as a link")
)

// Options tunes how decoded outbounds are built.
type Options struct {
	TCPFastOpen bool
	// ForceVMess sets the protocol to "vmess" instead of copying the
	// descriptor's sub-type.
	ForceVMess bool
}

// Decode parses a vmess:// link. The descriptor is returned alongside the
// outbound so callers can read the display name.
func Decode(link string, opts Options) (*schema.Outbound, *Descriptor, error) {
	link = strings.TrimSpace(link)
	loc := schemePattern.FindStringIndex(link)
	if loc == nil {
		return nil, nil, ErrLinkFormat
	}

	raw, err := base64.StdEncoding.DecodeString(link[loc[1]:])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrBase64Decode, err)
	}

	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrDescriptorParse, err)
	}

	o, err := d.Outbound(opts)
	if err != nil {
		return nil, nil, err
	}
	return o, &d, nil
}

// Outbound builds the engine outbound described by d.
func (d *Descriptor) Outbound(opts Options) (*schema.Outbound, error) {
	stream, err := transport.Resolve(d.transport(), opts.TCPFastOpen)
	if err != nil {
		return nil, err
	}
	stream.Security = d.TLS

	security := d.Scy
	if security == "" {
		security = defaultScy
	}
	aid := int(d.Aid)

	// legacy links reuse the sub-type as the protocol name
	protocol := d.Type
	if opts.ForceVMess {
		protocol = "vmess"
	}

	return &schema.Outbound{
		Protocol: protocol,
		Tag:      OutboundTag,
		Settings: schema.VMessSettings{Vnext: []schema.VMessServer{{
			Address: d.Add,
			Port:    int(d.Port),
			Users: []schema.VMessUser{{
				ID:       d.ID,
				AlterID:  &aid,
				Security: security,
			}},
		}}},
		StreamSettings: *stream,
	}, nil
}

func (d *Descriptor) transport() transport.Params {
	return transport.Params{Network: d.Net, Type: d.Type, Host: d.Host, Path: d.Path}
}

// NewDescriptor flattens the first server and user of o.
func NewDescriptor(o *schema.Outbound, name string) (*Descriptor, error) {
	srv, user, ok := o.Primary()
	if !ok {
		return nil, fmt.Errorf("%w: outbound %q has no server or user", ErrUnsupportedEncoding, o.Tag)
	}
	p, err := transport.Flatten(&o.StreamSettings)
	if err != nil {
		return nil, err
	}

	d := &Descriptor{
		V:    linkVersion,
		Ps:   name,
		Add:  srv.Address,
		Port: number(srv.Port),
		ID:   user.ID,
		Net:  p.Network,
		Type: p.Type,
		Host: p.Host,
		Path: p.Path,
		TLS:  o.StreamSettings.Security,
	}
	if user.AlterID != nil {
		d.Aid = number(*user.AlterID)
	}
	if user.Security != "" && user.Security != defaultScy {
		d.Scy = user.Security
	}
	return d, nil
}

// Encode renders d as a vmess:// link.
func (d *Descriptor) Encode() (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return scheme + base64.StdEncoding.EncodeToString(b), nil
}

// Encode is the inverse of Decode for the fields a link can carry.
func Encode(o *schema.Outbound, name string) (string, error) {
	d, err := NewDescriptor(o, name)
	if err != nil {
		return "", err
	}
	return d.Encode()
}
