// Package schema models the engine configuration document. Field names and
// nesting are the engine's wire contract and must not drift.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Document is the complete configuration file handed to the engine.
type Document struct {
	Log       LogObject     `json:"log"`
	API       APIObject     `json:"api"`
	DNS       DNSObject     `json:"dns"`
	Inbounds  []Inbound     `json:"inbounds"`
	Outbounds []Outbound    `json:"outbounds"`
	Policy    PolicyObject  `json:"policy"`
	Routing   RoutingObject `json:"routing"`
	Stats     StatsObject   `json:"stats"`
}

type LogObject struct {
	LogLevel string `json:"loglevel"`
}

type APIObject struct {
	Tag      string   `json:"tag"`
	Services []string `json:"services"`
}

type DNSObject struct {
	Servers []string `json:"servers"`
}

type PolicyObject struct {
	System SystemPolicy `json:"system"`
}

type SystemPolicy struct {
	StatsInboundUplink    bool `json:"statsInboundUplink"`
	StatsInboundDownlink  bool `json:"statsInboundDownlink"`
	StatsOutboundUplink   bool `json:"statsOutboundUplink"`
	StatsOutboundDownlink bool `json:"statsOutboundDownlink"`
}

// RoutingObject holds first-match, tag based rules.
type RoutingObject struct {
	DomainStrategy string `json:"domainStrategy"`
	DomainMatcher  string `json:"domainMatcher"`
	Rules          []Rule `json:"rules"`
}

type Rule struct {
	Type        string   `json:"type"`
	InboundTag  []string `json:"inboundTag"`
	OutboundTag string   `json:"outboundTag"`
}

// StatsObject is empty; the engine only needs the key to exist.
type StatsObject struct{}

// ErrSchema is matched by every *SchemaError.
var ErrSchema = errors.New("schema violation")

// SchemaError reports a malformed or self-contradicting document.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrSchema, e.Field, e.Reason)
}

func (e *SchemaError) Unwrap() error {
	return ErrSchema
}

// Validate checks every inbound and outbound.
func (d *Document) Validate() error {
	for i := range d.Inbounds {
		if err := d.Inbounds[i].Validate(); err != nil {
			return err
		}
	}
	for i := range d.Outbounds {
		if err := d.Outbounds[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Marshal validates the document and renders it as indented JSON.
func Marshal(d *Document) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return json.MarshalIndent(d, "", "  ")
}

// Unmarshal parses and validates a document.
func Unmarshal(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		var se *SchemaError
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}
