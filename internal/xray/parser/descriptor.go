package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Descriptor is the JSON object carried inside a vmess:// link.
type Descriptor struct {
	V    flexString `json:"v"`
	Ps   string     `json:"ps"`
	Add  string     `json:"add"`
	Port number     `json:"port"`
	ID   string     `json:"id"`
	Aid  number     `json:"aid"`
	Scy  string     `json:"scy,omitempty"`
	Net  string     `json:"net"`
	Type string     `json:"type"`
	Host string     `json:"host,omitempty"`
	Path string     `json:"path,omitempty"`
	TLS  string     `json:"tls"`
	SNI  string     `json:"sni,omitempty"`
}

// number accepts a JSON number or a numeric string. Links in the wild use both.
type number int

func (n *number) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case nil:
		*n = 0
	case string:
		if value == "" {
			*n = 0
			return nil
		}
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid number %q", value)
		}
		*n = number(i)
	case float64:
		*n = number(value)
	default:
		return fmt.Errorf("invalid number: %v", v)
	}
	return nil
}

// flexString accepts "2" as well as 2 for the version tag.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case nil:
		*s = ""
	case string:
		*s = flexString(value)
	case float64:
		*s = flexString(strconv.FormatFloat(value, 'f', -1, 64))
	default:
		return fmt.Errorf("invalid version: %v", v)
	}
	return nil
}
