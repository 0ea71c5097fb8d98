package parser

import (
	"bufio"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"v2neko/internal/xray/schema"
	"v2neko/internal/xray/transport"
)

var regexLink = regexp.MustCompile(`(?i)vmess://[a-zA-Z0-9+/=_\-]+`)

// ExtractLinks pulls every vmess link out of free text. When the text holds
// no link it is retried as a base64 subscription body.
func ExtractLinks(text string) []string {
	links := scanLinks(text)
	if len(links) > 0 {
		return links
	}
	body := strings.Join(strings.Fields(text), "")
	decoded, err := DecodeBase64(body)
	if err != nil || decoded == "" {
		return links
	}
	return scanLinks(decoded)
}

func scanLinks(text string) []string {
	var links []string
	text = strings.ReplaceAll(text, "\r\n", "\n")
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		for _, match := range regexLink.FindAllString(line, -1) {
			if clean := strings.TrimRight(match, ".,;)\""); clean != "" {
				links = append(links, clean)
			}
		}
	}
	return deduplicate(links)
}

func deduplicate(input []string) []string {
	seen := make(map[string]bool)
	list := []string{}
	for _, entry := range input {
		if !seen[entry] {
			seen[entry] = true
			list = append(list, entry)
		}
	}
	return list
}

// DecodeBase64 is the lenient decoder used for subscription bodies: it fixes
// missing padding and falls back to the URL-safe alphabet. Decode itself
// stays strict.
func DecodeBase64(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	if n := len(s) % 4; n != 0 {
		s += strings.Repeat("=", 4-n)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return string(b), nil
	}
	b, err = base64.URLEncoding.DecodeString(s)
	if err == nil {
		return string(b), nil
	}
	return "", err
}

// Fingerprint identifies the endpoint an outbound points at, ignoring the
// display name. Two links for the same server and credentials collide.
func Fingerprint(o *schema.Outbound) string {
	var parts []string
	if srv, user, ok := o.Primary(); ok {
		parts = append(parts, strings.ToLower(srv.Address), fmt.Sprintf("%d", srv.Port), user.ID)
	}

	p, err := transport.Flatten(&o.StreamSettings)
	if err == nil {
		header := strings.ToLower(p.Type)
		if header == "none" {
			header = ""
		}
		parts = append(parts, strings.ToLower(p.Network), header, p.Host, p.Path)
	}
	parts = append(parts, o.StreamSettings.Security)

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}
