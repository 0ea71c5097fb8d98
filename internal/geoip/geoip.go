package geoip

import (
	"context"
	"fmt"
	"net"

	"v2neko/internal/logger"

	"github.com/oschwald/geoip2-golang"
)

// Unknown is reported when a country cannot be determined.
const Unknown = "XX"

// Reader annotates server addresses with their country.
type Reader struct {
	country  *geoip2.Reader
	resolver *net.Resolver
}

// Open loads the country MMDB at path. A missing database is not fatal: the
// returned Reader then answers Unknown for every lookup.
func Open(countryPath string) *Reader {
	r := &Reader{resolver: net.DefaultResolver}
	if countryPath == "" {
		return r
	}
	db, err := geoip2.Open(countryPath)
	if err != nil {
		logger.Log.Warnf("Failed to open Country DB at %s: %v. Country data will be missing.", countryPath, err)
		return r
	}
	r.country = db
	return r
}

// Available reports whether a database is loaded.
func (r *Reader) Available() bool {
	return r != nil && r.country != nil
}

// Country returns the ISO code for host, which may be an IP or a domain.
func (r *Reader) Country(ctx context.Context, host string) (string, error) {
	if !r.Available() {
		return Unknown, fmt.Errorf("geoip database not initialized")
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := r.resolver.LookupIP(ctx, "ip", host)
		if err != nil {
			return Unknown, fmt.Errorf("resolve %s: %w", host, err)
		}
		if len(ips) == 0 {
			return Unknown, fmt.Errorf("resolve %s: no addresses", host)
		}
		ip = ips[0]
	}

	rec, err := r.country.Country(ip)
	if err != nil {
		return Unknown, err
	}
	if rec.Country.IsoCode == "" {
		return Unknown, nil
	}
	return rec.Country.IsoCode, nil
}

func (r *Reader) Close() {
	if r.Available() {
		r.country.Close()
	}
}
