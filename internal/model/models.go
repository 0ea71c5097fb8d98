package model

import (
	"time"
)

// UnmeasuredDelay marks a profile whose latency was never probed.
const UnmeasuredDelay = -1

// ProxyProfile is one stored upstream. Edits replace the record wholesale.
type ProxyProfile struct {
	ID   string `gorm:"primaryKey"`
	Hash string `gorm:"uniqueIndex"` // endpoint fingerprint, used to skip duplicate imports
	Name string
	Type string // engine family that runs this profile
	Link string

	// Connection Details (Entry Point)
	Address string
	Port    int

	Upload   int64
	Download int64
	Delay    int

	// Exit country of the entry address, when a GeoIP database is available
	Country string

	ConfigPath string
	Group      string `gorm:"column:group_name;index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Measured reports whether a latency has been recorded.
func (p *ProxyProfile) Measured() bool {
	return p.Delay >= 0
}
