package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

type Config struct {
	DNS         []string       `yaml:"dns"`
	Socks       InboundConfig  `yaml:"socks"`
	HTTP        InboundConfig  `yaml:"http"`
	TCPFastOpen bool           `yaml:"tcp_fast_open"`
	Links       LinksConfig    `yaml:"links"`
	Engine      EngineConfig   `yaml:"engine"`
	Database    DatabaseConfig `yaml:"database"`
	DataDir     string         `yaml:"data_dir"`
	GeoIP       GeoIPConfig    `yaml:"geoip"`
	Probe       ProbeConfig    `yaml:"probe"`
	Stream      ListenConfig   `yaml:"stream"`
	Metrics     ListenConfig   `yaml:"metrics"`
}

type InboundConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type LinksConfig struct {
	ForceVMess bool `yaml:"force_vmess"`
}

type EngineConfig struct {
	Binary       string        `yaml:"binary"`
	Type         string        `yaml:"type"` // default engine family for new profiles
	LogLevel     string        `yaml:"log_level"`
	StopGrace    time.Duration `yaml:"stop_grace"`
	OutputBuffer int           `yaml:"output_buffer"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type GeoIPConfig struct {
	CountryPath string `yaml:"country_path"`
}

type ProbeConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Workers int           `yaml:"workers"`
	URL     string        `yaml:"url"`
}

type ListenConfig struct {
	Listen string `yaml:"listen"`
}

// Settings is the subset of the configuration the assembler consumes.
type Settings struct {
	DNS          []string
	SocksEnabled bool
	SocksBind    string
	SocksPort    int
	HTTPEnabled  bool
	HTTPBind     string
	HTTPPort     int
	TCPFastOpen  bool
	LogLevel     string
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DNS:   []string{"1.1.1.1", "8.8.8.8", "8.8.4.4"},
		Socks: InboundConfig{Enabled: true, Bind: "127.0.0.1", Port: 11451},
		HTTP:  InboundConfig{Enabled: false, Bind: "127.0.0.1", Port: 11452},
		Links: LinksConfig{ForceVMess: true},
		Engine: EngineConfig{
			Binary:       "v2ray",
			Type:         "v2ray",
			LogLevel:     "error",
			StopGrace:    0,
			OutputBuffer: 1024,
		},
		DataDir: "data",
		GeoIP:   GeoIPConfig{CountryPath: "GeoLite2-Country.mmdb"},
		Probe: ProbeConfig{
			Timeout: 5 * time.Second,
			Workers: 16,
			URL:     "https://www.gstatic.com/generate_204",
		},
		Stream:  ListenConfig{Listen: "127.0.0.1:11453"},
		Metrics: ListenConfig{Listen: "127.0.0.1:11454"},
	}
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}

	if cfg.Engine.OutputBuffer <= 0 {
		cfg.Engine.OutputBuffer = 1024
	}
	if cfg.Probe.Workers <= 0 {
		cfg.Probe.Workers = 1
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}
	return cfg, nil
}

// Bootstrap writes the default configuration to path when it does not exist
// yet, then loads it.
func Bootstrap(path string) (*Config, bool, error) {
	if path == "" {
		path = DefaultPath
	}
	_, err := os.Stat(path)
	if err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	if err := Save(path, Default()); err != nil {
		return nil, false, err
	}
	cfg, err := Load(path)
	return cfg, true, err
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config yaml: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Settings projects the fields the assembler needs.
func (c *Config) Settings() Settings {
	dns := make([]string, len(c.DNS))
	copy(dns, c.DNS)
	return Settings{
		DNS:          dns,
		SocksEnabled: c.Socks.Enabled,
		SocksBind:    c.Socks.Bind,
		SocksPort:    c.Socks.Port,
		HTTPEnabled:  c.HTTP.Enabled,
		HTTPBind:     c.HTTP.Bind,
		HTTPPort:     c.HTTP.Port,
		TCPFastOpen:  c.TCPFastOpen,
		LogLevel:     c.Engine.LogLevel,
	}
}

// DatabasePath falls back to a file inside the data directory.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.DataDir, "v2neko.db")
}

// ConnectionPath is the well-known document the running engine reads.
func (c *Config) ConnectionPath() string {
	return filepath.Join(c.DataDir, "connection.json")
}

// ProfilesDir holds one outbound artifact per profile.
func (c *Config) ProfilesDir() string {
	return filepath.Join(c.DataDir, "profiles")
}
