// Package config loads peerlink node configuration from YAML files and
// PEERLINK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opd-ai/peerlink/crypto"
	"github.com/opd-ai/peerlink/dht"
	"github.com/opd-ai/peerlink/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// ErrMissingPeerKey is returned by Validate when no remote key is set.
var ErrMissingPeerKey = errors.New("peer_key is required")

// Config is the root configuration of a peerlink node.
type Config struct {
	// Name appears in channel log entries.
	Name string `mapstructure:"name"`

	// MyIP suppresses connections to this host.
	MyIP string `mapstructure:"my_ip"`

	// PrivateKey is the hex local secret key. Empty generates one.
	PrivateKey string `mapstructure:"private_key"`

	// PeerKey is the hex public key of the remote party.
	PeerKey string `mapstructure:"peer_key"`

	// Listen is the address of the shared data socket.
	Listen string `mapstructure:"listen"`

	// Transport is "udp" or "quic".
	Transport string `mapstructure:"transport"`

	// Cipher is "box" or "noise-x".
	Cipher string `mapstructure:"cipher"`

	// MetricsAddr serves /metrics when set.
	MetricsAddr string `mapstructure:"metrics_addr"`

	AnnounceInterval  time.Duration `mapstructure:"announce_interval"`
	KeepAliveInterval time.Duration `mapstructure:"keepalive_interval"`

	Discovery DiscoveryConfig `mapstructure:"discovery"`
	QUIC      QUICConfig      `mapstructure:"quic"`
	Log       LogConfig       `mapstructure:"log"`
}

// DiscoveryConfig configures LAN discovery.
type DiscoveryConfig struct {
	Listen       string        `mapstructure:"listen"`
	Broadcast    []string      `mapstructure:"broadcast"`
	LookupWindow time.Duration `mapstructure:"lookup_window"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// QUICConfig configures the QUIC socket.
type QUICConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	KeepAlivePeriod  time.Duration `mapstructure:"keepalive_period"`
	MaxIdleTimeout   time.Duration `mapstructure:"max_idle_timeout"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: text or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	lan := dht.DefaultLANConfig()
	quic := transport.DefaultQUICConfig()
	return &Config{
		Listen:            ":33445",
		Transport:         "udp",
		Cipher:            "box",
		AnnounceInterval:  10 * time.Second,
		KeepAliveInterval: 10 * time.Second,
		Discovery: DiscoveryConfig{
			Listen:       lan.ListenAddr,
			Broadcast:    lan.BroadcastAddrs,
			LookupWindow: lan.LookupWindow,
			CacheTTL:     lan.CacheTTL,
		},
		QUIC: QUICConfig{
			HandshakeTimeout: quic.HandshakeTimeout,
			KeepAlivePeriod:  quic.KeepAlivePeriod,
			MaxIdleTimeout:   quic.MaxIdleTimeout,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "text",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from path (if non-empty), otherwise it searches
// common locations. Environment variables use the prefix PEERLINK and `.`
// is replaced with `_`, e.g. PEERLINK_LOG_LEVEL=debug.
//
// Load checks the settings it read but not that a peer key is present, so
// command line flags can still supply it before Validate.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PEERLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if path == "" {
		path = os.Getenv("PEERLINK_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("peerlink")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".peerlink"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// Defaults live in viper. Decoding into a filled Config would merge
	// lists element by element instead of replacing them.
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validateSettings(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults seeds viper so env-only configurations work.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("name", cfg.Name)
	v.SetDefault("my_ip", cfg.MyIP)
	v.SetDefault("private_key", cfg.PrivateKey)
	v.SetDefault("peer_key", cfg.PeerKey)
	v.SetDefault("listen", cfg.Listen)
	v.SetDefault("transport", cfg.Transport)
	v.SetDefault("cipher", cfg.Cipher)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("announce_interval", cfg.AnnounceInterval)
	v.SetDefault("keepalive_interval", cfg.KeepAliveInterval)
	v.SetDefault("discovery.listen", cfg.Discovery.Listen)
	v.SetDefault("discovery.broadcast", cfg.Discovery.Broadcast)
	v.SetDefault("discovery.lookup_window", cfg.Discovery.LookupWindow)
	v.SetDefault("discovery.cache_ttl", cfg.Discovery.CacheTTL)
	v.SetDefault("quic.handshake_timeout", cfg.QUIC.HandshakeTimeout)
	v.SetDefault("quic.keepalive_period", cfg.QUIC.KeepAlivePeriod)
	v.SetDefault("quic.max_idle_timeout", cfg.QUIC.MaxIdleTimeout)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
}

func (c *Config) normalize() {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	c.Cipher = strings.ToLower(strings.TrimSpace(c.Cipher))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
}

// Validate checks the whole configuration, including the keys.
func (c *Config) Validate() error {
	c.normalize()
	if err := c.validateSettings(); err != nil {
		return err
	}
	if strings.TrimSpace(c.PeerKey) == "" {
		return ErrMissingPeerKey
	}
	return nil
}

func (c *Config) validateSettings() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	switch c.Transport {
	case "udp", "quic":
	default:
		return fmt.Errorf("invalid transport: %q", c.Transport)
	}
	switch c.Cipher {
	case "box", "noise-x":
	default:
		return fmt.Errorf("invalid cipher: %q", c.Cipher)
	}
	if c.AnnounceInterval < 0 || c.KeepAliveInterval < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	if c.PeerKey != "" {
		if _, err := crypto.ParseKey(c.PeerKey); err != nil {
			return fmt.Errorf("invalid peer_key: %w", err)
		}
	}
	if c.PrivateKey != "" {
		if _, err := crypto.ParseKey(c.PrivateKey); err != nil {
			return fmt.Errorf("invalid private_key: %w", err)
		}
	}
	return nil
}

// KeyPair returns the configured local key pair, generating one when no
// private key is set.
func (c *Config) KeyPair() (*crypto.KeyPair, error) {
	if c.PrivateKey == "" {
		return crypto.GenerateKeyPair()
	}
	secret, err := crypto.ParseKey(c.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private_key: %w", err)
	}
	return crypto.FromSecretKey(secret)
}

// PeerPublicKey returns the decoded remote public key.
func (c *Config) PeerPublicKey() ([32]byte, error) {
	if c.PeerKey == "" {
		return [32]byte{}, ErrMissingPeerKey
	}
	return crypto.ParseKey(c.PeerKey)
}

// CipherSuite returns the crypto.Cipher selected by Cipher.
func (c *Config) CipherSuite() crypto.Cipher {
	if c.Cipher == "noise-x" {
		return crypto.NoiseXCipher{}
	}
	return crypto.BoxCipher{}
}

// LANConfig builds the LAN discovery configuration.
func (c *Config) LANConfig() *dht.LANConfig {
	lan := dht.DefaultLANConfig()
	if c.Discovery.Listen != "" {
		lan.ListenAddr = c.Discovery.Listen
	}
	if len(c.Discovery.Broadcast) > 0 {
		lan.BroadcastAddrs = append([]string(nil), c.Discovery.Broadcast...)
	}
	if c.Discovery.LookupWindow > 0 {
		lan.LookupWindow = c.Discovery.LookupWindow
	}
	if c.Discovery.CacheTTL > 0 {
		lan.CacheTTL = c.Discovery.CacheTTL
	}
	return lan
}

// QUICSocketConfig builds the QUIC socket configuration.
func (c *Config) QUICSocketConfig() *transport.QUICConfig {
	q := transport.DefaultQUICConfig()
	if c.QUIC.HandshakeTimeout > 0 {
		q.HandshakeTimeout = c.QUIC.HandshakeTimeout
	}
	if c.QUIC.KeepAlivePeriod > 0 {
		q.KeepAlivePeriod = c.QUIC.KeepAlivePeriod
	}
	if c.QUIC.MaxIdleTimeout > 0 {
		q.MaxIdleTimeout = c.QUIC.MaxIdleTimeout
	}
	return q
}
