// Package config loads and holds the process-wide pgstatsmon configuration.
package config

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pingcap/log"
	"github.com/pkg/errors"
	commonconfig "github.com/prometheus/common/config"
	"go.etcd.io/etcd/client/pkg/v3/transport"
)

// Config is the single JSON document pgstatsmon is launched with.
type Config struct {
	Interval    int64       `json:"interval"`
	Connections Connections `json:"connections"`
	BackendPort int         `json:"backend_port"`
	User        string      `json:"user"`
	Password    string      `json:"password"`
	Database    string      `json:"database"`
	Superuser   Superuser   `json:"superuser"`
	Static      Static      `json:"static"`
	VMAPI       VMAPI       `json:"vmapi"`
	Target      Target      `json:"target"`
	Log         Log         `json:"log"`
}

// Log configures the process-wide structured logger.
type Log struct {
	Path  string `json:"path"`
	Level string `json:"level"`
}

const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

func (l *Log) valid() error {
	if len(l.Level) == 0 {
		return errors.New("unexpected empty log level")
	}
	switch l.Level {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
	default:
		return errors.Errorf("log level should be %s, %s, %s or %s", LevelDebug, LevelInfo, LevelWarn, LevelError)
	}
	return nil
}

// InitDefaultLogger replaces the global pingcap/log logger with one built
// from this config, writing to a file under l.Path if set, otherwise to
// stderr.
func (l *Log) InitDefaultLogger() error {
	cfg := &log.Config{Level: strings.ToLower(l.Level)}
	if l.Path != "" {
		cfg.File = log.FileLogConfig{Filename: path.Join(l.Path, "pgstatsmon.log")}
	}

	logger, props, err := log.InitLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "init logger")
	}
	log.ReplaceGlobals(logger, props)
	return nil
}

// Superuser carries the temporary bootstrap connection's credentials,
// distinct from the monitoring user (§4.E step 1). Not part of spec.md's
// own configuration table, but the bootstrap algorithm it describes cannot
// run without a superuser identity, so this is added as an ambient
// necessity rather than an invented feature.
type Superuser struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// Connections holds the per-backend client/pool timing knobs.
type Connections struct {
	QueryTimeoutMs   int64 `json:"query_timeout"`
	ConnectTimeoutMs int64 `json:"connect_timeout"`
	ConnectRetries   int   `json:"connect_retries"`
	MaxConnections   int   `json:"max_connections"`
}

// Static is the static discovery provider's backend list.
type Static struct {
	Dbs []StaticDb `json:"dbs"`
}

// StaticDb is one statically configured backend.
type StaticDb struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
}

// VMAPI configures the inventory discovery provider.
type VMAPI struct {
	URL          string   `json:"url"`
	PollInterval int64    `json:"pollInterval"`
	Tags         VMAPITag `json:"tags"`
	Security     Security `json:"tls"`
}

// VMAPITag selects which inventory instances to monitor. NicTagRegex is a
// regular expression matched against each instance's nic_tag, per the
// {tag_name, tag_value, nic_tag_regex} selector.
type VMAPITag struct {
	VMTagName   string `json:"vm_tag_name"`
	VMTagValue  string `json:"vm_tag_value"`
	NicTagRegex string `json:"nic_tag_regex"`
}

// Target configures the Prometheus scrape endpoint.
type Target struct {
	IP       string            `json:"ip"`
	Port     int               `json:"port"`
	Route    string            `json:"route"`
	Metadata map[string]string `json:"metadata"`
}

var defaultConfig = Config{
	Interval: 30000,
	Connections: Connections{
		QueryTimeoutMs:   10000,
		ConnectTimeoutMs: 5000,
		ConnectRetries:   3,
		MaxConnections:   1,
	},
	BackendPort: 5432,
	User:        "pgstatsmon",
	Database:    "postgres",
	Superuser:   Superuser{User: "postgres"},
	Target: Target{
		IP:    "0.0.0.0",
		Port:  9204,
		Route: "/metrics",
	},
	Log: Log{Level: LevelInfo},
}

// GetDefaultConfig returns a copy of the built-in defaults.
func GetDefaultConfig() Config {
	return defaultConfig
}

// Subscriber receives a getter for the latest config every time it changes.
type Subscriber = chan GetLatestConfig

// GetLatestConfig retrieves the config current as of the time it is called.
type GetLatestConfig = func() Config

var (
	globalConfigMutex sync.Mutex
	globalConfig      = defaultConfig

	subscribersMutex        sync.Mutex
	configChangeSubscribers []Subscriber
)

// Subscribe returns a channel that receives a config getter every time the
// config changes. The channel is pre-loaded with one getter so callers can
// fetch the current config immediately.
func Subscribe() Subscriber {
	subscribersMutex.Lock()
	defer subscribersMutex.Unlock()

	ch := make(chan GetLatestConfig, 1)
	configChangeSubscribers = append(configChangeSubscribers, ch)
	ch <- GetGlobalConfig
	return ch
}

func notifyConfigChange() {
	subscribersMutex.Lock()
	defer subscribersMutex.Unlock()

	for _, ch := range configChangeSubscribers {
		select {
		case ch <- GetGlobalConfig:
		default:
		}
	}
}

// GetGlobalConfig returns the currently active config.
func GetGlobalConfig() (res Config) {
	globalConfigMutex.Lock()
	res = globalConfig
	globalConfigMutex.Unlock()
	return
}

// StoreGlobalConfig replaces the active config and notifies subscribers.
func StoreGlobalConfig(cfg Config) {
	globalConfigMutex.Lock()
	globalConfig = cfg
	globalConfigMutex.Unlock()
	notifyConfigChange()
}

// InitConfig loads a JSON config file (if path is non-empty), applies
// override, validates the result, and stores it as the global config.
func InitConfig(path string, override func(cfg *Config)) (*Config, error) {
	cfg := defaultConfig

	if len(path) > 0 {
		if err := cfg.Load(path); err != nil {
			return nil, errors.Wrap(err, "load config file")
		}
	}

	if override != nil {
		override(&cfg)
	}

	cfg.trimFieldSpace()

	if err := cfg.valid(); err != nil {
		return nil, err
	}

	StoreGlobalConfig(cfg)
	return &cfg, nil
}

// Load decodes a JSON config document from fileName into c.
func (c *Config) Load(fileName string) error {
	f, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	return dec.Decode(c)
}

func (c *Config) trimFieldSpace() {
	c.User = strings.TrimSpace(c.User)
	c.Database = strings.TrimSpace(c.Database)
	for i := range c.Static.Dbs {
		c.Static.Dbs[i].Name = strings.TrimSpace(c.Static.Dbs[i].Name)
		c.Static.Dbs[i].IP = strings.TrimSpace(c.Static.Dbs[i].IP)
	}
}

func (c *Config) valid() error {
	if c.Interval <= 0 {
		return errors.New("unexpected non-positive interval")
	}

	if err := c.Connections.valid(); err != nil {
		return err
	}

	if len(c.User) == 0 {
		return errors.New("unexpected empty user")
	}

	if len(c.Database) == 0 {
		return errors.New("unexpected empty database")
	}

	if len(c.Superuser.User) == 0 {
		return errors.New("unexpected empty superuser.user")
	}

	if c.UsesInventory() {
		if len(c.VMAPI.URL) == 0 {
			return errors.New("vmapi configured without a url")
		}
	} else if len(c.Static.Dbs) == 0 {
		return errors.New("neither static.dbs nor vmapi.url configured")
	}

	if err := c.Target.valid(); err != nil {
		return err
	}

	if err := c.Log.valid(); err != nil {
		return err
	}

	return nil
}

// UsesInventory reports whether the inventory provider wins over static
// discovery, per spec: "when both are configured, vmapi wins".
func (c *Config) UsesInventory() bool {
	return len(c.VMAPI.URL) > 0
}

func (c *Connections) valid() error {
	if c.MaxConnections > 1 {
		return fmt.Errorf("connections.max_connections must be <= 1, got %d", c.MaxConnections)
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 1
	}
	if c.QueryTimeoutMs <= 0 {
		return errors.New("connections.query_timeout must be positive")
	}
	if c.ConnectTimeoutMs <= 0 {
		return errors.New("connections.connect_timeout must be positive")
	}
	if c.ConnectRetries < 0 {
		return errors.New("connections.connect_retries must be non-negative")
	}
	return nil
}

func (t *Target) valid() error {
	if t.Port == 0 {
		return errors.New("target.port must be set")
	}
	if len(t.Route) == 0 {
		t.Route = "/metrics"
	}
	return nil
}

// QueryTimeout is the per-query deadline as a time.Duration.
func (c Connections) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMs) * time.Millisecond
}

// ConnectTimeout is the per-claim deadline as a time.Duration.
func (c Connections) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// PollInterval is the tick period as a time.Duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Interval) * time.Millisecond
}

// PollIntervalDuration is the inventory poll period as a time.Duration.
func (v VMAPI) PollIntervalDuration() time.Duration {
	if v.PollInterval <= 0 {
		return 30 * time.Second
	}
	return time.Duration(v.PollInterval) * time.Millisecond
}

// Security carries TLS material shared by the inventory HTTP client.
type Security struct {
	SSLCA   string
	SSLCert string
	SSLKey  string

	tlsConfig *tls.Config
}

// GetTLSConfig lazily builds and caches a *tls.Config from the configured
// CA/cert/key paths, or returns nil if none were configured.
func (s *Security) GetTLSConfig() *tls.Config {
	if s.tlsConfig != nil {
		return s.tlsConfig
	}
	if s.SSLCA == "" || s.SSLCert == "" || s.SSLKey == "" {
		return nil
	}
	tlsInfo := transport.TLSInfo{
		TrustedCAFile: s.SSLCA,
		CertFile:      s.SSLCert,
		KeyFile:       s.SSLKey,
	}
	tlsConfig, err := tlsInfo.ClientConfig()
	if err != nil {
		return nil
	}
	s.tlsConfig = tlsConfig
	return s.tlsConfig
}

// GetHTTPClientConfig adapts Security to prometheus/common's HTTP client
// config builder, used by the inventory discovery provider.
func (s *Security) GetHTTPClientConfig() commonconfig.HTTPClientConfig {
	return commonconfig.HTTPClientConfig{
		TLSConfig: commonconfig.TLSConfig{
			CAFile:   s.SSLCA,
			CertFile: s.SSLCert,
			KeyFile:  s.SSLKey,
		},
	}
}
