// Package config loads offpay settings from defaults, an offpay.yaml file,
// OFFPAY_* environment variables and command-line flags, in increasing
// precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"offpay/internal/backend"
	"offpay/internal/domain"
	"offpay/internal/logging"
	"offpay/internal/services/protocol"
	"offpay/internal/services/queue"
	"offpay/internal/services/settlement"
	syncsvc "offpay/internal/services/sync"
	"offpay/internal/services/validation"
	"offpay/internal/store"
)

// FileName is the config file name searched for, without extension.
const FileName = "offpay"

// EnvPrefix prefixes environment overrides, e.g. OFFPAY_SYNC_BATCH_SIZE.
const EnvPrefix = "offpay"

// DeviceConfig names the local device.
type DeviceConfig struct {
	ID             domain.DeviceID `mapstructure:"id" yaml:"id"`
	Name           string          `mapstructure:"name" yaml:"name"`
	Currency       domain.Currency `mapstructure:"currency" yaml:"currency"`
	OpeningBalance domain.Amount   `mapstructure:"opening_balance" yaml:"opening_balance"`
}

// RelayConfig points at the mailbox relay used for device-to-device
// messages.
type RelayConfig struct {
	URL          string        `mapstructure:"url" yaml:"url"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// NetworkConfig drives connectivity detection. An empty HealthURL falls back
// to the backend's /health endpoint.
type NetworkConfig struct {
	HealthURL      string        `mapstructure:"health_url" yaml:"health_url"`
	HealthInterval time.Duration `mapstructure:"health_interval" yaml:"health_interval"`
}

// Config is the full offpay configuration.
type Config struct {
	Home       string               `mapstructure:"home" yaml:"home"`
	Device     DeviceConfig         `mapstructure:"device" yaml:"device"`
	Log        logging.Config       `mapstructure:"log" yaml:"log"`
	Storage    store.Config         `mapstructure:"storage" yaml:"storage"`
	Relay      RelayConfig          `mapstructure:"relay" yaml:"relay"`
	Backend    backend.ClientConfig `mapstructure:"backend" yaml:"backend"`
	Network    NetworkConfig        `mapstructure:"network" yaml:"network"`
	Retry      queue.RetryPolicy    `mapstructure:"retry" yaml:"retry"`
	Sync       syncsvc.Config       `mapstructure:"sync" yaml:"sync"`
	Validation validation.Config    `mapstructure:"validation" yaml:"validation"`
	Protocol   protocol.Config      `mapstructure:"protocol" yaml:"protocol"`
	Settlement settlement.Config    `mapstructure:"settlement" yaml:"settlement"`
}

// DefaultHome is ~/.offpay.
func DefaultHome() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}
	return filepath.Join(dir, ".offpay"), nil
}

// Defaults returns every configuration key with its default value. Keys
// missing here are not overridable from the environment.
func Defaults() map[string]any {
	bc := backend.DefaultClientConfig()
	rp := queue.DefaultRetryPolicy()
	sc := syncsvc.DefaultConfig()
	vc := validation.DefaultConfig()
	pc := protocol.DefaultConfig()

	return map[string]any{
		"home": "",

		"device.id":              "",
		"device.name":            "",
		"device.currency":        "USD",
		"device.opening_balance": 0,

		"log.level":  "info",
		"log.format": "console",

		"storage.driver":         "file",
		"storage.dir":            "",
		"storage.dsn":            "",
		"storage.encrypt":        false,
		"storage.redis.addr":     "127.0.0.1:6379",
		"storage.redis.password": "",
		"storage.redis.db":       0,
		"storage.redis.prefix":   "offpay:",

		"relay.url":           "",
		"relay.poll_interval": 2 * time.Second,

		"backend.url":                          "",
		"backend.token":                        "",
		"backend.timeout":                      bc.Timeout,
		"backend.breaker.max_requests":         bc.Breaker.MaxRequests,
		"backend.breaker.interval":             bc.Breaker.Interval,
		"backend.breaker.timeout":              bc.Breaker.Timeout,
		"backend.breaker.consecutive_failures": bc.Breaker.ConsecutiveFailures,

		"network.health_url":      "",
		"network.health_interval": 15 * time.Second,

		"retry.initial":      rp.Initial,
		"retry.multiplier":   rp.Multiplier,
		"retry.max":          rp.Max,
		"retry.max_attempts": rp.MaxAttempts,

		"sync.interval":        sc.Interval,
		"sync.batch_size":      sc.BatchSize,
		"sync.conflict_policy": string(sc.Policy),
		"sync.submit_timeout":  sc.SubmitTimeout,

		"validation.min_amount":           vc.MinAmount,
		"validation.max_amount":           vc.MaxAmount,
		"validation.warn_amount":          vc.WarnAmount,
		"validation.max_future_skew":      vc.MaxFutureSkew,
		"validation.max_age":              vc.MaxAge,
		"validation.stale_sync_age":       vc.StaleSyncAge,
		"validation.require_signature":    vc.RequireSignature,
		"validation.require_trusted_peer": vc.RequireTrustedPeer,

		"protocol.request_ttl":       pc.RequestTTL,
		"protocol.auto_confirm":      pc.AutoConfirm,
		"protocol.sweep_interval":    pc.SweepInterval,
		"protocol.session_retention": pc.SessionRetention,
		"protocol.send_retries":      pc.SendRetries,
		"protocol.send_backoff":      pc.SendBackoff,

		"settlement.materiality": settlement.DefaultMateriality,
	}
}

// searchPaths lists the directories searched for offpay.yaml, most
// specific first. A home given by flag or OFFPAY_HOME comes first.
func searchPaths(flags *pflag.FlagSet) []string {
	var dirs []string
	if flags != nil {
		if f := flags.Lookup("home"); f != nil && f.Changed {
			dirs = append(dirs, f.Value.String())
		}
	}
	if h := os.Getenv("OFFPAY_HOME"); h != "" {
		dirs = append(dirs, h)
	}
	if home, err := DefaultHome(); err == nil {
		dirs = append(dirs, home)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, "offpay"))
	}
	if runtime.GOOS == "windows" {
		dirs = append(dirs, filepath.Join(os.Getenv("ProgramData"), "offpay"))
	} else {
		dirs = append(dirs, "/etc/offpay")
	}
	return append(dirs, ".")
}

// Load resolves the configuration. A non-empty explicit path must exist;
// otherwise a missing file is not an error. flags may be nil; bound flags
// are named after their keys, e.g. --device.id.
func Load(flags *pflag.FlagSet, explicit string) (Config, error) {
	var c Config
	v := viper.New()

	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	if explicit != "" {
		v.SetConfigFile(explicit)
	}
	for _, dir := range searchPaths(flags) {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, fmt.Errorf("read config: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	if c.Home == "" {
		home, err := DefaultHome()
		if err != nil {
			return c, err
		}
		c.Home = home
	}
	return c, c.Validate()
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error
	if c.Device.OpeningBalance < 0 {
		errs = append(errs, errors.New("device.opening_balance must not be negative"))
	}
	switch c.Storage.Driver {
	case "", "file", "sqlite", "postgres", "mysql", "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}
	if (c.Storage.Driver == "postgres" || c.Storage.Driver == "mysql") && c.Storage.DSN == "" {
		errs = append(errs, fmt.Errorf("storage.dsn is required for %s", c.Storage.Driver))
	}
	if c.Sync.Policy != "" && !c.Sync.Policy.IsValid() {
		errs = append(errs, fmt.Errorf("sync.conflict_policy %q is not supported", c.Sync.Policy))
	}
	if c.Validation.MaxAmount > 0 && c.Validation.MinAmount > c.Validation.MaxAmount {
		errs = append(errs, errors.New("validation.min_amount exceeds validation.max_amount"))
	}
	return errors.Join(errs...)
}

// HealthURL is the connectivity check target.
func (c Config) HealthURL() string {
	if c.Network.HealthURL != "" {
		return c.Network.HealthURL
	}
	if c.Backend.URL != "" {
		return strings.TrimRight(c.Backend.URL, "/") + "/health"
	}
	return ""
}

// Path returns the default location of the config file for c.
func (c Config) Path() string {
	return filepath.Join(c.Home, FileName+".yaml")
}

// WriteFile writes c as YAML to path with 0600 permissions, creating the
// directory when needed. The file may hold the backend token.
func WriteFile(c *Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", dir, err)
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}
