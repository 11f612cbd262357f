// Package config loads gateway settings from defaults, an optional YAML
// file, and WAGATEWAY_-prefixed environment variables, in that order of
// precedence (environment wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds every tunable of the gateway.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	Identity      string   `yaml:"identity"`
	AuthDir       string   `yaml:"auth_dir"`
	CacheDir      string   `yaml:"cache_dir"`
	BridgeCommand string   `yaml:"bridge_command"`
	BridgeArgs    []string `yaml:"bridge_args"`

	MessageLogPath string `yaml:"message_log_path"`
	UploadDir      string `yaml:"upload_dir"`

	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts"`
	MaxQRRetries         int      `yaml:"max_qr_retries"`
	RestoreTimeout       Duration `yaml:"restore_timeout"`
	PairingTimeout       Duration `yaml:"pairing_timeout"`
	InitWaitCap          Duration `yaml:"init_wait_cap"`
	ProfileWaitCap       Duration `yaml:"profile_wait_cap"`
	LogoutSettleDelay    Duration `yaml:"logout_settle_delay"`
	ShutdownGrace        Duration `yaml:"shutdown_grace"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		ListenAddr:           ":8080",
		Identity:             "client-one",
		AuthDir:              "./.wwebjs_auth",
		CacheDir:             "./.wwebjs_cache",
		BridgeCommand:        "wa-bridge",
		MessageLogPath:       "wagateway.db",
		UploadDir:            os.TempDir(),
		MaxReconnectAttempts: 3,
		MaxQRRetries:         2,
		RestoreTimeout:       Duration(20 * time.Second),
		PairingTimeout:       Duration(30 * time.Second),
		InitWaitCap:          Duration(15 * time.Second),
		ProfileWaitCap:       Duration(5 * time.Second),
		LogoutSettleDelay:    Duration(2 * time.Second),
		ShutdownGrace:        Duration(10 * time.Second),
		LogLevel:             "info",
	}
}

// Load builds the configuration. A missing YAML path is only an error when
// it was requested explicitly. A .env file in the working directory is
// folded into the environment first, without overriding real variables.
func Load(yamlPath string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envString("WAGATEWAY_LISTEN_ADDR", &c.ListenAddr)
	envString("WAGATEWAY_IDENTITY", &c.Identity)
	envString("WAGATEWAY_AUTH_DIR", &c.AuthDir)
	envString("WAGATEWAY_CACHE_DIR", &c.CacheDir)
	envString("WAGATEWAY_BRIDGE_COMMAND", &c.BridgeCommand)
	envString("WAGATEWAY_MESSAGE_LOG_PATH", &c.MessageLogPath)
	envString("WAGATEWAY_UPLOAD_DIR", &c.UploadDir)
	envString("WAGATEWAY_LOG_LEVEL", &c.LogLevel)

	if err := envInt("WAGATEWAY_MAX_RECONNECT_ATTEMPTS", &c.MaxReconnectAttempts); err != nil {
		return err
	}
	if err := envInt("WAGATEWAY_MAX_QR_RETRIES", &c.MaxQRRetries); err != nil {
		return err
	}
	for _, d := range []struct {
		key string
		dst *Duration
	}{
		{"WAGATEWAY_RESTORE_TIMEOUT", &c.RestoreTimeout},
		{"WAGATEWAY_PAIRING_TIMEOUT", &c.PairingTimeout},
		{"WAGATEWAY_INIT_WAIT_CAP", &c.InitWaitCap},
		{"WAGATEWAY_PROFILE_WAIT_CAP", &c.ProfileWaitCap},
		{"WAGATEWAY_LOGOUT_SETTLE_DELAY", &c.LogoutSettleDelay},
		{"WAGATEWAY_SHUTDOWN_GRACE", &c.ShutdownGrace},
	} {
		if err := envDuration(d.key, d.dst); err != nil {
			return err
		}
	}
	return nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = Duration(d)
	return nil
}
