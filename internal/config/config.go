package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"sigs.k8s.io/yaml"
)

const (
	appName = "skyctl"

	DefaultFeatureDim     = 128
	DefaultVersionsToKeep = 5
	DefaultPairingTTL     = 300 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryBackoff   = 60 * time.Second
)

type Config struct {
	Database      *dbConfig      `json:"database,omitempty"`
	Service       *svcConfig     `json:"service,omitempty"`
	Queue         *queueConfig   `json:"queue,omitempty"`
	Recognition   *recogConfig   `json:"recognition,omitempty"`
	Notifications *notifyConfig  `json:"notifications,omitempty"`
	Pairing       *pairingConfig `json:"pairing,omitempty"`
}

type dbConfig struct {
	Type     string `json:"type,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	Port     uint   `json:"port,omitempty"`
	Name     string `json:"name,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}

type svcConfig struct {
	Address string `json:"address,omitempty"`
	// MetricsAddress is the /metrics and /healthz listener of the worker.
	MetricsAddress string `json:"metricsAddress,omitempty"`
	BaseUrl        string `json:"baseUrl,omitempty"`
	DataDir        string `json:"dataDir,omitempty"`
	UploadsDir     string `json:"uploadsDir,omitempty"`
	CapturesDir    string `json:"capturesDir,omitempty"`
	LogLevel       string `json:"logLevel,omitempty"`
	// Base URL of the face-encoding service. Empty disables photo ingestion.
	EncoderUrl string `json:"encoderUrl,omitempty"`
}

type queueConfig struct {
	Hostname string `json:"hostname,omitempty"`
	Port     uint   `json:"port,omitempty"`
	Password string `json:"password,omitempty"`
}

type recogConfig struct {
	// FeatureDim is the face feature vector width D; vectors are D*4 bytes.
	FeatureDim int `json:"featureDim,omitempty"`
	// VersionsToKeep is the per-scope index artifact retention count.
	VersionsToKeep int `json:"versionsToKeep,omitempty"`
}

type notifyConfig struct {
	MaxRetries       int           `json:"maxRetries,omitempty"`
	RetryBackoffBase time.Duration `json:"retryBackoffBase,omitempty"`
	EmailProviderKey string        `json:"emailProviderKey,omitempty"`
	EmailFrom        string        `json:"emailFrom,omitempty"`
	SMSProviderSID   string        `json:"smsProviderSid,omitempty"`
	SMSProviderToken string        `json:"smsProviderToken,omitempty"`
	SMSFrom          string        `json:"smsFrom,omitempty"`
}

type pairingConfig struct {
	CodeTTL time.Duration `json:"codeTTL,omitempty"`
}

func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, "."+appName)
}

func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func NewDefault() *Config {
	return &Config{
		Database: &dbConfig{
			Type:     "pgsql",
			Hostname: "localhost",
			Port:     5432,
			Name:     "skyctl",
			User:     "admin",
			Password: "adminpass",
		},
		Service: &svcConfig{
			Address:        ":3443",
			MetricsAddress: ":15690",
			BaseUrl:        "http://localhost:3443",
			DataDir:        filepath.Join(ConfigDir(), "databases"),
			UploadsDir:     filepath.Join(ConfigDir(), "uploads"),
			CapturesDir:    filepath.Join(ConfigDir(), "captures"),
			LogLevel:       "info",
		},
		Queue: &queueConfig{
			Hostname: "localhost",
			Port:     6379,
		},
		Recognition: &recogConfig{
			FeatureDim:     DefaultFeatureDim,
			VersionsToKeep: DefaultVersionsToKeep,
		},
		Notifications: &notifyConfig{
			MaxRetries:       DefaultMaxRetries,
			RetryBackoffBase: DefaultRetryBackoff,
		},
		Pairing: &pairingConfig{
			CodeTTL: DefaultPairingTTL,
		},
	}
}

func NewFromFile(cfgFile string) (*Config, error) {
	cfg, err := Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadOrGenerate(cfgFile string) (*Config, error) {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(cfgFile), os.FileMode(0755)); err != nil {
			return nil, fmt.Errorf("creating directory for config file: %v", err)
		}
		if err := Save(NewDefault(), cfgFile); err != nil {
			return nil, err
		}
	}
	return NewFromFile(cfgFile)
}

func Load(cfgFile string) (*Config, error) {
	contents, err := os.ReadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %v", err)
	}
	c := NewDefault()
	if err := yaml.Unmarshal(contents, c); err != nil {
		return nil, fmt.Errorf("decoding config: %v", err)
	}
	return c, nil
}

func Save(cfg *Config, cfgFile string) error {
	contents, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %v", err)
	}
	if err := os.WriteFile(cfgFile, contents, 0600); err != nil {
		return fmt.Errorf("writing config file: %v", err)
	}
	return nil
}

// applyEnv overlays the normative environment variables on the file config.
func (cfg *Config) applyEnv() {
	if v, ok := envInt("FEATURE_DIM"); ok {
		cfg.Recognition.FeatureDim = v
	}
	if v, ok := envInt("ARTIFACT_VERSIONS_TO_KEEP"); ok {
		cfg.Recognition.VersionsToKeep = v
	}
	if v, ok := envInt("NOTIFICATION_MAX_RETRIES"); ok {
		cfg.Notifications.MaxRetries = v
	}
	if v, ok := envInt("NOTIFICATION_RETRY_BACKOFF_BASE"); ok {
		cfg.Notifications.RetryBackoffBase = time.Duration(v) * time.Second
	}
	if v, ok := envInt("PAIRING_CODE_TTL"); ok {
		cfg.Pairing.CodeTTL = time.Duration(v) * time.Second
	}
	if v := os.Getenv("EMAIL_PROVIDER_KEY"); v != "" {
		cfg.Notifications.EmailProviderKey = v
	}
	if v := os.Getenv("SMS_PROVIDER_SID"); v != "" {
		cfg.Notifications.SMSProviderSID = v
	}
	if v := os.Getenv("SMS_PROVIDER_TOKEN"); v != "" {
		cfg.Notifications.SMSProviderToken = v
	}
	if v := os.Getenv("SMS_PROVIDER_FROM"); v != "" {
		cfg.Notifications.SMSFrom = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func Validate(cfg *Config) error {
	if cfg.Recognition.FeatureDim <= 0 {
		return fmt.Errorf("recognition.featureDim must be positive")
	}
	if cfg.Recognition.VersionsToKeep < 1 {
		return fmt.Errorf("recognition.versionsToKeep must be at least 1")
	}
	return nil
}

func (cfg *Config) String() string {
	redacted := *cfg
	if cfg.Notifications != nil {
		n := *cfg.Notifications
		if n.EmailProviderKey != "" {
			n.EmailProviderKey = "<redacted>"
		}
		if n.SMSProviderToken != "" {
			n.SMSProviderToken = "<redacted>"
		}
		redacted.Notifications = &n
	}
	contents, err := json.Marshal(redacted)
	if err != nil {
		return "<error>"
	}
	return string(contents)
}
