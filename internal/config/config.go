// Package config loads pipeline settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. BAM2MT_ENGINE_PARALLELISM.
const EnvPrefix = "BAM2MT"

// DefaultPath is where settings are read from when no path is given.
const DefaultPath = "settings.yaml"

var (
	// ErrMissingSettings is returned when the settings file does not exist.
	ErrMissingSettings = errors.New("settings file not found")

	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)

type Config struct {
	Source      ContainerConfig `mapstructure:"source"`
	Destination ContainerConfig `mapstructure:"destination"`

	// Cells are the identifiers whose objects live under Prefix/<cell>.
	Cells      []string `mapstructure:"cells"`
	Prefix     string   `mapstructure:"prefix"`
	FileSuffix string   `mapstructure:"file_suffix"`

	Engine    EngineConfig    `mapstructure:"engine"`
	Transform TransformConfig `mapstructure:"transform"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Report    ReportConfig    `mapstructure:"report"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Watch     WatchConfig     `mapstructure:"watch"`
}

type ContainerConfig struct {
	Backend     string `mapstructure:"backend"`
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
	Container   string `mapstructure:"container"`
	Endpoint    string `mapstructure:"endpoint"`
	Region      string `mapstructure:"region"`
	LocalDir    string `mapstructure:"local_dir"`
}

type EngineConfig struct {
	Parallelism   int           `mapstructure:"parallelism"`
	StageTimeout  time.Duration `mapstructure:"stage_timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	TempDir       string        `mapstructure:"temp_dir"`
	KeepTemp      bool          `mapstructure:"keep_temp"`
	StateDir      string        `mapstructure:"state_dir"`
	StateEnabled  bool          `mapstructure:"state_enabled"`
}

type TransformConfig struct {
	Samtools    string `mapstructure:"samtools"`
	Region      string `mapstructure:"region"`
	VerifyInput bool   `mapstructure:"verify_input"`
}

type LoggingConfig struct {
	Format     string `mapstructure:"format"`
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Namespace string `mapstructure:"namespace"`
}

type ReportConfig struct {
	Dir     string `mapstructure:"dir"`
	Parquet bool   `mapstructure:"parquet"`
}

// CatalogConfig enables the lineage catalog when PostgresDSN is set.
type CatalogConfig struct {
	PostgresDSN string `mapstructure:"postgres_dsn"`
	Namespace   string `mapstructure:"namespace"`
}

type AuditConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Dir      string        `mapstructure:"dir"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type WatchConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Storage converts the container settings into a storage configuration.
func (c ContainerConfig) Storage() storage.Config {
	return storage.Config{
		Backend:     c.Backend,
		AccountName: c.AccountName,
		AccountKey:  c.AccountKey,
		Container:   c.Container,
		Endpoint:    c.Endpoint,
		Region:      c.Region,
		LocalDir:    c.LocalDir,
	}
}

// legacyEnv maps keys onto the credential variables older deployments export.
var legacyEnv = map[string]string{
	"source.account_name":      "AZURE_SOURCE_STORAGE_ACCOUNT_NAME",
	"source.account_key":       "AZURE_SOURCE_STORAGE_ACCOUNT_KEY",
	"destination.account_name": "AZURE_DESTINATION_STORAGE_ACCOUNT_NAME",
	"destination.account_key":  "AZURE_DESTINATION_STORAGE_ACCOUNT_KEY",
}

// SetDefaults registers every key with its default so that environment
// overrides apply even to keys absent from the settings file.
func SetDefaults(v *viper.Viper) {
	for _, side := range []string{"source", "destination"} {
		v.SetDefault(side+".backend", "azure")
		v.SetDefault(side+".account_name", "")
		v.SetDefault(side+".account_key", "")
		v.SetDefault(side+".container", "")
		v.SetDefault(side+".endpoint", "")
		v.SetDefault(side+".region", "")
		v.SetDefault(side+".local_dir", "")
	}

	v.SetDefault("cells", []string{})
	v.SetDefault("prefix", "")
	v.SetDefault("file_suffix", ".bam")

	v.SetDefault("engine.parallelism", 128)
	v.SetDefault("engine.stage_timeout", time.Duration(0))
	v.SetDefault("engine.retry_attempts", 1)
	v.SetDefault("engine.retry_backoff", time.Second)
	v.SetDefault("engine.temp_dir", "")
	v.SetDefault("engine.keep_temp", false)
	v.SetDefault("engine.state_dir", ".bam2mt/state")
	v.SetDefault("engine.state_enabled", true)

	v.SetDefault("transform.samtools", "samtools")
	v.SetDefault("transform.region", "MT")
	v.SetDefault("transform.verify_input", true)

	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9090")
	v.SetDefault("metrics.namespace", "bam2mt")

	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.parquet", false)

	v.SetDefault("catalog.postgres_dsn", "")
	v.SetDefault("catalog.namespace", "")

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.dir", ".bam2mt/audit")
	v.SetDefault("audit.endpoint", "")
	v.SetDefault("audit.timeout", 30*time.Second)

	v.SetDefault("watch.interval", 5*time.Minute)
}

// Load reads the settings file at path into v and decodes the merged view of
// defaults, file, environment and any flags already bound to v.
// A nil v uses a fresh viper instance.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	if path == "" {
		path = DefaultPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s (copy settings.yaml.example to %s and fill it in)", ErrMissingSettings, path, path)
		}
		return nil, fmt.Errorf("stat settings file %s: %w", path, err)
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), legacy); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}

	return &cfg, nil
}

var knownBackends = map[string]bool{
	"azure": true,
	"s3":    true,
	"gcs":   true,
	"local": true,
	"mem":   true,
}

// Validate checks the configuration, reporting every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if len(c.Cells) == 0 {
		result = multierror.Append(result, errors.New("cells: at least one cell identifier is required"))
	}
	for i, cell := range c.Cells {
		if strings.TrimSpace(cell) == "" {
			result = multierror.Append(result, fmt.Errorf("cells[%d]: empty identifier", i))
		}
	}

	sides := []struct {
		name string
		cc   ContainerConfig
	}{{"source", c.Source}, {"destination", c.Destination}}
	for _, side := range sides {
		name, cc := side.name, side.cc
		if !knownBackends[cc.Backend] {
			result = multierror.Append(result, fmt.Errorf("%s.backend: unknown backend %q", name, cc.Backend))
			continue
		}
		switch cc.Backend {
		case "local":
			if cc.LocalDir == "" {
				result = multierror.Append(result, fmt.Errorf("%s.local_dir: required for local backend", name))
			}
		case "mem":
		default:
			if cc.Container == "" {
				result = multierror.Append(result, fmt.Errorf("%s.container: required", name))
			}
		}
		if cc.Backend == "azure" && cc.AccountName == "" {
			result = multierror.Append(result, fmt.Errorf("%s.account_name: required for azure backend", name))
		}
	}

	if c.FileSuffix == "" {
		result = multierror.Append(result, errors.New("file_suffix: must not be empty"))
	}
	if c.Engine.Parallelism < 1 {
		result = multierror.Append(result, fmt.Errorf("engine.parallelism: must be at least 1, got %d", c.Engine.Parallelism))
	}
	if c.Engine.RetryAttempts < 1 {
		result = multierror.Append(result, fmt.Errorf("engine.retry_attempts: must be at least 1, got %d", c.Engine.RetryAttempts))
	}
	if c.Engine.StageTimeout < 0 {
		result = multierror.Append(result, errors.New("engine.stage_timeout: must not be negative"))
	}
	if c.Transform.Region == "" {
		result = multierror.Append(result, errors.New("transform.region: must not be empty"))
	}

	if c.Audit.Enabled && c.Audit.Dir == "" {
		result = multierror.Append(result, errors.New("audit.dir: required when audit is enabled"))
	}
	if c.Watch.Interval < 0 {
		result = multierror.Append(result, errors.New("watch.interval: must not be negative"))
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
