package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"dev/bravebird/form-submitter/pkg/browser"
	"dev/bravebird/form-submitter/pkg/locator"
	"dev/bravebird/form-submitter/pkg/models"
	"dev/bravebird/form-submitter/pkg/submission"
	"dev/bravebird/form-submitter/pkg/tracker"
)

// EnvPrefix is prepended to every environment override, SUBMITTER_RETRY_MAX_ATTEMPTS etc.
const EnvPrefix = "SUBMITTER"

// Config holds the entire application configuration
type Config struct {
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	Payload     PayloadConfig     `mapstructure:"payload" yaml:"payload"`
	// PayloadFile is a JSON or YAML file with title, abstract and pdf_path. Values set
	// under payload take precedence over the file.
	PayloadFile string                    `mapstructure:"payload_file" yaml:"payload_file"`
	Targets     TargetsConfig             `mapstructure:"targets" yaml:"targets"`
	Retry       RetryConfig               `mapstructure:"retry" yaml:"retry"`
	Browser     browser.Config            `mapstructure:"browser" yaml:"browser"`
	Locators    map[string][]locator.Rule `mapstructure:"locators" yaml:"locators"`
	Tracker     TrackerConfig             `mapstructure:"tracker" yaml:"tracker"`
	Diagnostics DiagnosticsConfig         `mapstructure:"diagnostics" yaml:"diagnostics"`
	Events      EventsConfig              `mapstructure:"events" yaml:"events"`
	API         APIConfig                 `mapstructure:"api" yaml:"api"`
	Temporal    TemporalConfig            `mapstructure:"temporal" yaml:"temporal"`
	Logger      LoggerConfig              `mapstructure:"logger" yaml:"logger"`
}

type CredentialsConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

type PayloadConfig struct {
	Title             string   `mapstructure:"title" yaml:"title"`
	Abstract          string   `mapstructure:"abstract" yaml:"abstract"`
	PDFPath           string   `mapstructure:"pdf_path" yaml:"pdf_path"`
	Category          string   `mapstructure:"category" yaml:"category"`
	CategoryFallbacks []string `mapstructure:"category_fallbacks" yaml:"category_fallbacks"`
	// VerifyPDF parses the document before any browser is started
	VerifyPDF bool `mapstructure:"verify_pdf" yaml:"verify_pdf"`
}

// TargetsConfig lists submission pages inline, from a CSV file, or both
type TargetsConfig struct {
	URLs   []string `mapstructure:"urls" yaml:"urls"`
	File   string   `mapstructure:"file" yaml:"file"`
	Column string   `mapstructure:"column" yaml:"column"`
	// Only keeps targets matching at least one glob pattern
	Only []string `mapstructure:"only" yaml:"only"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff" yaml:"backoff"`
	Pacing      time.Duration `mapstructure:"pacing" yaml:"pacing"`
}

type TrackerConfig struct {
	Backend     string        `mapstructure:"backend" yaml:"backend"`
	MySQLDSN    string        `mapstructure:"mysql_dsn" yaml:"mysql_dsn"`
	RedisAddr   string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPrefix string        `mapstructure:"redis_prefix" yaml:"redis_prefix"`
	LockName    string        `mapstructure:"lock_name" yaml:"lock_name"`
	LockTTL     time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
}

// DiagnosticsConfig enables failure snapshots when Dir is set
type DiagnosticsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// EventsConfig enables the Kafka event sink when brokers are set
type EventsConfig struct {
	KafkaBrokers  []string `mapstructure:"kafka_brokers" yaml:"kafka_brokers"`
	KafkaTopic    string   `mapstructure:"kafka_topic" yaml:"kafka_topic"`
	ConsumerGroup string   `mapstructure:"consumer_group" yaml:"consumer_group"`
}

type APIConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host" yaml:"host"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	b := browser.DefaultConfig()
	p := submission.DefaultRetryPolicy()

	v.SetDefault("credentials.username", "")
	v.SetDefault("credentials.password", "")

	v.SetDefault("payload.title", "")
	v.SetDefault("payload.abstract", "")
	v.SetDefault("payload.pdf_path", "")
	v.SetDefault("payload.category", "")
	v.SetDefault("payload.category_fallbacks", []string{})
	v.SetDefault("payload.verify_pdf", true)
	v.SetDefault("payload_file", "")

	v.SetDefault("targets.urls", []string{})
	v.SetDefault("targets.file", "")
	v.SetDefault("targets.column", "submission_url")
	v.SetDefault("targets.only", []string{})

	v.SetDefault("retry.max_attempts", p.MaxAttempts)
	v.SetDefault("retry.backoff", p.Backoff)
	v.SetDefault("retry.pacing", "2s")

	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.headless", b.Headless)
	v.SetDefault("browser.flags", b.Flags)
	v.SetDefault("browser.login_url", b.LoginURL)
	v.SetDefault("browser.login_success", b.LoginSuccess)
	v.SetDefault("browser.navigate_timeout", b.NavigateTimeout)
	v.SetDefault("browser.action_timeout", b.ActionTimeout)
	v.SetDefault("browser.login_timeout", b.LoginTimeout)
	v.SetDefault("browser.element_wait", b.ElementWait)
	v.SetDefault("browser.poll_interval", b.PollInterval)

	v.SetDefault("tracker.backend", string(tracker.BackendMySQL))
	v.SetDefault("tracker.mysql_dsn", "submitter:submitter@tcp(localhost:3306)/submitter?parseTime=true")
	v.SetDefault("tracker.redis_addr", "localhost:6379")
	v.SetDefault("tracker.redis_prefix", "submitter:")
	v.SetDefault("tracker.lock_name", "form_submitter_run")
	v.SetDefault("tracker.lock_ttl", "30s")

	v.SetDefault("diagnostics.dir", "diagnostics")

	v.SetDefault("events.kafka_brokers", []string{})
	v.SetDefault("events.kafka_topic", "submission-attempts")
	v.SetDefault("events.consumer_group", "submitter-api")

	v.SetDefault("api.addr", ":8080")

	v.SetDefault("temporal.host", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "submitter")
	v.SetDefault("logger.log_file", "logs/submission.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
}

// Load reads cfgFile (or ./submitter.yaml when empty and present), applies environment
// overrides and returns the validated configuration.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("submitter")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The credential variables predate the prefix
	_ = v.BindEnv("credentials.username", EnvPrefix+"_CREDENTIALS_USERNAME", "CMT3_USERNAME")
	_ = v.BindEnv("credentials.password", EnvPrefix+"_CREDENTIALS_PASSWORD", "CMT3_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if cfg.PayloadFile != "" {
		fromFile, err := LoadPayloadFile(cfg.PayloadFile)
		if err != nil {
			return nil, err
		}
		cfg.Payload = cfg.Payload.over(fromFile)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.PayloadFile,
		&c.Payload.PDFPath,
		&c.Targets.File,
		&c.Diagnostics.Dir,
		&c.Logger.LogFile,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks settings every command depends on
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Backoff < 0 || c.Retry.Pacing < 0 {
		return errors.New("retry.backoff and retry.pacing cannot be negative")
	}
	switch tracker.Backend(c.Tracker.Backend) {
	case tracker.BackendMemory, tracker.BackendMySQL, tracker.BackendRedis:
	default:
		return fmt.Errorf("unknown tracker.backend %q", c.Tracker.Backend)
	}
	if c.Tracker.Backend == string(tracker.BackendMySQL) && c.Tracker.MySQLDSN == "" {
		return errors.New("tracker.mysql_dsn is required for the mysql backend")
	}
	if c.Tracker.Backend == string(tracker.BackendRedis) && c.Tracker.RedisAddr == "" {
		return errors.New("tracker.redis_addr is required for the redis backend")
	}
	if len(c.Events.KafkaBrokers) > 0 && c.Events.KafkaTopic == "" {
		return errors.New("events.kafka_topic is required when brokers are set")
	}
	if _, err := c.Strategy(); err != nil {
		return err
	}
	return nil
}

// ValidateForRun checks what a submission run needs beyond Validate
func (c *Config) ValidateForRun() error {
	var errs []error
	if c.Credentials.Username == "" || c.Credentials.Password == "" {
		errs = append(errs, errors.New("credentials are required (credentials.username/password or CMT3_USERNAME/CMT3_PASSWORD)"))
	}
	if strings.TrimSpace(c.Payload.Title) == "" {
		errs = append(errs, errors.New("payload.title is required"))
	}
	if c.Payload.PDFPath == "" {
		errs = append(errs, errors.New("payload.pdf_path is required"))
	}
	if len(c.Targets.URLs) == 0 && c.Targets.File == "" {
		errs = append(errs, errors.New("no targets: set targets.urls or targets.file"))
	}
	return errors.Join(errs...)
}

func (c *Config) CredentialsValue() models.Credentials {
	return models.Credentials{Username: c.Credentials.Username, Password: c.Credentials.Password}
}

func (c *Config) PayloadValue() models.Payload {
	return models.Payload{
		Title:             c.Payload.Title,
		Abstract:          c.Payload.Abstract,
		PDFPath:           c.Payload.PDFPath,
		Category:          c.Payload.Category,
		CategoryFallbacks: c.Payload.CategoryFallbacks,
	}
}

// Strategy returns the default locator rules with any configured extras appended
func (c *Config) Strategy() (locator.Strategy, error) {
	s := locator.DefaultStrategy().Merge(c.Locators)
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid locators: %w", err)
	}
	return s, nil
}

func (c *Config) RetryPolicy() submission.RetryPolicy {
	return submission.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		Backoff:     c.Retry.Backoff,
	}
}

func (c *Config) TrackerOptions() tracker.Options {
	return tracker.Options{
		Backend:     tracker.Backend(c.Tracker.Backend),
		MySQLDSN:    c.Tracker.MySQLDSN,
		RedisAddr:   c.Tracker.RedisAddr,
		RedisPrefix: c.Tracker.RedisPrefix,
		LockName:    c.Tracker.LockName,
		LockTTL:     c.Tracker.LockTTL,
	}
}

// over fills p's empty fields from base
func (p PayloadConfig) over(base PayloadConfig) PayloadConfig {
	out := base
	out.VerifyPDF = p.VerifyPDF
	if p.Title != "" {
		out.Title = p.Title
	}
	if p.Abstract != "" {
		out.Abstract = p.Abstract
	}
	if p.PDFPath != "" {
		out.PDFPath = p.PDFPath
	}
	if p.Category != "" {
		out.Category = p.Category
	}
	if len(p.CategoryFallbacks) > 0 {
		out.CategoryFallbacks = p.CategoryFallbacks
	}
	return out
}
