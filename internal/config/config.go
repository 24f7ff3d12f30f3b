package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"FeedRater/internal/domain"
	"FeedRater/internal/prompt"
)

const (
	defaultTimezone   = "UTC"
	defaultConfigPath = "config.yaml"
	configPathEnv     = "FEEDRATER_CONFIG"
	databaseDriverEnv = "DATABASE_DRIVER"
	databaseDSNEnv    = "DATABASE_DSN"
	llmBaseURLEnv     = "LLM_BASE_URL"
	llmAPIKeyEnv      = "LLM_API_KEY"
	llmModelEnv       = "LLM_MODEL"
	adminTokenEnv     = "ADMIN_TOKEN"
	logLevelEnv       = "LOG_LEVEL"

	redacted = "********"
)

var ha1Expr = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// Config holds every setting of the process. It is built once at startup
// and handed to components explicitly.
type Config struct {
	Server       ServerConfig             `yaml:"server" json:"server"`
	Database     DatabaseConfig           `yaml:"database" json:"database"`
	Scheduler    SchedulerConfig          `yaml:"scheduler" json:"scheduler"`
	LLM          LLMConfig                `yaml:"llm" json:"llm"`
	Fetch        FetchConfig              `yaml:"fetch" json:"fetch"`
	Admin        AdminConfig              `yaml:"admin" json:"admin"`
	Logging      LoggingConfig            `yaml:"logging" json:"logging"`
	JournalsFile string                   `yaml:"journalsFile" json:"journalsFile"`
	Journals     map[string]SourceMapping `yaml:"journals" json:"journals"`
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port"`
	BaseURL string `yaml:"baseURL" json:"baseURL"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the storage backend: sqlite3 or pgx.
type DatabaseConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// SchedulerConfig defines the daily hours of the periodic jobs.
type SchedulerConfig struct {
	Timezone   string         `yaml:"timezone" json:"timezone"`
	IngestHour int            `yaml:"ingestHour" json:"ingestHour"`
	RateHour   int            `yaml:"rateHour" json:"rateHour"`
	location   *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// LLMConfig defines how to contact the chat-completions endpoint.
type LLMConfig struct {
	BaseURL           string         `yaml:"baseURL" json:"base_url"`
	APIKey            string         `yaml:"apiKey" json:"api_key"`
	Model             string         `yaml:"model" json:"model_name"`
	Prompt            string         `yaml:"prompt" json:"prompt"`
	ModelArgs         map[string]any `yaml:"modelArgs" json:"model_args"`
	Timeout           time.Duration  `yaml:"timeout" json:"timeout"`
	RequestsPerSecond float64        `yaml:"requestsPerSecond" json:"requests_per_second"`
}

// Redacted returns a copy safe to expose.
func (l LLMConfig) Redacted() LLMConfig {
	l.APIKey = redacted
	return l
}

// FetchConfig tunes the feed HTTP client.
type FetchConfig struct {
	UserAgent string        `yaml:"userAgent" json:"userAgent"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// AdminConfig holds the digest credentials of the admin surface. Token is
// the HA1 digest md5(username:realm:password), never the password.
type AdminConfig struct {
	Username string `yaml:"username" json:"username"`
	Realm    string `yaml:"realm" json:"realm"`
	Token    string `yaml:"token" json:"token"`
}

// LoggingConfig selects log level and handler format (text or json).
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load reads the YAML configuration at path (or FEEDRATER_CONFIG, or
// ./config.yaml when present), applies environment overrides and validates
// the result. Any problem is reported as *domain.ConfigError.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, &domain.ConfigError{Field: path, Reason: err.Error()}
		}
	}

	if cfg.JournalsFile != "" {
		extra := map[string]SourceMapping{}
		if err := decodeFile(cfg.JournalsFile, &extra); err != nil {
			return Config{}, &domain.ConfigError{Field: cfg.JournalsFile, Reason: err.Error()}
		}
		if cfg.Journals == nil {
			cfg.Journals = map[string]SourceMapping{}
		}
		for key, journal := range extra {
			cfg.Journals[key] = journal
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults and validates it.
func Parse(raw []byte) (Config, error) {
	cfg := defaultConfig()
	if err := decode(bytes.NewReader(raw), &cfg); err != nil {
		return Config{}, &domain.ConfigError{Field: "yaml", Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	return decode(f, out)
}

func decode(r io.Reader, out any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(llmBaseURLEnv); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv(llmAPIKeyEnv); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv(llmModelEnv); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv(adminTokenEnv); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration and binds the scheduler timezone.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "pgx":
	default:
		return &domain.ConfigError{Field: "database.driver", Reason: fmt.Sprintf("unsupported driver %q", c.Database.Driver)}
	}
	if c.Database.DSN == "" {
		return &domain.ConfigError{Field: "database.dsn", Reason: "must be set"}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &domain.ConfigError{Field: "server.port", Reason: fmt.Sprintf("invalid port %d", c.Server.Port)}
	}

	for name, hour := range map[string]int{"scheduler.ingestHour": c.Scheduler.IngestHour, "scheduler.rateHour": c.Scheduler.RateHour} {
		if hour < 0 || hour > 23 {
			return &domain.ConfigError{Field: name, Reason: fmt.Sprintf("hour %d out of range 0..23", hour)}
		}
	}
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return &domain.ConfigError{Field: "scheduler.timezone", Reason: err.Error()}
	}
	c.Scheduler.location = loc

	for key, journal := range c.Journals {
		if journal.FeedURL == "" {
			return &domain.ConfigError{Field: "journals." + key + ".feed_url", Reason: "must be set"}
		}
		if journal.SourceName == "" {
			return &domain.ConfigError{Field: "journals." + key + ".source_name", Reason: "must be set"}
		}
		for _, f := range journal.Fields() {
			if f.Mapping.Kind == MappingDate && f.Name != "published" {
				return &domain.ConfigError{Field: "journals." + key + "." + f.Name, Reason: "date mapping is only valid for published"}
			}
		}
	}

	if c.LLM.BaseURL != "" {
		if c.LLM.Model == "" {
			return &domain.ConfigError{Field: "llm.model", Reason: "must be set when llm.baseURL is set"}
		}
		if c.LLM.Prompt == "" {
			return &domain.ConfigError{Field: "llm.prompt", Reason: "must be set when llm.baseURL is set"}
		}
	}
	if err := validatePrompt(c.LLM.Prompt); err != nil {
		return &domain.ConfigError{Field: "llm.prompt", Reason: err.Error()}
	}
	if c.LLM.Timeout <= 0 {
		return &domain.ConfigError{Field: "llm.timeout", Reason: "must be positive"}
	}
	if c.LLM.RequestsPerSecond < 0 {
		return &domain.ConfigError{Field: "llm.requestsPerSecond", Reason: "must not be negative"}
	}

	if c.Admin.Token != "" && !ha1Expr.MatchString(c.Admin.Token) {
		return &domain.ConfigError{Field: "admin.token", Reason: "must be a 32 hex digit HA1 digest"}
	}

	return nil
}

func validatePrompt(tmpl string) error {
	names, err := prompt.Placeholders(tmpl)
	if err != nil {
		return err
	}
	known := domain.Record{}.Fields()
	for _, name := range names {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("placeholder {%s} is not a record field", name)
		}
	}
	return nil
}

// Redacted returns a copy with secrets replaced, safe to expose over HTTP.
func (c Config) Redacted() Config {
	c.LLM = c.LLM.Redacted()
	c.Admin = AdminConfig{Username: redacted, Realm: redacted, Token: redacted}
	return c
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8000, BaseURL: "/"},
		Database: DatabaseConfig{Driver: "sqlite3", DSN: "feedrater.db"},
		Scheduler: SchedulerConfig{
			Timezone:   defaultTimezone,
			IngestHour: 3,
			RateHour:   4,
			location:   tz,
		},
		LLM: LLMConfig{
			Timeout: 60 * time.Second,
		},
		Fetch: FetchConfig{
			UserAgent: "Mozilla/5.0 (compatible; FeedRater/1.0)",
			Timeout:   30 * time.Second,
		},
		Admin:    AdminConfig{Username: "admin", Realm: "admin-panel"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Journals: map[string]SourceMapping{},
	}
}
