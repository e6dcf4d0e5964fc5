package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for contentpipe.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	Capability CapabilityConfig `mapstructure:"capability"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Schedules  []ScheduleConfig `mapstructure:"schedules"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// LLM provider names.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// LLMConfig selects the hosted model provider and the model used per stage.
type LLMConfig struct {
	Provider     string            `mapstructure:"provider"`
	DefaultModel string            `mapstructure:"default_model"`
	Models       map[string]string `mapstructure:"models"`
	Temperature  float64           `mapstructure:"temperature"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	Gemini       GeminiConfig      `mapstructure:"gemini"`
	OpenAI       OpenAIConfig      `mapstructure:"openai"`
}

// GeminiConfig covers both the Gemini API (api key) and Vertex AI
// (application credentials plus project and location).
type GeminiConfig struct {
	APIKey          string `mapstructure:"api_key"`
	CredentialsFile string `mapstructure:"credentials_file"`
	Project         string `mapstructure:"project"`
	Location        string `mapstructure:"location"`
}

// Vertex reports whether the Vertex AI backend should be used.
func (g GeminiConfig) Vertex() bool {
	return g.APIKey == "" && g.CredentialsFile != "" && g.Project != ""
}

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// ModelFor returns the model configured for stage, falling back to the
// default model.
func (l LLMConfig) ModelFor(stage string) string {
	if m := strings.TrimSpace(l.Models[stage]); m != "" {
		return m
	}
	return l.DefaultModel
}

// HasCredentials reports whether the selected provider can authenticate.
func (l LLMConfig) HasCredentials() bool {
	switch l.Provider {
	case ProviderOpenAI:
		return l.OpenAI.APIKey != ""
	default:
		return l.Gemini.APIKey != "" || l.Gemini.Vertex()
	}
}

func (l LLMConfig) Normalize() LLMConfig {
	l.Provider = strings.ToLower(strings.TrimSpace(l.Provider))
	if l.Provider == "" {
		l.Provider = ProviderGemini
	}
	if l.Timeout <= 0 {
		l.Timeout = 90 * time.Second
	}
	return l
}

func (l LLMConfig) Validate() error {
	switch l.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("llm.provider must be one of gemini, openai (got %q)", l.Provider)
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0,2]")
	}
	return nil
}

// Engine names.
const (
	EngineLive = "live"
	EngineStub = "stub"
)

// EngineConfig selects the stage engine.
type EngineConfig struct {
	Default string `mapstructure:"default"`
	// FallbackToStub lets the run command retry with the stub engine when the
	// live engine fails at the transport level.
	FallbackToStub bool `mapstructure:"fallback_to_stub"`
}

// NormalizeEngine maps accepted aliases onto engine names.
func NormalizeEngine(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EngineLive, "adk":
		return EngineLive
	case EngineStub:
		return EngineStub
	default:
		return strings.ToLower(strings.TrimSpace(name))
	}
}

func (e EngineConfig) Normalize() EngineConfig {
	e.Default = NormalizeEngine(e.Default)
	return e
}

func (e EngineConfig) Validate() error {
	if e.Default != EngineLive && e.Default != EngineStub {
		return fmt.Errorf("engine.default must be live, adk or stub (got %q)", e.Default)
	}
	return nil
}

// ToolsConfig lists the retrieval backends. A backend without credentials or
// an endpoint is left out of the capability registry.
type ToolsConfig struct {
	Tavily     MCPServerConfig `mapstructure:"tavily"`
	Firecrawl  MCPServerConfig `mapstructure:"firecrawl"`
	Brave      APIKeyConfig    `mapstructure:"brave"`
	Serper     APIKeyConfig    `mapstructure:"serper"`
	Chromedp   ChromedpConfig  `mapstructure:"chromedp"`
	Stub       bool            `mapstructure:"stub"`
	HTTP       HTTPConfig      `mapstructure:"http"`
	MaxResults int             `mapstructure:"max_results"`
	MaxFetch   int             `mapstructure:"max_fetch"`
	Recency    int             `mapstructure:"recency_days"`
}

// MCPServerConfig points at a remote MCP server.
type MCPServerConfig struct {
	URL       string  `mapstructure:"url"`
	APIKey    string  `mapstructure:"api_key"`
	Tool      string  `mapstructure:"tool"`
	Transport string  `mapstructure:"transport"`
	RateLimit float64 `mapstructure:"rate_limit"`
}

// Enabled reports whether an endpoint is configured.
func (m MCPServerConfig) Enabled() bool { return strings.TrimSpace(m.URL) != "" }

// APIKeyConfig holds a single provider key.
type APIKeyConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// ChromedpConfig configures the local headless browser fetcher.
type ChromedpConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
}

// HTTPConfig tunes the retrying HTTP client shared by search providers.
type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   int           `mapstructure:"retries"`
	Backoff   time.Duration `mapstructure:"backoff"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
}

func (t ToolsConfig) Normalize() ToolsConfig {
	if t.MaxResults <= 0 {
		t.MaxResults = 5
	}
	if t.MaxFetch <= 0 {
		t.MaxFetch = 3
	}
	if t.HTTP.Timeout <= 0 {
		t.HTTP.Timeout = 20 * time.Second
	}
	if t.HTTP.Retries < 0 {
		t.HTTP.Retries = 0
	}
	if t.HTTP.Backoff <= 0 {
		t.HTTP.Backoff = 500 * time.Millisecond
	}
	if t.Chromedp.Timeout <= 0 {
		t.Chromedp.Timeout = 30 * time.Second
	}
	return t
}

// CapabilityConfig controls the ToolCard registry behaviour.
type CapabilityConfig struct {
	SigningSecret string   `mapstructure:"signing_secret"`
	RequiredTools []string `mapstructure:"required_tools"`
	// Roles overrides the role of a tool by name (search, fetch, other).
	Roles map[string]string `mapstructure:"roles"`
}

// PipelineConfig tunes validation and repair.
type PipelineConfig struct {
	OffTopicBlacklist []string `mapstructure:"offtopic_blacklist"`
	Brand             string   `mapstructure:"brand"`
	VoiceID           string   `mapstructure:"voice_id"`
	IncludeNewsletter bool     `mapstructure:"include_newsletter"`
	SchemaChecks      bool     `mapstructure:"schema_checks"`
}

func (p PipelineConfig) Normalize() PipelineConfig {
	out := p.OffTopicBlacklist[:0:0]
	for _, term := range p.OffTopicBlacklist {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			out = append(out, term)
		}
	}
	p.OffTopicBlacklist = out
	if strings.TrimSpace(p.VoiceID) == "" {
		p.VoiceID = "elevenlabs_bsj_voice_placeholder"
	}
	return p
}

// Graph modes.
const (
	GraphV1 = "v1"
	GraphV2 = "v2"
)

// WorkflowConfig configures the declarative graph.
type WorkflowConfig struct {
	Mode      string `mapstructure:"mode"`
	GraphFile string `mapstructure:"graph_file"`
}

func (w WorkflowConfig) Validate() error {
	if w.Mode != GraphV1 && w.Mode != GraphV2 {
		return fmt.Errorf("workflow.mode must be v1 or v2 (got %q)", w.Mode)
	}
	if w.GraphFile != "" {
		if _, err := os.Stat(w.GraphFile); err != nil {
			return fmt.Errorf("workflow.graph_file: %w", err)
		}
	}
	return nil
}

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// StorageConfig contains storage configurations
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

func (s StorageConfig) Validate() error {
	switch s.Driver {
	case DriverMemory:
		return nil
	case DriverRedis:
		return s.Redis.Validate()
	case DriverPostgres:
		return s.Postgres.Validate()
	default:
		return fmt.Errorf("storage.driver must be memory, redis or postgres (got %q)", s.Driver)
	}
}

// RedisConfig contains Redis configuration
type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.URL) != "" {
		return nil
	}
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host is required")
	}
	if _, err := strconv.Atoi(r.Port); err != nil {
		return fmt.Errorf("storage.redis.port must be numeric: %w", err)
	}
	if r.DB < 0 {
		return fmt.Errorf("storage.redis.db must be >= 0")
	}
	return nil
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL           string        `mapstructure:"url"`
	Host          string        `mapstructure:"host"`
	Port          string        `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	DBName        string        `mapstructure:"dbname"`
	SSLMode       string        `mapstructure:"sslmode"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MigrationsDir string        `mapstructure:"migrations_dir"`
}

// DSN returns the connection string, preferring URL.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" || strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres requires url or host and dbname")
	}
	if p.Timeout < 0 {
		return fmt.Errorf("storage.postgres.timeout must be >= 0")
	}
	return nil
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string        `mapstructure:"address"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	// Reviewers maps reviewer names to bcrypt password hashes. Viper lowercases
	// map keys, so names are matched case-insensitively.
	Reviewers    map[string]string `mapstructure:"reviewers"`
	AllowOrigins []string          `mapstructure:"allow_origins"`
}

func (s ServerConfig) Validate() error {
	if len(s.Reviewers) > 0 && strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret is required when reviewers are configured")
	}
	if s.TokenTTL < 0 {
		return fmt.Errorf("server.token_ttl must be >= 0")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && strings.TrimSpace(t.ServiceName) == "" {
		return fmt.Errorf("telemetry.service_name is required when telemetry is enabled")
	}
	return nil
}

// ScheduleConfig runs a topic on a cron expression when serving.
type ScheduleConfig struct {
	ID                string `mapstructure:"id"`
	Topic             string `mapstructure:"topic"`
	Cron              string `mapstructure:"cron"`
	IncludeNewsletter bool   `mapstructure:"include_newsletter"`
	Graph             string `mapstructure:"graph"`
}

func (s ScheduleConfig) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("schedules: id is required")
	}
	if strings.TrimSpace(s.Topic) == "" {
		return fmt.Errorf("schedules.%s: topic is required", s.ID)
	}
	if strings.TrimSpace(s.Cron) == "" {
		return fmt.Errorf("schedules.%s: cron is required", s.ID)
	}
	return nil
}

// ArchiveConfig controls the full-text index of completed runs. An empty
// path keeps the index in memory.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", 10*time.Minute)
	v.SetDefault("llm.provider", ProviderGemini)
	v.SetDefault("llm.default_model", "gemini-2.5-flash")
	v.SetDefault("llm.models.researcher", "gemini-2.5-pro")
	v.SetDefault("llm.temperature", 0.4)
	v.SetDefault("llm.timeout", 90*time.Second)
	v.SetDefault("llm.gemini.api_key", "")
	v.SetDefault("llm.gemini.credentials_file", "")
	v.SetDefault("llm.gemini.project", "")
	v.SetDefault("llm.gemini.location", "us-central1")
	v.SetDefault("llm.openai.api_key", "")
	v.SetDefault("llm.openai.base_url", "")
	v.SetDefault("engine.default", EngineLive)
	v.SetDefault("engine.fallback_to_stub", true)
	v.SetDefault("tools.tavily.url", "")
	v.SetDefault("tools.tavily.api_key", "")
	v.SetDefault("tools.tavily.transport", "streamable")
	v.SetDefault("tools.firecrawl.url", "")
	v.SetDefault("tools.firecrawl.api_key", "")
	v.SetDefault("tools.firecrawl.transport", "sse")
	v.SetDefault("tools.brave.api_key", "")
	v.SetDefault("tools.serper.api_key", "")
	v.SetDefault("tools.chromedp.enabled", false)
	v.SetDefault("tools.stub", false)
	v.SetDefault("tools.http.retries", 2)
	v.SetDefault("tools.http.rate_limit", 2.0)
	v.SetDefault("tools.http.burst", 2)
	v.SetDefault("tools.max_results", 5)
	v.SetDefault("tools.max_fetch", 3)
	v.SetDefault("tools.recency_days", 30)
	v.SetDefault("capability.signing_secret", "")
	v.SetDefault("pipeline.offtopic_blacklist", []string{"celtics", "heat", "nba", "playoffs", "season", "fenway", "patriots", "bruins", "redsox", "boston"})
	v.SetDefault("pipeline.brand", "BSJ")
	v.SetDefault("pipeline.voice_id", "elevenlabs_bsj_voice_placeholder")
	v.SetDefault("pipeline.include_newsletter", false)
	v.SetDefault("pipeline.schema_checks", true)
	v.SetDefault("workflow.mode", GraphV1)
	v.SetDefault("workflow.graph_file", "")
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.redis.url", "")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.prefix", "contentpipe")
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.timeout", 5*time.Second)
	v.SetDefault("storage.postgres.migrations_dir", "migrations")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.token_ttl", 12*time.Hour)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "contentpipe")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.path", "")
}

// overrideFromEnv maps the well-known provider variables onto config keys.
func overrideFromEnv(v *viper.Viper) {
	set := func(env, key string) {
		if val := strings.TrimSpace(os.Getenv(env)); val != "" {
			v.Set(key, val)
		}
	}
	// LLM credentials
	set("GOOGLE_API_KEY", "llm.gemini.api_key")
	set("GOOGLE_APPLICATION_CREDENTIALS", "llm.gemini.credentials_file")
	set("GOOGLE_CLOUD_PROJECT", "llm.gemini.project")
	set("GOOGLE_CLOUD_LOCATION", "llm.gemini.location")
	set("OPENAI_API_KEY", "llm.openai.api_key")

	// Retrieval
	set("TAVILY_MCP_URL", "tools.tavily.url")
	set("TAVILY_API_KEY", "tools.tavily.api_key")
	set("FIRECRAWL_MCP_URL", "tools.firecrawl.url")
	set("FIRECRAWL_API_KEY", "tools.firecrawl.api_key")
	set("BRAVE_SEARCH_KEY", "tools.brave.api_key")
	set("SERPER_API_KEY", "tools.serper.api_key")

	// Storage
	set("DATABASE_URL", "storage.postgres.url")
	set("REDIS_URL", "storage.redis.url")
}

// LoadConfig loads config from file. With an empty path the file named
// config.json is searched for in ./config, the working directory and next to
// the executable; not finding it there is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("CONTENTPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // read in environment variables that match (CONTENTPIPE_*)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	overrideFromEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills derived defaults in place.
func (c *Config) Normalize() {
	c.LLM = c.LLM.Normalize()
	c.Engine = c.Engine.Normalize()
	c.Tools = c.Tools.Normalize()
	c.Pipeline = c.Pipeline.Normalize()
	c.Workflow.Mode = strings.ToLower(strings.TrimSpace(c.Workflow.Mode))
	if c.Workflow.Mode == "" {
		c.Workflow.Mode = GraphV1
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	checks := []func() error{
		c.LLM.Validate,
		c.Engine.Validate,
		c.Workflow.Validate,
		c.Storage.Validate,
		c.Server.Validate,
		c.Telemetry.Validate,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	seen := make(map[string]struct{}, len(c.Schedules))
	for _, s := range c.Schedules {
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("schedules: duplicate id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}
