// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/arbwatch/internal/domain/schema"
	"github.com/coachpo/arbwatch/internal/domain/subscription"
)

// Environment identifies the runtime environment where arbwatch operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// TransportConfig describes the streaming endpoint, one websocket per channel.
type TransportConfig struct {
	BaseURL          string            `yaml:"baseURL"`
	Endpoints        map[string]string `yaml:"endpoints,omitempty"`
	ReconnectDelay   time.Duration     `yaml:"reconnectDelay"`
	ControlRate      float64           `yaml:"controlRate"`
	ControlBurst     int               `yaml:"controlBurst"`
	HandshakeTimeout time.Duration     `yaml:"handshakeTimeout"`
	PingInterval     time.Duration     `yaml:"pingInterval"`
}

// URL returns the websocket URL for channel: an explicit endpoint, or
// baseURL/<channel>.
func (t TransportConfig) URL(channel subscription.Channel) string {
	if url := strings.TrimSpace(t.Endpoints[string(channel)]); url != "" {
		return url
	}
	return strings.TrimRight(t.BaseURL, "/") + "/" + string(channel)
}

// CollaboratorsConfig locates the REST order, position and price services.
type CollaboratorsConfig struct {
	BaseURL       string        `yaml:"baseURL"`
	OrdersPath    string        `yaml:"ordersPath"`
	PositionsPath string        `yaml:"positionsPath"`
	PricesPath    string        `yaml:"pricesPath"`
	Timeout       time.Duration `yaml:"timeout"`
}

// PollingConfig sets the full-poll cadence, measured from poll completion.
type PollingConfig struct {
	OrderInterval    time.Duration `yaml:"orderInterval"`
	PositionInterval time.Duration `yaml:"positionInterval"`
}

// ScopeConfig is one isolated monitoring context.
type ScopeConfig struct {
	ID              string              `yaml:"id" json:"id"`
	Name            string              `yaml:"name,omitempty" json:"name,omitempty"`
	Instruments     []schema.Instrument `yaml:"instruments" json:"instruments"`
	CandleIntervals []string            `yaml:"candleIntervals,omitempty" json:"candleIntervals,omitempty"`
	DepthLevels     []int               `yaml:"depthLevels,omitempty" json:"depthLevels,omitempty"`
	Quote           string              `yaml:"quote,omitempty" json:"quote,omitempty"`
	Lookback        time.Duration       `yaml:"lookback,omitempty" json:"lookback,omitempty"`
}

// Normalise canonicalises identifiers and drops duplicate entries.
func (s *ScopeConfig) Normalise() {
	s.ID = strings.TrimSpace(s.ID)
	s.Name = strings.TrimSpace(s.Name)
	s.Quote = strings.ToUpper(strings.TrimSpace(s.Quote))
	if s.Quote == "" {
		s.Quote = schema.DefaultQuote
	}

	seen := make(map[schema.Instrument]struct{}, len(s.Instruments))
	instruments := make([]schema.Instrument, 0, len(s.Instruments))
	for _, inst := range s.Instruments {
		n := inst.Normalized()
		if n.Provider == "" || n.Symbol == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		instruments = append(instruments, n)
	}
	s.Instruments = instruments

	intervals := make([]string, 0, len(s.CandleIntervals))
	seenInterval := make(map[string]struct{}, len(s.CandleIntervals))
	for _, iv := range s.CandleIntervals {
		iv = strings.TrimSpace(iv)
		if iv == "" {
			continue
		}
		if _, ok := seenInterval[iv]; ok {
			continue
		}
		seenInterval[iv] = struct{}{}
		intervals = append(intervals, iv)
	}
	s.CandleIntervals = intervals

	levels := make([]int, 0, len(s.DepthLevels))
	seenLevel := make(map[int]struct{}, len(s.DepthLevels))
	for _, lv := range s.DepthLevels {
		if lv <= 0 {
			continue
		}
		if _, ok := seenLevel[lv]; ok {
			continue
		}
		seenLevel[lv] = struct{}{}
		levels = append(levels, lv)
	}
	sort.Ints(levels)
	s.DepthLevels = levels
}

// Clone returns a deep copy.
func (s ScopeConfig) Clone() ScopeConfig {
	out := s
	out.Instruments = append([]schema.Instrument(nil), s.Instruments...)
	out.CandleIntervals = append([]string(nil), s.CandleIntervals...)
	out.DepthLevels = append([]int(nil), s.DepthLevels...)
	return out
}

// APIServerConfig configures the HTTP control surface.
type APIServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint   string        `yaml:"otlpEndpoint"`
	ServiceName    string        `yaml:"serviceName"`
	OTLPInsecure   bool          `yaml:"otlpInsecure"`
	EnableMetrics  bool          `yaml:"enableMetrics"`
	MetricInterval time.Duration `yaml:"metricInterval"`
}

// LoggingConfig selects level and encoding for the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig controls the notification journal. An empty DSN disables it.
type DatabaseConfig struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	RunMigrations     bool          `yaml:"runMigrations"`
	JournalWorkers    int           `yaml:"journalWorkers"`
	JournalQueue      int           `yaml:"journalQueue"`
}

// Enabled reports whether a journal database is configured.
func (c DatabaseConfig) Enabled() bool { return strings.TrimSpace(c.DSN) != "" }

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.MaxConns <= 0 {
		c.MaxConns = 8
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
	if c.JournalWorkers <= 0 {
		c.JournalWorkers = 2
	}
	if c.JournalQueue <= 0 {
		c.JournalQueue = 256
	}
}

func (c DatabaseConfig) validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("maxConns must be >0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("minConns must be >=0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be <= maxConns")
	}
	if c.MaxConnLifetime <= 0 {
		return fmt.Errorf("maxConnLifetime must be >0")
	}
	if c.MaxConnIdleTime <= 0 {
		return fmt.Errorf("maxConnIdleTime must be >0")
	}
	if c.HealthCheckPeriod <= 0 {
		return fmt.Errorf("healthCheckPeriod must be >0")
	}
	return nil
}

// AppConfig is the unified arbwatch configuration sourced from YAML.
type AppConfig struct {
	Environment   Environment         `yaml:"environment"`
	Transport     TransportConfig     `yaml:"transport"`
	Collaborators CollaboratorsConfig `yaml:"collaborators"`
	Polling       PollingConfig       `yaml:"polling"`
	Scopes        []ScopeConfig       `yaml:"scopes"`
	ActiveScope   string              `yaml:"activeScope"`
	Credentials   []schema.Credential `yaml:"credentials"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	APIServer     APIServerConfig     `yaml:"apiServer"`
	Database      DatabaseConfig      `yaml:"database"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// DefaultAppConfig returns a configuration with every default applied.
func DefaultAppConfig() AppConfig {
	cfg := AppConfig{Environment: EnvDev}
	_ = cfg.normalise()
	return cfg
}

// Load reads, normalises and validates an AppConfig from a YAML file, then
// applies ARBWATCH_* environment overrides.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(bytes)
}

// LoadOrDefault loads configPath when it exists and otherwise starts from
// DefaultAppConfig with environment overrides applied.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, error) {
	if strings.TrimSpace(configPath) != "" {
		if _, err := os.Stat(filepath.Clean(strings.TrimSpace(configPath))); err == nil {
			return Load(ctx, configPath)
		}
	}
	return Parse(nil)
}

// Parse decodes YAML bytes into a validated AppConfig.
func Parse(data []byte) (AppConfig, error) {
	var cfg AppConfig
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	if err := applyEnvOverrides(&cfg, os.LookupEnv); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.normalise(); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) normalise() error {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	if c.Environment == "" {
		c.Environment = EnvDev
	}

	c.Transport.BaseURL = strings.TrimSpace(c.Transport.BaseURL)
	if c.Transport.BaseURL == "" {
		c.Transport.BaseURL = "ws://localhost:8000/ws"
	}
	if len(c.Transport.Endpoints) > 0 {
		endpoints := make(map[string]string, len(c.Transport.Endpoints))
		for channel, url := range c.Transport.Endpoints {
			endpoints[strings.ToLower(strings.TrimSpace(channel))] = strings.TrimSpace(url)
		}
		c.Transport.Endpoints = endpoints
	}
	if c.Transport.ReconnectDelay <= 0 {
		c.Transport.ReconnectDelay = 3 * time.Second
	}
	if c.Transport.ControlRate <= 0 {
		c.Transport.ControlRate = 5
	}
	if c.Transport.ControlBurst <= 0 {
		c.Transport.ControlBurst = 5
	}
	if c.Transport.HandshakeTimeout <= 0 {
		c.Transport.HandshakeTimeout = 10 * time.Second
	}
	if c.Transport.PingInterval <= 0 {
		c.Transport.PingInterval = 30 * time.Second
	}

	c.Collaborators.BaseURL = strings.TrimRight(strings.TrimSpace(c.Collaborators.BaseURL), "/")
	if c.Collaborators.BaseURL == "" {
		c.Collaborators.BaseURL = "http://localhost:8000"
	}
	c.Collaborators.OrdersPath = pathOrDefault(c.Collaborators.OrdersPath, "/api/orders")
	c.Collaborators.PositionsPath = pathOrDefault(c.Collaborators.PositionsPath, "/api/positions")
	c.Collaborators.PricesPath = pathOrDefault(c.Collaborators.PricesPath, "/api/prices")
	if c.Collaborators.Timeout <= 0 {
		c.Collaborators.Timeout = 10 * time.Second
	}

	if c.Polling.OrderInterval <= 0 {
		c.Polling.OrderInterval = 5 * time.Second
	}
	if c.Polling.PositionInterval <= 0 {
		c.Polling.PositionInterval = 10 * time.Second
	}

	ids := make(map[string]struct{}, len(c.Scopes))
	for i := range c.Scopes {
		c.Scopes[i].Normalise()
		if _, exists := ids[c.Scopes[i].ID]; exists {
			return fmt.Errorf("duplicate scope id %q", c.Scopes[i].ID)
		}
		ids[c.Scopes[i].ID] = struct{}{}
	}
	c.ActiveScope = strings.TrimSpace(c.ActiveScope)
	if c.ActiveScope == "" && len(c.Scopes) > 0 {
		c.ActiveScope = c.Scopes[0].ID
	}

	creds := make([]schema.Credential, 0, len(c.Credentials))
	for _, cred := range c.Credentials {
		cred.Exchange = schema.NormalizeProvider(cred.Exchange)
		cred.APIKey = strings.TrimSpace(cred.APIKey)
		if !cred.Usable() {
			continue
		}
		creds = append(creds, cred)
	}
	c.Credentials = creds

	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "arbwatch"
	}
	if c.Telemetry.MetricInterval <= 0 {
		c.Telemetry.MetricInterval = 30 * time.Second
	}

	c.APIServer.Addr = strings.TrimSpace(c.APIServer.Addr)
	if c.APIServer.Addr == "" {
		c.APIServer.Addr = ":8880"
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	c.Database.applyDefaults()
	return nil
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}
	if !strings.HasPrefix(c.Transport.BaseURL, "ws://") && !strings.HasPrefix(c.Transport.BaseURL, "wss://") {
		return fmt.Errorf("transport baseURL must use ws:// or wss://")
	}
	for channel := range c.Transport.Endpoints {
		if !subscription.Channel(channel).Valid() {
			return fmt.Errorf("transport endpoints: unknown channel %q", channel)
		}
	}
	if !strings.HasPrefix(c.Collaborators.BaseURL, "http://") && !strings.HasPrefix(c.Collaborators.BaseURL, "https://") {
		return fmt.Errorf("collaborators baseURL must use http:// or https://")
	}
	for _, scope := range c.Scopes {
		if err := scope.Validate(); err != nil {
			return err
		}
	}
	if c.ActiveScope != "" && c.Scope(c.ActiveScope) == nil {
		return fmt.Errorf("activeScope %q is not configured", c.ActiveScope)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging format must be json or console")
	}
	if c.Telemetry.EnableMetrics && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry otlpEndpoint required when metrics enabled")
	}
	if err := c.Database.validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

// Validate checks a single scope definition.
func (s ScopeConfig) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("scope id required")
	}
	if strings.ContainsAny(s.ID, "/ ") {
		return fmt.Errorf("scope %q: id must not contain '/' or spaces", s.ID)
	}
	if s.Lookback < 0 {
		return fmt.Errorf("scope %q: lookback must be >=0", s.ID)
	}
	return nil
}

// Scope returns the scope with id, or nil.
func (c *AppConfig) Scope(id string) *ScopeConfig {
	for i := range c.Scopes {
		if c.Scopes[i].ID == id {
			return &c.Scopes[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c AppConfig) Clone() AppConfig {
	out := c
	out.Scopes = make([]ScopeConfig, len(c.Scopes))
	for i, s := range c.Scopes {
		out.Scopes[i] = s.Clone()
	}
	out.Credentials = append([]schema.Credential(nil), c.Credentials...)
	if c.Transport.Endpoints != nil {
		out.Transport.Endpoints = make(map[string]string, len(c.Transport.Endpoints))
		for k, v := range c.Transport.Endpoints {
			out.Transport.Endpoints[k] = v
		}
	}
	return out
}

// Save writes cfg as YAML to path, replacing the file atomically.
func Save(path string, cfg AppConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	target := filepath.Clean(strings.TrimSpace(path))
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

func pathOrDefault(path, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return fallback
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
