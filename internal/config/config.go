package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FairForge/loadprobe/internal/loadgen"
	"github.com/FairForge/loadprobe/internal/loadtest"
	"github.com/FairForge/loadprobe/internal/logging"
)

// Generator engines
const (
	EngineNative = "native"
	EngineVegeta = "vegeta"
)

type Config struct {
	Probe     ProbeConfig          `yaml:"probe"`
	Generator GeneratorConfig      `yaml:"generator"`
	Target    TargetConfig         `yaml:"target"`
	Server    ServerConfig         `yaml:"server"`
	Workload  WorkloadConfig       `yaml:"workload"`
	Database  DatabaseConfig       `yaml:"database"`
	Archive   ArchiveConfig        `yaml:"archive"`
	Logging   logging.LoggerConfig `yaml:"logging"`
}

type ProbeConfig struct {
	InitialRate     float64                   `yaml:"initial_rate"`
	InitialStep     float64                   `yaml:"initial_step"`
	StepFloor       float64                   `yaml:"step_floor"`
	MinRate         float64                   `yaml:"min_rate"`
	MaxFailures     int                       `yaml:"max_failures"`
	Window          time.Duration             `yaml:"window"`
	InterBurstDelay time.Duration             `yaml:"inter_burst_delay"`
	GracePeriod     time.Duration             `yaml:"grace_period"`
	Policy          loadtest.AcceptancePolicy `yaml:"policy"`
}

type GeneratorConfig struct {
	Engine         string        `yaml:"engine"`
	MaxInFlight    int           `yaml:"max_in_flight"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	UserAgent      string        `yaml:"user_agent"`
}

// TargetConfig is what gets probed.
type TargetConfig struct {
	URL            string `yaml:"url"`
	SuccessPattern string `yaml:"success_pattern"`
	Cookie         string `yaml:"cookie"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WorkloadConfig configures the synthetic target served by `loadprobe target`.
type WorkloadConfig struct {
	Addr      string  `yaml:"addr"`
	DataDir   string  `yaml:"data_dir"`
	RateLimit float64 `yaml:"rate_limit"` // req/s, 0 disables the ceiling
	Burst     int     `yaml:"burst"`
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn"` // empty disables persistence and the DB stages
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// ArchiveConfig points at an S3-compatible bucket. Static keys are optional;
// without them the default AWS credential chain is used.
type ArchiveConfig struct {
	Bucket       string `yaml:"bucket"` // empty disables archival
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads the YAML file at path (optional), then environment overrides,
// then fills defaults and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	LoadFromEnv(cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills in every zero value.
func (c *Config) ApplyDefaults() {
	probe := loadtest.DefaultProbeConfig()
	p := &c.Probe
	if p.InitialRate == 0 {
		p.InitialRate = probe.InitialRate
	}
	if p.InitialStep == 0 {
		p.InitialStep = probe.InitialStep
	}
	if p.StepFloor == 0 {
		p.StepFloor = probe.StepFloor
	}
	if p.MinRate == 0 {
		p.MinRate = probe.MinRate
	}
	if p.MaxFailures == 0 {
		p.MaxFailures = probe.MaxFailures
	}
	if p.Window == 0 {
		p.Window = probe.Window
	}
	if p.InterBurstDelay == 0 {
		p.InterBurstDelay = probe.InterBurstDelay
	}
	if p.GracePeriod == 0 {
		p.GracePeriod = probe.GracePeriod
	}
	if p.Policy.MinSuccessPercent == 0 {
		p.Policy.MinSuccessPercent = probe.Policy.MinSuccessPercent
	}
	if p.Policy.MaxLatencyGrowth == 0 {
		p.Policy.MaxLatencyGrowth = probe.Policy.MaxLatencyGrowth
	}
	if p.Policy.MinThroughputRatio == 0 {
		p.Policy.MinThroughputRatio = probe.Policy.MinThroughputRatio
	}

	opts := loadgen.DefaultOptions()
	g := &c.Generator
	if g.Engine == "" {
		g.Engine = EngineNative
	}
	if g.MaxInFlight == 0 {
		g.MaxInFlight = opts.MaxInFlight
	}
	if g.ConnectTimeout == 0 {
		g.ConnectTimeout = opts.ConnectTimeout
	}
	if g.ReadTimeout == 0 {
		g.ReadTimeout = opts.ReadTimeout
	}
	if g.UserAgent == "" {
		g.UserAgent = opts.UserAgent
	}

	if c.Target.SuccessPattern == "" {
		c.Target.SuccessPattern = loadtest.DefaultSuccessPattern
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Workload.Addr == "" {
		c.Workload.Addr = ":8080"
	}
	if c.Workload.DataDir == "" {
		c.Workload.DataDir = os.TempDir()
	}
	if c.Workload.RateLimit > 0 && c.Workload.Burst == 0 {
		c.Workload.Burst = 1
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}

	if c.Archive.Prefix == "" {
		c.Archive.Prefix = "loadprobe"
	}
	if c.Archive.Region == "" {
		c.Archive.Region = "us-east-1"
	}

	c.Logging.ApplyDefaults()
}

// Validate returns the first invalid setting.
func (c *Config) Validate() error {
	if err := c.ProbeSettings().Validate(); err != nil {
		return fmt.Errorf("config: probe: %w", err)
	}
	pol := c.Probe.Policy
	if pol.MinSuccessPercent < 0 || pol.MinSuccessPercent > 100 {
		return errors.New("config: probe.policy.min_success_percent must be within 0..100")
	}
	if pol.MaxLatencyGrowth < 1 {
		return errors.New("config: probe.policy.max_latency_growth must be at least 1")
	}
	if pol.MinThroughputRatio <= 0 || pol.MinThroughputRatio > 1 {
		return errors.New("config: probe.policy.min_throughput_ratio must be within (0, 1]")
	}

	switch c.Generator.Engine {
	case EngineNative, EngineVegeta:
	default:
		return fmt.Errorf("config: generator.engine must be %q or %q, got %q", EngineNative, EngineVegeta, c.Generator.Engine)
	}
	if c.Generator.MaxInFlight < 1 {
		return errors.New("config: generator.max_in_flight must be positive")
	}
	if c.Generator.ConnectTimeout < 0 || c.Generator.ReadTimeout < 0 {
		return errors.New("config: generator timeouts cannot be negative")
	}

	if c.Workload.RateLimit < 0 {
		return errors.New("config: workload.rate_limit cannot be negative")
	}
	if (c.Archive.AccessKey == "") != (c.Archive.SecretKey == "") {
		return errors.New("config: archive.access_key and archive.secret_key must be set together")
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ProbeSettings converts the probe section for the controller.
func (c *Config) ProbeSettings() *loadtest.ProbeConfig {
	p := c.Probe
	return &loadtest.ProbeConfig{
		InitialRate:     p.InitialRate,
		InitialStep:     p.InitialStep,
		StepFloor:       p.StepFloor,
		MinRate:         p.MinRate,
		MaxFailures:     p.MaxFailures,
		Window:          p.Window,
		InterBurstDelay: p.InterBurstDelay,
		GracePeriod:     p.GracePeriod,
		Policy:          p.Policy,
	}
}

// GeneratorOptions converts the generator and target sections for loadgen.
func (c *Config) GeneratorOptions() loadgen.Options {
	return loadgen.Options{
		MaxInFlight:    c.Generator.MaxInFlight,
		ConnectTimeout: c.Generator.ConnectTimeout,
		ReadTimeout:    c.Generator.ReadTimeout,
		UserAgent:      c.Generator.UserAgent,
		Cookie:         c.Target.Cookie,
	}
}

// ProbeTarget returns the target section as a loadtest.Target.
func (c *Config) ProbeTarget() loadtest.Target {
	return loadtest.Target{URL: c.Target.URL, SuccessPattern: c.Target.SuccessPattern}
}
