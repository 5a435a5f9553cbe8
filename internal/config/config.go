// Package config loads rigfarm settings from a YAML file, RIGFARM_*
// environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/djkazic/rigfarm/internal/device"
	"github.com/djkazic/rigfarm/internal/farm"
	"github.com/djkazic/rigfarm/internal/types"
	"github.com/djkazic/rigfarm/internal/worker"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment override, e.g. RIGFARM_RPC_URL.
const EnvPrefix = "RIGFARM"

// Journal backends.
const (
	JournalBolt    = "bolt"
	JournalLevelDB = "leveldb"
	JournalNone    = "none"
)

// Config is the full binary configuration.
type Config struct {
	LogLevel          string        `mapstructure:"log_level"`
	TelemetryInterval time.Duration `mapstructure:"telemetry_interval"`

	Farm    FarmSection    `mapstructure:"farm"`
	RPC     RPCSection     `mapstructure:"rpc"`
	Metrics MetricsSection `mapstructure:"metrics"`
	Journal JournalSection `mapstructure:"journal"`
	Devices DevicesSection `mapstructure:"devices"`
	Worker  WorkerSection  `mapstructure:"worker"`
}

type FarmSection struct {
	MaxConsecutiveRejections int           `mapstructure:"max_consecutive_rejections"`
	RejectionWindow          time.Duration `mapstructure:"rejection_window"`
	SubmitGrace              time.Duration `mapstructure:"submit_grace"`
	DrainGrace               time.Duration `mapstructure:"drain_grace"`
	SubmitTimeout            time.Duration `mapstructure:"submit_timeout"`
	ProgressFloor            time.Duration `mapstructure:"progress_floor"`
	ReconnectInterval        time.Duration `mapstructure:"reconnect_interval"`
}

type RPCSection struct {
	URL          string        `mapstructure:"url"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type MetricsSection struct {
	// Addr is the listen address of the /metrics endpoint; empty disables it.
	Addr string `mapstructure:"addr"`
}

type JournalSection struct {
	Backend    string `mapstructure:"backend"`
	Path       string `mapstructure:"path"`
	MaxRecords int    `mapstructure:"max_records"`
}

type DevicesSection struct {
	CPU          bool          `mapstructure:"cpu"`
	CPUThreads   int           `mapstructure:"cpu_threads"`
	Simulate     bool          `mapstructure:"simulate"`
	SimLanes     int           `mapstructure:"sim_lanes"`
	SimWarmup    time.Duration `mapstructure:"sim_warmup"`
	Accelerators []Accelerator `mapstructure:"accelerators"`
}

// Accelerator describes one configured GPU-class device.
type Accelerator struct {
	Name    string `mapstructure:"name"`
	Vendor  string `mapstructure:"vendor"`
	Enabled bool   `mapstructure:"enabled"`
}

type WorkerSection struct {
	BatchSize  uint32        `mapstructure:"batch_size"`
	NonceSpan  uint32        `mapstructure:"nonce_span"`
	MaxWorkAge time.Duration `mapstructure:"max_work_age"`
}

func setDefaults(v *viper.Viper) {
	fc := farm.DefaultConfig()

	v.SetDefault("log_level", "info")
	v.SetDefault("telemetry_interval", 10*time.Second)

	v.SetDefault("farm.max_consecutive_rejections", fc.MaxConsecutiveRejections)
	v.SetDefault("farm.rejection_window", fc.RejectionWindow)
	v.SetDefault("farm.submit_grace", fc.SubmitGrace)
	v.SetDefault("farm.drain_grace", fc.DrainGrace)
	v.SetDefault("farm.submit_timeout", fc.SubmitTimeout)
	v.SetDefault("farm.progress_floor", fc.ProgressFloor)
	v.SetDefault("farm.reconnect_interval", fc.ReconnectInterval)

	v.SetDefault("rpc.url", "http://127.0.0.1:8232")
	v.SetDefault("rpc.user", "")
	v.SetDefault("rpc.password", "")
	v.SetDefault("rpc.poll_interval", 5*time.Second)

	v.SetDefault("metrics.addr", ":9108")

	v.SetDefault("journal.backend", JournalBolt)
	v.SetDefault("journal.path", "rigfarm-journal.db")
	v.SetDefault("journal.max_records", 100000)

	v.SetDefault("devices.cpu", true)
	v.SetDefault("devices.cpu_threads", 0)
	v.SetDefault("devices.simulate", false)
	v.SetDefault("devices.sim_lanes", 4)
	v.SetDefault("devices.sim_warmup", time.Duration(0))

	v.SetDefault("worker.batch_size", worker.DefaultBatchSize)
	v.SetDefault("worker.nonce_span", worker.DefaultNonceSpan)
	v.SetDefault("worker.max_work_age", 2*time.Minute)
}

// Load reads the configuration. path may be empty to run on defaults and
// environment alone. envFiles are loaded into the environment first; with
// none given, a .env in the working directory is used if present.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		if len(envFiles) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	if c.RPC.URL == "" {
		return errors.New("rpc.url is required")
	}
	switch c.Journal.Backend {
	case JournalBolt, JournalLevelDB:
		if c.Journal.Path == "" {
			return fmt.Errorf("journal.path is required for the %s backend", c.Journal.Backend)
		}
	case JournalNone:
	default:
		return fmt.Errorf("unknown journal.backend %q", c.Journal.Backend)
	}
	if c.Farm.MaxConsecutiveRejections < 0 {
		return errors.New("farm.max_consecutive_rejections must not be negative")
	}
	if c.Farm.RejectionWindow <= 0 {
		return errors.New("farm.rejection_window must be positive")
	}
	for i, a := range c.Devices.Accelerators {
		if _, err := types.ParseVendor(a.Vendor); err != nil {
			return fmt.Errorf("devices.accelerators[%d]: %w", i, err)
		}
	}
	if c.TelemetryInterval <= 0 {
		return errors.New("telemetry_interval must be positive")
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() zap.AtomicLevel {
	lvl, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return lvl
}

// FarmConfig converts the farm section.
func (c *Config) FarmConfig() farm.Config {
	return farm.Config{
		MaxConsecutiveRejections: c.Farm.MaxConsecutiveRejections,
		RejectionWindow:          c.Farm.RejectionWindow,
		SubmitGrace:              c.Farm.SubmitGrace,
		DrainGrace:               c.Farm.DrainGrace,
		SubmitTimeout:            c.Farm.SubmitTimeout,
		ProgressFloor:            c.Farm.ProgressFloor,
		ReconnectInterval:        c.Farm.ReconnectInterval,
	}
}

// FactoryConfig converts the worker and device sections.
func (c *Config) FactoryConfig() worker.FactoryConfig {
	return worker.FactoryConfig{
		Runner: worker.RunnerConfig{
			BatchSize:  c.Worker.BatchSize,
			NonceSpan:  c.Worker.NonceSpan,
			MaxWorkAge: c.Worker.MaxWorkAge,
		},
		CPUThreads:           c.Devices.CPUThreads,
		SimulateAccelerators: c.Devices.Simulate,
		SimLanes:             c.Devices.SimLanes,
		SimWarmup:            c.Devices.SimWarmup,
	}
}

// Enumerator lists the host CPU first, then the configured accelerators.
func (c *Config) Enumerator() device.Enumerator {
	accels := make(device.Static, 0, len(c.Devices.Accelerators))
	for i, a := range c.Devices.Accelerators {
		vendor, _ := types.ParseVendor(a.Vendor)
		name := a.Name
		if name == "" {
			name = fmt.Sprintf("gpu%d", i)
		}
		accels = append(accels, types.DeviceDescriptor{
			Name:        name,
			Platform:    types.PlatformGPU,
			Vendor:      vendor,
			Enabled:     a.Enabled,
			Initialized: true,
		})
	}
	return device.Merge{device.NewHostCPU(c.Devices.CPU), accels}
}
