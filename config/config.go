package config

import (
	iface "CDEvalServer/interface"
	"CDEvalServer/metric"
	"errors"
	"fmt"
	"os"
	"runtime"
	"slices"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

var ErrUnknownMetric = errors.New("unknown metric")

type ModelConfig struct {
	Device         iface.Device `yaml:"device"`
	Name           string       `yaml:"name"`
	Threshold      float32      `yaml:"threshold"`
	RemoteURL      string       `yaml:"remoteURL"`
	TimeoutSeconds int          `yaml:"timeoutSeconds"`
}

type EvalConfig struct {
	Metric        []string `yaml:"metric"`
	SaveImageRoot string   `yaml:"saveImageRoot"`
	SaveImages    bool     `yaml:"saveImages"`
	WithLoss      bool     `yaml:"withLoss"`
}

type DataConfig struct {
	Root      string `yaml:"root"`
	BatchSize int    `yaml:"batchSize"`
	Workers   int    `yaml:"workers"`
}

type LogConfig struct {
	Mode string `yaml:"mode"`
}

type WriterConfig struct {
	SqlitePath string `yaml:"sqlitePath"`
}

type ServerConfig struct {
	HTTPPort      int    `yaml:"httpPort"`
	RPCPort       int    `yaml:"rpcPort"`
	UseRegServer  bool   `yaml:"useRegServer"`
	RegServerHost string `yaml:"regServerHost"`
	RegServerPort int    `yaml:"regServerPort"`
}

type Config struct {
	Model  ModelConfig  `yaml:"model"`
	Eval   EvalConfig   `yaml:"eval"`
	Data   DataConfig   `yaml:"data"`
	Log    LogConfig    `yaml:"log"`
	Writer WriterConfig `yaml:"writer"`
	Server ServerConfig `yaml:"server"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	configData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(configData)
}

func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Model.Device == "" {
		c.Model.Device = iface.CpuDevice
	}
	if c.Model.Name == "" {
		c.Model.Name = "difference"
	}
	if c.Model.Threshold == 0 {
		c.Model.Threshold = 0.1
	}
	if c.Model.TimeoutSeconds <= 0 {
		c.Model.TimeoutSeconds = 30
	}
	if len(c.Eval.Metric) == 0 {
		c.Eval.Metric = []string{metric.Precision, metric.Recall, metric.F1, metric.IoU}
	}
	if c.Data.BatchSize <= 0 {
		c.Data.BatchSize = 1
	}
	if c.Data.Workers <= 0 {
		c.Data.Workers = runtime.NumCPU()
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Server.RPCPort == 0 {
		c.Server.RPCPort = 50051
	}
}

// Validate reports every problem at once rather than stopping at the first.
func (c *Config) Validate() error {
	var result *multierror.Error
	if _, err := iface.ParseDevice(string(c.Model.Device)); err != nil {
		result = multierror.Append(result, err)
	}
	known := metric.Names()
	seen := make(map[string]bool, len(c.Eval.Metric))
	for _, name := range c.Eval.Metric {
		if !slices.Contains(known, name) {
			result = multierror.Append(result, fmt.Errorf("%w: %s", ErrUnknownMetric, name))
		}
		if seen[name] {
			result = multierror.Append(result, fmt.Errorf("duplicate metric: %s", name))
		}
		seen[name] = true
	}
	if c.Eval.SaveImages && c.Eval.SaveImageRoot == "" {
		result = multierror.Append(result, errors.New("eval.saveImageRoot is required when eval.saveImages is set"))
	}
	if c.Model.Name == "remote" && c.Model.RemoteURL == "" {
		result = multierror.Append(result, errors.New("model.remoteURL is required for the remote model"))
	}
	return result.ErrorOrNil()
}
