// Package config loads ragbridge settings from a TOML or YAML file, applies
// environment overrides and turns the result into a bridge.Manager
// configuration plus the worker's environment snapshot.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"ragbridge/pkg/bridge"
	"ragbridge/pkg/protocol"
)

// Defaults for the retrieval worker's environment.
const (
	DefaultWorkingDir     = "./dev-data"
	DefaultOpenAIBaseURL  = "https://api.openai.com/v1"
	DefaultOpenAIModel    = "gpt-4"
	DefaultEmbeddingModel = "text-embedding-ada-002"
	DefaultNeo4jUsername  = "neo4j"

	// DefaultIndexTimeout is used for index_files, which embeds whole files.
	DefaultIndexTimeout = 5 * time.Minute
)

// File names probed, in order, when no config path is given.
var fileNames = []string{"ragbridge.toml", "ragbridge.yaml", "ragbridge.yml"} //nolint:gochecknoglobals // read-only table

// Config is the full ragbridge configuration.
type Config struct {
	Worker   WorkerConfig   `toml:"worker" yaml:"worker"`
	Bridge   BridgeConfig   `toml:"bridge" yaml:"bridge"`
	Restart  RestartConfig  `toml:"restart" yaml:"restart"`
	Health   HealthConfig   `toml:"health" yaml:"health"`
	LightRAG LightRAGConfig `toml:"lightrag" yaml:"lightrag"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	EventLog EventLogConfig `toml:"eventlog" yaml:"eventlog"`

	// Path is the file the config was read from; empty means defaults only.
	Path string `toml:"-" yaml:"-"`
}

// WorkerConfig describes the worker process.
type WorkerConfig struct {
	Command    string            `toml:"command" yaml:"command"`
	Args       []string          `toml:"args" yaml:"args"`
	Dir        string            `toml:"dir" yaml:"dir"`
	Env        map[string]string `toml:"env" yaml:"env"`
	InheritEnv bool              `toml:"inherit_env" yaml:"inherit_env"`
}

// BridgeConfig holds call and lifecycle timing.
type BridgeConfig struct {
	CallTimeout  Duration `toml:"call_timeout" yaml:"call_timeout"`
	IndexTimeout Duration `toml:"index_timeout" yaml:"index_timeout"`
	MaxPending   int      `toml:"max_pending" yaml:"max_pending"`
	ReadyDelay   Duration `toml:"ready_delay" yaml:"ready_delay"`
	ReadyProbe   bool     `toml:"ready_probe" yaml:"ready_probe"`
	ReadyTimeout Duration `toml:"ready_timeout" yaml:"ready_timeout"`
	StopGrace    Duration `toml:"stop_grace" yaml:"stop_grace"`
}

// RestartConfig is the restart policy.
type RestartConfig struct {
	AutoRestart bool     `toml:"auto_restart" yaml:"auto_restart"`
	MaxRestarts int      `toml:"max_restarts" yaml:"max_restarts"`
	BackoffBase Duration `toml:"backoff_base" yaml:"backoff_base"`
	BackoffMax  Duration `toml:"backoff_max" yaml:"backoff_max"`
}

// HealthConfig configures periodic probing. Interval 0 disables it.
type HealthConfig struct {
	Interval  Duration `toml:"interval" yaml:"interval"`
	Timeout   Duration `toml:"timeout" yaml:"timeout"`
	Threshold int      `toml:"threshold" yaml:"threshold"`
}

// LightRAGConfig is handed to the worker through its environment.
type LightRAGConfig struct {
	WorkingDir           string `toml:"working_dir" yaml:"working_dir"`
	OpenAIAPIKey         string `toml:"openai_api_key" yaml:"openai_api_key"`
	OpenAIBaseURL        string `toml:"openai_base_url" yaml:"openai_base_url"`
	OpenAIModel          string `toml:"openai_model" yaml:"openai_model"`
	OpenAIEmbeddingModel string `toml:"openai_embedding_model" yaml:"openai_embedding_model"`
	MilvusAddress        string `toml:"milvus_address" yaml:"milvus_address"`
	Neo4jURI             string `toml:"neo4j_uri" yaml:"neo4j_uri"`
	Neo4jUsername        string `toml:"neo4j_username" yaml:"neo4j_username"`
	Neo4jPassword        string `toml:"neo4j_password" yaml:"neo4j_password"`
}

// LogConfig configures the bridge's own logger.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
	File   string `toml:"file" yaml:"file"`
}

// EventLogConfig locates the event journal. Empty Path means the default
// under the ragbridge home directory.
type EventLogConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	policy := bridge.DefaultRestartPolicy()
	return &Config{
		Worker: WorkerConfig{
			Command:    "python3",
			Args:       []string{"-m", "lightrag_worker"},
			InheritEnv: true,
		},
		Bridge: BridgeConfig{
			CallTimeout:  Duration(bridge.DefaultCallTimeout),
			IndexTimeout: Duration(DefaultIndexTimeout),
			ReadyDelay:   Duration(bridge.DefaultReadyDelay),
			ReadyTimeout: Duration(bridge.DefaultReadyTimeout),
			StopGrace:    Duration(bridge.DefaultStopGrace),
		},
		Restart: RestartConfig{
			AutoRestart: policy.AutoRestart,
			MaxRestarts: policy.MaxRestarts,
			BackoffBase: Duration(policy.BackoffBase),
			BackoffMax:  Duration(policy.BackoffMax),
		},
		Health: HealthConfig{
			Interval:  Duration(bridge.DefaultHealthInterval),
			Timeout:   Duration(bridge.DefaultHealthTimeout),
			Threshold: bridge.DefaultHealthThreshold,
		},
		LightRAG: LightRAGConfig{
			WorkingDir:           DefaultWorkingDir,
			OpenAIBaseURL:        DefaultOpenAIBaseURL,
			OpenAIModel:          DefaultOpenAIModel,
			OpenAIEmbeddingModel: DefaultEmbeddingModel,
			Neo4jUsername:        DefaultNeo4jUsername,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path (or the resolved default location when path is empty),
// applies environment overrides and validates the result. A missing default
// file is not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	resolved, err := resolvePath(path, lookup)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if resolved != "" {
		if err := decodeFile(resolved, cfg); err != nil {
			return nil, err
		}
		cfg.Path = resolved
	}

	applyEnv(cfg, lookup)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolvePath picks the config file: explicit path, then RAGBRIDGE_CONFIG,
// then ragbridge.{toml,yaml,yml} in the working directory, then the same
// names under the ragbridge home. It returns "" when nothing exists.
func resolvePath(path string, lookup func(string) (string, bool)) (string, error) {
	if path == "" {
		if v, ok := lookup(EnvConfig); ok && v != "" {
			path = v
		}
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return path, nil
	}

	dirs := []string{"."}
	if home, err := homeDir(lookup); err == nil {
		dirs = append(dirs, home)
	}
	for _, dir := range dirs {
		for _, name := range fileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}
	return "", nil
}

// decodeFile decodes by extension on top of the defaults already in cfg.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config %s: unsupported extension %q (want .toml, .yaml or .yml)", path, ext)
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Worker.Command) == "" {
		errs = append(errs, errors.New("worker.command is required"))
	}
	for _, f := range []struct {
		name string
		d    Duration
	}{
		{"bridge.call_timeout", c.Bridge.CallTimeout},
		{"bridge.index_timeout", c.Bridge.IndexTimeout},
		{"bridge.ready_timeout", c.Bridge.ReadyTimeout},
		{"bridge.stop_grace", c.Bridge.StopGrace},
		{"restart.backoff_base", c.Restart.BackoffBase},
		{"restart.backoff_max", c.Restart.BackoffMax},
	} {
		if f.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", f.name, f.d))
		}
	}
	if c.Bridge.ReadyDelay < 0 {
		errs = append(errs, fmt.Errorf("bridge.ready_delay must not be negative, got %s", c.Bridge.ReadyDelay))
	}
	if c.Bridge.MaxPending < 0 {
		errs = append(errs, fmt.Errorf("bridge.max_pending must not be negative, got %d", c.Bridge.MaxPending))
	}
	if c.Restart.MaxRestarts < 0 {
		errs = append(errs, fmt.Errorf("restart.max_restarts must not be negative, got %d", c.Restart.MaxRestarts))
	}
	if c.Restart.BackoffMax < c.Restart.BackoffBase {
		errs = append(errs, fmt.Errorf("restart.backoff_max (%s) is below restart.backoff_base (%s)",
			c.Restart.BackoffMax, c.Restart.BackoffBase))
	}
	if c.Health.Interval < 0 {
		errs = append(errs, fmt.Errorf("health.interval must not be negative, got %s", c.Health.Interval))
	}
	if c.Health.Interval > 0 {
		if c.Health.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("health.timeout must be positive, got %s", c.Health.Timeout))
		}
		if c.Health.Threshold < 1 {
			errs = append(errs, fmt.Errorf("health.threshold must be at least 1, got %d", c.Health.Threshold))
		}
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// WorkerCommand builds the spawn description with the current env snapshot.
func (c *Config) WorkerCommand() bridge.WorkerCommand {
	return bridge.WorkerCommand{
		Path: c.Worker.Command,
		Args: append([]string(nil), c.Worker.Args...),
		Dir:  c.Worker.Dir,
		Env:  c.WorkerEnv(),
	}
}

// ManagerOptions translates the timing, restart and health settings.
func (c *Config) ManagerOptions() []bridge.Option {
	opts := []bridge.Option{
		bridge.WithCallTimeout(c.Bridge.CallTimeout.Std()),
		bridge.WithMaxPending(c.Bridge.MaxPending),
		bridge.WithReadyDelay(c.Bridge.ReadyDelay.Std()),
		bridge.WithStopGrace(c.Bridge.StopGrace.Std()),
		bridge.WithRestartPolicy(bridge.RestartPolicy{
			AutoRestart: c.Restart.AutoRestart,
			MaxRestarts: c.Restart.MaxRestarts,
			BackoffBase: c.Restart.BackoffBase.Std(),
			BackoffMax:  c.Restart.BackoffMax.Std(),
		}),
		bridge.WithHealthCheck(c.Health.Interval.Std(), c.Health.Timeout.Std(), c.Health.Threshold),
	}
	if c.Bridge.ReadyProbe {
		opts = append(opts, bridge.WithReadyProbe(c.Bridge.ReadyTimeout.Std()))
	}
	return opts
}

// TimeoutFor returns the per-call timeout for method.
func (c *Config) TimeoutFor(method string) time.Duration {
	if method == protocol.MethodIndexFiles {
		return c.Bridge.IndexTimeout.Std()
	}
	return c.Bridge.CallTimeout.Std()
}
