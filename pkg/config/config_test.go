package config_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ragbridge/pkg/config"
	"ragbridge/pkg/protocol"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// clearEnv unsets every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvHome, config.EnvConfig, config.EnvEventLog, config.EnvLogLevel,
		protocol.EnvWorkingDir, protocol.EnvOpenAIKey, protocol.EnvOpenAIBaseURL,
		protocol.EnvOpenAIModel, protocol.EnvEmbeddingModel, protocol.EnvMilvusAddress,
		protocol.EnvNeo4jURI, protocol.EnvNeo4jUsername, protocol.EnvNeo4jPassword,
	} {
		t.Setenv(key, "")
	}
	t.Setenv(config.EnvHome, t.TempDir())
}

// TestLoad_TOML verifies that a TOML file overrides defaults section by
// section and leaves unspecified settings at their defaults.
func TestLoad_TOML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "ragbridge.toml", `
[worker]
command = "/usr/bin/python3"
args = ["-m", "worker"]
inherit_env = false

[worker.env]
PYTHONUNBUFFERED = "1"

[bridge]
call_timeout = "10s"
max_pending = 64
ready_probe = true

[restart]
max_restarts = 2
backoff_base = "250ms"

[health]
interval = "0s"

[lightrag]
milvus_address = "localhost:19530"
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Path != path {
		t.Fatalf("expected Path %q, got %q", path, cfg.Path)
	}
	if cfg.Worker.Command != "/usr/bin/python3" || cfg.Worker.InheritEnv {
		t.Fatalf("unexpected worker section %+v", cfg.Worker)
	}
	if cfg.Bridge.CallTimeout.Std() != 10*time.Second || cfg.Bridge.MaxPending != 64 || !cfg.Bridge.ReadyProbe {
		t.Fatalf("unexpected bridge section %+v", cfg.Bridge)
	}
	if cfg.Bridge.StopGrace.Std() != 3*time.Second {
		t.Fatalf("expected default stop_grace 3s, got %s", cfg.Bridge.StopGrace)
	}
	if cfg.Restart.MaxRestarts != 2 || cfg.Restart.BackoffBase.Std() != 250*time.Millisecond || !cfg.Restart.AutoRestart {
		t.Fatalf("unexpected restart section %+v", cfg.Restart)
	}
	if cfg.Health.Interval != 0 {
		t.Fatalf("expected health disabled, got %s", cfg.Health.Interval)
	}
	if cfg.LightRAG.MilvusAddress != "localhost:19530" || cfg.LightRAG.OpenAIModel != config.DefaultOpenAIModel {
		t.Fatalf("unexpected lightrag section %+v", cfg.LightRAG)
	}
}

// TestLoad_YAML verifies the YAML form including duration strings.
func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "ragbridge.yaml", `
worker:
  command: ragbridge-devworker
bridge:
  index_timeout: 10m
health:
  interval: 15s
  threshold: 5
log:
  level: debug
  format: json
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Worker.Command != "ragbridge-devworker" {
		t.Fatalf("expected devworker command, got %q", cfg.Worker.Command)
	}
	if got := cfg.TimeoutFor(protocol.MethodIndexFiles); got != 10*time.Minute {
		t.Fatalf("expected index timeout 10m, got %v", got)
	}
	if got := cfg.TimeoutFor(protocol.MethodSearchCode); got != 30*time.Second {
		t.Fatalf("expected default call timeout 30s, got %v", got)
	}
	if cfg.Health.Interval.Std() != 15*time.Second || cfg.Health.Threshold != 5 {
		t.Fatalf("unexpected health section %+v", cfg.Health)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected log section %+v", cfg.Log)
	}
}

// TestLoad_Errors verifies that unreadable, unparseable and invalid files are
// rejected with a useful message.
func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{name: "bad duration", file: "a.toml", content: "[bridge]\ncall_timeout = \"soon\"\n", want: "invalid duration"},
		{name: "bad yaml duration", file: "b.yaml", content: "bridge:\n  call_timeout: [1]\n", want: "duration must be a string"},
		{name: "bad toml", file: "c.toml", content: "[worker\n", want: "parse"},
		{name: "bad extension", file: "d.json", content: "{}", want: "unsupported extension"},
		{name: "empty command", file: "e.toml", content: "[worker]\ncommand = \"\"\n", want: "worker.command is required"},
		{name: "negative pending", file: "f.toml", content: "[bridge]\nmax_pending = -1\n", want: "max_pending"},
		{name: "backoff order", file: "g.toml", content: "[restart]\nbackoff_base = \"1m\"\nbackoff_max = \"1s\"\n", want: "below restart.backoff_base"},
		{name: "bad format", file: "h.toml", content: "[log]\nformat = \"xml\"\n", want: "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.content)
			_, err := config.Load(path)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	if _, err := config.Load(filepath.Join(dir, "missing.toml")); err == nil {
		t.Fatal("expected error for missing explicit file")
	}
}

// TestLoad_EnvOverrides verifies that the well-known worker variables and
// ragbridge's own variables win over the file.
func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "ragbridge.toml", `
[lightrag]
openai_model = "from-file"
working_dir = "/from/file"
[log]
level = "info"
`)
	t.Setenv(protocol.EnvOpenAIModel, "from-env")
	t.Setenv(protocol.EnvOpenAIKey, "sk-test")
	t.Setenv(config.EnvLogLevel, "warn")
	t.Setenv(config.EnvEventLog, "/tmp/journal.db")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LightRAG.OpenAIModel != "from-env" {
		t.Fatalf("expected env to win, got %q", cfg.LightRAG.OpenAIModel)
	}
	if cfg.LightRAG.WorkingDir != "/from/file" {
		t.Fatalf("expected file value when env unset, got %q", cfg.LightRAG.WorkingDir)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("expected log level warn, got %q", cfg.Log.Level)
	}
	if got, _ := cfg.EventLogPath(); got != "/tmp/journal.db" {
		t.Fatalf("expected eventlog override, got %q", got)
	}
}

// TestLoad_ConfigEnvAndHome verifies RAGBRIDGE_CONFIG selection and the
// default journal location under RAGBRIDGE_HOME.
func TestLoad_ConfigEnvAndHome(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	t.Setenv(config.EnvHome, home)
	path := writeFile(t, t.TempDir(), "custom.yml", "worker:\n  command: from-env-file\n")
	t.Setenv(config.EnvConfig, path)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Worker.Command != "from-env-file" {
		t.Fatalf("expected RAGBRIDGE_CONFIG to be used, got %q", cfg.Worker.Command)
	}
	if got, _ := cfg.EventLogPath(); got != filepath.Join(home, protocol.EventLogFile) {
		t.Fatalf("expected journal under home, got %q", got)
	}
}

// TestWorkerEnv verifies the snapshot contents and precedence.
func TestWorkerEnv(t *testing.T) {
	t.Setenv("RAGBRIDGE_TEST_INHERITED", "yes")
	t.Setenv(protocol.EnvMilvusAddress, "")

	cfg := config.Default()
	cfg.Worker.Env = map[string]string{"PYTHONUNBUFFERED": "1", protocol.EnvOpenAIModel: "overridden"}
	cfg.LightRAG.OpenAIAPIKey = "sk-secret"
	cfg.LightRAG.OpenAIModel = "gpt-4o"

	env := cfg.WorkerEnv()
	if !slices.IsSorted(env) {
		t.Fatal("expected sorted snapshot")
	}
	for _, want := range []string{
		"RAGBRIDGE_TEST_INHERITED=yes",
		"PYTHONUNBUFFERED=1",
		protocol.EnvOpenAIModel + "=gpt-4o",
		protocol.EnvOpenAIKey + "=sk-secret",
		protocol.EnvWorkingDir + "=" + config.DefaultWorkingDir,
		protocol.EnvEmbeddingModel + "=" + config.DefaultEmbeddingModel,
	} {
		if !slices.Contains(env, want) {
			t.Fatalf("expected %q in snapshot %v", want, config.RedactEnv(env))
		}
	}
	for _, kv := range env {
		if strings.HasPrefix(kv, protocol.EnvMilvusAddress+"=") && kv != protocol.EnvMilvusAddress+"=" {
			t.Fatalf("expected unset milvus address to be omitted, got %q", kv)
		}
	}

	cfg.Worker.InheritEnv = false
	if slices.Contains(cfg.WorkerEnv(), "RAGBRIDGE_TEST_INHERITED=yes") {
		t.Fatal("expected inherit_env=false to drop the process environment")
	}
}

// TestRedacted verifies that secrets are masked in the copy only.
func TestRedacted(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.LightRAG.OpenAIAPIKey = "sk-secret"
	cfg.LightRAG.Neo4jPassword = "hunter2"
	cfg.Worker.Env = map[string]string{"HF_TOKEN": "abc", "PLAIN": "visible"}

	r := cfg.Redacted()
	if r.LightRAG.OpenAIAPIKey == "sk-secret" || r.LightRAG.Neo4jPassword == "hunter2" {
		t.Fatalf("expected secrets masked, got %+v", r.LightRAG)
	}
	if r.Worker.Env["HF_TOKEN"] == "abc" || r.Worker.Env["PLAIN"] != "visible" {
		t.Fatalf("unexpected redacted worker env %v", r.Worker.Env)
	}
	if cfg.LightRAG.OpenAIAPIKey != "sk-secret" || cfg.Worker.Env["HF_TOKEN"] != "abc" {
		t.Fatal("expected original config to be untouched")
	}

	masked := config.RedactEnv([]string{"OPENAI_API_KEY=sk", "PATH=/bin"})
	if masked[0] == "OPENAI_API_KEY=sk" || masked[1] != "PATH=/bin" {
		t.Fatalf("unexpected RedactEnv output %v", masked)
	}
}

// TestManagerOptions verifies that the config produces a usable command.
func TestManagerOptions(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Bridge.ReadyProbe = true
	cmd := cfg.WorkerCommand()
	if cmd.Path != "python3" || len(cmd.Env) == 0 {
		t.Fatalf("unexpected worker command %+v", cmd)
	}
	if n := len(cfg.ManagerOptions()); n != 7 {
		t.Fatalf("expected 7 options with ready probe, got %d", n)
	}
}

// TestWatch verifies that rewriting the file triggers one debounced
// callback.
func TestWatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "ragbridge.toml", "[worker]\ncommand = \"a\"\n")

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- config.Watch(ctx, path, nil, func() { calls.Add(1) })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	for i := range 3 {
		writeFile(t, dir, "ragbridge.toml", "[worker]\ncommand = \"b"+strings.Repeat("x", i)+"\"\n")
	}
	writeFile(t, dir, "unrelated.txt", "ignored")

	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(300 * time.Millisecond)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 debounced callback, got %d", got)
	}
}
