package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ragbridge/pkg/protocol"
)

// Environment variables read by ragbridge itself.
const (
	EnvHome     = "RAGBRIDGE_HOME"      // base directory (default: ~/.ragbridge)
	EnvConfig   = "RAGBRIDGE_CONFIG"    // config file path
	EnvEventLog = "RAGBRIDGE_EVENTLOG"  // event journal path
	EnvLogLevel = "RAGBRIDGE_LOG_LEVEL" // overrides log.level
)

// redactedValue replaces secrets in Redacted output.
const redactedValue = "[redacted]"

// applyEnv overlays process environment on cfg. Worker settings that have
// a well-known variable are taken from it when set, so an existing LightRAG
// deployment's environment keeps working unchanged.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set(EnvLogLevel, &cfg.Log.Level)
	set(EnvEventLog, &cfg.EventLog.Path)

	set(protocol.EnvWorkingDir, &cfg.LightRAG.WorkingDir)
	set(protocol.EnvOpenAIKey, &cfg.LightRAG.OpenAIAPIKey)
	set(protocol.EnvOpenAIBaseURL, &cfg.LightRAG.OpenAIBaseURL)
	set(protocol.EnvOpenAIModel, &cfg.LightRAG.OpenAIModel)
	set(protocol.EnvEmbeddingModel, &cfg.LightRAG.OpenAIEmbeddingModel)
	set(protocol.EnvMilvusAddress, &cfg.LightRAG.MilvusAddress)
	set(protocol.EnvNeo4jURI, &cfg.LightRAG.Neo4jURI)
	set(protocol.EnvNeo4jUsername, &cfg.LightRAG.Neo4jUsername)
	set(protocol.EnvNeo4jPassword, &cfg.LightRAG.Neo4jPassword)
}

// homeDir returns RAGBRIDGE_HOME or ~/.ragbridge.
func homeDir(lookup func(string) (string, bool)) (string, error) {
	if v, ok := lookup(EnvHome); ok && v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.HomeDir), nil
}

// HomeDir returns the ragbridge state directory.
func HomeDir() (string, error) {
	return homeDir(os.LookupEnv)
}

// EventLogPath returns the journal path: eventlog.path (already overridden
// by RAGBRIDGE_EVENTLOG) or events.db under the home directory.
func (c *Config) EventLogPath() (string, error) {
	if c.EventLog.Path != "" {
		return c.EventLog.Path, nil
	}
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, protocol.EventLogFile), nil
}

// lightRAGEnv lists the worker variables derived from the lightrag section.
func (c *Config) lightRAGEnv() [][2]string {
	l := c.LightRAG
	return [][2]string{
		{protocol.EnvWorkingDir, l.WorkingDir},
		{protocol.EnvOpenAIKey, l.OpenAIAPIKey},
		{protocol.EnvOpenAIBaseURL, l.OpenAIBaseURL},
		{protocol.EnvOpenAIModel, l.OpenAIModel},
		{protocol.EnvEmbeddingModel, l.OpenAIEmbeddingModel},
		{protocol.EnvMilvusAddress, l.MilvusAddress},
		{protocol.EnvNeo4jURI, l.Neo4jURI},
		{protocol.EnvNeo4jUsername, l.Neo4jUsername},
		{protocol.EnvNeo4jPassword, l.Neo4jPassword},
	}
}

// WorkerEnv returns the KEY=VALUE snapshot handed to the worker at spawn:
// the inherited process environment (when worker.inherit_env is set), then
// worker.env, then the lightrag settings. Later sources win. The result is
// sorted and never shared with a running process.
func (c *Config) WorkerEnv() []string {
	env := make(map[string]string)
	if c.Worker.InheritEnv {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				env[k] = v
			}
		}
	}
	for k, v := range c.Worker.Env {
		env[k] = v
	}
	for _, kv := range c.lightRAGEnv() {
		if kv[1] != "" {
			env[kv[0]] = kv[1]
		}
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Redacted returns a copy safe to log: API keys, passwords and any worker
// env entry whose name looks secret are replaced.
func (c *Config) Redacted() *Config {
	cp := *c
	cp.Worker.Args = append([]string(nil), c.Worker.Args...)
	if c.Worker.Env != nil {
		cp.Worker.Env = make(map[string]string, len(c.Worker.Env))
		for k, v := range c.Worker.Env {
			if isSecretName(k) && v != "" {
				v = redactedValue
			}
			cp.Worker.Env[k] = v
		}
	}
	if cp.LightRAG.OpenAIAPIKey != "" {
		cp.LightRAG.OpenAIAPIKey = redactedValue
	}
	if cp.LightRAG.Neo4jPassword != "" {
		cp.LightRAG.Neo4jPassword = redactedValue
	}
	return &cp
}

// RedactEnv masks secret values in a KEY=VALUE list.
func RedactEnv(env []string) []string {
	out := make([]string, len(env))
	for i, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if ok && v != "" && isSecretName(k) {
			kv = k + "=" + redactedValue
		}
		out[i] = kv
	}
	return out
}

func isSecretName(name string) bool {
	upper := strings.ToUpper(name)
	for _, marker := range []string{"KEY", "SECRET", "PASSWORD", "TOKEN"} {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}
