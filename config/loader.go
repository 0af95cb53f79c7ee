package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/plyrelay/errors"
)

type fileFormat int

const (
	formatUnknown fileFormat = iota
	formatJSON
	formatYAML
)

func formatOf(path string) fileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatUnknown
	}
}

// durationPaths lists the keys that accept Go duration strings such as "10s".
var durationPaths = [][]string{
	{"server", "write_timeout"},
	{"server", "ping_interval"},
	{"persistence", "timeout"},
	{"storage", "nats", "connect_timeout"},
}

// Loader builds a Config from defaults, file layers and environment
// overrides, in that order. Later layers only override the keys they set.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader reading PLYRELAY_* environment overrides.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "PLYRELAY",
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer and the environment.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		merged = deepMergeMaps(merged, raw)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode merged configuration")
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw decodes a JSON or YAML file into a generic map with duration
// strings already converted to nanoseconds.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch formatOf(path) {
	case formatYAML:
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}

	if err := validateDepth(raw, 0); err != nil {
		return nil, err
	}
	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	removeNilValues(raw)
	return raw, nil
}

func parseDurations(raw map[string]any) error {
	for _, path := range durationPaths {
		parent := raw
		for _, key := range path[:len(path)-1] {
			next, ok := parent[key].(map[string]any)
			if !ok {
				parent = nil
				break
			}
			parent = next
		}
		if parent == nil {
			continue
		}

		leaf := path[len(path)-1]
		s, ok := parent[leaf].(string)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("%s: %w", strings.Join(path, "."), err)
		}
		parent[leaf] = int64(d)
	}
	return nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// removeNilValues recursively removes nil values from a map
func removeNilValues(m map[string]any) {
	for k, v := range m {
		if v == nil {
			delete(m, k)
		} else if nested, ok := v.(map[string]any); ok {
			removeNilValues(nested)
		}
	}
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides. PORT is honoured
// for platforms that assign the listen port; PLYRELAY_PORT wins over it.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	var firstErr error
	str := func(name string, dst *string) {
		if val, ok := l.env(name, &firstErr); ok {
			*dst = val
		}
	}
	num := func(name string, dst *int) {
		val, ok := l.env(name, &firstErr)
		if !ok {
			return
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			l.fail(&firstErr, name, err)
			return
		}
		*dst = n
	}
	boolean := func(name string, dst *bool) {
		val, ok := l.env(name, &firstErr)
		if !ok {
			return
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			l.fail(&firstErr, name, err)
			return
		}
		*dst = b
	}

	if val, ok := l.lookupEnv("PORT"); ok && val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Server.Port = n
		} else {
			l.fail(&firstErr, "PORT", err)
		}
	}
	num(l.envPrefix+"_PORT", &cfg.Server.Port)
	str(l.envPrefix+"_HOST", &cfg.Server.Host)
	if val, ok := l.env(l.envPrefix+"_ALLOWED_ORIGINS", &firstErr); ok {
		cfg.Server.AllowedOrigins = splitList(val)
	}

	str(l.envPrefix+"_OUTPUT_SESSION", &cfg.Relay.OutputSession)

	str(l.envPrefix+"_STORAGE_BACKEND", &cfg.Storage.Backend)
	str(l.envPrefix+"_STORAGE_DIR", &cfg.Storage.Directory)
	str(l.envPrefix+"_NATS_URL", &cfg.Storage.NATS.URL)
	str(l.envPrefix+"_NATS_BUCKET", &cfg.Storage.NATS.Bucket)

	num(l.envPrefix+"_PERSIST_WORKERS", &cfg.Persistence.Workers)

	boolean(l.envPrefix+"_METRICS_ENABLED", &cfg.Metrics.Enabled)
	num(l.envPrefix+"_METRICS_PORT", &cfg.Metrics.Port)

	return firstErr
}

func (l *Loader) env(name string, firstErr *error) (string, bool) {
	val, ok := l.lookupEnv(name)
	if !ok || val == "" {
		return "", false
	}
	if err := validateEnvVar(name, val); err != nil {
		l.fail(firstErr, name, err)
		return "", false
	}
	return val, true
}

func (l *Loader) fail(firstErr *error, name string, err error) {
	if *firstErr == nil {
		*firstErr = errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "parse "+name)
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
