package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "ELEPHIE_"
	// Delimiter separates nested config keys.
	Delimiter = "."
	// ConfigEnv names a config file when no path is given on the command line.
	ConfigEnv = "ELEPHIE_CONFIG"
)

// ambientEnv maps the conventional variables of OpenAI-compatible tooling
// onto config keys. ELEPHIE_* variables take precedence.
var ambientEnv = map[string]string{
	"OPENAI_API_KEY":  "llm.api_key",
	"OPENAI_BASE_URL": "llm.base_url",
}

// searchPaths are tried in order when neither a path nor ELEPHIE_CONFIG is
// given. The first file that exists wins.
func searchPaths() []string {
	paths := []string{"elephie.yaml", "elephie.yml", "elephie.json", "config.yaml", "configs/config.yaml"}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "elephie", "config.yaml"))
	}
	return append(paths, "/etc/elephie/config.yaml")
}

// Loader merges configuration layers into a Config.
type Loader struct {
	k *koanf.Koanf
}

// NewLoader creates a Loader with an empty key space.
func NewLoader() *Loader {
	return &Loader{k: koanf.New(Delimiter)}
}

// Load merges, lowest precedence first: defaults, the config file,
// OPENAI_API_KEY/OPENAI_BASE_URL, ELEPHIE_* variables and overrides (keyed
// by dotted config key). A leading "~" in directory settings expands to the
// user's home. The result is validated before it is returned.
func (l *Loader) Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	defaults := flatten(DefaultConfig())
	if err := l.k.Load(confmap.Provider(defaults, Delimiter), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := l.loadConfigFile(configPath); err != nil {
		return nil, err
	}
	if err := l.loadMap(ambientValues()); err != nil {
		return nil, fmt.Errorf("load OPENAI_* variables: %w", err)
	}
	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("load %s* variables: %w", EnvPrefix, err)
	}
	if err := l.loadMap(overrides); err != nil {
		return nil, fmt.Errorf("apply overrides: %w", err)
	}

	// An empty section in a file ("agent:") replaces the whole subtree.
	for key, value := range defaults {
		if !l.k.Exists(key) {
			if err := l.k.Set(key, value); err != nil {
				return nil, fmt.Errorf("restore default %s: %w", key, err)
			}
		}
	}

	var cfg Config
	if err := l.k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := expandHome(&cfg); err != nil {
		return nil, err
	}
	if err := ValidateWithDetails(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadConfigFile loads an explicit path, then ELEPHIE_CONFIG, then the first
// search path that exists. Only an explicit file has to exist.
func (l *Loader) loadConfigFile(path string) error {
	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	if path != "" {
		if err := l.loadFile(path); err != nil {
			return fmt.Errorf("load config file: %w", err)
		}
		return nil
	}
	for _, candidate := range searchPaths() {
		if _, err := os.Stat(candidate); err == nil {
			// A broken file found by search is skipped, not fatal.
			_ = l.loadFile(candidate)
			return nil
		}
	}
	return nil
}

func (l *Loader) loadFile(path string) error {
	var parser koanf.Parser
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config file not found: %s", path)
	}
	return l.k.Load(file.Provider(path), parser)
}

func (l *Loader) loadMap(values map[string]interface{}) error {
	if len(values) == 0 {
		return nil
	}
	return l.k.Load(confmap.Provider(values, Delimiter), nil)
}

// loadEnv maps ELEPHIE_* names onto known keys, so ELEPHIE_INGEST_CHAT_PATH
// sets ingest.chat_path rather than ingest.chat.path. Unknown names split on
// every underscore (ELEPHIE_TRACING_HEADERS_TENANT -> tracing.headers.tenant).
func (l *Loader) loadEnv() error {
	known := make(map[string]string)
	for key := range flatten(DefaultConfig()) {
		known[strings.ReplaceAll(key, Delimiter, "_")] = key
	}
	return l.k.Load(env.Provider(EnvPrefix, Delimiter, func(name string) string {
		name = strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
		if key, ok := known[name]; ok {
			return key
		}
		return strings.ReplaceAll(name, "_", Delimiter)
	}), nil)
}

func ambientValues() map[string]interface{} {
	values := make(map[string]interface{})
	for name, key := range ambientEnv {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			values[key] = v
		}
	}
	return values
}

// expandHome resolves a leading "~" in the directory settings.
func expandHome(cfg *Config) error {
	for _, p := range []*string{
		&cfg.Storage.Badger.Path,
		&cfg.Memory.VectorPath,
		&cfg.Ingest.ChatPath,
		&cfg.Ingest.NotePath,
	} {
		rest, ok := strings.CutPrefix(*p, "~")
		if !ok || (rest != "" && rest[0] != '/') {
			continue
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("expand %q: %w", *p, err)
		}
		*p = filepath.Join(home, rest)
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// flatten turns a config struct into dotted mapstructure keys. Durations
// become strings so they decode the same way as file values. Empty maps are
// left out so file and env entries are not shadowed by them.
func flatten(v interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	flattenValue(reflect.Indirect(reflect.ValueOf(v)), "", out)
	return out
}

func flattenValue(val reflect.Value, prefix string, out map[string]interface{}) {
	if val.Kind() != reflect.Struct {
		return
	}
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if !field.IsExported() || name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + Delimiter + name
		}

		fv := val.Field(i)
		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				continue
			}
			fv = fv.Elem()
		}
		switch {
		case fv.Type() == durationType:
			out[key] = time.Duration(fv.Int()).String()
		case fv.Kind() == reflect.Struct:
			flattenValue(fv, key, out)
		case fv.Kind() == reflect.Map:
			if fv.Len() > 0 {
				out[key] = fv.Interface()
			}
		case fv.Kind() == reflect.Slice:
			items := make([]interface{}, fv.Len())
			for j := range items {
				items[j] = fv.Index(j).Interface()
			}
			out[key] = items
		case fv.CanInt():
			out[key] = fv.Int()
		case fv.CanUint():
			out[key] = fv.Uint()
		default:
			out[key] = fv.Interface()
		}
	}
}

// Load is a convenience function to load configuration.
func Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	return NewLoader().Load(configPath, overrides)
}
