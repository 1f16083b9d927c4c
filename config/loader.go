package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration with precedence defaults → YAML file →
// environment variables.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("gembatch.yaml").
//	    Load()
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a Loader with the default GEMBATCH env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "GEMBATCH",
		validators: []func(*Config) error{ValidateConfig},
	}
}

// WithConfigPath sets the YAML file to load. Empty means defaults + env only.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation function run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// loadFromEnv overrides struct fields from environment variables. Variable
// names are built from the env tags: GEMBATCH_GEMINI_API_KEY overrides
// Config.Gemini.APIKey.
func (l *Loader) loadFromEnv(cfg *Config) error {
	return applyEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func applyEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("env")
		if tag == "" {
			continue
		}
		name := prefix + "_" + tag

		fv := v.Field(i)
		if fv.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Duration(0)) {
			if err := applyEnv(fv, name); err != nil {
				return err
			}
			continue
		}

		raw, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		if err := setField(fv, raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func setField(fv reflect.Value, raw string) error {
	// time.Duration first: its kind is int64.
	if fv.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(raw)
		if err != nil {
			// Accept plain seconds for compatibility with env files.
			secs, serr := strconv.Atoi(raw)
			if serr != nil {
				return fmt.Errorf("invalid duration %q", raw)
			}
			d = time.Duration(secs) * time.Second
		}
		fv.SetInt(int64(d))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer %q", raw)
		}
		fv.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid float %q", raw)
		}
		fv.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid bool %q", raw)
		}
		fv.SetBool(b)
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
	return nil
}

// ValidateConfig checks cross-field constraints the loader cannot express.
func ValidateConfig(cfg *Config) error {
	switch cfg.Input.Mode {
	case "auto", "inline", "file":
	default:
		return fmt.Errorf("input.mode must be auto, inline or file, got %q", cfg.Input.Mode)
	}
	if cfg.Input.InlineThreshold <= 0 {
		return fmt.Errorf("input.inline_threshold must be positive")
	}
	if cfg.Polling.Interval <= 0 || cfg.Polling.MaxInterval < cfg.Polling.Interval {
		return fmt.Errorf("polling intervals must satisfy 0 < interval <= max_interval")
	}
	if cfg.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be positive")
	}
	switch cfg.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres, mysql or sqlite, got %q", cfg.Database.Driver)
	}
	return nil
}
