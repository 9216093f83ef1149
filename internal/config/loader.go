package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
)

// DefaultPath is where the gateway looks for its configuration when no
// explicit path is given: config.yaml in the current working directory.
const DefaultPath = "config.yaml"

// supportedMethods are the HTTP verbs a function may declare. Anything else
// in the config is a fatal startup error.
var supportedMethods = map[string]bool{
	"GET":  true,
	"POST": true,
}

// Loader handles configuration loading and parsing.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses configuration from YAML bytes, applies defaults, validates,
// and assigns each function its identity.
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	for i := range cfg.Functions {
		cfg.Functions[i].Method = strings.ToUpper(cfg.Functions[i].Method)
		cfg.Functions[i].ID = uuid.New()
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values.
// Unset variables are left as-is: the literal ${VAR_NAME} stays in the value
// instead of becoming an empty string.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Networking.Host == "" {
		return fmt.Errorf("networking.host must not be empty")
	}
	if cfg.Networking.Port == "" {
		return fmt.Errorf("networking.port must not be empty")
	}
	if len(cfg.Functions) == 0 {
		return fmt.Errorf("no functions configured")
	}

	seen := make(map[string]bool, len(cfg.Functions))
	for i, fn := range cfg.Functions {
		if fn.Route == "" {
			return fmt.Errorf("function %d: route must not be empty", i)
		}
		if !strings.HasPrefix(fn.Route, "/") {
			return fmt.Errorf("function %d: route %q must start with /", i, fn.Route)
		}
		if fn.Handler == "" {
			return fmt.Errorf("function %d (%s): handler must not be empty", i, fn.Route)
		}
		if fn.Runtime == "" {
			return fmt.Errorf("function %d (%s): runtime must not be empty", i, fn.Route)
		}
		if !supportedMethods[strings.ToUpper(fn.Method)] {
			return fmt.Errorf("function %d (%s): unsupported HTTP method %q", i, fn.Route, fn.Method)
		}
		key := strings.ToUpper(fn.Method) + " " + fn.Route
		if seen[key] {
			return fmt.Errorf("function %d: duplicate registration for %s", i, key)
		}
		seen[key] = true
	}

	// Handler paths are deliberately not checked for existence here: a
	// missing file surfaces as an initialization error on the first request
	// and may be fixed without a restart.
	return nil
}
