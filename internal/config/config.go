package config

import "github.com/google/uuid"

// Runtime tags a function can declare. Unknown tags are accepted at load time
// and rejected per-request by the dispatcher, so a config mixing known and
// unknown runtimes still serves the known ones.
const (
	RuntimeUnixSocket = "unix_socket"
	RuntimeWasm       = "wasm"
)

// Config is the complete gateway configuration.
type Config struct {
	Networking NetworkingConfig `yaml:"networking"`
	Logging    LoggingConfig    `yaml:"logging"`
	Functions  []FunctionConfig `yaml:"functions"`
}

// NetworkingConfig defines where the HTTP server binds.
type NetworkingConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// FunctionConfig declares a single function. Configs are built once at load
// time and never mutated afterwards.
type FunctionConfig struct {
	// Method is the HTTP verb the function handles, upper-case.
	Method string `yaml:"method"`
	// Route is the path pattern the function is bound to.
	Route string `yaml:"route"`
	// Handler is the filesystem path of the script, executable or wasm file.
	Handler string `yaml:"handler"`
	// Cmd optionally names an interpreter to launch the handler with, for
	// handlers that are not directly executable (node scripts and the like).
	Cmd string `yaml:"cmd"`
	// Runtime selects the backend that executes the function.
	Runtime string `yaml:"runtime"`
	// Headers are merged into every HTTP response served by this function.
	Headers map[string]string `yaml:"headers"`

	// ID is assigned at load time and identifies this declaration for the
	// lifetime of the process. It is the instance cache key: two configs
	// with identical fields but different IDs are distinct functions.
	ID uuid.UUID `yaml:"-"`
}

// Argv builds the command line that launches the handler process:
// [interpreter, handler] when an interpreter is declared, else [handler].
// The socket runtime appends the socket path as the final argument.
func (fc *FunctionConfig) Argv() []string {
	if fc.Cmd != "" {
		return []string{fc.Cmd, fc.Handler}
	}
	return []string{fc.Handler}
}

// Address returns the host:port the HTTP server binds to.
func (c *Config) Address() string {
	return c.Networking.Host + ":" + c.Networking.Port
}

// DefaultConfig returns a configuration with defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Networking: NetworkingConfig{
			Host: "0.0.0.0",
			Port: "80",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
	}
}
