package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/a3tai/mcp-conform/internal/locate"
)

const (
	// Mode constants
	ModeStdio  = "stdio"
	ModeServer = "server"

	// Default values
	DefaultPort               = 8080
	DefaultHost               = "127.0.0.1"
	DefaultLogLevel           = "info"
	DefaultMaxFileSize        = 200 * 1024 * 1024 // 200MB, drawing sets run large
	DefaultLLMBaseURL         = "https://api.openai.com/v1"
	DefaultLLMModel           = "gpt-4o-mini"
	DefaultLLMTimeout         = 120 * time.Second
	DefaultMaxDocumentChars   = 200_000
	DefaultIndexPageThreshold = 12

	// MemoryStore selects the in-memory project store instead of SQLite
	MemoryStore = ":memory:"

	// stateDir holds the store and cache under the data directory
	stateDir = ".mcp-conform"

	// Directory permissions
	DefaultDirPerm = 0o750

	envPrefix = "MCP_CONFORM"
)

// Config holds all configuration for the conformance MCP server
type Config struct {
	// Server configuration
	Mode string // "server" or "stdio"
	Host string
	Port int

	// Storage configuration
	DataDir   string // every project file must live here
	StorePath string // SQLite file, or MemoryStore
	CacheDir  string // page-index cache

	// Application configuration
	Version     string
	ServerName  string
	LogLevel    string
	MaxFileSize int64 // Maximum PDF file size in bytes

	// Language model configuration
	LLMBaseURL          string
	LLMModel            string
	LLMAPIKey           string
	LLMTimeout          time.Duration
	LLMMaxDocumentChars int

	// Locator tuning
	IndexPageThreshold int
	Locator            locate.Params
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		// Fallback to current directory if working directory cannot be determined
		currentDir = "."
	}

	return &Config{
		Mode:                ModeStdio, // Default to stdio mode for MCP compatibility
		Host:                DefaultHost,
		Port:                DefaultPort,
		DataDir:             currentDir,
		Version:             "1.0.0",
		ServerName:          "mcp-conform",
		LogLevel:            DefaultLogLevel,
		MaxFileSize:         DefaultMaxFileSize,
		LLMBaseURL:          DefaultLLMBaseURL,
		LLMModel:            DefaultLLMModel,
		LLMTimeout:          DefaultLLMTimeout,
		LLMMaxDocumentChars: DefaultMaxDocumentChars,
		IndexPageThreshold:  DefaultIndexPageThreshold,
		Locator:             locate.DefaultParams(),
	}
}

// LoadFromFlags parses command line flags, the environment and an optional
// config file, and returns a validated configuration
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	// Check for version flag before parsing
	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	if err := readConfigFile(); err != nil {
		return nil, err
	}
	populateConfigFromViper(cfg)

	// Expand paths if needed
	if cfg.DataDir != "" {
		if expandedPath, err := filepath.Abs(cfg.DataDir); err == nil {
			cfg.DataDir = expandedPath
		}
	}
	cfg.applyDerivedDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	// MCP_CONFORM_LOG_LEVEL for log-level, MCP_CONFORM_LOCATOR_MIN_SCORE for locator.min-score
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("host", cfg.Host)
	viper.SetDefault("port", cfg.Port)
	viper.SetDefault("dir", cfg.DataDir)
	viper.SetDefault("store", cfg.StorePath)
	viper.SetDefault("cache-dir", cfg.CacheDir)
	viper.SetDefault("log-level", cfg.LogLevel)
	viper.SetDefault("max-file-size", cfg.MaxFileSize)
	viper.SetDefault("llm.base-url", cfg.LLMBaseURL)
	viper.SetDefault("llm.model", cfg.LLMModel)
	viper.SetDefault("llm.api-key", cfg.LLMAPIKey)
	viper.SetDefault("llm.timeout", cfg.LLMTimeout)
	viper.SetDefault("llm.max-document-chars", cfg.LLMMaxDocumentChars)
	viper.SetDefault("index.page-threshold", cfg.IndexPageThreshold)
	viper.SetDefault("locator.exact-score", cfg.Locator.ExactScore)
	viper.SetDefault("locator.base-score", cfg.Locator.BaseScore)
	viper.SetDefault("locator.start-bonus", cfg.Locator.StartBonus)
	viper.SetDefault("locator.density-weight", cfg.Locator.DensityWeight)
	viper.SetDefault("locator.min-score", cfg.Locator.MinScore)
	viper.SetDefault("locator.index-penalty", cfg.Locator.IndexPenalty)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	pflag.String("config", "", "Config file (yaml, toml or json)")
	pflag.String("mode", cfg.Mode, "Server mode: 'stdio' for MCP standard I/O, 'server' for HTTP/SSE server")
	pflag.String("host", cfg.Host, "Server host address (server mode only)")
	pflag.Int("port", cfg.Port, "Server port (server mode only)")
	pflag.String("dir", cfg.DataDir, "Data directory holding project PDFs and exports")
	pflag.String("store", cfg.StorePath, "Project store SQLite file, or :memory: (default <dir>/.mcp-conform/projects.db)")
	pflag.String("cache-dir", cfg.CacheDir, "Page index cache directory (default <dir>/.mcp-conform/cache)")
	pflag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pflag.Int64("max-file-size", cfg.MaxFileSize, "Maximum PDF file size in bytes")
	pflag.String("llm-base-url", cfg.LLMBaseURL, "OpenAI-compatible API base URL")
	pflag.String("llm-model", cfg.LLMModel, "Model used to propose changes")
	pflag.Duration("llm-timeout", cfg.LLMTimeout, "Timeout of one model request")
	pflag.Float64("min-score", cfg.Locator.MinScore, "Minimum locator score for a page match")
	pflag.Float64("index-penalty", cfg.Locator.IndexPenalty, "Score multiplier for index pages on text changes")
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	_ = viper.BindPFlag("config", pflag.Lookup("config"))
	_ = viper.BindPFlag("mode", pflag.Lookup("mode"))
	_ = viper.BindPFlag("host", pflag.Lookup("host"))
	_ = viper.BindPFlag("port", pflag.Lookup("port"))
	_ = viper.BindPFlag("dir", pflag.Lookup("dir"))
	_ = viper.BindPFlag("store", pflag.Lookup("store"))
	_ = viper.BindPFlag("cache-dir", pflag.Lookup("cache-dir"))
	_ = viper.BindPFlag("log-level", pflag.Lookup("log-level"))
	_ = viper.BindPFlag("max-file-size", pflag.Lookup("max-file-size"))
	_ = viper.BindPFlag("llm.base-url", pflag.Lookup("llm-base-url"))
	_ = viper.BindPFlag("llm.model", pflag.Lookup("llm-model"))
	_ = viper.BindPFlag("llm.timeout", pflag.Lookup("llm-timeout"))
	_ = viper.BindPFlag("locator.min-score", pflag.Lookup("min-score"))
	_ = viper.BindPFlag("locator.index-penalty", pflag.Lookup("index-penalty"))
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nMCP Conform - conformed construction documents from base sets and addenda\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                          "+
			"# stdio mode, current directory (default)\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --dir=/path/to/project                   "+
			"# stdio mode with custom data directory\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=server --dir=/path/to/project     # SSE server mode\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --config=conform.yaml                    # settings from a file\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  MCP_CONFORM_MODE            Server mode\n")
		fmt.Fprintf(os.Stderr, "  MCP_CONFORM_HOST            Server host\n")
		fmt.Fprintf(os.Stderr, "  MCP_CONFORM_PORT            Server port\n")
		fmt.Fprintf(os.Stderr, "  MCP_CONFORM_DIR             Data directory\n")
		fmt.Fprintf(os.Stderr, "  MCP_CONFORM_STORE           Project store file\n")
		fmt.Fprintf(os.Stderr, "  MCP_CONFORM_LOG_LEVEL       Log level\n")
		fmt.Fprintf(os.Stderr, "  MCP_CONFORM_MAX_FILE_SIZE   Maximum file size\n")
		fmt.Fprintf(os.Stderr, "  MCP_CONFORM_LLM_API_KEY     Model API key (falls back to OPENAI_API_KEY)\n")
		fmt.Fprintf(os.Stderr, "  MCP_CONFORM_LLM_MODEL       Model name\n")
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return fmt.Errorf("version requested")
		}
	}
	return nil
}

// readConfigFile merges the file named by --config, if any
func readConfigFile() error {
	path := viper.GetString("config")
	if path == "" {
		return nil
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.Mode = viper.GetString("mode")
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.DataDir = viper.GetString("dir")
	cfg.StorePath = viper.GetString("store")
	cfg.CacheDir = viper.GetString("cache-dir")
	cfg.LogLevel = viper.GetString("log-level")
	cfg.MaxFileSize = viper.GetInt64("max-file-size")
	cfg.LLMBaseURL = viper.GetString("llm.base-url")
	cfg.LLMModel = viper.GetString("llm.model")
	cfg.LLMAPIKey = viper.GetString("llm.api-key")
	cfg.LLMTimeout = viper.GetDuration("llm.timeout")
	cfg.LLMMaxDocumentChars = viper.GetInt("llm.max-document-chars")
	cfg.IndexPageThreshold = viper.GetInt("index.page-threshold")
	cfg.Locator.ExactScore = viper.GetFloat64("locator.exact-score")
	cfg.Locator.BaseScore = viper.GetFloat64("locator.base-score")
	cfg.Locator.StartBonus = viper.GetFloat64("locator.start-bonus")
	cfg.Locator.DensityWeight = viper.GetFloat64("locator.density-weight")
	cfg.Locator.MinScore = viper.GetFloat64("locator.min-score")
	cfg.Locator.IndexPenalty = viper.GetFloat64("locator.index-penalty")
}

// applyDerivedDefaults places the store and cache under the data directory
// when they were not set explicitly
func (c *Config) applyDerivedDefaults() {
	if c.StorePath == "" {
		c.StorePath = filepath.Join(c.DataDir, stateDir, "projects.db")
	}
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(c.DataDir, stateDir, "cache")
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate mode
	if c.Mode != ModeStdio && c.Mode != ModeServer {
		return errors.New("mode must be either 'stdio' or 'server'")
	}

	// Validate port range (only for server mode)
	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	// Validate data directory
	if c.DataDir == "" {
		return errors.New("data directory cannot be empty")
	}

	// Check if data directory exists, create if it doesn't
	if _, err := os.Stat(c.DataDir); os.IsNotExist(err) {
		if err := os.MkdirAll(c.DataDir, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create data directory %s: %w", c.DataDir, err)
		}
	} else if err != nil {
		return fmt.Errorf("cannot access data directory %s: %w", c.DataDir, err)
	}

	// Validate max file size
	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	if c.LLMTimeout <= 0 {
		return errors.New("model timeout must be positive")
	}
	if c.IndexPageThreshold <= 0 {
		return errors.New("index page threshold must be positive")
	}
	if err := c.Locator.Validate(); err != nil {
		return fmt.Errorf("locator: %w", err)
	}

	return nil
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BaseURL returns the public URL of the SSE server
func (c *Config) BaseURL() string {
	return fmt.Sprintf("http://%s", c.Address())
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// UsesMemoryStore reports whether projects are kept in memory only
func (c *Config) UsesMemoryStore() bool {
	return c.StorePath == MemoryStore
}

// String returns a string representation of the configuration. The API key is never printed.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Host: %s, Port: %d, DataDir: %s, StorePath: %s, LogLevel: %s, "+
		"MaxFileSize: %d, LLMModel: %s}",
		c.Mode, c.Host, c.Port, c.DataDir, c.StorePath, c.LogLevel, c.MaxFileSize, c.LLMModel)
}

// IsServerMode returns true if the server is running in HTTP server mode
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if the server is running in stdio mode
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}
