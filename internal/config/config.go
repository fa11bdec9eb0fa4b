package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/viper"

	"farm-log-indexer-go/pkg/utils"
)

// Config represents the application configuration
type Config struct {
	// Network settings
	Network   string `mapstructure:"network" yaml:"network"`
	RPCUrl    string `mapstructure:"rpc_url" yaml:"rpc_url"`
	WSUrl     string `mapstructure:"ws_url" yaml:"ws_url"`
	RPCAPIKey string `mapstructure:"rpc_api_key" yaml:"rpc_api_key"`

	// Farm program settings
	Farm FarmConfig `mapstructure:"farm" yaml:"farm"`

	// Transaction source settings
	Source SourceConfig `mapstructure:"source" yaml:"source"`

	// Output settings
	Output OutputConfig `mapstructure:"output" yaml:"output"`

	// Checkpoint settings
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`

	// Logging settings
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Advanced settings
	Advanced AdvancedConfig `mapstructure:"advanced" yaml:"advanced"`
}

// FarmConfig identifies the observed program and how its logs are attributed
type FarmConfig struct {
	ProgramID   string `mapstructure:"program_id" yaml:"program_id"`
	LogGrouping string `mapstructure:"log_grouping" yaml:"log_grouping"` // "context" or "substring"
}

// SourceConfig selects which transactions are fetched
type SourceConfig struct {
	FromSlot   uint64   `mapstructure:"from_slot" yaml:"from_slot"`
	ToSlot     uint64   `mapstructure:"to_slot" yaml:"to_slot"` // 0 means current slot
	Signatures []string `mapstructure:"signatures" yaml:"signatures"`
	Follow     bool     `mapstructure:"follow" yaml:"follow"`
	Commitment string   `mapstructure:"commitment" yaml:"commitment"`
}

// OutputConfig selects the event sink
type OutputConfig struct {
	Sink        string `mapstructure:"sink" yaml:"sink"` // "jsonl" or "postgres"
	Path        string `mapstructure:"path" yaml:"path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

// CheckpointConfig contains slot checkpoint settings
type CheckpointConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	LogToFile   bool   `mapstructure:"log_to_file" yaml:"log_to_file"`
	LogFilePath string `mapstructure:"log_file_path" yaml:"log_file_path"`
}

// AdvancedConfig contains advanced settings
type AdvancedConfig struct {
	MaxRetries   int `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelayMs int `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms"`
	RPCTimeoutMs int `mapstructure:"rpc_timeout_ms" yaml:"rpc_timeout_ms"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string, envPath string) (*Config, error) {
	config := &Config{}
	v := viper.New()

	// First, load .env file if specified or default locations
	if err := loadEnvFile(envPath); err != nil {
		fmt.Printf("Warning: Failed to load .env file: %v\n", err)
	}

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("indexer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.farm-indexer")
		v.AddConfigPath("/etc/farm-indexer/")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("FARMIDX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		fmt.Printf("Config file not found, using environment variables and defaults\n")
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	processEnvSubstitution(v)

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile(envPath string) error {
	var envFiles []string

	if envPath != "" {
		envFiles = append(envFiles, envPath)
	}
	envFiles = append(envFiles, ".env", "configs/.env")

	var envFile string
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			envFile = file
			break
		}
	}

	if envFile == "" {
		if envPath != "" {
			return fmt.Errorf("specified .env file not found: %s", envPath)
		}
		return fmt.Errorf(".env file not found in any of the expected locations: %v", envFiles)
	}

	file, err := os.Open(envFile)
	if err != nil {
		return fmt.Errorf("failed to open .env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	loadedCount := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// Remove quotes if present
		if len(value) >= 2 {
			if (strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"")) ||
				(strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'")) {
				value = value[1 : len(value)-1]
			}
		}

		if err := os.Setenv(key, value); err == nil {
			loadedCount++
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading .env file: %w", err)
	}

	fmt.Printf("Loaded %d environment variables from %s\n", loadedCount, envFile)
	return nil
}

// bindEnvVariables manually binds environment variables that viper might miss
func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("network", "FARMIDX_NETWORK")
	v.BindEnv("rpc_url", "FARMIDX_RPC_URL")
	v.BindEnv("ws_url", "FARMIDX_WS_URL")
	v.BindEnv("rpc_api_key", "FARMIDX_RPC_API_KEY")

	v.BindEnv("farm.program_id", "FARMIDX_FARM_PROGRAM_ID")
	v.BindEnv("farm.log_grouping", "FARMIDX_FARM_LOG_GROUPING")

	v.BindEnv("source.from_slot", "FARMIDX_SOURCE_FROM_SLOT")
	v.BindEnv("source.to_slot", "FARMIDX_SOURCE_TO_SLOT")
	v.BindEnv("source.follow", "FARMIDX_SOURCE_FOLLOW")
	v.BindEnv("source.commitment", "FARMIDX_SOURCE_COMMITMENT")

	v.BindEnv("output.sink", "FARMIDX_OUTPUT_SINK")
	v.BindEnv("output.path", "FARMIDX_OUTPUT_PATH")
	v.BindEnv("output.postgres_dsn", "FARMIDX_OUTPUT_POSTGRES_DSN")

	v.BindEnv("checkpoint.enabled", "FARMIDX_CHECKPOINT_ENABLED")
	v.BindEnv("checkpoint.path", "FARMIDX_CHECKPOINT_PATH")

	v.BindEnv("logging.level", "FARMIDX_LOGGING_LEVEL")
	v.BindEnv("logging.format", "FARMIDX_LOGGING_FORMAT")
	v.BindEnv("logging.log_to_file", "FARMIDX_LOGGING_LOG_TO_FILE")
	v.BindEnv("logging.log_file_path", "FARMIDX_LOGGING_LOG_FILE_PATH")

	v.BindEnv("advanced.max_retries", "FARMIDX_ADVANCED_MAX_RETRIES")
	v.BindEnv("advanced.retry_delay_ms", "FARMIDX_ADVANCED_RETRY_DELAY_MS")
	v.BindEnv("advanced.rpc_timeout_ms", "FARMIDX_ADVANCED_RPC_TIMEOUT_MS")
}

// processEnvSubstitution processes ${VAR:-default} substitution in string config values
func processEnvSubstitution(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		value, ok := v.Get(key).(string)
		if !ok || !strings.Contains(value, "${") {
			continue
		}
		v.Set(key, expandEnvVars(value))
	}
}

// expandEnvVars expands environment variables in the format ${VAR:-default}
func expandEnvVars(value string) string {
	if !strings.Contains(value, "${") {
		return value
	}

	result := value
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}

		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		expr := result[start+2 : end]
		varName, defaultValue, _ := strings.Cut(expr, ":-")

		envValue := os.Getenv(varName)
		if envValue == "" {
			envValue = defaultValue
		}

		result = result[:start] + envValue + result[end+1:]
	}

	return result
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Network defaults
	v.SetDefault("network", "mainnet")
	v.SetDefault("rpc_url", "")
	v.SetDefault("ws_url", "")

	// Farm defaults
	v.SetDefault("farm.program_id", FarmProgramID)
	v.SetDefault("farm.log_grouping", GroupingContext)

	// Source defaults
	v.SetDefault("source.from_slot", 0)
	v.SetDefault("source.to_slot", 0)
	v.SetDefault("source.follow", false)
	v.SetDefault("source.commitment", "confirmed")

	// Output defaults
	v.SetDefault("output.sink", SinkJSONL)
	v.SetDefault("output.path", "data/farm_events.jsonl")
	v.SetDefault("output.postgres_dsn", "")

	// Checkpoint defaults
	v.SetDefault("checkpoint.enabled", true)
	v.SetDefault("checkpoint.path", "data/checkpoint.json")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.log_to_file", false)
	v.SetDefault("logging.log_file_path", "logs/indexer.log")

	// Advanced defaults
	v.SetDefault("advanced.max_retries", MaxRetries)
	v.SetDefault("advanced.retry_delay_ms", RetryDelayMs)
	v.SetDefault("advanced.rpc_timeout_ms", RPCTimeoutMs)
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	// Set RPC and WS URLs if not provided
	if config.RPCUrl == "" {
		config.RPCUrl = GetRPCEndpoint(config.Network)
	}
	if config.WSUrl == "" {
		config.WSUrl = GetWSEndpoint(config.Network)
	}

	// Validate program id
	if _, err := solana.PublicKeyFromBase58(config.Farm.ProgramID); err != nil {
		return fmt.Errorf("farm.program_id %q is not a valid address: %w", config.Farm.ProgramID, err)
	}

	switch config.Farm.LogGrouping {
	case GroupingContext, GroupingSubstring:
	default:
		return fmt.Errorf("farm.log_grouping must be '%s' or '%s'", GroupingContext, GroupingSubstring)
	}

	// Validate source range
	if config.Source.ToSlot != 0 && config.Source.FromSlot > config.Source.ToSlot {
		return fmt.Errorf("source.from_slot (%d) cannot be greater than source.to_slot (%d)",
			config.Source.FromSlot, config.Source.ToSlot)
	}

	for _, sig := range config.Source.Signatures {
		if !utils.IsValidSolanaSignature(sig) {
			return fmt.Errorf("source.signatures: %q is not a valid transaction signature", sig)
		}
	}

	// getBlock and getTransaction do not accept processed
	switch config.Source.Commitment {
	case "confirmed", "finalized":
	default:
		return fmt.Errorf("source.commitment must be 'confirmed' or 'finalized', got %q", config.Source.Commitment)
	}

	// Validate output
	switch config.Output.Sink {
	case SinkJSONL:
		if config.Output.Path == "" {
			return fmt.Errorf("output.path is required for the jsonl sink")
		}
	case SinkPostgres:
		if config.Output.PostgresDSN == "" {
			return fmt.Errorf("output.postgres_dsn is required for the postgres sink")
		}
	default:
		return fmt.Errorf("output.sink must be '%s' or '%s'", SinkJSONL, SinkPostgres)
	}

	if config.Advanced.MaxRetries < 0 {
		return fmt.Errorf("advanced.max_retries must be non-negative")
	}
	if config.Advanced.RetryDelayMs < 0 {
		return fmt.Errorf("advanced.retry_delay_ms must be non-negative")
	}

	// Create log directories if they don't exist
	if config.Logging.LogToFile {
		logDir := filepath.Dir(config.Logging.LogFilePath)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	return nil
}

// GetConfigFromEnv loads configuration from environment variables only
func GetConfigFromEnv(envPath string) *Config {
	fmt.Printf("Loading configuration from environment variables only...\n")

	if err := loadEnvFile(envPath); err != nil {
		fmt.Printf("Warning: Failed to load .env file: %v\n", err)
	}

	config := &Config{
		Network:   getEnvString("FARMIDX_NETWORK", "mainnet"),
		RPCUrl:    getEnvString("FARMIDX_RPC_URL", ""),
		WSUrl:     getEnvString("FARMIDX_WS_URL", ""),
		RPCAPIKey: getEnvString("FARMIDX_RPC_API_KEY", ""),
		Farm: FarmConfig{
			ProgramID:   getEnvString("FARMIDX_FARM_PROGRAM_ID", FarmProgramID),
			LogGrouping: getEnvString("FARMIDX_FARM_LOG_GROUPING", GroupingContext),
		},
		Source: SourceConfig{
			FromSlot:   getEnvUint64("FARMIDX_SOURCE_FROM_SLOT", 0),
			ToSlot:     getEnvUint64("FARMIDX_SOURCE_TO_SLOT", 0),
			Follow:     getEnvBool("FARMIDX_SOURCE_FOLLOW", false),
			Commitment: getEnvString("FARMIDX_SOURCE_COMMITMENT", "confirmed"),
		},
		Output: OutputConfig{
			Sink:        getEnvString("FARMIDX_OUTPUT_SINK", SinkJSONL),
			Path:        getEnvString("FARMIDX_OUTPUT_PATH", "data/farm_events.jsonl"),
			PostgresDSN: getEnvString("FARMIDX_OUTPUT_POSTGRES_DSN", ""),
		},
		Checkpoint: CheckpointConfig{
			Enabled: getEnvBool("FARMIDX_CHECKPOINT_ENABLED", true),
			Path:    getEnvString("FARMIDX_CHECKPOINT_PATH", "data/checkpoint.json"),
		},
		Logging: LoggingConfig{
			Level:       getEnvString("FARMIDX_LOGGING_LEVEL", "info"),
			Format:      getEnvString("FARMIDX_LOGGING_FORMAT", "text"),
			LogToFile:   getEnvBool("FARMIDX_LOGGING_LOG_TO_FILE", false),
			LogFilePath: getEnvString("FARMIDX_LOGGING_LOG_FILE_PATH", "logs/indexer.log"),
		},
		Advanced: AdvancedConfig{
			MaxRetries:   getEnvInt("FARMIDX_ADVANCED_MAX_RETRIES", MaxRetries),
			RetryDelayMs: getEnvInt("FARMIDX_ADVANCED_RETRY_DELAY_MS", RetryDelayMs),
			RPCTimeoutMs: getEnvInt("FARMIDX_ADVANCED_RPC_TIMEOUT_MS", RPCTimeoutMs),
		},
	}

	if sigs := getEnvString("FARMIDX_SOURCE_SIGNATURES", ""); sigs != "" {
		config.Source.Signatures = SplitList(sigs)
	}

	if config.RPCUrl == "" {
		config.RPCUrl = GetRPCEndpoint(config.Network)
	}
	if config.WSUrl == "" {
		config.WSUrl = GetWSEndpoint(config.Network)
	}

	return config
}

// Validate re-runs validation, e.g. after CLI overrides
func (c *Config) Validate() error {
	return validateConfig(c)
}

// GetRetryDelay returns the initial RPC retry delay
func (c *Config) GetRetryDelay() time.Duration {
	return time.Duration(c.Advanced.RetryDelayMs) * time.Millisecond
}

// GetRPCTimeout returns the RPC request timeout
func (c *Config) GetRPCTimeout() time.Duration {
	if c.Advanced.RPCTimeoutMs > 0 {
		return time.Duration(c.Advanced.RPCTimeoutMs) * time.Millisecond
	}
	return RPCTimeoutMs * time.Millisecond
}

// SplitList splits a comma-separated list, dropping empty items
func SplitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// Helper functions for environment variables
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseUint(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}
