package environment

import (
	"fmt"
	"os"
	"strconv"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config holds the immutable run settings of one supervisor instance.
type Config struct {
	TimeoutSeconds   int    `toml:"timeout"`
	MaxOutputBytes   int64  `toml:"max_output_size"`
	InstanceRAM      string `toml:"instance_ram"`
	SandboxFilesRoot string `toml:"sandbox_files_root"`
	DebugLogFile     string `toml:"debug_log_file"`
	ListenAddress    string `toml:"listen_address"`

	Notify NotifyConfig `toml:"notify"`
}

// NotifyConfig selects optional queue delivery backends. The webhook
// backend needs no configuration; it is driven by the notify form field.
type NotifyConfig struct {
	Nats NatsConfig `toml:"nats"`
	Sqs  SqsConfig  `toml:"sqs"`
}

type NatsConfig struct {
	Url     string `toml:"url"`
	Subject string `toml:"subject"`
}

type SqsConfig struct {
	QueueUrl string `toml:"queue_url"`
	Region   string `toml:"region"`
}

// recognizedKeys enumerates the top-level config keys the supervisor
// accepts. Anything else in the file is a deployment mistake and is
// rejected rather than silently ignored.
var recognizedKeys = mapset.NewSet(
	"timeout",
	"max_output_size",
	"instance_ram",
	"sandbox_files_root",
	"debug_log_file",
	"listen_address",
	"notify",
)

func defaults() Config {
	return Config{
		TimeoutSeconds: 60,
		MaxOutputBytes: 15 * 1024 * 1024,
		InstanceRAM:    "256M",
		ListenAddress:  ":3001",
	}
}

// ReadConfig loads the TOML config at path, applies TMC_SANDBOX_*
// environment overrides and validates the result. A .env file in the
// working directory is loaded first if present.
func ReadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := checkKeys(data); err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func checkKeys(data []byte) error {
	var raw map[string]interface{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	present := mapset.NewSet[string]()
	for key := range raw {
		present.Add(key)
	}

	unknown := present.Difference(recognizedKeys)
	if unknown.Cardinality() > 0 {
		return fmt.Errorf("unrecognized config keys: %v", unknown.ToSlice())
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TMC_SANDBOX_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("TMC_SANDBOX_MAX_OUTPUT_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxOutputBytes = n
		}
	}
	if v := os.Getenv("TMC_SANDBOX_INSTANCE_RAM"); v != "" {
		cfg.InstanceRAM = v
	}
	if v := os.Getenv("TMC_SANDBOX_FILES_ROOT"); v != "" {
		cfg.SandboxFilesRoot = v
	}
	if v := os.Getenv("TMC_SANDBOX_DEBUG_LOG_FILE"); v != "" {
		cfg.DebugLogFile = v
	}
	if v := os.Getenv("TMC_SANDBOX_LISTEN_ADDRESS"); v != "" {
		cfg.ListenAddress = v
	}
}

func validate(cfg *Config) error {
	if cfg.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout must be positive, got %d", cfg.TimeoutSeconds)
	}
	if cfg.MaxOutputBytes <= 0 {
		return fmt.Errorf("max_output_size must be positive, got %d", cfg.MaxOutputBytes)
	}
	if cfg.InstanceRAM == "" {
		return fmt.Errorf("instance_ram must not be empty")
	}
	if cfg.SandboxFilesRoot == "" {
		return fmt.Errorf("sandbox_files_root is required")
	}
	return nil
}
