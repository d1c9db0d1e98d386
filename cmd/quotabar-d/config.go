package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quotabar/quotabar/pkg/provider"
)

const (
	defaultAddr         = "127.0.0.1:8808"
	defaultPollInterval = 60 * time.Second
)

// ProviderSpec selects a provider and, optionally, pins its source.
type ProviderSpec struct {
	ID   provider.ID         `yaml:"id"`
	Mode provider.SourceMode `yaml:"mode,omitempty"`
}

// FileConfig is the optional YAML config file. It holds the parts that
// do not fit a flag comfortably, providers above all.
type FileConfig struct {
	Providers    []ProviderSpec `yaml:"providers,omitempty"`
	PollInterval string         `yaml:"poll_interval,omitempty"`
	Listen       string         `yaml:"listen,omitempty"`
	StateBackend string         `yaml:"state_backend,omitempty"`
	RedisAddr    string         `yaml:"redis_addr,omitempty"`
	LogFile      string         `yaml:"log_file,omitempty"`
	Debug        bool           `yaml:"debug,omitempty"`
	// NoPrompts forbids interactive secure-storage prompts entirely,
	// for headless setups where nobody can answer them.
	NoPrompts bool `yaml:"no_prompts,omitempty"`
}

type Config struct {
	DBPath       string
	ConfigPath   string
	KeychainDir  string
	Addr         string
	PollInterval time.Duration
	StateBackend string
	RedisAddr    string
	LogFile      string
	Debug        bool
	NoPrompts    bool
	Providers    []ProviderSpec
}

// LoadConfig resolves configuration with flags over environment over
// the YAML file over defaults.
func LoadConfig(args []string) (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("failed to resolve home dir: %w", err)
	}
	baseDir := filepath.Join(home, ".quotabar")

	dbPath := envOrDefault("QUOTABAR_DB_PATH", filepath.Join(baseDir, "quotabar.db"))
	configPath := envOrDefault("QUOTABAR_CONFIG_PATH", filepath.Join(baseDir, "config.yaml"))
	keychainDir := envOrDefault("QUOTABAR_SECRETS_DIR", filepath.Join(baseDir, "secrets"))
	addr := addrFromEnv(defaultAddr)
	pollInterval := defaultPollInterval
	if v := os.Getenv("QUOTABAR_POLL_INTERVAL"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid QUOTABAR_POLL_INTERVAL: %w", err)
		}
		pollInterval = parsed
	}

	flagSet := flag.NewFlagSet("quotabar-d", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagDB := flagSet.String("db", dbPath, "path to SQLite database")
	flagConfig := flagSet.String("config", configPath, "path to YAML config file")
	flagSecrets := flagSet.String("secrets-dir", keychainDir, "directory for the file-backed secret store")
	flagAddr := flagSet.String("addr", addr, "HTTP listen address")
	flagPollInterval := flagSet.String("poll-interval", pollInterval.String(), "provider poll interval")
	flagDebug := flagSet.Bool("debug", false, "enable debug logging")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
		}
		return Config{}, err
	}

	pollParsed, err := time.ParseDuration(*flagPollInterval)
	if err != nil {
		return Config{}, fmt.Errorf("invalid poll interval: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	config := Config{
		DBPath:       resolvePath(*flagDB, cwd),
		ConfigPath:   resolvePath(*flagConfig, cwd),
		KeychainDir:  resolvePath(*flagSecrets, cwd),
		Addr:         strings.TrimSpace(*flagAddr),
		PollInterval: pollParsed,
		StateBackend: "sqlite",
		Debug:        *flagDebug,
	}

	fileCfg, err := LoadFileConfig(config.ConfigPath)
	if err != nil {
		return Config{}, err
	}
	if fileCfg != nil {
		applyFileConfig(&config, fileCfg, flagSet)
	}

	if config.Addr == "" {
		return Config{}, errors.New("addr cannot be empty")
	}
	if config.PollInterval <= 0 {
		return Config{}, errors.New("poll interval must be positive")
	}
	switch config.StateBackend {
	case "sqlite", "redis":
	default:
		return Config{}, fmt.Errorf("unsupported state backend: %s", config.StateBackend)
	}
	if config.StateBackend == "redis" && config.RedisAddr == "" {
		return Config{}, errors.New("state_backend=redis requires redis_addr")
	}

	if len(config.Providers) == 0 {
		for _, id := range provider.All() {
			config.Providers = append(config.Providers, ProviderSpec{ID: id, Mode: provider.ModeAuto})
		}
	}
	for i, spec := range config.Providers {
		if !spec.ID.Valid() {
			return Config{}, fmt.Errorf("unknown provider in config: %s", spec.ID)
		}
		if spec.Mode == "" {
			config.Providers[i].Mode = provider.ModeAuto
		} else if !spec.Mode.Valid() {
			return Config{}, fmt.Errorf("unknown mode for %s: %s", spec.ID, spec.Mode)
		}
	}

	return config, nil
}

// LoadFileConfig parses the YAML config file. A missing file is not an
// error; the defaults cover it.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &cfg, nil
}

// applyFileConfig folds file values in, without overriding anything set
// explicitly on the command line.
func applyFileConfig(config *Config, file *FileConfig, flagSet *flag.FlagSet) {
	set := map[string]bool{}
	flagSet.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if file.Listen != "" && !set["addr"] && os.Getenv("QUOTABAR_ADDR") == "" && os.Getenv("QUOTABAR_PORT") == "" {
		config.Addr = file.Listen
	}
	if file.PollInterval != "" && !set["poll-interval"] && os.Getenv("QUOTABAR_POLL_INTERVAL") == "" {
		if parsed, err := time.ParseDuration(file.PollInterval); err == nil {
			config.PollInterval = parsed
		}
	}
	if file.StateBackend != "" {
		config.StateBackend = strings.ToLower(strings.TrimSpace(file.StateBackend))
	}
	config.RedisAddr = file.RedisAddr
	config.LogFile = file.LogFile
	if file.Debug {
		config.Debug = true
	}
	config.NoPrompts = file.NoPrompts
	config.Providers = file.Providers
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func addrFromEnv(fallback string) string {
	if value := os.Getenv("QUOTABAR_ADDR"); value != "" {
		return value
	}
	if port := os.Getenv("QUOTABAR_PORT"); port != "" {
		return fmt.Sprintf("127.0.0.1:%s", port)
	}
	return fallback
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}
