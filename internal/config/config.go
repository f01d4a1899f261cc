package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for the contact bot. It is loaded once
// at process start and never mutated afterwards.
type Config struct {
	Account   AccountConfig   `json:"account"`
	Behavior  BehaviorConfig  `json:"behavior"`
	Platform  PlatformConfig  `json:"platform"`
	Intervals IntervalsConfig `json:"intervals"`
	Health    HealthConfig    `json:"health"`
	General   GeneralConfig   `json:"general"`
}

// AccountConfig holds the platform account credentials.
type AccountConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTP     string `json:"totp,omitempty"`
}

// BehaviorConfig holds the bot behavior flags.
type BehaviorConfig struct {
	// AutoAcceptRequests is one of "all", "list", "none". When "list",
	// only identifiers in the whitelist file are accepted.
	AutoAcceptRequests    string `json:"autoAcceptRequests"`
	AutoExtendLogin       bool   `json:"autoExtendLogin"`
	UpdateStatus          bool   `json:"updateStatus"`
	ReadMessagesOnReceive bool   `json:"readMessagesOnReceive"`
	WhitelistPath         string `json:"whitelistPath,omitempty"`
}

// PlatformConfig holds the remote platform endpoints and the hub access
// key. The access key is a credential and is expected to arrive via
// environment substitution, not as a literal in a committed file.
type PlatformConfig struct {
	APIBaseURL   string `json:"apiBaseUrl"`
	HubURL       string `json:"hubUrl"`
	AssetBaseURL string `json:"assetBaseUrl"`
	AccessKey    string `json:"accessKey"`
}

// IntervalsConfig holds every timer and timeout knob, in seconds.
type IntervalsConfig struct {
	AutoAcceptSeconds     int   `json:"autoAcceptSeconds"`
	StatusSeconds         int   `json:"statusSeconds"`
	ExtendLoginSeconds    int   `json:"extendLoginSeconds"`
	SettleSeconds         int   `json:"settleSeconds"`
	LoginTimeoutSeconds   int   `json:"loginTimeoutSeconds"`
	RequestTimeoutSeconds int   `json:"requestTimeoutSeconds"`
	HubTimeoutSeconds     int   `json:"hubTimeoutSeconds"`
	ReconnectDelaySeconds []int `json:"reconnectDelaySeconds"`
	RestartDelaySeconds   int   `json:"restartDelaySeconds"`
}

// HealthConfig configures the HTTP health/command server.
type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	// CommandToken gates POST /command. Empty disables commands entirely.
	CommandToken string `json:"commandToken,omitempty"`
}

type GeneralConfig struct {
	VersionName string `json:"versionName"`
	LogLevel    string `json:"logLevel"`
	LogFile     string `json:"logFile,omitempty"`
}

// DefaultConfigDir returns the default config directory (~/.contactbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".contactbot"
	}
	return filepath.Join(home, ".contactbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Behavior.WhitelistPath = ExpandPath(cfg.Behavior.WhitelistPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty. The default may itself be empty (${VAR:-} expands to ""), so
// credential template markers resolve to empty strings rather than leaking
// into the loaded config.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		idx := envVarPattern.FindStringSubmatchIndex(match)
		if idx == nil {
			return match
		}
		varName := match[idx[2]:idx[3]]
		// Submatch 2 is the default value; its presence (even empty) is
		// what distinguishes ${VAR:-...} from plain ${VAR}.
		hasDefault := idx[4] >= 0
		defaultVal := ""
		if hasDefault {
			defaultVal = match[idx[4]:idx[5]]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. Credential presence is
// checked by the bot at login time, not here, so that non-network commands
// (status, config list) work on a template config.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.Behavior.AutoAcceptRequests {
	case "all", "list", "none":
		// valid
	default:
		errs = append(errs, "behavior.autoAcceptRequests must be one of: all, list, none")
	}
	if cfg.Behavior.AutoAcceptRequests == "list" && cfg.Behavior.WhitelistPath == "" {
		errs = append(errs, "behavior.whitelistPath is required when autoAcceptRequests is list")
	}

	if cfg.Platform.APIBaseURL == "" {
		errs = append(errs, "platform.apiBaseUrl must be set")
	}
	if cfg.Platform.HubURL == "" {
		errs = append(errs, "platform.hubUrl must be set")
	}
	if cfg.Platform.AssetBaseURL == "" {
		errs = append(errs, "platform.assetBaseUrl must be set")
	}

	if cfg.Intervals.AutoAcceptSeconds < 1 {
		errs = append(errs, "intervals.autoAcceptSeconds must be >= 1")
	}
	if cfg.Intervals.StatusSeconds < 1 {
		errs = append(errs, "intervals.statusSeconds must be >= 1")
	}
	if cfg.Intervals.ExtendLoginSeconds < 1 {
		errs = append(errs, "intervals.extendLoginSeconds must be >= 1")
	}
	if cfg.Intervals.SettleSeconds < 0 {
		errs = append(errs, "intervals.settleSeconds must be >= 0")
	}
	if cfg.Intervals.LoginTimeoutSeconds < 1 {
		errs = append(errs, "intervals.loginTimeoutSeconds must be >= 1")
	}
	if cfg.Intervals.RequestTimeoutSeconds < 1 {
		errs = append(errs, "intervals.requestTimeoutSeconds must be >= 1")
	}
	if cfg.Intervals.HubTimeoutSeconds < 1 {
		errs = append(errs, "intervals.hubTimeoutSeconds must be >= 1")
	}
	for _, d := range cfg.Intervals.ReconnectDelaySeconds {
		if d < 0 {
			errs = append(errs, "intervals.reconnectDelaySeconds must not contain negative delays")
			break
		}
	}

	if cfg.Health.Port < 0 || cfg.Health.Port > 65535 {
		errs = append(errs, "health.port must be between 0 and 65535")
	}

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Sanitize returns a copy of the config with sensitive values masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		return cfg
	}

	clone.Account.Password = maskString(clone.Account.Password)
	clone.Account.TOTP = maskString(clone.Account.TOTP)
	clone.Platform.AccessKey = maskString(clone.Platform.AccessKey)
	clone.Health.CommandToken = maskString(clone.Health.CommandToken)
	return &clone
}

func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "***"
	}
	return s[:2] + "***" + s[len(s)-2:]
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
