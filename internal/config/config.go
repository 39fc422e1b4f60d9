// Package config loads cmdgate configuration from defaults, TOML files,
// environment variables and command-line overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/Dicklesworthstone/cmdgate/internal/core"
	"github.com/Dicklesworthstone/cmdgate/internal/notify"
	"github.com/Dicklesworthstone/cmdgate/internal/risk"
)

const (
	dirName  = ".cmdgate"
	fileName = "config.toml"
)

// Config is the full cmdgate configuration.
type Config struct {
	General       GeneralConfig       `toml:"general" mapstructure:"general" json:"general" yaml:"general"`
	Approvals     ApprovalsConfig     `toml:"approvals" mapstructure:"approvals" json:"approvals" yaml:"approvals"`
	Risk          RiskConfig          `toml:"risk" mapstructure:"risk" json:"risk" yaml:"risk"`
	Server        ServerConfig        `toml:"server" mapstructure:"server" json:"server" yaml:"server"`
	Notifications NotificationsConfig `toml:"notifications" mapstructure:"notifications" json:"notifications" yaml:"notifications"`
	History       HistoryConfig       `toml:"history" mapstructure:"history" json:"history" yaml:"history"`
}

// GeneralConfig holds submission limits and starting balances.
type GeneralConfig struct {
	MaxCommandLength int    `toml:"max_command_length" mapstructure:"max_command_length" json:"max_command_length" yaml:"max_command_length"`
	AllowedChars     string `toml:"allowed_chars" mapstructure:"allowed_chars" json:"allowed_chars" yaml:"allowed_chars"`
	DefaultCredits   int64  `toml:"default_credits" mapstructure:"default_credits" json:"default_credits" yaml:"default_credits"`
	AdminCredits     int64  `toml:"admin_credits" mapstructure:"admin_credits" json:"admin_credits" yaml:"admin_credits"`
}

// ApprovalsConfig controls when commands need admins and how many.
type ApprovalsConfig struct {
	RequiredApprovals   int  `toml:"required_approvals" mapstructure:"required_approvals" json:"required_approvals" yaml:"required_approvals"`
	ApprovalThreshold   int  `toml:"approval_threshold" mapstructure:"approval_threshold" json:"approval_threshold" yaml:"approval_threshold"`
	AllowDuplicateVotes bool `toml:"allow_duplicate_votes" mapstructure:"allow_duplicate_votes" json:"allow_duplicate_votes" yaml:"allow_duplicate_votes"`
	AllowSelfApproval   bool `toml:"allow_self_approval" mapstructure:"allow_self_approval" json:"allow_self_approval" yaml:"allow_self_approval"`
}

// RiskConfig selects the risk oracle.
type RiskConfig struct {
	Provider      string `toml:"provider" mapstructure:"provider" json:"provider" yaml:"provider"` // heuristic, ollama, none
	OllamaURL     string `toml:"ollama_url" mapstructure:"ollama_url" json:"ollama_url" yaml:"ollama_url"`
	Model         string `toml:"model" mapstructure:"model" json:"model" yaml:"model"`
	TimeoutSecs   int    `toml:"timeout_seconds" mapstructure:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`
	FailSafeScore int    `toml:"fail_safe_score" mapstructure:"fail_safe_score" json:"fail_safe_score" yaml:"fail_safe_score"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr              string `toml:"addr" mapstructure:"addr" json:"addr" yaml:"addr"`
	LogLevel          string `toml:"log_level" mapstructure:"log_level" json:"log_level" yaml:"log_level"`
	RequestsPerMinute int    `toml:"requests_per_minute" mapstructure:"requests_per_minute" json:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int    `toml:"burst" mapstructure:"burst" json:"burst" yaml:"burst"`
	MetricsEnabled    bool   `toml:"metrics_enabled" mapstructure:"metrics_enabled" json:"metrics_enabled" yaml:"metrics_enabled"`
}

// NotificationsConfig configures event fan-out.
type NotificationsConfig struct {
	WebSocketEnabled bool   `toml:"websocket_enabled" mapstructure:"websocket_enabled" json:"websocket_enabled" yaml:"websocket_enabled"`
	DesktopEnabled   bool   `toml:"desktop_enabled" mapstructure:"desktop_enabled" json:"desktop_enabled" yaml:"desktop_enabled"`
	RedisURL         string `toml:"redis_url" mapstructure:"redis_url" json:"redis_url" yaml:"redis_url"`
	RedisPrefix      string `toml:"redis_prefix" mapstructure:"redis_prefix" json:"redis_prefix" yaml:"redis_prefix"`
}

// HistoryConfig configures the state database.
type HistoryConfig struct {
	DatabasePath string `toml:"database_path" mapstructure:"database_path" json:"database_path" yaml:"database_path"`
	AuditLimit   int    `toml:"audit_limit" mapstructure:"audit_limit" json:"audit_limit" yaml:"audit_limit"`
}

// LoadOptions controls config loading.
type LoadOptions struct {
	ProjectDir    string
	ConfigPath    string
	FlagOverrides map[string]any
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			MaxCommandLength: core.DefaultMaxCommandLength,
			AllowedChars:     core.DefaultAllowedChars,
			DefaultCredits:   core.DefaultCredits,
			AdminCredits:     core.DefaultAdminCredits,
		},
		Approvals: ApprovalsConfig{
			RequiredApprovals: core.DefaultRequiredApprovals,
			ApprovalThreshold: core.DefaultApprovalThreshold,
		},
		Risk: RiskConfig{
			Provider:      risk.ProviderHeuristic,
			OllamaURL:     risk.DefaultOllamaURL,
			Model:         risk.DefaultOllamaModel,
			TimeoutSecs:   int(risk.DefaultTimeout / time.Second),
			FailSafeScore: risk.DefaultFailSafeScore,
		},
		Server: ServerConfig{
			Addr:              "127.0.0.1:5000",
			LogLevel:          "info",
			RequestsPerMinute: 60,
			Burst:             10,
			MetricsEnabled:    true,
		},
		Notifications: NotificationsConfig{
			WebSocketEnabled: true,
			RedisPrefix:      notify.DefaultChannelPrefix,
		},
		History: HistoryConfig{
			DatabasePath: "",
			AuditLimit:   100,
		},
	}
}

// Load returns configuration merged in order of increasing precedence:
// defaults, user config, project config, environment, flag overrides.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()
	setDefaults(v)

	userPath, projectPath := ConfigPaths(opts.ProjectDir, opts.ConfigPath)
	if err := mergeConfigFile(v, userPath); err != nil {
		return Config{}, err
	}
	if err := mergeConfigFile(v, projectPath); err != nil {
		return Config{}, err
	}

	if err := applyEnv(v); err != nil {
		return Config{}, err
	}

	for key, val := range opts.FlagOverrides {
		v.Set(key, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func Validate(cfg Config) error {
	var errs []error
	if cfg.General.MaxCommandLength <= 0 {
		errs = append(errs, errors.New("general.max_command_length must be > 0"))
	}
	if strings.TrimSpace(cfg.General.AllowedChars) == "" {
		errs = append(errs, errors.New("general.allowed_chars must not be empty"))
	}
	if cfg.General.DefaultCredits <= 0 {
		errs = append(errs, errors.New("general.default_credits must be > 0"))
	}
	if cfg.General.AdminCredits <= 0 {
		errs = append(errs, errors.New("general.admin_credits must be > 0"))
	}
	if cfg.Approvals.RequiredApprovals < 1 {
		errs = append(errs, errors.New("approvals.required_approvals must be >= 1"))
	}
	if cfg.Approvals.ApprovalThreshold < 1 || cfg.Approvals.ApprovalThreshold > 10 {
		errs = append(errs, errors.New("approvals.approval_threshold must be between 1 and 10"))
	}
	switch strings.ToLower(cfg.Risk.Provider) {
	case risk.ProviderHeuristic, risk.ProviderOllama, risk.ProviderNone:
	default:
		errs = append(errs, fmt.Errorf("risk.provider must be heuristic, ollama or none (got %q)", cfg.Risk.Provider))
	}
	if cfg.Risk.TimeoutSecs <= 0 {
		errs = append(errs, errors.New("risk.timeout_seconds must be > 0"))
	}
	if cfg.Risk.FailSafeScore < cfg.Approvals.ApprovalThreshold || cfg.Risk.FailSafeScore > 10 {
		errs = append(errs, errors.New("risk.fail_safe_score must be between approvals.approval_threshold and 10"))
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("server.log_level must be debug, info, warn or error (got %q)", cfg.Server.LogLevel))
	}
	if cfg.Server.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("server.requests_per_minute must be >= 0"))
	}
	if cfg.Server.Burst < 0 {
		errs = append(errs, errors.New("server.burst must be >= 0"))
	}
	if cfg.History.AuditLimit <= 0 {
		errs = append(errs, errors.New("history.audit_limit must be > 0"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// ConfigPaths returns the user and project config file paths. A non-empty
// override replaces the project path.
func ConfigPaths(projectDir, override string) (userPath, projectPath string) {
	home, err := os.UserHomeDir()
	if err == nil {
		userPath = filepath.Join(home, dirName, fileName)
	}
	return userPath, projectConfigPath(projectDir, override)
}

func projectConfigPath(projectDir, override string) string {
	if override != "" {
		return override
	}
	if projectDir == "" {
		return filepath.Join(dirName, fileName)
	}
	return filepath.Join(projectDir, dirName, fileName)
}

// StateDir returns the directory holding the database and server log.
func StateDir(projectDir string) string {
	if projectDir == "" {
		return dirName
	}
	return filepath.Join(projectDir, dirName)
}

// DatabasePath resolves history.database_path against the state directory.
func DatabasePath(cfg Config, projectDir string) string {
	if cfg.History.DatabasePath != "" {
		return cfg.History.DatabasePath
	}
	return filepath.Join(StateDir(projectDir), "cmdgate.db")
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("general.max_command_length", d.General.MaxCommandLength)
	v.SetDefault("general.allowed_chars", d.General.AllowedChars)
	v.SetDefault("general.default_credits", d.General.DefaultCredits)
	v.SetDefault("general.admin_credits", d.General.AdminCredits)

	v.SetDefault("approvals.required_approvals", d.Approvals.RequiredApprovals)
	v.SetDefault("approvals.approval_threshold", d.Approvals.ApprovalThreshold)
	v.SetDefault("approvals.allow_duplicate_votes", d.Approvals.AllowDuplicateVotes)
	v.SetDefault("approvals.allow_self_approval", d.Approvals.AllowSelfApproval)

	v.SetDefault("risk.provider", d.Risk.Provider)
	v.SetDefault("risk.ollama_url", d.Risk.OllamaURL)
	v.SetDefault("risk.model", d.Risk.Model)
	v.SetDefault("risk.timeout_seconds", d.Risk.TimeoutSecs)
	v.SetDefault("risk.fail_safe_score", d.Risk.FailSafeScore)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.requests_per_minute", d.Server.RequestsPerMinute)
	v.SetDefault("server.burst", d.Server.Burst)
	v.SetDefault("server.metrics_enabled", d.Server.MetricsEnabled)

	v.SetDefault("notifications.websocket_enabled", d.Notifications.WebSocketEnabled)
	v.SetDefault("notifications.desktop_enabled", d.Notifications.DesktopEnabled)
	v.SetDefault("notifications.redis_url", d.Notifications.RedisURL)
	v.SetDefault("notifications.redis_prefix", d.Notifications.RedisPrefix)

	v.SetDefault("history.database_path", d.History.DatabasePath)
	v.SetDefault("history.audit_limit", d.History.AuditLimit)
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// envBindings maps CMDGATE_* variables to config keys.
var envBindings = map[string]string{
	"CMDGATE_MAX_COMMAND_LENGTH":    "general.max_command_length",
	"CMDGATE_DEFAULT_CREDITS":       "general.default_credits",
	"CMDGATE_ADMIN_CREDITS":         "general.admin_credits",
	"CMDGATE_REQUIRED_APPROVALS":    "approvals.required_approvals",
	"CMDGATE_APPROVAL_THRESHOLD":    "approvals.approval_threshold",
	"CMDGATE_ALLOW_DUPLICATE_VOTES": "approvals.allow_duplicate_votes",
	"CMDGATE_ALLOW_SELF_APPROVAL":   "approvals.allow_self_approval",
	"CMDGATE_RISK_PROVIDER":         "risk.provider",
	"CMDGATE_OLLAMA_URL":            "risk.ollama_url",
	"CMDGATE_RISK_MODEL":            "risk.model",
	"CMDGATE_RISK_TIMEOUT":          "risk.timeout_seconds",
	"CMDGATE_ADDR":                  "server.addr",
	"CMDGATE_LOG_LEVEL":             "server.log_level",
	"CMDGATE_REQUESTS_PER_MINUTE":   "server.requests_per_minute",
	"CMDGATE_REDIS_URL":             "notifications.redis_url",
	"CMDGATE_DESKTOP_NOTIFY":        "notifications.desktop_enabled",
	"CMDGATE_DB":                    "history.database_path",
}

func applyEnv(v *viper.Viper) error {
	for env, key := range envBindings {
		raw, ok := os.LookupEnv(env)
		if !ok {
			continue
		}
		val, err := ParseValue(key, raw)
		if err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
		v.Set(key, val)
	}
	return nil
}

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindBool
)

var keyKinds = map[string]valueKind{
	"general.max_command_length": kindInt,
	"general.allowed_chars":      kindString,
	"general.default_credits":    kindInt,
	"general.admin_credits":      kindInt,

	"approvals.required_approvals":    kindInt,
	"approvals.approval_threshold":    kindInt,
	"approvals.allow_duplicate_votes": kindBool,
	"approvals.allow_self_approval":   kindBool,

	"risk.provider":        kindString,
	"risk.ollama_url":      kindString,
	"risk.model":           kindString,
	"risk.timeout_seconds": kindInt,
	"risk.fail_safe_score": kindInt,

	"server.addr":                kindString,
	"server.log_level":           kindString,
	"server.requests_per_minute": kindInt,
	"server.burst":               kindInt,
	"server.metrics_enabled":     kindBool,

	"notifications.websocket_enabled": kindBool,
	"notifications.desktop_enabled":   kindBool,
	"notifications.redis_url":         kindString,
	"notifications.redis_prefix":      kindString,

	"history.database_path": kindString,
	"history.audit_limit":   kindInt,
}

// ParseValue converts a command-line string into the type stored at key.
func ParseValue(key, raw string) (any, error) {
	kind, ok := keyKinds[key]
	if !ok {
		return nil, fmt.Errorf("unsupported config key %q", key)
	}
	return parseValueByKind(raw, kind)
}

func parseValueByKind(raw string, kind valueKind) (any, error) {
	switch kind {
	case kindString:
		return raw, nil
	case kindInt:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", raw)
		}
		return n, nil
	case kindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid boolean %q", raw)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported value kind %d", kind)
	}
}

// GetValue returns the value at a dotted key, or a whole section.
func GetValue(cfg Config, key string) (any, bool) {
	parts := strings.Split(key, ".")
	switch parts[0] {
	case "general":
		if len(parts) == 1 {
			return cfg.General, true
		}
		return getGeneral(cfg.General, parts[1:])
	case "approvals":
		if len(parts) == 1 {
			return cfg.Approvals, true
		}
		return getApprovals(cfg.Approvals, parts[1:])
	case "risk":
		if len(parts) == 1 {
			return cfg.Risk, true
		}
		return getRisk(cfg.Risk, parts[1:])
	case "server":
		if len(parts) == 1 {
			return cfg.Server, true
		}
		return getServer(cfg.Server, parts[1:])
	case "notifications":
		if len(parts) == 1 {
			return cfg.Notifications, true
		}
		return getNotifications(cfg.Notifications, parts[1:])
	case "history":
		if len(parts) == 1 {
			return cfg.History, true
		}
		return getHistory(cfg.History, parts[1:])
	}
	return nil, false
}

func getGeneral(c GeneralConfig, parts []string) (any, bool) {
	if len(parts) != 1 {
		return nil, false
	}
	switch parts[0] {
	case "max_command_length":
		return c.MaxCommandLength, true
	case "allowed_chars":
		return c.AllowedChars, true
	case "default_credits":
		return c.DefaultCredits, true
	case "admin_credits":
		return c.AdminCredits, true
	}
	return nil, false
}

func getApprovals(c ApprovalsConfig, parts []string) (any, bool) {
	if len(parts) != 1 {
		return nil, false
	}
	switch parts[0] {
	case "required_approvals":
		return c.RequiredApprovals, true
	case "approval_threshold":
		return c.ApprovalThreshold, true
	case "allow_duplicate_votes":
		return c.AllowDuplicateVotes, true
	case "allow_self_approval":
		return c.AllowSelfApproval, true
	}
	return nil, false
}

func getRisk(c RiskConfig, parts []string) (any, bool) {
	if len(parts) != 1 {
		return nil, false
	}
	switch parts[0] {
	case "provider":
		return c.Provider, true
	case "ollama_url":
		return c.OllamaURL, true
	case "model":
		return c.Model, true
	case "timeout_seconds":
		return c.TimeoutSecs, true
	case "fail_safe_score":
		return c.FailSafeScore, true
	}
	return nil, false
}

func getServer(c ServerConfig, parts []string) (any, bool) {
	if len(parts) != 1 {
		return nil, false
	}
	switch parts[0] {
	case "addr":
		return c.Addr, true
	case "log_level":
		return c.LogLevel, true
	case "requests_per_minute":
		return c.RequestsPerMinute, true
	case "burst":
		return c.Burst, true
	case "metrics_enabled":
		return c.MetricsEnabled, true
	}
	return nil, false
}

func getNotifications(c NotificationsConfig, parts []string) (any, bool) {
	if len(parts) != 1 {
		return nil, false
	}
	switch parts[0] {
	case "websocket_enabled":
		return c.WebSocketEnabled, true
	case "desktop_enabled":
		return c.DesktopEnabled, true
	case "redis_url":
		return c.RedisURL, true
	case "redis_prefix":
		return c.RedisPrefix, true
	}
	return nil, false
}

func getHistory(c HistoryConfig, parts []string) (any, bool) {
	if len(parts) != 1 {
		return nil, false
	}
	switch parts[0] {
	case "database_path":
		return c.DatabasePath, true
	case "audit_limit":
		return c.AuditLimit, true
	}
	return nil, false
}

// WriteValue sets key in the TOML file at path, creating the file and its
// parent directory when needed.
func WriteValue(path, key string, value any) error {
	if path == "" {
		return errors.New("config path is required")
	}

	doc := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return fmt.Errorf("decode config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("read config %s: %w", path, err)
	}

	parts := strings.Split(key, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part]
		if !ok {
			table := map[string]any{}
			cur[part] = table
			cur = table
			continue
		}
		table, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("config key %q: %s is not a table", key, part)
		}
		cur = table
	}
	cur[parts[len(parts)-1]] = value

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(doc); err != nil {
		return fmt.Errorf("encode config %s: %w", path, err)
	}
	return nil
}
