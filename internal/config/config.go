// Package config loads the botwire configuration from JSONC files,
// environment variables, and built-in defaults.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// LimitRule configures rate limiting for one key class (user or group).
type LimitRule struct {
	// MaxConcurrent is the number of in-flight injections allowed per key.
	MaxConcurrent int `json:"maxConcurrent,omitempty"`
	// RPS is the token refill rate per second. Zero disables token consumption.
	RPS float64 `json:"rps,omitempty"`
	// Burst caps accumulated tokens.
	Burst float64 `json:"burst,omitempty"`
}

// Limits configures the message-injection rate limiter.
type Limits struct {
	Enabled bool      `json:"enabled"`
	User    LimitRule `json:"user,omitempty"`
	Group   LimitRule `json:"group,omitempty"`
}

// Defaults are values injected into tool calls and scenario steps when the
// caller omits them.
type Defaults struct {
	WaitMs   int    `json:"waitMs,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Nickname string `json:"nickname,omitempty"`
}

// MCPTools gates optional tool/action exposure.
type MCPTools struct {
	// ConfigRead exposes the config.get action and get_config tool.
	ConfigRead bool `json:"configRead"`
}

// MCPServer configures the stdio server child process and its HTTP client.
type MCPServer struct {
	// BridgeURL overrides the computed bridge base URL (host + mount path).
	BridgeURL string `json:"bridgeUrl,omitempty"`
	// ReadyTimeoutMs bounds each health check.
	ReadyTimeoutMs int `json:"readyTimeoutMs,omitempty"`
	// Retries is the number of action-call attempts.
	Retries int `json:"retries,omitempty"`
	// BackoffMs is the linear backoff unit between attempts.
	BackoffMs int `json:"backoffMs,omitempty"`
	// LogLevel for the child process (DEBUG|INFO|WARN|ERROR).
	LogLevel string `json:"logLevel,omitempty"`
}

// Config is the effective botwire configuration.
type Config struct {
	// MCPPath is the bridge mount path prefix.
	MCPPath string `json:"mcpPath,omitempty"`
	// Port the host HTTP server listens on.
	Port int `json:"port,omitempty"`
	// IPAllowlist holds IPv4 addresses or CIDR prefixes. Empty means unrestricted.
	IPAllowlist []string `json:"ipAllowlist,omitempty"`
	Limits      Limits   `json:"limits,omitempty"`
	// MaxHistory caps the inbox/outbox ring buffers.
	MaxHistory int `json:"maxHistory,omitempty"`
	// TraceTTLMs is how long unclaimed traces live before eviction.
	TraceTTLMs int       `json:"traceTTLMs,omitempty"`
	DataDir    string    `json:"dataDir,omitempty"`
	RenderDir  string    `json:"renderDir,omitempty"`
	Defaults   Defaults  `json:"defaults,omitempty"`
	MCPTools   MCPTools  `json:"mcpTools,omitempty"`
	MCPServer  MCPServer `json:"mcpServer,omitempty"`
}

// Default values applied after all sources are merged.
const (
	DefaultMCPPath    = "/MCP"
	DefaultPort       = 7777
	DefaultMaxHistory = 200
	DefaultTraceTTL   = 5 * time.Minute
	DefaultWaitMs     = 1200
	MaxWaitMs         = 60000
)

// TraceTTL returns the configured trace TTL as a duration.
func (c *Config) TraceTTL() time.Duration {
	if c.TraceTTLMs <= 0 {
		return DefaultTraceTTL
	}
	return time.Duration(c.TraceTTLMs) * time.Millisecond
}

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/botwire/botwire.json[c])
// 2. Project config (botwire.json[c], .botwire/botwire.json[c])
// 3. BOTWIRE_CONFIG file
// 4. BOTWIRE_CONFIG_CONTENT inline JSON
// 5. Environment variables
func Load(directory string) (*Config, error) {
	config := &Config{}

	loaded := make(map[string]bool)
	loadOnce := func(path, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	if home := os.Getenv("HOME"); home != "" {
		globalDir := filepath.Join(home, ".config", "botwire")
		loadOnce(filepath.Join(globalDir, "botwire.json"), globalDir)
		loadOnce(filepath.Join(globalDir, "botwire.jsonc"), globalDir)
	}

	if directory != "" {
		projectDir := filepath.Join(directory, ".botwire")
		loadOnce(filepath.Join(directory, "botwire.json"), directory)
		loadOnce(filepath.Join(directory, "botwire.jsonc"), directory)
		loadOnce(filepath.Join(projectDir, "botwire.json"), projectDir)
		loadOnce(filepath.Join(projectDir, "botwire.jsonc"), projectDir)
	}

	if configPath := os.Getenv("BOTWIRE_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	if content := os.Getenv("BOTWIRE_CONFIG_CONTENT"); content != "" {
		var inline Config
		if err := json.Unmarshal([]byte(content), &inline); err == nil {
			mergeConfig(config, &inline)
		}
	}

	applyEnvOverrides(config)
	applyDefaults(config)

	return config, nil
}

// ProjectConfigPath returns the first project config file that exists under
// directory, or "" when the project has none. Used to point the watcher at
// the file Load would read.
func ProjectConfigPath(directory string) string {
	if directory == "" {
		return ""
	}
	candidates := []string{
		filepath.Join(directory, "botwire.json"),
		filepath.Join(directory, "botwire.jsonc"),
		filepath.Join(directory, ".botwire", "botwire.json"),
		filepath.Join(directory, ".botwire", "botwire.jsonc"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		rel := filePattern.FindStringSubmatch(match)[1]
		p := rel
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(content))
	})

	return []byte(str)
}

// mergeConfig merges src into dst; non-zero src fields win.
func mergeConfig(dst, src *Config) {
	if src.MCPPath != "" {
		dst.MCPPath = src.MCPPath
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if len(src.IPAllowlist) > 0 {
		dst.IPAllowlist = src.IPAllowlist
	}
	if src.Limits.Enabled {
		dst.Limits.Enabled = true
	}
	mergeRule(&dst.Limits.User, src.Limits.User)
	mergeRule(&dst.Limits.Group, src.Limits.Group)
	if src.MaxHistory != 0 {
		dst.MaxHistory = src.MaxHistory
	}
	if src.TraceTTLMs != 0 {
		dst.TraceTTLMs = src.TraceTTLMs
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.RenderDir != "" {
		dst.RenderDir = src.RenderDir
	}
	if src.Defaults.WaitMs != 0 {
		dst.Defaults.WaitMs = src.Defaults.WaitMs
	}
	if src.Defaults.UserID != "" {
		dst.Defaults.UserID = src.Defaults.UserID
	}
	if src.Defaults.Nickname != "" {
		dst.Defaults.Nickname = src.Defaults.Nickname
	}
	if src.MCPTools.ConfigRead {
		dst.MCPTools.ConfigRead = true
	}
	if src.MCPServer.BridgeURL != "" {
		dst.MCPServer.BridgeURL = src.MCPServer.BridgeURL
	}
	if src.MCPServer.ReadyTimeoutMs != 0 {
		dst.MCPServer.ReadyTimeoutMs = src.MCPServer.ReadyTimeoutMs
	}
	if src.MCPServer.Retries != 0 {
		dst.MCPServer.Retries = src.MCPServer.Retries
	}
	if src.MCPServer.BackoffMs != 0 {
		dst.MCPServer.BackoffMs = src.MCPServer.BackoffMs
	}
	if src.MCPServer.LogLevel != "" {
		dst.MCPServer.LogLevel = src.MCPServer.LogLevel
	}
}

func mergeRule(dst *LimitRule, src LimitRule) {
	if src.MaxConcurrent != 0 {
		dst.MaxConcurrent = src.MaxConcurrent
	}
	if src.RPS != 0 {
		dst.RPS = src.RPS
	}
	if src.Burst != 0 {
		dst.Burst = src.Burst
	}
}

// applyEnvOverrides applies BOTWIRE_* environment variables (highest priority).
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("BOTWIRE_MCP_PATH"); v != "" {
		config.MCPPath = v
	}
	if v := os.Getenv("BOTWIRE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Port = port
		}
	}
	if v := os.Getenv("BOTWIRE_IP_ALLOWLIST"); v != "" {
		parts := strings.Split(v, ",")
		list := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				list = append(list, p)
			}
		}
		config.IPAllowlist = list
	}
	if v := os.Getenv("BOTWIRE_DATA_DIR"); v != "" {
		config.DataDir = v
	}
	if v := os.Getenv("BOTWIRE_RENDER_DIR"); v != "" {
		config.RenderDir = v
	}
	if v := os.Getenv("BOTWIRE_LIMITS_ENABLED"); v != "" {
		config.Limits.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("BOTWIRE_CONFIG_READ"); v != "" {
		config.MCPTools.ConfigRead = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("BOTWIRE_MCP_LOG_LEVEL"); v != "" {
		config.MCPServer.LogLevel = v
	}
}

// applyDefaults fills zero-valued fields after merging.
func applyDefaults(config *Config) {
	if config.MCPPath == "" {
		config.MCPPath = DefaultMCPPath
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.MaxHistory <= 0 {
		config.MaxHistory = DefaultMaxHistory
	}
	if config.DataDir == "" {
		config.DataDir = filepath.Join(dataHome(), "botwire")
	}
	if config.RenderDir == "" {
		config.RenderDir = filepath.Join(config.DataDir, "render")
	}
	if config.Defaults.WaitMs <= 0 {
		config.Defaults.WaitMs = DefaultWaitMs
	}
	if config.Defaults.UserID == "" {
		config.Defaults.UserID = "mcp-test-user"
	}
	if config.Defaults.Nickname == "" {
		config.Defaults.Nickname = "MCP Tester"
	}
	if config.MCPServer.ReadyTimeoutMs <= 0 {
		config.MCPServer.ReadyTimeoutMs = 1500
	}
	if config.MCPServer.Retries <= 0 {
		config.MCPServer.Retries = 3
	}
	if config.MCPServer.BackoffMs <= 0 {
		config.MCPServer.BackoffMs = 300
	}
	if config.MCPServer.LogLevel == "" {
		config.MCPServer.LogLevel = "INFO"
	}
}

// dataHome resolves the base data directory (XDG-style with HOME fallback).
func dataHome() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".local", "share")
	}
	return "."
}
