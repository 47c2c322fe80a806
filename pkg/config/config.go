package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names understood by the CLI, in the order DefaultProvider tries them.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
	ProviderBedrock    = "bedrock"
)

var providerOrder = []string{ProviderOpenAI, ProviderOpenRouter, ProviderAnthropic, ProviderBedrock}

// Agent names with sampling sections.
const (
	AgentPlanner     = "planner"
	AgentSupervisor  = "supervisor"
	AgentRoleCreator = "role_creator"
)

// DefaultFiles are searched in order when no config path is given.
var DefaultFiles = []string{"config.json", "config.yaml", "config.yml"}

type Config struct {
	App       AppConfig                 `json:"app" yaml:"app"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Agents    map[string]AgentConfig    `json:"agents" yaml:"agents"`
	Memory    MemoryConfig              `json:"memory" yaml:"memory"`
	Gateways  map[string]GatewayConfig  `json:"gateways" yaml:"gateways"`
	Policy    PolicyConfig              `json:"policy" yaml:"policy"`
}

type AppConfig struct {
	Name       string `json:"name" yaml:"name"`
	Workspace  string `json:"workspace" yaml:"workspace"`
	TodoPath   string `json:"todo_path" yaml:"todo_path"`
	LogDir     string `json:"log_dir" yaml:"log_dir"`
	LogKeep    int    `json:"log_keep" yaml:"log_keep"`
	PromptsDir string `json:"prompts_dir,omitempty" yaml:"prompts_dir,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Enabled bool   `json:"enabled" yaml:"enabled"`

	// Bedrock only. Empty keys fall back to the AWS default credential chain.
	Region          string `json:"region,omitempty" yaml:"region,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`
	SessionToken    string `json:"session_token,omitempty" yaml:"session_token,omitempty"`
}

// AgentConfig holds sampling parameters for one role. A nil Temperature means
// the role default.
type AgentConfig struct {
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	UseTools    bool     `json:"use_tools" yaml:"use_tools"`
}

type MemoryConfig struct {
	Type string `json:"type" yaml:"type"`
	Path string `json:"path" yaml:"path"`
}

type GatewayConfig struct {
	Token     string `json:"token" yaml:"token"`
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	ChatID    string `json:"chat_id,omitempty" yaml:"chat_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty" yaml:"channel_id,omitempty"`
}

type PolicyConfig struct {
	AssetURIPattern string   `json:"asset_uri_pattern" yaml:"asset_uri_pattern"`
	DenyPatterns    []string `json:"deny_patterns" yaml:"deny_patterns"`
}

// Sampling is a resolved AgentConfig.
type Sampling struct {
	Temperature float64
	MaxTokens   int
	UseTools    bool
}

var defaultSampling = map[string]Sampling{
	AgentPlanner:     {Temperature: 0.7, MaxTokens: 8192},
	AgentSupervisor:  {Temperature: 0.3, MaxTokens: 16384},
	AgentRoleCreator: {Temperature: 0.1, MaxTokens: 8192},
}

// Find returns the first of DefaultFiles present in dir.
func Find(dir string) (string, error) {
	for _, name := range DefaultFiles {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found in %s (tried %s)", dir, strings.Join(DefaultFiles, ", "))
}

// LoadEnv loads a .env file into the process environment. A missing file is
// not an error.
func LoadEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadConfig reads a JSON or YAML config file, chosen by extension, and fills
// in defaults. Empty secrets are taken from the environment.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv(os.Getenv)
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "charforge"
	}
	if c.App.Workspace == "" {
		c.App.Workspace = "workspace"
	}
	if c.App.TodoPath == "" {
		c.App.TodoPath = filepath.Join(c.App.Workspace, "todo.json")
	}
	if c.App.LogDir == "" {
		c.App.LogDir = "logs"
	}
	if c.App.LogKeep <= 0 {
		c.App.LogKeep = 3
	}
	if c.Memory.Type == "" {
		c.Memory.Type = "sqlite"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = filepath.Join(c.App.Workspace, "history.db")
	}
}

// applyEnv fills empty secrets from <NAME>_API_KEY, <NAME>_BOT_TOKEN and the
// standard AWS variables.
func (c *Config) applyEnv(getenv func(string) string) {
	for name, p := range c.Providers {
		if p.APIKey == "" {
			p.APIKey = getenv(strings.ToUpper(name) + "_API_KEY")
		}
		if name == ProviderBedrock {
			if p.Region == "" {
				p.Region = getenv("AWS_REGION")
			}
			if p.AccessKeyID == "" {
				p.AccessKeyID = getenv("AWS_ACCESS_KEY_ID")
				p.SecretAccessKey = getenv("AWS_SECRET_ACCESS_KEY")
				p.SessionToken = getenv("AWS_SESSION_TOKEN")
			}
		}
		c.Providers[name] = p
	}
	for name, g := range c.Gateways {
		if g.Token == "" {
			g.Token = getenv(strings.ToUpper(name) + "_BOT_TOKEN")
		}
		c.Gateways[name] = g
	}
}

// DefaultProvider returns the first enabled provider. Known providers are
// tried in a fixed order, then any others by name.
func (c *Config) DefaultProvider() (string, ProviderConfig) {
	for _, name := range c.providerNames() {
		if p := c.Providers[name]; p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

func (c *Config) providerNames() []string {
	var names []string
	for _, n := range providerOrder {
		if _, ok := c.Providers[n]; ok {
			names = append(names, n)
		}
	}
	var rest []string
	for n := range c.Providers {
		if !slices.Contains(providerOrder, n) {
			rest = append(rest, n)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// Sampling returns the sampling parameters for each role, configured values
// over the role defaults.
func (c *Config) Sampling() map[string]Sampling {
	out := make(map[string]Sampling, len(defaultSampling))
	for name, def := range defaultSampling {
		s := def
		if a, ok := c.Agents[name]; ok {
			if a.Temperature != nil {
				s.Temperature = *a.Temperature
			}
			if a.MaxTokens > 0 {
				s.MaxTokens = a.MaxTokens
			}
			s.UseTools = a.UseTools
		}
		out[name] = s
	}
	return out
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	return c.gateway("telegram")
}

// GetDiscordConfig returns discord config if enabled
func (c *Config) GetDiscordConfig() (GatewayConfig, bool) {
	return c.gateway("discord")
}

func (c *Config) gateway(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled && g.Token != "" {
		return g, true
	}
	return GatewayConfig{}, false
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	name, p := c.DefaultProvider()
	switch {
	case name == "":
		errs = append(errs, errors.New("no enabled provider"))
	case !slices.Contains(providerOrder, name):
		errs = append(errs, fmt.Errorf("provider %q is not supported", name))
	case p.Model == "":
		errs = append(errs, fmt.Errorf("provider %s: model is required", name))
	case name == ProviderBedrock && p.Region == "":
		errs = append(errs, errors.New("provider bedrock: region is required"))
	case name != ProviderBedrock && p.APIKey == "":
		errs = append(errs, fmt.Errorf("provider %s: api_key is required", name))
	}

	for agentName, a := range c.Agents {
		if _, ok := defaultSampling[agentName]; !ok {
			errs = append(errs, fmt.Errorf("agents: unknown agent %q", agentName))
			continue
		}
		if a.Temperature != nil && (*a.Temperature < 0 || *a.Temperature > 2) {
			errs = append(errs, fmt.Errorf("agents.%s: temperature %v out of range [0, 2]", agentName, *a.Temperature))
		}
		if a.MaxTokens < 0 {
			errs = append(errs, fmt.Errorf("agents.%s: max_tokens must not be negative", agentName))
		}
	}

	if g, ok := c.Gateways["telegram"]; ok && g.Enabled && g.Token == "" {
		errs = append(errs, errors.New("gateways.telegram: token is required when enabled"))
	}
	if g, ok := c.Gateways["discord"]; ok && g.Enabled {
		if g.Token == "" {
			errs = append(errs, errors.New("gateways.discord: token is required when enabled"))
		}
		if g.ChannelID == "" {
			errs = append(errs, errors.New("gateways.discord: channel_id is required when enabled"))
		}
	}

	if c.Policy.AssetURIPattern != "" {
		if _, err := regexp.Compile(c.Policy.AssetURIPattern); err != nil {
			errs = append(errs, fmt.Errorf("policy.asset_uri_pattern: %w", err))
		}
	}
	for _, pat := range c.Policy.DenyPatterns {
		if _, err := regexp.Compile(pat); err != nil {
			errs = append(errs, fmt.Errorf("policy.deny_patterns: %w", err))
		}
	}

	return errors.Join(errs...)
}
