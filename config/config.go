// Package config loads .coder/config.yaml and the secrets coder reads from
// the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config location relative to the repository root.
const DefaultPath = ".coder/config.yaml"

// Config is the full coder configuration.
type Config struct {
	API       APIConfig                 `yaml:"api"`
	SCM       SCMConfig                 `yaml:"scm"`
	Agent     AgentConfig               `yaml:"agent"`
	Languages map[string]LanguageConfig `yaml:"languages" validate:"dive"`
	Logging   LoggingConfig             `yaml:"logging"`

	// Secrets come from the environment only and are never written to disk.
	Secrets Secrets `yaml:"-"`
}

// APIConfig configures the inference service.
type APIConfig struct {
	Endpoint       string        `yaml:"endpoint" validate:"required,url"`
	Backend        string        `yaml:"backend" validate:"oneof=gateway gollm"`
	MaxRetries     int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gte=0"`
}

// SCMConfig configures the issue tracker and source-control service.
type SCMConfig struct {
	Kind          string `yaml:"kind" validate:"oneof=github gitlab"`
	Owner         string `yaml:"owner" validate:"required"`
	Repo          string `yaml:"repo" validate:"required"`
	BaseURL       string `yaml:"base_url,omitempty" validate:"omitempty,url"`
	BaseBranch    string `yaml:"base_branch" validate:"required"`
	Remote        string `yaml:"remote" validate:"required"`
	IssueTemplate string `yaml:"issue_template,omitempty"`
}

// AgentConfig configures the agent loop.
type AgentConfig struct {
	Model            string `yaml:"model" validate:"required"`
	Provider         string `yaml:"provider"`
	MaxTokens        *int   `yaml:"max_tokens,omitempty" validate:"omitempty,gte=0"`
	PinSystemMessage bool   `yaml:"pin_system_message"`

	SessionTimeout time.Duration `yaml:"session_timeout" validate:"gte=0"`
	IterationDelay time.Duration `yaml:"iteration_delay" validate:"gte=0"`
	MaxIterations  int           `yaml:"max_iterations" validate:"gte=0"`

	LoopDetection       bool `yaml:"loop_detection"`
	LoopDetectionWindow int  `yaml:"loop_detection_window" validate:"gte=2"`

	Language string `yaml:"language" validate:"required"`
}

// LanguageConfig holds the command lines for one language profile.
type LanguageConfig struct {
	Lint    string `yaml:"lint"`
	Analyse string `yaml:"analyse"`
	Test    string `yaml:"test"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// Secrets are read once from the environment.
type Secrets struct {
	GitHubToken   string `env:"GITHUB_TOKEN"`
	GitLabToken   string `env:"GITLAB_TOKEN"`
	GatewayAPIKey string `env:"INFERENCE_GATEWAY_API_KEY"`
}

// Default returns the configuration used for any field the file omits.
func Default() Config {
	return Config{
		API: APIConfig{
			Endpoint:       "http://localhost:8080",
			Backend:        "gateway",
			RequestTimeout: 2 * time.Minute,
		},
		SCM: SCMConfig{
			Kind:       "github",
			BaseBranch: "main",
			Remote:     "origin",
		},
		Agent: AgentConfig{
			Model:               "deepseek-r1-distill-llama-70b",
			Provider:            "groq",
			PinSystemMessage:    true,
			SessionTimeout:      30 * time.Minute,
			IterationDelay:      5 * time.Second,
			LoopDetection:       true,
			LoopDetectionWindow: 6,
			Language:            "go",
		},
		Languages: map[string]LanguageConfig{
			"go": {
				Lint:    "golangci-lint run",
				Analyse: "go vet ./...",
				Test:    "go test ./...",
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads the file at path over the defaults, reads secrets from the
// environment, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config %s not found, run `coder init`", path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, reads secrets from the environment,
// and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := env.Parse(&cfg.Secrets); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field references.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, ok := c.Languages[c.Agent.Language]; !ok {
		return fmt.Errorf("invalid config: agent.language %q has no entry under languages", c.Agent.Language)
	}
	return nil
}

// ActiveLanguage returns the commands for agent.language.
func (c *Config) ActiveLanguage() LanguageConfig {
	return c.Languages[c.Agent.Language]
}

// SCMToken returns the token for the configured scm.kind.
func (c *Config) SCMToken() (string, error) {
	var name, token string
	switch c.SCM.Kind {
	case "gitlab":
		name, token = "GITLAB_TOKEN", c.Secrets.GitLabToken
	default:
		name, token = "GITHUB_TOKEN", c.Secrets.GitHubToken
	}
	if token == "" {
		return "", fmt.Errorf("%s is not set", name)
	}
	return token, nil
}

// Init writes DefaultTemplate to path. An existing file is only replaced
// when force is set.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(DefaultTemplate), 0o644)
}
