// Package config builds the explicit configuration values handed to every
// component. Only this package reads the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cexll/swe-action/internal/github/branch"
)

// DefaultCallTimeout bounds each GitHub round trip.
const DefaultCallTimeout = 30 * time.Second

// Credentials select how the pipeline authenticates: a pre-issued token, or a
// GitHub App exchanging its JWT for an installation token.
type Credentials struct {
	Token            string
	GitHubAppID      string
	GitHubPrivateKey string
}

// UsesApp reports whether App credentials are configured.
func (c Credentials) UsesApp() bool {
	return c.GitHubAppID != "" && c.GitHubPrivateKey != ""
}

func (c Credentials) validate() error {
	if c.Token != "" || c.UsesApp() {
		return nil
	}
	if c.GitHubAppID != "" {
		return fmt.Errorf("GITHUB_PRIVATE_KEY is required with GITHUB_APP_ID")
	}
	if c.GitHubPrivateKey != "" {
		return fmt.Errorf("GITHUB_APP_ID is required with GITHUB_PRIVATE_KEY")
	}
	return fmt.Errorf("GITHUB_TOKEN or GITHUB_APP_ID/GITHUB_PRIVATE_KEY is required")
}

// Pipeline holds settings shared by every entry point that runs the trigger pipeline.
type Pipeline struct {
	APIURL    string
	ServerURL string

	TriggerPhrase   string
	AssigneeTrigger string
	LabelTrigger    string

	BaseBranch   string
	BranchPrefix string

	MCPServerCommand string
	AllowedTools     []string
	DisallowedTools  []string

	CallTimeout time.Duration
}

// Config is the CI-runner configuration of swe-prepare.
type Config struct {
	Credentials
	Pipeline

	Repository string
	EventName  string
	EventPath  string
	RunID      string
	Workspace  string

	// ContextOutputPath, when set, receives the fetched data snapshot as JSON.
	ContextOutputPath string
}

// ToolServerConfig is fixed for the lifetime of the MCP tool server.
type ToolServerConfig struct {
	Token       string
	Owner       string
	Repo        string
	Branch      string
	RepoDir     string
	APIURL      string
	CallTimeout time.Duration
}

// WebhookConfig configures the webhook receiver.
type WebhookConfig struct {
	Credentials
	Pipeline

	Port                int
	GitHubWebhookSecret string
	DedupeTTL           time.Duration

	DispatcherWorkers   int
	DispatcherQueueSize int
	JobTimeout          time.Duration
}

// Load reads the swe-prepare configuration from the runner environment.
func Load() (*Config, error) {
	cfg := &Config{
		Credentials:       loadCredentials(),
		Pipeline:          loadPipeline(),
		Repository:        os.Getenv("GITHUB_REPOSITORY"),
		EventName:         os.Getenv("GITHUB_EVENT_NAME"),
		EventPath:         os.Getenv("GITHUB_EVENT_PATH"),
		RunID:             os.Getenv("GITHUB_RUN_ID"),
		Workspace:         getEnv("GITHUB_WORKSPACE", "."),
		ContextOutputPath: os.Getenv("CONTEXT_OUTPUT_PATH"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if err := c.Credentials.validate(); err != nil {
		return err
	}
	if c.EventName == "" {
		return fmt.Errorf("GITHUB_EVENT_NAME is required")
	}
	if c.EventPath == "" {
		return fmt.Errorf("GITHUB_EVENT_PATH is required")
	}
	return c.Pipeline.validate()
}

// LoadToolServer reads the tool server configuration written into its
// environment by swe-prepare.
func LoadToolServer() (*ToolServerConfig, error) {
	cfg := &ToolServerConfig{
		Token:       os.Getenv("GITHUB_TOKEN"),
		Owner:       os.Getenv("REPO_OWNER"),
		Repo:        os.Getenv("REPO_NAME"),
		Branch:      os.Getenv("BRANCH_NAME"),
		RepoDir:     getEnv("REPO_DIR", "."),
		APIURL:      os.Getenv("GITHUB_API_URL"),
		CallTimeout: getEnvDuration("GITHUB_CALL_TIMEOUT", DefaultCallTimeout),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ToolServerConfig) validate() error {
	missing := []string{}
	if c.Token == "" {
		missing = append(missing, "GITHUB_TOKEN")
	}
	if c.Owner == "" {
		missing = append(missing, "REPO_OWNER")
	}
	if c.Repo == "" {
		missing = append(missing, "REPO_NAME")
	}
	if c.Branch == "" {
		missing = append(missing, "BRANCH_NAME")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment: %s", strings.Join(missing, ", "))
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("GITHUB_CALL_TIMEOUT must be greater than 0")
	}
	return nil
}

// LoadWebhook reads the webhook receiver configuration.
func LoadWebhook() (*WebhookConfig, error) {
	cfg := &WebhookConfig{
		Credentials:         loadCredentials(),
		Pipeline:            loadPipeline(),
		Port:                getEnvInt("PORT", 8000),
		GitHubWebhookSecret: os.Getenv("GITHUB_WEBHOOK_SECRET"),
		DedupeTTL:           getEnvDuration("WEBHOOK_DEDUPE_TTL", time.Hour),
		DispatcherWorkers:   getEnvInt("DISPATCHER_WORKERS", 4),
		DispatcherQueueSize: getEnvInt("DISPATCHER_QUEUE_SIZE", 16),
		JobTimeout:          getEnvDuration("WEBHOOK_JOB_TIMEOUT", 5*time.Minute),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *WebhookConfig) validate() error {
	if err := c.Credentials.validate(); err != nil {
		return err
	}
	if c.GitHubWebhookSecret == "" {
		return fmt.Errorf("GITHUB_WEBHOOK_SECRET is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if c.DedupeTTL <= 0 {
		return fmt.Errorf("WEBHOOK_DEDUPE_TTL must be greater than 0")
	}
	if c.DispatcherWorkers <= 0 {
		return fmt.Errorf("DISPATCHER_WORKERS must be greater than 0")
	}
	if c.DispatcherQueueSize <= 0 {
		return fmt.Errorf("DISPATCHER_QUEUE_SIZE must be greater than 0")
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("WEBHOOK_JOB_TIMEOUT must be greater than 0")
	}
	return c.Pipeline.validate()
}

func loadCredentials() Credentials {
	token := os.Getenv("OVERRIDE_GITHUB_TOKEN")
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	return Credentials{
		Token:            token,
		GitHubAppID:      os.Getenv("GITHUB_APP_ID"),
		GitHubPrivateKey: normalizePrivateKey(os.Getenv("GITHUB_PRIVATE_KEY")),
	}
}

func loadPipeline() Pipeline {
	return Pipeline{
		APIURL:           os.Getenv("GITHUB_API_URL"),
		ServerURL:        getEnv("GITHUB_SERVER_URL", "https://github.com"),
		TriggerPhrase:    getEnv("TRIGGER_PHRASE", "/code"),
		AssigneeTrigger:  os.Getenv("ASSIGNEE_TRIGGER"),
		LabelTrigger:     os.Getenv("LABEL_TRIGGER"),
		BaseBranch:       os.Getenv("BASE_BRANCH"),
		BranchPrefix:     getEnv("BRANCH_PREFIX", "swe/"),
		MCPServerCommand: getEnv("MCP_SERVER_COMMAND", "swe-mcp-github"),
		AllowedTools:     splitList(os.Getenv("ALLOWED_TOOLS")),
		DisallowedTools:  splitList(os.Getenv("DISALLOWED_TOOLS")),
		CallTimeout:      getEnvDuration("GITHUB_CALL_TIMEOUT", DefaultCallTimeout),
	}
}

func (p *Pipeline) validate() error {
	if strings.TrimSpace(p.TriggerPhrase) == "" {
		return fmt.Errorf("TRIGGER_PHRASE must not be blank")
	}
	if strings.TrimSpace(p.MCPServerCommand) == "" {
		return fmt.Errorf("MCP_SERVER_COMMAND must not be blank")
	}
	if p.CallTimeout <= 0 {
		return fmt.Errorf("GITHUB_CALL_TIMEOUT must be greater than 0")
	}
	if !branch.ValidPrefix(p.BranchPrefix) {
		return fmt.Errorf("BRANCH_PREFIX %q must be lowercase letters, digits, '-' or '/'", p.BranchPrefix)
	}
	return nil
}

func normalizePrivateKey(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	for _, quote := range []string{"\"", "'"} {
		if len(trimmed) >= 2 && strings.HasPrefix(trimmed, quote) && strings.HasSuffix(trimmed, quote) {
			trimmed = trimmed[1 : len(trimmed)-1]
		}
	}

	trimmed = strings.ReplaceAll(trimmed, "\r\n", "\n")
	trimmed = strings.ReplaceAll(trimmed, "\r", "\n")
	if strings.Contains(trimmed, "\\n") {
		trimmed = strings.ReplaceAll(trimmed, "\\r", "")
		trimmed = strings.ReplaceAll(trimmed, "\\n", "\n")
	}
	return trimmed
}

// getEnv gets environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets environment variable as int with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts a Go duration ("45s") or whole seconds ("45").
// Unparseable values are returned as -1 so validate rejects them.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return -1
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
