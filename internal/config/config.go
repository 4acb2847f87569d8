package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/schaermu/posyncd/internal/layout"
)

// DatabaseType selects the SQL dialect used for the translation projection
type DatabaseType string

const (
	DatabaseSQLite    DatabaseType = "sqlite"
	DatabasePostgres  DatabaseType = "postgres"
	DatabaseMySQL     DatabaseType = "mysql"
	DatabaseSQLServer DatabaseType = "sqlserver"
)

const (
	defaultCommitMessage = "Translated using posyncd"
	defaultGenerator     = "posyncd"
	defaultWorkers       = 4
	defaultMetricsPath   = "/metrics"
)

// Config represents the complete posyncd configuration
type Config struct {
	Paths     PathsConfig      `yaml:"paths"`
	Database  DatabaseConfig   `yaml:"database"`
	Commit    CommitConfig     `yaml:"commit"`
	Auth      AuthConfig       `yaml:"auth"`
	Notify    NotifyConfig     `yaml:"notify"`
	Sync      SyncConfig       `yaml:"sync"`
	Serve     ServeConfig      `yaml:"serve"`
	Languages []LanguageConfig `yaml:"languages"`
	Projects  []ProjectConfig  `yaml:"projects"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	GitRoot string `yaml:"git_root"`
}

// DatabaseConfig configures the relational projection
type DatabaseConfig struct {
	Type         DatabaseType `yaml:"type"`
	DSN          string       `yaml:"dsn"`
	Host         string       `yaml:"host"`
	Port         string       `yaml:"port"`
	Name         string       `yaml:"name"`
	User         string       `yaml:"user"`
	PasswordFile string       `yaml:"password_file"`
	MaxOpenConns int          `yaml:"max_open_conns"`
}

// CommitConfig configures commits created for translator edits
type CommitConfig struct {
	Message   string `yaml:"message"`
	Generator string `yaml:"generator"`
}

// AuthConfig configures Git authentication
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// NotifyConfig configures operator notifications (failed merges)
type NotifyConfig struct {
	SMTPHost     string   `yaml:"smtp_host"`
	SMTPPort     int      `yaml:"smtp_port"`
	From         string   `yaml:"from"`
	Admins       []string `yaml:"admins"`
	Username     string   `yaml:"username"`
	PasswordFile string   `yaml:"password_file"`
}

// SyncConfig configures sync behavior
type SyncConfig struct {
	Force   bool `yaml:"force"`
	Workers int  `yaml:"workers"`
}

// ServeConfig configures the webhook server
type ServeConfig struct {
	Enabled                 bool     `yaml:"enabled"`
	ListenAddr              string   `yaml:"listen_addr"`
	GitHubWebhookSecretFile string   `yaml:"github_webhook_secret_file"`
	AllowedEventTypes       []string `yaml:"allowed_event_types"`
	MetricsPath             string   `yaml:"metrics_path"`
}

// LanguageConfig overrides built-in language metadata
type LanguageConfig struct {
	Code     string `yaml:"code"`
	Name     string `yaml:"name"`
	NPlurals int    `yaml:"nplurals"`
	Plural   string `yaml:"plural"`
}

// ProjectConfig declares a translation project
type ProjectConfig struct {
	Name         string            `yaml:"name"`
	Slug         string            `yaml:"slug"`
	Web          string            `yaml:"web"`
	Mail         string            `yaml:"mail"`
	Instructions string            `yaml:"instructions"`
	Components   []ComponentConfig `yaml:"components"`
}

// ComponentConfig declares a translatable unit backed by one repository
type ComponentConfig struct {
	Name     string `yaml:"name"`
	Slug     string `yaml:"slug"`
	Repo     string `yaml:"repo"`
	Branch   string `yaml:"branch"`
	FileMask string `yaml:"filemask"`
	RepoWeb  string `yaml:"repoweb"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadEnvFile loads a dotenv file into the process environment. An empty
// path loads ".env" next to the config file when one exists.
func LoadEnvFile(envPath, configPath string) (string, error) {
	if envPath == "" {
		candidate := filepath.Join(filepath.Dir(os.ExpandEnv(configPath)), ".env")
		if _, err := os.Stat(candidate); err != nil {
			return "", nil
		}
		envPath = candidate
	}
	if err := godotenv.Load(envPath); err != nil {
		return "", fmt.Errorf("failed to load env file %s: %w", envPath, err)
	}
	return envPath, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Paths.GitRoot = os.ExpandEnv(c.Paths.GitRoot)
	c.Database.DSN = os.ExpandEnv(c.Database.DSN)
	c.Database.Host = os.ExpandEnv(c.Database.Host)
	c.Database.Port = os.ExpandEnv(c.Database.Port)
	c.Database.Name = os.ExpandEnv(c.Database.Name)
	c.Database.User = os.ExpandEnv(c.Database.User)
	c.Database.PasswordFile = os.ExpandEnv(c.Database.PasswordFile)
	c.Auth.SSHKeyFile = os.ExpandEnv(c.Auth.SSHKeyFile)
	c.Auth.HTTPSTokenFile = os.ExpandEnv(c.Auth.HTTPSTokenFile)
	c.Notify.SMTPHost = os.ExpandEnv(c.Notify.SMTPHost)
	c.Notify.Username = os.ExpandEnv(c.Notify.Username)
	c.Notify.PasswordFile = os.ExpandEnv(c.Notify.PasswordFile)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = os.ExpandEnv(c.Serve.GitHubWebhookSecretFile)
	for i := range c.Projects {
		for j := range c.Projects[i].Components {
			comp := &c.Projects[i].Components[j]
			comp.Repo = os.ExpandEnv(comp.Repo)
		}
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Database.Type == "" {
		c.Database.Type = DatabaseSQLite
	}
	if c.Database.Type == DatabaseSQLite && c.Database.DSN == "" && c.Paths.GitRoot != "" {
		c.Database.DSN = filepath.Join(c.Paths.GitRoot, "posyncd.db")
	}
	if c.Commit.Message == "" {
		c.Commit.Message = defaultCommitMessage
	}
	if c.Commit.Generator == "" {
		c.Commit.Generator = defaultGenerator
	}
	if c.Sync.Workers <= 0 {
		c.Sync.Workers = defaultWorkers
	}
	if c.Notify.SMTPPort == 0 {
		c.Notify.SMTPPort = 25
	}
	if c.Serve.MetricsPath == "" {
		c.Serve.MetricsPath = defaultMetricsPath
	}
	for i := range c.Projects {
		for j := range c.Projects[i].Components {
			if c.Projects[i].Components[j].Branch == "" {
				c.Projects[i].Components[j].Branch = "main"
			}
		}
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate paths
	if c.Paths.GitRoot == "" {
		return fmt.Errorf("paths.git_root is required")
	}
	if !filepath.IsAbs(c.Paths.GitRoot) {
		return fmt.Errorf("paths.git_root must be an absolute path: %s", c.Paths.GitRoot)
	}

	// Validate database
	switch c.Database.Type {
	case DatabaseSQLite:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for sqlite")
		}
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLServer:
		if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.Name == "") {
			return fmt.Errorf("database.dsn or database.host and database.name are required for %s", c.Database.Type)
		}
	default:
		return fmt.Errorf("invalid database.type: %s (must be sqlite, postgres, mysql, or sqlserver)", c.Database.Type)
	}

	// Validate auth: only one auth method may be configured
	if c.Auth.SSHKeyFile != "" && c.Auth.HTTPSTokenFile != "" {
		return fmt.Errorf("auth: only one of ssh_key_file or https_token_file may be set")
	}

	// Validate notify
	if len(c.Notify.Admins) > 0 && c.Notify.SMTPHost == "" {
		return fmt.Errorf("notify.smtp_host is required when notify.admins is set")
	}

	// Validate serve config if enabled
	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.GitHubWebhookSecretFile == "" {
			return fmt.Errorf("serve.github_webhook_secret_file is required when serve is enabled")
		}
	}

	for _, lang := range c.Languages {
		if lang.Code == "" {
			return fmt.Errorf("languages: code is required")
		}
		if lang.NPlurals < 0 {
			return fmt.Errorf("languages.%s: nplurals must not be negative", lang.Code)
		}
	}

	return c.validateProjects()
}

func (c *Config) validateProjects() error {
	projects := make(map[string]bool)
	for _, p := range c.Projects {
		if p.Slug == "" {
			return fmt.Errorf("projects: slug is required (project %q)", p.Name)
		}
		if !isSlug(p.Slug) {
			return fmt.Errorf("projects.%s: slug may only contain letters, digits, '-' and '_'", p.Slug)
		}
		if projects[p.Slug] {
			return fmt.Errorf("projects.%s: duplicate slug", p.Slug)
		}
		projects[p.Slug] = true

		components := make(map[string]bool)
		for _, comp := range p.Components {
			where := fmt.Sprintf("projects.%s.components.%s", p.Slug, comp.Slug)
			if comp.Slug == "" {
				return fmt.Errorf("projects.%s.components: slug is required (component %q)", p.Slug, comp.Name)
			}
			if !isSlug(comp.Slug) {
				return fmt.Errorf("%s: slug may only contain letters, digits, '-' and '_'", where)
			}
			if components[comp.Slug] {
				return fmt.Errorf("%s: duplicate slug", where)
			}
			components[comp.Slug] = true

			if comp.Repo == "" {
				return fmt.Errorf("%s: repo is required", where)
			}
			if err := layout.ValidateMask(comp.FileMask); err != nil {
				return fmt.Errorf("%s: %w", where, err)
			}
			if comp.RepoWeb != "" {
				if err := layout.ValidateLinkTemplate(comp.RepoWeb); err != nil {
					return fmt.Errorf("%s: %w", where, err)
				}
			}
		}
	}
	return nil
}

// DatabasePassword reads the database password file, if configured
func (c *Config) DatabasePassword() (string, error) {
	return readSecret(c.Database.PasswordFile)
}

// SMTPPassword reads the SMTP password file, if configured
func (c *Config) SMTPPassword() (string, error) {
	return readSecret(c.Notify.PasswordFile)
}

// AuthMethod returns a description of the configured auth method
func (c *Config) AuthMethod() string {
	if c.Auth.SSHKeyFile != "" {
		return "ssh"
	}
	if c.Auth.HTTPSTokenFile != "" {
		return "https"
	}
	return "none"
}

// Project looks up a declared project by slug
func (c *Config) Project(slug string) (ProjectConfig, bool) {
	for _, p := range c.Projects {
		if p.Slug == slug {
			return p, true
		}
	}
	return ProjectConfig{}, false
}

func readSecret(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func isSlug(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return s != ""
}
