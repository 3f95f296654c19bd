package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Site        Site        `yaml:"site"`
	Credentials Credentials `yaml:"credentials"`
	Fetch       Fetch       `yaml:"fetch"`
	Session     Session     `yaml:"session"`
	Rules       Rules       `yaml:"rules"`
	Digest      Digest      `yaml:"digest"`
	Output      Output      `yaml:"output"`
	Server      Server      `yaml:"server"`
	Logging     Logging     `yaml:"logging"`
}

type Site struct {
	BaseURL   string    `yaml:"base_url"`
	LoginPath string    `yaml:"login_path"`
	ProbePath string    `yaml:"probe_path"`
	UserAgent string    `yaml:"user_agent"`
	Sections  []Section `yaml:"sections"`
}

type Section struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
	// FeedPath, when set, lists the section from its RSS feed instead
	// of scraping the section page.
	FeedPath string `yaml:"feed_path"`
}

// Credentials names the environment variables the login credential is
// read from. The secret itself never appears in the config file.
type Credentials struct {
	UsernameEnv    string `yaml:"username_env"`
	InstitutionEnv string `yaml:"institution_env"`
	SecretEnv      string `yaml:"secret_env"`
}

// Resolve reads the credential parts from the environment.
func (c Credentials) Resolve() (username, institution, secret string, err error) {
	username = os.Getenv(c.UsernameEnv)
	institution = os.Getenv(c.InstitutionEnv)
	secret = os.Getenv(c.SecretEnv)
	if username == "" || secret == "" {
		return "", "", "", fmt.Errorf(
			"credentials not set; export %s and %s (and %s for institutional access)",
			c.UsernameEnv, c.SecretEnv, c.InstitutionEnv,
		)
	}
	return username, institution, secret, nil
}

type Fetch struct {
	RequestTimeout Duration `yaml:"request_timeout"`
	ReadyTimeout   Duration `yaml:"ready_timeout"`
	PollInterval   Duration `yaml:"poll_interval"`
	MaxConcurrent  int      `yaml:"max_concurrent"`
}

type Session struct {
	MaxRetries   int      `yaml:"max_retries"`
	ValidFor     Duration `yaml:"valid_for"`
	LoginTimeout Duration `yaml:"login_timeout"`
}

type Rules struct {
	// Path points at a rules YAML file; empty uses the built-in set.
	Path string `yaml:"path"`
}

type Digest struct {
	TopCount int `yaml:"top_count"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// Duration wraps time.Duration so YAML values like "20s" parse directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ConfigDir returns the XDG config directory for ftdigest.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "ftdigest")
}

// DataDir returns the XDG data directory for ftdigest.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "ftdigest")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/ftdigest/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'ftdigest init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Site: Site{
			BaseURL:   "https://www.ft.com",
			LoginPath: "/login",
			ProbePath: "/myft",
		},
		Credentials: Credentials{
			UsernameEnv:    "FT_USERNAME",
			InstitutionEnv: "FT_UNI_ID",
			SecretEnv:      "FT_PASSWORD",
		},
		Fetch: Fetch{
			RequestTimeout: Duration(30 * time.Second),
			ReadyTimeout:   Duration(20 * time.Second),
			PollInterval:   Duration(2 * time.Second),
			MaxConcurrent:  3,
		},
		Session: Session{
			MaxRetries:   3,
			ValidFor:     Duration(time.Hour),
			LoginTimeout: Duration(2 * time.Minute),
		},
		Digest:  Digest{TopCount: 5},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Site.BaseURL == "" {
		return nil, fmt.Errorf("site.base_url must not be empty")
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
