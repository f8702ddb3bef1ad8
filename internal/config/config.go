// Package config loads inventory settings from defaults, an optional YAML
// file and the environment, in that order. Command-line flags are applied
// on top by the caller.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"git.sr.ht/~jakintosh/inventory/pkg/credential"
	"git.sr.ht/~jakintosh/inventory/pkg/guard"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Listen       string            `yaml:"listen"`
	PublicURL    string            `yaml:"public_url"`
	LogLevel     string            `yaml:"log_level"`
	TemplatesDir string            `yaml:"templates_dir"`
	API          API               `yaml:"api"`
	IdP          credential.Config `yaml:"idp"`
	Session      Session           `yaml:"session"`
	Guard        Guard             `yaml:"guard"`
}

type API struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type Session struct {
	DBPath          string        `yaml:"db_path"`
	KeyFile         string        `yaml:"key_file"`
	Key             string        `yaml:"-"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	MinValidity     time.Duration `yaml:"min_validity"`
}

type Guard struct {
	Policy       guard.Policy  `yaml:"policy"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

func Default() Config {
	return Config{
		Listen:    "localhost:5173",
		PublicURL: "http://localhost:5173",
		LogLevel:  "info",
		API: API{
			URL:     "http://localhost:8080",
			Timeout: 10 * time.Second,
		},
		IdP: credential.Config{
			ProviderURL: "http://localhost:7080",
			Realm:       "project",
			ClientID:    "vue",
		},
		Session: Session{
			DBPath:          "inventory.db",
			KeyFile:         "session.key",
			RefreshInterval: credential.DefaultRefreshInterval,
			MinValidity:     credential.DefaultMinValidity,
		},
		Guard: Guard{
			Policy:       guard.FailOpen,
			ReadyTimeout: guard.DefaultReadyTimeout,
		},
	}
}

// Load reads defaults, then the YAML file at path (if path is non-empty),
// then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	// relative paths in the file are relative to the file
	dir := filepath.Dir(path)
	for _, p := range []*string{&c.Session.DBPath, &c.Session.KeyFile, &c.TemplatesDir} {
		if *p != "" && *p != ":memory:" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	return nil
}

// ApplyEnv overrides settings from INVENTORY_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("INVENTORY_API_URL", &c.API.URL)
	set("INVENTORY_IDP_URL", &c.IdP.ProviderURL)
	set("INVENTORY_IDP_REALM", &c.IdP.Realm)
	set("INVENTORY_IDP_CLIENT_ID", &c.IdP.ClientID)
	set("INVENTORY_LISTEN", &c.Listen)
	set("INVENTORY_PUBLIC_URL", &c.PublicURL)
	set("INVENTORY_DB_PATH", &c.Session.DBPath)
	set("INVENTORY_SESSION_KEY", &c.Session.Key)
	set("INVENTORY_TEMPLATES_DIR", &c.TemplatesDir)
	set("INVENTORY_LOG_LEVEL", &c.LogLevel)
}

func (c Config) Validate() error {
	var problems []string
	check := func(name string, raw string) {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, fmt.Sprintf("%s must be an http(s) url, got %q", name, raw))
		}
	}
	check("api.url", c.API.URL)
	check("idp.url", c.IdP.ProviderURL)
	check("public_url", c.PublicURL)

	if c.IdP.Realm == "" {
		problems = append(problems, "idp.realm is required")
	}
	if c.IdP.ClientID == "" {
		problems = append(problems, "idp.client_id is required")
	}
	if c.Listen == "" {
		problems = append(problems, "listen is required")
	}
	if c.Session.DBPath == "" {
		problems = append(problems, "session.db_path is required")
	}
	if c.Session.Key == "" && c.Session.KeyFile == "" {
		problems = append(problems, "session.key_file or INVENTORY_SESSION_KEY is required")
	}
	if c.API.Timeout <= 0 {
		problems = append(problems, "api.timeout must be positive")
	}
	if c.Guard.ReadyTimeout <= 0 {
		problems = append(problems, "guard.ready_timeout must be positive")
	}
	if c.Session.RefreshInterval <= 0 || c.Session.MinValidity <= 0 {
		problems = append(problems, "session refresh timings must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// CallbackURL is where the identity provider returns the browser.
func (c Config) CallbackURL() string {
	return strings.TrimRight(c.PublicURL, "/") + "/auth/callback"
}

// HomeURL is the public landing page.
func (c Config) HomeURL() string {
	return strings.TrimRight(c.PublicURL, "/") + "/"
}
