package cliconfig

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
)

// Context is one named server the CLI can talk to.
type Context struct {
	URL   string `yaml:"url"`
	User  string `yaml:"user,omitempty"`
	Token string `yaml:"token,omitempty"`
}

// Config is the CLI's context file, stored at ~/.hodei/config.
type Config struct {
	CurrentContext string             `yaml:"current-context"`
	Contexts       map[string]Context `yaml:"contexts"`

	path string
}

// DefaultPath resolves ~/.hodei/config.
func DefaultPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".hodei", "config"), nil
}

// Load reads the context file at path, or returns an empty config if
// the file does not exist yet.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Contexts: make(map[string]Context),
		path:     path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errdefs.Wrap(errdefs.KindValidationFailed, "invalid context file", err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]Context)
	}
	return cfg, nil
}

// Save writes the config back to its file. Tokens live in this file,
// so it is created 0600 under a 0700 directory.
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o600)
}

// Current returns the active context.
func (c *Config) Current() (Context, error) {
	if c.CurrentContext == "" {
		return Context{}, errdefs.New(errdefs.KindNotFound, "no current context, run 'hodei context use'")
	}
	ctx, ok := c.Contexts[c.CurrentContext]
	if !ok {
		return Context{}, errdefs.Newf(errdefs.KindNotFound, "current context %q does not exist", c.CurrentContext)
	}
	return ctx, nil
}

// Set adds or replaces a named context. The first context added
// becomes current.
func (c *Config) Set(name string, ctx Context) {
	c.Contexts[name] = ctx
	if c.CurrentContext == "" {
		c.CurrentContext = name
	}
}

// Use switches the current context.
func (c *Config) Use(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return errdefs.Newf(errdefs.KindNotFound, "context %q does not exist", name)
	}
	c.CurrentContext = name
	return nil
}

// Delete removes a context. Deleting the current context clears the
// selection.
func (c *Config) Delete(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return errdefs.Newf(errdefs.KindNotFound, "context %q does not exist", name)
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return nil
}
