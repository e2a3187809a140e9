// Package config loads stratum's settings.
//
// Settings are resolved in order, each source overriding the previous:
//
//  1. Built-in defaults
//  2. <root>/.stratum/config.toml
//  3. STRATUM_* environment variables
//  4. Command-line flags
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"

	"github.com/dshills/stratum/internal/layer"
	"github.com/dshills/stratum/internal/logging"
)

const (
	// DirName is the per-workspace directory holding config and state.
	DirName = ".stratum"
	// FileName is the config file inside DirName.
	FileName = "config.toml"
)

// Retry bounds the commit retry loop.
type Retry struct {
	MaxAttempts     int
	InitialInterval time.Duration
}

// Config holds every setting.
type Config struct {
	// Root is the workspace directory files are materialized into.
	Root string
	// StateDir holds transaction logs and the staging index.
	StateDir string
	// RepoDir is the git repository holding layer refs.
	RepoDir string

	Mode    string
	Scope   string
	Project string

	Author      string
	AuthorEmail string

	LogLevel string
	Retry    Retry
}

// Default returns the built-in settings for root.
func Default(root string) *Config {
	return &Config{
		Root:        root,
		StateDir:    filepath.Join(root, DirName, "state"),
		RepoDir:     filepath.Join(root, DirName, "repo"),
		Author:      "stratum",
		AuthorEmail: "stratum@localhost",
		LogLevel:    "warn",
		Retry: Retry{
			MaxAttempts:     5,
			InitialInterval: 50 * time.Millisecond,
		},
	}
}

// Path returns the config file location for root.
func Path(root string) string {
	return filepath.Join(root, DirName, FileName)
}

// Load resolves defaults, the config file under root and the environment.
// Flags are applied afterwards with Override.
func Load(fs afero.Fs, root string) (*Config, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	cfg := Default(abs)

	if err := cfg.loadFile(fs, Path(abs)); err != nil {
		return nil, err
	}
	if err := NewEnvLoader(EnvPrefix).Apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fileConfig is the on-disk layout of config.toml.
type fileConfig struct {
	StateDir string `toml:"state_dir"`
	RepoDir  string `toml:"repo_dir"`

	Context struct {
		Mode    string `toml:"mode"`
		Scope   string `toml:"scope"`
		Project string `toml:"project"`
	} `toml:"context"`

	Author struct {
		Name  string `toml:"name"`
		Email string `toml:"email"`
	} `toml:"author"`

	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`

	Retry struct {
		MaxAttempts     int    `toml:"max_attempts"`
		InitialInterval string `toml:"initial_interval"`
	} `toml:"retry"`
}

func (c *Config) loadFile(fs afero.Fs, path string) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var fc fileConfig
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		perr := &ParseError{Path: path, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			perr.Message = serr.String()
		}
		return perr
	}

	for _, s := range []struct{ key, raw string }{
		{"state_dir", fc.StateDir},
		{"repo_dir", fc.RepoDir},
		{"context.mode", fc.Context.Mode},
		{"context.scope", fc.Context.Scope},
		{"context.project", fc.Context.Project},
		{"author.name", fc.Author.Name},
		{"author.email", fc.Author.Email},
		{"log.level", fc.Log.Level},
		{"retry.initial_interval", fc.Retry.InitialInterval},
	} {
		if s.raw == "" {
			continue
		}
		if err := c.Set(s.key, s.raw); err != nil {
			return &SettingError{Source: path, Setting: s.key, Value: s.raw, Err: err}
		}
	}
	if fc.Retry.MaxAttempts != 0 {
		c.Retry.MaxAttempts = fc.Retry.MaxAttempts
	}
	return nil
}

// Set assigns one setting from its text form. Relative directories are
// taken relative to Root.
func (c *Config) Set(key, raw string) error {
	switch key {
	case "state_dir":
		c.StateDir = c.abs(raw)
	case "repo_dir":
		c.RepoDir = c.abs(raw)
	case "context.mode":
		c.Mode = raw
	case "context.scope":
		c.Scope = raw
	case "context.project":
		c.Project = raw
	case "author.name":
		c.Author = raw
	case "author.email":
		c.AuthorEmail = raw
	case "log.level":
		c.LogLevel = strings.ToLower(strings.TrimSpace(raw))
	case "retry.max_attempts":
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("not an integer: %w", err)
		}
		c.Retry.MaxAttempts = n
	case "retry.initial_interval":
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return err
		}
		c.Retry.InitialInterval = d
	default:
		return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	return nil
}

func (c *Config) abs(dir string) string {
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(c.Root, dir)
}

// Overrides holds flag values. Empty fields leave the setting unchanged.
type Overrides struct {
	Mode     string
	Scope    string
	Project  string
	LogLevel string
}

// Override applies flag values.
func (c *Config) Override(o Overrides) {
	if o.Mode != "" {
		c.Mode = o.Mode
	}
	if o.Scope != "" {
		c.Scope = o.Scope
	}
	if o.Project != "" {
		c.Project = o.Project
	}
	if o.LogLevel != "" {
		c.LogLevel = strings.ToLower(o.LogLevel)
	}
}

// Context returns the active layer context.
func (c *Config) Context() layer.Context {
	return layer.Context{Mode: c.Mode, Scope: c.Scope, Project: c.Project}
}

// Level returns the configured log level.
func (c *Config) Level() logging.Level {
	return logging.ParseLevel(c.LogLevel)
}

// Validate checks every setting.
func (c *Config) Validate() error {
	if err := c.Context().Validate(); err != nil {
		return err
	}
	if c.Root == "" || c.StateDir == "" || c.RepoDir == "" {
		return fmt.Errorf("%w: root, state and repo directories are required", ErrInvalidConfig)
	}
	if c.Author == "" || c.AuthorEmail == "" {
		return fmt.Errorf("%w: author name and email are required", ErrInvalidConfig)
	}
	switch c.LogLevel {
	case "debug", "trace", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.LogLevel)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: retry.max_attempts must be at least 1", ErrInvalidConfig)
	}
	if c.Retry.InitialInterval <= 0 {
		return fmt.Errorf("%w: retry.initial_interval must be positive", ErrInvalidConfig)
	}
	return nil
}
