package config

import (
	"os"
	"sort"
	"strings"
)

// EnvPrefix is the prefix of every environment variable stratum reads.
const EnvPrefix = "STRATUM_"

// EnvLoader applies environment variables to a Config.
type EnvLoader struct {
	prefix  string
	mapping map[string]string // env var -> setting key
	lookup  func(string) (string, bool)
	environ func() []string
}

// NewEnvLoader creates a loader for variables starting with prefix.
// The prefix should include the trailing underscore.
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: defaultEnvMapping(prefix),
		lookup:  os.LookupEnv,
		environ: os.Environ,
	}
}

func defaultEnvMapping(prefix string) map[string]string {
	return map[string]string{
		prefix + "STATE_DIR":              "state_dir",
		prefix + "REPO_DIR":               "repo_dir",
		prefix + "MODE":                   "context.mode",
		prefix + "SCOPE":                  "context.scope",
		prefix + "PROJECT":                "context.project",
		prefix + "AUTHOR_NAME":            "author.name",
		prefix + "AUTHOR_EMAIL":           "author.email",
		prefix + "LOG_LEVEL":              "log.level",
		prefix + "RETRY_MAX_ATTEMPTS":     "retry.max_attempts",
		prefix + "RETRY_INITIAL_INTERVAL": "retry.initial_interval",
	}
}

// Apply sets every mapped variable that is present. Empty values are
// ignored.
func (l *EnvLoader) Apply(c *Config) error {
	names := make([]string, 0, len(l.mapping))
	for env := range l.mapping {
		names = append(names, env)
	}
	sort.Strings(names)

	for _, env := range names {
		val, ok := l.lookup(env)
		if !ok || val == "" {
			continue
		}
		key := l.mapping[env]
		if err := c.Set(key, val); err != nil {
			return &SettingError{Source: env, Setting: key, Value: val, Err: err}
		}
	}
	return nil
}

// Unknown returns the prefixed variables that map to no setting, sorted.
// The workspace root variable is read before loading and is not reported.
func (l *EnvLoader) Unknown() []string {
	var out []string
	for _, kv := range l.environ() {
		name, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(name, l.prefix) || name == l.prefix+"ROOT" {
			continue
		}
		if _, ok := l.mapping[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// RootFromEnv returns STRATUM_ROOT, or "" when unset.
func RootFromEnv() string {
	return os.Getenv(EnvPrefix + "ROOT")
}
