// Package config loads relay settings from an optional config file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"pipeline-relay/src/admission"
	"pipeline-relay/src/agent"
	"pipeline-relay/src/cache"
	"pipeline-relay/src/jenkins"
	"pipeline-relay/src/monitor"
	"pipeline-relay/src/orchestrator"
	"pipeline-relay/src/retry"
	"pipeline-relay/src/session"
)

const (
	configName = "relay"
	envPrefix  = "RELAY"
)

// Config holds the application configuration.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Rate        RateConfig        `mapstructure:"rate"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Agent       AgentConfig       `mapstructure:"agent"`
	Jenkins     JenkinsConfig     `mapstructure:"jenkins"`
	Broker      BrokerConfig      `mapstructure:"broker"`
	HTTP        HTTPConfig        `mapstructure:"http"`

	// Sessions are opened, in order, for every backend invocation.
	Sessions              []session.Config `mapstructure:"sessions"`
	SessionCleanupTimeout time.Duration    `mapstructure:"session_cleanup_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
}

type RateConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type ConcurrencyConfig struct {
	Max int64 `mapstructure:"max"`
}

type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	BackoffBase    float64       `mapstructure:"backoff_base"`
	MaxJitter      time.Duration `mapstructure:"max_jitter"`
}

type CacheConfig struct {
	Bucket     time.Duration `mapstructure:"bucket"`
	MaxEntries int           `mapstructure:"max_entries"`
}

type AgentConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Instruction string        `mapstructure:"instruction"`
	MaxTurns    int           `mapstructure:"max_turns"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type JenkinsConfig struct {
	URL           string        `mapstructure:"url"`
	User          string        `mapstructure:"user"`
	Token         string        `mapstructure:"token"`
	QueueInterval time.Duration `mapstructure:"queue_interval"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

type BrokerConfig struct {
	// Brokers lists Redpanda seed addresses. Empty keeps events in process.
	Brokers []string `mapstructure:"brokers"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultSession is the time MCP server run in a throwaway container.
var DefaultSession = session.Config{
	Name:    "time",
	Command: "podman",
	Args:    []string{"run", "-i", "--rm", "mcp/time"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("rate.requests", admission.DefaultRequestsPerWindow)
	v.SetDefault("rate.window", admission.DefaultWindow)
	v.SetDefault("concurrency.max", admission.DefaultMaxConcurrent)

	v.SetDefault("retry.max_attempts", retry.DefaultMaxAttempts)
	v.SetDefault("retry.initial_backoff", retry.DefaultInitialBackoff)
	v.SetDefault("retry.backoff_base", retry.DefaultBackoffBase)
	v.SetDefault("retry.max_jitter", retry.DefaultMaxJitter)

	v.SetDefault("cache.bucket", cache.DefaultBucket)
	v.SetDefault("cache.max_entries", cache.DefaultMaxEntries)

	v.SetDefault("agent.endpoint", "http://localhost:8000/v1/invoke")
	v.SetDefault("agent.api_key", "")
	v.SetDefault("agent.model", "")
	v.SetDefault("agent.instruction", orchestrator.DefaultInstruction)
	v.SetDefault("agent.max_turns", agent.DefaultMaxTurns)
	v.SetDefault("agent.timeout", 2*time.Minute)

	v.SetDefault("jenkins.url", jenkins.DefaultURL)
	v.SetDefault("jenkins.user", "")
	v.SetDefault("jenkins.token", "")
	v.SetDefault("jenkins.queue_interval", monitor.DefaultQueueInterval)
	v.SetDefault("jenkins.poll_interval", monitor.DefaultPollInterval)

	v.SetDefault("broker.brokers", []string{})
	v.SetDefault("http.addr", ":8080")

	v.SetDefault("sessions", []map[string]any{{
		"name":    DefaultSession.Name,
		"command": DefaultSession.Command,
		"args":    DefaultSession.Args,
	}})
	v.SetDefault("session_cleanup_timeout", session.DefaultCleanupTimeout)
}

// Load reads configuration. When path is empty, relay.{toml,yaml,json} is
// looked up in the working directory and ~/.config/pipeline-relay, and a
// missing file is not an error. Environment variables override the file:
// RELAY_ plus the upper-cased key with dots as underscores (RELAY_RATE_WINDOW),
// and JENKINS_URL, JENKINS_USER, JENKINS_TOKEN for the Jenkins connection.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"url", "user", "token"} {
		upper := strings.ToUpper(key)
		if err := v.BindEnv("jenkins."+key, envPrefix+"_JENKINS_"+upper, "JENKINS_"+upper); err != nil {
			return nil, fmt.Errorf("failed to bind environment: %w", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "pipeline-relay"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad loads configuration and panics on error.
// This is useful for initialization in main() where configuration errors should be fatal.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch {
	case c.Rate.Requests < 1:
		return fmt.Errorf("rate.requests must be at least 1")
	case c.Rate.Window <= 0:
		return fmt.Errorf("rate.window must be positive")
	case c.Concurrency.Max < 1:
		return fmt.Errorf("concurrency.max must be at least 1")
	case c.Retry.MaxAttempts < 1:
		return fmt.Errorf("retry.max_attempts must be at least 1")
	case c.Retry.InitialBackoff <= 0:
		return fmt.Errorf("retry.initial_backoff must be positive")
	case c.Retry.BackoffBase < 1:
		return fmt.Errorf("retry.backoff_base must be at least 1")
	case c.Cache.Bucket <= 0:
		return fmt.Errorf("cache.bucket must be positive")
	case c.Cache.MaxEntries < 1:
		return fmt.Errorf("cache.max_entries must be at least 1")
	case c.Agent.MaxTurns < 1:
		return fmt.Errorf("agent.max_turns must be at least 1")
	case c.Jenkins.QueueInterval <= 0 || c.Jenkins.PollInterval <= 0:
		return fmt.Errorf("jenkins intervals must be positive")
	}

	for i, s := range c.Sessions {
		if s.Command == "" {
			return fmt.Errorf("sessions[%d] (%s) has no command", i, s.Name)
		}
	}
	return nil
}

// RetryPolicy converts the retry settings.
func (c *Config) RetryPolicy() retry.Config {
	return retry.Config{
		MaxAttempts:    c.Retry.MaxAttempts,
		InitialBackoff: c.Retry.InitialBackoff,
		BackoffBase:    c.Retry.BackoffBase,
		MaxJitter:      c.Retry.MaxJitter,
	}
}
