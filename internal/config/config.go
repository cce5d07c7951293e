// Package config loads the host configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"gopkg.in/yaml.v3"

	"github.com/egv/acp-host/internal/logging"
)

const (
	DefaultPath              = ".acp-host/config.yaml"
	DefaultRequestTimeout    = 60 * time.Second
	DefaultInitializeTimeout = 30 * time.Second
	DefaultOutputByteLimit   = 1 << 20
	DefaultNATSSubject       = "acp.events"
	DefaultRedisStream       = "acp:events"
)

type fileModel struct {
	Agent    agentModel    `yaml:"agent"`
	Client   clientModel   `yaml:"client"`
	Timeouts timeoutsModel `yaml:"timeouts"`
	Terminal terminalModel `yaml:"terminal"`
	Logging  loggingModel  `yaml:"logging"`
	Events   eventsModel   `yaml:"events"`
}

type agentModel struct {
	Command    string            `yaml:"command"`
	Args       []string          `yaml:"args"`
	Env        map[string]string `yaml:"env"`
	Endpoint   string            `yaml:"endpoint"`
	AuthMethod string            `yaml:"auth_method"`
}

type clientModel struct {
	ReadTextFile  *bool  `yaml:"read_text_file"`
	WriteTextFile *bool  `yaml:"write_text_file"`
	Terminal      *bool  `yaml:"terminal"`
	Permissions   string `yaml:"permissions"`
}

type timeoutsModel struct {
	Request    string `yaml:"request"`
	Initialize string `yaml:"initialize"`
}

type terminalModel struct {
	OutputByteLimit *int   `yaml:"output_byte_limit"`
	TranscriptDir   string `yaml:"transcript_dir"`
}

type loggingModel struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	AuditLog string `yaml:"audit_log"`
	TurnLog  string `yaml:"turn_log"`
}

type eventsModel struct {
	JSONL string     `yaml:"jsonl"`
	Redis redisModel `yaml:"redis"`
	NATS  natsModel  `yaml:"nats"`
}

type redisModel struct {
	Addr   string `yaml:"addr"`
	Stream string `yaml:"stream"`
	MaxLen int64  `yaml:"max_len"`
}

type natsModel struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type Config struct {
	Agent    AgentConfig
	Client   ClientConfig
	Timeouts TimeoutsConfig
	Terminal TerminalConfig
	Logging  LoggingConfig
	Events   EventsConfig
}

type AgentConfig struct {
	Command    string
	Args       []string
	Env        map[string]string
	Endpoint   string
	AuthMethod string
}

type ClientConfig struct {
	ReadTextFile  bool
	WriteTextFile bool
	Terminal      bool
	// Permissions names the permission policy: "auto" or "deny".
	Permissions string
}

type TimeoutsConfig struct {
	Request    time.Duration
	Initialize time.Duration
}

type TerminalConfig struct {
	OutputByteLimit int
	TranscriptDir   string
}

type LoggingConfig struct {
	Level    string
	Format   string
	AuditLog string
	TurnLog  string
}

type EventsConfig struct {
	JSONL string
	Redis RedisConfig
	NATS  NATSConfig
}

type RedisConfig struct {
	Addr   string
	Stream string
	MaxLen int64
}

type NATSConfig struct {
	URL     string
	Subject string
}

func Default() Config {
	return Config{
		Client: ClientConfig{ReadTextFile: true, WriteTextFile: true, Terminal: true, Permissions: "auto"},
		Timeouts: TimeoutsConfig{
			Request:    DefaultRequestTimeout,
			Initialize: DefaultInitializeTimeout,
		},
		Terminal: TerminalConfig{OutputByteLimit: DefaultOutputByteLimit},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads the config file at path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("cannot read config file at %s: %w", path, err)
	}
	return Parse(path, content)
}

// Parse decodes and validates content. path is only used in error messages.
func Parse(path string, content []byte) (Config, error) {
	var model fileModel
	decoder := yaml.NewDecoder(strings.NewReader(string(content)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&model); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("cannot parse config file at %s: %w", path, err)
	}
	return resolve(path, model)
}

func resolve(path string, model fileModel) (Config, error) {
	cfg := Default()

	cfg.Agent = AgentConfig{
		Command:    strings.TrimSpace(model.Agent.Command),
		Args:       model.Agent.Args,
		Env:        model.Agent.Env,
		Endpoint:   strings.TrimSpace(model.Agent.Endpoint),
		AuthMethod: strings.TrimSpace(model.Agent.AuthMethod),
	}
	if cfg.Agent.Command != "" && cfg.Agent.Endpoint != "" {
		return Config{}, fmt.Errorf("agent.command and agent.endpoint in %s are mutually exclusive", path)
	}
	if cfg.Agent.Endpoint != "" {
		if err := validateEndpoint(cfg.Agent.Endpoint); err != nil {
			return Config{}, fmt.Errorf("agent.endpoint in %s %s", path, err.Error())
		}
	}

	if model.Client.ReadTextFile != nil {
		cfg.Client.ReadTextFile = *model.Client.ReadTextFile
	}
	if model.Client.WriteTextFile != nil {
		cfg.Client.WriteTextFile = *model.Client.WriteTextFile
	}
	if model.Client.Terminal != nil {
		cfg.Client.Terminal = *model.Client.Terminal
	}
	if permissions := strings.ToLower(strings.TrimSpace(model.Client.Permissions)); permissions != "" {
		switch permissions {
		case "auto", "deny":
			cfg.Client.Permissions = permissions
		default:
			return Config{}, fmt.Errorf("client.permissions in %s must be one of: auto, deny", path)
		}
	}

	var err error
	if cfg.Timeouts.Request, err = parseTimeout(path, "request", model.Timeouts.Request, DefaultRequestTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Timeouts.Initialize, err = parseTimeout(path, "initialize", model.Timeouts.Initialize, DefaultInitializeTimeout); err != nil {
		return Config{}, err
	}

	if model.Terminal.OutputByteLimit != nil {
		if *model.Terminal.OutputByteLimit < 0 {
			return Config{}, fmt.Errorf("terminal.output_byte_limit in %s must be greater than or equal to 0", path)
		}
		cfg.Terminal.OutputByteLimit = *model.Terminal.OutputByteLimit
	}
	cfg.Terminal.TranscriptDir = strings.TrimSpace(model.Terminal.TranscriptDir)

	if level := strings.TrimSpace(model.Logging.Level); level != "" {
		if _, err := logging.ParseLevel(level); err != nil {
			return Config{}, fmt.Errorf("logging.level in %s must be one of: debug, info, warn, error", path)
		}
		cfg.Logging.Level = level
	}
	if format := strings.ToLower(strings.TrimSpace(model.Logging.Format)); format != "" {
		if format != "text" && format != "json" {
			return Config{}, fmt.Errorf("logging.format in %s must be one of: text, json", path)
		}
		cfg.Logging.Format = format
	}
	cfg.Logging.AuditLog = strings.TrimSpace(model.Logging.AuditLog)
	cfg.Logging.TurnLog = strings.TrimSpace(model.Logging.TurnLog)

	cfg.Events.JSONL = strings.TrimSpace(model.Events.JSONL)
	cfg.Events.Redis = RedisConfig{
		Addr:   strings.TrimSpace(model.Events.Redis.Addr),
		Stream: strings.TrimSpace(model.Events.Redis.Stream),
		MaxLen: model.Events.Redis.MaxLen,
	}
	if cfg.Events.Redis.MaxLen < 0 {
		return Config{}, fmt.Errorf("events.redis.max_len in %s must be greater than or equal to 0", path)
	}
	if cfg.Events.Redis.Stream != "" && cfg.Events.Redis.Addr == "" {
		return Config{}, fmt.Errorf("events.redis.addr in %s is required when events.redis.stream is set", path)
	}
	if cfg.Events.Redis.Addr != "" && cfg.Events.Redis.Stream == "" {
		cfg.Events.Redis.Stream = DefaultRedisStream
	}
	cfg.Events.NATS = NATSConfig{
		URL:     strings.TrimSpace(model.Events.NATS.URL),
		Subject: strings.TrimSpace(model.Events.NATS.Subject),
	}
	if cfg.Events.NATS.Subject != "" && cfg.Events.NATS.URL == "" {
		return Config{}, fmt.Errorf("events.nats.url in %s is required when events.nats.subject is set", path)
	}
	if cfg.Events.NATS.URL != "" && cfg.Events.NATS.Subject == "" {
		cfg.Events.NATS.Subject = DefaultNATSSubject
	}
	return cfg, nil
}

func parseTimeout(path, field, raw string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("timeouts.%s in %s must be a valid duration: %w", field, path, err)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("timeouts.%s in %s must be greater than or equal to 0", field, path)
	}
	return parsed, nil
}

func validateEndpoint(endpoint string) error {
	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" && parsed.Host != "" {
		switch parsed.Scheme {
		case "tcp", "ws", "wss":
			return nil
		}
		return errors.New("must use one of the schemes: tcp, ws, wss")
	}
	if !strings.Contains(endpoint, ":") {
		return errors.New("must be host:port or a tcp://, ws:// or wss:// URL")
	}
	return nil
}

// ClientCapabilities is what the host advertises during initialize.
func (c Config) ClientCapabilities() acp.ClientCapabilities {
	return acp.ClientCapabilities{
		Fs: acp.FileSystemCapability{
			ReadTextFile:  c.Client.ReadTextFile,
			WriteTextFile: c.Client.WriteTextFile,
		},
		Terminal: c.Client.Terminal,
	}
}

// AgentEnv returns the agent environment as sorted KEY=VALUE entries.
func (c Config) AgentEnv() []string {
	keys := make([]string, 0, len(c.Agent.Env))
	for key := range c.Agent.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, key := range keys {
		env = append(env, key+"="+c.Agent.Env[key])
	}
	return env
}
