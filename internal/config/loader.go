package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"comfyclient/pkg/types"
)

// Config holds runtime parameters for the client daemon.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// Node is our node name; Process our process id.
	Node    string `json:"node" yaml:"node" toml:"node"`
	Process string `json:"process" yaml:"process" toml:"process"`

	// Nodes maps node names to the base URL of their message endpoint.
	Nodes map[string]string `json:"nodes" yaml:"nodes" toml:"nodes"`

	// Applied at start when the persisted state has no value yet.
	RouterProcess   string `json:"router_process" yaml:"router_process" toml:"router_process"`
	RollupSequencer string `json:"rollup_sequencer" yaml:"rollup_sequencer" toml:"rollup_sequencer"`

	RouterTimeoutSeconds    int    `json:"router_timeout_seconds" yaml:"router_timeout_seconds" toml:"router_timeout_seconds"`
	SequencerTimeoutSeconds int    `json:"sequencer_timeout_seconds" yaml:"sequencer_timeout_seconds" toml:"sequencer_timeout_seconds"`
	MaxBodyBytes            int64  `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	LogLevel                string `json:"log_level" yaml:"log_level" toml:"log_level"`
	HTTPLogLevel            string `json:"http_log_level" yaml:"http_log_level" toml:"http_log_level"`

	State  StateConfig  `json:"state" yaml:"state" toml:"state"`
	Images ImagesConfig `json:"images" yaml:"images" toml:"images"`
	CORS   CORSConfig   `json:"cors" yaml:"cors" toml:"cors"`
	AMQP   AMQPConfig   `json:"amqp" yaml:"amqp" toml:"amqp"`
	Mail   MailConfig   `json:"mail" yaml:"mail" toml:"mail"`
}

// StateConfig selects where the client state lives: Postgres when
// PostgresDSN is set, else the JSON file at Path.
type StateConfig struct {
	Path        string `json:"path" yaml:"path" toml:"path"`
	PostgresDSN string `json:"postgres_dsn" yaml:"postgres_dsn" toml:"postgres_dsn"`
	AutoCreate  bool   `json:"autocreate" yaml:"autocreate" toml:"autocreate"`
	Key         string `json:"key" yaml:"key" toml:"key"`
}

// ImagesConfig selects where images go: MinIO when an endpoint is set, else Dir.
type ImagesConfig struct {
	Dir   string      `json:"dir" yaml:"dir" toml:"dir"`
	Minio MinioConfig `json:"minio" yaml:"minio" toml:"minio"`
}

type MinioConfig struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key" toml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key" toml:"secret_key"`
	Bucket    string `json:"bucket" yaml:"bucket" toml:"bucket"`
	Prefix    string `json:"prefix" yaml:"prefix" toml:"prefix"`
	Secure    bool   `json:"secure" yaml:"secure" toml:"secure"`
}

type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// AMQPConfig enables event publishing to RabbitMQ when URL is set.
type AMQPConfig struct {
	URL   string `json:"url" yaml:"url" toml:"url"`
	Queue string `json:"queue" yaml:"queue" toml:"queue"`
}

// MailConfig enables job completion mails when APIKey is set.
type MailConfig struct {
	APIKey    string   `json:"api_key" yaml:"api_key" toml:"api_key"`
	FromName  string   `json:"from_name" yaml:"from_name" toml:"from_name"`
	FromEmail string   `json:"from_email" yaml:"from_email" toml:"from_email"`
	To        []string `json:"to" yaml:"to" toml:"to"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{}.WithDefaults()
}

// WithDefaults fills unspecified fields.
func (c Config) WithDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Process == "" {
		c.Process = "client:comfyui_provider:nick1udwig.os"
	}
	if c.RouterTimeoutSeconds <= 0 {
		c.RouterTimeoutSeconds = 20
	}
	if c.SequencerTimeoutSeconds <= 0 {
		c.SequencerTimeoutSeconds = 5
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 32 << 20
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.State.Path == "" {
		c.State.Path = "~/.comfyclient/state.json"
	}
	if c.State.Key == "" {
		c.State.Key = c.Node
	}
	if c.Images.Dir == "" {
		c.Images.Dir = "~/.comfyclient/images"
	}
	if c.AMQP.Queue == "" {
		c.AMQP.Queue = "comfyclient_events"
	}
	return c
}

// ApplyEnv overrides fields from COMFYCLIENT_* environment variables. The
// lookup func is usually os.LookupEnv.
func (c Config) ApplyEnv(lookup func(string) (string, bool)) (Config, error) {
	str := func(key string, dst *string) {
		if v, ok := lookup("COMFYCLIENT_" + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		if v, ok := lookup("COMFYCLIENT_" + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("COMFYCLIENT_%s: %w", key, err)
			}
			*dst = n
		}
		return nil
	}
	str("ADDR", &c.Addr)
	str("NODE", &c.Node)
	str("PROCESS", &c.Process)
	str("ROUTER_PROCESS", &c.RouterProcess)
	str("ROLLUP_SEQUENCER", &c.RollupSequencer)
	str("LOG_LEVEL", &c.LogLevel)
	str("HTTP_LOG_LEVEL", &c.HTTPLogLevel)
	str("STATE_PATH", &c.State.Path)
	str("POSTGRES_DSN", &c.State.PostgresDSN)
	str("IMAGES_DIR", &c.Images.Dir)
	str("MINIO_ENDPOINT", &c.Images.Minio.Endpoint)
	str("MINIO_ACCESS_KEY", &c.Images.Minio.AccessKey)
	str("MINIO_SECRET_KEY", &c.Images.Minio.SecretKey)
	str("MINIO_BUCKET", &c.Images.Minio.Bucket)
	str("AMQP_URL", &c.AMQP.URL)
	str("MAILERSEND_API_KEY", &c.Mail.APIKey)
	if err := num("ROUTER_TIMEOUT_SECONDS", &c.RouterTimeoutSeconds); err != nil {
		return c, err
	}
	if err := num("SEQUENCER_TIMEOUT_SECONDS", &c.SequencerTimeoutSeconds); err != nil {
		return c, err
	}
	if v, ok := lookup("COMFYCLIENT_MAX_BODY_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return c, fmt.Errorf("COMFYCLIENT_MAX_BODY_BYTES: %w", err)
		}
		c.MaxBodyBytes = n
	}
	if v, ok := lookup("COMFYCLIENT_NODES"); ok && v != "" {
		nodes, err := ParseNodes(v)
		if err != nil {
			return c, err
		}
		if c.Nodes == nil {
			c.Nodes = map[string]string{}
		}
		for k, u := range nodes {
			c.Nodes[k] = u
		}
	}
	if v, ok := lookup("COMFYCLIENT_CORS_ORIGINS"); ok && v != "" {
		c.CORS.Enabled = true
		c.CORS.Origins = SplitCSV(v)
	}
	if v, ok := lookup("COMFYCLIENT_MAIL_TO"); ok && v != "" {
		c.Mail.To = SplitCSV(v)
	}
	return c, nil
}

// SplitCSV splits a comma separated list, trimming blanks and dropping
// empty items.
func SplitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseNodes parses "node=url,node=url".
func ParseNodes(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, item := range SplitCSV(s) {
		name, url, ok := strings.Cut(item, "=")
		name, url = strings.TrimSpace(name), strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("invalid node entry %q (want node=url)", item)
		}
		out[name] = url
	}
	return out, nil
}

// Our returns the address the client answers as.
func (c Config) Our() (types.Address, error) {
	if c.Node == "" {
		return types.Address{}, errors.New("node is required")
	}
	return types.ParseAddress(c.Node + "@" + c.Process)
}

// Validate checks a defaulted configuration.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.Our(); err != nil {
		errs = append(errs, fmt.Errorf("our address: %w", err))
	}
	if c.RouterProcess != "" {
		if _, err := types.ParseProcessID(c.RouterProcess); err != nil {
			errs = append(errs, fmt.Errorf("router_process: %w", err))
		}
	}
	if c.RollupSequencer != "" {
		if _, err := types.ParseAddress(c.RollupSequencer); err != nil {
			errs = append(errs, fmt.Errorf("rollup_sequencer: %w", err))
		}
	}
	for name, url := range c.Nodes {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			errs = append(errs, fmt.Errorf("nodes.%s: url must be http(s), got %q", name, url))
		}
	}
	if m := c.Images.Minio; m.Endpoint != "" && m.Bucket == "" {
		errs = append(errs, errors.New("images.minio.bucket is required with an endpoint"))
	}
	if c.Mail.APIKey != "" && (c.Mail.FromEmail == "" || len(c.Mail.To) == 0) {
		errs = append(errs, errors.New("mail needs from_email and at least one recipient"))
	}
	return errors.Join(errs...)
}
