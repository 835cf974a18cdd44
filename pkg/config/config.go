package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"PollPulse/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`

	Log struct {
		Level        string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format       string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output       string `yaml:"output" default:"stdout"`
		CollectTopic string `yaml:"collect_topic"`
	} `yaml:"log"`

	Server struct {
		Port            int           `yaml:"port" default:"8888" validate:"gt=0,lte=65535"`
		BasePath        string        `yaml:"base_path" default:"/api/v1"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"0s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		CORS            bool          `yaml:"cors" default:"true"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	Store struct {
		Type string `yaml:"type" default:"memory" validate:"oneof=memory redis"`
	} `yaml:"store"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"pollpulse"`
	} `yaml:"redis"`

	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"pollpulse.votes"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			BatchTimeout time.Duration `yaml:"batch_timeout" default:"100ms"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"pollpulse-audit"`
			Workers    int           `yaml:"workers" default:"2" validate:"gte=1"`
			BufferSize int           `yaml:"buffer_size" default:"64"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`

	ClickHouse struct {
		Enabled     bool          `yaml:"enabled"`
		Host        string        `yaml:"host" default:"localhost"`
		Port        int           `yaml:"port" default:"9000"`
		Database    string        `yaml:"database" default:"pollpulse"`
		User        string        `yaml:"user" default:"default"`
		Password    string        `yaml:"password"`
		UseHTTP     bool          `yaml:"use_http"`
		AsyncInsert bool          `yaml:"async_insert"`
		DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout time.Duration `yaml:"read_timeout" default:"10s"`
	} `yaml:"clickhouse"`

	Vote struct {
		DuplicateTTL time.Duration `yaml:"duplicate_ttl" default:"720h"`
		RateLimit    struct {
			Capacity     float64 `yaml:"capacity" default:"5"`
			RefillPerSec float64 `yaml:"refill_per_sec" default:"1"`
		} `yaml:"rate_limit"`
		PipelineBuffer int `yaml:"pipeline_buffer" default:"1000"`
		// GuardCapacity bounds the in-memory duplicate-vote guard when Redis is off.
		GuardCapacity int `yaml:"guard_capacity" default:"100000" validate:"gte=1"`
	} `yaml:"vote"`

	Stream struct {
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval" default:"15s"`
		SubscriberBuffer  int           `yaml:"subscriber_buffer" default:"16"`
	} `yaml:"stream"`

	Client struct {
		BaseURL        string        `yaml:"base_url" default:"http://localhost:8888/api/v1" validate:"required,url"`
		Transport      string        `yaml:"transport" default:"sse" validate:"oneof=sse websocket"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"3s" validate:"gt=0"`
		RequestTimeout time.Duration `yaml:"request_timeout" default:"10s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"20s"`
		DecreasePolicy string        `yaml:"decrease_policy" default:"corroborate" validate:"oneof=corroborate accept"`
	} `yaml:"client"`
}

var validate = validator.New()

// Default returns a configuration made of defaults only.
func Default() *Config {
	var c Config
	_ = defaults.Set(&c)
	return &c
}

// Load reads and parses a YAML configuration file on top of defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, applies defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// A missing file is not an error; defaults plus environment are used instead.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		c = Default()
	}

	if v := os.Getenv("POLLPULSE_ENV"); v != "" {
		c.Environment = v
	}
	c.Server.Port = util.ParseIntDefault(os.Getenv("POLLPULSE_PORT"), c.Server.Port)
	if v := os.Getenv("POLLPULSE_BASE_URL"); v != "" {
		c.Client.BaseURL = v
	}
	if v := os.Getenv("POLLPULSE_STORE"); v != "" {
		c.Store.Type = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Enabled = true
		c.Redis.Host = host
		if ok {
			c.Redis.Port = util.ParseIntDefault(port, c.Redis.Port)
		}
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Enabled = true
		c.Kafka.Brokers = strings.Split(v, ",")
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Store.Type == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("store.type=redis requires redis.enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.ClickHouse.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("clickhouse audit log is fed from kafka; enable kafka too")
	}
	return nil
}
