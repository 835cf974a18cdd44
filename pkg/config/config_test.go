package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Server.Port != 8888 || c.Server.BasePath != "/api/v1" {
		t.Fatalf("server defaults = %+v", c.Server)
	}
	if c.Client.Transport != "sse" || c.Client.ReconnectDelay != 3*time.Second || c.Client.DecreasePolicy != "corroborate" {
		t.Fatalf("client defaults = %+v", c.Client)
	}
	if c.Kafka.RequiredAcks != -1 || c.Vote.DuplicateTTL != 720*time.Hour {
		t.Fatalf("kafka/vote defaults = %d %v", c.Kafka.RequiredAcks, c.Vote.DuplicateTTL)
	}
}

func TestParseOverrides(t *testing.T) {
	c, err := Parse([]byte(`
client:
  transport: websocket
  reconnect_delay: 250ms
vote:
  rate_limit:
    capacity: 2
`))
	if err != nil {
		t.Fatal(err)
	}
	if c.Client.Transport != "websocket" || c.Client.ReconnectDelay != 250*time.Millisecond {
		t.Fatalf("client = %+v", c.Client)
	}
	if c.Vote.RateLimit.Capacity != 2 || c.Vote.RateLimit.RefillPerSec != 1 {
		t.Fatalf("rate limit = %+v", c.Vote.RateLimit)
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"transport":      "client:\n  transport: carrier-pigeon\n",
		"policy":         "client:\n  decrease_policy: sometimes\n",
		"redis store":    "store:\n  type: redis\n",
		"kafka brokers":  "kafka:\n  enabled: true\n",
		"clickhouse":     "clickhouse:\n  enabled: true\n",
		"log level":      "log:\n  level: loud\n",
		"bad yaml":       "server: [",
		"reconnect zero": "client:\n  reconnect_delay: 0s\n",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("POLLPULSE_PORT", "9999")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("REDIS_ADDR", "cache:6380")

	c, err := LoadWithEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Server.Port != 9999 {
		t.Fatalf("port = %d", c.Server.Port)
	}
	if !c.Kafka.Enabled || strings.Join(c.Kafka.Brokers, ",") != "a:9092,b:9092" {
		t.Fatalf("kafka = %+v", c.Kafka)
	}
	if !c.Redis.Enabled || c.Redis.Host != "cache" || c.Redis.Port != 6380 {
		t.Fatalf("redis = %+v", c.Redis)
	}
}

func TestShippedConfigLoads(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Store.Type != "memory" || c.Server.WriteTimeout != 0 {
		t.Fatalf("shipped config = %+v", c)
	}
}
