// Package config reads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ntentasd/nostradamus-history/pkg/types"
	"github.com/rs/zerolog"
)

type Config struct {
	ScyllaNodes    []string
	ScyllaKeyspace string

	KafkaBrokers           []string
	KafkaInputTopic        string
	KafkaOutputTopic       string
	KafkaGroupID           string
	KafkaTopicPartitions   int32
	KafkaReplicationFactor int16

	// ValkeyNodes take precedence over resolving ValkeyService.
	ValkeyNodes   []string
	ValkeyService string
	MemcachedAddr string

	TopologyFile string

	PipelineWorkers    int
	PipelineQueueSize  int
	CheckpointInterval time.Duration

	TimeWindows []types.WindowConfig

	WebserverPort int
	WebserverCORS bool

	TempoEndpoint string
	LogLevel      zerolog.Level
}

var windowName = regexp.MustCompile(`^[a-z0-9_]+$`)

// Load reads the configuration from the environment, applies defaults and
// validates the result.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	var (
		cfg  Config
		errs []error
		err  error
	)

	cfg.ScyllaNodes = list(getenv("SCYLLA_NODES"))
	cfg.ScyllaKeyspace = getenv("SCYLLA_KEYSPACE")
	cfg.KafkaBrokers = list(getenv("KAFKA_BROKERS"))
	cfg.KafkaInputTopic = getenv("KAFKA_INPUT_TOPIC")
	cfg.KafkaOutputTopic = getenv("KAFKA_OUTPUT_TOPIC")
	cfg.KafkaGroupID = getenv("KAFKA_GROUP_ID")
	cfg.ValkeyNodes = list(getenv("VALKEY_NODES"))
	cfg.ValkeyService = strings.TrimSpace(getenv("VALKEY_SERVICE"))
	cfg.MemcachedAddr = getenv("MEMCACHED_ADDR")
	cfg.TopologyFile = getenv("TOPOLOGY_FILE")
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT")

	if cfg.PipelineWorkers, err = integer(getenv, "PIPELINE_WORKERS"); err != nil {
		errs = append(errs, err)
	}
	if cfg.PipelineQueueSize, err = integer(getenv, "PIPELINE_QUEUE_SIZE"); err != nil {
		errs = append(errs, err)
	}
	if cfg.WebserverPort, err = integer(getenv, "WEBSERVER_PORT"); err != nil {
		errs = append(errs, err)
	}
	partitions, err := integer(getenv, "KAFKA_TOPIC_PARTITIONS")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.KafkaTopicPartitions = int32(partitions)
	replication, err := integer(getenv, "KAFKA_REPLICATION_FACTOR")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.KafkaReplicationFactor = int16(replication)

	if v := getenv("CHECKPOINT_INTERVAL"); v != "" {
		if cfg.CheckpointInterval, err = time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("CHECKPOINT_INTERVAL: %w", err))
		}
	}
	if v := getenv("WEBSERVER_CORS"); v != "" {
		if cfg.WebserverCORS, err = strconv.ParseBool(v); err != nil {
			errs = append(errs, fmt.Errorf("WEBSERVER_CORS: %w", err))
		}
	}
	if cfg.TimeWindows, err = ParseWindows(getenv("TIME_WINDOWS")); err != nil {
		errs = append(errs, fmt.Errorf("TIME_WINDOWS: %w", err))
	}

	cfg.LogLevel = zerolog.InfoLevel
	if v := getenv("LOG_LEVEL"); v != "" {
		if cfg.LogLevel, err = zerolog.ParseLevel(v); err != nil {
			errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ScyllaKeyspace == "" {
		c.ScyllaKeyspace = "titanccp"
	}
	if c.KafkaInputTopic == "" {
		c.KafkaInputTopic = "input"
	}
	if c.KafkaOutputTopic == "" {
		c.KafkaOutputTopic = "output"
	}
	if c.KafkaGroupID == "" {
		c.KafkaGroupID = "titan-ccp-history"
	}
	if c.KafkaTopicPartitions == 0 {
		c.KafkaTopicPartitions = 3
	}
	if c.KafkaReplicationFactor == 0 {
		c.KafkaReplicationFactor = 1
	}
	if c.PipelineWorkers == 0 {
		c.PipelineWorkers = 4
	}
	if c.PipelineQueueSize == 0 {
		c.PipelineQueueSize = 1024
	}
	if c.CheckpointInterval == 0 {
		c.CheckpointInterval = 30 * time.Second
	}
	if c.WebserverPort == 0 {
		c.WebserverPort = 8080
	}
}

func (c *Config) validate() error {
	if c.PipelineWorkers < 1 {
		return fmt.Errorf("PIPELINE_WORKERS must be positive, got %d", c.PipelineWorkers)
	}
	if c.PipelineQueueSize < 0 {
		return fmt.Errorf("PIPELINE_QUEUE_SIZE must not be negative, got %d", c.PipelineQueueSize)
	}
	if c.CheckpointInterval < 0 {
		return fmt.Errorf("CHECKPOINT_INTERVAL must be positive, got %s", c.CheckpointInterval)
	}
	if c.WebserverPort < 1 || c.WebserverPort > 65535 {
		return fmt.Errorf("WEBSERVER_PORT out of range: %d", c.WebserverPort)
	}
	if c.KafkaTopicPartitions < 1 || c.KafkaReplicationFactor < 1 {
		return errors.New("KAFKA_TOPIC_PARTITIONS and KAFKA_REPLICATION_FACTOR must be positive")
	}
	for _, node := range c.ValkeyNodes {
		if _, _, err := net.SplitHostPort(node); err != nil {
			return fmt.Errorf("VALKEY_NODES: %w", err)
		}
	}
	if c.KafkaInputTopic == c.KafkaOutputTopic {
		return fmt.Errorf("input and output topic must differ, both are %q", c.KafkaInputTopic)
	}
	return nil
}

// Addr is the listen address of the read API.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.WebserverPort)
}

// ParseWindows parses a comma separated list of name:duration pairs, e.g.
// "minutely:1m,hourly:1h".
func ParseWindows(s string) ([]types.WindowConfig, error) {
	var out []types.WindowConfig
	seen := make(map[string]bool)
	for _, part := range list(s) {
		name, dur, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("window %q: expected name:duration", part)
		}
		name = strings.TrimSpace(name)
		if !windowName.MatchString(name) {
			return nil, fmt.Errorf("window %q: name must match %s", part, windowName)
		}
		if seen[name] {
			return nil, fmt.Errorf("window %q: duplicate name", name)
		}
		d, err := time.ParseDuration(strings.TrimSpace(dur))
		if err != nil {
			return nil, fmt.Errorf("window %q: %w", name, err)
		}
		if d < time.Millisecond {
			return nil, fmt.Errorf("window %q: duration must be at least 1ms", name)
		}
		seen[name] = true
		out = append(out, types.WindowConfig{Name: name, Duration: d})
	}
	return out, nil
}

func list(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func integer(getenv func(string) string, key string) (int, error) {
	v := getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
