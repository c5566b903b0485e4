package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. IMGCAP_BROKER_ADDR.
const EnvPrefix = "IMGCAP"

func setDefaults(v *viper.Viper) {
	v.SetDefault("broker.addr", "localhost:6379")
	v.SetDefault("broker.password", "")
	v.SetDefault("broker.db", 0)
	v.SetDefault("broker.task_queue", "imgcap:tasks")
	v.SetDefault("broker.completion_queue", "imgcap:completions")
	v.SetDefault("broker.task_group", "imgcap:workers")
	v.SetDefault("broker.completion_group", "imgcap:server")
	v.SetDefault("broker.consumer", "")
	v.SetDefault("broker.retry_delay", time.Second)
	v.SetDefault("broker.read_block", 2*time.Second)

	v.SetDefault("dispatch.publish_timeout", 800*time.Millisecond)
	v.SetDefault("dispatch.drain_interval", time.Second)
	v.SetDefault("dispatch.max_inflight", 64)
	v.SetDefault("dispatch.buffer_capacity", 0)
	v.SetDefault("dispatch.overflow_policy", "reject")

	v.SetDefault("server.port", 5000)
	v.SetDefault("server.rate_limit", 0.0)
	v.SetDefault("server.rate_burst", 5.0)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.trust_proxy", false)

	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.recovery_interval", 30*time.Second)
	v.SetDefault("worker.stale_after", 5*time.Minute)

	v.SetDefault("store.backend", "fs")
	v.SetDefault("store.dir", "/data")
	v.SetDefault("store.sqlite_path", "")
	v.SetDefault("store.postgres_url", "")
	v.SetDefault("store.redis_prefix", "imgcap:result:")

	v.SetDefault("captioner.backend", "hash")
	v.SetDefault("captioner.timeout", time.Minute)
	v.SetDefault("captioner.docker_image", "")
	v.SetDefault("captioner.docker_command", []string{})
	v.SetDefault("captioner.docker_memory_mb", 512)
	v.SetDefault("captioner.gemini_api_key", "")
	v.SetDefault("captioner.gemini_model", "gemini-2.0-flash")
	v.SetDefault("captioner.gemini_prompt", "Write a one-sentence caption for this image.")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load builds the configuration. Values come, in increasing precedence, from defaults, the TOML
// file at path (skipped when empty), and environment variables, including those from a .env file
// in the working directory.
func Load(path string) (*Config, error) {
	// A missing .env is fine; variables may be set directly.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		file, err := readFile(path, v.AllKeys())
		if err != nil {
			return nil, err
		}
		if err := v.MergeConfigMap(file); err != nil {
			return nil, fmt.Errorf("failed to merge config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Broker.Consumer == "" {
		cfg.Broker.Consumer = defaultConsumer()
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// readFile decodes a TOML config file and rejects keys that have no default, which catches
// typos that would otherwise be silently ignored.
func readFile(path string, known []string) (map[string]any, error) {
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	allowed := make(map[string]bool, len(known))
	for _, k := range known {
		allowed[k] = true
	}

	var unknown []string
	for _, k := range flatten("", raw) {
		if !allowed[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(unknown, ", "))
	}
	return raw, nil
}

func flatten(prefix string, m map[string]any) []string {
	var keys []string
	for k, val := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			keys = append(keys, flatten(key, nested)...)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// defaultConsumer is unique per process, so worker processes sharing a host never re-read each
// other's pending entries. Entries left behind by an exited process are reclaimed by recovery.
func defaultConsumer() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "consumer"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// IsValidationError reports whether err came from struct validation.
func IsValidationError(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}
