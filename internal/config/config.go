package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string           `mapstructure:"mode"`
	Port       int              `mapstructure:"port"`
	Secret     string           `mapstructure:"secret"`
	LogLevel   string           `mapstructure:"log_level"`
	Transport  string           `mapstructure:"transport"`
	Session    SessionConfig    `mapstructure:"session"`
	Signal     SignalConfig     `mapstructure:"signal"`
	Credential CredentialConfig `mapstructure:"credential"`
	Push       PushConfig       `mapstructure:"push"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type SessionConfig struct {
	JoinTimeout             time.Duration `mapstructure:"join_timeout"`
	LeaveTimeout            time.Duration `mapstructure:"leave_timeout"`
	ReconnectDelay          time.Duration `mapstructure:"reconnect_delay"`
	ReconnectMaxAttempts    int           `mapstructure:"reconnect_max_attempts"`
	ReconnectMultiplier     float64       `mapstructure:"reconnect_multiplier"`
	ReconnectMaxDelay       time.Duration `mapstructure:"reconnect_max_delay"`
	ReconnectAttemptTimeout time.Duration `mapstructure:"reconnect_attempt_timeout"`
	HeartbeatInterval       time.Duration `mapstructure:"heartbeat_interval"`
	AutoLeaveGrace          time.Duration `mapstructure:"auto_leave_grace"`
	NotifyBuffer            int           `mapstructure:"notify_buffer"`
	SlowObserverLimit       int           `mapstructure:"slow_observer_limit"`
}

type SignalConfig struct {
	URL          string        `mapstructure:"url"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	EnableMedia  bool          `mapstructure:"enable_media"`
	ICEServers   []string      `mapstructure:"ice_servers"`
}

type CredentialConfig struct {
	URL        string        `mapstructure:"url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	ExpirySkew time.Duration `mapstructure:"expiry_skew"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

type PushConfig struct {
	Type         string        `mapstructure:"type"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
	Redis        RedisConfig   `mapstructure:"redis"`
	Kafka        KafkaConfig   `mapstructure:"kafka"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
	Topic   string   `mapstructure:"topic"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")
	v.SetDefault("transport", "engine")

	v.SetDefault("session.join_timeout", "10s")
	v.SetDefault("session.leave_timeout", "5s")
	v.SetDefault("session.reconnect_delay", "2s")
	v.SetDefault("session.reconnect_max_attempts", 3)
	v.SetDefault("session.reconnect_multiplier", 1.0)
	v.SetDefault("session.reconnect_max_delay", "30s")
	v.SetDefault("session.reconnect_attempt_timeout", "10s")
	v.SetDefault("session.heartbeat_interval", "15s")
	v.SetDefault("session.auto_leave_grace", "2s")
	v.SetDefault("session.notify_buffer", 16)
	v.SetDefault("session.slow_observer_limit", 0)

	v.SetDefault("signal.url", "ws://localhost:9090/api/ws/signal")
	v.SetDefault("signal.dial_timeout", "10s")
	v.SetDefault("signal.write_timeout", "5s")
	v.SetDefault("signal.send_buffer", 32)
	v.SetDefault("signal.enable_media", false)
	v.SetDefault("signal.ice_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("credential.url", "")
	v.SetDefault("credential.api_key", "")
	v.SetDefault("credential.timeout", "5s")
	v.SetDefault("credential.max_retries", 2)
	v.SetDefault("credential.expiry_skew", "30s")
	v.SetDefault("credential.cache_ttl", "10m")

	v.SetDefault("push.type", "none")
	v.SetDefault("push.rate_limit", 5)
	v.SetDefault("push.rate_interval", "1m")
	v.SetDefault("push.redis.address", "localhost:6379")
	v.SetDefault("push.redis.password", "")
	v.SetDefault("push.redis.db", 0)
	v.SetDefault("push.redis.channel", "voicecall:incoming")
	v.SetDefault("push.kafka.brokers", []string{})
	v.SetDefault("push.kafka.group_id", "voicecall")
	v.SetDefault("push.kafka.topic", "voicecall.incoming")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads config/config.<CONFIG_ENV>.yaml, or CONFIG_FILE when set, on
// top of the defaults. VOICECALL_* environment variables override both.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("VOICECALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileName := os.Getenv("CONFIG_FILE")
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Fprintf(os.Stderr, "loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every rule the config breaks.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Transport {
	case "engine":
		if c.Signal.URL == "" {
			errs = append(errs, errors.New("signal.url is required for the engine transport"))
		}
	case "loopback":
	default:
		errs = append(errs, fmt.Errorf("transport %q: want engine or loopback", c.Transport))
	}

	s := c.Session
	for name, d := range map[string]time.Duration{
		"session.join_timeout":              s.JoinTimeout,
		"session.leave_timeout":             s.LeaveTimeout,
		"session.reconnect_delay":           s.ReconnectDelay,
		"session.reconnect_attempt_timeout": s.ReconnectAttemptTimeout,
		"session.heartbeat_interval":        s.HeartbeatInterval,
		"session.auto_leave_grace":          s.AutoLeaveGrace,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if s.ReconnectMaxAttempts < 1 {
		errs = append(errs, errors.New("session.reconnect_max_attempts must be at least 1"))
	}
	if s.ReconnectMultiplier < 1 {
		errs = append(errs, errors.New("session.reconnect_multiplier must be at least 1"))
	}

	switch c.Push.Type {
	case "none":
	case "redis":
		if c.Push.Redis.Address == "" || c.Push.Redis.Channel == "" {
			errs = append(errs, errors.New("push.redis.address and push.redis.channel are required"))
		}
	case "kafka":
		if len(c.Push.Kafka.Brokers) == 0 || c.Push.Kafka.Topic == "" {
			errs = append(errs, errors.New("push.kafka.brokers and push.kafka.topic are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("push.type %q: want none, redis or kafka", c.Push.Type))
	}
	return errors.Join(errs...)
}
