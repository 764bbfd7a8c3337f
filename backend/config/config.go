package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	WS struct {
		ReadBufferSize  int           `mapstructure:"read_buffer_size"`
		WriteBufferSize int           `mapstructure:"write_buffer_size"`
		SendQueue       int           `mapstructure:"send_queue"`
		MaxMessageSize  int64         `mapstructure:"max_message_size"`
		MaxConnections  int           `mapstructure:"max_connections"`
		PingInterval    time.Duration `mapstructure:"ping_interval"`
		PongWait        time.Duration `mapstructure:"pong_wait"`
		WriteWait       time.Duration `mapstructure:"write_wait"`
		JoinTimeout     time.Duration `mapstructure:"join_timeout"`
		AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	} `mapstructure:"ws"`
	Redis struct {
		Addrs       []string      `mapstructure:"addrs"`
		Password    string        `mapstructure:"password"`
		PresenceTTL time.Duration `mapstructure:"presence_ttl"`
	} `mapstructure:"redis"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Kafka struct {
		Brokers     []string      `mapstructure:"brokers"`
		Topic       string        `mapstructure:"topic"`
		QueueSize   int           `mapstructure:"queue_size"`
		Workers     int           `mapstructure:"workers"`
		MaxRetry    int           `mapstructure:"max_retry"`
		BaseBackoff time.Duration `mapstructure:"base_backoff"`
		MaxBackoff  time.Duration `mapstructure:"max_backoff"`
		InFlight    int           `mapstructure:"in_flight"`
	} `mapstructure:"kafka"`
	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`
	Agent struct {
		APIKey    string        `mapstructure:"api_key"`
		BaseURL   string        `mapstructure:"base_url"`
		Model     string        `mapstructure:"model"`
		MaxTokens int           `mapstructure:"max_tokens"`
		Timeout   time.Duration `mapstructure:"timeout"`
	} `mapstructure:"agent"`
	Snapshot struct {
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"snapshot"`
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("running.port", 3000)

	v.SetDefault("ws.read_buffer_size", 4096)
	v.SetDefault("ws.write_buffer_size", 4096)
	v.SetDefault("ws.send_queue", 256)
	v.SetDefault("ws.max_message_size", 1<<20)
	v.SetDefault("ws.max_connections", 1000)
	v.SetDefault("ws.ping_interval", 54*time.Second)
	v.SetDefault("ws.pong_wait", 60*time.Second)
	v.SetDefault("ws.write_wait", 10*time.Second)
	v.SetDefault("ws.join_timeout", 5*time.Second)
	v.SetDefault("ws.allowed_origins", []string{"*"})

	v.SetDefault("redis.addrs", []string{})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.presence_ttl", 60*time.Second)

	v.SetDefault("mysql.dsn", "")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "board-actions")
	v.SetDefault("kafka.queue_size", 10_000)
	v.SetDefault("kafka.workers", 4)
	v.SetDefault("kafka.max_retry", 3)
	v.SetDefault("kafka.base_backoff", 50*time.Millisecond)
	v.SetDefault("kafka.max_backoff", time.Second)
	v.SetDefault("kafka.in_flight", 8)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("agent.api_key", "")
	v.SetDefault("agent.base_url", "")
	v.SetDefault("agent.model", "claude-haiku-4-5-20251001")
	v.SetDefault("agent.max_tokens", 4096)
	v.SetDefault("agent.timeout", 60*time.Second)

	v.SetDefault("snapshot.interval", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads boardConfig.yaml from the usual places, then the environment.
// A missing file is fine; every key has a default. BOARD_MYSQL_DSN overrides
// mysql.dsn and so on, and ANTHROPIC_API_KEY fills agent.api_key.
func Load(paths ...string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("boardConfig")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		// started from the repo root or from backend/
		paths = []string{"./backend/config", "./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	setDefaults(v)

	v.SetEnvPrefix("BOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("agent.api_key", "BOARD_AGENT_API_KEY", "ANTHROPIC_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
