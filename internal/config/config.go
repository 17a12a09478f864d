package config

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/viper"

	pkgconfig "github.com/weiawesome/alumni-chat/pkg/config"
	"github.com/weiawesome/alumni-chat/pkg/database"
	"github.com/weiawesome/alumni-chat/pkg/pubsub"
	"github.com/weiawesome/alumni-chat/pkg/storage"
)

type Config struct {
	InstanceID   string `mapstructure:"instance_id"`
	Server       ServerConfig
	GRPC         GRPCConfig
	Metrics      MetricsConfig
	WebSocket    WebSocketConfig
	Auth         AuthConfig
	Database     database.Config
	MessageStore MessageStoreConfig `mapstructure:"message_store"`
	Cassandra    CassandraConfig
	Redis        RedisConfig
	PubSub       pubsub.Config
	Presence     PresenceConfig
	Typing       TypingConfig
	Chat         ChatConfig
	Kafka        KafkaConfig
	Storage      storage.Config
	Attachments  AttachmentsConfig
	Log          LogConfig

	v *viper.Viper
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GRPCConfig struct {
	Host string
	Port int
}

type MetricsConfig struct {
	Enabled bool
	Address string
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	Issuer          string        `mapstructure:"issuer"`
	Leeway          time.Duration `mapstructure:"leeway"`
	AccessTTL       time.Duration `mapstructure:"access_ttl"`
	RevocationStore string        `mapstructure:"revocation_store"` // memory, redis
	RevocationKey   string        `mapstructure:"revocation_key_prefix"`
}

type MessageStoreConfig struct {
	Driver string // gorm, cassandra
}

type CassandraConfig struct {
	Hosts       []string
	Keyspace    string
	Consistency string
	Timeout     time.Duration
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	PoolSize int `mapstructure:"pool_size"`
}

type PresenceConfig struct {
	Store             string        // memory, redis
	KeyPrefix         string        `mapstructure:"key_prefix"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	InstanceTTL       time.Duration `mapstructure:"instance_ttl"`
}

type TypingConfig struct {
	Timeout time.Duration
}

type ChatConfig struct {
	MaxContentLength int           `mapstructure:"max_content_length"`
	DefaultPageSize  int           `mapstructure:"default_page_size"`
	MaxPageSize      int           `mapstructure:"max_page_size"`
	PeerCache        string        `mapstructure:"peer_cache"` // none, redis
	PeerCacheTTL     time.Duration `mapstructure:"peer_cache_ttl"`
	PersistTimeout   time.Duration `mapstructure:"persist_timeout"`
}

type KafkaConfig struct {
	Brokers    string
	Topic      string
	Partitions int
}

type AttachmentsConfig struct {
	MaxSize   int64         `mapstructure:"max_size"`
	URLExpiry time.Duration `mapstructure:"url_expiry"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	setDefaults(v)
	bindEnv(v)

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.v = v
	return cfg, nil
}

// Watch re-decodes the config whenever the file changes and hands the
// result to fn. Only settings read at use time (log level) take effect.
func (c *Config) Watch(fn func(*Config)) bool {
	if c.v == nil {
		return false
	}
	instanceID := c.InstanceID
	return pkgconfig.Watch(c.v, func(v *viper.Viper, _ fsnotify.Event) {
		next, err := decode(v)
		if err != nil {
			return
		}
		next.InstanceID = instanceID
		fn(next)
	})
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.PubSub.Kafka.InstanceID == "" {
		cfg.PubSub.Kafka.InstanceID = cfg.InstanceID
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50090)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", ":9090")

	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 16384)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.allowed_origins", []string{"*"})

	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.leeway", "5s")
	v.SetDefault("auth.access_ttl", "15m")
	v.SetDefault("auth.revocation_store", "memory")
	v.SetDefault("auth.revocation_key_prefix", "auth:revoked")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "./data/chat.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("message_store.driver", "gorm")
	v.SetDefault("cassandra.hosts", []string{"localhost:9042"})
	v.SetDefault("cassandra.keyspace", "chat")
	v.SetDefault("cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("cassandra.timeout", "5s")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("pubsub.driver", "memory")
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.group_id", "chat-gateway")
	v.SetDefault("pubsub.kafka.partitions", 8)

	v.SetDefault("presence.store", "memory")
	v.SetDefault("presence.key_prefix", "presence")
	v.SetDefault("presence.heartbeat_interval", "10s")
	v.SetDefault("presence.instance_ttl", "30s")

	v.SetDefault("typing.timeout", "3s")

	v.SetDefault("chat.max_content_length", 5000)
	v.SetDefault("chat.default_page_size", 50)
	v.SetDefault("chat.max_page_size", 100)
	v.SetDefault("chat.peer_cache", "none")
	v.SetDefault("chat.peer_cache_ttl", "5m")
	v.SetDefault("chat.persist_timeout", "5s")

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "chat-events")
	v.SetDefault("kafka.partitions", 8)

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local.base_path", "./data/attachments")
	v.SetDefault("storage.local.url_prefix", "/api/v1/files")
	v.SetDefault("attachments.max_size", 10<<20)
	v.SetDefault("attachments.url_expiry", "1h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("instance_id", "INSTANCE_ID")
	v.BindEnv("server.port", "PORT")
	v.BindEnv("grpc.port", "GRPC_PORT")
	v.BindEnv("metrics.address", "METRICS_ADDRESS")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("auth.issuer", "JWT_ISSUER")
	v.BindEnv("auth.revocation_store", "AUTH_REVOCATION_STORE")
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")
	v.BindEnv("database.file_path", "DATABASE_FILE_PATH")
	v.BindEnv("message_store.driver", "MESSAGE_STORE_DRIVER")
	v.BindEnv("cassandra.hosts", "CASSANDRA_HOSTS")
	v.BindEnv("cassandra.keyspace", "CASSANDRA_KEYSPACE")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("pubsub.kafka.brokers", "PUBSUB_KAFKA_BROKERS")
	v.BindEnv("presence.store", "PRESENCE_STORE")
	v.BindEnv("chat.peer_cache", "CHAT_PEER_CACHE")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.s3.bucket", "S3_BUCKET")
	v.BindEnv("storage.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("log.level", "LOG_LEVEL")
}
