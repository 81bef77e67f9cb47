package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Clickhouse    ClickhouseConfig
	Scylla        ScyllaConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	JWT           JWTConfig
	Security      SecurityConfig
	Bucketing     BucketingConfig
	Hashing       HashingConfig
	KMS           KMSConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableTLS    bool
	CertFile     string
	KeyFile      string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Brokers       []string
	AlertTopic    string
	AuthTopic     string
	ConsumerGroup string
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
	Index    string
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

// SecurityConfig carries the anomaly detector thresholds and the token
// revocation housekeeping knobs.
type SecurityConfig struct {
	MaxDistinctOrigins            int
	UnusualBehaviorWindowDays     int
	UnusualBehaviorCountThreshold int
	SweepInterval                 time.Duration
	// FailOpen controls what Secure does when the event history cannot
	// be fetched: allow the action (true) or block it (false).
	FailOpen     bool
	FetchTimeout time.Duration

	// Transport-level throttle for the login endpoint, backed by Redis.
	MaxLoginAttempts   int
	LoginAttemptWindow time.Duration
	LoginLockDuration  time.Duration
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

// LoadConfig reads configuration from the environment. A .env file is
// honored outside production so local runs don't need exported vars.
func LoadConfig() *Config {
	env := getEnv("APP_ENV", "development")
	if env != "production" {
		_ = godotenv.Load()
		env = getEnv("APP_ENV", env)
	}

	return &Config{
		Environment: env,
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8443),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
			Username: getEnv("CLICKHOUSE_USER", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "security"),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "security"),
			Username: getEnv("SCYLLA_USER", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			AlertTopic:    getEnv("KAFKA_ALERT_TOPIC", "security-events"),
			AuthTopic:     getEnv("KAFKA_AUTH_TOPIC", "auth-events"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "security-service"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:      getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: getEnv("ELASTICSEARCH_USER", ""),
			Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    getEnv("ELASTICSEARCH_EVENT_INDEX", "security-events"),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "homelabSecretKey12345678901234567890"),
			Expiration: time.Duration(getEnvInt("JWT_EXPIRATION_MS", 3600000)) * time.Millisecond,
		},
		Security: SecurityConfig{
			MaxDistinctOrigins:            getEnvInt("SECURITY_MAX_DISTINCT_ORIGINS", 3),
			UnusualBehaviorWindowDays:     getEnvInt("SECURITY_UNUSUAL_BEHAVIOR_WINDOW_DAYS", 1),
			UnusualBehaviorCountThreshold: getEnvInt("SECURITY_UNUSUAL_BEHAVIOR_COUNT_THRESHOLD", 3),
			SweepInterval:                 getEnvDuration("SECURITY_SWEEP_INTERVAL", time.Hour),
			FailOpen:                      getEnvBool("SECURITY_FAIL_OPEN", true),
			FetchTimeout:                  getEnvDuration("SECURITY_FETCH_TIMEOUT", 5*time.Second),
			MaxLoginAttempts:              getEnvInt("SECURITY_MAX_LOGIN_ATTEMPTS", 10),
			LoginAttemptWindow:            getEnvDuration("SECURITY_LOGIN_ATTEMPT_WINDOW", 10*time.Minute),
			LoginLockDuration:             getEnvDuration("SECURITY_LOGIN_LOCK_DURATION", 15*time.Minute),
		},
		Bucketing: BucketingConfig{
			UserBuckets:  getEnvInt("BUCKETING_USER_BUCKETS", 100),
			EventBuckets: getEnvInt("BUCKETING_EVENT_BUCKETS", 50),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 65536),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 4),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("KMS_REGION", "us-east-1"),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
