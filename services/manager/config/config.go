package config

import (
	"time"

	"github.com/spf13/viper"
)

// RecurringJob is one cron-driven submission from the config file.
type RecurringJob struct {
	Name     string `mapstructure:"name"`
	Spec     string `mapstructure:"spec"`
	Priority string `mapstructure:"priority"`
	Payload  string `mapstructure:"payload"`
}

// Config holds typed configuration for the manager service.
type Config struct {
	LogLevel     string
	HTTPAddr     string
	MetricsAddr  string
	OTelEndpoint string

	StoreBackend    string // file | postgres
	StorePath       string
	PostgresDSN     string
	PersistDebounce time.Duration

	CacheBackend string // memory | redis
	CacheTTL     time.Duration
	RedisAddr    string

	WorkerBin  string
	PoolSize   int
	MinWorkers int
	MaxWorkers int

	MaxRestarts    int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	SweepInterval   time.Duration
	HealthInterval  time.Duration
	HealthTimeout   time.Duration
	HealthThreshold int
	ScaleInterval   time.Duration
	ScaleDownLoad   float64
	ScaleUpLoad     float64
	ShutdownTimeout time.Duration

	KafkaBrokers  string
	KafkaTopic    string
	KafkaGroupID  string
	KafkaDLQTopic string

	Recurring []RecurringJob
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	cfg := Config{
		LogLevel:     v.GetString("log_level"),
		HTTPAddr:     v.GetString("http_addr"),
		MetricsAddr:  v.GetString("metrics_addr"),
		OTelEndpoint: v.GetString("otel_endpoint"),

		StoreBackend:    v.GetString("store_backend"),
		StorePath:       v.GetString("store_path"),
		PostgresDSN:     v.GetString("postgres_dsn"),
		PersistDebounce: v.GetDuration("persist_debounce"),

		CacheBackend: v.GetString("cache_backend"),
		CacheTTL:     v.GetDuration("cache_ttl"),
		RedisAddr:    v.GetString("redis_addr"),

		WorkerBin:  v.GetString("worker_bin"),
		PoolSize:   v.GetInt("pool_size"),
		MinWorkers: v.GetInt("min_workers"),
		MaxWorkers: v.GetInt("max_workers"),

		MaxRestarts:    v.GetInt("max_restarts"),
		MaxRetries:     v.GetInt("max_retries"),
		RetryBaseDelay: v.GetDuration("retry_base_delay"),
		RetryMaxDelay:  v.GetDuration("retry_max_delay"),

		SweepInterval:   v.GetDuration("sweep_interval"),
		HealthInterval:  v.GetDuration("health_interval"),
		HealthTimeout:   v.GetDuration("health_timeout"),
		HealthThreshold: v.GetInt("health_threshold"),
		ScaleInterval:   v.GetDuration("scale_interval"),
		ScaleDownLoad:   v.GetFloat64("scale_down_load"),
		ScaleUpLoad:     v.GetFloat64("scale_up_load"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),

		KafkaBrokers:  v.GetString("kafka_brokers"),
		KafkaTopic:    v.GetString("kafka_topic"),
		KafkaGroupID:  v.GetString("kafka_group_id"),
		KafkaDLQTopic: v.GetString("kafka_dlq_topic"),
	}
	_ = v.UnmarshalKey("recurring", &cfg.Recurring)
	return cfg
}
