package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env                string            `mapstructure:"env"`
	LogLevel           string            `mapstructure:"log_level"`
	LogType            string            `mapstructure:"log_type"`
	ServiceName        string            `mapstructure:"service_name"`
	Version            string            `mapstructure:"version"`
	Port               string            `mapstructure:"port"`
	BrowserSettings    *BrowserConfig    `mapstructure:"browser"`
	ServiceSettings    *ServiceConfig    `mapstructure:"service"`
	TrackerSettings    *TrackerConfig    `mapstructure:"tracker"`
	DiscoverySettings  *DiscoveryConfig  `mapstructure:"discovery"`
	WorkerSettings     *WorkerConfig     `mapstructure:"worker"`
	CacheSettings      *CacheConfig      `mapstructure:"cache"`
	DbSettings         *DatabaseConfig   `mapstructure:"database"`
	KafkaSettings      *KafkaConfig      `mapstructure:"kafka"`
	S3Settings         *S3Config         `mapstructure:"s3"`
	TelemetrySettings  *TelemetryConfig  `mapstructure:"telemetry"`
	HttpClientSettings *HttpClientConfig `mapstructure:"http_client"`
}

type BrowserConfig struct {
	StartURL    string `mapstructure:"start_url"`
	Headless    bool   `mapstructure:"headless"`
	ExecPath    string `mapstructure:"exec_path"`
	UserDataDir string `mapstructure:"user_data_dir"`
	ShowButton  bool   `mapstructure:"show_button"`
}

type ServiceConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	AnalysisBaseURL string `mapstructure:"analysis_base_url"`
	ExportBaseURL   string `mapstructure:"export_base_url"`
}

type TrackerConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	FailureWarnAfter int           `mapstructure:"failure_warn_after"`
	Priority         int           `mapstructure:"priority"`
}

type DiscoveryConfig struct {
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
	CrawlMechanism int           `mapstructure:"crawl_mechanism"`
	UserAgent      string        `mapstructure:"user_agent"`
}

type WorkerConfig struct {
	WorkersNum int `mapstructure:"workers_num"`
}

type CacheConfig struct {
	Servers      []string      `mapstructure:"servers"`
	TtlForCourse time.Duration `mapstructure:"ttl_for_course"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
}

type KafkaConfig struct {
	Producer *ProducerConfig `mapstructure:"producer"`
	Consumer *ConsumerConfig `mapstructure:"consumer"`
}

type ProducerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Addr                []string      `mapstructure:"addr"`
	WriteTopicName      string        `mapstructure:"write_topic_name"`
	DeadLetterTopicName string        `mapstructure:"dlq_topic_name"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BatchSize           int           `mapstructure:"batch_size"`
	BatchTimeout        time.Duration `mapstructure:"batch_timeout"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	RequiredAsks        int           `mapstructure:"required_acks"`
	Async               bool          `mapstructure:"async"`
	BufferSize          int           `mapstructure:"buffer_size"`
}

type ConsumerConfig struct {
	ReadTopicName    string        `mapstructure:"read_topic_name"`
	Brokers          []string      `mapstructure:"brokers"`
	GroupID          string        `mapstructure:"group_id"`
	MaxWait          time.Duration `mapstructure:"max_wait"`
	ReadBatchTimeout time.Duration `mapstructure:"read_batch_timeout"`
	QueueCapacity    int           `mapstructure:"queue_capacity"`
	MaxBytes         int           `mapstructure:"max_bytes"`
	CommitInterval   time.Duration `mapstructure:"commit_interval"`
}

type S3Config struct {
	AwsBaseEndpoint string `mapstructure:"aws_base_endpoint"`
	Region          string `mapstructure:"region"`
	BucketName      string `mapstructure:"bucket_name"`
	KeyPrefix       string `mapstructure:"key_prefix"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CollectorUrl string `mapstructure:"collector_url"`
}

type HttpClientConfig struct {
	RequestTimeout            time.Duration `mapstructure:"request_timeout"`
	MaxIdleConnections        int           `mapstructure:"max_idle_connections"`
	MaxIdleConnectionsPerHost int           `mapstructure:"max_idle_connections_per_host"`
	MaxConnectionsPerHost     int           `mapstructure:"max_connections_per_host"`
	IdleConnectionTimeout     time.Duration `mapstructure:"idle_connection_timeout"`
	TlsHandshakeTimeout       time.Duration `mapstructure:"tls_handshake_timeout"`
	DialTimeout               time.Duration `mapstructure:"dial_timeout"`
	DialKeepAlive             time.Duration `mapstructure:"dial_keep_alive"`
	TlsInsecureSkipVerify     bool          `mapstructure:"tls_insecure_skip_verify"`
}

// Load reads config.yaml from the working directory (or the given file),
// overlays environment variables (a .env file is loaded first when present)
// and fills every unset value with its default. A missing config file is not
// an error: defaults and the environment are enough to run.
func Load(file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file.", slog.String("err", err.Error()))
	}

	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(path.Join("."))
		v.SetConfigName("config")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		slog.Debug("config file not found. using defaults.")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.TrackerSettings.PollInterval <= 0 {
		return nil, fmt.Errorf("tracker.poll_interval must be positive, got %v", cfg.TrackerSettings.PollInterval)
	}
	if cfg.DiscoverySettings.ProbeInterval <= 0 {
		return nil, fmt.Errorf("discovery.probe_interval must be positive, got %v",
			cfg.DiscoverySettings.ProbeInterval)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "local")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_type", "text")
	v.SetDefault("service_name", "content-overlay")
	v.SetDefault("version", "dev")
	v.SetDefault("port", "8080")

	v.SetDefault("browser.start_url", "https://x.com/home")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.show_button", true)

	v.SetDefault("service.base_url", "http://localhost:3000/api")
	v.SetDefault("service.analysis_base_url", "http://localhost:3001/analysis")
	v.SetDefault("service.export_base_url", "http://localhost:3000/api/export/emails")

	v.SetDefault("tracker.poll_interval", 5*time.Second)
	v.SetDefault("tracker.failure_warn_after", 12)
	v.SetDefault("tracker.priority", 1)

	v.SetDefault("discovery.probe_interval", time.Second)
	v.SetDefault("discovery.crawl_mechanism", 0)
	v.SetDefault("discovery.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
		"(KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36")

	v.SetDefault("worker.workers_num", 4)

	v.SetDefault("cache.servers", []string{})
	v.SetDefault("cache.ttl_for_course", 30*24*time.Hour)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "overlay")
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 2)

	v.SetDefault("kafka.producer.enabled", false)
	v.SetDefault("kafka.producer.addr", []string{"localhost:9092"})
	v.SetDefault("kafka.producer.write_topic_name", "overlay-events")
	v.SetDefault("kafka.producer.dlq_topic_name", "overlay-dlq")
	v.SetDefault("kafka.producer.max_attempts", 3)
	v.SetDefault("kafka.producer.batch_size", 100)
	v.SetDefault("kafka.producer.batch_timeout", time.Second)
	v.SetDefault("kafka.producer.read_timeout", 10*time.Second)
	v.SetDefault("kafka.producer.write_timeout", 10*time.Second)
	v.SetDefault("kafka.producer.required_acks", 1)
	v.SetDefault("kafka.producer.buffer_size", 256)
	v.SetDefault("kafka.consumer.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer.read_topic_name", "overlay-urls")
	v.SetDefault("kafka.consumer.group_id", "content-overlay")
	v.SetDefault("kafka.consumer.max_wait", time.Second)
	v.SetDefault("kafka.consumer.read_batch_timeout", 10*time.Second)
	v.SetDefault("kafka.consumer.queue_capacity", 100)
	v.SetDefault("kafka.consumer.max_bytes", 10_000_000)
	v.SetDefault("kafka.consumer.commit_interval", time.Duration(0))

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket_name", "overlay-exports")
	v.SetDefault("s3.key_prefix", "exports")

	v.SetDefault("telemetry.enabled", false)

	v.SetDefault("http_client.request_timeout", 30*time.Second)
	v.SetDefault("http_client.max_idle_connections", 20)
	v.SetDefault("http_client.max_idle_connections_per_host", 10)
	v.SetDefault("http_client.max_connections_per_host", 10)
	v.SetDefault("http_client.idle_connection_timeout", 90*time.Second)
	v.SetDefault("http_client.tls_handshake_timeout", 10*time.Second)
	v.SetDefault("http_client.dial_timeout", 10*time.Second)
	v.SetDefault("http_client.dial_keep_alive", 30*time.Second)
}
