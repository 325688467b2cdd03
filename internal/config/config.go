package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Redis         RedisConfig         `yaml:"redis"`
	ClickHouse    ClickHouseConfig    `yaml:"clickhouse"`
	Firestore     FirestoreConfig     `yaml:"firestore"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Search        SearchConfig        `yaml:"search"`
	Suggest       SuggestConfig       `yaml:"suggest"`
	Trending      TrendingConfig      `yaml:"trending"`
	Misses        MissConfig          `yaml:"misses"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Recommender   RecommenderConfig   `yaml:"recommender"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type ElasticsearchConfig struct {
	Addresses         []string      `yaml:"addresses"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	Index             string        `yaml:"index"`
	BulkSize          int           `yaml:"bulk_size"`
	BulkFlushInterval time.Duration `yaml:"bulk_flush_interval"`
}

type RedisConfig struct {
	Addresses    []string       `yaml:"addresses"`
	Password     string         `yaml:"password"`
	DB           int            `yaml:"db"`
	PoolSize     int            `yaml:"pool_size"`
	MinIdleConns int            `yaml:"min_idle_conns"`
	DialTimeout  time.Duration  `yaml:"dial_timeout"`
	ReadTimeout  time.Duration  `yaml:"read_timeout"`
	WriteTimeout time.Duration  `yaml:"write_timeout"`
	TTL          CacheTTLConfig `yaml:"ttl"`
}

type CacheTTLConfig struct {
	SearchResults time.Duration `yaml:"search_results"`
	Suggestions   time.Duration `yaml:"suggestions"`
	Trending      time.Duration `yaml:"trending"`
}

type ClickHouseConfig struct {
	Addresses    []string      `yaml:"addresses"`
	Database     string        `yaml:"database"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
}

type FirestoreConfig struct {
	ProjectID            string        `yaml:"project_id"`
	CredentialsFile      string        `yaml:"credentials_file"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	ProductsCollection   string        `yaml:"products_collection"`
	CategoriesCollection string        `yaml:"categories_collection"`
	MissesCollection     string        `yaml:"misses_collection"`
	MaxBatchSize         int           `yaml:"max_batch_size"`
}

type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	TopicChanges  string        `yaml:"topic_changes"`
	TopicDLQ      string        `yaml:"topic_dlq"`
	ConsumerGroup string        `yaml:"consumer_group"`
	BatchSize     int           `yaml:"batch_size"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
	MaxRetries    int           `yaml:"max_retries"`

	// BridgeFirestoreChanges republishes native Firestore document
	// changes onto the change topic. For deployments where the catalog
	// service does not emit change events itself.
	BridgeFirestoreChanges bool `yaml:"bridge_firestore_changes"`
}

type SearchConfig struct {
	DefaultPageSize int                  `yaml:"default_page_size"`
	MaxPageSize     int                  `yaml:"max_page_size"`
	CandidateLimit  int                  `yaml:"candidate_limit"`
	QueryTimeout    time.Duration        `yaml:"query_timeout"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry           RetryConfig          `yaml:"retry"`
	SlowQuery       SlowQueryConfig      `yaml:"slow_query"`
}

type SuggestConfig struct {
	MinPrefixLength int           `yaml:"min_prefix_length"`
	DefaultLimit    int           `yaml:"default_limit"`
	MaxLimit        int           `yaml:"max_limit"`
	FanoutTimeout   time.Duration `yaml:"fanout_timeout"`
}

type SlowQueryConfig struct {
	WarningThreshold  time.Duration `yaml:"warning_threshold"`
	CriticalThreshold time.Duration `yaml:"critical_threshold"`
}

type CircuitBreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	InitialWait time.Duration `yaml:"initial_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
	Multiplier  float64       `yaml:"multiplier"`
}

type TrendingConfig struct {
	MinQueryLength    int           `yaml:"min_query_length"`
	DefaultLimit      int           `yaml:"default_limit"`
	MaxLimit          int           `yaml:"max_limit"`
	RetentionDays     int           `yaml:"retention_days"`
	RetentionInterval time.Duration `yaml:"retention_interval"`
}

type MissConfig struct {
	DedupWindow       time.Duration `yaml:"dedup_window"`
	ConversionRate    float64       `yaml:"conversion_rate"`
	AverageOrderValue float64       `yaml:"average_order_value"`
}

type EmbeddingConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type RecommenderConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	DefaultLimit   int           `yaml:"default_limit"`
}

type ObservabilityConfig struct {
	TracingEndpoint string `yaml:"tracing_endpoint"`
	LogLevel        string `yaml:"log_level"`
	ServiceName     string `yaml:"service_name"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses:         []string{"http://localhost:9200"},
			MaxRetries:        3,
			RequestTimeout:    150 * time.Millisecond,
			Index:             "products",
			BulkSize:          5000,
			BulkFlushInterval: 5 * time.Second,
		},
		Redis: RedisConfig{
			Addresses:    []string{"localhost:6379"},
			PoolSize:     100,
			MinIdleConns: 10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  1 * time.Second,
			WriteTimeout: 1 * time.Second,
			TTL: CacheTTLConfig{
				SearchResults: 2 * time.Minute,
				Suggestions:   10 * time.Minute,
				Trending:      60 * time.Second,
			},
		},
		ClickHouse: ClickHouseConfig{
			Addresses:    []string{"localhost:9000"},
			Database:     "search_analytics",
			DialTimeout:  5 * time.Second,
			QueryTimeout: 2 * time.Second,
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Firestore: FirestoreConfig{
			RequestTimeout:       2 * time.Second,
			ProductsCollection:   "products",
			CategoriesCollection: "categories",
			MissesCollection:     "search_misses",
			MaxBatchSize:         100,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			TopicChanges:  "catalog.changes",
			TopicDLQ:      "catalog.changes.dlq",
			ConsumerGroup: "discovery-indexer",
			BatchSize:     1000,
			BatchTimeout:  1 * time.Second,
			MaxRetries:    3,
		},
		Search: SearchConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
			CandidateLimit:  100,
			QueryTimeout:    200 * time.Millisecond,
			CircuitBreaker: CircuitBreakerConfig{
				MaxRequests:      100,
				Interval:         30 * time.Second,
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
			Retry: RetryConfig{
				MaxAttempts: 2,
				InitialWait: 50 * time.Millisecond,
				MaxWait:     500 * time.Millisecond,
				Multiplier:  2.0,
			},
			SlowQuery: SlowQueryConfig{
				WarningThreshold:  200 * time.Millisecond,
				CriticalThreshold: 500 * time.Millisecond,
			},
		},
		Suggest: SuggestConfig{
			MinPrefixLength: 2,
			DefaultLimit:    10,
			MaxLimit:        20,
			FanoutTimeout:   100 * time.Millisecond,
		},
		Trending: TrendingConfig{
			MinQueryLength:    2,
			DefaultLimit:      10,
			MaxLimit:          50,
			RetentionDays:     30,
			RetentionInterval: 6 * time.Hour,
		},
		Misses: MissConfig{
			DedupWindow:       time.Hour,
			ConversionRate:    0.02,
			AverageOrderValue: 1500,
		},
		Embedding: EmbeddingConfig{
			Model:          "text-embedding-3-small",
			RequestTimeout: 2 * time.Second,
		},
		Recommender: RecommenderConfig{
			RequestTimeout: 2 * time.Second,
			DefaultLimit:   10,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			ServiceName: "discovery-engine",
		},
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if len(c.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("at least one elasticsearch address required")
	}
	if len(c.Redis.Addresses) == 0 {
		return fmt.Errorf("at least one redis address required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one kafka broker required")
	}
	if c.Search.DefaultPageSize <= 0 {
		return fmt.Errorf("default page size must be positive")
	}
	if c.Search.MaxPageSize <= 0 || c.Search.MaxPageSize > 1000 {
		return fmt.Errorf("max page size must be between 1 and 1000")
	}
	if c.Search.CandidateLimit <= 0 {
		return fmt.Errorf("candidate limit must be positive")
	}
	if c.Trending.RetentionDays <= 0 {
		return fmt.Errorf("trending retention days must be positive")
	}
	if c.Misses.DedupWindow <= 0 {
		return fmt.Errorf("miss dedup window must be positive")
	}
	if c.Misses.ConversionRate < 0 || c.Misses.ConversionRate > 1 {
		return fmt.Errorf("conversion rate must be between 0 and 1")
	}
	return nil
}
