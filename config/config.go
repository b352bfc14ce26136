package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	OrderDesk OrderDeskConfig `yaml:"orderdesk"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnString собирает DSN для pgxpool.
func (c DatabaseConfig) ConnString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		c.Username, c.Password, net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), c.DBName, sslMode)
}

type KafkaConfig struct {
	Host                      string `yaml:"host"`
	Port                      int    `yaml:"port"`
	DeliveryReportedTopicName string `yaml:"delivery_reported_topic_name"`
	OrderChangedTopicName     string `yaml:"order_changed_topic_name"`

	// пауза между повторами обработки одного сообщения
	ConsumerRetryMinMs int `yaml:"consumer_retry_min_ms"`
	ConsumerRetryMaxMs int `yaml:"consumer_retry_max_ms"`
}

func (c KafkaConfig) Brokers() []string {
	return []string{net.JoinHostPort(c.Host, strconv.Itoa(c.Port))}
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type OrderDeskConfig struct {
	GRPCAddr           string `yaml:"grpc_addr"`
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	InventoryCountTTLSeconds int    `yaml:"inventory_count_ttl_seconds"`
	ReserveMaxCount          int    `yaml:"reserve_max_count"`
	InventoryWatchCron       string `yaml:"inventory_watch_cron"`
	InventoryLowWatermark    int    `yaml:"inventory_low_watermark"`

	WorkerPollIntervalSeconds      int `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize                int `yaml:"worker_batch_size"`
	WorkerConcurrency              int `yaml:"worker_concurrency"`
	WorkerLeaseSeconds             int `yaml:"worker_lease_seconds"`
	WorkerRateLimitPerMinute       int `yaml:"worker_rate_limit_per_minute"`
	WorkerRateLimitCDEKPerMinute   int `yaml:"worker_rate_limit_cdek_per_minute"`
	WorkerRateLimitPostRuPerMinute int `yaml:"worker_rate_limit_post_ru_per_minute"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	// Расписание проверок. Если не задано, используются "боевые" значения:
	// in_transit и unknown: 1 минута, backoff: 5/15/30/60 минут.
	WorkerNextCheckInTransitMinSeconds int `yaml:"worker_next_check_in_transit_min_seconds"`
	WorkerNextCheckInTransitMaxSeconds int `yaml:"worker_next_check_in_transit_max_seconds"`
	WorkerNextCheckUnknownSeconds      int `yaml:"worker_next_check_unknown_seconds"`
	WorkerBackoff1Seconds              int `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds              int `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds              int `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds              int `yaml:"worker_backoff_4_seconds"`

	CarrierMode    string `yaml:"carrier_mode"` // "fake" | "track24"
	CarrierBaseURL string `yaml:"carrier_base_url"`
	CarrierAPIKey  string `yaml:"carrier_api_key"`
	CarrierDomain  string `yaml:"carrier_domain"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
