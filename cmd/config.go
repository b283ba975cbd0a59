package main

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"github.com/go-redis/redis/v8"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pelletier/go-toml"
	"github.com/spf13/viper"
	"go.scholarhub.net/triage/pkg/audit"
	"go.scholarhub.net/triage/pkg/classifier"
	"go.scholarhub.net/triage/pkg/consume"
	"go.uber.org/zap"
)

// Config keys.
const (
	ConfRedisNetwork = "redis.network"
	ConfRedisAddr    = "redis.addr"
	ConfRedisDB      = "redis.db"

	ConfKafkaBrokers       = "kafka.brokers"
	ConfKafkaConfigFile    = "kafka.config_file"
	ConfKafkaInboundTopic  = "kafka.inbound_topic"
	ConfKafkaOutboundTopic = "kafka.outbound_topic"
	ConfKafkaDeadTopic     = "kafka.dead_topic"
	ConfKafkaWorkerGroup   = "kafka.worker_group"
	ConfKafkaNotifierGroup = "kafka.notifier_group"

	ConfMySQLDSN = "mysql.dsn"

	ConfRateLimitMax    = "ratelimit.max"
	ConfRateLimitWindow = "ratelimit.window"
	ConfRateLimitPrefix = "ratelimit.key_prefix"

	ConfCacheTTL    = "cache.ttl"
	ConfCachePrefix = "cache.key_prefix"

	ConfClassifierBaseURL = "classifier.base_url"
	ConfClassifierAPIKey  = "classifier.api_key"
	ConfClassifierModel   = "classifier.model"
	ConfClassifierTimeout = "classifier.timeout"

	ConfAuditMode  = "audit.mode"
	ConfAuditTable = "audit.table"

	ConfConsumeRetryInterval = "consume.retry_interval"
	ConfConsumeMaxAttempts   = "consume.max_attempts"

	ConfReferrerCacheSize = "referrers.cache_size"
	ConfReferrerCacheTTL  = "referrers.cache_ttl"

	ConfIngestListen  = "ingest.listen"
	ConfMetricsListen = "metrics.listen"

	ConfNotifierDelay = "notifier.delay"
)

func init() {
	viper.SetDefault(ConfRedisNetwork, "tcp")
	viper.SetDefault(ConfRedisAddr, "localhost:6379")
	viper.SetDefault(ConfRedisDB, 0)

	viper.SetDefault(ConfKafkaBrokers, []string{"localhost:9092"})
	viper.SetDefault(ConfKafkaConfigFile, "")
	viper.SetDefault(ConfKafkaInboundTopic, "applicant-queries")
	viper.SetDefault(ConfKafkaOutboundTopic, "outgoing-notifications")
	viper.SetDefault(ConfKafkaDeadTopic, "applicant-queries.dead")
	viper.SetDefault(ConfKafkaWorkerGroup, "triage-workers")
	viper.SetDefault(ConfKafkaNotifierGroup, "triage-notifiers")

	viper.SetDefault(ConfMySQLDSN, "root@tcp(localhost:3306)/triage")

	viper.SetDefault(ConfRateLimitMax, int64(5))
	viper.SetDefault(ConfRateLimitWindow, time.Minute)
	viper.SetDefault(ConfRateLimitPrefix, "rate_")

	viper.SetDefault(ConfCacheTTL, time.Hour)
	viper.SetDefault(ConfCachePrefix, "result_")

	viper.SetDefault(ConfClassifierBaseURL, "http://localhost:11434/v1")
	viper.SetDefault(ConfClassifierAPIKey, "")
	viper.SetDefault(ConfClassifierModel, "llama3")
	viper.SetDefault(ConfClassifierTimeout, classifier.DefaultTimeout)

	viper.SetDefault(ConfAuditMode, string(audit.ModeBestEffort))
	viper.SetDefault(ConfAuditTable, "audit_log")

	viper.SetDefault(ConfConsumeRetryInterval, consume.DefaultPolicy.RetryInterval)
	viper.SetDefault(ConfConsumeMaxAttempts, consume.DefaultPolicy.MaxAttempts)

	viper.SetDefault(ConfReferrerCacheSize, 1024)
	viper.SetDefault(ConfReferrerCacheTTL, 5*time.Minute)

	viper.SetDefault(ConfIngestListen, ":8080")
	viper.SetDefault(ConfMetricsListen, "")

	viper.SetDefault(ConfNotifierDelay, time.Second)

	viper.SetEnvPrefix("triage")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func redisClientFromEnv() *redis.Client {
	redisOpts := &redis.Options{
		Network: viper.GetString(ConfRedisNetwork),
		Addr:    viper.GetString(ConfRedisAddr),
		DB:      viper.GetInt(ConfRedisDB),
	}
	log.Info("Connecting to Redis",
		zap.String(ConfRedisNetwork, redisOpts.Network),
		zap.String(ConfRedisAddr, redisOpts.Addr),
		zap.Int(ConfRedisDB, redisOpts.DB))
	return redis.NewClient(redisOpts)
}

func openDB() (*sqlx.DB, error) {
	// Force Go-compatible time handling.
	cfg, err := mysql.ParseDSN(viper.GetString(ConfMySQLDSN))
	if err != nil {
		return nil, err
	}
	cfg.ParseTime = true
	cfg.Loc = time.Local
	log.Info("Connecting to MySQL DB",
		zap.String("mysql.addr", cfg.Addr),
		zap.String("mysql.db_name", cfg.DBName),
		zap.String("mysql.user", cfg.User))
	return sqlx.Open("mysql", cfg.FormatDSN())
}

func saramaConfigFromEnv() (*sarama.Config, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_0_0_0 // consumer groups need >= 0.10.2
	// Most deployments are fine with defaults, but sarama has a lot of
	// knobs, so an optional TOML file can override anything.
	if configFilePath := viper.GetString(ConfKafkaConfigFile); configFilePath != "" {
		log.Info("Reading sarama config",
			zap.String(ConfKafkaConfigFile, configFilePath))
		f, err := os.Open(configFilePath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		dec := toml.NewDecoder(f)
		if err := dec.Decode(config); err != nil {
			return nil, err
		}
	}
	// Queue contract: durable produce, manual acknowledgment.
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Offsets.AutoCommit.Enable = false
	return config, nil
}

func classifierFromEnv() *classifier.Client {
	baseURL := viper.GetString(ConfClassifierBaseURL)
	model := viper.GetString(ConfClassifierModel)
	log.Info("Using classifier",
		zap.String(ConfClassifierBaseURL, baseURL),
		zap.String(ConfClassifierModel, model))
	return &classifier.Client{
		BaseURL: baseURL,
		APIKey:  viper.GetString(ConfClassifierAPIKey),
		Model:   model,
		HTTP:    &http.Client{Timeout: viper.GetDuration(ConfClassifierTimeout)},
		Log:     log.Named("classifier"),
	}
}

func consumePolicyFromEnv() consume.Policy {
	return consume.Policy{
		RetryInterval: viper.GetDuration(ConfConsumeRetryInterval),
		MaxAttempts:   viper.GetUint64(ConfConsumeMaxAttempts),
	}
}

func auditModeFromEnv() audit.Mode {
	mode := audit.Mode(viper.GetString(ConfAuditMode))
	if !mode.Valid() {
		log.Fatal("Invalid " + ConfAuditMode)
	}
	return mode
}
