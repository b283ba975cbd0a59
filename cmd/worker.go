package main

import (
	"context"
	"net/http"
	"time"

	"github.com/Shopify/sarama"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.scholarhub.net/triage/pkg/audit"
	"go.scholarhub.net/triage/pkg/classifier"
	"go.scholarhub.net/triage/pkg/consume"
	"go.scholarhub.net/triage/pkg/knowledge"
	"go.scholarhub.net/triage/pkg/processor"
	"go.scholarhub.net/triage/pkg/ratelimit"
	"go.scholarhub.net/triage/pkg/resultcache"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var workerCmd = cobra.Command{
	Use:   "worker",
	Short: "Run query processing worker",
	Long: "Consumes the inbound query queue, classifies each query and fans\n" +
		"out the result to the cache, the audit log and the notification queue.\n" +
		"It is safe to run multiple workers in the same consumer group.",
	Args: cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		app := fx.New(
			fx.Provide(providers...),
			fx.Invoke(runWorker),
			fx.Logger(zap.NewStdLog(log)),
		)
		app.Run()
	},
}

func init() {
	rootCmd.AddCommand(&workerCmd)
}

func runWorker(
	lc fx.Lifecycle,
	shutdown fx.Shutdowner,
	ctx context.Context,
	rd *redis.Client,
	db *sqlx.DB,
	client sarama.Client,
	producer sarama.SyncProducer,
	cls classifier.Classifier,
) error {
	referrers, err := knowledge.NewCachedDirectory(
		&knowledge.StoreDirectory{Store: &knowledge.Store{DB: db}},
		viper.GetInt(ConfReferrerCacheSize),
		viper.GetDuration(ConfReferrerCacheTTL))
	if err != nil {
		return err
	}
	worker := &processor.Worker{
		Limiter: &ratelimit.Limiter{
			Redis:     rd,
			KeyPrefix: viper.GetString(ConfRateLimitPrefix),
			Max:       viper.GetInt64(ConfRateLimitMax),
			Window:    viper.GetDuration(ConfRateLimitWindow),
		},
		Classifier: cls,
		Cache: &resultcache.Cache{
			Redis:     rd,
			KeyPrefix: viper.GetString(ConfCachePrefix),
			TTL:       viper.GetDuration(ConfCacheTTL),
		},
		Audit: &audit.Store{
			DB:        db,
			TableName: viper.GetString(ConfAuditTable),
		},
		AuditMode: auditModeFromEnv(),
		Referrers: referrers,
		Producer:  producer,
		OutTopic:  viper.GetString(ConfKafkaOutboundTopic),
		DeadTopic: viper.GetString(ConfKafkaDeadTopic),
		Log:       log.Named("processor"),
	}
	group, err := newConsumerGroup(lc, client, viper.GetString(ConfKafkaWorkerGroup))
	if err != nil {
		return err
	}
	inTopic := viper.GetString(ConfKafkaInboundTopic)
	serveMetrics(lc)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				log.Info("Starting worker", zap.String(ConfKafkaInboundTopic, inTopic))
				err := consume.RunGroup(ctx, group, []string{inTopic}, worker,
					consumePolicyFromEnv(), log)
				if err != nil && ctx.Err() == nil {
					log.Error("Worker failed", zap.Error(err))
				}
				if err := shutdown.Shutdown(); err != nil {
					log.Fatal("Failed to shut down", zap.Error(err))
				}
			}()
			return nil
		},
	})
	return nil
}

// serveMetrics exposes Prometheus metrics when a listen address is set.
func serveMetrics(lc fx.Lifecycle) {
	addr := viper.GetString(ConfMetricsListen)
	if addr == "" {
		return
	}
	server := &http.Server{Addr: addr, Handler: promhttp.Handler()}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				log.Info("Serving metrics", zap.String(ConfMetricsListen, addr))
				if err := server.ListenAndServe(); err != http.ErrServerClosed {
					log.Error("Metrics server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return server.Shutdown(stopCtx)
		},
	})
}
