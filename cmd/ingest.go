package main

import (
	"context"
	"net/http"
	"time"

	"github.com/Shopify/sarama"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.scholarhub.net/triage/pkg/ingest"
	"go.scholarhub.net/triage/pkg/knowledge"
	"go.scholarhub.net/triage/pkg/resultcache"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ingestCmd = cobra.Command{
	Use:   "ingest",
	Short: "Run ingestion API server",
	Long: "Serves the HTTP endpoint that accepts applicant queries and\n" +
		"publishes them to the inbound queue, plus the answer-polling and\n" +
		"referrer registry endpoints.",
	Args: cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		app := fx.New(
			fx.Provide(providers...),
			fx.Invoke(runIngest),
			fx.Logger(zap.NewStdLog(log)),
		)
		app.Run()
	},
}

func init() {
	rootCmd.AddCommand(&ingestCmd)
}

func runIngest(
	lc fx.Lifecycle,
	rd *redis.Client,
	db *sqlx.DB,
	producer sarama.SyncProducer,
) {
	server := &ingest.Server{
		Producer: producer,
		Cache: &resultcache.Cache{
			Redis:     rd,
			KeyPrefix: viper.GetString(ConfCachePrefix),
			TTL:       viper.GetDuration(ConfCacheTTL),
		},
		Log:       log.Named("ingest"),
		InTopic:   viper.GetString(ConfKafkaInboundTopic),
		Knowledge: &knowledge.Store{DB: db},
	}
	addr := viper.GetString(ConfIngestListen)
	httpServer := &http.Server{Addr: addr, Handler: server.Router()}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				log.Info("Serving ingestion API", zap.String(ConfIngestListen, addr))
				if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
					log.Fatal("Ingestion API failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return httpServer.Shutdown(stopCtx)
		},
	})
}
