package main

import (
	"context"

	"github.com/Shopify/sarama"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/viper"
	"go.scholarhub.net/triage/pkg/classifier"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var providers = []interface{}{
	newContext,
	newRedis,
	newMySQL,
	newSaramaConfig,
	newSaramaClient,
	newSyncProducer,
	newClassifier,
}

func newContext(lc fx.Lifecycle) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			cancel()
			return nil
		},
	})
	return ctx
}

func newRedis(ctx context.Context, lc fx.Lifecycle) (*redis.Client, error) {
	rd := redisClientFromEnv()
	if err := rd.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			log.Info("Closing Redis client")
			return rd.Close()
		},
	})
	return rd, nil
}

func newMySQL(ctx context.Context, lc fx.Lifecycle) (*sqlx.DB, error) {
	db, err := openDB()
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		log.Fatal("Failed to ping DB", zap.Error(err))
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return db.Close()
		},
	})
	return db, nil
}

func newSaramaConfig() (*sarama.Config, error) {
	return saramaConfigFromEnv()
}

func newSaramaClient(lc fx.Lifecycle, config *sarama.Config) (sarama.Client, error) {
	addrs := viper.GetStringSlice(ConfKafkaBrokers)
	log.Info("Connecting to Kafka (sarama)",
		zap.Strings(ConfKafkaBrokers, addrs))
	client, err := sarama.NewClient(addrs, config)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newSyncProducer(lc fx.Lifecycle, client sarama.Client) (sarama.SyncProducer, error) {
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			log.Info("Closing Kafka producer")
			return producer.Close()
		},
	})
	return producer, nil
}

func newClassifier() classifier.Classifier {
	return classifierFromEnv()
}

func newConsumerGroup(lc fx.Lifecycle, client sarama.Client, name string) (sarama.ConsumerGroup, error) {
	log.Info("Binding to Kafka consumer group",
		zap.String("kafka.consumer_group", name))
	group, err := sarama.NewConsumerGroupFromClient(name, client)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			log.Info("Closing Kafka consumer group client")
			return group.Close()
		},
	})
	return group, nil
}
