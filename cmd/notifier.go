package main

import (
	"context"

	"github.com/Shopify/sarama"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.scholarhub.net/triage/pkg/consume"
	"go.scholarhub.net/triage/pkg/notifier"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var notifierCmd = cobra.Command{
	Use:   "notifier",
	Short: "Run notification delivery worker",
	Long: "Consumes the outbound notification queue and performs the\n" +
		"delivery side effect for each message.",
	Args: cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		app := fx.New(
			fx.Provide(providers...),
			fx.Invoke(runNotifier),
			fx.Logger(zap.NewStdLog(log)),
		)
		app.Run()
	},
}

func init() {
	rootCmd.AddCommand(&notifierCmd)
}

func runNotifier(
	lc fx.Lifecycle,
	shutdown fx.Shutdowner,
	ctx context.Context,
	client sarama.Client,
) error {
	worker := &notifier.Worker{
		Mailer: &notifier.SimulatedMailer{
			Log:   log.Named("mailer"),
			Delay: viper.GetDuration(ConfNotifierDelay),
		},
		Log: log.Named("notifier"),
	}
	group, err := newConsumerGroup(lc, client, viper.GetString(ConfKafkaNotifierGroup))
	if err != nil {
		return err
	}
	outTopic := viper.GetString(ConfKafkaOutboundTopic)
	serveMetrics(lc)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				log.Info("Starting notifier", zap.String(ConfKafkaOutboundTopic, outTopic))
				err := consume.RunGroup(ctx, group, []string{outTopic}, worker,
					consumePolicyFromEnv(), log)
				if err != nil && ctx.Err() == nil {
					log.Error("Notifier failed", zap.Error(err))
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
