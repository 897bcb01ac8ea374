package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mahaj/pulse-chat/pkg/config"
	"github.com/mahaj/pulse-chat/pkg/db"
	"github.com/mahaj/pulse-chat/pkg/logger"
)

const groupID = "chat-archiver"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg, err := logger.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer lg.Sync()
	lg = lg.Named("archiver")

	if len(cfg.KafkaBrokers) == 0 {
		lg.Fatal("KAFKA_BROKERS is required")
	}

	if err := db.CreateKeyspace(cfg.ScyllaHosts, cfg.Keyspace, lg); err != nil {
		lg.Fatal("create keyspace", zap.Error(err))
	}
	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, lg)
	if err != nil {
		lg.Fatal("connect scylla", zap.Error(err))
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := db.Migrate(ctx, session); err != nil {
		lg.Fatal("migrate", zap.Error(err))
	}

	consumer := NewConsumer(cfg.KafkaBrokers, cfg.JournalTopic, groupID, db.NewEvents(session), lg)
	defer consumer.Close()

	lg.Info("consuming journal", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.JournalTopic))
	consumer.Consume(ctx)
	lg.Info("archiver stopped")
}
