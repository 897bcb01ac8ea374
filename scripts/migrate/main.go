package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mahaj/pulse-chat/pkg/config"
	"github.com/mahaj/pulse-chat/pkg/db"
	"github.com/mahaj/pulse-chat/pkg/logger"
)

func main() {
	drop := flag.Bool("drop", false, "drop tables instead of creating them")
	tables := flag.String("tables", "", "comma separated tables to drop (default all)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg, err := logger.New(cfg.LogLevel, true)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer lg.Sync()

	if err := db.CreateKeyspace(cfg.ScyllaHosts, cfg.Keyspace, lg); err != nil {
		lg.Fatal("create keyspace", zap.Error(err))
	}
	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, lg)
	if err != nil {
		lg.Fatal("connect scylla", zap.Error(err))
	}
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if *drop {
		var names []string
		if *tables != "" {
			names = strings.Split(*tables, ",")
		}
		if err := db.Drop(ctx, session, names...); err != nil {
			lg.Fatal("drop", zap.Error(err))
		}
		lg.Info("tables dropped", zap.Strings("tables", names))
		return
	}

	if err := db.Migrate(ctx, session); err != nil {
		lg.Fatal("migrate", zap.Error(err))
	}
	lg.Info("schema up to date", zap.Int("tables", len(db.Tables)))
}
