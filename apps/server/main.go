package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mahaj/pulse-chat/pkg/api"
	"github.com/mahaj/pulse-chat/pkg/auth"
	"github.com/mahaj/pulse-chat/pkg/chat"
	"github.com/mahaj/pulse-chat/pkg/config"
	"github.com/mahaj/pulse-chat/pkg/db"
	"github.com/mahaj/pulse-chat/pkg/gateway"
	"github.com/mahaj/pulse-chat/pkg/journal"
	"github.com/mahaj/pulse-chat/pkg/logger"
	"github.com/mahaj/pulse-chat/pkg/media"
	"github.com/mahaj/pulse-chat/pkg/ratelimit"
	"github.com/mahaj/pulse-chat/pkg/snowflake"
	"github.com/mahaj/pulse-chat/pkg/store"
	"github.com/mahaj/pulse-chat/pkg/typing"
)

const typingSweep = time.Second

func openStore(cfg config.Config, ids store.IDGenerator, lg *zap.Logger) (store.Store, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		lg.Warn("using the in-memory store; state is lost on restart")
		return store.NewMemory(ids), func() {}, nil
	}
	if err := db.CreateKeyspace(cfg.ScyllaHosts, cfg.Keyspace, lg); err != nil {
		return nil, nil, err
	}
	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, lg)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := db.Migrate(ctx, session); err != nil {
		session.Close()
		return nil, nil, err
	}
	return db.NewStore(session, ids), session.Close, nil
}

func openLimiter(cfg config.Config, lg *zap.Logger) (ratelimit.Limiter, func()) {
	max, window := cfg.RateLimit.MaxMessages, cfg.RateLimit.Window
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemory(max, window), func() {}
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		lg.Warn("redis unreachable; the limiter fails open until it is back",
			zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	return ratelimit.NewRedis(rdb, max, window), func() { rdb.Close() }
}

func openJournal(cfg config.Config, lg *zap.Logger) journal.Journal {
	if len(cfg.KafkaBrokers) == 0 {
		return journal.Nop{}
	}
	lg.Info("journaling to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.JournalTopic))
	return journal.NewKafka(cfg.KafkaBrokers, cfg.JournalTopic, lg.Named("journal"))
}

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
	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		lg.Fatal("snowflake node", zap.Error(err))
	}
	st, closeStore, err := openStore(cfg, node, lg.Named("store"))
	if err != nil {
		lg.Fatal("open store", zap.Error(err))
	}
	defer closeStore()

	limiter, closeLimiter := openLimiter(cfg, lg)
	defer closeLimiter()
	jr := openJournal(cfg, lg)
	defer jr.Close()

	uploader, err := media.NewDisk(cfg.MediaDir, cfg.MediaBaseURL)
	if err != nil {
		lg.Fatal("media dir", zap.Error(err))
	}

	hub := chat.NewHub(chat.Deps{
		Store:    st,
		Typing:   typing.NewTracker(cfg.TypingTTL),
		Limiter:  limiter,
		Uploader: uploader,
		Journal:  jr,
		Logger:   lg.Named("chat"),
	})
	signer := auth.NewSigner(cfg.JWTSecret, cfg.TokenTTL)
	ws := gateway.NewHandler(hub, signer, cfg.AllowedOrigins, lg.Named("gateway"))

	srv := api.New(api.Deps{
		Hub:            hub,
		Users:          st,
		Signer:         signer,
		OTP:            auth.LogSender{Log: lg.Named("otp")},
		Uploader:       uploader,
		Logger:         lg.Named("api"),
		Websocket:      ws,
		OTPTTL:         cfg.OTPTTL,
		TokenTTL:       cfg.TokenTTL,
		AllowedOrigins: cfg.AllowedOrigins,
		MediaDir:       cfg.MediaDir,
		MediaBaseURL:   cfg.MediaBaseURL,
		SecureCookie:   !cfg.Development,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go hub.Run(ctx, typingSweep)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		lg.Info("chat server starting", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("http shutdown", zap.Error(err))
	}
	ws.Shutdown(shutdownCtx)
}
