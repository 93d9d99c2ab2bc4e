package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/npezzotti/eventchat/internal/api"
	"github.com/npezzotti/eventchat/internal/config"
	"github.com/npezzotti/eventchat/internal/database"
	"github.com/npezzotti/eventchat/internal/notify"
	"github.com/npezzotti/eventchat/internal/server"
	"github.com/npezzotti/eventchat/internal/stats"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

// envOr returns the environment value of key, or def when unset.
func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

var (
	addr           string
	dsn            string
	signingKey     string
	allowedOrigins stringSliceFlag
	redisAddr      string
	kafkaBrokers   stringSliceFlag
	kafkaTopic     string
	migrate        bool
)

func main() {
	logger := log.New(os.Stderr, "[eventchat] ", log.LstdFlags)

	if err := godotenv.Load(); err != nil {
		logger.Println("no .env file found, using environment variables")
	}

	flag.StringVar(&addr, "addr", envOr("EVENTCHAT_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", envOr("EVENTCHAT_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&signingKey, "signing-key", envOr("EVENTCHAT_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&redisAddr, "redis-addr", os.Getenv("EVENTCHAT_REDIS_ADDR"), "fan out room frames through this Redis server")
	flag.Var(&kafkaBrokers, "kafka-brokers", "comma-separated Kafka brokers; notifications go to Kafka when set")
	flag.StringVar(&kafkaTopic, "kafka-topic", envOr("EVENTCHAT_KAFKA_TOPIC", "eventchat-notifications"), "Kafka topic for notifications")
	flag.BoolVar(&migrate, "migrate", true, "apply database migrations on startup")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if v := os.Getenv("EVENTCHAT_ALLOWED_ORIGINS"); v != "" {
			allowedOrigins.Set(v)
		}
	}
	if len(kafkaBrokers) == 0 {
		if v := os.Getenv("EVENTCHAT_KAFKA_BROKERS"); v != "" {
			kafkaBrokers.Set(v)
		}
	}

	var opts []config.Option
	if redisAddr != "" {
		opts = append(opts, config.WithRedis(redisAddr))
	}
	if len(kafkaBrokers) > 0 {
		opts = append(opts, config.WithKafka(kafkaBrokers, kafkaTopic))
	}

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins, opts...)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgEventChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	if migrate {
		if err := dbConn.Migrate(); err != nil {
			logger.Fatal("db migrate:", err)
		}
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	var sink notify.Sink = notify.NewDatabaseSink(dbConn)
	if cfg.NotificationSink == config.SinkKafka {
		kafkaSink := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaSink.Close()
		sink = kafkaSink
		logger.Printf("writing notifications to kafka topic %q", cfg.KafkaTopic)
	}
	dispatcher := notify.NewDispatcher(logger, dbConn, sink, 0)

	serverOpts := []server.Option{server.WithNotifier(dispatcher)}

	var redisBroadcaster *server.RedisBroadcaster
	if cfg.Broadcaster == config.BroadcasterRedis {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("redis ping:", err)
		}

		redisBroadcaster = server.NewRedisBroadcaster(rdb, logger)
		serverOpts = append(serverOpts,
			server.WithBroadcaster(redisBroadcaster),
			server.WithMemberCounter(server.NewRedisMembers(rdb, uuid.NewString())),
		)
		logger.Printf("fanning out through redis at %s", cfg.RedisAddr)
	}

	chatServer, err := server.NewChatServer(logger, dbConn, statsUpdater, serverOpts...)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewEventChatApp(mux, logger, chatServer, dbConn, cfg)

	statsUpdater.Run()

	dispatcher.Run()
	defer dispatcher.Stop()

	go chatServer.Run()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if redisBroadcaster != nil {
		g.Go(func() error {
			return redisBroadcaster.Relay(gctx, chatServer.LocalBroadcaster())
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Println("shutting down...")

		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutDownCtx); err != nil {
			return err
		}

		logger.Println("shutting down chat server...")
		return chatServer.Shutdown(shutDownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Println("server:", err)
	}

	logger.Println("shutdown complete")
}
