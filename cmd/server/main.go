package main

import (
	"context"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	cognitoidp "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/mtktsuda/kotori/internal/blob"
	"github.com/mtktsuda/kotori/internal/config"
	api "github.com/mtktsuda/kotori/internal/http"
	"github.com/mtktsuda/kotori/internal/identity"
	"github.com/mtktsuda/kotori/internal/log"
	"github.com/mtktsuda/kotori/internal/metrics"
	"github.com/mtktsuda/kotori/internal/notify"
	"github.com/mtktsuda/kotori/internal/queue"
	"github.com/mtktsuda/kotori/internal/repo"
	"github.com/mtktsuda/kotori/internal/session"
)

func main() {
	cfg := config.Load()

	logger, err := log.Init(os.Getenv("APP_ENV") == "production")
	if err != nil {
		stdlog.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	metrics.MustRegister()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := repo.NewStore(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		logger.Fatal("mongo connect", zap.Error(err))
	}
	defer store.Close(context.Background())

	if err := store.EnsureIndexes(ctx); err != nil {
		logger.Fatal("ensure indexes", zap.Error(err))
	}

	rds := repo.NewRedis(cfg.RedisAddr)
	defer rds.Close()
	sessionRedis := rds.C
	if err := rds.Ping(ctx); err != nil {
		logger.Warn("redis unavailable, provider rate limiting off", zap.Error(err))
		sessionRedis = nil
	}

	pub, err := queue.NewRabbit(cfg.RabbitURL, cfg.EventExchange)
	if err != nil {
		logger.Warn("rabbit unavailable, broadcasts off", zap.Error(err))
		pub = queue.NewNoop()
	}
	defer pub.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Fatal("aws config", zap.Error(err))
	}
	blobs := blob.NewS3(s3.NewFromConfig(awsCfg), cfg.S3Bucket)
	idp := identity.NewCognito(cognitoidp.NewFromConfig(awsCfg), cfg.CognitoPoolID)

	sessions := session.NewResolver(store, idp, sessionRedis,
		time.Duration(cfg.TokenTTLSeconds)*time.Second, cfg.ProviderRateLimitPerMin)

	notifier := notify.New(store, pub, cfg.EventExchange)

	h := api.NewHandler(store, sessions, notifier, blobs, idp, cfg.AdAccountID)
	r := api.NewRouter(h)

	srvErr := make(chan error, 1)
	go func() { srvErr <- r.Run(":" + cfg.Port) }()

	logger.Info("kotori listening", zap.String("port", cfg.Port))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Info("signal, shutting down", zap.String("signal", s.String()))
	case err := <-srvErr:
		logger.Error("server error", zap.Error(err))
	}
}
