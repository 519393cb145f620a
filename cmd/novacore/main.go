package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/pkg/cache"
	"github.com/wyfcoding/pkg/config"
	"github.com/wyfcoding/pkg/database"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/pkg/messagequeue/kafka"
	"github.com/wyfcoding/pkg/messagequeue/outbox"
	"github.com/wyfcoding/pkg/metrics"
	"golang.org/x/sync/errgroup"

	abuseapp "github.com/novastate/novacore/internal/abuse/application"
	abusedomain "github.com/novastate/novacore/internal/abuse/domain"
	abuseinfra "github.com/novastate/novacore/internal/abuse/infrastructure"
	creditapp "github.com/novastate/novacore/internal/credit/application"
	creditdomain "github.com/novastate/novacore/internal/credit/domain"
	creditinfra "github.com/novastate/novacore/internal/credit/infrastructure"
	creditmsg "github.com/novastate/novacore/internal/credit/infrastructure/messaging"
	creditredis "github.com/novastate/novacore/internal/credit/infrastructure/redis"
	credithttp "github.com/novastate/novacore/internal/credit/interfaces"
	creditconsumer "github.com/novastate/novacore/internal/credit/interfaces/consumer"
	"github.com/novastate/novacore/internal/identity"
	ledgerapp "github.com/novastate/novacore/internal/ledger/application"
	ledgerdomain "github.com/novastate/novacore/internal/ledger/domain"
	ledgerinfra "github.com/novastate/novacore/internal/ledger/infrastructure"
	questapp "github.com/novastate/novacore/internal/quest/application"
	questdomain "github.com/novastate/novacore/internal/quest/domain"
	questinfra "github.com/novastate/novacore/internal/quest/infrastructure"
	questmsg "github.com/novastate/novacore/internal/quest/infrastructure/messaging"
	questhttp "github.com/novastate/novacore/internal/quest/interfaces"
	"github.com/novastate/novacore/internal/rules"
	treasuryapp "github.com/novastate/novacore/internal/treasury/application"
	treasurydomain "github.com/novastate/novacore/internal/treasury/domain"
	treasuryinfra "github.com/novastate/novacore/internal/treasury/infrastructure"
	treasurymsg "github.com/novastate/novacore/internal/treasury/infrastructure/messaging"
	treasuryhttp "github.com/novastate/novacore/internal/treasury/interfaces"
)

var configPath = flag.String("config", "configs/novacore/config.toml", "config file path")

func main() {
	flag.Parse()

	// 1. Config
	var cfg config.Config
	if err := config.Load(*configPath, &cfg); err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	policy, err := rules.LoadPolicy()
	if err != nil {
		panic(fmt.Sprintf("failed to load policy: %v", err))
	}
	rulesHandle := rules.NewHandle(rules.DefaultSnapshot())

	// 2. Logging
	logCfg := &logging.Config{Service: cfg.Server.Name, Level: cfg.Log.Level}
	logger := logging.NewFromConfig(logCfg)
	slog.SetDefault(logger.Logger)

	// 3. Metrics
	metricsImpl := metrics.NewMetrics(cfg.Server.Name)

	// 4. Database
	db, err := database.NewDB(cfg.Data.Database, cfg.CircuitBreaker, logger, metricsImpl)
	if err != nil {
		slog.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	if cfg.Server.Environment == "dev" {
		if err := db.RawDB().AutoMigrate(
			&ledgerdomain.Account{},
			&ledgerdomain.Entry{},
			&treasurydomain.Flow{},
			&creditdomain.CitizenScore{},
			&creditdomain.ScoreChange{},
			&creditdomain.RiskFlag{},
			&abusedomain.Profile{},
			&abusedomain.Signal{},
			&questdomain.UserQuest{},
			&questdomain.DailyCounter{},
			&identity.User{},
			&outbox.Message{},
		); err != nil {
			slog.Error("failed to migrate database", "error", err)
		}
	}

	// 5. Kafka & Outbox
	kafkaProducer := kafka.NewProducer(&cfg.MessageQueue.Kafka, logger, metricsImpl)
	outboxMgr := outbox.NewManager(db.RawDB(), logger.Logger)
	pusher := func(ctx context.Context, topic, key string, payload []byte) error {
		return kafkaProducer.PublishToTopic(ctx, topic, []byte(key), payload)
	}
	outboxProcessor := outbox.NewProcessor(outboxMgr, pusher, 100, 2*time.Second)

	// 6. Redis
	redisCache, err := cache.NewRedisCache(&cfg.Data.Redis, cfg.CircuitBreaker, logger, metricsImpl)
	if err != nil {
		slog.Error("failed to init redis", "error", err)
		os.Exit(1)
	}

	// 7. Repositories
	txm := ledgerinfra.NewTransactionManager(db.RawDB())
	accountRepo := ledgerinfra.NewGormAccountRepository(db.RawDB())
	entryRepo := ledgerinfra.NewGormEntryRepository(db.RawDB())
	flowRepo := treasuryinfra.NewGormFlowRepository(db.RawDB())
	scoreRepo := creditinfra.NewGormScoreRepository(db.RawDB())
	changeRepo := creditinfra.NewGormChangeRepository(db.RawDB())
	flagRepo := creditinfra.NewGormFlagRepository(db.RawDB())
	profileRepo := abuseinfra.NewGormProfileRepository(db.RawDB())
	signalRepo := abuseinfra.NewGormSignalRepository(db.RawDB())
	questRepo := questinfra.NewGormQuestRepository(db.RawDB())
	counterRepo := questinfra.NewGormCounterRepository(db.RawDB())
	userDirectory := identity.NewDirectory(db.RawDB())
	leaderboardCache := creditredis.NewLeaderboardCache(redisCache.GetClient(), logger.Logger)

	// 8. Application services
	ledgerSvc := ledgerapp.NewService(accountRepo, entryRepo, txm, policy, logger.Logger)
	treasuryRouter := treasuryapp.NewRouterService(flowRepo, ledgerSvc, txm, rulesHandle,
		treasurymsg.NewOutboxPublisher(outboxMgr), logger.Logger)
	treasuryQuery := treasuryapp.NewQueryService(flowRepo, ledgerSvc, logger.Logger)
	creditEngine := creditapp.NewEngine(scoreRepo, changeRepo, txm, rulesHandle, policy,
		creditmsg.NewOutboxPublisher(outboxMgr), logger.Logger)
	creditQuery := creditapp.NewQueryService(scoreRepo, changeRepo, flagRepo, userDirectory,
		leaderboardCache, rulesHandle, logger.Logger)
	abuseGuard := abuseapp.NewGuard(profileRepo, signalRepo, txm, policy, logger.Logger)
	questSvc := questapp.NewService(questRepo, counterRepo, txm, ledgerSvc, creditEngine,
		abuseGuard, questmsg.NewOutboxPublisher(outboxMgr), rulesHandle, policy, logger.Logger)

	// 9. Interfaces
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), identity.Middleware())
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	admin := identity.RequireAdmin(policy)
	api := r.Group("/api/v1")
	credithttp.NewHTTPHandler(creditEngine, creditQuery).RegisterRoutes(api, admin)
	treasuryhttp.NewHTTPHandler(treasuryRouter, treasuryQuery).RegisterRoutes(api)
	questhttp.NewHTTPHandler(questSvc).RegisterRoutes(api, admin)

	// 10. Lifecycle
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		outboxProcessor.Start()
		<-ctx.Done()
		outboxProcessor.Stop()
		return nil
	})

	g.Go(func() error {
		consumerCfg := cfg.MessageQueue.Kafka
		consumerCfg.Topic = creditconsumer.TopicBehaviorEvents
		if consumerCfg.GroupID == "" {
			consumerCfg.GroupID = "novacore-behavior-group"
		}
		consumer := kafka.NewConsumer(&consumerCfg, logger, metricsImpl)
		handler := creditconsumer.NewBehaviorHandler(creditEngine, logger.Logger)
		handler.Subscribe(ctx, consumer)
		return nil
	})

	g.Go(func() error {
		questSvc.RunExpirySweeper(ctx, time.Minute)
		return nil
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTP.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g.Go(func() error {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			slog.Info("shutting down...")
			cancel()
		case <-ctx.Done():
			slog.Info("context cancelled, shutting down...")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
