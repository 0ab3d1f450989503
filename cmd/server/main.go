package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blues/collab/internal/chain"
	"github.com/blues/collab/internal/config"
	"github.com/blues/collab/internal/event"
	"github.com/blues/collab/internal/handler"
	"github.com/blues/collab/internal/idempotency"
	"github.com/blues/collab/internal/ledger"
	"github.com/blues/collab/internal/logger"
	"github.com/blues/collab/internal/logic"
	"github.com/blues/collab/internal/repository"
	"github.com/blues/collab/internal/router"
	"github.com/blues/collab/internal/scheduler"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// balanceTransferer 同时支持转账和余额查询的账本
type balanceTransferer interface {
	logic.Transferer
	scheduler.BalanceReader
}

func main() {
	issueFor := flag.String("token", "", "print an access token for the given address and exit")
	flag.Parse()

	// 加载配置
	cfg := config.Load()
	if err := logger.Init(cfg.Log); err != nil {
		logger.Fatal("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if *issueFor != "" {
		if !common.IsHexAddress(*issueFor) {
			logger.Fatal("Invalid address: %s", *issueFor)
		}
		token, err := handler.IssueToken(cfg.Auth.JwtSecret, common.HexToAddress(*issueFor), cfg.Auth.TokenTTL)
		if err != nil {
			logger.Fatal("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化存储
	var (
		store repository.AgreementStore
		db    *gorm.DB
	)
	switch cfg.Database.Driver {
	case "postgres":
		var err error
		db, err = repository.Init(cfg.Database)
		if err != nil {
			logger.Fatal("Failed to initialize database: %v", err)
		}
		store = repository.NewGormStore(db)
	case "memory", "":
		store = repository.NewMemoryStore()
	default:
		logger.Fatal("Unsupported database driver: %s", cfg.Database.Driver)
	}
	logger.Info("Agreement store: %s", cfg.Database.Driver)

	// 初始化账本
	var (
		transferer balanceTransferer
		logicOpts  []logic.Option
		health     func(ctx context.Context) map[string]interface{}
	)
	switch cfg.Ledger.Mode {
	case "chain":
		chainManager, err := chain.NewManager(ctx, cfg.Chain)
		if err != nil {
			logger.Fatal("Failed to initialize chain manager: %v", err)
		}
		defer chainManager.Close()

		tokenTransferer, err := chain.NewTokenTransferer(chainManager)
		if err != nil {
			logger.Fatal("Failed to initialize token transferer: %v", err)
		}
		transferer = tokenTransferer
		operator := chainManager.Operator()
		logicOpts = append(logicOpts, logic.WithVaultAccount(func(string) common.Address { return operator }))
		health = func(ctx context.Context) map[string]interface{} {
			return map[string]interface{}{"chain": chainManager.GetHealthStatus(ctx)}
		}
	case "memory", "":
		memoryLedger := ledger.NewMemoryLedger()
		for addr, amount := range cfg.Ledger.Genesis {
			if !common.IsHexAddress(addr) {
				logger.Fatal("Invalid genesis address: %s", addr)
			}
			if err := memoryLedger.Mint(common.HexToAddress(addr), amount); err != nil {
				logger.Fatal("Failed to mint genesis balance: %v", err)
			}
		}
		transferer = memoryLedger
	default:
		logger.Fatal("Unsupported ledger mode: %s", cfg.Ledger.Mode)
	}
	logger.Info("Ledger mode: %s", cfg.Ledger.Mode)

	// 初始化事件分发
	var primary event.Sink
	if db != nil && cfg.Event.Persist {
		primary = event.NewGormSink(db)
	}
	observers := []event.Sink{event.LogSink{}}
	if cfg.Event.AmqpUrl != "" {
		amqpSink, err := event.DialAMQPSink(cfg.Event.AmqpUrl, cfg.Event.Exchange)
		if err != nil {
			logger.Fatal("Failed to initialize event publisher: %v", err)
		}
		defer amqpSink.Close()
		observers = append(observers, amqpSink)
	}
	dispatcher, err := event.NewDispatcher(primary, cfg.Event.Workers, observers...)
	if err != nil {
		logger.Fatal("Failed to initialize event dispatcher: %v", err)
	}
	logicOpts = append(logicOpts, logic.WithEventSink(dispatcher))

	// 初始化幂等存储
	var idemStore idempotency.Store
	if cfg.Redis.Addr != "" {
		rdb, err := idempotency.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to initialize redis: %v", err)
		}
		defer rdb.Close()
		idemStore = idempotency.NewRedisStore(rdb, cfg.Redis.TTL)
	} else {
		idemStore = idempotency.NewMemoryStore(cfg.Redis.TTL)
	}

	agreementLogic := logic.NewAgreementLogic(store, transferer, logicOpts...)

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化路由
	r := router.Setup(router.Options{
		AgreementLogic: agreementLogic,
		Idempotency:    idemStore,
		JwtSecret:      cfg.Auth.JwtSecret,
		Health:         health,
	})
	if cfg.Auth.JwtSecret == "" {
		logger.Warn("auth.jwt_secret is empty, trusting the X-Principal header")
	}

	// 启动定时任务
	interval := time.Duration(cfg.Scheduler.Interval) * time.Second
	taskManager, err := scheduler.NewManager()
	if err != nil {
		logger.Fatal("Failed to create scheduler: %v", err)
	}
	for _, job := range []scheduler.Job{
		scheduler.NewOverdueMilestoneJob(agreementLogic, interval),
		scheduler.NewVaultAuditJob(agreementLogic, transferer, interval),
	} {
		if err := taskManager.Register(job); err != nil {
			logger.Fatal("%v", err)
		}
	}
	taskManager.Start()

	// 启动服务器
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}
	go func() {
		logger.Info("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed: %v", err)
	}
	taskManager.Stop()
	dispatcher.Close()
	logger.Info("Server exited")
}
