package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/kpataki/klaragw/internal/api"
	"github.com/kpataki/klaragw/internal/config"
	"github.com/kpataki/klaragw/internal/gateway"
	"github.com/kpataki/klaragw/internal/model"
	"github.com/kpataki/klaragw/internal/repository"
	"github.com/kpataki/klaragw/internal/tools"
	"github.com/kpataki/klaragw/pkg/logger"
)

func main() {
	// 1. Load Config
	cfg := config.LoadConfig()

	// 2. Init Logger
	logger.InitLogger(cfg.Log.Level)
	logger.Log.Info("Starting Klara voice gateway...")

	// 3. Init Database
	db := initDB(cfg)
	callRepo := repository.NewCallRepository(db)
	reminderRepo := repository.NewReminderRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Init Tools
	registry := tools.NewRegistry()
	defer registry.Close()
	for _, server := range cfg.Tools.MCPServers {
		mcpCtx, mcpCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := registry.ConnectMCPServer(mcpCtx, server); err != nil {
			logger.Log.Warnf("Skipping MCP server %s: %v", server.Name, err)
		}
		mcpCancel()
	}

	// 5. Start Gateway
	gw := gateway.New(cfg, registry, callRepo)
	tools.RegisterDefaults(registry, reminderRepo, gw.StatusMap)
	defer gw.Close()
	go func() {
		if err := gw.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Log.Errorf("Gateway stopped: %v", err)
		}
	}()

	// 6. Start API Server
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	sh := api.NewStatusHandler(gw, callRepo, reminderRepo)
	sh.RegisterRoutes(r)

	go func() {
		logger.Log.Infof("Server listening on %s", cfg.Server.Port)
		if err := r.Run(cfg.Server.Port); err != nil {
			logger.Log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// 7. Wait for shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Log.Info("Shutting down...")
	cancel()
}

func initDB(cfg *config.Config) *gorm.DB {
	var db *gorm.DB
	var err error

	driver := cfg.Database.Driver
	dsn := cfg.Database.DSN

	switch driver {
	case "mysql":
		db, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	default:
		// Default to SQLite (pure Go)
		if dsn == "" {
			dsn = "klaragw.db"
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	}

	if err != nil {
		logger.Log.Fatalf("Failed to connect database (%s): %v", driver, err)
	}

	// Auto Migrate
	db.AutoMigrate(&model.Reminder{}, &model.CallRecord{})

	return db
}
