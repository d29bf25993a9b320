package main

import (
	"time"

	"gorm.io/gorm"

	"github.com/portfolio-site/projectstats/config"
	"github.com/portfolio-site/projectstats/routes"
	"github.com/portfolio-site/projectstats/store"
	"github.com/portfolio-site/projectstats/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer func() { _ = utils.Logger.Sync() }()

	if cfg.DatabaseURI == "" {
		utils.Sugar.Error("DATABASE_URI is not set; stats requests will fail until it is configured")
	}
	if cfg.AdminToken == "" && cfg.AdminTokenHash == "" {
		utils.Sugar.Warn("ADMIN_TOKEN is not set; bulk reset is disabled")
	}

	// Connection is opened lazily by the first request
	sqlLog := utils.Logger.Named("gorm")
	conn := store.NewConnector(cfg.DatabaseURI, func(dsn string) (*gorm.DB, error) {
		return config.OpenDatabase(dsn, cfg.LogLevel, sqlLog)
	})
	defer conn.Close()

	rc := utils.NewRedisClient(cfg)
	if rc != nil {
		defer rc.Close()
	}
	cache := utils.NewTotalsCache(rc, time.Duration(cfg.TotalsCacheTTLSec)*time.Second)
	r := routes.SetupRouter(cfg, store.NewGormStatsStore(conn), cache)

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r); err != nil {
		utils.Sugar.Errorf("server stopped with error: %v", err)
	}
}
