package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/portfolio-site/projectstats/config"
	"github.com/portfolio-site/projectstats/controllers"
	"github.com/portfolio-site/projectstats/middleware"
	"github.com/portfolio-site/projectstats/store"
	"github.com/portfolio-site/projectstats/utils"
)

// StatsPaths are the mount points of the stats endpoint. The second keeps old serverless clients working.
var StatsPaths = []string{"/api/v1/project-stats", "/.netlify/functions/projectStats"}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(cfg config.AppConfig, st store.StatsStore, cache *utils.TotalsCache) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())

	// Access log goes to its own rolling file
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err == nil {
		r.Use(ginzap.GinzapWithConfig(gl, &ginzap.Config{
			TimeFormat: time.RFC3339,
			UTC:        true,
			Context: func(c *gin.Context) []zapcore.Field {
				return []zapcore.Field{zap.String("request_id", middleware.GetRequestID(c))}
			},
		}))
		r.Use(ginzap.RecoveryWithZap(gl, false))
	} else {
		// fallback to default recovery if logger failed to init
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{"Retry-After", middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	statsController := controllers.NewStatsController(st, cache, cfg.BatchMaxIDs)
	// One limiter across both mount points so a client cannot double its budget.
	limiter := middleware.NewWindowLimiter(cfg.RateLimitPerMinute, time.Duration(cfg.RateLimitWindowSec)*time.Second)
	admin := middleware.AdminSecret{Token: cfg.AdminToken, TokenHash: cfg.AdminTokenHash}

	for _, path := range StatsPaths {
		r.GET(path, statsController.Get)
		r.POST(path, middleware.RateLimitMiddleware(limiter), statsController.Increment)
		r.DELETE(path,
			middleware.RequireQueryFlag("clear_all"),
			middleware.AdminTokenRequired(admin),
			statsController.ClearAll,
		)
	}

	r.NoMethod(func(ctx *gin.Context) {
		utils.Sugar.Warnw("method not allowed", "method", ctx.Request.Method, "path", ctx.Request.URL.Path,
			"request_id", middleware.GetRequestID(ctx))
		utils.Error(ctx, http.StatusMethodNotAllowed, 40502, "Method not allowed")
	})
	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "api route not found")
	})

	return r
}
