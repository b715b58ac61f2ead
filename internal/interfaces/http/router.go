package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/domain"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/pkg/config"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/pkg/logger"
)

func NewRouter(service domain.LeaderboardService, server config.Server, limiter *RateLimiter, logger *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(
		RecoveryMiddleware(logger),
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
		CORSMiddleware(),
		RateLimitMiddleware(limiter),
		TimeoutMiddleware(server.RequestTimeout),
	)

	handler := NewHandler(service, logger)

	router.GET("/health", handler.GetHealth)
	router.GET("/ready", handler.GetReadiness)

	router.GET("/leaderboard/:network", handler.GetLeaderboard)
	router.GET("/profile/:address", handler.GetProfile)
	router.GET("/identity/:fid", handler.GetIdentityProfile)

	router.GET("/status", handler.GetStatuses)
	router.GET("/status/:network", handler.GetStatus)
	router.GET("/stats", handler.GetStats)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
