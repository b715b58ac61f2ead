package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/domain"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/pkg/logger"
)

type Handler struct {
	service domain.LeaderboardService
	logger  *logger.Logger
}

func NewHandler(service domain.LeaderboardService, logger *logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) GetLeaderboard(c *gin.Context) {
	network := c.Param("network")

	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid limit parameter. Must be a positive integer",
			})
			return
		}
		limit = n
	}

	rows, err := h.service.GetLeaderboard(network, limit)
	if err != nil {
		h.respondError(c, err, "Failed to retrieve leaderboard")
		return
	}

	response := domain.LeaderboardResponse{
		Network: network,
		Data:    rows,
	}

	if response.Data == nil {
		response.Data = []domain.LeaderboardRow{}
	}

	c.JSON(http.StatusOK, response)
}

func (h *Handler) GetProfile(c *gin.Context) {
	profile, err := h.service.GetProfile(c.Request.Context(), c.Param("address"))
	if err != nil {
		h.respondError(c, err, "Failed to retrieve profile")
		return
	}

	c.JSON(http.StatusOK, profile)
}

func (h *Handler) GetIdentityProfile(c *gin.Context) {
	fid, err := strconv.ParseInt(c.Param("fid"), 10, 64)
	if err != nil || fid <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid fid parameter. Must be a positive integer",
		})
		return
	}

	profile, err := h.service.GetIdentityProfile(c.Request.Context(), fid)
	if err != nil {
		h.respondError(c, err, "Failed to retrieve identity")
		return
	}

	c.JSON(http.StatusOK, profile)
}

func (h *Handler) GetStatuses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"networks": h.service.GetStatuses(),
		"resolver": h.service.GetResolverStatus(),
	})
}

func (h *Handler) GetStatus(c *gin.Context) {
	status, err := h.service.GetStatus(c.Param("network"))
	if err != nil {
		h.respondError(c, err, "Failed to retrieve status")
		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"networks": h.service.Networks(),
	})
}

func (h *Handler) GetReadiness(c *gin.Context) {
	if !h.service.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"error":  "waiting for pollers to initialize",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.service.GetStats()
	if err != nil {
		h.logger.Errorw("Failed to get stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve statistics",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) respondError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, domain.ErrUnknownNetwork):
		c.JSON(http.StatusNotFound, gin.H{
			"error":    err.Error(),
			"networks": h.service.Networks(),
		})
	case errors.Is(err, domain.ErrInvalidAddress):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrIdentityNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrRateLimited):
		h.logger.Warnw(message, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": message})
	default:
		h.logger.Errorw(message, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}
