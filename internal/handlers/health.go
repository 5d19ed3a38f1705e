package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// HealthCheck returns service health status (basic)
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "catalog-import-service",
	})
}

// HealthHandler reports readiness of the database and, when configured, Redis.
type HealthHandler struct {
	db    *sql.DB
	redis *redis.Client
}

func NewHealthHandler(db *sql.DB, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{db: db, redis: redisClient}
}

// ReadinessCheck returns 503 until the database answers
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := gin.H{}
	status := http.StatusOK
	health := gin.H{
		"status":  "ready",
		"service": "catalog-import-service",
		"checks":  checks,
	}

	if err := h.db.PingContext(ctx); err != nil {
		checks["database"] = gin.H{"status": "unhealthy", "error": err.Error()}
		health["status"] = "not_ready"
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = gin.H{"status": "healthy"}
	}

	// Redis only mirrors snapshots; losing it degrades but does not block.
	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = gin.H{"status": "unhealthy", "error": err.Error()}
			if status == http.StatusOK {
				health["status"] = "degraded"
			}
		} else {
			checks["redis"] = gin.H{"status": "healthy"}
		}
	}

	c.JSON(status, health)
}
