package bootstrap

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lmnr-ai/ingest-core/pkg/database"
)

// ServeHealth starts a tiny gin /healthz endpoint reporting relational
// store connectivity. The ingestion/query API this pattern used to
// back is out of scope here; only the health-check shape survives.
func ServeHealth(addr string, workerName string, db *database.Client) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		status, err := database.Health(ctx, db.DB())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"worker":   workerName,
				"database": status,
				"error":    err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"worker":   workerName,
			"database": status,
		})
	})

	_ = router.Run(addr)
}
