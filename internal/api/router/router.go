package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/asset-forge/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps))

	// Generated files, when they live on local disk
	if deps.LocalFilesDir != "" {
		urlPath := deps.LocalFilesURLPath
		if urlPath == "" {
			urlPath = "/files"
		}
		r.Static(urlPath, deps.LocalFilesDir)
	}

	assetHandler := handler.NewAssetHandler(deps)
	systemHandler := handler.NewSystemHandler(deps)

	api := r.Group("/api")
	{
		assets := api.Group("/assets")
		{
			// POST /api/assets/generate - Submit a generation job
			assets.POST("/generate", assetHandler.Generate)

			// GET /api/assets - Newest assets, cursor paginated
			assets.GET("", assetHandler.ListAssets)

			// GET /api/assets/search - Vector or hybrid search
			assets.GET("/search", assetHandler.SearchAssets)

			// GET /api/assets/stream - Status events over SSE
			assets.GET("/stream", assetHandler.Stream)

			// POST /api/assets/batch-status - Bulk status catch-up
			assets.POST("/batch-status", assetHandler.BatchStatus)

			// GET /api/assets/job/:job_id - Poll a job
			assets.GET("/job/:job_id", assetHandler.GetAssetByJob)

			// GET /api/assets/:id - Asset details
			assets.GET("/:id", assetHandler.GetAsset)

			// GET /api/assets/:id/download - Download the output file
			assets.GET("/:id/download", assetHandler.DownloadAsset)
		}

		system := api.Group("/system")
		{
			// GET /api/system/models - Provider models per asset type
			system.GET("/models", systemHandler.ListModels)

			// GET /api/system/stats - Provider call counters
			system.GET("/stats", systemHandler.Stats)
		}
	}

	return r
}

func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	service := deps.ServiceName
	if service == "" {
		service = "asset-api-service"
	}
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := gin.H{}
		for _, hc := range deps.HealthChecks {
			if err := hc.Check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				checks[hc.Name] = err.Error()
				continue
			}
			checks[hc.Name] = "ok"
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "unhealthy"
		}
		c.JSON(status, gin.H{
			"status":  state,
			"service": service,
			"checks":  checks,
		})
	}
}
