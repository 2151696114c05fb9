package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/asset-forge/internal/api/dto"
	"github.com/cuongbtq/asset-forge/internal/domain"
	"github.com/cuongbtq/asset-forge/internal/usage"
)

// StatsReader reads the shared provider call counters.
type StatsReader interface {
	Stats(ctx context.Context) (usage.Stats, error)
}

// SystemHandler serves provider metadata and usage counters
type SystemHandler struct {
	logger *slog.Logger
	usage  StatsReader
}

// NewSystemHandler creates a new SystemHandler instance
func NewSystemHandler(deps *Dependencies) *SystemHandler {
	return &SystemHandler{
		logger: deps.Logger,
		usage:  deps.Usage,
	}
}

// ListModels handles GET /api/system/models?asset_type=IMAGE|VIDEO
func (h *SystemHandler) ListModels(c *gin.Context) {
	assetType, err := domain.ParseAssetType(c.Query("asset_type"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, dto.ErrorResponse{Success: false, Error: err.Error()})
		return
	}

	names := domain.SupportedModels(assetType)
	models := make([]dto.ModelInfo, len(names))
	for i, name := range names {
		models[i] = dto.ModelInfo{Name: name, Model: name}
	}
	c.JSON(http.StatusOK, dto.ModelsResponse{AssetType: string(assetType), Models: models})
}

// Stats handles GET /api/system/stats
func (h *SystemHandler) Stats(c *gin.Context) {
	resp := dto.StatsResponse{Data: dto.UsageStats{LimitRequests: usage.RequestLimit}}
	if h.usage == nil {
		c.JSON(http.StatusOK, resp)
		return
	}

	stats, err := h.usage.Stats(c.Request.Context())
	if err != nil {
		h.logger.Warn("Failed to read usage stats", slog.Any("error", err))
		c.JSON(http.StatusOK, resp)
		return
	}

	resp.Success = true
	resp.Data.ActiveRequests = stats.Active
	resp.Data.CompletedRequests = stats.Completed
	c.JSON(http.StatusOK, resp)
}
