package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/asset-forge/internal/api/dto"
	"github.com/cuongbtq/asset-forge/internal/domain"
	"github.com/cuongbtq/asset-forge/internal/orchestrator"
	"github.com/cuongbtq/asset-forge/internal/search"
)

// HealthCheck reports whether one backing service is reachable.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger            *slog.Logger
	Assets            *orchestrator.Service
	Search            *search.Engine
	Broadcaster       domain.Broadcaster
	Files             domain.FileStore
	HealthChecks      []HealthCheck
	Usage             StatsReader
	MaxUploadBytes    int64
	StreamKeepAlive   time.Duration
	ServiceName       string
	LocalFilesDir     string
	LocalFilesURLPath string
}

// AssetHandler handles asset-related HTTP requests
type AssetHandler struct {
	logger         *slog.Logger
	assets         *orchestrator.Service
	search         *search.Engine
	broadcaster    domain.Broadcaster
	files          domain.FileStore
	maxUploadBytes int64
	keepAlive      time.Duration
}

// NewAssetHandler creates a new AssetHandler instance
func NewAssetHandler(deps *Dependencies) *AssetHandler {
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	keepAlive := deps.StreamKeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &AssetHandler{
		logger:         deps.Logger,
		assets:         deps.Assets,
		search:         deps.Search,
		broadcaster:    deps.Broadcaster,
		files:          deps.Files,
		maxUploadBytes: maxUpload,
		keepAlive:      keepAlive,
	}
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case domain.IsValidation(err), errors.Is(err, domain.ErrInvalidMode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsExternal(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *AssetHandler) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
		message = "internal server error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Success: false, Error: message})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{Success: false, Error: message})
}
