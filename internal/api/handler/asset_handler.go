package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/asset-forge/internal/api/dto"
	"github.com/cuongbtq/asset-forge/internal/domain"
	"github.com/cuongbtq/asset-forge/internal/orchestrator"
	"github.com/cuongbtq/asset-forge/internal/search"
)

// Generate handles POST /api/assets/generate
// Accepts a multipart form with prompt, mode and an optional source_image file
func (h *AssetHandler) Generate(c *gin.Context) {
	var req dto.GenerateRequest
	if err := c.ShouldBind(&req); err != nil {
		h.respondError(c, domain.NewValidationError("invalid request: %v", err))
		return
	}

	submit := orchestrator.SubmitRequest{Prompt: req.Prompt, Mode: req.Mode}

	file, header, err := c.Request.FormFile("source_image")
	switch {
	case err == nil:
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
		if err != nil {
			badRequest(c, "failed to read source_image")
			return
		}
		if int64(len(data)) > h.maxUploadBytes {
			h.respondError(c, domain.NewValidationError("source_image exceeds %d bytes", h.maxUploadBytes))
			return
		}
		submit.SourceImage = data
		submit.SourceImageMIME = header.Header.Get("Content-Type")
		if submit.SourceImageMIME == "" || submit.SourceImageMIME == "application/octet-stream" {
			submit.SourceImageMIME = mimetype.Detect(data).String()
		}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		// no upload
	default:
		badRequest(c, "invalid source_image upload")
		return
	}

	h.logger.Info("Generation requested",
		slog.String("mode", req.Mode),
		slog.Int("prompt_length", len(req.Prompt)),
		slog.Bool("has_image", len(submit.SourceImage) > 0),
	)

	result, err := h.assets.Submit(c.Request.Context(), submit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := dto.JobResponse{JobID: result.JobID, Status: string(result.Status)}
	if result.Deduplicated {
		resp.Message = "identical request already exists"
	}
	c.JSON(http.StatusOK, resp)
}

// GetAsset handles GET /api/assets/:id
func (h *AssetHandler) GetAsset(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "id must be a positive integer")
		return
	}

	view, err := h.assets.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewAssetDTO(view))
}

// GetAssetByJob handles GET /api/assets/job/:job_id
// Used by clients polling a job
func (h *AssetHandler) GetAssetByJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		badRequest(c, "job_id is required")
		return
	}

	view, err := h.assets.GetByJobID(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewAssetDTO(view))
}

// ListAssets handles GET /api/assets
// Newest first, excluding FAILED. The cursor is the last id of the previous page.
func (h *AssetHandler) ListAssets(c *gin.Context) {
	var req dto.ListAssetsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	cursor, err := DecodeAssetCursor(req.Cursor)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	views, err := h.assets.List(c.Request.Context(), cursor, req.Limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := dto.ListAssetsResponse{Assets: dto.NewAssetDTOs(views)}
	if len(views) > 0 {
		resp.NextCursor = EncodeAssetCursor(views[len(views)-1].ID)
	}
	c.JSON(http.StatusOK, resp)
}

// BatchStatus handles POST /api/assets/batch-status
// Lets a client catch up on events it missed while disconnected
func (h *AssetHandler) BatchStatus(c *gin.Context) {
	var req dto.BatchStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	views, err := h.assets.BatchStatus(c.Request.Context(), req.TaskIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Debug("Batch status served",
		slog.Int("requested", len(req.TaskIDs)),
		slog.Int("found", len(views)),
	)
	c.JSON(http.StatusOK, dto.BatchStatusResponse{Tasks: dto.NewAssetDTOs(views)})
}

// SearchAssets handles GET /api/assets/search
func (h *AssetHandler) SearchAssets(c *gin.Context) {
	var req dto.SearchRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}
	hybrid := true
	if req.Hybrid != nil {
		hybrid = *req.Hybrid
	}
	if req.Limit <= 0 {
		req.Limit = search.DefaultLimit
	}

	hits, err := h.search.Search(c.Request.Context(), req.Query, req.Limit, hybrid)
	if err != nil {
		h.respondError(c, err)
		return
	}

	assets := make([]domain.Asset, len(hits))
	for i, hit := range hits {
		assets[i] = hit.Asset
	}
	views := h.assets.Views(c.Request.Context(), assets)
	c.JSON(http.StatusOK, dto.NewScoredAssetDTOs(hits, views))
}

// DownloadAsset handles GET /api/assets/:id/download
// Streams the stored output as an attachment
func (h *AssetHandler) DownloadAsset(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "id must be a positive integer")
		return
	}

	view, err := h.assets.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if view.Status != domain.StatusCompleted || view.FilePath == nil {
		h.respondError(c, fmt.Errorf("asset %d has no output: %w", id, domain.ErrNotFound))
		return
	}

	data, err := h.files.Read(c.Request.Context(), *view.FilePath)
	if err != nil {
		h.respondError(c, err)
		return
	}

	mt := mimetype.Detect(data)
	filename := fmt.Sprintf("generated-%d%s", id, path.Ext(*view.FilePath))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, mt.String(), data)
}
