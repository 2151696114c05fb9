package dto

import (
	"time"

	"github.com/cuongbtq/asset-forge/internal/domain"
	"github.com/cuongbtq/asset-forge/internal/orchestrator"
)

type GenerateRequest struct {
	Prompt string `form:"prompt" binding:"required"`
	Mode   string `form:"mode"`
}

type JobResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type ListAssetsRequest struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit"`
}

type ListAssetsResponse struct {
	Assets     []AssetDTO `json:"assets"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

type SearchRequest struct {
	Query  string `form:"q"`
	Limit  int    `form:"limit"`
	Hybrid *bool  `form:"hybrid"`
}

type BatchStatusRequest struct {
	TaskIDs      []string   `json:"task_ids" binding:"required"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
}

type BatchStatusResponse struct {
	Tasks []AssetDTO `json:"tasks"`
}

type AssetDTO struct {
	ID              int64    `json:"id"`
	JobID           string   `json:"job_id"`
	Prompt          string   `json:"prompt"`
	Model           string   `json:"model"`
	AssetType       string   `json:"asset_type"`
	Status          string   `json:"status"`
	FilePath        *string  `json:"file_path"`
	Width           *int     `json:"width"`
	Height          *int     `json:"height"`
	ResultURL       *string  `json:"result_url"`
	ErrorMessage    *string  `json:"error_message"`
	SimilarityScore *float64 `json:"similarity_score,omitempty"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Error   string `json:"error"`
}

func NewAssetDTO(v orchestrator.AssetView) AssetDTO {
	return AssetDTO{
		ID:           v.ID,
		JobID:        v.JobID,
		Prompt:       v.Prompt,
		Model:        v.Model,
		AssetType:    string(v.AssetType),
		Status:       string(v.Status),
		FilePath:     v.FilePath,
		Width:        v.Width,
		Height:       v.Height,
		ResultURL:    v.ResultURL,
		ErrorMessage: v.ErrorMessage,
		CreatedAt:    v.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    v.UpdatedAt.Format(time.RFC3339),
	}
}

func NewAssetDTOs(views []orchestrator.AssetView) []AssetDTO {
	out := make([]AssetDTO, len(views))
	for i, v := range views {
		out[i] = NewAssetDTO(v)
	}
	return out
}

// NewScoredAssetDTOs pairs search hits with their resolved views.
func NewScoredAssetDTOs(hits []domain.ScoredAsset, views []orchestrator.AssetView) []AssetDTO {
	out := make([]AssetDTO, len(views))
	for i, v := range views {
		out[i] = NewAssetDTO(v)
		score := hits[i].Score
		out[i].SimilarityScore = &score
	}
	return out
}
