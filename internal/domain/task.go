package domain

import "time"

// TopicAssetUpdates is the broadcast topic for job status changes
const TopicAssetUpdates = "asset_updates"

// GenerationTask is the queue message that drives one generation attempt.
type GenerationTask struct {
	JobID           string `json:"job_id"`
	Prompt          string `json:"prompt"`
	Mode            Mode   `json:"mode"`
	SourceImage     string `json:"source_image,omitempty"` // base64
	SourceImageMIME string `json:"source_image_mime,omitempty"`
	RetryCount      int    `json:"retry_count"`
}

// IndexTask is the queue message for metadata enrichment.
type IndexTask struct {
	JobID      string `json:"job_id"`
	RetryCount int    `json:"retry_count"`
}

// StatusEvent announces a status change of one job.
type StatusEvent struct {
	JobID     string    `json:"job_id"`
	Status    Status    `json:"status"`
	ResultURL *string   `json:"result_url"`
	Error     *string   `json:"error"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Backoff returns the delay before retry attempt n+1: 2^n seconds.
func Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 16 {
		retryCount = 16
	}
	return time.Duration(1<<uint(retryCount)) * time.Second
}
