package dto

// ModelInfo names one provider model.
type ModelInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

// ModelsResponse lists the models that can produce one asset type.
type ModelsResponse struct {
	AssetType string      `json:"asset_type"`
	Models    []ModelInfo `json:"models"`
}

type UsageStats struct {
	ActiveRequests    int64 `json:"active_requests"`
	CompletedRequests int64 `json:"completed_requests"`
	LimitRequests     int64 `json:"limit_requests"`
}

// StatsResponse reports provider call counters. Success is false, with
// zeroed counters, when they could not be read.
type StatsResponse struct {
	Success bool       `json:"success"`
	Data    UsageStats `json:"data"`
}
