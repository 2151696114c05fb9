package domain

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a generation job.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// InFlightStatuses are the non-terminal states a crashed worker can leave behind.
var InFlightStatuses = []Status{StatusPending, StatusProcessing}

// ParseStatus converts a raw status string into a Status, rejecting unknown values.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return s, nil
	default:
		return "", NewValidationError("unknown job status %q", raw)
	}
}

// IsTerminal reports whether the status is absorbing.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	default:
		return 2
	}
}

// CanTransitionTo reports whether moving from s to next keeps the status
// sequence forward-only. PROCESSING -> PROCESSING is allowed so the retry
// annotation can be rewritten.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() || next == StatusPending {
		return false
	}
	return next.rank() >= s.rank()
}

// PredecessorsOf returns every status from which next may be entered.
func PredecessorsOf(next Status) []Status {
	var out []Status
	for _, s := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		if s.CanTransitionTo(next) {
			out = append(out, s)
		}
	}
	return out
}

// AssetType is the kind of media a job produces.
type AssetType string

const (
	AssetTypeImage AssetType = "IMAGE"
	AssetTypeVideo AssetType = "VIDEO"
)

// ParseAssetType converts a raw asset type string, rejecting unknown values.
func ParseAssetType(raw string) (AssetType, error) {
	switch t := AssetType(strings.ToUpper(strings.TrimSpace(raw))); t {
	case AssetTypeImage, AssetTypeVideo:
		return t, nil
	default:
		return "", NewValidationError("unknown asset type %q", raw)
	}
}

// Asset is the job record: the persisted unit of work and its result.
type Asset struct {
	ID             int64
	JobID          string
	Prompt         string
	Model          string
	AssetType      AssetType
	Status         Status
	FilePath       *string
	Width          *int
	Height         *int
	ErrorMessage   *string
	SearchDocument *string
	Embedding      []float32
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewAsset carries the fields fixed at creation time.
type NewAsset struct {
	JobID     string
	Prompt    string
	Model     string
	AssetType AssetType
}

// StatusUpdate is a partial status write. Nil pointers leave columns untouched.
type StatusUpdate struct {
	Status       Status
	FilePath     *string
	Width        *int
	Height       *int
	ErrorMessage *string
}

// MetadataUpdate is a partial write of the indexer-owned fields.
type MetadataUpdate struct {
	SearchDocument *string
	Embedding      []float32
}

// IsEmpty reports whether the update would change nothing.
func (u MetadataUpdate) IsEmpty() bool {
	return u.SearchDocument == nil && len(u.Embedding) == 0
}

// ScoredAsset pairs a record with a ranking score whose meaning depends on
// the query that produced it (cosine distance, text relevance or fused score).
type ScoredAsset struct {
	Asset Asset
	Score float64
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// IntPtr returns a pointer to i.
func IntPtr(i int) *int { return &i }
