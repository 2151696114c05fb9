package domain

import (
	"context"
	"time"
)

// RecordStore is the durable job record storage.
type RecordStore interface {
	// Create inserts a PENDING record. Returns ErrDuplicateJob when job_id is taken.
	Create(ctx context.Context, in NewAsset) (Asset, error)
	// FindReusable returns the most recent non-FAILED record with the given
	// dedup key, or ErrNotFound.
	FindReusable(ctx context.Context, prompt, model string, assetType AssetType) (Asset, error)
	GetByID(ctx context.Context, id int64) (Asset, error)
	GetByJobID(ctx context.Context, jobID string) (Asset, error)
	// GetByJobIDs returns the records found, in no particular order.
	GetByJobIDs(ctx context.Context, jobIDs []string) ([]Asset, error)
	// UpdateStatus applies a forward-only status write. Returns
	// ErrInvalidTransition when the current status does not allow it.
	UpdateStatus(ctx context.Context, jobID string, update StatusUpdate) (Asset, error)
	UpdateMetadata(ctx context.Context, jobID string, update MetadataUpdate) (Asset, error)
	// List returns non-FAILED records with id < cursor (when set), id descending.
	List(ctx context.Context, cursor *int64, limit int) ([]Asset, error)
	// NearestByVector ranks records with an embedding by ascending cosine
	// distance. Score carries the distance.
	NearestByVector(ctx context.Context, vector []float32, limit int) ([]ScoredAsset, error)
	// MatchKeyword ranks records whose prompt and search document match the
	// query by descending text relevance. Score carries the relevance.
	MatchKeyword(ctx context.Context, query string, limit int) ([]ScoredAsset, error)
	// ListInFlight returns PENDING and PROCESSING records. A non-zero
	// updatedBefore restricts the result to records not touched since then.
	ListInFlight(ctx context.Context, updatedBefore time.Time) ([]Asset, error)
	// FailJobs moves the given in-flight records to FAILED in one update and
	// returns how many rows changed. Terminal records are left alone.
	FailJobs(ctx context.Context, ids []int64, message string) (int64, error)
}

// DirectStatusWriter is the minimal write path used when the primary
// transactional path for a terminal failure itself fails.
type DirectStatusWriter interface {
	WriteFailed(ctx context.Context, jobID, message string) (time.Time, error)
}

// Generator produces media bytes from a prompt.
type Generator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
	GenerateVideo(ctx context.Context, prompt string) ([]byte, error)
	GenerateVideoFromImage(ctx context.Context, prompt string, image []byte, mimeType string) ([]byte, error)
}

// Describer turns generated bytes into a text description.
type Describer interface {
	Describe(ctx context.Context, data []byte, mediaType string) (string, error)
}

// FileStore persists generated media.
type FileStore interface {
	// Save writes data under name and returns the stored location.
	Save(ctx context.Context, name string, data []byte) (string, error)
	// Resolve returns a locator a client can fetch the file from.
	Resolve(ctx context.Context, location string) (string, error)
	Size(ctx context.Context, location string) (int64, error)
	Read(ctx context.Context, location string) ([]byte, error)
}

// Encoder maps text to L2-normalized fixed-length vectors.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Broadcaster fans status events out to subscribers. Publish never fails
// the caller; delivery is best effort.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, event StatusEvent)
	// Subscribe returns a stream that is closed once ctx is cancelled.
	Subscribe(ctx context.Context, topic string) (<-chan StatusEvent, error)
}

// TaskQueue enqueues background work, optionally delayed.
type TaskQueue interface {
	EnqueueGeneration(ctx context.Context, task GenerationTask, delay time.Duration) error
	EnqueueIndexing(ctx context.Context, task IndexTask, delay time.Duration) error
}

// RequestTracker counts in-flight and finished calls to the generation
// provider. Implementations never fail the call they wrap.
type RequestTracker interface {
	Start(ctx context.Context)
	Finish(ctx context.Context)
}
