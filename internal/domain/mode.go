package domain

import "strings"

// Mode selects the generation backend call and the model that serves it.
type Mode string

const (
	ModeTextToImage  Mode = "text-to-image"
	ModeTextToVideo  Mode = "text-to-video"
	ModeImageToVideo Mode = "image-to-video"
)

const (
	ImageModel = "imagen-3.0-fast-generate-001"
	VideoModel = "veo-3.0-fast-generate-001"
)

// ParseMode accepts both dash and underscore spellings.
func ParseMode(raw string) (Mode, error) {
	m := Mode(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "_", "-"))
	switch m {
	case ModeTextToImage, ModeTextToVideo, ModeImageToVideo:
		return m, nil
	default:
		return "", ErrInvalidMode
	}
}

// Model returns the model name recorded on the job.
func (m Mode) Model() string {
	if m == ModeTextToImage {
		return ImageModel
	}
	return VideoModel
}

// AssetType returns the media kind the mode produces.
func (m Mode) AssetType() AssetType {
	if m == ModeTextToImage {
		return AssetTypeImage
	}
	return AssetTypeVideo
}

// Extension is the file suffix of the saved output.
func (m Mode) Extension() string {
	if m == ModeTextToImage {
		return ".png"
	}
	return ".mp4"
}

// IsImageConditioned reports whether the mode requires a source image.
// Such jobs are never deduplicated because the image is not part of the key.
func (m Mode) IsImageConditioned() bool {
	return m == ModeImageToVideo
}

var supportedModels = map[AssetType][]string{
	AssetTypeImage: {
		"imagen-3.0-generate-002",
		"imagen-3.0-generate-001",
		ImageModel,
		"imagen-3.0-capability-001",
		"imagen-4.0-generate-001",
		"imagen-4.0-fast-generate-001",
		"imagen-4.0-ultra-generate-001",
	},
	AssetTypeVideo: {
		"veo-2.0-generate-001",
		"veo-2.0-generate-exp",
		"veo-2.0-generate-preview",
		"veo-3.0-generate-001",
		VideoModel,
		"veo-3.1-generate-001",
		"veo-3.1-fast-generate-001",
		"veo-3.1-generate-preview",
	},
}

// SupportedModels lists the provider models that can produce t, or nil for
// an unknown type. The returned slice is a copy.
func SupportedModels(t AssetType) []string {
	models := supportedModels[t]
	if models == nil {
		return nil
	}
	return append([]string(nil), models...)
}
