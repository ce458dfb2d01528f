package scanning

import "context"

// RawOCRResult is the provider's best-effort transcription of one image
type RawOCRResult struct {
	FullText       string   `json:"full_text"`
	DetectionCount int      `json:"detection_count"`
	Confidence     *float64 `json:"confidence,omitempty"` // 0..1, nil when the provider does not report one
}

// TextDetector defines the interface for OCR providers
type TextDetector interface {
	// DetectText transcribes all text found in an image.
	// An image without text is not an error: it yields an empty FullText
	// and a zero DetectionCount.
	DetectText(ctx context.Context, imageData []byte) (*RawOCRResult, error)
	// Close releases the provider client
	Close() error
}
