package receipt

import "github.com/zombor/receipt-ocr/internal/extract"

// ScanResult is the outcome of processing one upload
type ScanResult struct {
	Receipt    *extract.Receipt
	RawText    string
	Detections int
	Confidence *float64 // nil when the provider does not report one
	Provider   string
}

// uploadResponse is the body returned by POST /upload
type uploadResponse struct {
	Success         bool             `json:"success"`
	Receipt         *extract.Receipt `json:"receipt"`
	RawOCRText      string           `json:"raw_ocr_text"`
	DetectionsFound int              `json:"detections_found"`
	Confidence      *float64         `json:"confidence,omitempty"`
}

// extractRequest is the body accepted by POST /extract
type extractRequest struct {
	Text *string `json:"text"`
}

// extractResponse is the body returned by POST /extract
type extractResponse struct {
	Success bool             `json:"success"`
	Receipt *extract.Receipt `json:"receipt"`
}

// errorResponse is the body of every error reply
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
