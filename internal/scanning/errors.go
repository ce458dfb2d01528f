package scanning

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat means the payload could not be decoded as an image
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrImageTooLarge means the payload is above the detector's byte limit
	ErrImageTooLarge = errors.New("image exceeds OCR size limit")
	// ErrOCRService means the OCR provider was unreachable or returned an error
	ErrOCRService = errors.New("ocr service failure")
)

// serviceError wraps a provider failure so that it matches ErrOCRService
// while keeping the provider's own message
func serviceError(provider string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrOCRService, provider, err)
}
