package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/receipt-ocr/internal/extract"
	"github.com/zombor/receipt-ocr/internal/scanning"
)

// DefaultOCRTimeout bounds a single call to the OCR provider
const DefaultOCRTimeout = 30 * time.Second

// IDGenerator generates unique IDs for spooled uploads
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// ImagePreparer turns an upload into bytes a TextDetector accepts
type ImagePreparer interface {
	Prepare(imageData []byte, contentType string) ([]byte, error)
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Options tunes a Service
type Options struct {
	// Provider names the OCR backend in logs
	Provider string
	// OCRTimeout bounds each DetectText call; zero means DefaultOCRTimeout
	OCRTimeout time.Duration
	// Extractor parses OCR text; nil means the default extractor
	Extractor *extract.Extractor
}

// Service runs uploads through preparation, text detection and extraction
type Service struct {
	detector    scanning.TextDetector
	storage     Storage
	preparer    ImagePreparer
	extractor   *extract.Extractor
	idGenerator IDGenerator
	timeSource  TimeSource
	provider    string
	ocrTimeout  time.Duration
}

// NewService creates a new Service with default ID generator and time source
func NewService(detector scanning.TextDetector, storage Storage, preparer ImagePreparer, opts Options) *Service {
	return NewServiceWithDeps(detector, storage, preparer, opts, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(detector scanning.TextDetector, storage Storage, preparer ImagePreparer, opts Options, idGen IDGenerator, timeSrc TimeSource) *Service {
	if opts.OCRTimeout <= 0 {
		opts.OCRTimeout = DefaultOCRTimeout
	}
	if opts.Extractor == nil {
		opts.Extractor = extract.New(extract.Options{})
	}
	return &Service{
		detector:    detector,
		storage:     storage,
		preparer:    preparer,
		extractor:   opts.Extractor,
		idGenerator: idGen,
		timeSource:  timeSrc,
		provider:    opts.Provider,
		ocrTimeout:  opts.OCRTimeout,
	}
}

var (
	reFilenameSpecial = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	reFilenameSpaces  = regexp.MustCompile(`\s+`)
	reExtSpecial      = regexp.MustCompile(`[^a-zA-Z0-9.]`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	filename = filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	ext := reExtSpecial.ReplaceAllString(filepath.Ext(filename), "")
	if len(ext) > 10 {
		ext = ext[:10]
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	// Keep only alphanumerics, spaces, hyphens and underscores
	base = reFilenameSpecial.ReplaceAllString(base, "")
	base = reFilenameSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// Phones produce very long names
	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// ProcessReceipt spools an upload, detects its text and extracts the receipt
// fields. The spooled file is removed on every return path.
func (s *Service) ProcessReceipt(ctx context.Context, filename string, data []byte, contentType string) (*ScanResult, error) {
	id := s.idGenerator.Generate()
	start := s.timeSource.Now()
	logger := slog.With(
		"request_id", requestIDFrom(ctx),
		"filename", filename,
		"content_type", contentType,
		"file_size", len(data),
	)

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("spooling upload: %w", err)
	}
	defer func() {
		if err := s.storage.Delete(savedPath); err != nil {
			logger.Warn("Failed to remove spooled upload", "path", savedPath, "error", err)
		}
	}()

	spooled, err := s.storage.Get(savedPath)
	if err != nil {
		return nil, fmt.Errorf("reading spooled upload: %w", err)
	}

	prepared, err := s.preparer.Prepare(spooled, contentType)
	if err != nil {
		logger.Error("Failed to prepare image", "error", err)
		return nil, fmt.Errorf("preparing image: %w", err)
	}

	ocrCtx, cancel := context.WithTimeout(ctx, s.ocrTimeout)
	defer cancel()

	raw, err := s.detector.DetectText(ocrCtx, prepared)
	if err != nil {
		logger.Error("Failed to detect text",
			"provider", s.provider,
			"prepared_size", len(prepared),
			"error", err,
		)
		return nil, fmt.Errorf("detecting text: %w", err)
	}

	receipt := s.extractor.Extract(raw.FullText)

	logger.Info("Receipt processed",
		"provider", s.provider,
		"prepared_size", len(prepared),
		"detections", raw.DetectionCount,
		"fields", receipt.Fields(),
		"duration", s.timeSource.Now().Sub(start),
	)

	return &ScanResult{
		Receipt:    receipt,
		RawText:    raw.FullText,
		Detections: raw.DetectionCount,
		Confidence: raw.Confidence,
		Provider:   s.provider,
	}, nil
}

// ExtractText re-runs field extraction on text the client has corrected
func (s *Service) ExtractText(text string) *ScanResult {
	return &ScanResult{
		Receipt: s.extractor.Extract(text),
		RawText: text,
	}
}

type requestIDKey struct{}

// withRequestID returns a copy of ctx carrying id
func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// requestIDFrom returns the request ID stored in ctx, if any
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
