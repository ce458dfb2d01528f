package scanning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"
)

// VisionConfig holds the credentials and limits for Google Cloud Vision.
// When neither an API key nor a service account is set, application
// default credentials are used.
type VisionConfig struct {
	APIKey      string
	ClientEmail string
	PrivateKey  string // PEM; literal "\n" sequences are expanded
	Endpoint    string // override for tests or regional endpoints
	MaxBytes    int
}

// Vision implements the TextDetector interface using Google Cloud Vision
type Vision struct {
	service  *vision.Service
	maxBytes int
}

// NewVision creates a new Vision TextDetector instance
func NewVision(ctx context.Context, cfg VisionConfig) (*Vision, error) {
	var opts []option.ClientOption
	switch {
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	case cfg.ClientEmail != "" || cfg.PrivateKey != "":
		if cfg.ClientEmail == "" || cfg.PrivateKey == "" {
			return nil, fmt.Errorf("vision service account needs both client email and private key")
		}
		creds, err := serviceAccountJSON(cfg.ClientEmail, cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithCredentialsJSON(creds))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxImageBytes
	}

	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating vision client: %w", err)
	}

	return &Vision{
		service:  svc,
		maxBytes: cfg.MaxBytes,
	}, nil
}

// serviceAccountJSON builds the credentials file Google's auth libraries
// expect from the two values usually kept in the environment
func serviceAccountJSON(clientEmail, privateKey string) ([]byte, error) {
	creds := struct {
		Type        string `json:"type"`
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
		TokenURI    string `json:"token_uri"`
	}{
		Type:        "service_account",
		ClientEmail: clientEmail,
		PrivateKey:  strings.ReplaceAll(privateKey, `\n`, "\n"),
		TokenURI:    "https://oauth2.googleapis.com/token",
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("marshaling vision credentials: %w", err)
	}
	return data, nil
}

// DetectText runs TEXT_DETECTION on a single image
func (v *Vision) DetectText(ctx context.Context, imageData []byte) (*RawOCRResult, error) {
	if err := checkImage(imageData, v.maxBytes); err != nil {
		return nil, err
	}

	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{
			{
				Image:    &vision.Image{Content: base64.StdEncoding.EncodeToString(imageData)},
				Features: []*vision.Feature{{Type: "TEXT_DETECTION"}},
			},
		},
	}

	resp, err := v.service.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return nil, serviceError("vision", err)
	}
	if len(resp.Responses) == 0 {
		return &RawOCRResult{}, nil
	}

	res := resp.Responses[0]
	if res.Error != nil && res.Error.Code != 0 {
		return nil, serviceError("vision", fmt.Errorf("%s (code %d)", res.Error.Message, res.Error.Code))
	}

	// The first annotation is the whole-image transcription, the rest are
	// individual words
	if len(res.TextAnnotations) == 0 {
		return &RawOCRResult{}, nil
	}

	return &RawOCRResult{
		FullText:       res.TextAnnotations[0].Description,
		DetectionCount: len(res.TextAnnotations),
		Confidence:     pageConfidence(res.FullTextAnnotation),
	}, nil
}

// pageConfidence averages the per-page confidence Vision reports
func pageConfidence(ta *vision.TextAnnotation) *float64 {
	if ta == nil {
		return nil
	}
	var sum float64
	var n int
	for _, p := range ta.Pages {
		if p != nil && p.Confidence > 0 {
			sum += p.Confidence
			n++
		}
	}
	if n == 0 {
		return nil
	}
	c := sum / float64(n)
	return &c
}

// Close is a no-op; the REST client holds no open connections of its own
func (v *Vision) Close() error {
	return nil
}
