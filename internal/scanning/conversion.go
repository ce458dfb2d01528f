package scanning

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"mime"
	"net/http"
	"strings"

	"github.com/gen2brain/heic"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	// DefaultMaxImageBytes is the largest payload forwarded to an OCR provider.
	// Vision accepts up to 20MB per request and the image travels base64
	// encoded, so raw bytes are kept well under half of that.
	DefaultMaxImageBytes = 10 << 20
	// DefaultMaxDimension is the longest side kept when downsampling
	DefaultMaxDimension = 3000
	// DefaultJPEGQuality is used when an image has to be re-encoded
	DefaultJPEGQuality = 85
)

// Preparer shrinks uploads so they fit what OCR providers accept.
// JPEG and PNG images already inside the limits are returned untouched;
// anything else is decoded, downsampled if needed and re-encoded as JPEG.
type Preparer struct {
	MaxBytes     int
	MaxDimension int
	Quality      int
}

// NewPreparer creates a Preparer, filling zero values with defaults
func NewPreparer(maxBytes, maxDimension, quality int) *Preparer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Preparer{
		MaxBytes:     maxBytes,
		MaxDimension: maxDimension,
		Quality:      quality,
	}
}

// Prepare returns image bytes suitable for a TextDetector
func (p *Preparer) Prepare(imageData []byte, contentType string) ([]byte, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))

	img, err := decodeImage(imageData, mimeType)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	fits := b.Dx() <= p.MaxDimension && b.Dy() <= p.MaxDimension
	if fits && len(imageData) <= p.MaxBytes && !isHEICFormat(imageData) &&
		(mimeType == "image/jpeg" || mimeType == "image/png") {
		return imageData, nil
	}

	// Halve the target size until the encoded JPEG fits
	maxDim := min(p.MaxDimension, max(b.Dx(), b.Dy()))
	for {
		out, err := p.encode(downsample(img, maxDim))
		if err != nil {
			return nil, err
		}
		if len(out) <= p.MaxBytes || maxDim <= 256 {
			return out, nil
		}
		maxDim /= 2
	}
}

func (p *Preparer) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.Quality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// downsample scales img so its longest side is at most maxDim
func downsample(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}
	if w >= h {
		h = max(1, h*maxDim/w)
		w = maxDim
	} else {
		w = max(1, w*maxDim/h)
		h = maxDim
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// decodeImage decodes any supported upload format
func decodeImage(imageData []byte, mimeType string) (image.Image, error) {
	// Go's standard image package doesn't support HEIC (common on iPhones)
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("%w: decoding HEIC/HEIF image: %v", ErrUnsupportedFormat, err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding image: %v", ErrUnsupportedFormat, err)
	}
	return img, nil
}

// checkImage enforces the byte limit and makes sure the payload is an image
// before anything is sent over the network
func checkImage(imageData []byte, maxBytes int) error {
	if len(imageData) == 0 {
		return fmt.Errorf("%w: empty payload", ErrUnsupportedFormat)
	}
	if maxBytes > 0 && len(imageData) > maxBytes {
		return fmt.Errorf("%w: %d bytes, limit is %d", ErrImageTooLarge, len(imageData), maxBytes)
	}

	var err error
	if isHEICFormat(imageData) {
		_, err = heic.DecodeConfig(bytes.NewReader(imageData))
	} else {
		_, _, err = image.DecodeConfig(bytes.NewReader(imageData))
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return nil
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files typically start with specific magic bytes
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// ftyp box at offset 4 with brand 'heic', 'heix', 'heif', 'mif1' or 'msf1'
	if string(data[4:8]) == "ftyp" {
		switch string(data[8:12]) {
		case "heic", "heix", "heif", "mif1", "msf1":
			return true
		}
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return mimeType == "image/heic" || mimeType == "image/heif"
}

// imageFormat returns the short format name ("jpeg", "png", ...) of a payload
// that has already passed checkImage
func imageFormat(imageData []byte) string {
	if isHEICFormat(imageData) {
		return "heic"
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(imageData))
	if err != nil {
		return "jpeg"
	}
	return format
}

// SniffContentType guesses the MIME type of an upload from its leading bytes.
// net/http knows JPEG, PNG and WebP but not HEIC.
func SniffContentType(data []byte) string {
	if isHEICFormat(data) {
		return "image/heic"
	}
	mediaType, _, err := mime.ParseMediaType(http.DetectContentType(data))
	if err != nil {
		return "application/octet-stream"
	}
	return mediaType
}
