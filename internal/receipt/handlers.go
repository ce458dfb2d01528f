package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/receipt-ocr/internal/scanning"
)

// multipartMemory is how much of a multipart body is buffered in memory
// before the rest spills to temporary files
const multipartMemory = 32 << 20

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

var extensionContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
}

// writeJSON writes v as a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleRoot answers liveness checks
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "Receipt OCR API is running")
}

// handleUpload handles a receipt image upload
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isBodyTooLarge(err) {
			slog.Warn("Upload too large", "limit", s.maxUploadBytes, "error", err)
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "File is too large"})
			return
		}
		slog.Warn("Error parsing multipart form", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No file uploaded"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, header, err := r.FormFile("receipt")
	if err != nil {
		slog.Warn("No receipt in upload", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No file uploaded"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No file uploaded"})
		return
	}

	contentType := detectContentType(header, data)
	if !allowedContentTypes[contentType] {
		slog.Warn("Unsupported upload type", "filename", header.Filename, "content_type", contentType)
		writeJSON(w, http.StatusUnsupportedMediaType, errorResponse{Error: "Unsupported file type"})
		return
	}

	result, err := s.service.ProcessReceipt(r.Context(), header.Filename, data, contentType)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "OCR processing failed",
			Details: err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Success:         true,
		Receipt:         result.Receipt,
		RawOCRText:      result.RawText,
		DetectionsFound: result.Detections,
		Confidence:      result.Confidence,
	})
}

// handleExtract re-parses text the client has edited
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	result := s.service.ExtractText(*req.Text)
	writeJSON(w, http.StatusOK, extractResponse{
		Success: true,
		Receipt: result.Receipt,
	})
}

// detectContentType determines the upload's MIME type from the part header,
// then the file extension, then the content itself
func detectContentType(header *multipart.FileHeader, data []byte) string {
	if mediaType, _, err := mime.ParseMediaType(header.Header.Get("Content-Type")); err == nil {
		mediaType = strings.ToLower(mediaType)
		if mediaType == "image/jpg" {
			mediaType = "image/jpeg"
		}
		if mediaType != "application/octet-stream" {
			return mediaType
		}
	}

	if ct, ok := extensionContentTypes[strings.ToLower(filepath.Ext(header.Filename))]; ok {
		return ct
	}

	return scanning.SniffContentType(data)
}

// isBodyTooLarge reports whether err came from http.MaxBytesReader
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
