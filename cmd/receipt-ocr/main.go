package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/receipt-ocr/internal/extract"
	"github.com/zombor/receipt-ocr/internal/receipt"
	"github.com/zombor/receipt-ocr/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env is normal in production
	envErr := godotenv.Load()

	defaultPort := 5000
	if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
		defaultPort = p
	}

	fs := ff.NewFlagSet("receipt-ocr")
	var (
		port           = fs.IntLong("port", defaultPort, "HTTP server port (or set PORT env var)")
		uploadsDir     = fs.StringLong("uploads", filepath.Join(os.TempDir(), "receipt-ocr", "uploads"), "Directory uploads are spooled to while processed")
		maxUploadBytes = fs.IntLong("max-upload-bytes", receipt.DefaultMaxUploadBytes, "Largest accepted upload request body")
		provider       = fs.StringLong("ocr-provider", "vision", "OCR provider: 'vision', 'gemini' or 'ollama'")
		googleAPIKey   = fs.StringLong("google-api-key", "", "Google Cloud Vision API key")
		googleEmail    = fs.StringLong("google-client-email", "", "Service account client email (or set GOOGLE_CLIENT_EMAIL env var)")
		googleKey      = fs.StringLong("google-private-key", "", "Service account private key (or set GOOGLE_PRIVATE_KEY env var)")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		maxImageBytes  = fs.IntLong("max-image-bytes", scanning.DefaultMaxImageBytes, "Largest image sent to the OCR provider")
		maxDimension   = fs.IntLong("max-dimension", scanning.DefaultMaxDimension, "Longest image side sent to the OCR provider")
		jpegQuality    = fs.IntLong("jpeg-quality", scanning.DefaultJPEGQuality, "JPEG quality used when re-encoding images")
		ocrTimeout     = fs.DurationLong("ocr-timeout", receipt.DefaultOCRTimeout, "Timeout for a single OCR call")
		maxInflight    = fs.IntLong("max-inflight", 4, "Maximum concurrent OCR calls (0 for unlimited)")
		ocrCache       = fs.StringLong("ocr-cache", "", "BoltDB file caching OCR results by image hash (disabled when empty)")
		dateMatch      = fs.StringLong("date-match", "last", "Which date/time wins when several appear: 'last' or 'first'")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel       = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_OCR"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", envErr)
	}

	// Unprefixed variables are honoured for compatibility with existing deployments
	fallback(googleEmail, "GOOGLE_CLIENT_EMAIL")
	fallback(googleKey, "GOOGLE_PRIVATE_KEY")
	fallback(geminiKey, "GEMINI_API_KEY")

	var policy extract.MatchPolicy
	switch *dateMatch {
	case "last":
		policy = extract.LastMatch
	case "first":
		policy = extract.FirstMatch
	default:
		slog.Error("Invalid date match policy", "value", *dateMatch, "valid", "last or first")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize text detector based on provider
	var detector scanning.TextDetector
	var err error
	switch *provider {
	case "vision":
		slog.Info("Initializing Google Cloud Vision detector...")
		detector, err = scanning.NewVision(ctx, scanning.VisionConfig{
			APIKey:      *googleAPIKey,
			ClientEmail: *googleEmail,
			PrivateKey:  *googleKey,
			MaxBytes:    *maxImageBytes,
		})
		if err != nil {
			slog.Error("Failed to initialize Vision", "error", err)
			os.Exit(1)
		}
	case "gemini":
		if *geminiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini detector...", "model", *geminiModel)
		detector, err = scanning.NewGemini(ctx, *geminiKey, *geminiModel, *maxImageBytes)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama detector...", "url", *ollamaURL, "model", *ollamaModel)
		detector, err = scanning.NewOllama(*ollamaURL, *ollamaModel, *maxImageBytes)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid OCR provider", "provider", *provider, "valid", "vision, gemini or ollama")
		os.Exit(1)
	}

	if *maxInflight > 0 {
		detector = scanning.NewLimitedDetector(detector, *maxInflight)
	}
	if *ocrCache != "" {
		slog.Info("Opening OCR cache...", "path", *ocrCache)
		cache, err := scanning.OpenCache(*ocrCache)
		if err != nil {
			slog.Error("Failed to open OCR cache", "error", err)
			os.Exit(1)
		}
		detector = scanning.NewCachedDetector(detector, cache)
	}
	defer detector.Close()

	// Initialize spool storage
	store, err := receipt.NewLocalStorage(*uploadsDir)
	if err != nil {
		slog.Error("Failed to initialize upload storage", "error", err)
		os.Exit(1)
	}

	// Initialize service
	receiptService := receipt.NewService(detector, store,
		scanning.NewPreparer(*maxImageBytes, *maxDimension, *jpegQuality),
		receipt.Options{
			Provider:   *provider,
			OCRTimeout: *ocrTimeout,
			Extractor:  extract.New(extract.Options{DateTimePolicy: policy}),
		},
	)

	// Initialize server
	server := receipt.NewServer(receiptService, receipt.ServerConfig{
		BasicAuth: receipt.BasicAuth{
			Username: *authUser,
			Password: *authPass,
		},
		MaxUploadBytes: int64(*maxUploadBytes),
	})

	addr := fmt.Sprintf(":%d", *port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started",
		"address", fmt.Sprintf("http://localhost%s", addr),
		"version", version,
		"provider", *provider,
	)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), *ocrTimeout+5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}

// fallback fills an empty flag value from an unprefixed environment variable
func fallback(value *string, envVar string) {
	if *value == "" {
		*value = os.Getenv(envVar)
	}
}
