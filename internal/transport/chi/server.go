package chi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecguard/internal/domain"
	"github.com/kailas-cloud/vecguard/internal/logger"
	"github.com/kailas-cloud/vecguard/internal/metrics"
	healthuc "github.com/kailas-cloud/vecguard/internal/usecase/health"
	uploaduc "github.com/kailas-cloud/vecguard/internal/usecase/upload"
)

// DefaultMaxUploadBytes caps the multipart body when no limit is configured.
const DefaultMaxUploadBytes int64 = 100 << 20

// multipartMemory is the part of a multipart form held in memory; the rest spills to disk.
const multipartMemory = 32 << 20

const acceptedFormats = "Accepted formats: JPEG, PNG, WebP, AVIF (images), MP4 (video)"

// Uploader runs one upload through the decision pipeline.
type Uploader interface {
	Process(ctx context.Context, data []byte, mimeType string) (uploaduc.Response, error)
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is the JSON body of GET /health.
type HealthResponse struct {
	Status      string            `json:"status"`
	Checks      map[string]string `json:"checks,omitempty"`
	CorpusItems map[string]int    `json:"corpus_items,omitempty"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server serves the upload API.
type Server struct {
	upload        Uploader
	health        HealthChecker
	logger        *zap.Logger
	maxBytes      int64
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(upload Uploader, health HealthChecker, logger *zap.Logger) *Server {
	s := &Server{
		upload:   upload,
		health:   health,
		logger:   logger,
		maxBytes: DefaultMaxUploadBytes,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrUnsupportedFormat, http.StatusBadRequest, "Unsupported format", acceptedFormats),
		sentinelHandler(domain.ErrEmptyInput, http.StatusBadRequest, "Upload error", "uploaded file is empty"),
		sentinelHandler(domain.ErrInvalidMedia, http.StatusBadRequest, "Upload error", "file could not be decoded"),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests,
			"Rate limit exceeded", "Please try again later"),
		// Pipeline errors wrap the deadline, so it is matched before them.
		sentinelHandler(context.DeadlineExceeded, http.StatusGatewayTimeout,
			"Processing timed out", "Please try again later"),
		sentinelHandler(domain.ErrVideoProcessing, http.StatusInternalServerError, "Video processing failed", ""),
		sentinelHandler(domain.ErrExtractionFailed, http.StatusInternalServerError, "Embedding generation failed", ""),
		sentinelHandler(domain.ErrNotConfigured, http.StatusInternalServerError, "Embedding generation failed", ""),
		sentinelHandler(domain.ErrSpaceMismatch, http.StatusInternalServerError, "Embedding generation failed", ""),
	}
	return s
}

// WithMaxUploadBytes overrides the multipart body limit.
func (s *Server) WithMaxUploadBytes(n int64) *Server {
	if n > 0 {
		s.maxBytes = n
	}
	return s
}

// Routes registers the API endpoints on r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/upload", s.Upload)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// Upload handles POST /upload.
func (s *Server) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload error", "file exceeds the upload size limit")
			return
		}
		if errors.Is(err, http.ErrNotMultipart) {
			writeError(w, http.StatusBadRequest, "No file uploaded", `Please provide a file in the "file" field`)
			return
		}
		writeError(w, http.StatusBadRequest, "Upload error", "malformed multipart body")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded", `Please provide a file in the "file" field`)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}

	mimeType := partMIMEType(header.Header.Get("Content-Type"), data)
	metrics.ObserveUpload(r.Context(), mediaLabel(mimeType), len(data))
	logger.FromContext(r.Context()).Debug("upload received",
		zap.String("filename", header.Filename),
		zap.String("mime_type", mimeType),
		zap.Int("bytes", len(data)),
	)

	resp, err := s.upload.Process(r.Context(), data, mimeType)
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// partMIMEType prefers the declared part type and sniffs the payload when
// the client sent none or a generic one.
func partMIMEType(declared string, data []byte) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	mt, _, err := mime.ParseMediaType(http.DetectContentType(data))
	if err != nil {
		return "application/octet-stream"
	}
	return mt
}

// mediaLabel names the pipeline an upload goes to, for metrics.
func mediaLabel(mimeType string) string {
	kind, err := domain.ClassifyMedia(mimeType)
	if err != nil {
		return "unsupported"
	}
	return string(kind)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status:      string(report.Status),
		Checks:      checks,
		CorpusItems: report.Corpus,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Details: details,
	})
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
// An empty details string exposes the sentinel text.
func sentinelHandler(sentinel error, status int, message, details string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		d := details
		if d == "" {
			d = sentinel.Error()
		}
		writeError(w, status, message, d)
		return true
	}
}

func (s *Server) handleDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	log := s.requestLogger(ctx)
	log.Warn("upload failed", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal server error", "An unexpected error occurred")
}

// requestLogger returns the per-request logger, falling back to the server logger.
func (s *Server) requestLogger(ctx context.Context) *zap.Logger {
	if l, ok := logger.Lookup(ctx); ok {
		return l
	}
	if s.logger != nil {
		return s.logger
	}
	return zap.NewNop()
}
