package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecguard/internal/domain"
	healthuc "github.com/kailas-cloud/vecguard/internal/usecase/health"
	uploaduc "github.com/kailas-cloud/vecguard/internal/usecase/upload"
)

// pngHeader is enough for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type mockUploader struct {
	resp     uploaduc.Response
	err      error
	gotMIME  string
	gotBytes int
	called   bool
}

func (m *mockUploader) Process(_ context.Context, data []byte, mimeType string) (uploaduc.Response, error) {
	m.called = true
	m.gotMIME = mimeType
	m.gotBytes = len(data)
	return m.resp, m.err
}

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(context.Context) healthuc.Report { return m.report }

func multipartBody(t *testing.T, field, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="upload.bin"`, field))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func newTestRouter(up *mockUploader, hc *mockHealth) http.Handler {
	if hc == nil {
		hc = &mockHealth{report: healthuc.Report{Status: healthuc.Healthy}}
	}
	s := NewServer(up, hc, zap.NewNop()).WithMaxUploadBytes(1 << 10)
	return NewRouter(s, RouterConfig{}, zap.NewNop())
}

func doUpload(t *testing.T, h http.Handler, field, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, field, contentType, data)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

func TestUpload_OK(t *testing.T) {
	up := &mockUploader{resp: uploaduc.Response{
		Status:         domain.StatusFlagged,
		Matches:        []uploaduc.FormattedMatch{{Filename: "Mona Lisa", Similarity: "92.5%"}},
		ProcessingTime: 1.25,
	}}
	rr := doUpload(t, newTestRouter(up, nil), "file", "image/jpeg", []byte("jpeg-bytes"))

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if up.gotMIME != "image/jpeg" || up.gotBytes != len("jpeg-bytes") {
		t.Errorf("unexpected call: mime %q bytes %d", up.gotMIME, up.gotBytes)
	}

	var got map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["status"] != "flagged" || got["processingTime"] != 1.25 {
		t.Errorf("unexpected body: %v", got)
	}
	matches, ok := got["matches"].([]any)
	if !ok || len(matches) != 1 {
		t.Fatalf("unexpected matches: %v", got["matches"])
	}
	if m := matches[0].(map[string]any); m["filename"] != "Mona Lisa" || m["similarity"] != "92.5%" {
		t.Errorf("unexpected match: %v", m)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestUpload_SniffsGenericContentType(t *testing.T) {
	for _, ct := range []string{"", "application/octet-stream"} {
		up := &mockUploader{resp: uploaduc.Response{Status: domain.StatusSafe}}
		rr := doUpload(t, newTestRouter(up, nil), "file", ct, pngHeader)

		if rr.Code != http.StatusOK {
			t.Fatalf("content type %q: got %d", ct, rr.Code)
		}
		if up.gotMIME != "image/png" {
			t.Errorf("content type %q: sniffed %q, want image/png", ct, up.gotMIME)
		}
	}
}

func TestUpload_NoFile(t *testing.T) {
	up := &mockUploader{}
	rr := doUpload(t, newTestRouter(up, nil), "other", "image/jpeg", []byte("x"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Error != "No file uploaded" {
		t.Errorf("error: got %q", resp.Error)
	}
	if up.called {
		t.Error("pipeline must not run without a file")
	}
}

func TestUpload_NotMultipart(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewBufferString("{}"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	newTestRouter(&mockUploader{}, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
}

func TestUpload_TooLarge(t *testing.T) {
	up := &mockUploader{}
	rr := doUpload(t, newTestRouter(up, nil), "file", "image/jpeg", bytes.Repeat([]byte("a"), 4<<10))

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("got %d, want 413", rr.Code)
	}
	if up.called {
		t.Error("pipeline must not run for oversized uploads")
	}
}

func TestUpload_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"unsupported", fmt.Errorf("%w: text/plain", domain.ErrUnsupportedFormat),
			http.StatusBadRequest, "Unsupported format"},
		{"empty", domain.ErrEmptyInput, http.StatusBadRequest, "Upload error"},
		{"invalid media", fmt.Errorf("decode: %w", domain.ErrInvalidMedia), http.StatusBadRequest, "Upload error"},
		{"rate limited", fmt.Errorf("%w: %w", domain.ErrExtractionFailed,
			domain.NewBackendError("gemini", true, errors.New("429"))),
			http.StatusTooManyRequests, "Rate limit exceeded"},
		{"extraction failed", fmt.Errorf("%w: boom", domain.ErrExtractionFailed),
			http.StatusInternalServerError, "Embedding generation failed"},
		{"not configured", domain.ErrNotConfigured, http.StatusInternalServerError, "Embedding generation failed"},
		{"video", fmt.Errorf("%w: ffmpeg exited 1", domain.ErrVideoProcessing),
			http.StatusInternalServerError, "Video processing failed"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "Processing timed out"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			up := &mockUploader{err: tc.err}
			rr := doUpload(t, newTestRouter(up, nil), "file", "image/jpeg", []byte("jpeg"))

			if rr.Code != tc.wantStatus {
				t.Fatalf("status: got %d, want %d", rr.Code, tc.wantStatus)
			}
			resp := decodeError(t, rr)
			if resp.Error != tc.wantError {
				t.Errorf("error: got %q, want %q", resp.Error, tc.wantError)
			}
			if resp.Details == "disk on fire" {
				t.Error("internal error text leaked to client")
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		status     healthuc.Status
		wantStatus int
	}{
		{"healthy", healthuc.Healthy, http.StatusOK},
		{"degraded", healthuc.Degraded, http.StatusServiceUnavailable},
		{"unhealthy", healthuc.Unhealthy, http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hc := &mockHealth{report: healthuc.Report{
				Status: tc.status,
				Checks: map[string]healthuc.CheckResult{"database:description/768": healthuc.CheckOK},
				Corpus: map[string]int{"description/768": 12},
			}}
			req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
			rr := httptest.NewRecorder()
			newTestRouter(&mockUploader{}, hc).ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("got %d, want %d", rr.Code, tc.wantStatus)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != string(tc.status) || resp.Checks["database:description/768"] != "ok" {
				t.Errorf("unexpected body: %+v", resp)
			}
			if resp.CorpusItems["description/768"] != 12 {
				t.Errorf("unexpected body: %+v", resp)
			}
		})
	}
}

func TestRouter_NotFoundIsJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/collections", http.NoBody)
	rr := httptest.NewRecorder()
	newTestRouter(&mockUploader{}, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: got %q", ct)
	}
}

func TestJSONRecoverer(t *testing.T) {
	h := JSONRecoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("got %d, want 500", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Error != "Internal server error" {
		t.Errorf("error: got %q", resp.Error)
	}
}

func TestPartMIMEType(t *testing.T) {
	tests := []struct {
		declared string
		data     []byte
		want     string
	}{
		{"image/jpeg", nil, "image/jpeg"},
		{"video/mp4; codecs=avc1", nil, "video/mp4"},
		{"application/octet-stream", pngHeader, "image/png"},
		{"", []byte("hello"), "text/plain"},
	}
	for _, tc := range tests {
		if got := partMIMEType(tc.declared, tc.data); got != tc.want {
			t.Errorf("partMIMEType(%q): got %q, want %q", tc.declared, got, tc.want)
		}
	}
}

func TestMediaLabel(t *testing.T) {
	tests := map[string]string{
		"image/jpeg":               "image",
		"image/webp":               "image",
		"video/mp4":                "video",
		"image/gif":                "unsupported",
		"application/octet-stream": "unsupported",
	}
	for mt, want := range tests {
		if got := mediaLabel(mt); got != want {
			t.Errorf("mediaLabel(%q) = %q, want %q", mt, got, want)
		}
	}
}
