package clip

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/kailas-cloud/vecguard/internal/domain"
	"github.com/kailas-cloud/vecguard/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterExtractionMetrics()
	os.Exit(m.Run())
}

func newTestEmbedder(url string, dims int) *Embedder {
	return NewEmbedder(&Config{APIKey: "hf-key", BaseURL: url, Model: "org/clip", Dimensions: dims})
}

func TestEmbedder_Extract(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"flat", `[0.1, 0.2, 0.3]`},
		{"nested", `[[0.1, 0.2, 0.3], [0.9, 0.9, 0.9]]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/org/clip/pipeline/feature-extraction" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				if r.Header.Get("Authorization") != "Bearer hf-key" {
					t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
				}
				var req struct {
					Inputs string `json:"inputs"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("decode request: %v", err)
				}
				if !strings.HasPrefix(req.Inputs, "data:image/jpeg;base64,") {
					t.Errorf("inputs is not a data URL: %q", req.Inputs)
				}
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			sig, err := newTestEmbedder(server.URL, 3).Extract(context.Background(), []byte{0xff, 0xd8})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := []float32{0.1, 0.2, 0.3}
			for i := range want {
				if sig.Vector[i] != want[i] {
					t.Errorf("vec[%d] = %f, want %f", i, sig.Vector[i], want[i])
				}
			}
			if sig.HasDescription() {
				t.Error("image embedding must not carry a description")
			}
			if sig.Space != domain.ImageSpace(3) {
				t.Errorf("unexpected space %s", sig.Space)
			}
		})
	}
}

func TestEmbedder_ErrorStatuses(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusInternalServerError, false},
	}
	for _, tc := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"error":"nope"}`))
		}))

		_, err := newTestEmbedder(server.URL, 3).Extract(context.Background(), []byte{1})
		server.Close()

		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if domain.IsRetryable(err) != tc.retryable {
			t.Errorf("status %d: retryable = %v, want %v", tc.status, domain.IsRetryable(err), tc.retryable)
		}
	}
}

func TestEmbedder_MalformedResponse(t *testing.T) {
	bodies := []string{`{"embedding": [0.1]}`, `[]`, `[0.1, "x", 0.3]`, `[[0.1, null, 0.3]]`}
	for _, body := range bodies {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(body))
		}))

		_, err := newTestEmbedder(server.URL, 3).Extract(context.Background(), []byte{1})
		server.Close()

		if !errors.Is(err, domain.ErrDataIntegrity) {
			t.Errorf("body %s: expected ErrDataIntegrity, got %v", body, err)
		}
	}
}

func TestEmbedder_DimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[0.1, 0.2]`))
	}))
	defer server.Close()

	_, err := newTestEmbedder(server.URL, 3).Extract(context.Background(), []byte{1})
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}
}

func TestEmbedder_Defaults(t *testing.T) {
	e := NewEmbedder(&Config{})
	if e.Space() != domain.ImageSpace(domain.ImageDimensions) {
		t.Errorf("unexpected default space %s", e.Space())
	}
	if e.model != DefaultModel || e.baseURL != DefaultBaseURL {
		t.Errorf("unexpected defaults: %s %s", e.model, e.baseURL)
	}
	if err := e.HealthCheck(context.Background()); err == nil {
		t.Error("health check without key should fail")
	}
}
