package upload

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kailas-cloud/vecguard/internal/domain"
	"github.com/kailas-cloud/vecguard/internal/metrics"
)

type mockNormalizer struct {
	fn    func(ctx context.Context, data []byte, mimeType string) ([]byte, error)
	calls int
}

func (m *mockNormalizer) Normalize(ctx context.Context, data []byte, mimeType string) ([]byte, error) {
	m.calls++
	if m.fn != nil {
		return m.fn(ctx, data, mimeType)
	}
	return []byte("jpeg"), nil
}

type mockDecider struct {
	fn    func(ctx context.Context, data []byte) (domain.Verdict, error)
	calls int
	got   []byte
}

func (m *mockDecider) Decide(ctx context.Context, data []byte) (domain.Verdict, error) {
	m.calls++
	m.got = data
	if m.fn != nil {
		return m.fn(ctx, data)
	}
	return domain.Safe(), nil
}

func newTestOrchestrator(timeout time.Duration) (*Orchestrator, *mockNormalizer, *mockDecider, *mockDecider) {
	n, img, vid := &mockNormalizer{}, &mockDecider{}, &mockDecider{}
	return New(n, img, vid, timeout), n, img, vid
}

func TestProcess_Image(t *testing.T) {
	o, n, img, vid := newTestOrchestrator(0)
	img.fn = func(_ context.Context, _ []byte) (domain.Verdict, error) {
		return domain.Flagged([]domain.Match{
			{ReferenceID: "1", Label: "IMG_TaylorSwift_02.jpg", Similarity: 0.95, Kind: domain.MatchName},
		}), nil
	}

	resp, err := o.Process(context.Background(), []byte("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.calls != 1 || img.calls != 1 || vid.calls != 0 {
		t.Errorf("calls: normalize=%d image=%d video=%d", n.calls, img.calls, vid.calls)
	}
	if string(img.got) != "jpeg" {
		t.Errorf("engine got %q, want normalized bytes", img.got)
	}
	if resp.Status != domain.StatusFlagged {
		t.Errorf("status = %s", resp.Status)
	}
	if len(resp.Matches) != 1 || resp.Matches[0].Filename != "IMG_TaylorSwift_02.jpg" || resp.Matches[0].Similarity != "95.0%" {
		t.Errorf("matches = %+v", resp.Matches)
	}
	if resp.ProcessingTime < 0 {
		t.Errorf("processing time = %f", resp.ProcessingTime)
	}
}

func TestProcess_Video(t *testing.T) {
	o, n, img, vid := newTestOrchestrator(0)

	resp, err := o.Process(context.Background(), []byte("mp4-bytes"), "video/mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.calls != 0 || img.calls != 0 || vid.calls != 1 {
		t.Errorf("calls: normalize=%d image=%d video=%d", n.calls, img.calls, vid.calls)
	}
	if string(vid.got) != "mp4-bytes" {
		t.Errorf("video decider got %q", vid.got)
	}
	if resp.Status != domain.StatusSafe || resp.Matches == nil || len(resp.Matches) != 0 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestProcess_Rejections(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		mime string
		want error
	}{
		{"gif", []byte("x"), "image/gif", domain.ErrUnsupportedFormat},
		{"quicktime", []byte("x"), "video/quicktime", domain.ErrUnsupportedFormat},
		{"unsupported wins over empty", nil, "text/plain", domain.ErrUnsupportedFormat},
		{"empty image", nil, "image/jpeg", domain.ErrEmptyInput},
		{"empty video", []byte{}, "video/mp4", domain.ErrEmptyInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o, n, img, vid := newTestOrchestrator(0)
			_, err := o.Process(context.Background(), tc.data, tc.mime)
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
			if n.calls+img.calls+vid.calls != 0 {
				t.Error("no processing should happen on rejected input")
			}
		})
	}
}

func TestProcess_NormalizeError(t *testing.T) {
	o, n, img, _ := newTestOrchestrator(0)
	n.fn = func(_ context.Context, _ []byte, _ string) ([]byte, error) {
		return nil, domain.ErrInvalidMedia
	}

	_, err := o.Process(context.Background(), []byte("garbage"), "image/webp")
	if !errors.Is(err, domain.ErrInvalidMedia) {
		t.Errorf("expected ErrInvalidMedia, got %v", err)
	}
	if img.calls != 0 {
		t.Error("engine should not run after a normalize failure")
	}
}

func TestProcess_ErrorPreservesRetryable(t *testing.T) {
	o, _, img, _ := newTestOrchestrator(0)
	img.fn = func(_ context.Context, _ []byte) (domain.Verdict, error) {
		return domain.Verdict{}, domain.NewBackendError("gemini", true, errors.New("429"))
	}

	before := testutil.ToFloat64(metrics.UploadErrorsTotal.WithLabelValues("image"))
	_, err := o.Process(context.Background(), []byte("x"), "image/jpeg")
	if !domain.IsRetryable(err) {
		t.Errorf("expected retryable error, got %v", err)
	}
	if got := testutil.ToFloat64(metrics.UploadErrorsTotal.WithLabelValues("image")); got != before+1 {
		t.Errorf("upload errors = %f, want %f", got, before+1)
	}
}

func TestProcess_Timeout(t *testing.T) {
	o, _, _, vid := newTestOrchestrator(20 * time.Millisecond)
	vid.fn = func(ctx context.Context, _ []byte) (domain.Verdict, error) {
		<-ctx.Done()
		return domain.Verdict{}, ctx.Err()
	}

	_, err := o.Process(context.Background(), []byte("x"), "video/mp4")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestProcess_TimeoutReportedWhenCauseIsLost(t *testing.T) {
	o, _, img, _ := newTestOrchestrator(20 * time.Millisecond)
	img.fn = func(ctx context.Context, _ []byte) (domain.Verdict, error) {
		<-ctx.Done()
		return domain.Verdict{}, errors.Join(domain.ErrExtractionFailed, errors.New("request canceled"))
	}

	_, err := o.Process(context.Background(), []byte("x"), "image/jpeg")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if !errors.Is(err, domain.ErrExtractionFailed) {
		t.Errorf("expected the pipeline error to be kept, got %v", err)
	}
}

func TestProcess_MeasuresTime(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(0)
	base := time.Unix(0, 0)
	ticks := []time.Time{base, base.Add(1500 * time.Millisecond)}
	o.now = func() time.Time {
		now := ticks[0]
		ticks = ticks[1:]
		return now
	}

	before := testutil.ToFloat64(metrics.VerdictsTotal.WithLabelValues("image", "safe"))
	resp, err := o.Process(context.Background(), []byte("x"), "image/jpeg; charset=binary")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ProcessingTime != 1.5 {
		t.Errorf("processing time = %f, want 1.5", resp.ProcessingTime)
	}
	if got := testutil.ToFloat64(metrics.VerdictsTotal.WithLabelValues("image", "safe")); got != before+1 {
		t.Errorf("verdicts = %f, want %f", got, before+1)
	}
}
