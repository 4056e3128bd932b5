package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"folio/api/internal/extensions/linkpreview"
	"folio/api/internal/model"
	"folio/api/internal/transform"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTransactionCounters(t *testing.T) {
	m := New()
	m.TransactionApplied(3, time.Millisecond)
	m.TransactionApplied(1, time.Millisecond)
	m.TransactionRejected(fmt.Errorf("apply: %w", model.ErrSchemaViolation))
	m.TransactionRejected(transform.ErrStaleTransaction)
	m.TransactionRejected(errors.New("boom"))

	if got := testutil.ToFloat64(m.transactions); got != 2 {
		t.Fatalf("applied = %v, want 2", got)
	}
	for reason, want := range map[string]float64{"schema": 1, "stale": 1, "other": 1, "concurrent": 0} {
		if got := testutil.ToFloat64(m.rejections.WithLabelValues(reason)); got != want {
			t.Errorf("rejections[%s] = %v, want %v", reason, got, want)
		}
	}
}

func TestUnfurlAndPublishCounters(t *testing.T) {
	m := New()
	m.UnfurlSettled("lp_1", linkpreview.PhaseResolved, 20*time.Millisecond)
	m.UnfurlSettled("lp_2", linkpreview.PhaseFailed, time.Second)
	m.UnfurlSettled("lp_3", linkpreview.PhaseResolved, 30*time.Millisecond)
	m.Published("doc_1", 4096, 50*time.Millisecond)
	m.PublishFailed("doc_2", "upload")

	if got := testutil.ToFloat64(m.unfurls.WithLabelValues("resolved")); got != 2 {
		t.Fatalf("resolved unfurls = %v", got)
	}
	if got := testutil.ToFloat64(m.unfurls.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed unfurls = %v", got)
	}
	if got := testutil.ToFloat64(m.publishes); got != 1 {
		t.Fatalf("publishes = %v", got)
	}
	if got := testutil.ToFloat64(m.publishFail.WithLabelValues("upload")); got != 1 {
		t.Fatalf("upload failures = %v", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodGet, "/api/documents", http.StatusOK, time.Millisecond)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	for _, want := range []string{
		`folio_http_requests_total{code="200",method="GET",route="/api/documents"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNewIsIndependent(t *testing.T) {
	a, b := New(), New()
	a.Published("doc_1", 10, time.Millisecond)
	if got := testutil.ToFloat64(b.publishes); got != 0 {
		t.Fatalf("registries share state: %v", got)
	}
}
