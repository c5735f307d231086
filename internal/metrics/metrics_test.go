package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aliskhannn/toolbox/internal/model"
)

func TestMetrics_Event(t *testing.T) {
	m := New(false)

	m.Event(model.Event{Kind: model.KindImage, Type: model.EventStaged})
	m.Event(model.Event{Kind: model.KindImage, Type: model.EventStaged})
	m.Event(model.Event{Kind: model.KindAudio, Type: model.EventFailed})

	if got := testutil.ToFloat64(m.events.WithLabelValues("image", "staged")); got != 2 {
		t.Fatalf("want 2 staged got %v", got)
	}
	if got := testutil.ToFloat64(m.events.WithLabelValues("audio", "failed")); got != 1 {
		t.Fatalf("want 1 failed got %v", got)
	}
}

func TestMetrics_PendingAndDuration(t *testing.T) {
	m := New(false)

	m.Pending(model.KindOCR, 3)
	m.Pending(model.KindOCR, 1)
	m.Conversion(model.KindOCR, 300*time.Millisecond)

	if got := testutil.ToFloat64(m.pending.WithLabelValues("ocr")); got != 1 {
		t.Fatalf("want gauge 1 got %v", got)
	}
	if n := testutil.CollectAndCount(m.duration); n != 1 {
		t.Fatalf("want 1 histogram series got %d", n)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New(true)
	m.Event(model.Event{Kind: model.KindCrop, Type: model.EventDelivered})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `toolbox_conversion_events_total{kind="crop",type="delivered"} 1`) {
		t.Fatalf("metric missing from output:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatal("runtime collectors missing")
	}
}
