package wreq

import (
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/haivivi/wreq/go/pkg/gvl"
)

func TestObservability(t *testing.T) {
	srv := newTestServer(t)
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { tp.Shutdown(t.Context()) })

	c := NewClient(WithMetrics(m), WithTracerProvider(tp))
	in := gvl.New()
	err := in.Do(func(th *gvl.Thread) error {
		resp, err := c.Get(th, srv.URL+"/hello")
		if err != nil {
			return err
		}
		resp.Close()
		resp, err = c.Get(th, srv.URL+"/missing")
		if err != nil {
			return err
		}
		resp.Close()
		_, err = c.Get(th, "http://127.0.0.1:1/refused")
		if err == nil {
			t.Error("request to a closed port succeeded")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "200")); got != 1 {
		t.Errorf("200 requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "404")); got != 1 {
		t.Errorf("404 requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, KindConnection.String())); got != 1 {
		t.Errorf("connection errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
	if got := testutil.CollectAndCount(m.duration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}

	spans := sr.Ended()
	if len(spans) != 3 {
		t.Fatalf("ended spans = %d, want 3", len(spans))
	}
	var status int64
	for _, kv := range spans[0].Attributes() {
		if kv.Key == attribute.Key("http.response.status_code") {
			status = kv.Value.AsInt64()
		}
	}
	if status != http.StatusOK {
		t.Errorf("first span status attribute = %d", status)
	}
	if spans[2].Status().Code != codes.Error {
		t.Errorf("failed request span status = %v", spans[2].Status())
	}
}
