package restlimit

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestAttemptSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}, WithTracerProvider(tp))

	if _, err := c.Get(context.Background(), "/channels/"+channelID, RequestOptions{}); err != nil {
		t.Fatal(err)
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	for i, s := range spans {
		if s.Name() != "restlimit.attempt" {
			t.Errorf("span %d name = %q", i, s.Name())
		}
		attrs := make(map[attribute.Key]attribute.Value)
		for _, kv := range s.Attributes() {
			attrs[kv.Key] = kv.Value
		}
		if got := attrs["restlimit.attempt"].AsInt64(); got != int64(i) {
			t.Errorf("span %d attempt = %d", i, got)
		}
		if got := attrs["restlimit.route"].AsString(); got != "GET:/channels/:id" {
			t.Errorf("span %d route = %q", i, got)
		}
		if attrs["restlimit.request_id"].AsString() == "" {
			t.Errorf("span %d has no request id", i)
		}
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("500 span status = %v, want Error", spans[0].Status().Code)
	}
	if spans[1].Status().Code == codes.Error {
		t.Error("204 span marked as error")
	}
}
