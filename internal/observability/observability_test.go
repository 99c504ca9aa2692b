package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestLoggerAddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "dev")

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	log.InfoContext(ctx, "inside span")
	span.End()

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not json: %v (%s)", err, buf.String())
	}

	if rec["trace_id"] != span.SpanContext().TraceID().String() {
		t.Fatalf("expected trace_id %s, got %v", span.SpanContext().TraceID(), rec["trace_id"])
	}
	if _, ok := rec["span_id"]; !ok {
		t.Fatalf("expected span_id attribute")
	}
}

func TestLoggerWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "prod").Info("plain")

	if strings.Contains(buf.String(), "trace_id") {
		t.Fatalf("did not expect trace_id outside a span: %s", buf.String())
	}
}

func TestClassifyDBErr(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&pgconn.PgError{Code: "23505"}, "unique_violation"},
		{&pgconn.PgError{Code: "40P01"}, "deadlock"},
		{&pgconn.PgError{Code: "42P01"}, "pg_42P01"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("connection refused"), "connection"},
		{errors.New("weird"), "unknown"},
	}

	for _, tt := range tests {
		if got := classifyDBErr(tt.err); got != tt.want {
			t.Fatalf("classifyDBErr(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestObserveDBCountsErrors(t *testing.T) {
	p := NewProm(prometheus.NewRegistry())

	_ = p.ObserveDB("accounts.create", func() error { return nil })
	_ = p.ObserveDB("accounts.create", func() error { return &pgconn.PgError{Code: "23505"} })

	got := testutil.ToFloat64(p.DbErrorsTotal.WithLabelValues("accounts.create", "unique_violation"))
	if got != 1 {
		t.Fatalf("expected 1 unique_violation, got %v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := NewProm(prometheus.NewRegistry())

	r := gin.New()
	r.Use(p.GinHandleMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", p.Handler())

	p.ObserveNotification("log", 10*time.Millisecond, "ok")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := w.Body.String()
	for _, want := range []string{
		`accounthub_http_requests_total{method="GET",route="/ping",status="204"} 1`,
		`accounthub_notifications_sent_total{provider="log",result="ok"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestLoggerAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "prod")

	log.InfoContext(WithRequestID(context.Background(), "req-42"), "hello")

	if !strings.Contains(buf.String(), `"request_id":"req-42"`) {
		t.Fatalf("expected request_id in log line: %s", buf.String())
	}
}

func TestObserveDBIgnoresMisses(t *testing.T) {
	p := NewProm(prometheus.NewRegistry())

	_ = p.ObserveDB("accounts.get_by_email", func() error { return pgx.ErrNoRows })

	if got := testutil.CollectAndCount(p.DbErrorsTotal); got != 0 {
		t.Fatalf("expected no error series, got %d", got)
	}
}

func TestInitTracerWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracerConfig{ServiceName: "accounthub-test", Env: "test"})
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		got := samplerFor(tt.ratio).Description()
		if !strings.HasPrefix(got, "ParentBased{") || !strings.Contains(got, tt.want) {
			t.Fatalf("ratio %v: got sampler %q, want root %s", tt.ratio, got, tt.want)
		}
	}
}
