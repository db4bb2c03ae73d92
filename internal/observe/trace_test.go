package observe

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func spanAttr(s tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, a := range s.Attributes {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func captureLog(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestMiddleware_StatusFeedUpgradeSpan(t *testing.T) {
	m, _, exp := testSetup(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		defer conn.CloseNow()
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"kind":"status","text":"Connected"}`))
		conn.Close(websocket.StatusNormalClosure, "")
	})
	srv := httptest.NewServer(Middleware(m)(mux))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/status/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("upgrade response has no X-Correlation-ID")
	}
	if _, msg, err := conn.Read(ctx); err != nil || !bytes.Contains(msg, []byte("Connected")) {
		t.Fatalf("Read = %q, %v", msg, err)
	}
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("expected normal closure, got %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(exp.GetSpans()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no span recorded for the status feed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	span := exp.GetSpans()[0]
	if span.Name != "WS /status/ws" {
		t.Errorf("span name = %q, want %q", span.Name, "WS /status/ws")
	}
	if v, ok := spanAttr(span, string(attrUpgrade)); !ok || !v.AsBool() {
		t.Errorf("span missing %s=true", attrUpgrade)
	}
	if v, ok := spanAttr(span, "http.response.status_code"); !ok || v.AsInt64() != http.StatusSwitchingProtocols {
		t.Errorf("status code attribute = %v, want 101", v.Emit())
	}
}

// hijackRecorder is a ResponseRecorder that supports hijacking.
type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	c1, c2 := net.Pipe()
	c2.Close()
	return c1, bufio.NewReadWriter(bufio.NewReader(c1), bufio.NewWriter(c1)), nil
}

func TestMiddleware_HijackWithoutWriteHeader(t *testing.T) {
	m, _, exp := testSetup(t)
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("wrapped writer does not implement http.Hijacker")
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Fatalf("Hijack: %v", err)
		}
		conn.Close()
	}))

	rec := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/status/ws", nil))

	if !rec.hijacked {
		t.Error("underlying writer was not hijacked")
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if v, _ := spanAttr(spans[0], "http.response.status_code"); v.AsInt64() != http.StatusSwitchingProtocols {
		t.Errorf("status code attribute = %d, want 101", v.AsInt64())
	}
	// No Upgrade header: a plain GET span, not a feed span.
	if spans[0].Name != "GET /status/ws" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "GET /status/ws")
	}
	if _, ok := spanAttr(spans[0], string(attrUpgrade)); ok {
		t.Errorf("%s set on a request without Upgrade header", attrUpgrade)
	}
}

func TestMiddleware_QuietPathsLogAtDebug(t *testing.T) {
	tests := []struct {
		path   string
		logged bool
	}{
		{"/healthz", false},
		{"/readyz", false},
		{"/metrics", false},
		{"/status", true},
		{"/status/ws", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			m, _, _ := testSetup(t)
			buf := captureLog(t, slog.LevelInfo)

			handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", tt.path, nil))

			got := strings.Contains(buf.String(), "path="+tt.path)
			if got != tt.logged {
				t.Errorf("logged at info = %v, want %v: %s", got, tt.logged, buf.String())
			}
		})
	}
}

func TestMiddleware_QuietPathsVisibleAtDebug(t *testing.T) {
	m, _, _ := testSetup(t)
	buf := captureLog(t, slog.LevelDebug)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/readyz", nil))

	out := buf.String()
	if !strings.Contains(out, "level=DEBUG") || !strings.Contains(out, "status=503") {
		t.Errorf("readiness probe not logged at debug: %s", out)
	}
}

func TestLogger_JoinsRequestLine(t *testing.T) {
	m, _, _ := testSetup(t)
	buf := captureLog(t, slog.LevelInfo)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Logger(r.Context()).Info("status: websocket accept failed")
		w.WriteHeader(http.StatusBadRequest)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/status/ws", nil))

	cid := rec.Header().Get("X-Correlation-ID")
	if cid == "" {
		t.Fatal("no correlation ID")
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("log lines = %d, want 2: %s", len(lines), buf.String())
	}
	for _, l := range lines {
		if !strings.Contains(l, "trace_id="+cid) {
			t.Errorf("line lacks trace_id=%s: %s", cid, l)
		}
	}
	if !strings.Contains(lines[0], "span_id=") {
		t.Errorf("handler line lacks span_id: %s", lines[0])
	}
}

func TestLogger_OutsideRequest(t *testing.T) {
	buf := captureLog(t, slog.LevelInfo)

	Logger(context.Background()).Info("status: bus stopped")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("unexpected trace attributes: %s", buf.String())
	}
	if CorrelationID(context.Background()) != "" {
		t.Error("CorrelationID outside a request should be empty")
	}
}
