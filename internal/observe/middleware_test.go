package observe

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// upgradeRecorder is a ResponseRecorder that can be hijacked, like the
// connection behind a bridge WebSocket upgrade.
type upgradeRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (u *upgradeRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	u.hijacked = true
	client, server := net.Pipe()
	_ = client.Close()
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func upgrade(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		conn, _, err := http.NewResponseController(w).Hijack()
		if err != nil {
			t.Errorf("Hijack: %v", err)
			return
		}
		_ = conn.Close()
	}
}

func reply(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(code) }
}

func TestMiddleware_Routes(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		handler    func(t *testing.T) http.HandlerFunc
		wantStatus int64
		wantLogged bool
		wantUpgr   bool
	}{
		{"bridge upgrade", "/ws", upgrade, http.StatusSwitchingProtocols, true, true},
		{"liveness", "/healthz", func(*testing.T) http.HandlerFunc { return reply(http.StatusOK) }, http.StatusOK, false, false},
		{"readiness failing", "/readyz", func(*testing.T) http.HandlerFunc { return reply(http.StatusServiceUnavailable) }, http.StatusServiceUnavailable, false, false},
		{"scrape", "/metrics", func(*testing.T) http.HandlerFunc { return reply(http.StatusOK) }, http.StatusOK, false, false},
		{"unknown route", "/captions", func(*testing.T) http.HandlerFunc { return reply(http.StatusNotFound) }, http.StatusNotFound, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, reader := newTestMetrics(t)
			exp := useTracer(t)
			logs := captureLogs(t)

			rec := &upgradeRecorder{ResponseRecorder: httptest.NewRecorder()}
			Middleware(m)(tt.handler(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.hijacked != tt.wantUpgr {
				t.Errorf("hijacked = %v, want %v", rec.hijacked, tt.wantUpgr)
			}
			if cid := rec.Header().Get("X-Correlation-ID"); len(cid) != 32 {
				t.Errorf("X-Correlation-ID = %q, want a 32-char trace ID", cid)
			}

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			if want := "HTTP GET " + tt.path; spans[0].Name != want {
				t.Errorf("span name = %q, want %q", spans[0].Name, want)
			}
			var status int64
			for _, a := range spans[0].Attributes {
				if a.Key == "http.response.status_code" {
					status = a.Value.AsInt64()
				}
			}
			if status != tt.wantStatus {
				t.Errorf("span status = %d, want %d", status, tt.wantStatus)
			}

			met := findMetric(collect(t, reader), "meetcaption.http.request.duration")
			if met == nil {
				t.Fatal("request duration not recorded")
			}
			hist := met.Data.(metricdata.Histogram[float64])
			if len(hist.DataPoints) != 1 {
				t.Fatalf("got %d data points, want 1", len(hist.DataPoints))
			}
			if path, _ := hist.DataPoints[0].Attributes.Value("path"); path.AsString() != tt.path {
				t.Errorf("path attribute = %q", path.AsString())
			}

			out := logs.String()
			if logged := strings.Contains(out, "request completed"); logged != tt.wantLogged {
				t.Errorf("info log present = %v, want %v:\n%s", logged, tt.wantLogged, out)
			}
			if tt.wantUpgr && !strings.Contains(out, "upgraded=true") {
				t.Errorf("upgrade not reflected in the log line:\n%s", out)
			}
		})
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	m, _ := newTestMetrics(t)
	useTracer(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	var inner string
	h := Middleware(m)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		inner = CorrelationID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if inner != traceID {
		t.Errorf("handler correlation ID = %q, want %q", inner, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
	if got := rec.Header().Get("traceparent"); !strings.Contains(got, traceID) {
		t.Errorf("traceparent = %q, want it to carry %s", got, traceID)
	}
}

func TestMiddleware_HijackUnsupported(t *testing.T) {
	m, _ := newTestMetrics(t)

	var err error
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _, err = w.(http.Hijacker).Hijack()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws", nil))

	if err == nil {
		t.Fatal("expected an error when the writer cannot be hijacked")
	}
}

func TestStatusRecorder_Unwrap(t *testing.T) {
	inner := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: inner}
	if rec.Unwrap() != inner {
		t.Error("Unwrap did not return the wrapped writer")
	}
	rec.WriteHeader(http.StatusTeapot)
	if rec.statusCode != http.StatusTeapot || inner.Code != http.StatusTeapot {
		t.Errorf("status = %d/%d, want 418", rec.statusCode, inner.Code)
	}
}
