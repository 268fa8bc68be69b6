package bridge

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/meetcaption/internal/observe"
)

// recordingHandler records every command it receives.
type recordingHandler struct {
	mu   sync.Mutex
	cmds []Command
	ids  []string
}

func (r *recordingHandler) HandleCommand(_ context.Context, clientID string, cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	r.ids = append(r.ids, clientID)
}

func (r *recordingHandler) snapshot() ([]Command, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.cmds...), append([]string(nil), r.ids...)
}

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func counter(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func startHub(t *testing.T, h Handler, opts ...Option) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(h, opts...)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Close(ctx)
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.Clients() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Clients = %d, want %d", hub.Clients(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readType(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return m
}

func TestHub_DispatchesCommands(t *testing.T) {
	t.Parallel()
	rec := &recordingHandler{}
	m, _ := testMetrics(t)
	_, srv := startHub(t, rec, WithMetrics(m))
	conn := dial(t, srv)

	ctx := context.Background()
	for _, msg := range []string{
		`{"type":"OFFSCREEN_START","streamId":"s1","apiKey":"k"}`,
		`not json`,
		`{"type":"SOMETHING_ELSE"}`,
		`{"type":"OFFSCREEN_STOP"}`,
	} {
		if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		cmds, _ := rec.snapshot()
		if len(cmds) >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("received %d commands, want 2", len(cmds))
		}
		time.Sleep(5 * time.Millisecond)
	}

	cmds, ids := rec.snapshot()
	if len(cmds) != 2 {
		t.Fatalf("received %d commands, want 2 (unknown and malformed are dropped)", len(cmds))
	}
	start, ok := cmds[0].(*Start)
	if !ok || start.StreamID != "s1" || start.APIKey != "k" {
		t.Errorf("first command = %#v", cmds[0])
	}
	if _, ok := cmds[1].(*Stop); !ok {
		t.Errorf("second command = %#v, want *Stop", cmds[1])
	}
	if ids[0] == "" || ids[0] != ids[1] {
		t.Errorf("client ids = %v, want one stable non-empty id", ids)
	}
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	t.Parallel()
	m, reader := testMetrics(t)
	hub, srv := startHub(t, nil, WithMetrics(m))
	a := dial(t, srv)
	b := dial(t, srv)
	waitClients(t, hub, 2)

	if got := counter(t, reader, "meetcaption.bridge.clients"); got != 2 {
		t.Errorf("bridge.clients = %d, want 2", got)
	}

	n, err := hub.Broadcast(NewStatus("Capturing audio"))
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if n != 2 {
		t.Errorf("Broadcast queued for %d clients, want 2", n)
	}
	for _, c := range []*websocket.Conn{a, b} {
		got := readType(t, c)
		if got["type"] != TypeStatus || got["text"] != "Capturing audio" {
			t.Errorf("received %v", got)
		}
	}
}

func TestHub_SendTargetsOneClient(t *testing.T) {
	t.Parallel()
	rec := &recordingHandler{}
	m, _ := testMetrics(t)
	hub, srv := startHub(t, rec, WithMetrics(m))
	conn := dial(t, srv)
	if err := conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"OFFSCREEN_STOP"}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var id string
	deadline := time.Now().Add(5 * time.Second)
	for id == "" {
		if _, ids := rec.snapshot(); len(ids) > 0 {
			id = ids[0]
		}
		if time.Now().After(deadline) {
			t.Fatal("command never arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ok, err := hub.Send(id, NewStatus("only you"))
	if err != nil || !ok {
		t.Fatalf("Send = %v, %v", ok, err)
	}
	if got := readType(t, conn); got["text"] != "only you" {
		t.Errorf("received %v", got)
	}
	if ok, _ := hub.Send("nobody", NewStatus("x")); ok {
		t.Error("Send to an unknown client reported success")
	}
}

func TestHub_FullQueueDropsForThatClientOnly(t *testing.T) {
	t.Parallel()
	m, reader := testMetrics(t)
	hub := NewHub(nil, WithMetrics(m), WithQueueDepth(1))

	slow := &client{id: "slow", queue: make(chan []byte, 1), done: make(chan struct{})}
	fast := &client{id: "fast", queue: make(chan []byte, 4), done: make(chan struct{})}
	hub.clients[slow.id] = slow
	hub.clients[fast.id] = fast

	for i := range 3 {
		if _, err := hub.Broadcast(NewStatus("tick")); err != nil {
			t.Fatalf("Broadcast %d: %v", i, err)
		}
	}

	if len(slow.queue) != 1 {
		t.Errorf("slow queue = %d, want 1", len(slow.queue))
	}
	if len(fast.queue) != 3 {
		t.Errorf("fast queue = %d, want 3", len(fast.queue))
	}
	if got := counter(t, reader, "meetcaption.bridge.drops"); got != 2 {
		t.Errorf("bridge.drops = %d, want 2", got)
	}
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	t.Parallel()
	m, _ := testMetrics(t)
	hub, srv := startHub(t, nil, WithMetrics(m))
	conn := dial(t, srv)
	waitClients(t, hub, 1)

	readErr := make(chan error, 1)
	go func() {
		rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer rcancel()
		_, _, err := conn.Read(rctx)
		readErr <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hub.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := hub.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if hub.Clients() != 0 {
		t.Errorf("Clients = %d after Close", hub.Clients())
	}
	if err := <-readErr; websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("client read err = %v, want going away", err)
	}
}
