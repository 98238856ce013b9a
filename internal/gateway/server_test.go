package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/okravets/speakfluent/internal/config"
	"github.com/okravets/speakfluent/internal/observability"
	"github.com/okravets/speakfluent/internal/orchestrate"
	"github.com/okravets/speakfluent/internal/store"
	"github.com/okravets/speakfluent/internal/transcribe"
	"github.com/okravets/speakfluent/internal/translate"
)

type stubStream struct{}

func (stubStream) Send(audio []byte) error { return nil }
func (stubStream) KeepAlive() error        { return nil }
func (stubStream) Close() error            { return nil }

// stubProvider hands back the stream events so tests can drive the
// provider side of a session.
type stubProvider struct {
	mu     sync.Mutex
	events transcribe.StreamEvents
	opens  int
}

func (p *stubProvider) Open(ctx context.Context, opts transcribe.StreamOptions, events transcribe.StreamEvents) (transcribe.Stream, error) {
	p.mu.Lock()
	p.events = events
	p.opens++
	p.mu.Unlock()
	return stubStream{}, nil
}

// waitOpens blocks until the provider has opened n streams and returns
// the newest stream's events.
func (p *stubProvider) waitOpens(t *testing.T, n int) transcribe.StreamEvents {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		opens := p.opens
		events := p.events
		p.mu.Unlock()
		if opens >= n {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("provider stream %d never opened", n)
	return transcribe.StreamEvents{}
}

func testConfig() config.Config {
	return config.Config{
		AllowAnyOrigin:    true,
		DeepgramModel:     "nova-2",
		UsageTickInterval: time.Hour,
		KeepAliveInterval: time.Hour,
		PauseAutoClose:    time.Hour,
	}
}

func newTestServer(t *testing.T, provider transcribe.Provider, usage store.Store) (*Server, *httptest.Server) {
	t.Helper()
	metrics := observability.NewMetrics("test_gateway_" + strconv.FormatInt(time.Now().UnixNano(), 10))
	srv := New(testConfig(), provider, usage, metrics, zerolog.Nop())
	srv.SetOrchestrator(orchestrate.New(orchestrate.Options{
		Translator: translate.NewMockTranslator(),
		Sink:       srv,
		Metrics:    metrics,
		Logger:     zerolog.Nop(),
	}))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func dialWS(t *testing.T, ts *httptest.Server, clientID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?client_id=" + clientID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitEvent reads until a message of the wanted type arrives, skipping
// unrelated traffic like usage ticks.
func waitEvent(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", wantType, err)
		}
		if msg["type"] == wantType {
			return msg
		}
	}
}

func TestHealthRoutes(t *testing.T) {
	_, ts := newTestServer(t, &stubProvider{}, store.NewMemoryStore())

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}

func TestWSUsageSnapshotOnConnect(t *testing.T) {
	usage := store.NewMemoryStore()
	started := time.Now().Add(-time.Hour)
	if _, err := usage.AddUsage(context.Background(), "client-1", store.SessionRecord{
		StartedAt: started,
		EndedAt:   started.Add(20 * time.Second),
		Seconds:   20,
	}); err != nil {
		t.Fatalf("seed usage: %v", err)
	}

	_, ts := newTestServer(t, &stubProvider{}, usage)
	conn := dialWS(t, ts, "client-1")

	msg := waitEvent(t, conn, "usage:current")
	if got := msg["totalMs"].(float64); got != 20000 {
		t.Errorf("totalMs = %v, want 20000", got)
	}
	last, ok := msg["lastSession"].(map[string]any)
	if !ok || last["seconds"].(float64) != 20 {
		t.Errorf("unexpected lastSession: %v", msg["lastSession"])
	}
}

func TestWSTranscriptionToTranslationFlow(t *testing.T) {
	provider := &stubProvider{}
	_, ts := newTestServer(t, provider, store.NewMemoryStore())
	conn := dialWS(t, ts, "client-1")
	waitEvent(t, conn, "usage:current")

	if err := conn.WriteJSON(map[string]any{
		"type":           "incoming-audio",
		"sampleRate":     16000,
		"inputLanguage":  "en",
		"targetLanguage": "es",
		"audioData":      []byte{1, 2, 3, 4},
	}); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	events := provider.waitOpens(t, 1)
	events.Ready()
	waitEvent(t, conn, "transcriber-ready")

	events.Transcript("Hello over there.", true)

	final := waitEvent(t, conn, "final")
	if final["sentence"] != "Hello over there." {
		t.Errorf("final sentence = %v", final["sentence"])
	}
	translated := waitEvent(t, conn, "final-translated")
	if translated["text"] != "[es] Hello over there." {
		t.Errorf("translated text = %v", translated["text"])
	}
}

func TestWSEndSettlesUsage(t *testing.T) {
	provider := &stubProvider{}
	usage := store.NewMemoryStore()
	_, ts := newTestServer(t, provider, usage)
	conn := dialWS(t, ts, "client-1")
	waitEvent(t, conn, "usage:current")

	if err := conn.WriteJSON(map[string]any{
		"type":           "incoming-audio",
		"sampleRate":     16000,
		"inputLanguage":  "en",
		"targetLanguage": "es",
		"audioData":      []byte{1, 2, 3, 4},
	}); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	provider.waitOpens(t, 1).Ready()
	waitEvent(t, conn, "transcriber-ready")

	if err := conn.WriteJSON(map[string]any{"type": "disconnect-deepgram"}); err != nil {
		t.Fatalf("write end: %v", err)
	}

	final := waitEvent(t, conn, "usage:final")
	if _, ok := final["totalMs"]; !ok {
		t.Errorf("usage:final missing totalMs: %v", final)
	}

	u, err := usage.Usage(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("store usage: %v", err)
	}
	if u.LastSession == nil {
		t.Error("expected settled session in store")
	}
}

func TestWSBroadcastReachesAllConns(t *testing.T) {
	provider := &stubProvider{}
	_, ts := newTestServer(t, provider, store.NewMemoryStore())
	first := dialWS(t, ts, "client-1")
	second := dialWS(t, ts, "client-1")
	waitEvent(t, first, "usage:current")
	waitEvent(t, second, "usage:current")

	if err := first.WriteJSON(map[string]any{
		"type":           "incoming-audio",
		"sampleRate":     16000,
		"inputLanguage":  "en",
		"targetLanguage": "es",
		"audioData":      []byte{1, 2, 3, 4},
	}); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	provider.waitOpens(t, 1).Ready()

	waitEvent(t, first, "transcriber-ready")
	waitEvent(t, second, "transcriber-ready")
}

func TestWSRestartAfterEnd(t *testing.T) {
	provider := &stubProvider{}
	usage := store.NewMemoryStore()
	_, ts := newTestServer(t, provider, usage)
	conn := dialWS(t, ts, "client-1")
	waitEvent(t, conn, "usage:current")

	audioFrame := map[string]any{
		"type":           "incoming-audio",
		"sampleRate":     16000,
		"inputLanguage":  "en",
		"targetLanguage": "es",
		"audioData":      []byte{1, 2, 3, 4},
	}
	if err := conn.WriteJSON(audioFrame); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	provider.waitOpens(t, 1).Ready()
	waitEvent(t, conn, "transcriber-ready")

	if err := conn.WriteJSON(map[string]any{"type": "disconnect-deepgram"}); err != nil {
		t.Fatalf("write end: %v", err)
	}
	waitEvent(t, conn, "usage:final")

	// Fresh audio on the same socket opens a new provider stream.
	if err := conn.WriteJSON(audioFrame); err != nil {
		t.Fatalf("write audio after end: %v", err)
	}
	provider.waitOpens(t, 2).Ready()
	waitEvent(t, conn, "transcriber-ready")

	// The restarted session settles separately.
	if err := conn.WriteJSON(map[string]any{"type": "disconnect-deepgram"}); err != nil {
		t.Fatalf("write second end: %v", err)
	}
	waitEvent(t, conn, "usage:final")
}

// failingAddStore refuses settlements so the error path is observable.
type failingAddStore struct {
	*store.MemoryStore
}

func (f *failingAddStore) AddUsage(ctx context.Context, clientID string, session store.SessionRecord) (store.Usage, error) {
	return store.Usage{}, errors.New("connection refused")
}

func TestWSSettlementFailureReportedToClient(t *testing.T) {
	provider := &stubProvider{}
	inner := store.NewMemoryStore()
	started := time.Now().Add(-time.Hour)
	if _, err := inner.AddUsage(context.Background(), "client-1", store.SessionRecord{
		StartedAt: started,
		EndedAt:   started.Add(20 * time.Second),
		Seconds:   20,
	}); err != nil {
		t.Fatalf("seed usage: %v", err)
	}

	_, ts := newTestServer(t, provider, &failingAddStore{MemoryStore: inner})
	conn := dialWS(t, ts, "client-1")
	waitEvent(t, conn, "usage:current")

	if err := conn.WriteJSON(map[string]any{
		"type":           "incoming-audio",
		"sampleRate":     16000,
		"inputLanguage":  "en",
		"targetLanguage": "es",
		"audioData":      []byte{1, 2, 3, 4},
	}); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	provider.waitOpens(t, 1).Ready()
	waitEvent(t, conn, "transcriber-ready")

	if err := conn.WriteJSON(map[string]any{"type": "disconnect-deepgram"}); err != nil {
		t.Fatalf("write end: %v", err)
	}

	errEvent := waitEvent(t, conn, "error")
	if errEvent["message"] != "usage update failed" {
		t.Errorf("error message = %v, want %q", errEvent["message"], "usage update failed")
	}

	// The session event still closes out, projected from the last
	// persisted balance instead of the session alone.
	final := waitEvent(t, conn, "usage:final")
	if got := final["totalMs"].(float64); got < 20000 {
		t.Errorf("totalMs = %v, want at least the persisted 20000", got)
	}
}

func TestWSRejectsMalformedMessage(t *testing.T) {
	_, ts := newTestServer(t, &stubProvider{}, store.NewMemoryStore())
	conn := dialWS(t, ts, "client-1")
	waitEvent(t, conn, "usage:current")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"incoming-audio"}`)); err != nil {
		t.Fatalf("write malformed: %v", err)
	}

	msg := waitEvent(t, conn, "error")
	if msg["message"] != "invalid message" {
		t.Errorf("unexpected error payload: %v", msg)
	}
}
