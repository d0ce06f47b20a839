package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kunci115/RealtimeSTT/internal/audio"
	"github.com/kunci115/RealtimeSTT/internal/config"
	"github.com/kunci115/RealtimeSTT/internal/metrics"
	"github.com/kunci115/RealtimeSTT/internal/policy"
	"github.com/kunci115/RealtimeSTT/internal/protocol"
	"github.com/kunci115/RealtimeSTT/internal/recognition"
	"github.com/kunci115/RealtimeSTT/internal/session"
)

// Prometheus collectors register globally, so all tests share one instance
var testMetrics = metrics.NewMetrics()

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			DataPort:       8012,
			BindAddress:    "127.0.0.1",
			MaxMessageSize: 1 << 20,
			MaxSessions:    4,
			PingInterval:   20,
			SessionTimeout: 60,
		},
		HTTP: config.HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
	}
}

func testManagerConfig() session.ManagerConfig {
	return session.ManagerConfig{
		MaxSessions:    4,
		SessionTimeout: 60 * time.Second,
		Policy: policy.Config{
			VerifyEnabled:       true,
			RejectEnabled:       true,
			CorruptionThreshold: 0,
		},
		Assembler: audio.AssemblerConfig{
			SampleRate:      1000,
			MinDuration:     200 * time.Millisecond,
			MaxDuration:     time.Second,
			SilenceDuration: 300 * time.Millisecond,
		},
		VADThreshold:       0.5,
		VADWindowSize:      100,
		RecognitionTimeout: 2 * time.Second,
		MaxRetries:         0,
	}
}

// newRecognitionBackend fakes the external recognition API
func newRecognitionBackend(t *testing.T, text string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, "Error parsing form", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"text":       text,
			"confidence": 0.9,
			"language":   "en",
			"duration":   0.5,
		})
	}))
}

func newTestStack(t *testing.T, backendURL string) (*session.Manager, *WSServer, *recognition.Client) {
	t.Helper()

	client, err := recognition.NewClient(recognition.Config{
		Endpoint:      backendURL,
		APIKey:        "test-key",
		Timeout:       2 * time.Second,
		MaxRetries:    0,
		MaxConcurrent: 2,
	}, testMetrics)
	if err != nil {
		t.Fatalf("Failed to create recognition client: %v", err)
	}

	mgr, err := session.NewManager(testLogger(), testManagerConfig(), client, testMetrics)
	if err != nil {
		t.Fatalf("Failed to create session manager: %v", err)
	}

	cfg := testConfig()
	ws := NewWSServer(&cfg.Server, testLogger(), mgr)

	return mgr, ws, client
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	return conn
}

func readJSONMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}

	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to parse message %q: %v", string(data), err)
	}
	return msg
}

func sendFrame(t *testing.T, conn *websocket.Conn, metadata protocol.Metadata, samples []int16) {
	t.Helper()

	data, err := protocol.EncodeFrame(metadata, samples)
	if err != nil {
		t.Fatalf("Failed to encode frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}
}

func sampleChecksum(samples []int16) uint32 {
	var sum int64
	for _, s := range samples {
		sum += int64(s)
	}
	return uint32(sum)
}

func loudSamples(n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = 10000
	}
	return samples
}

func TestWebSocketDataFlow(t *testing.T) {
	backend := newRecognitionBackend(t, "ok go")
	defer backend.Close()

	mgr, ws, _ := newTestStack(t, backend.URL)
	defer mgr.Stop()

	ts := httptest.NewServer(http.HandlerFunc(ws.handleUpgrade))
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	// 200ms of voice, then 300ms of silence to close the utterance
	sendFrame(t, conn, protocol.Metadata{SampleRate: 1000}, loudSamples(200))
	sendFrame(t, conn, protocol.Metadata{SampleRate: 1000}, make([]int16, 300))

	start := readJSONMessage(t, conn)
	if start["type"] != "recording_start" {
		t.Errorf("Expected recording_start, got %v", start["type"])
	}

	stop := readJSONMessage(t, conn)
	if stop["type"] != "recording_stop" {
		t.Errorf("Expected recording_stop, got %v", stop["type"])
	}

	transcript := readJSONMessage(t, conn)
	if transcript["type"] != "fullSentence" {
		t.Errorf("Expected fullSentence, got %v", transcript["type"])
	}
	if transcript["text"] != "ok go" {
		t.Errorf("Expected transcript 'ok go', got %v", transcript["text"])
	}
}

func TestWebSocketRejectsCorruptClient(t *testing.T) {
	backend := newRecognitionBackend(t, "unused")
	defer backend.Close()

	mgr, ws, _ := newTestStack(t, backend.URL)
	defer mgr.Stop()

	ts := httptest.NewServer(http.HandlerFunc(ws.handleUpgrade))
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	// Threshold is 0: the first failing frame rejects the connection
	samples := []int16{1, 2, 3, 4}
	sendFrame(t, conn, protocol.Metadata{
		SampleRate:            1000,
		DataLength:            uint32(len(samples)),
		Checksum:              sampleChecksum(samples) + 1,
		VerificationRequested: true,
	}, samples)

	notice := readJSONMessage(t, conn)
	if notice["type"] != "error" || notice["error"] != "data_corruption" || notice["action"] != "disconnect" {
		t.Errorf("Unexpected rejection notice: %v", notice)
	}
	message, _ := notice["message"].(string)
	if !strings.Contains(message, "expected") || !strings.Contains(message, "got") {
		t.Errorf("Expected mismatch detail in notice, got %q", message)
	}

	// The server closes with a policy violation after the notice
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("Expected policy violation close, got: %v", err)
	}
}

func TestWebSocketSessionLimit(t *testing.T) {
	backend := newRecognitionBackend(t, "unused")
	defer backend.Close()

	client, err := recognition.NewClient(recognition.Config{
		Endpoint:      backend.URL,
		APIKey:        "test-key",
		Timeout:       2 * time.Second,
		MaxConcurrent: 2,
	}, testMetrics)
	if err != nil {
		t.Fatalf("Failed to create recognition client: %v", err)
	}

	mgrConfig := testManagerConfig()
	mgrConfig.MaxSessions = 1
	mgr, err := session.NewManager(testLogger(), mgrConfig, client, testMetrics)
	if err != nil {
		t.Fatalf("Failed to create session manager: %v", err)
	}
	defer mgr.Stop()

	cfg := testConfig()
	ws := NewWSServer(&cfg.Server, testLogger(), mgr)

	ts := httptest.NewServer(http.HandlerFunc(ws.handleUpgrade))
	defer ts.Close()

	first := dialWS(t, ts)
	defer first.Close()

	// Session registration happens after the upgrade handshake
	deadline := time.Now().Add(2 * time.Second)
	for mgr.GetActiveSessionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if mgr.GetActiveSessionCount() != 1 {
		t.Fatalf("Expected 1 active session, got %d", mgr.GetActiveSessionCount())
	}

	// The second connection upgrades but is refused immediately
	second := dialWS(t, ts)
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = second.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Errorf("Expected try-again-later close, got: %v", err)
	}
}

func TestHTTPEndpoints(t *testing.T) {
	backend := newRecognitionBackend(t, "unused")
	defer backend.Close()

	mgr, ws, client := newTestStack(t, backend.URL)
	defer mgr.Stop()

	cfg := testConfig()
	httpServer := NewHTTPServer(cfg.HTTP, testLogger(), cfg, mgr, ws, client, testMetrics)

	ts := httptest.NewServer(httpServer.server.Handler)
	defer ts.Close()

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected 200, got %d", resp.StatusCode)
		}

		var health map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if health["status"] != "healthy" {
			t.Errorf("Expected healthy status, got %v", health["status"])
		}
	})

	t.Run("sessions empty", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/sessions")
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()

		var body map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if body["total_sessions"] != float64(0) {
			t.Errorf("Expected 0 sessions, got %v", body["total_sessions"])
		}
	})

	t.Run("session not found", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/sessions/no-such-id")
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", resp.StatusCode)
		}
	})

	t.Run("config hides api key", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/config")
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()

		var body map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}

		recognitionSection, ok := body["recognition"].(map[string]interface{})
		if !ok {
			t.Fatal("Expected recognition section in config")
		}
		if _, present := recognitionSection["api_key"]; present {
			t.Error("Expected api_key to be omitted from config endpoint")
		}
	})

	t.Run("stats", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/stats")
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected 200, got %d", resp.StatusCode)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected 200, got %d", resp.StatusCode)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/health", "application/json", nil)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405, got %d", resp.StatusCode)
		}
	})
}
