package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestNewManagerRequiresRecognizer(t *testing.T) {
	_, err := NewManager(testLogger(), testManagerConfig(), nil, testMetrics)
	if err == nil {
		t.Error("Expected error for nil recognizer")
	}
}

func TestManagerCreateAndGetSession(t *testing.T) {
	recognizer := &fakeRecognizer{text: "unused"}
	mgr := newTestManager(t, testManagerConfig(), recognizer)
	defer mgr.Stop()

	sender := &fakeSender{}
	session, err := mgr.CreateSession(sender, "203.0.113.7:9000")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	if session.ID == "" {
		t.Error("Expected session to have an ID")
	}
	if session.RemoteAddr != "203.0.113.7:9000" {
		t.Errorf("Expected remote addr preserved, got %s", session.RemoteAddr)
	}

	found, ok := mgr.GetSession(session.ID)
	if !ok {
		t.Fatal("Expected to find created session")
	}
	if found.ID != session.ID {
		t.Errorf("Expected session %s, got %s", session.ID, found.ID)
	}

	if count := mgr.GetActiveSessionCount(); count != 1 {
		t.Errorf("Expected 1 active session, got %d", count)
	}

	if _, ok := mgr.GetSession("no-such-session"); ok {
		t.Error("Expected lookup of unknown ID to fail")
	}
}

func TestManagerCreateSessionRequiresSender(t *testing.T) {
	recognizer := &fakeRecognizer{text: "unused"}
	mgr := newTestManager(t, testManagerConfig(), recognizer)
	defer mgr.Stop()

	if _, err := mgr.CreateSession(nil, "203.0.113.7:9000"); err == nil {
		t.Error("Expected error for nil sender")
	}
}

func TestManagerSessionLimit(t *testing.T) {
	config := testManagerConfig()
	config.MaxSessions = 2

	recognizer := &fakeRecognizer{text: "unused"}
	mgr := newTestManager(t, config, recognizer)
	defer mgr.Stop()

	for i := 0; i < 2; i++ {
		if _, err := mgr.CreateSession(&fakeSender{}, fmt.Sprintf("203.0.113.%d:9000", i)); err != nil {
			t.Fatalf("Session %d: unexpected error: %v", i, err)
		}
	}

	if _, err := mgr.CreateSession(&fakeSender{}, "203.0.113.99:9000"); err == nil {
		t.Error("Expected error when session limit reached")
	}

	if count := mgr.GetActiveSessionCount(); count != 2 {
		t.Errorf("Expected 2 active sessions, got %d", count)
	}
}

func TestManagerRemoveSession(t *testing.T) {
	recognizer := &fakeRecognizer{text: "unused"}
	mgr := newTestManager(t, testManagerConfig(), recognizer)
	defer mgr.Stop()

	sender := &fakeSender{}
	session := newTestSession(t, mgr, sender)

	if !mgr.RemoveSession(session.ID) {
		t.Error("Expected removal of existing session to succeed")
	}
	if mgr.RemoveSession(session.ID) {
		t.Error("Expected second removal to report missing session")
	}
	if count := mgr.GetActiveSessionCount(); count != 0 {
		t.Errorf("Expected 0 active sessions, got %d", count)
	}

	// Removal finalizes the session state but leaves the transport to the caller
	if info := session.GetInfo(); info.State != "disconnected" {
		t.Errorf("Expected disconnected state, got %s", info.State)
	}
}

func TestManagerGetAllSessionInfos(t *testing.T) {
	recognizer := &fakeRecognizer{text: "unused"}
	mgr := newTestManager(t, testManagerConfig(), recognizer)
	defer mgr.Stop()

	ids := make(map[string]bool)
	for i := 0; i < 3; i++ {
		session := newTestSession(t, mgr, &fakeSender{})
		ids[session.ID] = true
	}

	infos := mgr.GetAllSessionInfos()
	if len(infos) != 3 {
		t.Fatalf("Expected 3 session infos, got %d", len(infos))
	}
	for _, info := range infos {
		if !ids[info.ID] {
			t.Errorf("Unexpected session ID in infos: %s", info.ID)
		}
		if info.State != "active" {
			t.Errorf("Expected active state, got %s", info.State)
		}
	}
}

func TestManagerCleanupExpiredSessions(t *testing.T) {
	config := testManagerConfig()
	config.SessionTimeout = 100 * time.Millisecond

	recognizer := &fakeRecognizer{text: "unused"}
	mgr := newTestManager(t, config, recognizer)
	defer mgr.Stop()

	sender := &fakeSender{}
	session := newTestSession(t, mgr, sender)

	// Fresh sessions survive a cleanup pass
	mgr.cleanupExpiredSessions()
	if count := mgr.GetActiveSessionCount(); count != 1 {
		t.Fatalf("Expected fresh session to survive, got %d active", count)
	}

	time.Sleep(150 * time.Millisecond)

	mgr.cleanupExpiredSessions()
	if count := mgr.GetActiveSessionCount(); count != 0 {
		t.Errorf("Expected expired session removed, got %d active", count)
	}
	if !sender.isClosed() {
		t.Error("Expected transport closed for expired session")
	}

	if _, ok := mgr.GetSession(session.ID); ok {
		t.Error("Expected expired session to be gone")
	}
}

func TestManagerActivityPreventsCleanup(t *testing.T) {
	config := testManagerConfig()
	config.SessionTimeout = 200 * time.Millisecond

	recognizer := &fakeRecognizer{text: "unused"}
	mgr := newTestManager(t, config, recognizer)
	defer mgr.Stop()

	sender := &fakeSender{}
	session := newTestSession(t, mgr, sender)

	// Keep the session active past its original deadline
	for i := 0; i < 3; i++ {
		time.Sleep(100 * time.Millisecond)
		if err := session.HandleFrame(context.Background(), cleanFrame(t, make([]int16, 50))); err != nil {
			t.Fatalf("HandleFrame failed: %v", err)
		}
	}

	mgr.cleanupExpiredSessions()
	if count := mgr.GetActiveSessionCount(); count != 1 {
		t.Errorf("Expected active session to survive cleanup, got %d", count)
	}
}

func TestManagerConcurrentSessionCreation(t *testing.T) {
	config := testManagerConfig()
	config.MaxSessions = 100

	recognizer := &fakeRecognizer{text: "unused"}
	mgr := newTestManager(t, config, recognizer)
	defer mgr.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				addr := fmt.Sprintf("203.0.113.%d:%d", worker, 9000+j)
				if _, err := mgr.CreateSession(&fakeSender{}, addr); err != nil {
					t.Errorf("Worker %d: failed to create session: %v", worker, err)
				}
			}
		}(i)
	}
	wg.Wait()

	if count := mgr.GetActiveSessionCount(); count != 50 {
		t.Errorf("Expected 50 active sessions, got %d", count)
	}
}

func TestManagerStop(t *testing.T) {
	recognizer := &fakeRecognizer{text: "unused"}
	mgr := newTestManager(t, testManagerConfig(), recognizer)

	senders := []*fakeSender{{}, {}}
	for _, sender := range senders {
		newTestSession(t, mgr, sender)
	}

	mgr.Stop()

	if count := mgr.GetActiveSessionCount(); count != 0 {
		t.Errorf("Expected 0 active sessions after stop, got %d", count)
	}
	for i, sender := range senders {
		if !sender.isClosed() {
			t.Errorf("Sender %d: expected transport closed on stop", i)
		}
	}
}
