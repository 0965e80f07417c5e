package golive

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/voxlink-go/golive/pkg/core"
)

func newLiveWebsocketTestServer(t *testing.T, handler func(conn *websocket.Conn)) (string, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn)
	}))

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	return wsURL, server.Close
}

func newTestClient(serverURL string, opts ...ClientOption) *Client {
	base := []ClientOption{
		WithEndpoint(serverURL),
		WithAPIKey("test-key"),
		WithRetries(3),
		WithRetryBackoff(10 * time.Millisecond),
		WithCloseGrace(500 * time.Millisecond),
	}
	return NewClient(append(base, opts...)...)
}

func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) (map[string]any, error) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	var frame map[string]any
	err := conn.ReadJSON(&frame)
	_ = conn.SetReadDeadline(time.Time{})
	return frame, err
}

func ackSetup(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	frame, err := readFrame(t, conn, 2*time.Second)
	if err != nil {
		t.Errorf("read setup: %v", err)
		return nil
	}
	setup, ok := frame["setup"].(map[string]any)
	if !ok {
		t.Errorf("first frame is not setup: %+v", frame)
		return nil
	}
	_ = conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
	return setup
}

func waitReady(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("session never became ready")
	}
}

func TestSession_SendBeforeSetupCompleteFailsNotReady(t *testing.T) {
	t.Parallel()

	extraFrames := make(chan map[string]any, 4)
	release := make(chan struct{})
	serverURL, closeServer := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		if _, err := readFrame(t, conn, 2*time.Second); err != nil {
			return
		}
		// Hold off the ack; the client must not write anything else.
		for {
			frame, err := readFrame(t, conn, 300*time.Millisecond)
			if err != nil {
				break
			}
			extraFrames <- frame
		}
		close(release)
		_ = conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
		_, _ = readFrame(t, conn, 2*time.Second)
	})
	defer closeServer()

	client := newTestClient(serverURL)
	session, err := client.Connect(context.Background(), NewSessionConfig("models/test", "TEXT"))
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer session.Close()

	if err := session.SendText("too early"); !errors.Is(err, core.ErrNotReady) {
		t.Fatalf("SendText before setupComplete: err=%v, want ErrNotReady", err)
	}
	if err := session.SendAudio([]byte{0, 0}); !errors.Is(err, core.ErrNotReady) {
		t.Fatalf("SendAudio before setupComplete: err=%v, want ErrNotReady", err)
	}
	if got := session.State(); got != StateConfiguring {
		t.Fatalf("state = %v, want configuring", got)
	}

	<-release
	select {
	case frame := <-extraFrames:
		t.Fatalf("frame written before setupComplete: %+v", frame)
	default:
	}
}

func TestSession_SetupFirstThenContentFlows(t *testing.T) {
	t.Parallel()

	contentCh := make(chan map[string]any, 1)
	serverURL, closeServer := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		setup := ackSetup(t, conn)
		if setup == nil {
			return
		}
		if setup["model"] != "models/test" {
			t.Errorf("setup model = %v", setup["model"])
		}
		gc, _ := setup["generationConfig"].(map[string]any)
		mods, _ := gc["responseModalities"].([]any)
		if len(mods) != 1 || mods[0] != "TEXT" {
			t.Errorf("responseModalities = %v", mods)
		}

		frame, err := readFrame(t, conn, 2*time.Second)
		if err != nil {
			t.Errorf("read clientContent: %v", err)
			return
		}
		contentCh <- frame
		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{
			"modelTurn":    map[string]any{"parts": []any{map[string]any{"text": "hi there"}}},
			"turnComplete": true,
		}})
		_, _ = readFrame(t, conn, 2*time.Second)
	})
	defer closeServer()

	client := newTestClient(serverURL)
	session, err := client.Connect(context.Background(), NewSessionConfig("models/test", "TEXT"))
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer session.Close()
	waitReady(t, session)

	if err := session.SendText("hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	select {
	case frame := <-contentCh:
		cc, ok := frame["clientContent"].(map[string]any)
		if !ok {
			t.Fatalf("expected clientContent frame, got %+v", frame)
		}
		if cc["turnComplete"] != true {
			t.Fatalf("turnComplete = %v", cc["turnComplete"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received clientContent")
	}

	var gotText strings.Builder
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-session.Events():
			if text, ok := ev.(TextEvent); ok {
				gotText.WriteString(text.Text)
			}
			if _, ok := ev.(TurnCompleteEvent); ok {
				if gotText.String() != "hi there" {
					t.Fatalf("text = %q", gotText.String())
				}
				return
			}
		case <-deadline:
			t.Fatal("never saw turn complete")
		}
	}
}

func TestSession_GoAwayWithoutResumptionClosesWithOneTerminalEvent(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		if ackSetup(t, conn) == nil {
			return
		}
		_ = conn.WriteJSON(map[string]any{"goAway": map[string]any{"timeLeft": "8s"}})
		_, _ = readFrame(t, conn, 2*time.Second)
	})
	defer closeServer()

	client := newTestClient(serverURL)
	session, err := client.Connect(context.Background(), NewSessionConfig("models/test", "TEXT"))
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	waitReady(t, session)

	var goAways, closes int
	var timeLeft time.Duration
	for ev := range session.Events() {
		switch e := ev.(type) {
		case GoAwayEvent:
			goAways++
			timeLeft = e.TimeLeft
		case ClosedEvent:
			closes++
		}
	}
	if goAways != 1 {
		t.Fatalf("go away events = %d, want 1", goAways)
	}
	if timeLeft != 8*time.Second {
		t.Fatalf("timeLeft = %v, want 8s", timeLeft)
	}
	if closes != 1 {
		t.Fatalf("terminal events = %d, want exactly 1", closes)
	}
	if got := session.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}

	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close within the grace period")
	}
}

func TestSession_ResumptionContinuityAcrossDrop(t *testing.T) {
	t.Parallel()

	resumeSetups := make(chan map[string]any, 1)
	connection := 0
	serverURL, closeServer := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		connection++
		switch connection {
		case 1:
			if ackSetup(t, conn) == nil {
				return
			}
			_ = conn.WriteJSON(map[string]any{"sessionResumptionUpdate": map[string]any{
				"newHandle": "tok-1",
				"resumable": true,
			}})
			_ = conn.WriteJSON(map[string]any{"usageMetadata": map[string]any{
				"promptTokenCount":   30,
				"responseTokenCount": 12,
				"totalTokenCount":    42,
			}})
			// Drop the connection without a close frame.
		default:
			setup := ackSetup(t, conn)
			if setup != nil {
				resumeSetups <- setup
			}
			_, _ = readFrame(t, conn, 2*time.Second)
		}
	})
	defer closeServer()

	cfg := NewSessionConfig("models/test", "TEXT")
	cfg.EnableResumption = true
	cfg.TokenBudget = 1000

	client := newTestClient(serverURL)
	session, err := client.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer session.Close()

	resumed := false
	deadline := time.After(5 * time.Second)
	for !resumed {
		select {
		case ev := <-session.Events():
			if r, ok := ev.(ResumedEvent); ok {
				if r.Fallback {
					t.Fatal("unexpected fallback on valid handle")
				}
				resumed = true
			}
		case <-deadline:
			t.Fatal("session never resumed")
		}
	}

	select {
	case setup := <-resumeSetups:
		sr, _ := setup["sessionResumption"].(map[string]any)
		if sr == nil || sr["handle"] != "tok-1" {
			t.Fatalf("resume setup did not carry handle: %+v", setup)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no resume setup observed")
	}

	// The tracker baseline survives the drop on the same Session object.
	if got := session.Usage().TotalTokens; got != 42 {
		t.Fatalf("tokens after resume = %d, want 42", got)
	}
	token, ok := session.ResumptionToken()
	if !ok || token.Handle != "tok-1" {
		t.Fatalf("token = %+v ok=%v", token, ok)
	}
}

func TestClient_ResumeFallbackWhenServerRejectsHandle(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		frame, err := readFrame(t, conn, 2*time.Second)
		if err != nil {
			return
		}
		setup, _ := frame["setup"].(map[string]any)
		if sr, _ := setup["sessionResumption"].(map[string]any); sr != nil && sr["handle"] != nil && sr["handle"] != "" {
			// Reject the handle by dropping the connection before the ack.
			return
		}
		_ = conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
		_, _ = readFrame(t, conn, 2*time.Second)
	})
	defer closeServer()

	client := newTestClient(serverURL)
	session, err := client.Resume(context.Background(), NewSessionConfig("models/test", "TEXT"), "tok-expired")
	if err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	defer session.Close()

	var sawExpired, sawFallback bool
	deadline := time.After(5 * time.Second)
	for !sawFallback {
		select {
		case ev := <-session.Events():
			switch e := ev.(type) {
			case ErrorEvent:
				if errors.Is(e.Err, core.ErrResumptionExpired) {
					sawExpired = true
				}
			case ResumedEvent:
				if !e.Fallback {
					t.Fatal("expected fallback resume")
				}
				sawFallback = true
			case ClosedEvent:
				t.Fatalf("session closed before fallback: %v", e.Err)
			}
		case <-deadline:
			t.Fatal("fallback never reported")
		}
	}
	if !sawExpired {
		t.Fatal("expired-handle error never surfaced")
	}
	waitReady(t, session)
	if got := session.State(); got != StateActive {
		t.Fatalf("state after fallback = %v, want active", got)
	}
}

func TestSession_ManualActivityWindowGatesAudio(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		if ackSetup(t, conn) == nil {
			return
		}
		for {
			if _, err := readFrame(t, conn, 2*time.Second); err != nil {
				return
			}
		}
	})
	defer closeServer()

	cfg := NewSessionConfig("models/test", "AUDIO")
	cfg.VAD.Mode = VADManual

	client := newTestClient(serverURL)
	session, err := client.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer session.Close()
	waitReady(t, session)

	pcm := make([]byte, 3200)
	if err := session.SendAudio(pcm); !errors.Is(err, core.ErrNoActiveSpeechWindow) {
		t.Fatalf("audio outside window: err=%v, want ErrNoActiveSpeechWindow", err)
	}
	if err := session.BeginActivity(); err != nil {
		t.Fatalf("BeginActivity: %v", err)
	}
	if err := session.SendAudio(pcm); err != nil {
		t.Fatalf("audio inside window: %v", err)
	}
	if err := session.EndActivity(); err != nil {
		t.Fatalf("EndActivity: %v", err)
	}
	if err := session.SendAudio(pcm); !errors.Is(err, core.ErrNoActiveSpeechWindow) {
		t.Fatalf("audio after window: err=%v, want ErrNoActiveSpeechWindow", err)
	}
}

func TestSession_EndActivityFlushesBufferedInputAudio(t *testing.T) {
	t.Parallel()

	frames := make(chan map[string]any, 16)
	serverURL, closeServer := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		if ackSetup(t, conn) == nil {
			return
		}
		for {
			frame, err := readFrame(t, conn, 2*time.Second)
			if err != nil {
				return
			}
			frames <- frame
		}
	})
	defer closeServer()

	cfg := NewSessionConfig("models/test", "AUDIO")
	cfg.VAD.Mode = VADManual

	client := newTestClient(serverURL)
	session, err := client.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer session.Close()
	waitReady(t, session)

	input, err := session.NewAudioInput(16000, 1)
	if err != nil {
		t.Fatalf("NewAudioInput: %v", err)
	}

	if err := session.BeginActivity(); err != nil {
		t.Fatalf("BeginActivity: %v", err)
	}
	// Half a chunk: too small to send on its own, so it sits buffered
	// until the window closes.
	if err := input.Write(make([]int16, 800)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := session.EndActivity(); err != nil {
		t.Fatalf("EndActivity: %v", err)
	}

	var kinds []string
	deadline := time.After(2 * time.Second)
	for len(kinds) < 3 {
		select {
		case frame := <-frames:
			ri, ok := frame["realtimeInput"].(map[string]any)
			if !ok {
				t.Fatalf("unexpected frame: %+v", frame)
			}
			switch {
			case ri["activityStart"] != nil:
				kinds = append(kinds, "activityStart")
			case ri["audio"] != nil:
				kinds = append(kinds, "audio")
			case ri["activityEnd"] != nil:
				kinds = append(kinds, "activityEnd")
			}
		case <-deadline:
			t.Fatalf("missing frames, got %v", kinds)
		}
	}
	want := []string{"activityStart", "audio", "activityEnd"}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("frame order = %v, want %v", kinds, want)
		}
	}
}

func TestSession_UsageThresholdWarnsOnce(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		if ackSetup(t, conn) == nil {
			return
		}
		for _, total := range []int{50, 85, 90} {
			_ = conn.WriteJSON(map[string]any{"usageMetadata": map[string]any{
				"totalTokenCount": total,
			}})
		}
		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		_, _ = readFrame(t, conn, 2*time.Second)
	})
	defer closeServer()

	cfg := NewSessionConfig("models/test", "TEXT")
	cfg.TokenBudget = 100

	client := newTestClient(serverURL)
	session, err := client.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer session.Close()

	var usages, warnings int
	deadline := time.After(2 * time.Second)
	for usages < 3 {
		select {
		case ev := <-session.Events():
			switch ev.(type) {
			case UsageEvent:
				usages++
			case CompressionRecommendedEvent:
				warnings++
			}
		case <-deadline:
			t.Fatalf("usage events = %d, want 3", usages)
		}
	}
	if warnings != 1 {
		t.Fatalf("compression warnings = %d, want exactly 1", warnings)
	}
	remaining, ok := session.RemainingBudget()
	if !ok || remaining != 10 {
		t.Fatalf("remaining = %d ok=%v, want 10", remaining, ok)
	}
}

func TestSession_InterruptedFlushesAudioOutput(t *testing.T) {
	t.Parallel()

	audioB64 := "AAAA" // 3 zero bytes
	serverURL, closeServer := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		if ackSetup(t, conn) == nil {
			return
		}
		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{"parts": []any{map[string]any{
				"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": audioB64},
			}}},
		}})
		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{"interrupted": true}})
		_, _ = readFrame(t, conn, 2*time.Second)
	})
	defer closeServer()

	client := newTestClient(serverURL)
	session, err := client.Connect(context.Background(), NewSessionConfig("models/test", "AUDIO"))
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer session.Close()
	out := session.AudioOutput()

	var sawInterrupt bool
	deadline := time.After(2 * time.Second)
	for !sawInterrupt {
		select {
		case ev := <-session.Events():
			if _, ok := ev.(InterruptedEvent); ok {
				sawInterrupt = true
			}
		case <-deadline:
			t.Fatal("never saw interruption")
		}
	}

	select {
	case <-out.Flush():
	case <-time.After(time.Second):
		t.Fatal("audio output never signaled flush")
	}
}

func TestSession_AbandonedConsumerStillShutsDown(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		if ackSetup(t, conn) == nil {
			return
		}
		// Fill the event buffer to capacity, then hang up.
		for i := 0; i < 256; i++ {
			_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{{"text": "chunk"}},
				},
			}})
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	})
	defer closeServer()

	client := newTestClient(serverURL)
	session, err := client.Connect(context.Background(), NewSessionConfig("models/test", "TEXT"))
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	waitReady(t, session)

	// The consumer walks away: Events is never drained and Close is never
	// called. Shutdown must still complete once the server hangs up.
	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session shutdown wedged behind a full event buffer")
	}
	if err := session.Err(); err != nil {
		t.Fatalf("Err after clean server close: %v", err)
	}
}

func TestClient_SecondConnectWhileActiveFails(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		if ackSetup(t, conn) == nil {
			return
		}
		_, _ = readFrame(t, conn, 5*time.Second)
	})
	defer closeServer()

	client := newTestClient(serverURL)
	first, err := client.Connect(context.Background(), NewSessionConfig("models/test", "TEXT"))
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	if _, err := client.Connect(context.Background(), NewSessionConfig("models/test", "TEXT")); err == nil {
		t.Fatal("second Connect should fail while a session is active")
	}

	_ = first.Close()
	second, err := client.Connect(context.Background(), NewSessionConfig("models/test", "TEXT"))
	if err != nil {
		t.Fatalf("Connect after close: %v", err)
	}
	_ = second.Close()
}

func TestConnect_InvalidModalityFailsBeforeDial(t *testing.T) {
	t.Parallel()

	client := newTestClient("ws://127.0.0.1:1") // must never be dialed
	_, err := client.Connect(context.Background(), NewSessionConfig("models/test", "BOTH"))
	if err == nil {
		t.Fatal("expected modality error")
	}
	coreErr := core.AsError(err)
	if coreErr == nil || coreErr.Param != "generation_config.response_modalities" {
		t.Fatalf("err = %v, want modality param error", err)
	}
}

func TestSession_SendTimeout(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		if ackSetup(t, conn) == nil {
			return
		}
		// Stop reading; the client's writes hit the deadline.
		time.Sleep(2 * time.Second)
	})
	defer closeServer()

	client := newTestClient(serverURL)
	session, err := client.Connect(context.Background(), NewSessionConfig("models/test", "TEXT"))
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer session.Close()
	waitReady(t, session)

	// Shrink the deadline after the handshake so only this write expires.
	client.sendTimeout = time.Nanosecond
	err = session.SendText("never arrives")
	if !errors.Is(err, core.ErrSendTimeout) {
		t.Fatalf("err = %v, want ErrSendTimeout", err)
	}
}

func TestSession_ContextCancelClosesSession(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		if ackSetup(t, conn) == nil {
			return
		}
		_, _ = readFrame(t, conn, 5*time.Second)
	})
	defer closeServer()

	ctx, cancel := context.WithCancel(context.Background())
	client := newTestClient(serverURL)
	session, err := client.Connect(ctx, NewSessionConfig("models/test", "TEXT"))
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	waitReady(t, session)

	cancel()
	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not close the session")
	}
}

func TestSession_MalformedFrameSurfacesAndSessionSurvives(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		if ackSetup(t, conn) == nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"serverContent":{},"goAway":{}}`))
		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		_, _ = readFrame(t, conn, 2*time.Second)
	})
	defer closeServer()

	client := newTestClient(serverURL)
	session, err := client.Connect(context.Background(), NewSessionConfig("models/test", "TEXT"))
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer session.Close()

	var sawMalformed bool
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-session.Events():
			switch e := ev.(type) {
			case ErrorEvent:
				if errors.Is(e.Err, core.ErrMalformedFrame) {
					sawMalformed = true
				}
			case TurnCompleteEvent:
				if !sawMalformed {
					t.Fatal("malformed frame was not surfaced")
				}
				if session.State() != StateActive {
					t.Fatalf("state = %v, want active", session.State())
				}
				return
			}
		case <-deadline:
			t.Fatal("never saw turn complete after malformed frame")
		}
	}
}

func TestConnect_RetriesExhaustedReturnsConnectionFailed(t *testing.T) {
	t.Parallel()

	client := NewClient(
		WithEndpoint("ws://127.0.0.1:1"),
		WithAPIKey("test-key"),
		WithRetries(2),
		WithRetryBackoff(time.Millisecond),
	)
	_, err := client.Connect(context.Background(), NewSessionConfig("models/test", "TEXT"))
	if !errors.Is(err, core.ErrConnectionFailed) {
		t.Fatalf("err = %v, want ErrConnectionFailed", err)
	}
}

func TestClient_ActiveSessionsGaugeTracksLifecycle(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		if ackSetup(t, conn) == nil {
			return
		}
		_, _ = readFrame(t, conn, 5*time.Second)
	})
	defer closeServer()

	m := NewMetrics("golive_lifecycle_test")
	client := newTestClient(serverURL, WithMetrics(m))
	session, err := client.Connect(context.Background(), NewSessionConfig("models/test", "TEXT"))
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	waitReady(t, session)

	if got := testutil.ToFloat64(m.SessionsActive); got != 1 {
		t.Fatalf("sessions_active after connect = %v, want 1", got)
	}
	_ = session.Close()
	if got := testutil.ToFloat64(m.SessionsActive); got != 0 {
		t.Fatalf("sessions_active after close = %v, want 0", got)
	}
}

func TestClient_FailedConnectUnwindsActiveSessionsGauge(t *testing.T) {
	t.Parallel()

	m := NewMetrics("golive_failed_connect_test")
	client := NewClient(
		WithEndpoint("ws://127.0.0.1:1"),
		WithAPIKey("test-key"),
		WithRetries(1),
		WithRetryBackoff(time.Millisecond),
		WithMetrics(m),
	)
	if _, err := client.Connect(context.Background(), NewSessionConfig("models/test", "TEXT")); err == nil {
		t.Fatal("expected connect failure")
	}
	if got := testutil.ToFloat64(m.SessionsActive); got != 0 {
		t.Fatalf("sessions_active after failed connect = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.SessionsTotal.WithLabelValues("connect_failed")); got != 1 {
		t.Fatalf("sessions_total{connect_failed} = %v, want 1", got)
	}
}
