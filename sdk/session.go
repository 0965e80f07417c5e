package golive

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"log/slog"
	mathrand "math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxlink-go/golive/pkg/core"
	"github.com/voxlink-go/golive/pkg/live/protocol"
)

// Session is one live conversation over a persistent duplex socket. All
// Send* methods are safe for concurrent use; writes are serialized
// internally. Inbound server traffic is delivered on Events() in wire
// arrival order, ending with exactly one ClosedEvent.
type Session struct {
	client *Client
	cfg    *SessionConfig
	logger *slog.Logger

	id    string
	state stateMachine

	connMu sync.RWMutex
	conn   *websocket.Conn

	writeMu sync.Mutex

	events  chan Event
	ready   chan struct{}
	closeCh chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	readyOnce sync.Once
	closed    atomic.Bool

	tools      *toolDispatcher
	resumption *resumptionManager
	usage      *usageTracker
	activity   *activityController

	audioMu  sync.Mutex
	audioOut *AudioOutput

	inputsMu sync.Mutex
	inputs   map[*AudioInput]struct{}

	// resumePending is set while a reconnect is in flight; the next
	// setupComplete emits a ResumedEvent carrying resumeFallback.
	resumePending  bool
	resumeFallback bool

	startedAt time.Time

	errMu sync.Mutex
	err   error
}

func newSession(c *Client, cfg *SessionConfig) *Session {
	id := newSessionID()
	s := &Session{
		client:  c,
		cfg:     cfg,
		logger:  c.logger.With("session_id", id),
		id:      id,
		events:  make(chan Event, 256),
		ready:   make(chan struct{}),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
		inputs:  make(map[*AudioInput]struct{}),
	}
	s.tools = newToolDispatcher(s, cfg.ToolHandlers)
	s.resumption = newResumptionManager(c.tokenStore, s.logger)
	s.usage = newUsageTracker(cfg.TokenBudget, cfg.WarnFraction)
	s.activity = newActivityController(cfg.VAD.Mode)
	if cfg.resumptionHandle != "" {
		s.resumption.store(cfg.resumptionHandle, true)
	}
	return s
}

func newSessionID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "session"
	}
	return hex.EncodeToString(b[:])
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state.current() }

// Events yields session events in wire arrival order. The channel is closed
// after the terminal ClosedEvent.
func (s *Session) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.events
}

// Ready is closed once the server acknowledges setup and the session
// accepts sends.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed when the session has fully shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Usage returns the most recent usage snapshot.
func (s *Session) Usage() Usage {
	return s.usage.latest()
}

// RemainingBudget reports tokens left under the configured budget. The
// second return is false when no budget was configured.
func (s *Session) RemainingBudget() (int, bool) {
	return s.usage.remaining()
}

// ResumptionToken returns the latest resumption handle, if one arrived.
func (s *Session) ResumptionToken() (ResumptionToken, bool) {
	return s.resumption.latest()
}

// Err returns the terminal session error, blocking until shutdown.
func (s *Session) Err() error {
	if s == nil {
		return nil
	}
	<-s.done
	return s.terminalErr()
}

func (s *Session) terminalErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) isClosed() bool {
	return s.closed.Load()
}

// start dials the endpoint, sends setup as the first frame, and launches
// the read loop.
func (s *Session) start(ctx context.Context) error {
	s.startedAt = time.Now()

	conn, err := s.dial(ctx, "live.connect")
	if err != nil {
		return err
	}
	s.setConn(conn)
	s.state.transition(StateConnecting, StateConfiguring)

	if err := s.writeFrame(protocol.ClientMessage{Setup: setupPtr(s.cfg.setup())}); err != nil {
		_ = conn.Close()
		return err
	}
	if s.cfg.resumptionHandle != "" {
		s.resumePending = true
	}

	go s.readLoop(ctx)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return nil
}

func setupPtr(s protocol.Setup) *protocol.Setup { return &s }

// dial attempts the websocket connection with exponential backoff: base
// 1s, doubling, capped at 30s, jittered +-20%, bounded attempt count. On
// exhaustion it returns the connection-failed sentinel wrapping the last
// transport error.
func (s *Session) dial(ctx context.Context, spanName string) (*websocket.Conn, error) {
	if tracer := s.client.tracer; tracer != nil {
		var span trace.Span
		ctx, span = tracer.Start(ctx, spanName)
		defer span.End()
	}

	attempts := s.client.maxRetries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := s.backoff(attempt - 1)
			s.emit(RetryingEvent{Attempt: attempt, Wait: wait})
			s.client.metrics.reconnectAttempt()
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, core.NewTransportError("connect cancelled", ctx.Err())
			case <-s.closeCh:
				return nil, core.ErrSessionClosed
			}
		}
		conn, resp, err := s.client.dialer.DialContext(ctx, s.client.wsURL(), http.Header{})
		if err == nil {
			return conn, nil
		}
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, core.NewAPIError("websocket dial rejected: unauthorized")
		}
		lastErr = err
		s.logger.Warn("dial failed", "attempt", attempt, "error", err)
	}
	return nil, &core.Error{
		Type:    core.ErrTransport,
		Message: "connection attempts exhausted",
		Code:    "connection_failed",
		Cause:   lastErr,
	}
}

func (s *Session) backoff(n int) time.Duration {
	d := s.client.retryBackoff
	if d <= 0 {
		d = defaultRetryBackoff
	}
	for i := 1; i < n; i++ {
		d *= 2
		if d >= maxRetryBackoff {
			d = maxRetryBackoff
			break
		}
	}
	// +-20% jitter
	jitter := 1 + (mathrand.Float64()*0.4 - 0.2)
	return time.Duration(float64(d) * jitter)
}

func (s *Session) setConn(conn *websocket.Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

func (s *Session) currentConn() *websocket.Conn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn
}

// requireActive gates sends: only an active session accepts traffic, and
// the check happens before anything is encoded or written.
func (s *Session) requireActive() error {
	if st := s.state.current(); st != StateActive {
		return core.NotReady(st.String())
	}
	return nil
}

// writeFrame encodes and writes one frame under the write mutex with the
// configured send deadline.
func (s *Session) writeFrame(msg protocol.ClientMessage) error {
	data, err := protocol.EncodeClientMessage(msg)
	if err != nil {
		return err
	}
	conn := s.currentConn()
	if conn == nil {
		return core.ErrSessionClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	timeout := s.client.sendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if netTimeout(err) {
			return core.ErrSendTimeout
		}
		return core.NewTransportError("write frame", err)
	}
	s.client.metrics.frameSent(msg.Type())
	s.logger.Debug("frame sent", "type", msg.Type())
	return nil
}

func netTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

// SendText sends one user text turn, marking the turn complete. Content
// sends interrupt any in-progress generation.
func (s *Session) SendText(text string) error {
	return s.SendContent([]protocol.Content{{
		Role:  "user",
		Parts: []protocol.Part{{Text: text}},
	}}, true)
}

// SendContent sends turn-taking content.
func (s *Session) SendContent(turns []protocol.Content, turnComplete bool) error {
	if err := s.requireActive(); err != nil {
		return err
	}
	return s.writeFrame(protocol.ClientMessage{ClientContent: &protocol.ClientContent{
		Turns:        turns,
		TurnComplete: turnComplete,
	}})
}

// SendAudio streams one chunk of input audio, already at the wire format
// (16 kHz mono s16le PCM). Under manual activity signaling the chunk is
// rejected unless a speech window is open.
func (s *Session) SendAudio(pcm []byte) error {
	if err := s.requireActive(); err != nil {
		return err
	}
	if err := s.activity.checkAudio(); err != nil {
		return err
	}
	err := s.writeFrame(protocol.ClientMessage{RealtimeInput: &protocol.RealtimeInput{
		Audio: &protocol.AudioBlob{
			Data:     base64.StdEncoding.EncodeToString(pcm),
			MIMEType: protocol.AudioInMIMEType,
		},
	}})
	if err == nil {
		s.client.metrics.audioBytes("input", len(pcm))
	}
	return err
}

// BeginActivity opens a manual speech window.
func (s *Session) BeginActivity() error {
	if err := s.requireActive(); err != nil {
		return err
	}
	if err := s.activity.begin(); err != nil {
		return err
	}
	return s.writeFrame(protocol.ClientMessage{RealtimeInput: &protocol.RealtimeInput{
		ActivityStart: &struct{}{},
	}})
}

// EndActivity closes the current manual speech window. Partial chunks held
// by attached audio inputs are flushed first, while the window is still
// open, so buffered samples cannot leak into the next window.
func (s *Session) EndActivity() error {
	if err := s.requireActive(); err != nil {
		return err
	}
	if s.activity.windowOpen() {
		if err := s.flushInputs(); err != nil {
			return err
		}
	}
	if err := s.activity.end(); err != nil {
		return err
	}
	return s.writeFrame(protocol.ClientMessage{RealtimeInput: &protocol.RealtimeInput{
		ActivityEnd: &struct{}{},
	}})
}

func (s *Session) trackInput(in *AudioInput) {
	s.inputsMu.Lock()
	s.inputs[in] = struct{}{}
	s.inputsMu.Unlock()
}

func (s *Session) dropInput(in *AudioInput) {
	s.inputsMu.Lock()
	delete(s.inputs, in)
	s.inputsMu.Unlock()
}

func (s *Session) flushInputs() error {
	s.inputsMu.Lock()
	inputs := make([]*AudioInput, 0, len(s.inputs))
	for in := range s.inputs {
		inputs = append(inputs, in)
	}
	s.inputsMu.Unlock()
	for _, in := range inputs {
		if err := in.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// EndAudioStream marks the input audio stream as paused or finished.
func (s *Session) EndAudioStream() error {
	if err := s.requireActive(); err != nil {
		return err
	}
	return s.writeFrame(protocol.ClientMessage{RealtimeInput: &protocol.RealtimeInput{
		AudioStreamEnd: true,
	}})
}

// SendToolResponse answers tool calls surfaced via ToolCallEvent. Each
// response must echo the originating call ID.
func (s *Session) SendToolResponse(responses []protocol.FunctionResponse) error {
	if err := s.requireActive(); err != nil {
		return err
	}
	return s.writeFrame(protocol.ClientMessage{ToolResponse: &protocol.ToolResponse{
		FunctionResponses: responses,
	}})
}

// Close shuts the session down: a graceful close frame, then a forced
// teardown after the close grace elapses. Safe to call multiple times and
// from any goroutine; blocks until the read loop has exited.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.state.close()
		close(s.closeCh)

		grace := s.client.closeGrace
		if grace <= 0 {
			grace = defaultCloseGrace
		}
		conn := s.currentConn()
		if conn != nil {
			s.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(grace))
			s.writeMu.Unlock()

			force := time.AfterFunc(grace, func() { _ = conn.Close() })
			go func() {
				<-s.done
				force.Stop()
				_ = conn.Close()
			}()
		}
	})
	<-s.done
	return nil
}

func (s *Session) readLoop(ctx context.Context) {
	status := "closed"
	defer func() {
		s.closed.Store(true)
		s.state.close()
		s.tools.shutdown()
		s.flushAudioOut()
		s.closeAudioOut()
		s.client.release(s)
		s.client.metrics.sessionEnded(status, time.Since(s.startedAt))
		s.emitTerminal(ClosedEvent{Err: s.terminalErr()})
		close(s.events)
		close(s.done)
	}()

	for {
		conn := s.currentConn()
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !s.canResume() {
				return
			}
			if !s.reconnect(ctx, err) {
				if s.terminalErr() != nil {
					status = "error"
				}
				return
			}
			continue
		}

		msg, derr := protocol.DecodeServerMessage(data)
		if derr != nil {
			// A malformed frame never partially applies; surface it and
			// keep the session up.
			s.logger.Warn("malformed server frame", "error", derr)
			s.client.metrics.sessionError("malformed_frame")
			s.emit(ErrorEvent{Err: derr})
			continue
		}
		s.client.metrics.frameReceived(msg.Type())
		s.handle(ctx, msg)
	}
}

func (s *Session) canResume() bool {
	if !s.cfg.EnableResumption {
		return false
	}
	_, ok := s.resumption.latest()
	return ok
}

// reconnect recovers from a dropped transport. With resumption enabled and
// a stored handle it re-dials and replays setup carrying the handle; if the
// handshake with a handle fails again the handle is treated as expired and
// the session falls back to a clean conversation. Reports whether the read
// loop should continue.
func (s *Session) reconnect(ctx context.Context, cause error) bool {
	if s.closed.Load() {
		return false
	}
	if !s.cfg.EnableResumption {
		// Without resumption a fresh socket cannot carry the conversation
		// forward; the drop surfaces instead of reconnecting into a new one.
		s.setErr(core.NewTransportError("connection lost", cause))
		return false
	}

	fallback := false
	token, ok := s.resumption.latest()
	handle := token.Handle
	if !ok || s.resumePending {
		// Either no handle ever arrived, or the previous attempt already
		// carried one and the server dropped us during configuring: the
		// handle is spent.
		if s.resumePending && ok {
			fallback = true
			s.emit(ErrorEvent{Err: core.ErrResumptionExpired})
		}
		handle = ""
	}

	for {
		if !s.enterResuming() {
			return false
		}
		s.logger.Info("reconnecting", "resume", handle != "", "cause", cause)

		conn, err := s.dial(ctx, "live.resume")
		if err != nil {
			s.setErr(err)
			return false
		}
		s.setConn(conn)
		s.state.transition(StateResuming, StateConfiguring)

		cfg := s.cfg.clone()
		cfg.resumptionHandle = handle
		if err := s.writeFrame(protocol.ClientMessage{Setup: setupPtr(cfg.setup())}); err != nil {
			_ = conn.Close()
			if handle != "" {
				// Setup with a handle failed outright; retry clean.
				fallback = true
				handle = ""
				s.emit(ErrorEvent{Err: core.ErrResumptionExpired})
				continue
			}
			s.setErr(err)
			return false
		}

		s.resumePending = true
		s.resumeFallback = fallback
		return true
	}
}

func (s *Session) enterResuming() bool {
	for _, from := range []State{StateActive, StateConfiguring, StateDraining} {
		if s.state.transition(from, StateResuming) {
			return true
		}
	}
	return s.state.current() == StateResuming
}

func (s *Session) handle(ctx context.Context, msg *protocol.ServerMessage) {
	switch {
	case msg.SetupComplete != nil:
		s.state.transition(StateConfiguring, StateActive)
		s.readyOnce.Do(func() { close(s.ready) })
		if s.resumePending {
			s.resumePending = false
			s.emit(ResumedEvent{Fallback: s.resumeFallback})
			s.resumeFallback = false
		}
		s.logger.Debug("setup complete")

	case msg.ServerContent != nil:
		s.handleServerContent(msg.ServerContent)

	case msg.ToolCall != nil:
		s.tools.dispatch(ctx, msg.ToolCall.FunctionCalls)

	case msg.ToolCallCancellation != nil:
		s.tools.cancel(msg.ToolCallCancellation.IDs)
		s.emit(ToolCancellationEvent{IDs: msg.ToolCallCancellation.IDs})

	case msg.GoAway != nil:
		s.handleGoAway(msg.GoAway)

	case msg.SessionResumptionUpdate != nil:
		u := msg.SessionResumptionUpdate
		s.resumption.store(u.NewHandle, u.Resumable)
		s.emit(ResumptionUpdateEvent{Handle: u.NewHandle, Resumable: u.Resumable})

	case msg.UsageMetadata != nil:
		usage, recommend := s.usage.record(*msg.UsageMetadata)
		s.client.metrics.tokens(usage)
		s.emit(UsageEvent{Usage: usage})
		if recommend {
			s.emit(CompressionRecommendedEvent{
				TotalTokens: usage.TotalTokens,
				TokenBudget: s.cfg.TokenBudget,
			})
		}
	}
}

func (s *Session) handleServerContent(sc *protocol.ServerContent) {
	if sc.Interrupted {
		// Correctness-critical: queued-but-unplayed output audio must not
		// play once the turn is cut off.
		s.flushAudioOut()
		s.emit(InterruptedEvent{})
	}
	if sc.InputTranscription != nil {
		s.emit(InputTranscriptionEvent{
			Text:     sc.InputTranscription.Text,
			Finished: sc.InputTranscription.Finished,
		})
	}
	if sc.OutputTranscription != nil {
		s.emit(OutputTranscriptionEvent{
			Text:     sc.OutputTranscription.Text,
			Finished: sc.OutputTranscription.Finished,
		})
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.Text != "" {
				s.emit(TextEvent{Text: part.Text})
			}
			if part.InlineData != nil {
				pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					s.emit(ErrorEvent{Err: core.NewProtocolError("decode inline audio", err)})
					continue
				}
				s.client.metrics.audioBytes("output", len(pcm))
				s.pushAudioOut(pcm)
				s.emit(AudioEvent{PCM: pcm})
			}
		}
	}
	if sc.GenerationComplete {
		s.emit(GenerationCompleteEvent{})
	}
	if sc.TurnComplete {
		s.tools.turnIdle()
		s.emit(TurnCompleteEvent{})
	}
}

// handleGoAway drains the session: with resumption available the current
// socket is torn down so the reconnect path takes over; otherwise the
// session closes cleanly within the close grace.
func (s *Session) handleGoAway(g *protocol.GoAway) {
	s.emit(GoAwayEvent{TimeLeft: g.TimeLeft.Std()})
	s.state.transition(StateActive, StateDraining)
	if s.canResume() {
		s.logger.Info("go away received, resuming", "time_left", g.TimeLeft.Std())
		if conn := s.currentConn(); conn != nil {
			_ = conn.Close()
		}
		return
	}
	s.logger.Info("go away received, closing", "time_left", g.TimeLeft.Std())
	go func() { _ = s.Close() }()
}

func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	case <-s.closeCh:
		select {
		case s.events <- e:
		default:
		}
	}
}

// emitTerminal delivers the final ClosedEvent. A consumer that abandoned
// Events without calling Close leaves the buffer full and nothing draining
// it, so delivery is bounded by the close grace; past that the event is
// dropped rather than wedging shutdown.
func (s *Session) emitTerminal(e Event) {
	grace := s.client.closeGrace
	if grace <= 0 {
		grace = defaultCloseGrace
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case s.events <- e:
	case <-timer.C:
		s.logger.Warn("events channel abandoned, dropping terminal event")
	}
}
