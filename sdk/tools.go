package golive

import (
	"context"
	"sync"

	"github.com/voxlink-go/golive/pkg/live/protocol"
)

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	ID       string
	Name     string
	Args     map[string]any
	Behavior string
}

// ToolResult is a handler's reply. Scheduling controls how the server folds
// the response into generation: INTERRUPT preempts the current turn,
// WHEN_IDLE waits for it to finish, SILENT stores the result without
// triggering generation. Empty leaves the choice to the server.
type ToolResult struct {
	Response   map[string]any
	Scheduling string
}

// ToolHandler executes one tool call. The context is cancelled if the
// server revokes the call or the session shuts down. A returned error is
// converted into a structured failure response; it never terminates the
// session.
type ToolHandler func(ctx context.Context, call ToolCall) (ToolResult, error)

// toolDispatcher routes inbound tool calls to registered handlers. Blocking
// calls run sequentially in dispatch order; non-blocking calls run
// concurrently. Replies for cancelled calls are suppressed best-effort.
type toolDispatcher struct {
	session  *Session
	handlers map[string]ToolHandler

	// turnBusy tracks whether a model turn is in flight; WHEN_IDLE
	// responses queue while it is.
	idleMu      sync.Mutex
	turnBusy    bool
	pendingIdle []pendingResponse

	cancelMu  sync.Mutex
	cancels   map[string]context.CancelFunc
	cancelled map[string]struct{}
}

type pendingResponse struct {
	resp protocol.FunctionResponse
	err  error
}

func newToolDispatcher(s *Session, handlers map[string]ToolHandler) *toolDispatcher {
	return &toolDispatcher{
		session:   s,
		handlers:  handlers,
		cancels:   make(map[string]context.CancelFunc),
		cancelled: make(map[string]struct{}),
	}
}

// dispatch processes one inbound toolCall frame. Calls without a handler
// are surfaced to the consumer as one ToolCallEvent; the rest execute per
// their behavior. Runs off the read loop so a slow blocking handler never
// stalls inbound traffic.
func (d *toolDispatcher) dispatch(ctx context.Context, calls []protocol.FunctionCall) {
	d.idleMu.Lock()
	d.turnBusy = true
	d.idleMu.Unlock()

	var unhandled []protocol.FunctionCall
	var handled []protocol.FunctionCall
	for _, call := range calls {
		if _, ok := d.handlers[call.Name]; ok {
			handled = append(handled, call)
		} else {
			unhandled = append(unhandled, call)
		}
	}
	if len(unhandled) > 0 {
		d.session.emit(ToolCallEvent{Calls: unhandled})
	}
	if len(handled) == 0 {
		return
	}

	go func() {
		for _, call := range handled {
			if call.Behavior == protocol.BehaviorNonBlocking {
				go d.run(ctx, call)
			} else {
				d.run(ctx, call)
			}
		}
	}()
}

func (d *toolDispatcher) run(ctx context.Context, call protocol.FunctionCall) {
	callCtx, cancel := context.WithCancel(ctx)
	d.cancelMu.Lock()
	if _, revoked := d.cancelled[call.ID]; revoked {
		d.cancelMu.Unlock()
		cancel()
		return
	}
	d.cancels[call.ID] = cancel
	d.cancelMu.Unlock()

	defer func() {
		cancel()
		d.cancelMu.Lock()
		delete(d.cancels, call.ID)
		d.cancelMu.Unlock()
	}()

	handler := d.handlers[call.Name]
	result, err := handler(callCtx, ToolCall{
		ID:       call.ID,
		Name:     call.Name,
		Args:     call.Args,
		Behavior: call.Behavior,
	})

	if d.isCancelled(call.ID) || callCtx.Err() != nil {
		// The call was revoked while the handler ran; a ready reply is
		// dropped, not retried.
		d.session.logger.Debug("suppressing reply for cancelled tool call", "id", call.ID)
		return
	}

	resp := protocol.FunctionResponse{
		ID:         call.ID,
		Name:       call.Name,
		Scheduling: result.Scheduling,
	}
	if err != nil {
		resp.Response = map[string]any{"success": false, "error": err.Error()}
	} else {
		resp.Response = result.Response
		if resp.Response == nil {
			resp.Response = map[string]any{"success": true}
		}
	}
	d.deliver(resp, err)
}

// deliver sends a response, queueing WHEN_IDLE replies while a turn is in
// flight. SILENT replies produce no consumer-visible event.
func (d *toolDispatcher) deliver(resp protocol.FunctionResponse, handlerErr error) {
	if resp.Scheduling == protocol.SchedulingWhenIdle {
		d.idleMu.Lock()
		if d.turnBusy {
			d.pendingIdle = append(d.pendingIdle, pendingResponse{resp: resp, err: handlerErr})
			d.idleMu.Unlock()
			return
		}
		d.idleMu.Unlock()
	}
	d.send(resp, handlerErr)
}

func (d *toolDispatcher) send(resp protocol.FunctionResponse, handlerErr error) {
	if d.isCancelled(resp.ID) {
		return
	}
	if err := d.session.SendToolResponse([]protocol.FunctionResponse{resp}); err != nil {
		d.session.logger.Warn("tool response dropped", "id", resp.ID, "error", err)
		return
	}
	if resp.Scheduling == protocol.SchedulingSilent {
		return
	}
	d.session.emit(ToolResultEvent{
		ID:         resp.ID,
		Name:       resp.Name,
		Scheduling: resp.Scheduling,
		Preempting: resp.Scheduling == protocol.SchedulingInterrupt,
		Err:        handlerErr,
	})
}

// cancel revokes the given calls: in-flight handler contexts are cancelled
// and queued replies are discarded.
func (d *toolDispatcher) cancel(ids []string) {
	d.cancelMu.Lock()
	for _, id := range ids {
		d.cancelled[id] = struct{}{}
		if fn, ok := d.cancels[id]; ok {
			fn()
		}
	}
	d.cancelMu.Unlock()

	d.idleMu.Lock()
	kept := d.pendingIdle[:0]
	for _, p := range d.pendingIdle {
		if !d.isCancelled(p.resp.ID) {
			kept = append(kept, p)
		}
	}
	d.pendingIdle = kept
	d.idleMu.Unlock()
}

// turnIdle flushes WHEN_IDLE replies queued behind the turn that just
// completed.
func (d *toolDispatcher) turnIdle() {
	d.idleMu.Lock()
	pending := d.pendingIdle
	d.pendingIdle = nil
	d.turnBusy = false
	d.idleMu.Unlock()

	for _, p := range pending {
		d.send(p.resp, p.err)
	}
}

func (d *toolDispatcher) isCancelled(id string) bool {
	d.cancelMu.Lock()
	defer d.cancelMu.Unlock()
	_, ok := d.cancelled[id]
	return ok
}

// shutdown cancels every in-flight handler.
func (d *toolDispatcher) shutdown() {
	d.cancelMu.Lock()
	for _, fn := range d.cancels {
		fn()
	}
	d.cancelMu.Unlock()
}
