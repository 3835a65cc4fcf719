// Package session implements the per-(user,bot) dispatcher described in
// spec §4.7: it serializes turns for one session, applies merge-and-restart
// semantics while a turn is still interruptible (stages 1-9), queues a
// fresh message once a turn reaches its irreversible tail (stages 10-13),
// and paces segment delivery to match each final segment's delay.
//
// The design generalizes the teacher's mqtt.Hub pending-request-map
// pattern (one map keyed by an id, guarded by a mutex, resolved by a
// channel) from a single request/response pair to an ordered multi-segment
// stream with cancellation.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"turncore/internal/domain"
	"turncore/internal/graph"
)

// turnGraph is the slice of *graph.Graph the controller actually calls;
// narrowing it to an interface lets tests substitute a controllable fake
// without a real thirteen-stage pipeline.
type turnGraph interface {
	Run(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error)
}

// Key identifies one session: a (bot, external user id) pair.
type Key struct {
	BotID      string
	ExternalID string
}

// Request is one incoming message for a session.
type Request struct {
	BotID        string
	ExternalID   string
	Message      string
	ClientTurnID string
}

// Result is what Submit returns once a turn either commits, is superseded,
// or fails outright.
type Result struct {
	Status        string // "success" | "superseded" | "error"
	Segments      []domain.SegmentDraft
	IsMacroDelay  bool
	MacroDelay    time.Duration
	UserCreatedAt time.Time
	AiCreatedAt   time.Time
	Err           error
}

// Emitter delivers one segment to whatever transport fronts this session
// (websocket, MQTT push, SSE). The default NoopEmitter only paces the
// delay; a real transport is wired in by the caller of NewController.
type Emitter interface {
	Emit(ctx context.Context, key Key, turnID string, index int, segment domain.SegmentDraft) error
}

// NoopEmitter satisfies Emitter without delivering anywhere; Submit's
// caller still receives the full segment list in Result once the turn
// commits and emission finishes pacing through the delays.
type NoopEmitter struct{}

func (NoopEmitter) Emit(context.Context, Key, string, int, domain.SegmentDraft) error { return nil }

const maxQueueDepth = 4

// Phase is the externally-observable half of spec §4.7's state machine.
// Committed is intentionally not a distinct stored phase: it is the
// instant between Persist finishing and Emitting starting, which this
// implementation crosses synchronously inside runTurn while still holding
// no lock a new message could observe, so there is nothing for a third
// party to see in that state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseEmitting
)

type queuedRequest struct {
	message      string
	clientTurnID string
	resultCh     chan Result
}

type activeTurn struct {
	turnID       string
	input        string
	clientTurnID string
	stage        int32 // atomic, spec §4.1 stage ordinal, updated by the graph's stage observer
	cancel       context.CancelFunc
	emitCancel   context.CancelFunc
	resultCh     chan Result
}

type sessionEntry struct {
	key Key

	mu     sync.Mutex
	phase  Phase
	active *activeTurn
	queue  []queuedRequest
}

// Controller owns every session's dispatcher state and the one compiled
// turn graph they all share.
type Controller struct {
	graph   turnGraph
	emitter Emitter
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[Key]*sessionEntry

	canceledMu sync.Mutex
	canceled   map[string]struct{}

	queueDepth int
}

func NewController(g turnGraph, emitter Emitter, logger *zap.Logger) *Controller {
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		graph:      g,
		emitter:    emitter,
		logger:     logger,
		sessions:   make(map[Key]*sessionEntry),
		canceled:   make(map[string]struct{}),
		queueDepth: maxQueueDepth,
	}
}

// SetQueueDepth overrides the bounded per-session queue depth (spec §5
// defaults this to 4); deployments that want a different tradeoff between
// memory and how many messages can pile up behind a long irreversible
// tail can call this once before serving traffic.
func (c *Controller) SetQueueDepth(n int) {
	if n > 0 {
		c.queueDepth = n
	}
}

func (c *Controller) entry(key Key) *sessionEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.sessions[key]
	if !ok {
		e = &sessionEntry{key: key}
		c.sessions[key] = e
	}
	return e
}

// IsSuperseded is wired into graph.Deps.SupersededFunc: the Persist stage
// calls it with its own turn_id immediately before commit (invariant L1).
func (c *Controller) IsSuperseded(turnID string) bool {
	c.canceledMu.Lock()
	defer c.canceledMu.Unlock()
	_, found := c.canceled[turnID]
	if found {
		delete(c.canceled, turnID)
	}
	return found
}

func (c *Controller) markCanceled(turnID string) {
	c.canceledMu.Lock()
	c.canceled[turnID] = struct{}{}
	c.canceledMu.Unlock()
}

// Submit enqueues one message for its session and blocks until the
// resulting turn (possibly a merged one) resolves, or ctx is canceled.
func (c *Controller) Submit(ctx context.Context, req Request) (Result, error) {
	key := Key{BotID: req.BotID, ExternalID: req.ExternalID}
	entry := c.entry(key)
	resultCh := make(chan Result, 1)

	entry.mu.Lock()
	switch entry.phase {
	case PhaseIdle:
		active, ctx := c.newActiveTurn(req.Message, req.ClientTurnID, resultCh)
		entry.active = active
		entry.phase = PhaseRunning
		entry.mu.Unlock()
		go c.runTurn(entry, active, ctx)

	case PhaseRunning:
		if atomic.LoadInt32(&entry.active.stage) < 10 {
			c.mergeAndRestart(entry, req, resultCh)
		} else {
			entry.queue = enqueueMerging(entry.queue, queuedRequest{message: req.Message, clientTurnID: req.ClientTurnID, resultCh: resultCh}, c.queueDepth)
		}
		entry.mu.Unlock()

	case PhaseEmitting:
		entry.active.emitCancel()
		c.mergeAndRestart(entry, req, resultCh)
		entry.mu.Unlock()

	default:
		entry.mu.Unlock()
	}

	select {
	case res := <-resultCh:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// mergeAndRestart must be called with entry.mu held. It cancels the
// session's current turn, resolves its caller(s) with "superseded", and
// starts a fresh turn carrying the concatenated input (spec §4.7).
func (c *Controller) mergeAndRestart(entry *sessionEntry, req Request, resultCh chan Result) {
	old := entry.active
	old.cancel()
	c.markCanceled(old.turnID)
	resolveOne(old.resultCh, Result{Status: "superseded"})

	merged := old.input + "\n" + req.Message
	active, ctx := c.newActiveTurn(merged, req.ClientTurnID, resultCh)
	entry.active = active
	entry.phase = PhaseRunning
	go c.runTurn(entry, active, ctx)
}

// newActiveTurn allocates a turn's cancellation context up front, in the
// same critical section that publishes the activeTurn, so a concurrent
// Submit can never observe a non-nil active with a nil cancel func.
func (c *Controller) newActiveTurn(input, clientTurnID string, resultCh chan Result) (*activeTurn, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	active := &activeTurn{
		turnID:       uuid.NewString(),
		input:        input,
		clientTurnID: clientTurnID,
		resultCh:     resultCh,
		cancel:       cancel,
	}
	ctx = graph.WithStageObserver(ctx, func(name graph.StageName) {
		atomic.StoreInt32(&active.stage, int32(graph.StageOrdinal(name)))
	})
	return active, ctx
}

// enqueueMerging appends q, or, once the bounded queue is full, merges it
// into the tail slot and supersedes whichever caller previously owned that
// slot (spec §5, "a new message arriving at a full queue coalesces into
// the tail by merging user_input").
func enqueueMerging(queue []queuedRequest, q queuedRequest, depth int) []queuedRequest {
	if len(queue) < depth {
		return append(queue, q)
	}
	tail := queue[len(queue)-1]
	resolveOne(tail.resultCh, Result{Status: "superseded"})
	queue[len(queue)-1] = queuedRequest{
		message:      tail.message + "\n" + q.message,
		clientTurnID: q.clientTurnID,
		resultCh:     q.resultCh,
	}
	return queue
}

func resolveOne(ch chan Result, res Result) {
	select {
	case ch <- res:
	default:
	}
}

// runTurn drives one activeTurn through the graph, then (on success) paces
// emission, then settles the session back to Idle and drains its queue.
func (c *Controller) runTurn(entry *sessionEntry, active *activeTurn, ctx context.Context) {
	cancel := active.cancel
	userCreatedAt := time.Now().UTC()
	initial := &domain.TurnState{
		BotID:        entry.key.BotID,
		ExternalID:   entry.key.ExternalID,
		TurnID:       active.turnID,
		ClientTurnID: active.clientTurnID,
		UserInput:    active.input,
		StartedAt:    userCreatedAt,
	}

	final, err := c.graph.Run(ctx, initial)

	entry.mu.Lock()
	if entry.active != active {
		// Already superseded and resolved by a concurrent Submit.
		entry.mu.Unlock()
		cancel()
		return
	}

	if err != nil {
		status := "error"
		if graph.IsCanceled(err) || isSupersededErr(err) {
			status = "superseded"
		} else {
			c.logger.Warn("turn failed", zap.String("turn_id", active.turnID), zap.Error(err))
		}
		entry.active = nil
		entry.phase = PhaseIdle
		entry.mu.Unlock()
		resolveOne(active.resultCh, Result{Status: status, Err: err})
		cancel()
		c.drainQueue(entry)
		return
	}

	if final.IsMacroDelay {
		// spec §4.3/§5: a macro-delayed turn produces no segments to pace;
		// the caller gets an immediate success with the delay value instead,
		// and the session goes straight back to Idle, so the next message
		// starts a fresh turn of its own like any other idle session.
		entry.active = nil
		entry.phase = PhaseIdle
		entry.mu.Unlock()
		cancel()
		resolveOne(active.resultCh, Result{
			Status:        "success",
			IsMacroDelay:  true,
			MacroDelay:    time.Duration(final.MacroDelaySeconds * float64(time.Second)),
			UserCreatedAt: userCreatedAt,
			AiCreatedAt:   time.Now().UTC(),
		})
		c.drainQueue(entry)
		return
	}

	emitCtx, emitCancel := context.WithCancel(context.Background())
	active.emitCancel = emitCancel
	entry.phase = PhaseEmitting
	entry.mu.Unlock()

	c.emit(emitCtx, entry.key, active.turnID, final.FinalSegments)
	emitCancel()
	cancel()

	entry.mu.Lock()
	entry.active = nil
	entry.phase = PhaseIdle
	entry.mu.Unlock()

	resolveOne(active.resultCh, Result{
		Status:        "success",
		Segments:      final.FinalSegments,
		UserCreatedAt: userCreatedAt,
		AiCreatedAt:   time.Now().UTC(),
	})
	c.drainQueue(entry)
}

func (c *Controller) emit(ctx context.Context, key Key, turnID string, segments []domain.SegmentDraft) {
	for i, seg := range segments {
		if ctx.Err() != nil {
			return
		}
		if seg.DelaySeconds > 0 {
			timer := time.NewTimer(time.Duration(seg.DelaySeconds * float64(time.Second)))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if err := c.emitter.Emit(ctx, key, turnID, i, seg); err != nil {
			c.logger.Warn("segment emit failed", zap.String("turn_id", turnID), zap.Int("index", i), zap.Error(err))
		}
	}
}

func (c *Controller) drainQueue(entry *sessionEntry) {
	entry.mu.Lock()
	if len(entry.queue) == 0 {
		entry.mu.Unlock()
		return
	}
	next := entry.queue[0]
	entry.queue = entry.queue[1:]
	active, ctx := c.newActiveTurn(next.message, next.clientTurnID, next.resultCh)
	entry.active = active
	entry.phase = PhaseRunning
	entry.mu.Unlock()
	go c.runTurn(entry, active, ctx)
}

func isSupersededErr(err error) bool {
	var te domain.TurnError
	if errors.As(err, &te) {
		return te.Kind == domain.ErrSuperseded
	}
	return false
}
