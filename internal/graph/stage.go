// Package graph wires the thirteen spec stages into one eino
// compose.Graph[*domain.TurnState, *domain.TurnState], with the one
// conditional edge after Security. Each stage is a tagged function
// variant, not a dynamically discovered plugin, per the "tagged variants"
// guidance for this core.
package graph

import (
	"context"
	"errors"

	"turncore/internal/domain"
)

// IsCanceled reports whether err is this package's own ErrCanceled, or a
// cancellation that reached a stage some other way — e.g. an Invoker
// wrapping ctx.Err() instead of its usual timeout error once the turn's
// context was already done (internal/llm.RetryingInvoker). The session
// controller uses this to tell a genuinely superseded turn from a real
// stage failure when classifying graph.Run's returned error.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// StageName tags each graph node, matching spec §4.1's numbered stage list.
type StageName string

const (
	StageLoad           StageName = "Load"
	StageSecurity       StageName = "Security"
	StageSecurityReply  StageName = "SecurityReply"
	StageDetection      StageName = "Detection"
	StageMonologue      StageName = "Monologue"
	StageMemoryRetrieve StageName = "MemoryRetrieve"
	StageTaskPlan       StageName = "TaskPlan"
	StageSearch         StageName = "Search"
	StageProcess        StageName = "Process"
	StageFinalValidate  StageName = "FinalValidate"
	StageEvolve         StageName = "Evolve"
	StageManage         StageName = "StageManage"
	StagePersist        StageName = "Persist"
)

// ErrCanceled is returned by the executor when a stage observes a tripped
// cancellation token; the caller maps this to the spec's CanceledTurn
// result with status "superseded".
var ErrCanceled = errors.New("graph: turn canceled")

// checkCancel is called by every stage wrapper before running the real
// stage body (spec §4.1 execution semantics).
func checkCancel(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrCanceled
	}
	return nil
}

// stageFunc is the signature every stage node implements: mutate state in
// place and return it, or fail with an error the caller's fallback policy
// interprets.
type stageFunc func(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error)

// stageObserverKey is the context key the session controller uses to learn
// which stage a turn has reached, so it can apply the interruptible
// (stages 1-9) vs. queued (stages 10-13) supersession rule from spec §4.7
// without the graph package depending on the controller.
type stageObserverKey struct{}

// WithStageObserver attaches a callback invoked with the name of each stage
// as it is about to run.
func WithStageObserver(ctx context.Context, observer func(StageName)) context.Context {
	return context.WithValue(ctx, stageObserverKey{}, observer)
}

func notifyStage(ctx context.Context, name StageName) {
	if observer, ok := ctx.Value(stageObserverKey{}).(func(StageName)); ok && observer != nil {
		observer(name)
	}
}

// StageOrdinal returns the stage's 1-based position in spec §4.1's table,
// used by the session controller to tell interruptible stages (<10) from
// the irreversible tail (>=10).
func StageOrdinal(name StageName) int {
	return stageOrdinals[name]
}

var stageOrdinals = map[StageName]int{
	StageLoad:           1,
	StageSecurity:       2,
	StageSecurityReply:  3,
	StageDetection:      4,
	StageMonologue:      5,
	StageMemoryRetrieve: 6,
	StageTaskPlan:       7,
	StageSearch:         8,
	StageProcess:        9,
	StageFinalValidate:  10,
	StageEvolve:         11,
	StageManage:         12,
	StagePersist:        13,
}

// withCancelCheck wraps a stage body with the mandatory pre-flight
// cancellation check and reports stage entry to any attached observer.
func withCancelCheck(name StageName, fn stageFunc) stageFunc {
	return func(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error) {
		notifyStage(ctx, name)
		if err := checkCancel(ctx); err != nil {
			return state, err
		}
		return fn(ctx, state)
	}
}

// withFallback records a non-fatal stage error onto state.Errors and
// substitutes the documented default via applyDefault, rather than
// aborting the graph (spec §7, StageFallback policy).
func withFallback(name StageName, fn stageFunc, applyDefault func(*domain.TurnState, error)) stageFunc {
	return func(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error) {
		out, err := fn(ctx, state)
		if err == nil {
			return out, nil
		}
		if IsCanceled(err) {
			return out, err
		}
		state.RecordError(domain.ErrStageFallback, string(name), err.Error())
		applyDefault(state, err)
		return state, nil
	}
}
