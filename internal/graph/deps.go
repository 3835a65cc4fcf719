package graph

import (
	"context"

	"go.uber.org/zap"

	"turncore/internal/domain"
	"turncore/internal/evolve"
	"turncore/internal/llm"
	"turncore/internal/memory"
	"turncore/internal/mood"
	"turncore/internal/search"
	"turncore/internal/stage"
	"turncore/internal/store"
)

// turnStore narrows *store.Store down to the two calls the Load and
// Persist stages make, the same way memory.noteStore narrows *memory.Store
// for the Retriever: it lets stage tests substitute an in-memory double
// instead of standing up a real Postgres pool.
type turnStore interface {
	Load(ctx context.Context, botID, externalID string) (*store.LoadResult, error)
	Persist(ctx context.Context, state *domain.TurnState, in store.PersistInput, superseded store.IsSuperseded) error
}

// Deps bundles every external collaborator a stage needs. A graph built
// from one Deps value is safe for concurrent use across sessions; the
// collaborators themselves (Invoker, Store, SearchEngine) are expected to
// be concurrency-safe.
type Deps struct {
	Invoker        llm.Invoker
	Mood           *mood.Engine
	SearchEngine   *search.Engine
	Evolver        *evolve.Engine
	StageManager   *stage.Manager
	Retriever      *memory.Retriever
	Store          turnStore
	Logger         *zap.Logger
	MaxMessages    int
	MinFirstLen    int
	MacroDrawFunc  func() float64

	// SupersededFunc reports whether the dispatcher has already abandoned
	// this turn (a newer message for the same session arrived and merged
	// past it). Checked by the Persist stage immediately before commit.
	SupersededFunc func(turnID string) bool
}

func (d *Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d *Deps) superseded(turnID string) bool {
	if d.SupersededFunc == nil {
		return false
	}
	return d.SupersededFunc(turnID)
}

func (d *Deps) macroDraw() float64 {
	if d.MacroDrawFunc == nil {
		return 1 // never fires unless busyness forces it
	}
	return d.MacroDrawFunc()
}
