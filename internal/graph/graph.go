package graph

import (
	"context"

	"github.com/cloudwego/eino/compose"

	"turncore/internal/domain"
)

// Graph wraps the compiled eino runnable for one full turn.
type Graph struct {
	runnable compose.Runnable[*domain.TurnState, *domain.TurnState]
}

// Run executes one turn through the graph, following the one conditional
// edge after Security (spec §4.1): SecurityReply and the Detection through
// FinalValidate chain are exclusive, so at most twelve stages run.
func (g *Graph) Run(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error) {
	return g.runnable.Invoke(ctx, state)
}

// Build assembles the thirteen-stage DAG: a linear chain for the common
// path, one conditional branch after Security, and a second predecessor
// into Evolve from SecurityReply's short-circuit (compose.AnyPredecessor
// lets Evolve fire from whichever of its two predecessors actually ran).
func Build(ctx context.Context, deps *Deps) (*Graph, error) {
	g := compose.NewGraph[*domain.TurnState, *domain.TurnState]()

	nodes := map[StageName]stageFunc{
		StageLoad:           buildLoadStage(deps),
		StageSecurity:       buildSecurityStage(deps),
		StageSecurityReply:  buildSecurityReplyStage(deps),
		StageDetection:      buildDetectionStage(deps),
		StageMonologue:      buildMonologueStage(deps),
		StageMemoryRetrieve: buildMemoryRetrieveStage(deps),
		StageTaskPlan:       buildTaskPlanStage(deps),
		StageSearch:         buildSearchStage(deps),
		StageProcess:        buildProcessStage(deps),
		StageFinalValidate:  buildFinalValidateStage(deps),
		StageEvolve:         buildEvolveStage(deps),
		StageManage:         buildStageManageStage(deps),
		StagePersist:        buildPersistStage(deps),
	}

	for name, fn := range nodes {
		if err := g.AddLambdaNode(string(name), compose.InvokableLambdaWithOption(asLambda(fn))); err != nil {
			return nil, err
		}
	}

	if err := g.AddEdge(compose.START, string(StageLoad)); err != nil {
		return nil, err
	}
	if err := g.AddEdge(string(StageLoad), string(StageSecurity)); err != nil {
		return nil, err
	}
	if err := g.AddBranch(string(StageSecurity), compose.NewGraphBranch(securityBranch, map[string]bool{
		string(StageSecurityReply): true,
		string(StageDetection):     true,
	})); err != nil {
		return nil, err
	}

	linear := []StageName{
		StageDetection, StageMonologue, StageMemoryRetrieve, StageTaskPlan,
		StageSearch, StageProcess, StageFinalValidate, StageEvolve,
		StageManage, StagePersist,
	}
	for i := 0; i+1 < len(linear); i++ {
		if err := g.AddEdge(string(linear[i]), string(linear[i+1])); err != nil {
			return nil, err
		}
	}

	// SecurityReply short-circuits straight into Evolve, skipping
	// Detection..FinalValidate (spec P8).
	if err := g.AddEdge(string(StageSecurityReply), string(StageEvolve)); err != nil {
		return nil, err
	}
	if err := g.AddEdge(string(StagePersist), compose.END); err != nil {
		return nil, err
	}

	runnable, err := g.Compile(ctx,
		compose.WithGraphName("turn"),
		compose.WithNodeTriggerMode(compose.AnyPredecessor),
	)
	if err != nil {
		return nil, err
	}
	return &Graph{runnable: runnable}, nil
}

// asLambda adapts a stageFunc to the (ctx, input, opts...) shape
// compose.InvokableLambdaWithOption expects.
func asLambda(fn stageFunc) func(ctx context.Context, state *domain.TurnState, opts ...any) (*domain.TurnState, error) {
	return func(ctx context.Context, state *domain.TurnState, opts ...any) (*domain.TurnState, error) {
		return fn(ctx, state)
	}
}
