// Package search implements the Monte-Carlo-tree-style rollout engine of
// spec §4.2: root plan generation, prefetch, gated/scored expansion, value
// propagation, and early exit.
package search

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"turncore/internal/domain"
	"turncore/internal/llm"
)

type Engine struct {
	invoker  llm.Invoker
	judgeSem *semaphore.Weighted
	cfg      Config
	logger   *zap.Logger

	// insertCounter gives selectLeaf's tie-break a monotonically
	// increasing "most recently inserted" signal.
	insertCounter int
}

func NewEngine(invoker llm.Invoker, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SoftMaxConcurrency <= 0 {
		cfg.SoftMaxConcurrency = 1
	}
	return &Engine{
		invoker:  invoker,
		judgeSem: semaphore.NewWeighted(int64(cfg.SoftMaxConcurrency)),
		cfg:      cfg,
		logger:   logger,
	}
}

// Run executes the full algorithm and returns the chosen ReplyPlan.
func (e *Engine) Run(ctx context.Context, state *domain.TurnState, req domain.Requirements) (domain.ReplyPlan, error) {
	stageDefault := e.cfg.StageTable[state.CurrentStage.Class()]

	rootPlan, err := e.generateRootPlan(ctx, state, req)
	if err != nil {
		state.RecordError(domain.ErrSearchDegenerate, "Search", err.Error())
		return e.degeneratePlan(ctx, state)
	}
	root := &node{plan: rootPlan}

	// Prefetch the first expansion's K variants concurrently with root
	// evaluation (spec §4.2 step 2).
	prefetchCh := make(chan []domain.ReplyPlan, 1)
	go func() {
		variants, _ := e.expandVariants(ctx, state, req, root.plan, stageDefault.ExpandK)
		prefetchCh <- variants
	}()

	rootScore := e.scoreSoft(ctx, state, root.plan)
	root.score, root.scored = rootScore, true
	root.visits = 1
	root.valueSum = rootScore.OverallScore

	if stageDefault.MinRolloutsBeforeEarlyExit == 0 && e.cfg.EarlyExit.satisfiedBy(rootScore) {
		variants := <-prefetchCh
		_ = variants
		return e.finalize(ctx, state, root.plan)
	}

	var prefetched []domain.ReplyPlan
	prefetchUsed := false

	for rollout := 0; rollout < stageDefault.Rollouts; rollout++ {
		if ctx.Err() != nil {
			return domain.ReplyPlan{}, ctx.Err()
		}
		leaf := selectLeaf(root)

		var variants []domain.ReplyPlan
		if !prefetchUsed {
			prefetched = <-prefetchCh
			variants = prefetched
			prefetchUsed = true
		} else {
			variants, err = e.expandVariants(ctx, state, req, leaf.plan, stageDefault.ExpandK)
			if err != nil {
				e.logger.Warn("rollout expansion failed, discarding rollout", zap.Error(err))
				continue
			}
		}

		survivors := e.filterHardGate(variants, req)
		survivors = e.filterBatchGate(ctx, state, survivors)
		if len(survivors) == 0 {
			continue
		}
		top := e.scoreTopN(ctx, state, survivors, e.cfg.SoftTopN)
		if len(top) == 0 {
			continue
		}

		bestChildNode := e.attachChildren(leaf, top)
		propagate(bestChildNode, bestChildNode.score.OverallScore)

		if rollout+1 >= stageDefault.MinRolloutsBeforeEarlyExit {
			pathBest := bestPath(root)
			if e.cfg.EarlyExit.satisfiedBy(pathBest.score) {
				break
			}
		}
	}

	winner := bestPath(root)
	return e.finalize(ctx, state, winner.plan)
}

func (e *Engine) attachChildren(leaf *node, plans []scoredPlan) *node {
	var best *node
	for _, sp := range plans {
		e.insertCounter++
		child := &node{plan: sp.plan, score: sp.score, scored: true, parent: leaf, insertOrder: e.insertCounter}
		leaf.children = append(leaf.children, child)
		if best == nil || child.score.OverallScore > best.score.OverallScore {
			best = child
		}
	}
	return best
}

// finalize re-scores the chosen plan once more (spec §4.2 step 5,
// "no-reject fallback": a below-threshold plan is still returned, just
// logged as a warning).
func (e *Engine) finalize(ctx context.Context, state *domain.TurnState, plan domain.ReplyPlan) (domain.ReplyPlan, error) {
	final := e.scoreSoft(ctx, state, plan)
	if final.OverallScore < e.cfg.FinalScoreThreshold {
		e.logger.Warn("final plan below final_score_threshold, returning anyway",
			zap.Float64("score", final.OverallScore), zap.Float64("threshold", e.cfg.FinalScoreThreshold))
	}
	return plan, nil
}

func (e *Engine) degeneratePlan(ctx context.Context, state *domain.TurnState) (domain.ReplyPlan, error) {
	prompt := llm.Prompt{
		System: "Reply in one short plain-text message in character. Do not use any structured format.",
		User:   state.UserInput,
	}
	out, err := e.invoker.Invoke(ctx, llm.RoleMain, prompt, nil)
	if err != nil {
		return domain.ReplyPlan{}, fmt.Errorf("degenerate plan fallback failed: %w", err)
	}
	var text string
	if jerr := json.Unmarshal(out, &text); jerr != nil {
		text = string(out)
	}
	return domain.ReplyPlan{Messages: []domain.SegmentDraft{{Content: text, Action: domain.ActionIdle}}}, nil
}

type scoredPlan struct {
	plan  domain.ReplyPlan
	score SoftScore
}
