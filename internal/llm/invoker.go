// Package llm defines the Invoker boundary: every LLM call in the core is
// Invoke(role, prompt, schema) -> JSON, exactly as spec'd. Concrete
// backends (Claude, OpenAI-compatible) live alongside the interface; the
// rest of the core only ever depends on the Invoker interface.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Role names the four presented roles. The core never knows which model or
// provider backs a role; that wiring lives in cmd/turnd.
type Role string

const (
	RoleMain      Role = "main"
	RoleFast      Role = "fast"
	RoleJudge     Role = "judge"
	RoleProcessor Role = "processor"
)

// PromptMessage is one turn of conversational context handed to a role.
type PromptMessage struct {
	Role    string
	Content string
}

// Prompt is the structured input to one Invoke call.
type Prompt struct {
	System   string
	Messages []PromptMessage
	User     string
}

// Invoker is the external collaborator boundary (spec §6). Implementations
// MUST cancel their in-flight request when ctx is canceled.
type Invoker interface {
	Invoke(ctx context.Context, role Role, prompt Prompt, schema json.RawMessage) (json.RawMessage, error)
}

// ErrTimeout and ErrParse are the two Invoker-call failure modes the
// executor's fallback policy (spec §7) distinguishes.
var (
	ErrTimeout = errors.New("llm: invoker call timed out")
	ErrParse   = errors.New("llm: invoker response did not match schema")
)

// RoleTimeouts is the per-role deadline table (spec §5 defaults).
type RoleTimeouts map[Role]time.Duration

func DefaultRoleTimeouts() RoleTimeouts {
	return RoleTimeouts{
		RoleMain:      60 * time.Second,
		RoleFast:      20 * time.Second,
		RoleJudge:     20 * time.Second,
		RoleProcessor: 30 * time.Second,
	}
}

func (t RoleTimeouts) of(role Role) time.Duration {
	if d, ok := t[role]; ok && d > 0 {
		return d
	}
	return 30 * time.Second
}

// RetryingInvoker wraps a backend Invoker with the per-role deadline and the
// "retry once, same role, then fail" policy of spec §7 (InvokerTimeout row).
// Callers (graph stages) are responsible for substituting the documented
// stage fallback once this returns ErrTimeout/ErrParse.
type RetryingInvoker struct {
	backend  Invoker
	timeouts RoleTimeouts
	logger   *zap.Logger
}

func NewRetryingInvoker(backend Invoker, timeouts RoleTimeouts, logger *zap.Logger) *RetryingInvoker {
	if timeouts == nil {
		timeouts = DefaultRoleTimeouts()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingInvoker{backend: backend, timeouts: timeouts, logger: logger}
}

func (r *RetryingInvoker) Invoke(ctx context.Context, role Role, prompt Prompt, schema json.RawMessage) (json.RawMessage, error) {
	deadline := r.timeouts.of(role)

	out, err := r.attempt(ctx, role, prompt, schema, deadline)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		// The turn's own context is done, not just this attempt's per-role
		// deadline: this is a cancellation, not a timeout worth retrying.
		// Wrap ctx.Err() so callers checking errors.Is(err, context.Canceled)
		// (the graph executor's fallback policy) see it for what it is,
		// instead of a misleading ErrTimeout.
		return nil, fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	r.logger.Warn("invoker call failed, retrying once", zap.String("role", string(role)), zap.Error(err))

	out, err = r.attempt(ctx, role, prompt, schema, deadline)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		if errors.Is(err, ErrParse) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return out, nil
}

func (r *RetryingInvoker) attempt(ctx context.Context, role Role, prompt Prompt, schema json.RawMessage, deadline time.Duration) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	out, err := r.backend.Invoke(callCtx, role, prompt, schema)
	if err != nil {
		return nil, err
	}
	if len(schema) > 0 {
		if _, perr := ParseBestEffort(out); perr != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, perr)
		}
	}
	return out, nil
}
