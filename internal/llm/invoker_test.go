package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type fakeBackend struct {
	calls int
	fail  int
	out   json.RawMessage
	err   error
}

func (f *fakeBackend) Invoke(ctx context.Context, role Role, prompt Prompt, schema json.RawMessage) (json.RawMessage, error) {
	f.calls++
	if f.calls <= f.fail {
		return nil, errors.New("boom")
	}
	return f.out, f.err
}

func TestRetryingInvokerRetriesOnceThenSucceeds(t *testing.T) {
	backend := &fakeBackend{fail: 1, out: json.RawMessage(`{"ok":true}`)}
	inv := NewRetryingInvoker(backend, nil, nil)
	out, err := inv.Invoke(context.Background(), RoleFast, Prompt{User: "hi"}, json.RawMessage(`{"type":"object"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", backend.calls)
	}
	if string(out) != `{"ok":true}` {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestRetryingInvokerFailsAfterTwoAttempts(t *testing.T) {
	backend := &fakeBackend{fail: 2}
	inv := NewRetryingInvoker(backend, nil, nil)
	_, err := inv.Invoke(context.Background(), RoleFast, Prompt{User: "hi"}, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if backend.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", backend.calls)
	}
}

type blockingBackend struct{}

func (blockingBackend) Invoke(ctx context.Context, role Role, prompt Prompt, schema json.RawMessage) (json.RawMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRetryingInvokerReportsCancellationNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inv := NewRetryingInvoker(blockingBackend{}, nil, nil)
	_, err := inv.Invoke(ctx, RoleFast, Prompt{User: "hi"}, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected errors.Is(err, context.Canceled), got %v", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("a canceled turn must not be reported as ErrTimeout: %v", err)
	}
}
