package segment

import (
	"testing"

	"turncore/internal/domain"
)

func TestValidateMergesTailOverMaxMessages(t *testing.T) {
	segments := []domain.SegmentDraft{
		{Content: "一"}, {Content: "二"}, {Content: "三"}, {Content: "四"},
	}
	req := domain.Requirements{MaxMessages: 2, MinFirstLen: 0}
	out := Validate(segments, req)
	if len(out) != 2 {
		t.Fatalf("expected tail-merge down to 2 segments, got %+v", out)
	}
	if out[1].Content != "二三四" {
		t.Fatalf("expected tail merged into last slot, got %q", out[1].Content)
	}
}

func TestValidateMergesFirstTwoWhenTooShort(t *testing.T) {
	segments := []domain.SegmentDraft{
		{Content: "嗯。"}, {Content: "今天有点累。"}, {Content: "你还好吗？"},
	}
	req := domain.Requirements{MaxMessages: 10, MinFirstLen: 5}
	out := Validate(segments, req)
	if len(out) != 2 {
		t.Fatalf("expected 2 segments after first-merge, got %+v", out)
	}
	if out[0].Content != "嗯。今天有点累。" {
		t.Fatalf("expected first two merged, got %q", out[0].Content)
	}
	if out[1].Content != "你还好吗？" {
		t.Fatalf("expected tail untouched, got %q", out[1].Content)
	}
}

func TestValidateFallsBackToApologyWhenEmpty(t *testing.T) {
	req := domain.Requirements{MaxMessages: 3, MinFirstLen: 2}
	out := Validate(nil, req)
	if len(out) != 1 || out[0].Content != ApologyFallback {
		t.Fatalf("expected static apology fallback, got %+v", out)
	}
}

func TestValidateDropsEmptyContentSegments(t *testing.T) {
	segments := []domain.SegmentDraft{{Content: "  "}, {Content: "真实内容"}}
	req := domain.Requirements{MaxMessages: 5, MinFirstLen: 0}
	out := Validate(segments, req)
	if len(out) != 1 || out[0].Content != "真实内容" {
		t.Fatalf("expected blank segment dropped, got %+v", out)
	}
}

func TestValidateFirstSegmentAlwaysZeroDelay(t *testing.T) {
	segments := []domain.SegmentDraft{
		{Content: "一", DelaySeconds: 3},
		{Content: "二", DelaySeconds: 1},
	}
	out := Validate(segments, domain.Requirements{MaxMessages: 5})
	if out[0].DelaySeconds != 0 {
		t.Fatalf("expected first segment delay forced to 0, got %v", out[0].DelaySeconds)
	}
}
