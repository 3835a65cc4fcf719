package segment

import (
	"strings"

	"turncore/internal/domain"
)

// ApologyFallback is the static apology emitted when FinalValidate would
// otherwise produce zero segments (spec §7, ValidationFail policy).
const ApologyFallback = "抱歉，我刚才走神了。"

// Validate enforces FinalValidator's clamp/merge rules (spec §4.4):
// tail-merge when over max_messages, first-two-merge when the first
// segment is below min_first_len, and a static apology if everything still
// ends up empty.
func Validate(segments []domain.SegmentDraft, req domain.Requirements) []domain.SegmentDraft {
	out := mergeTail(segments, req.MaxMessages)
	out = mergeFirstTwoIfShort(out, req.MinFirstLen)
	out = dropEmpty(out)

	if len(out) == 0 {
		out = []domain.SegmentDraft{{Content: ApologyFallback, Action: domain.ActionIdle}}
	}
	if len(out) > 0 {
		out[0].DelaySeconds = 0
	}
	return out
}

func mergeTail(segments []domain.SegmentDraft, max int) []domain.SegmentDraft {
	if max <= 0 || len(segments) <= max {
		return segments
	}
	kept := make([]domain.SegmentDraft, max)
	copy(kept, segments[:max])
	var tailContent []string
	var tailDelay float64
	for _, s := range segments[max-1:] {
		tailContent = append(tailContent, s.Content)
		tailDelay += s.DelaySeconds
	}
	kept[max-1] = domain.SegmentDraft{
		Content:      strings.Join(tailContent, ""),
		DelaySeconds: kept[max-1].DelaySeconds,
		Action:       kept[max-1].Action,
	}
	_ = tailDelay
	return kept
}

func mergeFirstTwoIfShort(segments []domain.SegmentDraft, minFirstLen int) []domain.SegmentDraft {
	if minFirstLen <= 0 || len(segments) < 2 {
		return segments
	}
	if runeLen(segments[0].Content) >= minFirstLen {
		return segments
	}
	merged := domain.SegmentDraft{
		Content:      segments[0].Content + segments[1].Content,
		DelaySeconds: segments[0].DelaySeconds,
		Action:       segments[0].Action,
	}
	out := append([]domain.SegmentDraft{merged}, segments[2:]...)
	return out
}

func dropEmpty(segments []domain.SegmentDraft) []domain.SegmentDraft {
	out := make([]domain.SegmentDraft, 0, len(segments))
	for _, s := range segments {
		if strings.TrimSpace(s.Content) != "" {
			out = append(out, s)
		}
	}
	return out
}

func runeLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}
