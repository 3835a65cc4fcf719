// Package segment turns a chosen ReplyPlan into the ordered final_segments
// the session controller emits (spec §4.3), and enforces the FinalValidator
// clamp/merge rules of spec §4.4.
package segment

import (
	"strings"
	"unicode/utf8"

	"turncore/internal/domain"
)

const (
	minBubbleLength = 5
	typingRatePerChar = 0.2 // seconds/char
)

// Process implements the Segment Processor contract. When plan.Messages
// already carries two or more messages (the pass-through path), they are
// used directly with their own delays, aside from the final
// clamp/merge pass done by Validate. A plan with a single message is run
// through the rule-split path using the bot's effective traits.
func Process(plan domain.ReplyPlan, traits Traits) []domain.SegmentDraft {
	if len(plan.Messages) >= 2 {
		return passThrough(plan.Messages)
	}
	if len(plan.Messages) == 1 {
		return ruleSplit(plan.Messages[0].Content, traits)
	}
	return nil
}

// Traits bundles the inputs the fragmentation-tendency formula needs.
type Traits struct {
	Extraversion float64 // bot_big_five.extraversion, normalized to [0,1] by caller
	Closeness    float64 // relationship_state.closeness, already [0,1]
	Arousal      float64 // mood_state.arousal, normalized to [0,1] by caller
	Busyness     float64 // mood_state.busyness, [0,1]
}

func passThrough(messages []domain.SegmentDraft) []domain.SegmentDraft {
	out := make([]domain.SegmentDraft, len(messages))
	copy(out, messages)
	for i := range out {
		if out[i].Action == "" {
			if out[i].DelaySeconds > 0 {
				out[i].Action = domain.ActionTyping
			} else {
				out[i].Action = domain.ActionIdle
			}
		}
	}
	return out
}

// FragmentationTendency computes spec §4.3's
// clamp01(0.4*extraversion + 0.4*closeness + 0.2*arousal).
func FragmentationTendency(t Traits) float64 {
	return clamp01(0.4*t.Extraversion + 0.4*t.Closeness + 0.2*t.Arousal)
}

// SplitThresholdChars computes clamp(round(20 - 20*tendency), 5, 30): higher
// fragmentation tendency pulls the buffer threshold down, so a more
// extraverted/close/aroused bot breaks into shorter bubbles. Calibrated
// against original_source/EmotionalChatBot_V5's _segment_text (same
// cumulative-buffer-exceeds-threshold mechanism, same clamp range); the
// multiplier is doubled relative to that source's 20-15*tendency because
// this tendency is already clamp01'd to [0,1] instead of left unbounded.
func SplitThresholdChars(tendency float64) int {
	v := round(20 - 20*tendency)
	if v < 5 {
		return 5
	}
	if v > 30 {
		return 30
	}
	return v
}

func ruleSplit(text string, t Traits) []domain.SegmentDraft {
	tendency := FragmentationTendency(t)
	threshold := SplitThresholdChars(tendency)

	raw := splitIntoBreaks(text, threshold)
	filtered := dropShortBubbles(raw)
	if len(filtered) == 0 && len(raw) > 0 {
		filtered = []string{strings.TrimSpace(strings.Join(raw, ""))}
	}

	out := make([]domain.SegmentDraft, 0, len(filtered))
	for i, content := range filtered {
		var delay float64
		action := domain.ActionIdle
		if i > 0 {
			delay = segmentDelay(content, t.Busyness)
			action = domain.ActionTyping
		}
		out = append(out, domain.SegmentDraft{Content: content, DelaySeconds: delay, Action: action})
	}
	return out
}

// splitIntoBreaks scans the string, breaking unconditionally at '\n' and at
// sentence punctuation once the running buffer reaches threshold chars.
func splitIntoBreaks(text string, threshold int) []string {
	var segments []string
	var buf strings.Builder
	bufLen := 0

	flush := func() {
		seg := strings.TrimSpace(buf.String())
		if seg != "" {
			segments = append(segments, seg)
		}
		buf.Reset()
		bufLen = 0
	}

	for _, r := range text {
		if r == '\n' {
			buf.WriteRune(r)
			flush()
			continue
		}
		buf.WriteRune(r)
		bufLen++
		if isSentenceBreak(r) && bufLen >= threshold {
			flush()
		}
	}
	flush()
	return segments
}

func isSentenceBreak(r rune) bool {
	switch r {
	case '。', '!', '！', '?', '？':
		return true
	default:
		return false
	}
}

// dropShortBubbles removes segments below minBubbleLength, merging nothing
// (dropped segments simply vanish; FinalValidate handles the resulting
// first-segment-too-short case).
func dropShortBubbles(segments []string) []string {
	out := make([]string, 0, len(segments))
	for _, s := range segments {
		if utf8.RuneCountInString(s) >= minBubbleLength {
			out = append(out, s)
		}
	}
	return out
}

// segmentDelay computes max(1.0, len*typing_rate) * (1-busyness).
func segmentDelay(content string, busyness float64) float64 {
	base := float64(utf8.RuneCountInString(content)) * typingRatePerChar
	if base < 1.0 {
		base = 1.0
	}
	return base * (1 - clamp01(busyness))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round(v float64) int {
	if v < 0 {
		return int(v - 0.5)
	}
	return int(v + 0.5)
}
