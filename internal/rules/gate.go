package rules

import (
	"strings"
	"unicode/utf8"

	"turncore/internal/domain"
)

// forbiddenAssistantPatterns catches the most common assistant-register
// slips an in-character reply must never contain.
var forbiddenAssistantPatterns = []string{
	"as an ai", "as an ai language model", "i am an ai", "i'm an ai",
	"作为一个ai", "作为一名人工智能", "我是一个语言模型", "我是一个ai",
	"i cannot provide", "i'm unable to", "抱歉，我无法",
}

// HardGateResult records which structural rule rejected a candidate, if any.
type HardGateResult struct {
	Passed bool
	Reason string
}

// HardGate runs the rule checks of spec §4.2 step 4: structural validity,
// message-count ceiling, first-message minimum length, word-budget slack,
// and forbidden assistant-style phrasing. It never calls an LLM.
func HardGate(plan domain.ReplyPlan, req domain.Requirements) HardGateResult {
	if len(plan.Messages) == 0 {
		return HardGateResult{Passed: false, Reason: "empty plan"}
	}
	if len(plan.Messages) > req.MaxMessages {
		return HardGateResult{Passed: false, Reason: "exceeds max_messages"}
	}
	if len(plan.Messages) > 1 && runeLen(plan.Messages[0].Content) < req.MinFirstLen {
		return HardGateResult{Passed: false, Reason: "first message below min_first_len"}
	}

	totalWords := 0
	for _, m := range plan.Messages {
		if strings.TrimSpace(m.Content) == "" {
			return HardGateResult{Passed: false, Reason: "empty segment content"}
		}
		totalWords += wordCount(m.Content)
		if hasForbiddenPattern(m.Content) {
			return HardGateResult{Passed: false, Reason: "forbidden assistant-style phrasing"}
		}
	}

	const slack = 1.25
	if req.WordBudget > 0 && float64(totalWords) > float64(req.WordBudget)*slack {
		return HardGateResult{Passed: false, Reason: "exceeds word_budget + slack"}
	}
	return HardGateResult{Passed: true}
}

func hasForbiddenPattern(content string) bool {
	lower := strings.ToLower(content)
	for _, p := range forbiddenAssistantPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// wordCount approximates word count for mixed CJK/Latin text: CJK runes
// each count as one word, Latin text is split on whitespace.
func wordCount(s string) int {
	count := 0
	inWord := false
	for _, r := range s {
		if isCJK(r) {
			count++
			inWord = false
			continue
		}
		if isSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			count++
			inWord = true
		}
	}
	return count
}

func isCJK(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FFF
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
