// Package rules holds the deterministic, non-LLM parts of the core: the
// lexical emotion analyzer that seeds domain.EmotionSignal for Detection
// and the mood engine, and the hard-gate rule checks the search engine runs
// before ever calling the judge role.
package rules

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"turncore/internal/domain"
)

type pad struct{ P, A, D float64 }

var coreEmotions = []string{
	"neutral", "joy", "surprise", "sadness", "fear", "anger", "disgust",
}

var padMap = map[string]pad{
	"neutral":        {P: 0.00, A: 0.05, D: 0.00},
	"joy":            {P: 0.70, A: 0.55, D: 0.20},
	"surprise":       {P: 0.10, A: 0.75, D: -0.05},
	"sadness":        {P: -0.65, A: -0.15, D: -0.35},
	"fear":           {P: -0.70, A: 0.70, D: -0.60},
	"anger":          {P: -0.60, A: 0.75, D: 0.25},
	"disgust":        {P: -0.55, A: 0.35, D: 0.10},
	"calm":           {P: 0.20, A: -0.35, D: 0.15},
	"relief":         {P: 0.50, A: -0.20, D: 0.30},
	"gratitude":      {P: 0.60, A: 0.20, D: 0.35},
	"excitement":     {P: 0.78, A: 0.82, D: 0.30},
	"anxiety":        {P: -0.62, A: 0.72, D: -0.48},
	"frustration":    {P: -0.52, A: 0.58, D: -0.08},
	"disappointment": {P: -0.58, A: -0.08, D: -0.28},
	"boredom":        {P: -0.20, A: -0.45, D: -0.15},
	"hope":           {P: 0.45, A: 0.35, D: 0.25},
	"pride":          {P: 0.65, A: 0.45, D: 0.55},
	"guilt":          {P: -0.45, A: 0.15, D: -0.45},
	"embarrassment":  {P: -0.28, A: 0.48, D: -0.38},
	"confusion":      {P: -0.10, A: 0.30, D: -0.20},
	"resignation":    {P: -0.30, A: -0.20, D: -0.40},
}

func Labels() []string {
	labels := make([]string, 0, len(padMap))
	for k := range padMap {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	return labels
}

var labelAliases = map[string]string{
	"happy": "joy", "happiness": "joy", "love": "joy",
	"surprised": "surprise", "sad": "sadness", "scared": "fear",
	"anxious": "anxiety", "angry": "anger", "frustrated": "frustration",
	"disappointed": "disappointment", "hopeful": "hope", "proud": "pride",
	"guilty": "guilt", "embarrassed": "embarrassment", "confused": "confusion",
	"resigned": "resignation",
	"平静":       "calm", "无聊": "boredom", "开心": "joy", "高兴": "joy",
	"兴奋": "excitement", "释然": "relief", "感激": "gratitude", "惊讶": "surprise",
	"难过": "sadness", "沮丧": "disappointment", "失望": "disappointment",
	"害怕": "fear", "恐惧": "fear", "焦虑": "anxiety", "生气": "anger", "愤怒": "anger",
	"挫败": "frustration", "烦躁": "frustration", "厌恶": "disgust", "希望": "hope",
	"盼望": "hope", "自豪": "pride", "骄傲": "pride", "内疚": "guilt", "愧疚": "guilt",
	"尴尬": "embarrassment", "社死": "embarrassment", "困惑": "confusion", "懵": "confusion",
	"算了": "resignation", "认了": "resignation",
}

var emotionHints = []struct {
	emotion string
	hints   []string
}{
	{emotion: "disgust", hints: []string{"反胃", "恶心", "卫生太差", "太脏", "臭烘烘", "disgusting", "gross"}},
	{emotion: "surprise", hints: []string{"惊讶", "没想到", "居然", "竟然", "surprised", "unexpected"}},
	{emotion: "calm", hints: []string{"平静", "平平淡淡", "还行", "一般", "没事", "普通", "calm"}},
	{emotion: "boredom", hints: []string{"无聊", "提不起劲", "没意思", "发呆", "boring"}},
	{emotion: "joy", hints: []string{"开心", "高兴", "轻快", "太好了", "顺利", "joyful"}},
	{emotion: "gratitude", hints: []string{"感谢", "谢谢", "感激", "被认可", "appreciate", "grateful"}},
	{emotion: "relief", hints: []string{"松了一口气", "终于", "还清", "解脱", "relieved"}},
	{emotion: "excitement", hints: []string{"太棒了", "激动", "兴奋", "抢到", "excited"}},
	{emotion: "anxiety", hints: []string{"慌", "紧张", "不敢", "担心", "焦虑", "anxious", "worried"}},
	{emotion: "disappointment", hints: []string{"失望", "发挥失常", "落空", "disappointed"}},
	{emotion: "frustration", hints: []string{"无语", "烦", "加班", "被批评", "批评", "frustrated"}},
	{emotion: "hope", hints: []string{"希望", "盼着", "但愿", "hope"}},
	{emotion: "pride", hints: []string{"自豪", "骄傲", "拿奖", "表扬", "proud"}},
	{emotion: "guilt", hints: []string{"内疚", "愧疚", "自责", "对不起", "抱歉", "guilty"}},
	{emotion: "embarrassment", hints: []string{"尴尬", "社死", "丢脸", "embarrassed"}},
	{emotion: "confusion", hints: []string{"困惑", "迷糊", "搞不明白", "没搞懂", "confused"}},
	{emotion: "resignation", hints: []string{"算了", "认了", "resigned"}},
	{emotion: "anger", hints: []string{"混蛋", "滚", "闭嘴", "气死", "angry"}},
}

func coarseOf(emotion string) string {
	switch emotion {
	case "calm", "boredom", "confusion":
		return "neutral"
	case "relief", "gratitude", "excitement", "hope", "pride":
		return "joy"
	case "anxiety":
		return "fear"
	case "frustration":
		return "anger"
	case "disappointment", "guilt", "embarrassment", "resignation":
		return "sadness"
	default:
		return emotion
	}
}

func normalizeLabel(label string) string {
	key := strings.TrimSpace(strings.ToLower(label))
	if key == "" {
		return ""
	}
	if _, ok := padMap[key]; ok {
		return key
	}
	if aliased, ok := labelAliases[key]; ok {
		return aliased
	}
	return ""
}

func containsAny(text string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(text, strings.ToLower(h)) {
			return true
		}
	}
	return false
}

func fineScores(text string) map[string]float64 {
	scores := make(map[string]float64, len(padMap))
	for k := range padMap {
		scores[k] = 0
	}
	for _, item := range emotionHints {
		for _, h := range item.hints {
			if strings.Contains(text, strings.ToLower(h)) {
				weight := 1.0 + math.Min(float64(utf8.RuneCountInString(h))/10.0, 1.0)
				scores[item.emotion] += weight
			}
		}
	}
	if strings.Contains(text, "!") || strings.Contains(text, "！") {
		scores["excitement"] += 0.6
		scores["anger"] += 0.2
		scores["surprise"] += 0.2
	}
	if strings.Contains(text, "?") || strings.Contains(text, "？") {
		scores["confusion"] += 0.5
		scores["surprise"] += 0.2
		scores["anxiety"] += 0.2
	}
	return scores
}

func coarseScoresFromFine(scores map[string]float64) map[string]float64 {
	out := map[string]float64{"neutral": 0, "joy": 0, "surprise": 0, "sadness": 0, "fear": 0, "anger": 0, "disgust": 0}
	for emo, s := range scores {
		out[coarseOf(emo)] += s
	}
	return out
}

func topLabel(scores map[string]float64, labels []string) string {
	top := labels[0]
	topScore := scores[top]
	for _, k := range labels[1:] {
		if scores[k] > topScore {
			top, topScore = k, scores[k]
		}
	}
	return top
}

func totalScore(scores map[string]float64) float64 {
	total := 0.0
	for _, v := range scores {
		total += v
	}
	return total
}

func inferCoarseEmotion(scores map[string]float64) (string, float64) {
	coarseScores := coarseScoresFromFine(scores)
	total := totalScore(coarseScores)
	if total <= 1e-9 {
		coarseScores["neutral"] = 1.0
		total = 1.0
	}
	base := topLabel(coarseScores, coreEmotions)
	ratio := coarseScores[base] / total
	evidence := math.Min(1.0, total/3.0)
	conf := clamp(0.52+0.33*ratio+0.15*evidence, 0.55, 0.995)
	if base == "neutral" && total <= 1.01 {
		conf = 0.58
	}
	return base, conf
}

func refineEmotion(text, baseEmotion string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return baseEmotion
	}
	for _, item := range emotionHints {
		if containsAny(t, item.hints) {
			return item.emotion
		}
	}
	switch {
	case baseEmotion == "fear":
		return "anxiety"
	case baseEmotion == "sadness":
		return "disappointment"
	case baseEmotion == "anger" && (strings.Contains(t, "?") || strings.Contains(t, "？")):
		return "frustration"
	case baseEmotion == "joy" && (strings.Contains(t, "!") || strings.Contains(t, "！")):
		return "excitement"
	default:
		return baseEmotion
	}
}

// AnalyzeEmotion is the fast, non-LLM heuristic reading of a piece of text,
// used to seed Detection's user_emotion field and the mood engine's shock
// input whenever the fast role call itself fails or is skipped.
func AnalyzeEmotion(text string) domain.EmotionSignal {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return ConvertEmotion("neutral", 0.58)
	}
	scores := fineScores(t)
	baseEmotion, conf := inferCoarseEmotion(scores)
	refined := refineEmotion(t, baseEmotion)
	return ConvertEmotion(refined, conf)
}

// ConvertEmotion maps a label/confidence pair onto its PAD coordinates.
func ConvertEmotion(emotion string, confidence float64) domain.EmotionSignal {
	key := normalizeLabel(emotion)
	if key == "" {
		key = "neutral"
	}
	p := padMap[key]
	conf := clamp(confidence, 0, 1)
	return domain.EmotionSignal{
		Emotion:    key,
		P:          round(p.P, 3),
		A:          round(p.A, 3),
		D:          round(p.D, 3),
		Intensity:  round(conf, 6),
		Confidence: round(conf, 6),
	}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func round(v float64, precision int) float64 {
	p := math.Pow10(precision)
	return math.Round(v*p) / p
}
