package grading

import (
	"math"
	"strings"
	"unicode"
)

// LexicalWeights blends the three fallback similarity signals.
type LexicalWeights struct {
	Jaccard  float64
	Coverage float64
	Order    float64
}

// DefaultLexicalWeights returns 0.5 Jaccard, 0.3 coverage and 0.2 order.
func DefaultLexicalWeights() LexicalWeights {
	return LexicalWeights{Jaccard: 0.5, Coverage: 0.3, Order: 0.2}
}

var englishStopwords = toSet(strings.Fields(`a an the and or but if then else of to in on at by for with from as is are was were be been
being it its this that these those there here he she they them we you i me my your our their his her not no
do does did so than too very can could should would will just also into over under about which who whom what
when where why how all any each some such only own same more most other both few`))

var cjkStopwords = toSet([]string{
	"的", "了", "是", "在", "和", "與", "及", "或", "也", "就", "都", "而", "但", "這", "那", "有", "為", "以", "之", "其",
	"我", "你", "他", "她", "它", "們", "吧", "呢", "嗎", "啊",
})

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// Keywords returns the ordered keyword sequence of text: lowercased, stopwords
// removed, CJK runs split into bigrams and single-rune tokens dropped.
func Keywords(text string) []string {
	var (
		keywords []string
		word     []rune
		cjkRun   []rune
	)

	flushWord := func() {
		if len(word) > 1 {
			token := string(word)
			if _, stop := englishStopwords[token]; !stop {
				keywords = append(keywords, token)
			}
		}
		word = word[:0]
	}
	flushCJK := func() {
		filtered := cjkRun[:0]
		for _, r := range cjkRun {
			if _, stop := cjkStopwords[string(r)]; !stop {
				filtered = append(filtered, r)
			}
		}
		for i := 0; i+1 < len(filtered); i++ {
			keywords = append(keywords, string(filtered[i:i+2]))
		}
		cjkRun = cjkRun[:0]
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case isCJK(r):
			flushWord()
			cjkRun = append(cjkRun, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()
	return keywords
}

// LexicalSimilarity scores two texts without any remote call.
func LexicalSimilarity(a, b string, weights LexicalWeights) float64 {
	if a == b {
		return 1
	}

	ka := uniqueInOrder(Keywords(a))
	kb := uniqueInOrder(Keywords(b))
	if len(ka) == 0 && len(kb) == 0 {
		if normalizeText(a) == normalizeText(b) {
			return 1
		}
		return 0
	}
	if len(ka) == 0 || len(kb) == 0 {
		return 0
	}

	setA := toSet(ka)
	setB := toSet(kb)
	shared := 0
	for k := range setA {
		if _, ok := setB[k]; ok {
			shared++
		}
	}

	union := len(setA) + len(setB) - shared
	jaccard := float64(shared) / float64(union)
	coverage := math.Max(float64(shared)/float64(len(setA)), float64(shared)/float64(len(setB)))

	prefix := 0
	for prefix < len(ka) && prefix < len(kb) && ka[prefix] == kb[prefix] {
		prefix++
	}
	order := float64(prefix) / math.Max(float64(len(ka)), float64(len(kb)))

	total := weights.Jaccard + weights.Coverage + weights.Order
	if total <= 0 {
		weights = DefaultLexicalWeights()
		total = 1
	}
	score := (weights.Jaccard*jaccard + weights.Coverage*coverage + weights.Order*order) / total
	return clampUnit(score)
}

func uniqueInOrder(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
