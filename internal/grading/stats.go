package grading

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	shortFeedbackRunes      = 20
	repetitiveFeedbackRunes = 40
)

var boilerplateFeedback = regexp.MustCompile(`(?i)(很好|不錯|需要改進|加油|可以|建議|注意|good job|well done|needs improvement|keep it up)`)

// ComputeAgentStats summarises each agent's grades against the final scores.
// Failed questions are skipped.
func ComputeAgentStats(primaryName, secondaryName string, results []QuestionResult) map[string]AgentStats {
	type accumulator struct {
		items, disagreements, empty, short, repetitive int
		absErr                                         float64
	}
	acc := map[string]*accumulator{primaryName: {}, secondaryName: {}}

	for _, r := range results {
		if r.Failed {
			continue
		}
		for _, entry := range []struct {
			name     string
			score    float64
			feedback string
		}{
			{primaryName, r.PrimaryScore, r.PrimaryFeedback},
			{secondaryName, r.SecondaryScore, r.SecondaryFeedback},
		} {
			a := acc[entry.name]
			a.items++
			a.absErr += math.Abs(entry.score - r.FinalScore)
			if r.NeededNegotiation() {
				a.disagreements++
			}

			text := strings.TrimSpace(entry.feedback)
			length := utf8.RuneCountInString(text)
			if length == 0 {
				a.empty++
			}
			if length < shortFeedbackRunes {
				a.short++
			}
			if length < repetitiveFeedbackRunes && boilerplateFeedback.MatchString(text) {
				a.repetitive++
			}
		}
	}

	stats := make(map[string]AgentStats, len(acc))
	for name, a := range acc {
		n := float64(a.items)
		if n == 0 {
			stats[name] = AgentStats{}
			continue
		}
		stats[name] = AgentStats{
			Items:                  a.items,
			MeanAbsErrorToFinal:    round2(a.absErr / n),
			DisagreementRate:       round2(float64(a.disagreements) / n),
			EmptyFeedbackRate:      round2(float64(a.empty) / n),
			ShortFeedbackRate:      round2(float64(a.short) / n),
			RepetitiveFeedbackRate: round2(float64(a.repetitive) / n),
		}
	}
	return stats
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
