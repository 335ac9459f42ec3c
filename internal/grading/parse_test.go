package grading

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParserStructuredReply(t *testing.T) {
	parser := NewParser(DefaultScoreRatio)

	result := parser.Parse(`{"score": 85, "feedback": "clear and correct"}`, 100)
	require.Equal(t, 85.0, result.Score)
	require.Equal(t, "clear and correct", result.Feedback)
	require.Equal(t, "structured", result.Parse)
}

func TestParserRepairsFencedAndBrokenJSON(t *testing.T) {
	parser := NewParser(DefaultScoreRatio)

	result := parser.Parse("Here you go:\n```json\n{'score': '7', 'comment': 'missing units',}\n```", 10)
	require.Equal(t, "structured", result.Parse)
	require.Equal(t, 7.0, result.Score)
	require.Equal(t, "missing units", result.Feedback)
}

func TestParserScalesFractionScore(t *testing.T) {
	result, ok := ParseStructured(`{"score": "8/10", "feedback": "good"}`, 100)
	require.True(t, ok)
	require.InDelta(t, 80.0, result.Score, 1e-9)
}

func TestParserPatternFallback(t *testing.T) {
	parser := NewParser(DefaultScoreRatio)

	cases := []struct {
		name string
		raw  string
		max  float64
		want float64
	}{
		{"label", "Score: 7. The proof skips a step.", 10, 7},
		{"points", "I would award 6 points for this answer.", 10, 6},
		{"fraction", "Overall 45/50, well argued.", 50, 45},
		{"scaled fraction", "Overall 4/5.", 10, 8},
		{"cjk", "得分：8 分，論述清楚", 10, 8},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := parser.Parse(tc.raw, tc.max)
			require.Equal(t, "pattern", result.Parse)
			require.InDelta(t, tc.want, result.Score, 1e-9)
			require.Equal(t, tc.raw, result.Feedback)
		})
	}
}

func TestParserDefaultsWhenUnreadable(t *testing.T) {
	parser := NewParser(DefaultScoreRatio)

	result := parser.Parse("The answer is thoughtful but I cannot decide.", 15)
	require.Equal(t, "default", result.Parse)
	require.Equal(t, 9.0, result.Score)
	require.Equal(t, "The answer is thoughtful but I cannot decide.", result.Feedback)
}

func TestParserClampsOutOfRangeScores(t *testing.T) {
	parser := NewParser(DefaultScoreRatio)

	require.Equal(t, 10.0, parser.Parse(`{"score": 12, "feedback": "x"}`, 10).Score)
	require.Equal(t, 0.0, parser.Parse(`{"score": -3, "feedback": "x"}`, 10).Score)
}

func TestClampScore(t *testing.T) {
	require.Equal(t, 0.0, ClampScore(math.NaN(), 10))
	require.Equal(t, 0.0, ClampScore(math.Inf(1), 10))
	require.Equal(t, 10.0, ClampScore(11, 10))
	require.Equal(t, 4.5, ClampScore(4.5, 10))
}

func TestRoundHalfUp(t *testing.T) {
	require.Equal(t, 84.0, RoundHalfUp(84))
	require.Equal(t, 85.0, RoundHalfUp(84.5))
	require.Equal(t, 84.0, RoundHalfUp(84.49))
	require.Equal(t, 1.0, RoundHalfUp(0.5))
}
