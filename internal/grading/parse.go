package grading

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const agentReplySchema = `{
  "type": "object",
  "required": ["score"],
  "properties": {
    "score": {"type": ["number", "string"]},
    "feedback": {"type": "string"},
    "comment": {"type": "string"}
  }
}`

var replySchema = jsonschema.MustCompileString("agent_reply.schema.json", agentReplySchema)

var (
	scoreLabelPattern = regexp.MustCompile(`(?i)(?:score|grade|得分|分數)\s*[:：=]\s*(-?\d+(?:\.\d+)?)(?:\s*/\s*(\d+(?:\.\d+)?))?`)
	fractionPattern   = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*/\s*(\d+(?:\.\d+)?)`)
	pointsPattern     = regexp.MustCompile(`(?i)(-?\d+(?:\.\d+)?)\s*(?:points?|pts?)\b`)
	cjkPointsPattern  = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*分`)
	leadingNumber     = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)`)
	fencedJSON        = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
)

// ParseStrategy turns a raw reply into a result, or reports that it does not apply.
type ParseStrategy struct {
	Name  string
	Parse func(raw string, maxScore float64) (AgentResult, bool)
}

// Parser runs the strategy chain: structured, then pattern, then default.
type Parser struct {
	strategies   []ParseStrategy
	defaultRatio float64
}

// NewParser constructs the standard reply parser.
func NewParser(defaultRatio float64) *Parser {
	if defaultRatio <= 0 || defaultRatio > 1 {
		defaultRatio = DefaultScoreRatio
	}
	return &Parser{
		strategies: []ParseStrategy{
			{Name: "structured", Parse: ParseStructured},
			{Name: "pattern", Parse: ParsePattern},
		},
		defaultRatio: defaultRatio,
	}
}

// Parse always yields a result with a score inside [0, maxScore].
func (p *Parser) Parse(raw string, maxScore float64) AgentResult {
	for _, strategy := range p.strategies {
		result, ok := strategy.Parse(raw, maxScore)
		if !ok {
			continue
		}
		result.Score = ClampScore(result.Score, maxScore)
		result.Parse = strategy.Name
		return result
	}

	return AgentResult{
		Score:    DefaultScore(maxScore, p.defaultRatio),
		Feedback: strings.TrimSpace(raw),
		Parse:    "default",
	}
}

// ParseStructured reads a JSON object reply, repairing common damage first.
func ParseStructured(raw string, maxScore float64) (AgentResult, bool) {
	candidate := jsonCandidate(raw)
	if candidate == "" {
		return AgentResult{}, false
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return AgentResult{}, false
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
		return AgentResult{}, false
	}
	if err := replySchema.Validate(doc); err != nil {
		return AgentResult{}, false
	}

	fields := doc.(map[string]interface{})
	score, ok := scoreValue(fields["score"], maxScore)
	if !ok {
		return AgentResult{}, false
	}

	feedback, _ := fields["feedback"].(string)
	if strings.TrimSpace(feedback) == "" {
		feedback, _ = fields["comment"].(string)
	}

	return AgentResult{Score: score, Feedback: strings.TrimSpace(feedback)}, true
}

// ParsePattern extracts a score from free text such as "score: 8", "8 points" or "8/10".
func ParsePattern(raw string, maxScore float64) (AgentResult, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return AgentResult{}, false
	}

	if m := scoreLabelPattern.FindStringSubmatch(text); m != nil {
		if score, ok := scaledScore(m[1], m[2], maxScore); ok {
			return AgentResult{Score: score, Feedback: text}, true
		}
	}
	if m := fractionPattern.FindStringSubmatch(text); m != nil {
		if score, ok := scaledScore(m[1], m[2], maxScore); ok {
			return AgentResult{Score: score, Feedback: text}, true
		}
	}
	for _, pattern := range []*regexp.Regexp{pointsPattern, cjkPointsPattern} {
		if m := pattern.FindStringSubmatch(text); m != nil {
			if score, ok := scaledScore(m[1], "", maxScore); ok {
				return AgentResult{Score: score, Feedback: text}, true
			}
		}
	}

	return AgentResult{}, false
}

// ClampScore forces score into [0, maxScore]; non-finite values become 0.
func ClampScore(score, maxScore float64) float64 {
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
		return 0
	}
	if maxScore > 0 && score > maxScore {
		return maxScore
	}
	return score
}

// DefaultScore is the score assigned to replies no strategy could read.
func DefaultScore(maxScore, ratio float64) float64 {
	if maxScore <= 0 {
		return 0
	}
	return math.Floor(maxScore * ratio)
}

// RoundHalfUp rounds to the nearest integer, halves away from zero for positive input.
func RoundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}

func jsonCandidate(raw string) string {
	text := strings.TrimSpace(raw)
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(text, "}")
	if end <= start {
		// Truncated object; let the repair step close it.
		return text[start:]
	}
	return text[start : end+1]
}

func scoreValue(value interface{}, maxScore float64) (float64, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case string:
		if m := fractionPattern.FindStringSubmatch(v); m != nil {
			return scaledScore(m[1], m[2], maxScore)
		}
		if m := leadingNumber.FindStringSubmatch(v); m != nil {
			return scaledScore(m[1], "", maxScore)
		}
	}
	return 0, false
}

func scaledScore(numerator, denominator string, maxScore float64) (float64, bool) {
	num, err := strconv.ParseFloat(numerator, 64)
	if err != nil || math.IsNaN(num) || math.IsInf(num, 0) {
		return 0, false
	}
	if denominator == "" {
		return num, true
	}

	den, err := strconv.ParseFloat(denominator, 64)
	if err != nil || den <= 0 {
		return num, true
	}
	if maxScore <= 0 || den == maxScore {
		return num, true
	}
	return num / den * maxScore, true
}
