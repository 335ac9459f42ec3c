package safety

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/gema-grader/pkg/ai"
)

// Confidence levels reported with a verdict.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Verdict is the outcome of a security pre-check.
type Verdict struct {
	IsAttack   bool   `json:"is_attack"`
	Reason     string `json:"reason"`
	Confidence string `json:"confidence"`
}

// Completer sends a prompt to a classifier model and returns the raw reply.
type Completer interface {
	Complete(ctx context.Context, req ai.GenerateRequest) (string, string, error)
}

// Checker classifies student input as a prompt-injection attempt or a genuine answer.
type Checker struct {
	completer Completer
	logger    zerolog.Logger
}

// NewChecker builds a checker around a classifier model.
func NewChecker(completer Completer, logger zerolog.Logger) *Checker {
	return &Checker{completer: completer, logger: logger.With().Str("component", "safety").Logger()}
}

var tracer = otel.Tracer("github.com/noah-isme/gema-grader/internal/safety")

// Check never blocks grading on its own failure: errors yield a safe verdict
// with the error in the reason.
func (c *Checker) Check(ctx context.Context, question, answer string) Verdict {
	if strings.TrimSpace(answer) == "" {
		return Verdict{IsAttack: false, Reason: "empty answer", Confidence: ConfidenceHigh}
	}

	ctx, span := tracer.Start(ctx, "safety.check")
	defer span.End()

	if c.completer == nil {
		return Verdict{Reason: "security check unavailable: no classifier configured", Confidence: ConfidenceLow}
	}

	raw, _, err := c.completer.Complete(ctx, ai.GenerateRequest{
		System: classifierSystemPrompt,
		Prompt: buildCheckPrompt(question, answer),
		JSON:   true,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn().Err(err).Msg("security check failed open")
		return Verdict{Reason: "security check unavailable: " + err.Error(), Confidence: ConfidenceLow}
	}

	verdict := ParseVerdict(raw)
	span.SetAttributes(attribute.Bool("is_attack", verdict.IsAttack), attribute.String("confidence", verdict.Confidence))
	if verdict.IsAttack {
		c.logger.Warn().Str("reason", verdict.Reason).Str("confidence", verdict.Confidence).Msg("suspicious answer detected")
	}
	return verdict
}

type verdictReply struct {
	IsAttack   *bool  `json:"is_attack"`
	Reason     string `json:"reason"`
	Confidence string `json:"confidence"`
}

// ParseVerdict reads a JSON verdict, or a reply prefixed with ATTACK:/SAFE:
// (攻擊行為/沒有攻擊行為). Unreadable replies are treated as safe with low confidence.
func ParseVerdict(raw string) Verdict {
	text := strings.TrimSpace(raw)

	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		if repaired, err := jsonrepair.JSONRepair(text[start : end+1]); err == nil {
			var reply verdictReply
			if err := json.Unmarshal([]byte(repaired), &reply); err == nil && reply.IsAttack != nil {
				return Verdict{
					IsAttack:   *reply.IsAttack,
					Reason:     strings.TrimSpace(reply.Reason),
					Confidence: normalizeConfidence(reply.Confidence),
				}
			}
		}
	}

	upper := strings.ToUpper(text)
	switch {
	// 沒有攻擊行為 contains 攻擊行為, so the negative form is checked first.
	case strings.HasPrefix(text, "沒有攻擊行為"):
		return Verdict{IsAttack: false, Reason: reasonAfterPrefix(text, "沒有攻擊行為"), Confidence: ConfidenceMedium}
	case strings.HasPrefix(text, "攻擊行為"):
		return Verdict{IsAttack: true, Reason: reasonAfterPrefix(text, "攻擊行為"), Confidence: ConfidenceMedium}
	case strings.HasPrefix(upper, "ATTACK"):
		return Verdict{IsAttack: true, Reason: reasonAfterPrefix(text, text[:len("ATTACK")]), Confidence: ConfidenceMedium}
	case strings.HasPrefix(upper, "SAFE"):
		return Verdict{IsAttack: false, Reason: reasonAfterPrefix(text, text[:len("SAFE")]), Confidence: ConfidenceMedium}
	}

	return Verdict{IsAttack: false, Reason: "unrecognised classifier reply: " + text, Confidence: ConfidenceLow}
}

func reasonAfterPrefix(text, prefix string) string {
	rest := strings.TrimPrefix(text, prefix)
	rest = strings.TrimLeft(rest, " :：-")
	return strings.TrimSpace(rest)
}

func normalizeConfidence(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceLow:
		return ConfidenceLow
	default:
		return ConfidenceMedium
	}
}
