package grading

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitQuestionsOnHeaders(t *testing.T) {
	exam := `Midterm
Q1 (20 points) Explain TCP.
Mention the handshake.
Question 2: What is UDP?
題目3（15分）說明 DNS
Problem 4 [5 marks] Define latency.`

	questions := SplitQuestions(exam, 100)
	require.Len(t, questions, 4)

	require.Equal(t, 1, questions[0].Number)
	require.Equal(t, 20.0, questions[0].MaxScore)
	require.Equal(t, "Q1 (20 points) Explain TCP.\nMention the handshake.", questions[0].Text)

	require.Equal(t, 2, questions[1].Number)
	require.Equal(t, DefaultSplitQuestionScore, questions[1].MaxScore)

	require.Equal(t, 3, questions[2].Number)
	require.Equal(t, 15.0, questions[2].MaxScore)

	require.Equal(t, 4, questions[3].Number)
	require.Equal(t, 5.0, questions[3].MaxScore)
}

func TestSplitQuestionsWithoutHeaders(t *testing.T) {
	questions := SplitQuestions("  Describe the OSI model.  ", 0)
	require.Equal(t, []Question{{Number: 1, Text: "Describe the OSI model.", MaxScore: DefaultMaxScore}}, questions)

	require.Empty(t, SplitQuestions("   ", 50))
}

func TestAlignAnswersByNumber(t *testing.T) {
	questions := []Question{{Number: 1}, {Number: 2}, {Number: 3}}
	answers := AlignAnswers(questions, "Q2 UDP is connectionless\nQ1 three-way handshake")

	require.Equal(t, []string{"Q1 three-way handshake", "Q2 UDP is connectionless", ""}, answers)
}

func TestBuildQuestionsSingleAnswer(t *testing.T) {
	questions, answers := BuildQuestions("What is DNS?", " It resolves names. ", 40)
	require.Len(t, questions, 1)
	require.Equal(t, 40.0, questions[0].MaxScore)
	require.Equal(t, []string{"It resolves names."}, answers)
}

func TestAuditLogIsNilSafeAndOrdered(t *testing.T) {
	var nilLog *AuditLog
	nilLog.Record(AuditEvent{Type: EventBatchStart})
	require.Nil(t, nilLog.Events())

	clock := newFakeClock()
	log := NewAuditLog(clock)
	log.Record(AuditEvent{Type: EventBatchStart})
	log.Record(AuditEvent{Type: EventBatchComplete})

	events := log.Events()
	require.Len(t, events, 2)
	require.Equal(t, 1, events[0].Seq)
	require.Equal(t, 2, events[1].Seq)
	require.Equal(t, clock.Now(), events[1].Timestamp)
}

func TestComputeAgentStats(t *testing.T) {
	results := []QuestionResult{
		{FinalScore: 8, PrimaryScore: 10, PrimaryFeedback: "", SecondaryScore: 6, SecondaryFeedback: "very good, keep it up", ConsensusRounds: 1, ReachedConsensus: true},
		{FinalScore: 5, PrimaryScore: 5, PrimaryFeedback: "a thorough and detailed explanation of the result", SecondaryScore: 5, SecondaryFeedback: "很好", DirectConsensus: true},
		{Failed: true},
	}

	stats := ComputeAgentStats("primary", "secondary", results)

	require.Equal(t, AgentStats{
		Items:               2,
		MeanAbsErrorToFinal: 1,
		DisagreementRate:    0.5,
		EmptyFeedbackRate:   0.5,
		ShortFeedbackRate:   0.5,
	}, stats["primary"])
	require.Equal(t, AgentStats{
		Items:                  2,
		MeanAbsErrorToFinal:    1,
		DisagreementRate:       0.5,
		ShortFeedbackRate:      0.5,
		RepetitiveFeedbackRate: 1,
	}, stats["secondary"])
}
