package grading

import (
	"regexp"
	"strconv"
	"strings"
)

// DefaultSplitQuestionScore is the weight of a split question without an explicit score.
const DefaultSplitQuestionScore = 10.0

var (
	questionHeader = regexp.MustCompile(`(?i)^\s*(?:Q|題目|Question|Problem)\s*(\d+)`)
	headerScore    = regexp.MustCompile(`(?i)[(（\[]\s*(\d+(?:\.\d+)?)\s*(?:分|points?|pts?|marks?)\s*[)）\]]`)
)

// SplitQuestions splits exam text on question headers such as "Q1", "Question 2",
// "題目3" or "Problem 4". Text without headers becomes one question worth
// singleMaxScore.
func SplitQuestions(text string, singleMaxScore float64) []Question {
	if singleMaxScore <= 0 {
		singleMaxScore = DefaultMaxScore
	}

	sections := splitSections(text)
	if len(sections) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []Question{{Number: 1, Text: trimmed, MaxScore: singleMaxScore}}
	}

	questions := make([]Question, 0, len(sections))
	for _, s := range sections {
		maxScore := DefaultSplitQuestionScore
		if m := headerScore.FindStringSubmatch(s.header); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 {
				maxScore = v
			}
		}
		questions = append(questions, Question{Number: s.number, Text: s.text, MaxScore: maxScore})
	}
	return questions
}

// AlignAnswers splits answer text the same way and returns one answer per
// question, matched by question number. Unmatched questions get an empty answer.
func AlignAnswers(questions []Question, answerText string) []string {
	answers := make([]string, len(questions))

	sections := splitSections(answerText)
	if len(sections) == 0 {
		if len(answers) == 1 {
			answers[0] = strings.TrimSpace(answerText)
		}
		return answers
	}

	byNumber := make(map[int]string, len(sections))
	for _, s := range sections {
		if _, exists := byNumber[s.number]; !exists {
			byNumber[s.number] = s.text
		}
	}
	for i, q := range questions {
		answers[i] = byNumber[questionNumber(q, i)]
	}
	return answers
}

type section struct {
	number int
	header string
	text   string
}

func splitSections(text string) []section {
	var (
		sections []section
		current  *section
		lines    []string
	)

	flush := func() {
		if current == nil {
			return
		}
		current.text = strings.TrimSpace(strings.Join(lines, "\n"))
		sections = append(sections, *current)
	}

	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if m := questionHeader.FindStringSubmatch(line); m != nil {
			flush()
			number, _ := strconv.Atoi(m[1])
			current = &section{number: number, header: line}
			lines = []string{line}
			continue
		}
		if current != nil {
			lines = append(lines, line)
		}
	}
	flush()
	return sections
}

func questionNumber(q Question, index int) int {
	if q.Number > 0 {
		return q.Number
	}
	return index + 1
}
