package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func quizBlock(prompt, answer string, options ...string) string {
	var sb strings.Builder
	sb.WriteString("Q: " + prompt + "\n")
	for _, o := range options {
		sb.WriteString("O: " + o + "\n")
	}
	sb.WriteString("ANSWER: " + answer + "\n")
	return sb.String()
}

func TestQuizStageKeepsValidDropsMalformed(t *testing.T) {
	raw := quizBlock("What absorbs light?", "Chlorophyll", "Chlorophyll", "Glucose", "ATP") +
		quizBlock("What does the Calvin cycle fix?", "Carbon dioxide") +
		"Q: A question with no answer marker\nO: a\nO: b\n" +
		quizBlock("Which options match twice?", "dup", "dup", "dup", "other")
	provider := &scriptedProvider{responses: []string{raw}}
	stage := NewQuizStage(provider, testTelemetry(), testLogger(), 5)

	set, err := stage.Run(context.Background(), sourceText)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(set.Questions) != 2 {
		t.Fatalf("expected 2 surviving questions, got %d", len(set.Questions))
	}
	mc := set.Questions[0]
	if !mc.MultipleChoice() || mc.AnswerIndex != 0 {
		t.Fatalf("expected multiple-choice with answer index 0, got %+v", mc)
	}
	sa := set.Questions[1]
	if sa.MultipleChoice() || sa.AnswerIndex != -1 {
		t.Fatalf("expected short-answer question, got %+v", sa)
	}
}

func TestQuizStageNoValidQuestions(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"nothing parsable at all"}}
	stage := NewQuizStage(provider, testTelemetry(), testLogger(), 5)

	if _, err := stage.Run(context.Background(), sourceText); !errors.Is(err, ErrNoValidQuestions) {
		t.Fatalf("expected ErrNoValidQuestions, got %v", err)
	}
}

func TestQuizStageEmptyInput(t *testing.T) {
	provider := &scriptedProvider{responses: []string{""}}
	stage := NewQuizStage(provider, testTelemetry(), testLogger(), 5)

	if _, err := stage.Run(context.Background(), ""); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if provider.callCount() != 0 {
		t.Fatalf("empty input must not reach the model")
	}
}

func TestParseQuizDeduplicatesPrompts(t *testing.T) {
	raw := quizBlock("What absorbs light?", "Chlorophyll") +
		quizBlock("what absorbs light?", "Something else")
	set, warnings := parseQuiz(raw)
	if len(set.Questions) != 1 {
		t.Fatalf("expected 1 question after dedupe, got %d", len(set.Questions))
	}
	if set.Questions[0].Answer != "Chlorophyll" {
		t.Fatalf("dedupe must keep the first occurrence, got %q", set.Questions[0].Answer)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", warnings)
	}
}

func TestParseQuizBlockValidation(t *testing.T) {
	cases := []struct {
		name  string
		lines []string
		ok    bool
	}{
		{"missing prompt", []string{"O: a", "O: b", "ANSWER: a"}, false},
		{"missing answer", []string{"Q: q", "O: a", "O: b"}, false},
		{"single distinct option", []string{"Q: q", "O: a", "O: A", "ANSWER: a"}, false},
		{"answer matches none", []string{"Q: q", "O: a", "O: b", "ANSWER: c"}, false},
		{"empty option", []string{"Q: q", "O: a", "O:", "ANSWER: a"}, false},
		{"valid multiple choice", []string{"Q: q", "O: a", "O: b", "ANSWER: b", "EXPLAIN: because"}, true},
		{"valid short answer", []string{"Q: q", "ANSWER: a"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := parseQuizBlock(tc.lines)
			if tc.ok && err != nil {
				t.Fatalf("expected block to parse, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected block to be rejected, got %+v", q)
			}
		})
	}
}

func TestParseQuizBlockAnswerIndexCaseInsensitive(t *testing.T) {
	q, err := parseQuizBlock([]string{"Q: q", "O: Alpha", "O: Beta", "ANSWER: beta"})
	if err != nil {
		t.Fatalf("parseQuizBlock: %v", err)
	}
	if q.AnswerIndex != 1 {
		t.Fatalf("expected answer index 1, got %d", q.AnswerIndex)
	}
	if q.Explanation != "" {
		t.Fatalf("unexpected explanation %q", q.Explanation)
	}
}
