package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/studyforge/studyforge/internal/llm"
	"github.com/studyforge/studyforge/internal/telemetry"
)

// quizPrompt embeds the answer-marker protocol. The explicit ANSWER: marker
// is what lets the parser find the correct answer without guessing from
// surrounding prose.
const quizPrompt = `Generate exactly %d quiz questions from the study text
below, mixing multiple-choice and short-answer questions. Use only facts
stated in the text.

Output format, follow it exactly for every question:
- Each question starts on its own line: Q: <question>
- For multiple-choice questions, list each candidate on its own line: O: <option>
  (at least two distinct options; exactly one of them is correct)
- The correct answer follows on its own line: ANSWER: <answer>
  For multiple-choice, repeat the correct option text verbatim.
- Optionally add one line: EXPLAIN: <short explanation>
Do not output anything outside this format.

TEXT:
%s`

// QuizStage turns raw extracted text into a QuizSet. It works from the raw
// text rather than the summary so a bad summary cannot poison the quiz.
type QuizStage struct {
	provider  llm.Provider
	telemetry *telemetry.Telemetry
	logger    *log.Logger
	questions int
}

// NewQuizStage creates the quiz stage with a target question count.
func NewQuizStage(provider llm.Provider, tele *telemetry.Telemetry, logger *log.Logger, questions int) *QuizStage {
	return &QuizStage{provider: provider, telemetry: tele, logger: logger, questions: questions}
}

// Run generates the quiz. Malformed question blocks are dropped with a
// warning; the stage only fails if no block at all survives validation.
func (q *QuizStage) Run(ctx context.Context, rawText string) (*QuizSet, error) {
	if strings.TrimSpace(rawText) == "" {
		return nil, ErrEmptyInput
	}

	start := time.Now()
	dropped := 0
	defer func() {
		q.telemetry.RecordStageEvent(telemetry.StageEvent{
			Stage:    StageQuiz,
			Duration: time.Since(start),
			Dropped:  dropped,
		})
	}()

	model := q.provider.ModelFor(StageQuiz)
	raw, in, out, err := q.provider.CompleteWithTokens(ctx, fmt.Sprintf(quizPrompt, q.questions, rawText), llm.Options{Model: model})
	if err != nil {
		return nil, err
	}
	q.telemetry.RecordLLMUsage(model, in, out, q.provider.CalculateCost(in, out, model))

	set, warnings := parseQuiz(raw)
	dropped = len(warnings)
	for _, w := range warnings {
		q.logger.Printf("[QUIZ] dropping block: %s", w)
	}
	if len(set.Questions) == 0 {
		return nil, ErrNoValidQuestions
	}
	return set, nil
}

// parseQuiz splits the response into per-question blocks on the "Q:" marker
// and validates each block independently. It returns the surviving questions
// and one warning per dropped block.
func parseQuiz(raw string) (*QuizSet, []string) {
	var blocks [][]string
	var current []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "Q:") {
			if current != nil {
				blocks = append(blocks, current)
			}
			current = []string{line}
			continue
		}
		if current != nil {
			current = append(current, line)
		}
	}
	if current != nil {
		blocks = append(blocks, current)
	}

	var (
		set      QuizSet
		warnings []string
		seen     = make(map[string]struct{})
	)
	for _, block := range blocks {
		question, err := parseQuizBlock(block)
		if err != nil {
			warnings = append(warnings, err.Error())
			continue
		}
		key := strings.ToLower(question.Prompt)
		if _, dup := seen[key]; dup {
			warnings = append(warnings, fmt.Sprintf("duplicate prompt %q", question.Prompt))
			continue
		}
		seen[key] = struct{}{}
		set.Questions = append(set.Questions, question)
	}
	return &set, warnings
}

func parseQuizBlock(lines []string) (QuizQuestion, error) {
	question := QuizQuestion{AnswerIndex: -1}
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "Q:"):
			question.Prompt = strings.TrimSpace(strings.TrimPrefix(line, "Q:"))
		case strings.HasPrefix(line, "O:"):
			question.Options = append(question.Options, strings.TrimSpace(strings.TrimPrefix(line, "O:")))
		case strings.HasPrefix(line, "ANSWER:"):
			question.Answer = strings.TrimSpace(strings.TrimPrefix(line, "ANSWER:"))
		case strings.HasPrefix(line, "EXPLAIN:"):
			question.Explanation = strings.TrimSpace(strings.TrimPrefix(line, "EXPLAIN:"))
		}
	}

	if question.Prompt == "" {
		return QuizQuestion{}, fmt.Errorf("block without question text")
	}
	if question.Answer == "" {
		return QuizQuestion{}, fmt.Errorf("block %q missing answer marker", question.Prompt)
	}
	if len(question.Options) == 0 {
		return question, nil // short-answer
	}

	// Multiple-choice: at least two distinct options and exactly one match.
	distinct := make(map[string]struct{}, len(question.Options))
	matches := 0
	for i, opt := range question.Options {
		if opt == "" {
			return QuizQuestion{}, fmt.Errorf("block %q has an empty option", question.Prompt)
		}
		distinct[strings.ToLower(opt)] = struct{}{}
		if strings.EqualFold(opt, question.Answer) {
			matches++
			question.AnswerIndex = i
		}
	}
	if len(distinct) < 2 {
		return QuizQuestion{}, fmt.Errorf("block %q needs at least two distinct options", question.Prompt)
	}
	if matches != 1 {
		return QuizQuestion{}, fmt.Errorf("block %q answer matches %d options, want exactly 1", question.Prompt, matches)
	}
	return question, nil
}
