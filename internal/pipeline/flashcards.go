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

// flashcardPrompt is issued once per summary section. Scoping each call to a
// single topic keeps requests small and topic-coherent, bounds hallucination
// to that section's content, and makes topic grouping the loop variable
// instead of a post-hoc classification.
const flashcardPrompt = `Create at most %d flashcards strictly from the study
notes below. Use only the given notes and key terms; never add outside facts.

Output format, follow it exactly:
- One card per line: Front: <term or question> | Back: <answer or explanation>
Do not output anything outside this format.

TOPIC: %s

NOTES:
%s

KEY TERMS:
%s`

// FlashcardStage turns a Summary into a FlashcardDeck, one model call per
// section.
type FlashcardStage struct {
	provider  llm.Provider
	telemetry *telemetry.Telemetry
	logger    *log.Logger
	perTopic  int
}

// NewFlashcardStage creates the flashcard stage with a per-topic card bound.
func NewFlashcardStage(provider llm.Provider, tele *telemetry.Telemetry, logger *log.Logger, perTopic int) *FlashcardStage {
	return &FlashcardStage{provider: provider, telemetry: tele, logger: logger, perTopic: perTopic}
}

// Run generates cards for every summary section. A malformed card is skipped
// with a warning; a topic that yields zero valid cards is omitted from the
// deck rather than failing the run. The stage only fails if a model call
// fails outright.
func (f *FlashcardStage) Run(ctx context.Context, summary *Summary) (*FlashcardDeck, error) {
	if summary == nil || len(summary.Sections) == 0 {
		return nil, ErrEmptyInput
	}

	start := time.Now()
	dropped := 0
	defer func() {
		f.telemetry.RecordStageEvent(telemetry.StageEvent{
			Stage:    StageFlashcards,
			Duration: time.Since(start),
			Dropped:  dropped,
		})
	}()

	deck := &FlashcardDeck{Cards: make(map[string][]Flashcard)}
	model := f.provider.ModelFor(StageFlashcards)

	for _, section := range summary.Sections {
		prompt := fmt.Sprintf(flashcardPrompt, f.perTopic, section.Title, section.Body, formatTerms(section))
		raw, in, out, err := f.provider.CompleteWithTokens(ctx, prompt, llm.Options{Model: model})
		if err != nil {
			return nil, err
		}
		f.telemetry.RecordLLMUsage(model, in, out, f.provider.CalculateCost(in, out, model))

		cards, skipped := parseFlashcards(raw, section.Title, f.perTopic)
		dropped += skipped
		if skipped > 0 {
			f.logger.Printf("[CARDS] topic %q: skipped %d malformed card lines", section.Title, skipped)
		}
		if len(cards) == 0 {
			f.logger.Printf("[CARDS] topic %q yielded no valid cards, omitting", section.Title)
			continue
		}
		deck.Topics = append(deck.Topics, section.Title)
		deck.Cards[section.Title] = cards
	}

	return deck, nil
}

func formatTerms(section SummarySection) string {
	if len(section.TermOrder) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for _, term := range section.TermOrder {
		fmt.Fprintf(&sb, "%s: %s\n", term, section.Terms[term])
	}
	return strings.TrimRight(sb.String(), "\n")
}

// parseFlashcards recognizes "Front: ... | Back: ..." lines. Lines that do
// not carry both markers are counted as skipped.
func parseFlashcards(raw, topic string, limit int) ([]Flashcard, int) {
	var cards []Flashcard
	skipped := 0
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "Front:") {
			skipped++
			continue
		}
		front, back, found := strings.Cut(strings.TrimPrefix(line, "Front:"), "|")
		if !found {
			skipped++
			continue
		}
		back = strings.TrimSpace(back)
		if !strings.HasPrefix(back, "Back:") {
			skipped++
			continue
		}
		front = strings.TrimSpace(front)
		back = strings.TrimSpace(strings.TrimPrefix(back, "Back:"))
		if front == "" || back == "" {
			skipped++
			continue
		}
		cards = append(cards, Flashcard{Front: front, Back: back, Topic: topic})
		if len(cards) == limit {
			break
		}
	}
	return cards, skipped
}
