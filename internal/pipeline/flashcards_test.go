package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/studyforge/studyforge/internal/llm"
)

func testSummary() *Summary {
	return &Summary{Sections: []SummarySection{
		{
			Title:     "Photosynthesis",
			Body:      "Plants turn light energy into chemical energy.",
			Terms:     map[string]string{"Chlorophyll": "pigment that absorbs light"},
			TermOrder: []string{"Chlorophyll"},
		},
		{
			Title: "Light Reactions",
			Body:  "The light reactions produce ATP.",
		},
	}}
}

func TestFlashcardStageBuildsDeck(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		"Front: Chlorophyll | Back: pigment that absorbs light\n" +
			"Front: What do plants produce? | Back: chemical energy\n",
		"Front: What do light reactions produce? | Back: ATP\n",
	}}
	stage := NewFlashcardStage(provider, testTelemetry(), testLogger(), 5)

	deck, err := stage.Run(context.Background(), testSummary())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(deck.Topics) != 2 {
		t.Fatalf("expected 2 topics, got %v", deck.Topics)
	}
	if deck.Topics[0] != "Photosynthesis" || deck.Topics[1] != "Light Reactions" {
		t.Fatalf("topics must mirror summary section titles, got %v", deck.Topics)
	}
	if len(deck.Cards["Photosynthesis"]) != 2 {
		t.Fatalf("expected 2 cards for first topic, got %d", len(deck.Cards["Photosynthesis"]))
	}
	card := deck.Cards["Light Reactions"][0]
	if card.Topic != "Light Reactions" || card.Back != "ATP" {
		t.Fatalf("unexpected card %+v", card)
	}
	if provider.callCount() != 2 {
		t.Fatalf("expected one model call per section, got %d", provider.callCount())
	}
}

func TestFlashcardStageOmitsTopicWithNoValidCards(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		"none of these lines are cards\nat all",
		"Front: What do light reactions produce? | Back: ATP\n",
	}}
	stage := NewFlashcardStage(provider, testTelemetry(), testLogger(), 5)

	deck, err := stage.Run(context.Background(), testSummary())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(deck.Topics) != 1 || deck.Topics[0] != "Light Reactions" {
		t.Fatalf("topic without valid cards must be omitted, got %v", deck.Topics)
	}
}

func TestFlashcardStageModelError(t *testing.T) {
	provider := &scriptedProvider{errs: []error{llm.ErrModelUnavailable}}
	stage := NewFlashcardStage(provider, testTelemetry(), testLogger(), 5)

	if _, err := stage.Run(context.Background(), testSummary()); !errors.Is(err, llm.ErrModelUnavailable) {
		t.Fatalf("expected model error to surface, got %v", err)
	}
}

func TestFlashcardStageEmptySummary(t *testing.T) {
	provider := &scriptedProvider{responses: []string{""}}
	stage := NewFlashcardStage(provider, testTelemetry(), testLogger(), 5)

	if _, err := stage.Run(context.Background(), &Summary{}); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestParseFlashcardsSkipsMalformedAndCaps(t *testing.T) {
	raw := "Front: a | Back: 1\n" +
		"Front: missing separator Back: nope\n" +
		"not a card line\n" +
		"Front: | Back: empty front\n" +
		"Front: b | Back: 2\n" +
		"Front: c | Back: 3\n"
	cards, skipped := parseFlashcards(raw, "T", 2)
	if len(cards) != 2 {
		t.Fatalf("expected cap at 2 cards, got %d", len(cards))
	}
	if skipped != 3 {
		t.Fatalf("expected 3 skipped lines, got %d", skipped)
	}
	if cards[0].Front != "a" || cards[1].Front != "b" {
		t.Fatalf("unexpected cards %+v", cards)
	}
}
