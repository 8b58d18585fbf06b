package pipeline

import (
	"context"
	"time"
)

// Document is an opaque handle to an uploaded study source. It is consumed
// exactly once by the extractor and then discarded; only derived artifacts
// survive a run.
type Document struct {
	Name        string
	Path        string
	Data        []byte
	ContentType string
}

// Extractor turns a document into raw text. Any failure to yield text
// (corrupt file, scanned-image-only PDF, encrypted document) must wrap
// ErrUnreadableDocument.
type Extractor interface {
	Extract(ctx context.Context, doc Document) (string, error)
}

// SummarySection is one topic-segmented chunk of the summary. Terms maps a
// highlighted key term (or formula) to its short definition; every term is
// checked against the source text before it is kept.
type SummarySection struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Terms map[string]string `json:"terms,omitempty"`
	// TermOrder preserves the order terms appeared in the model output so
	// repeated runs against a fixed model render identically.
	TermOrder []string `json:"term_order,omitempty"`
}

// Summary is the ordered, topic-segmented digest of the source text.
type Summary struct {
	Sections []SummarySection `json:"sections"`
}

// Titles returns the section titles in order.
func (s Summary) Titles() []string {
	out := make([]string, 0, len(s.Sections))
	for _, sec := range s.Sections {
		out = append(out, sec.Title)
	}
	return out
}

// QuizQuestion is a single generated question. Options is empty for
// short-answer questions; for multiple-choice, Answer matches exactly one
// entry in Options and len(Options) >= 2.
type QuizQuestion struct {
	Prompt      string   `json:"prompt"`
	Options     []string `json:"options,omitempty"`
	Answer      string   `json:"answer"`
	AnswerIndex int      `json:"answer_index"` // -1 for short-answer
	Explanation string   `json:"explanation,omitempty"`
}

// MultipleChoice reports whether the question carries candidate answers.
func (q QuizQuestion) MultipleChoice() bool { return len(q.Options) > 0 }

// QuizSet is an ordered sequence of questions with unique prompts.
type QuizSet struct {
	Questions []QuizQuestion `json:"questions"`
}

// Flashcard is a front/back study card tagged with the topic it came from.
type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
	Topic string `json:"topic"`
}

// FlashcardDeck groups cards by topic, preserving topic order and insertion
// order within a topic. Topics are always summary section titles.
type FlashcardDeck struct {
	Topics []string               `json:"topics"`
	Cards  map[string][]Flashcard `json:"cards"`
}

// StudyBundle is the terminal aggregate of one pipeline run. It is handed to
// the caller only once construction finished (or the run was cancelled / a
// stage failed, in which case Incomplete is set and absent artifacts are nil).
type StudyBundle struct {
	Summary    *Summary       `json:"summary,omitempty"`
	Quiz       *QuizSet       `json:"quiz,omitempty"`
	Flashcards *FlashcardDeck `json:"flashcards,omitempty"`
	Incomplete bool           `json:"incomplete,omitempty"`
}

// Options configures one pipeline run. Zero values fall back to the
// configured defaults.
type Options struct {
	QuizQuestions      int
	FlashcardsPerTopic int
}

// Run states, in pipeline order.
const (
	StateIdle        = "idle"
	StateExtracting  = "extracting"
	StateSummarizing = "summarizing"
	StateGenerating  = "generating" // quiz + cards in flight
	StateDone        = "done"
	StateFailed      = "failed"
)

// Stage names used in StageError and status reporting.
const (
	StageExtract    = "extract"
	StageSummary    = "summary"
	StageQuiz       = "quiz"
	StageFlashcards = "flashcards"
)

// RunStatus is the externally observable progress of a run.
type RunStatus struct {
	RunID       string    `json:"run_id"`
	State       string    `json:"state"`
	Progress    float64   `json:"progress"`
	Message     string    `json:"message,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}
