package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studyforge/studyforge/config"
	"github.com/studyforge/studyforge/internal/llm"
	"github.com/studyforge/studyforge/internal/telemetry"
)

// Orchestrator sequences extraction and the three generation stages for one
// document and owns the retry/validation policy. Data flows strictly
// downstream; each stage gets a read-only copy of its input.
type Orchestrator struct {
	config    *config.Config
	logger    *log.Logger
	telemetry *telemetry.Telemetry
	provider  llm.Provider
	extractor Extractor

	// Processing state
	processing map[string]*RunStatus
	mu         sync.RWMutex

	// Concurrency control
	semaphore chan struct{}
}

// NewOrchestrator creates a new orchestrator instance.
func NewOrchestrator(cfg *config.Config, logger *log.Logger, tele *telemetry.Telemetry, provider llm.Provider, extractor Extractor) *Orchestrator {
	maxRuns := cfg.Pipeline.MaxConcurrentRuns
	if maxRuns <= 0 {
		maxRuns = 1
	}
	return &Orchestrator{
		config:     cfg,
		logger:     logger,
		telemetry:  tele,
		provider:   provider,
		extractor:  extractor,
		processing: make(map[string]*RunStatus),
		semaphore:  make(chan struct{}, maxRuns),
	}
}

// Status returns the live status of a run still in flight.
func (o *Orchestrator) Status(runID string) (RunStatus, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	status, ok := o.processing[runID]
	if !ok {
		return RunStatus{}, false
	}
	return *status, true
}

// Run processes one document into a StudyBundle under a fresh run ID.
func (o *Orchestrator) Run(ctx context.Context, doc Document, opts Options) (*StudyBundle, error) {
	return o.RunWithID(ctx, uuid.NewString(), doc, opts)
}

// RunWithID processes one document under a caller-chosen run ID. On a stage
// failure or cancellation it returns both the error and whatever partial
// bundle had already been computed, marked Incomplete; already-finished
// artifacts are never discarded. No cross-stage fallback is attempted: a
// failed quiz is never reconstructed from the summary, since stacking two
// lossy transformations would break traceability to the source text.
func (o *Orchestrator) RunWithID(ctx context.Context, runID string, doc Document, opts Options) (*StudyBundle, error) {
	startTime := time.Now()

	status := &RunStatus{
		RunID:       runID,
		State:       StateIdle,
		CreatedAt:   startTime,
		LastUpdated: startTime,
	}
	o.mu.Lock()
	o.processing[runID] = status
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.processing, runID)
		o.mu.Unlock()
	}()

	select {
	case o.semaphore <- struct{}{}:
		defer func() { <-o.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if o.config.General.MaxProcessingTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.General.MaxProcessingTime)
		defer cancel()
	}

	bundle := &StudyBundle{}
	var runErr error
	defer func() {
		event := telemetry.RunEvent{
			RunID:          runID,
			Source:         doc.Name,
			StartTime:      startTime,
			EndTime:        time.Now(),
			ProcessingTime: time.Since(startTime),
			Success:        runErr == nil,
		}
		if runErr != nil {
			event.FailedStage = FailedStage(runErr)
			event.Error = runErr.Error()
		}
		o.telemetry.RecordRunEvent(event)
	}()

	o.logger.Printf("starting run %s for document %q", runID, doc.Name)

	// Phase 1: extraction. A document that yields no text is a hard failure
	// before any model call is made.
	o.updateStatus(status, StateExtracting, 0.1, "extracting text")
	rawText, err := o.extractor.Extract(ctx, doc)
	if err != nil {
		runErr = WrapStage(StageExtract, err)
		o.updateStatus(status, StateFailed, 0.0, runErr.Error())
		return nil, runErr
	}
	if limit := o.config.Extract.MaxChars; limit > 0 {
		if runes := []rune(rawText); len(runes) > limit {
			rawText = string(runes[:limit])
		}
	}

	// Phase 2: summary. Everything downstream of the raw text reads it as
	// an immutable snapshot.
	o.updateStatus(status, StateSummarizing, 0.3, "generating summary")
	summaryStage := NewSummaryStage(o.provider, o.telemetry, o.logger)
	summary, err := summaryStage.Run(ctx, rawText)
	if err != nil {
		runErr = WrapStage(StageSummary, err)
		o.updateStatus(status, StateFailed, 0.0, runErr.Error())
		return nil, runErr
	}
	bundle.Summary = summary

	if ctx.Err() != nil {
		bundle.Incomplete = true
		runErr = ctx.Err()
		return bundle, runErr
	}

	// Phase 3: quiz and flashcards. The quiz reads the raw text and the
	// cards read the summary, so neither depends on the other and they run
	// concurrently.
	o.updateStatus(status, StateGenerating, 0.6, "generating quiz and flashcards")

	questions := opts.QuizQuestions
	if questions == 0 {
		questions = o.config.Pipeline.QuizQuestions
	}
	questions = config.ClampQuizQuestions(questions)
	perTopic := opts.FlashcardsPerTopic
	if perTopic == 0 {
		perTopic = o.config.Pipeline.FlashcardsPerTopic
	}
	perTopic = config.ClampFlashcardsPerTopic(perTopic)

	var (
		wg       sync.WaitGroup
		quizErr  error
		cardsErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		quizStage := NewQuizStage(o.provider, o.telemetry, o.logger, questions)
		set, err := quizStage.Run(ctx, rawText)
		if err != nil {
			quizErr = WrapStage(StageQuiz, err)
			return
		}
		bundle.Quiz = set
	}()
	go func() {
		defer wg.Done()
		cardStage := NewFlashcardStage(o.provider, o.telemetry, o.logger, perTopic)
		deck, err := cardStage.Run(ctx, summary)
		if err != nil {
			cardsErr = WrapStage(StageFlashcards, err)
			return
		}
		bundle.Flashcards = deck
	}()
	wg.Wait()

	if quizErr != nil {
		runErr = quizErr
	} else if cardsErr != nil {
		runErr = cardsErr
	}
	if runErr != nil {
		bundle.Incomplete = true
		o.updateStatus(status, StateFailed, 0.0, runErr.Error())
		o.logger.Printf("run %s failed: %v", runID, runErr)
		return bundle, runErr
	}

	o.updateStatus(status, StateDone, 1.0, "completed")
	o.logger.Printf("run %s completed in %s", runID, time.Since(startTime))
	return bundle, nil
}

func (o *Orchestrator) updateStatus(status *RunStatus, state string, progress float64, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	status.State = state
	status.Progress = progress
	status.Message = message
	status.LastUpdated = time.Now()
}
