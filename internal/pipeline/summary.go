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

// summaryPrompt embeds the delimiter protocol the parser depends on. The
// format is fixed; parsing never falls back to natural-language heuristics.
const summaryPrompt = `Summarize the study text below concisely and clearly.
Preserve only factual content that is stated in the text; never add facts of
your own. Segment the summary by topic or chapter.

Output format, follow it exactly:
- Each topic starts on its own line with a heading: ## <topic title>
- Plain prose lines under a heading form that topic's body.
- Mark each key term, formula or definition on its own line inside its topic,
  formatted exactly: * <term> :: <short definition>
Do not output anything outside this format.

TEXT:
%s`

const summaryReformatPrompt = `Your previous answer could not be parsed.
Reformat strictly: every topic MUST begin with a line starting "## " followed
by the title, body prose MUST follow on subsequent lines, and every key term
MUST be a line starting "* " with the term and definition separated by " :: ".
No preamble, no code fences, no other markers.

TEXT:
%s`

// SummaryStage turns raw extracted text into a topic-segmented Summary.
type SummaryStage struct {
	provider  llm.Provider
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewSummaryStage creates the summary stage.
func NewSummaryStage(provider llm.Provider, tele *telemetry.Telemetry, logger *log.Logger) *SummaryStage {
	return &SummaryStage{provider: provider, telemetry: tele, logger: logger}
}

// Run generates and parses the summary. The stage retries once with a
// stricter reformatting instruction if the first response yields no valid
// section, then fails with ErrMalformedModelOutput.
func (s *SummaryStage) Run(ctx context.Context, rawText string) (*Summary, error) {
	if strings.TrimSpace(rawText) == "" {
		return nil, ErrEmptyInput
	}

	start := time.Now()
	dropped := 0
	defer func() {
		s.telemetry.RecordStageEvent(telemetry.StageEvent{
			Stage:    StageSummary,
			Duration: time.Since(start),
			Dropped:  dropped,
		})
	}()

	raw, err := s.complete(ctx, fmt.Sprintf(summaryPrompt, rawText))
	if err != nil {
		return nil, err
	}

	summary, skipped := parseSummary(raw)
	dropped += skipped
	if len(summary.Sections) == 0 {
		s.logger.Printf("[SUMMARY] unparsable response, retrying with reformat instruction")
		raw, err = s.complete(ctx, fmt.Sprintf(summaryReformatPrompt, rawText))
		if err != nil {
			return nil, err
		}
		summary, skipped = parseSummary(raw)
		dropped += skipped
		if len(summary.Sections) == 0 {
			return nil, fmt.Errorf("%w: no sections recognized after retry", ErrMalformedModelOutput)
		}
	}

	dropped += s.groundTerms(summary, rawText)
	return summary, nil
}

func (s *SummaryStage) complete(ctx context.Context, prompt string) (string, error) {
	model := s.provider.ModelFor(StageSummary)
	raw, in, out, err := s.provider.CompleteWithTokens(ctx, prompt, llm.Options{Model: model})
	if err != nil {
		return "", err
	}
	s.telemetry.RecordLLMUsage(model, in, out, s.provider.CalculateCost(in, out, model))
	return raw, nil
}

// groundTerms drops highlighted terms that do not occur in the source text.
// Generated content must stay traceable to the input; a term the model
// invented is removed with a warning rather than shipped.
func (s *SummaryStage) groundTerms(summary *Summary, rawText string) int {
	haystack := strings.ToLower(rawText)
	dropped := 0
	for i := range summary.Sections {
		sec := &summary.Sections[i]
		kept := sec.TermOrder[:0]
		for _, term := range sec.TermOrder {
			if strings.Contains(haystack, strings.ToLower(term)) {
				kept = append(kept, term)
				continue
			}
			delete(sec.Terms, term)
			dropped++
			s.logger.Printf("[SUMMARY] dropping term %q: not found in source text", term)
		}
		sec.TermOrder = kept
		if len(sec.Terms) == 0 {
			sec.Terms = nil
			sec.TermOrder = nil
		}
	}
	return dropped
}

// parseSummary recognizes the fixed section protocol: "## " heading lines
// open a section, "* term :: definition" lines mark highlighted terms, all
// other non-empty lines belong to the current section body. Sections with an
// empty title or an empty body are skipped and counted.
func parseSummary(raw string) (*Summary, int) {
	var (
		summary Summary
		current *SummarySection
		body    strings.Builder
		skipped int
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Body = strings.TrimSpace(body.String())
		body.Reset()
		if current.Title == "" || current.Body == "" {
			skipped++
		} else {
			summary.Sections = append(summary.Sections, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "## "):
			flush()
			current = &SummarySection{Title: strings.TrimSpace(strings.TrimPrefix(line, "## "))}
		case strings.HasPrefix(line, "* ") && strings.Contains(line, " :: "):
			if current == nil {
				continue
			}
			term, def, _ := strings.Cut(strings.TrimPrefix(line, "* "), " :: ")
			term = strings.TrimSpace(term)
			def = strings.TrimSpace(def)
			if term == "" || def == "" {
				skipped++
				continue
			}
			if current.Terms == nil {
				current.Terms = make(map[string]string)
			}
			if _, ok := current.Terms[term]; !ok {
				current.TermOrder = append(current.TermOrder, term)
			}
			current.Terms[term] = def
		case line != "":
			if current == nil {
				continue
			}
			if body.Len() > 0 {
				body.WriteByte('\n')
			}
			body.WriteString(line)
		}
	}
	flush()

	return &summary, skipped
}
