package pipeline

import (
	"errors"
	"fmt"
)

// Terminal error kinds surfaced by the pipeline. Model transport errors
// (ErrModelUnavailable, ErrModelRejected) live in internal/llm and pass
// through stages unchanged so failures stay attributable.
var (
	// ErrUnreadableDocument means the extractor could not yield text.
	ErrUnreadableDocument = errors.New("unreadable document")

	// ErrEmptyInput means a stage received empty text to work from.
	ErrEmptyInput = errors.New("empty input text")

	// ErrMalformedModelOutput means the model response could not be parsed
	// into the required structure even after the reformat retry.
	ErrMalformedModelOutput = errors.New("malformed model output")

	// ErrNoValidQuestions means no question block in the response survived
	// validation.
	ErrNoValidQuestions = errors.New("no valid questions in model output")
)

// StageError wraps a stage-terminal failure with the stage that produced it,
// so the caller can tell "model unreachable" from "model produced unusable
// output" from "source unreadable".
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// WrapStage attaches a stage name to err, unless err already carries one.
func WrapStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// FailedStage extracts the stage name from err, or "" if none is attached.
func FailedStage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
