package core

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorStageRecoverable = "MAILFLOW_STAGE_RECOVERABLE"
	ErrorStageFatal       = "MAILFLOW_STAGE_FATAL"
	ErrorProgramming      = "MAILFLOW_PROGRAMMING"
	ErrorMaxRetries       = "MAILFLOW_MAX_RETRIES"
	ErrorBadInput         = "MAILFLOW_BAD_INPUT"
	ErrorInternal         = "MAILFLOW_INTERNAL_ERROR"
)

type FailureClass int

const (
	FailureRecoverable FailureClass = iota
	FailureFatal
	FailureProgramming
)

func (c FailureClass) String() string {
	switch c {
	case FailureFatal:
		return "fatal"
	case FailureProgramming:
		return "programming"
	default:
		return "recoverable"
	}
}

// RecoverableStageError marks a transient remote failure. The job is retried
// per its policy.
func RecoverableStageError(stage string, cause error) error {
	return stageError(
		cause,
		goerrors.CategoryExternal,
		fmt.Sprintf("%s: remote call failed", stageLabel(stage)),
		http.StatusBadGateway,
		ErrorStageRecoverable,
		map[string]any{"stage": stageLabel(stage)},
	)
}

// FatalStageError marks a business-rule failure. The job is dropped without
// further attempts.
func FatalStageError(stage string, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "stage failed"
	}
	return stageError(
		nil,
		goerrors.CategoryOperation,
		fmt.Sprintf("%s: %s", stageLabel(stage), message),
		http.StatusUnprocessableEntity,
		ErrorStageFatal,
		map[string]any{"stage": stageLabel(stage)},
	)
}

// ProgrammingError wraps a value recovered from a panicking job.
func ProgrammingError(stage string, recovered any) error {
	var cause error
	switch value := recovered.(type) {
	case error:
		cause = value
	case nil:
	default:
		cause = fmt.Errorf("%v", value)
	}
	return stageError(
		cause,
		goerrors.CategoryInternal,
		fmt.Sprintf("%s: programming fault", stageLabel(stage)),
		http.StatusInternalServerError,
		ErrorProgramming,
		map[string]any{"stage": stageLabel(stage)},
	)
}

func exhaustedError(job *Job, cause error) error {
	return stageError(
		cause,
		goerrors.CategoryOperation,
		fmt.Sprintf("%s: retries exhausted after %d attempts", stageLabel(job.Name()), job.Attempts()),
		http.StatusServiceUnavailable,
		ErrorMaxRetries,
		map[string]any{
			"stage":       stageLabel(job.Name()),
			"job_id":      job.ID(),
			"attempts":    job.Attempts(),
			"max_retries": job.MaxRetries(),
		},
	)
}

// ClassifyFailure maps an action error onto the failure taxonomy. Errors
// without a mailflow text code are recoverable.
func ClassifyFailure(err error) FailureClass {
	if err == nil {
		return FailureRecoverable
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return FailureRecoverable
	}
	switch richErr.TextCode {
	case ErrorStageFatal:
		return FailureFatal
	case ErrorProgramming:
		return FailureProgramming
	default:
		return FailureRecoverable
	}
}

func IsFatal(err error) bool {
	return ClassifyFailure(err) == FailureFatal
}

// TextCode returns the mailflow text code carried by err, if any.
func TextCode(err error) string {
	var richErr *goerrors.Error
	if err == nil || !goerrors.As(err, &richErr) {
		return ""
	}
	return richErr.TextCode
}

func BadInputError(message string, metadata map[string]any) error {
	return stageError(nil, goerrors.CategoryBadInput, message, http.StatusBadRequest, ErrorBadInput, metadata)
}

func InternalError(message string, metadata map[string]any) error {
	return stageError(nil, goerrors.CategoryInternal, message, http.StatusInternalServerError, ErrorInternal, metadata)
}

func stageError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, category)
	} else {
		err = goerrors.Wrap(source, category, message)
	}
	err = err.WithCode(code).WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func stageLabel(stage string) string {
	stage = strings.TrimSpace(stage)
	if stage == "" {
		return "job"
	}
	return stage
}
