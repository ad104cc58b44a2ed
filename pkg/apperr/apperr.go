package apperr

import (
	"errors"
	"fmt"
)

const (
	MetaReason   = "reason"
	MetaStage    = "stage"
	MetaField    = "field"
	MetaAction   = "action"
	MetaSelector = "selector"
	MetaRef      = "ref"
	MetaURL      = "url"
	MetaProvider = "provider"

	StageBrowser     = "browser"
	StageSnapshot    = "snapshot"
	StagePlanner     = "planner"
	StageAI          = "ai"
	StageExecution   = "execution"
	StageNavigation  = "navigation"
	StageInteraction = "interaction"

	CodeInternal          = "internal"
	CodeInvalidArgument   = "invalid_argument"
	CodeNotFound          = "not_found"
	CodeUnavailable       = "unavailable"
	CodeTimeout           = "timeout"
	CodeMaxIterations     = "max_iterations"
	CodeCancelled         = "cancelled"
	CodeBrowserNotReady   = "browser_not_ready"
	CodeActionFailed      = "action_failed"
	CodeAIError           = "ai_error"
	CodeMalformedResponse = "malformed_response"
	CodeSnapshotFailed    = "snapshot_failed"
)

type Error struct {
	Op       string
	Code     string
	Err      error
	Metadata map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return e.Op
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Wrap(op, code string, err error, metadata map[string]any) error {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &Error{
		Op:       op,
		Code:     code,
		Err:      err,
		Metadata: metadata,
	}
}

func WrapWithReason(op, code string, err error, reason string) error {
	return Wrap(op, code, err, map[string]any{
		MetaReason: reason,
	})
}

func WrapErrorWithReason(op, code, reason string) error {
	return Wrap(op, code, errors.New(reason), map[string]any{
		MetaReason: reason,
	})
}

func InvalidReqError(op, field string, err error) error {
	return Wrap(op, CodeInvalidArgument, err, map[string]any{
		MetaField:  field,
		MetaReason: "invalid_request",
	})
}

func NotFoundError(op string, err error) error {
	return Wrap(op, CodeNotFound, err, map[string]any{
		MetaReason: "not_found",
	})
}

// CodeOf returns the code of the outermost *Error that carries a more specific
// code than internal, or CodeInternal when none does.
func CodeOf(err error) string {
	code := ""

	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			break
		}

		if e.Code != "" && e.Code != CodeInternal {
			return e.Code
		}

		if code == "" {
			code = e.Code
		}

		err = e.Err
	}

	if code == "" {
		return CodeInternal
	}

	return code
}

// Reason returns the innermost reason recorded in metadata, if any.
func Reason(err error) string {
	reason := ""

	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			break
		}

		if r, ok := e.Metadata[MetaReason].(string); ok && r != "" {
			reason = r
		}

		err = e.Err
	}

	return reason
}
