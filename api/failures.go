package api

import (
	"errors"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// FailureDetails is the serializable description of an error raised by an orchestration or
// an activity. Classified errors from go-errors keep their text code, category and metadata.
type FailureDetails struct {
	ErrorType      string          `json:"errorType"`
	ErrorMessage   string          `json:"errorMessage"`
	StackTrace     string          `json:"stackTrace,omitempty"`
	TextCode       string          `json:"textCode,omitempty"`
	Category       string          `json:"category,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	IsNonRetriable bool            `json:"isNonRetriable,omitempty"`
	InnerFailure   *FailureDetails `json:"innerFailure,omitempty"`
}

// NewFailureDetails captures err. The outermost error type is recorded as ErrorType and the
// first wrapped cause, if any, becomes InnerFailure.
func NewFailureDetails(err error) *FailureDetails {
	if err == nil {
		return nil
	}
	if tfe, ok := err.(*TaskFailedError); ok && tfe.Details != nil {
		return tfe.Details
	}

	fd := &FailureDetails{
		ErrorType:    fmt.Sprintf("%T", err),
		ErrorMessage: err.Error(),
	}
	var ge *goerrors.Error
	if errors.As(err, &ge) {
		fd.TextCode = ge.TextCode
		fd.Category = fmt.Sprint(ge.Category)
		if len(ge.Metadata) > 0 {
			fd.Metadata = make(map[string]any, len(ge.Metadata))
			for k, v := range ge.Metadata {
				fd.Metadata[k] = v
			}
		}
		if ge.Source != nil {
			fd.InnerFailure = NewFailureDetails(ge.Source)
		}
	} else if inner := errors.Unwrap(err); inner != nil {
		fd.InnerFailure = NewFailureDetails(inner)
	}
	return fd
}

// Error renders the details as "<type>: <message>".
func (fd *FailureDetails) Error() string {
	if fd == nil {
		return "<nil>"
	}
	if fd.ErrorType == "" {
		return fd.ErrorMessage
	}
	return fd.ErrorType + ": " + fd.ErrorMessage
}

// TaskFailedError is returned from awaiting a task whose activity failed.
type TaskFailedError struct {
	TaskName string
	Details  *FailureDetails
}

func (e *TaskFailedError) Error() string {
	var sb strings.Builder
	sb.WriteString("task")
	if e.TaskName != "" {
		sb.WriteString(" '")
		sb.WriteString(e.TaskName)
		sb.WriteString("'")
	}
	sb.WriteString(" failed")
	if e.Details != nil {
		sb.WriteString(" with an error: ")
		sb.WriteString(e.Details.ErrorMessage)
	}
	return sb.String()
}

// TextCode returns the classification code of the underlying failure, if any.
func (e *TaskFailedError) TextCode() string {
	if e.Details == nil {
		return ""
	}
	return e.Details.TextCode
}
