package binding

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeInstanceNotFound   = "INSTANCE_NOT_FOUND"
	ErrCodeInstanceIDRequired = "INSTANCE_ID_REQUIRED"
	ErrCodeEventNameRequired  = "EVENT_NAME_REQUIRED"
	ErrCodeInputMismatch      = "ACTIVITY_INPUT_MISMATCH"
	ErrCodeClientUnavailable  = "CLIENT_UNAVAILABLE"
)

var (
	ErrInstanceNotFound = apperrors.New("instance not found", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeInstanceNotFound)
	ErrInstanceIDRequired = apperrors.New("instance id is required", apperrors.CategoryValidation).
				WithTextCode(ErrCodeInstanceIDRequired)
	ErrEventNameRequired = apperrors.New("event name is required", apperrors.CategoryValidation).
				WithTextCode(ErrCodeEventNameRequired)
	ErrInputMismatch = apperrors.New("activity input does not match the expected parameters", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeInputMismatch)
	ErrClientUnavailable = apperrors.New("orchestration client unavailable", apperrors.CategoryExternal).
				WithTextCode(ErrCodeClientUnavailable)
)

func newError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode returns the text code of a classified binding error, or "".
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

func IsInstanceNotFound(err error) bool {
	return ErrorCode(err) == ErrCodeInstanceNotFound
}
